package market

import (
	"testing"
	"time"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

func tick(symbol string, ltp string, at time.Time) models.InstrumentTick {
	return models.InstrumentTick{
		Symbol:    symbol,
		LTP:       fixed.MustParse(ltp),
		Timestamp: at,
	}
}

func TestState_UpdateAndLookup(t *testing.T) {
	s := NewState(0)
	now := time.Now()

	s.Update(tick("NIFTY24SEP24500CE", "120.50", now))

	got, ok := s.Lookup("NIFTY24SEP24500CE")
	if !ok {
		t.Fatal("expected tick")
	}
	if !got.LTP.Eq(fixed.MustParse("120.50")) {
		t.Errorf("LTP = %s", got.LTP)
	}

	if _, ok := s.Lookup("UNKNOWN"); ok {
		t.Error("lookup of unknown symbol should miss")
	}
}

func TestState_DropsOutOfOrderTick(t *testing.T) {
	s := NewState(0)
	now := time.Now()

	s.Update(tick("SYM", "100", now))
	s.Update(tick("SYM", "99", now.Add(-time.Second)))

	got, _ := s.Lookup("SYM")
	if !got.LTP.Eq(fixed.FromInt(100)) {
		t.Errorf("stale tick overwrote fresh one: LTP = %s", got.LTP)
	}
}

func TestState_Freshness(t *testing.T) {
	s := NewState(5 * time.Second)
	now := time.Now()

	s.Update(tick("SYM", "100", now))

	if _, ok := s.Fresh("SYM", now.Add(2*time.Second)); !ok {
		t.Error("tick within staleness bound should be fresh")
	}
	if _, ok := s.Fresh("SYM", now.Add(10*time.Second)); ok {
		t.Error("tick beyond staleness bound should be refused")
	}
}

func TestState_SpotFromSpotTick(t *testing.T) {
	s := NewState(0)
	s.Update(models.InstrumentTick{
		Symbol:     "NIFTY 50",
		Underlying: models.Nifty,
		Type:       models.InstrumentSpot,
		LTP:        fixed.MustParse("24350.75"),
		Timestamp:  time.Now(),
	})

	spot, ok := s.Spot(models.Nifty)
	if !ok {
		t.Fatal("expected spot")
	}
	if !spot.Eq(fixed.MustParse("24350.75")) {
		t.Errorf("spot = %s", spot)
	}
}

func TestSpotTracker_VelocityAndDirection(t *testing.T) {
	tracker := NewSpotTracker(10, time.Second)
	start := time.Now()

	tracker.Update(models.Nifty, fixed.FromInt(24000), start)
	tracker.Update(models.Nifty, fixed.FromInt(24010), start.Add(time.Minute))

	mv, ok := tracker.Movement(models.Nifty)
	if !ok {
		t.Fatal("expected movement")
	}
	if !mv.Velocity.Eq(fixed.FromInt(10)) {
		t.Errorf("velocity = %s, want 10 points/min", mv.Velocity)
	}
	if mv.Direction != models.DirectionUp {
		t.Errorf("direction = %s", mv.Direction)
	}
}

func TestSpotTracker_CadenceGate(t *testing.T) {
	tracker := NewSpotTracker(10, time.Second)
	start := time.Now()

	tracker.Update(models.Nifty, fixed.FromInt(24000), start)
	// Inside the cadence window: current price refreshes, velocity does not.
	tracker.Update(models.Nifty, fixed.FromInt(25000), start.Add(100*time.Millisecond))

	mv, _ := tracker.Movement(models.Nifty)
	if !mv.Velocity.IsZero() {
		t.Errorf("velocity recomputed inside cadence window: %s", mv.Velocity)
	}
	if !mv.Current.Eq(fixed.FromInt(25000)) {
		t.Errorf("current price not refreshed: %s", mv.Current)
	}
}

func TestSpotTracker_WindowBounded(t *testing.T) {
	tracker := NewSpotTracker(3, time.Second)
	start := time.Now()
	for i := 0; i < 20; i++ {
		tracker.Update(models.Nifty, fixed.FromInt(24000+i), start.Add(time.Duration(i)*2*time.Second))
	}
	if n := len(tracker.samples[models.Nifty]); n != 3 {
		t.Errorf("window size = %d, want 3", n)
	}
}

func TestRegimeFor(t *testing.T) {
	tests := []struct {
		velocity string
		want     VelocityRegime
	}{
		{"0.5", VelocityLow},
		{"-1.9", VelocityLow},
		{"2", VelocityMedium},
		{"-4.9", VelocityMedium},
		{"5", VelocityHigh},
		{"9.99", VelocityHigh},
		{"10", VelocityExtreme},
		{"-50", VelocityExtreme},
	}
	for _, tt := range tests {
		if got := RegimeFor(fixed.MustParse(tt.velocity)); got != tt.want {
			t.Errorf("RegimeFor(%s) = %s, want %s", tt.velocity, got, tt.want)
		}
	}
}
