package market

import (
	"sync"
	"time"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// VelocityRegime tiers spot velocity. The thresholds are shared by the
// slippage model and the seller-pain model so both react to the same move.
type VelocityRegime int

const (
	VelocityLow VelocityRegime = iota
	VelocityMedium
	VelocityHigh
	VelocityExtreme
)

// Velocity tier thresholds, in index points per minute.
var (
	velocityMedium  = fixed.FromInt(2)
	velocityHigh    = fixed.FromInt(5)
	velocityExtreme = fixed.FromInt(10)
)

// RegimeFor classifies an absolute velocity into a tier.
func RegimeFor(velocity fixed.Point) VelocityRegime {
	v := velocity.Abs()
	switch {
	case v.Gte(velocityExtreme):
		return VelocityExtreme
	case v.Gte(velocityHigh):
		return VelocityHigh
	case v.Gte(velocityMedium):
		return VelocityMedium
	default:
		return VelocityLow
	}
}

func (r VelocityRegime) String() string {
	switch r {
	case VelocityExtreme:
		return "EXTREME"
	case VelocityHigh:
		return "HIGH"
	case VelocityMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// Movement is the derived spot-movement state for one underlying.
type Movement struct {
	Current      fixed.Point
	Previous     fixed.Point
	Velocity     fixed.Point // points per minute
	Acceleration fixed.Point // change in velocity per sample
	Direction    models.MoveDirection
	SampledAt    time.Time
}

// Regime returns the velocity tier of this movement.
func (m Movement) Regime() VelocityRegime {
	return RegimeFor(m.Velocity)
}

type sample struct {
	price fixed.Point
	at    time.Time
}

// SpotTracker maintains a bounded rolling sample window per underlying and
// derives velocity, acceleration and direction. Velocity is recomputed only
// at the sampling cadence; intermediate updates refresh the current price.
type SpotTracker struct {
	mu       sync.RWMutex
	window   int
	cadence  time.Duration
	samples  map[models.Underlying][]sample
	movement map[models.Underlying]Movement
}

// NewSpotTracker creates a tracker with the given window size and sampling
// cadence.
func NewSpotTracker(window int, cadence time.Duration) *SpotTracker {
	if window < 2 {
		window = 2
	}
	return &SpotTracker{
		window:   window,
		cadence:  cadence,
		samples:  make(map[models.Underlying][]sample),
		movement: make(map[models.Underlying]Movement),
	}
}

// Update feeds a spot price observation. A new sample is recorded only when
// the cadence has elapsed since the previous sample.
func (t *SpotTracker) Update(underlying models.Underlying, price fixed.Point, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	window := t.samples[underlying]
	mv := t.movement[underlying]
	mv.Current = price

	if len(window) > 0 && now.Sub(window[len(window)-1].at) < t.cadence {
		t.movement[underlying] = mv
		return
	}

	window = append(window, sample{price: price, at: now})
	if len(window) > t.window {
		window = window[len(window)-t.window:]
	}
	t.samples[underlying] = window

	if len(window) < 2 {
		mv.Direction = models.DirectionFlat
		mv.SampledAt = now
		t.movement[underlying] = mv
		return
	}

	prev := window[len(window)-2]
	elapsed := now.Sub(prev.at)
	if elapsed <= 0 {
		elapsed = t.cadence
	}

	prevVelocity := mv.Velocity
	diff := price.Sub(prev.price)
	perMinute := fixed.FromFloat64(elapsed.Minutes())
	mv.Previous = prev.price
	mv.Velocity = diff.Div(perMinute)
	mv.Acceleration = mv.Velocity.Sub(prevVelocity)
	mv.SampledAt = now

	switch {
	case diff.IsPos():
		mv.Direction = models.DirectionUp
	case diff.IsNeg():
		mv.Direction = models.DirectionDown
	default:
		mv.Direction = models.DirectionFlat
	}

	t.movement[underlying] = mv
}

// Movement returns the latest derived movement for an underlying.
func (t *SpotTracker) Movement(underlying models.Underlying) (Movement, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	mv, ok := t.movement[underlying]
	return mv, ok
}
