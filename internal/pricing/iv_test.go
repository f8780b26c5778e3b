package pricing

import (
	"testing"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

func TestCalculateIV_Sentinels(t *testing.T) {
	p := Params{
		Spot:         fixed.FromInt(24000),
		Strike:       fixed.FromInt(24000),
		TimeToExpiry: fixed.MustParse("0.0274"),
		Rate:         fixed.MustParse("0.065"),
		Type:         models.InstrumentCE,
	}

	t.Run("non-positive price", func(t *testing.T) {
		if got := CalculateIV(fixed.Zero, p); !got.IsZero() {
			t.Errorf("IV for zero price = %s, want 0", got)
		}
		if got := CalculateIV(fixed.NegOne, p); !got.IsZero() {
			t.Errorf("IV for negative price = %s, want 0", got)
		}
	})

	t.Run("price below intrinsic", func(t *testing.T) {
		itm := p
		itm.Spot = fixed.FromInt(25000) // intrinsic 1000
		if got := CalculateIV(fixed.FromInt(500), itm); !got.Eq(IVMax) {
			t.Errorf("IV below intrinsic = %s, want IVMax sentinel", got)
		}
	})

	t.Run("price above theoretical max", func(t *testing.T) {
		if got := CalculateIV(fixed.FromInt(25000), p); !got.Eq(IVMax) {
			t.Errorf("call IV above spot = %s, want IVMax sentinel", got)
		}

		put := p
		put.Type = models.InstrumentPE
		if got := CalculateIV(fixed.FromInt(25000), put); !got.Eq(IVMax) {
			t.Errorf("put IV above strike = %s, want IVMax sentinel", got)
		}
	})

	t.Run("expired", func(t *testing.T) {
		exp := p
		exp.TimeToExpiry = fixed.Zero
		if got := CalculateIV(fixed.FromInt(100), exp); !got.IsZero() {
			t.Errorf("IV at expiry = %s, want 0", got)
		}
	})
}

func TestCalculateIV_RecoversKnownVol(t *testing.T) {
	for _, vol := range []string{"0.10", "0.15", "0.25", "0.40"} {
		p := Params{
			Spot:         fixed.FromInt(24000),
			Strike:       fixed.FromInt(24100),
			TimeToExpiry: fixed.MustParse("0.05"),
			Rate:         fixed.MustParse("0.065"),
			Volatility:   fixed.MustParse(vol),
			Type:         models.InstrumentPE,
		}
		price := CalculateOptionPrice(p)

		solved := CalculateIV(price, p)
		diff := solved.Sub(fixed.MustParse(vol)).Abs()
		if diff.Gt(fixed.MustParse("0.005")) {
			t.Errorf("vol %s: solved %s, diff %s", vol, solved, diff)
		}
	}
}

func TestBisectIV_ConvergesWhereNewtonStalls(t *testing.T) {
	// Deep OTM with near-zero vega: Newton's step is undefined and the
	// solver must still return a bounded estimate.
	p := Params{
		Spot:         fixed.FromInt(24000),
		Strike:       fixed.FromInt(29000),
		TimeToExpiry: fixed.MustParse("0.004"),
		Rate:         fixed.MustParse("0.065"),
		Type:         models.InstrumentCE,
	}
	got := CalculateIV(fixed.MustParse("0.05"), p)
	if got.Lt(IVMin) || got.Gt(IVMax) {
		t.Errorf("IV out of bounds: %s", got)
	}
}
