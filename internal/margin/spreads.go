package margin

import (
	"time"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

var (
	// definedRiskCapMult caps a defined-risk spread's margin at a haircut
	// over its max loss.
	definedRiskCapMult = fixed.MustParse("1.10")
	// undefinedRiskReduction is the flat benefit for recognized
	// undefined-risk structures (straddle, strangle).
	undefinedRiskReduction = fixed.MustParse("0.85")
)

// AnalyzeSpread scans the portfolio for a recognized multi-leg structure.
// Legs are grouped by underlying and expiry; within a group a short
// call/put pair with protective long wings on both sides is an iron fly or
// condor, without wings a straddle or strangle, and failing that a
// two-leg vertical is looked for. Only the first qualifying group is
// granted benefit per scan; benefits are never composed across groups.
func (e *Engine) AnalyzeSpread(legs []Leg) models.SpreadAnalysis {
	for _, group := range groupLegs(legs) {
		if analysis, ok := e.analyzeGroup(group); ok {
			return analysis
		}
	}
	return models.SpreadAnalysis{Type: models.SpreadNone}
}

// PortfolioMargin margins all legs, applying the spread benefit of the
// first recognized structure. Legs outside the structure pay full margin.
func (e *Engine) PortfolioMargin(legs []Leg) (fixed.Point, models.SpreadAnalysis) {
	analysis := e.AnalyzeSpread(legs)
	if analysis.Type == models.SpreadNone {
		return e.CalculateAll(legs), analysis
	}

	inSpread := make(map[string]bool, len(analysis.PositionIDs))
	for _, id := range analysis.PositionIDs {
		inSpread[id] = true
	}

	total := analysis.BenefitMargin
	for _, leg := range legs {
		if !inSpread[leg.PositionID] {
			total = total.Add(e.Calculate(leg).NetMargin)
		}
	}
	return total, analysis
}

type legGroup struct {
	underlying models.Underlying
	expiry     time.Time
	legs       []Leg
}

// groupLegs buckets legs by (underlying, expiry) preserving first-seen
// order, so the scan is deterministic.
func groupLegs(legs []Leg) []legGroup {
	var groups []legGroup
	index := make(map[string]int)
	for _, leg := range legs {
		key := string(leg.Underlying) + leg.Expiry.Format("20060102")
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, legGroup{underlying: leg.Underlying, expiry: leg.Expiry})
		}
		groups[i].legs = append(groups[i].legs, leg)
	}
	return groups
}

func (e *Engine) analyzeGroup(group legGroup) (models.SpreadAnalysis, bool) {
	var shortCalls, shortPuts, longCalls, longPuts []Leg
	for _, leg := range group.legs {
		switch {
		case leg.Type == models.InstrumentCE && leg.Side == models.PositionShort:
			shortCalls = append(shortCalls, leg)
		case leg.Type == models.InstrumentPE && leg.Side == models.PositionShort:
			shortPuts = append(shortPuts, leg)
		case leg.Type == models.InstrumentCE && leg.Side == models.PositionLong:
			longCalls = append(longCalls, leg)
		case leg.Type == models.InstrumentPE && leg.Side == models.PositionLong:
			longPuts = append(longPuts, leg)
		}
	}

	if len(shortCalls) > 0 && len(shortPuts) > 0 {
		sc, sp := shortCalls[0], shortPuts[0]

		if lc, lp, ok := findWings(sc, sp, longCalls, longPuts); ok {
			spreadType := models.SpreadIronCondor
			if sc.Strike.Eq(sp.Strike) {
				spreadType = models.SpreadIronFly
			}
			return e.definedRisk(group, spreadType, ironMaxLoss(sc, sp, lc, lp), sc, sp, lc, lp), true
		}

		spreadType := models.SpreadStrangle
		if sc.Strike.Eq(sp.Strike) {
			spreadType = models.SpreadStraddle
		}
		return e.undefinedRisk(group, spreadType, sc, sp), true
	}

	if a, b, ok := findVertical(group.legs); ok {
		width := a.Strike.Sub(b.Strike).Abs()
		maxLoss := width.MulInt64(a.Quantity)
		return e.definedRisk(group, models.SpreadVertical, maxLoss, a, b), true
	}

	return models.SpreadAnalysis{}, false
}

// findWings looks for long options bracketing the short strikes with
// matching quantity: a long call above the short call and a long put below
// the short put.
func findWings(sc, sp Leg, longCalls, longPuts []Leg) (Leg, Leg, bool) {
	for _, lc := range longCalls {
		if !lc.Strike.Gt(sc.Strike) || lc.Quantity != sc.Quantity {
			continue
		}
		for _, lp := range longPuts {
			if lp.Strike.Lt(sp.Strike) && lp.Quantity == sp.Quantity {
				return lc, lp, true
			}
		}
	}
	return Leg{}, Leg{}, false
}

// findVertical looks for two same-type legs on opposite sides with equal
// quantity.
func findVertical(legs []Leg) (Leg, Leg, bool) {
	for i, a := range legs {
		if !a.Type.IsOption() {
			continue
		}
		for _, b := range legs[i+1:] {
			if b.Type == a.Type && b.Side != a.Side && b.Quantity == a.Quantity && !b.Strike.Eq(a.Strike) {
				return a, b, true
			}
		}
	}
	return Leg{}, Leg{}, false
}

// ironMaxLoss is the wider wing width times quantity; the structure cannot
// lose more than that before premium.
func ironMaxLoss(sc, sp, lc, lp Leg) fixed.Point {
	callWidth := lc.Strike.Sub(sc.Strike)
	putWidth := sp.Strike.Sub(lp.Strike)
	return fixed.Max(callWidth, putWidth).MulInt64(sc.Quantity)
}

func (e *Engine) definedRisk(group legGroup, spreadType models.SpreadType, maxLoss fixed.Point, legs ...Leg) models.SpreadAnalysis {
	legSum := e.legMarginSum(legs)
	capped := maxLoss.Mul(definedRiskCapMult)
	return models.SpreadAnalysis{
		Type:          spreadType,
		Underlying:    group.underlying,
		Expiry:        group.expiry,
		PositionIDs:   positionIDs(legs),
		MaxLoss:       maxLoss,
		DefinedRisk:   true,
		LegMarginSum:  legSum,
		BenefitMargin: fixed.Min(legSum, capped),
	}
}

func (e *Engine) undefinedRisk(group legGroup, spreadType models.SpreadType, legs ...Leg) models.SpreadAnalysis {
	legSum := e.legMarginSum(legs)
	return models.SpreadAnalysis{
		Type:          spreadType,
		Underlying:    group.underlying,
		Expiry:        group.expiry,
		PositionIDs:   positionIDs(legs),
		DefinedRisk:   false,
		LegMarginSum:  legSum,
		BenefitMargin: legSum.Mul(undefinedRiskReduction),
	}
}

func (e *Engine) legMarginSum(legs []Leg) fixed.Point {
	sum := fixed.Zero
	for _, leg := range legs {
		sum = sum.Add(e.Calculate(leg).NetMargin)
	}
	return sum
}

func positionIDs(legs []Leg) []string {
	ids := make([]string, 0, len(legs))
	for _, leg := range legs {
		ids = append(ids, leg.PositionID)
	}
	return ids
}
