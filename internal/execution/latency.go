package execution

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"paper-trader/internal/market"
)

// LatencyDistribution selects the sampling shape for simulated delays.
type LatencyDistribution string

const (
	LatencyUniform     LatencyDistribution = "uniform"
	LatencyNormal      LatencyDistribution = "normal"
	LatencyExponential LatencyDistribution = "exponential"
)

// LatencyConfig bounds the simulated execution delay.
type LatencyConfig struct {
	Distribution LatencyDistribution
	MinMs        int64
	MaxMs        int64
	// HighVolExtraMs caps the additional uniform penalty applied when the
	// spot is moving at HIGH velocity or worse.
	HighVolExtraMs int64
}

// DefaultLatencyConfig models a retail order path to the exchange.
func DefaultLatencyConfig() LatencyConfig {
	return LatencyConfig{
		Distribution:   LatencyNormal,
		MinMs:          80,
		MaxMs:          450,
		HighVolExtraMs: 200,
	}
}

// LatencySimulator produces a randomized delay per order. The generator is
// injectable so tests can pin the sequence.
type LatencySimulator struct {
	cfg LatencyConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewLatencySimulator creates a simulator. A nil rng gets a time seed.
func NewLatencySimulator(cfg LatencyConfig, rng *rand.Rand) *LatencySimulator {
	if cfg.MaxMs < cfg.MinMs {
		cfg.MaxMs = cfg.MinMs
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &LatencySimulator{cfg: cfg, rng: rng}
}

// Sample draws one delay, clamped to [MinMs, MaxMs], plus a uniform
// penalty when the velocity regime is HIGH or EXTREME.
func (s *LatencySimulator) Sample(regime market.VelocityRegime) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	minMs := float64(s.cfg.MinMs)
	maxMs := float64(s.cfg.MaxMs)

	var ms float64
	switch s.cfg.Distribution {
	case LatencyNormal:
		mean := (minMs + maxMs) / 2
		stddev := (maxMs - minMs) / 6
		ms = mean + stddev*s.boxMuller()
	case LatencyExponential:
		// Inverse-CDF with the scale set so most of the mass lands inside
		// the configured band before clamping.
		scale := (maxMs - minMs) / 3
		ms = minMs - scale*math.Log(1-s.rng.Float64())
	default:
		ms = minMs + s.rng.Float64()*(maxMs-minMs)
	}

	if ms < minMs {
		ms = minMs
	}
	if ms > maxMs {
		ms = maxMs
	}

	if regime >= market.VelocityHigh && s.cfg.HighVolExtraMs > 0 {
		ms += s.rng.Float64() * float64(s.cfg.HighVolExtraMs)
	}

	return time.Duration(ms * float64(time.Millisecond))
}

// boxMuller draws one standard normal variate.
func (s *LatencySimulator) boxMuller() float64 {
	u1 := s.rng.Float64()
	for u1 == 0 {
		u1 = s.rng.Float64()
	}
	u2 := s.rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
