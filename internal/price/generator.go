package price

import (
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

// Generator produces synthetic prices. Implementations are not safe for
// concurrent use; each session owns its own.
type Generator interface {
	Next(last decimal.Decimal) decimal.Decimal
}

type WalkConfig struct {
	Base decimal.Decimal
	Step decimal.Decimal
	Min  decimal.Decimal
	Max  decimal.Decimal
	Seed int64
}

// RandomWalk moves the last price by a uniform step in [-Step, +Step] and
// clamps the result to [Min, Max].
type RandomWalk struct {
	cfg WalkConfig
	rng *rand.Rand
}

func NewRandomWalk(cfg WalkConfig) *RandomWalk {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomWalk{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (w *RandomWalk) Next(last decimal.Decimal) decimal.Decimal {
	if !last.IsPositive() {
		last = w.cfg.Base
	}
	jitter := decimal.NewFromFloat((w.rng.Float64() - 0.5) * 2)
	p := last.Add(jitter.Mul(w.cfg.Step)).Round(4)
	if p.LessThan(w.cfg.Min) {
		return w.cfg.Min
	}
	if p.GreaterThan(w.cfg.Max) {
		return w.cfg.Max
	}
	return p
}

// Sequence replays fixed prices in order and then repeats the last one.
type Sequence struct {
	prices []decimal.Decimal
	i      int
}

func NewSequence(prices ...decimal.Decimal) *Sequence {
	return &Sequence{prices: prices}
}

func (s *Sequence) Next(last decimal.Decimal) decimal.Decimal {
	if len(s.prices) == 0 {
		return last
	}
	p := s.prices[s.i]
	if s.i < len(s.prices)-1 {
		s.i++
	}
	return p
}
