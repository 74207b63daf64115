// Package timing sizes per-task parse deadlines from recent performance.
//
// For every (language, tier, task class, injections) key it keeps an
// exponential moving average of elapsed milliseconds and of the timeout
// rate. Keys that time out are granted proportionally more time; keys that
// are consistently fast converge to a tight budget.
//
// Metrics is owned by the scheduler goroutine and is not safe for
// concurrent use.
package timing

import (
	"fmt"
	"math"
	"sort"
	"time"

	"synsched/internal/engine/tier"
)

// Class distinguishes kinds of parse work with different cost profiles.
type Class int

const (
	ClassFull Class = iota
	ClassIncremental
	ClassViewport
)

func (c Class) String() string {
	switch c {
	case ClassFull:
		return "full"
	case ClassIncremental:
		return "incremental"
	case ClassViewport:
		return "viewport"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Key identifies one EMA bucket.
type Key struct {
	Language   string
	Tier       tier.Tier
	Class      Class
	Injections bool
}

// Params are the empirically tuned constants.
type Params struct {
	// Alpha is the weight of a new sample, in (0, 1].
	Alpha float64
	// BaseMultiplier scales the average duration into a budget.
	BaseMultiplier float64
	// TimeoutPenalty scales the extra budget granted per unit timeout rate.
	TimeoutPenalty float64
}

func DefaultParams() Params {
	return Params{Alpha: 0.3, BaseMultiplier: 3, TimeoutPenalty: 4}
}

// Validate reports whether p can drive a Metrics instance.
func (p Params) Validate() error {
	if p.Alpha <= 0 || p.Alpha > 1 || math.IsNaN(p.Alpha) {
		return fmt.Errorf("ema alpha must be in (0, 1], got %v", p.Alpha)
	}
	if p.BaseMultiplier < 1 {
		return fmt.Errorf("base multiplier must be >= 1, got %v", p.BaseMultiplier)
	}
	if p.TimeoutPenalty < 0 {
		return fmt.Errorf("timeout penalty must be >= 0, got %v", p.TimeoutPenalty)
	}
	return nil
}

type stat struct {
	emaMillis   float64
	timeoutRate float64
	samples     int
}

// Metrics is the adaptive timeout table.
type Metrics struct {
	params Params
	stats  map[Key]*stat
}

func New(p Params) (*Metrics, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Metrics{params: p, stats: make(map[Key]*stat)}, nil
}

// SetParams swaps the constants; accumulated averages are kept.
func (m *Metrics) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.params = p
	return nil
}

func (m *Metrics) Params() Params {
	return m.params
}

// RecordTaskResult folds one finished task into the key's averages,
// creating the key on first use. The first sample seeds both averages.
// Failures that are not timeouts only update the timeout rate: their
// elapsed time says nothing about how long a successful parse takes.
func (m *Metrics) RecordTaskResult(key Key, elapsed time.Duration, timedOut, success bool) {
	s, ok := m.stats[key]
	if !ok {
		s = &stat{}
		m.stats[key] = s
	}

	timeoutSample := 0.0
	if timedOut {
		timeoutSample = 1
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	useElapsed := success || timedOut

	a := m.params.Alpha
	if s.samples == 0 {
		s.timeoutRate = timeoutSample
		if useElapsed {
			s.emaMillis = ms
		}
	} else {
		s.timeoutRate = a*timeoutSample + (1-a)*s.timeoutRate
		if useElapsed {
			if s.emaMillis == 0 {
				s.emaMillis = ms
			} else {
				s.emaMillis = a*ms + (1-a)*s.emaMillis
			}
		}
	}
	s.samples++
}

// DeriveTimeout returns the budget for the next task of key, always within
// [min, max]. Keys without a duration sample get max.
func (m *Metrics) DeriveTimeout(key Key, min, max time.Duration) time.Duration {
	if max < min {
		max = min
	}
	s, ok := m.stats[key]
	if !ok || s.emaMillis <= 0 {
		return max
	}

	budgetMillis := s.emaMillis * m.params.BaseMultiplier * (1 + s.timeoutRate*m.params.TimeoutPenalty)
	if math.IsNaN(budgetMillis) || math.IsInf(budgetMillis, 0) {
		return max
	}
	budget := time.Duration(budgetMillis * float64(time.Millisecond))
	if budget < min {
		return min
	}
	if budget > max {
		return max
	}
	return budget
}

// Entry is a read-only view of one key's averages.
type Entry struct {
	Key         Key
	EMA         time.Duration
	TimeoutRate float64
	Samples     int
}

// Snapshot returns all keys sorted by language, tier, class, injections.
func (m *Metrics) Snapshot() []Entry {
	out := make([]Entry, 0, len(m.stats))
	for k, s := range m.stats {
		out = append(out, Entry{
			Key:         k,
			EMA:         time.Duration(s.emaMillis * float64(time.Millisecond)),
			TimeoutRate: s.timeoutRate,
			Samples:     s.samples,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Language != b.Language {
			return a.Language < b.Language
		}
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		return !a.Injections && b.Injections
	})
	return out
}

// Len returns the number of tracked keys.
func (m *Metrics) Len() int {
	return len(m.stats)
}
