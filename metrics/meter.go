// Package metrics tracks internal event rates (clean-cache and AHA
// hits/misses, AHA validation fallbacks) for a running DB. Nothing in this package
// formats or prints statistics; that is a caller concern, matching the
// store's purpose as a library rather than a driver.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
)

// ewma is an exponentially weighted moving average, ticked once per
// reporting interval, used by Meter to produce 1/5/15-minute rates.
type ewma struct {
	alpha    float64
	interval float64

	uncounted atomic.Int64

	mu   sync.Mutex
	rate float64
	init bool
}

func newEWMA(halfLifeSeconds float64) *ewma {
	return &ewma{
		alpha:    1 - math.Exp(-5.0/halfLifeSeconds),
		interval: 5.0,
	}
}

func (e *ewma) update(n int64) { e.uncounted.Add(n) }

func (e *ewma) tick() {
	count := e.uncounted.Swap(0)
	instant := float64(count) / e.interval

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.init {
		e.rate += e.alpha * (instant - e.rate)
	} else {
		e.rate = instant
		e.init = true
	}
}

func (e *ewma) rateValue() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// Meter counts events and their 1/5/15-minute rates, the way a DB's
// Stats() snapshot reports clean-cache hits and misses, AHA hits and
// misses, and AHA validation fallbacks.
type Meter struct {
	count  atomic.Int64
	rate1  *ewma
	rate5  *ewma
	rate15 *ewma
}

// NewMeter creates a Meter with zeroed counters.
func NewMeter() *Meter {
	return &Meter{
		rate1:  newEWMA(60),
		rate5:  newEWMA(300),
		rate15: newEWMA(900),
	}
}

// Mark records n occurrences of the event.
func (m *Meter) Mark(n int64) {
	m.count.Add(n)
	m.rate1.update(n)
	m.rate5.update(n)
	m.rate15.update(n)
}

// Tick advances the EWMAs by one reporting interval. Callers that never
// call Tick still get an accurate Count(); the rates simply stay at zero.
func (m *Meter) Tick() {
	m.rate1.tick()
	m.rate5.tick()
	m.rate15.tick()
}

// Count returns the total number of events recorded.
func (m *Meter) Count() int64 { return m.count.Load() }

// Rate1 returns the 1-minute exponentially weighted rate, in events/sec.
func (m *Meter) Rate1() float64 { return m.rate1.rateValue() }

// Registry is a named collection of Meters, one per tracked event kind.
type Registry struct {
	mu     sync.Mutex
	meters map[string]*Meter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{meters: make(map[string]*Meter)}
}

// Get returns the named Meter, creating it on first use.
func (r *Registry) Get(name string) *Meter {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meters[name]
	if !ok {
		m = NewMeter()
		r.meters[name] = m
	}
	return m
}

// Snapshot returns the current event count for every registered meter.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.meters))
	for name, m := range r.meters {
		out[name] = m.Count()
	}
	return out
}
