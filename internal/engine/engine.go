// Package engine drives a city in real time. The city itself is lock-free and
// knows nothing about wall time; the Engine owns the only mutex and turns a
// ticks-per-second speed into a number of ticks per interval.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/tilecity/internal/city"
)

// MonthsPerYear is used only for human-readable sim time.
const MonthsPerYear = 12

// MaxSpeed caps ticks per second.
const MaxSpeed = 10000

// Engine advances a City at a chosen number of ticks per second.
type Engine struct {
	mu      sync.Mutex
	city    *city.City
	speed   float64 // Ticks per second, 0 = paused
	carry   float64 // Fractional ticks owed from earlier intervals
	running bool

	Interval time.Duration // Base loop interval (default 100ms)

	// OnMonth receives a snapshot taken at the end of every sim month.
	// It runs outside the lock, on the engine goroutine.
	OnMonth func(snap *city.Snapshot)
}

// New creates a paused engine around c.
func New(c *city.City) *Engine {
	return &Engine{
		city:     c,
		Interval: 100 * time.Millisecond,
	}
}

// Run advances the city until ctx is done. Blocks.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	slog.Info("simulation engine started", "tick", e.TickCount(), "speed", e.Speed())

	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			slog.Info("simulation engine stopped", "tick", e.TickCount())
			return
		case <-ticker.C:
			e.advance(e.Interval)
		}
	}
}

// advance runs the ticks owed for one elapsed interval.
func (e *Engine) advance(elapsed time.Duration) {
	e.mu.Lock()
	e.carry += e.speed * elapsed.Seconds()
	n := int(e.carry)
	e.carry -= float64(n)
	e.mu.Unlock()

	if n > 0 {
		e.Step(n)
	}
}

// Step runs n ticks immediately, regardless of speed.
func (e *Engine) Step(n int) {
	var months []*city.Snapshot

	e.mu.Lock()
	monthTicks := uint64(e.city.Config().MonthTicks)
	for i := 0; i < n; i++ {
		e.city.Tick()
		if e.OnMonth != nil && monthTicks > 0 && e.city.TickCount()%monthTicks == 0 {
			months = append(months, e.city.Snapshot())
		}
	}
	e.mu.Unlock()

	for _, snap := range months {
		e.OnMonth(snap)
	}
}

// Do runs fn with exclusive access to the city. fn must not keep c.
func (e *Engine) Do(fn func(c *city.City)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.city)
}

// Snapshot takes a consistent snapshot of the city.
func (e *Engine) Snapshot() *city.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.city.Snapshot()
}

// TickCount returns the city's tick counter.
func (e *Engine) TickCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.city.TickCount()
}

// SetSpeed sets ticks per second; 0 pauses.
func (e *Engine) SetSpeed(tps float64) error {
	if tps < 0 || tps > MaxSpeed {
		return fmt.Errorf("speed %v outside 0..%d", tps, MaxSpeed)
	}
	e.mu.Lock()
	e.speed = tps
	if tps == 0 {
		e.carry = 0
	}
	e.mu.Unlock()
	slog.Info("speed changed", "ticks_per_second", tps)
	return nil
}

// Speed returns ticks per second.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// SimTime returns a human-readable time for a tick, e.g. "Year 2 Month 3, tick 40".
func SimTime(tick uint64, monthTicks int) string {
	if monthTicks <= 0 {
		return fmt.Sprintf("tick %d", tick)
	}
	months := tick / uint64(monthTicks)
	return fmt.Sprintf("Year %d Month %d, tick %d",
		months/MonthsPerYear+1, months%MonthsPerYear+1, tick%uint64(monthTicks))
}
