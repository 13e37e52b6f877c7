package engine

import (
	"context"
	"testing"
	"time"

	"github.com/talgya/tilecity/internal/city"
	"github.com/talgya/tilecity/internal/grid"
)

func testCity(t *testing.T, monthTicks int) *city.City {
	t.Helper()
	cfg := city.DefaultConfig()
	cfg.Size = 8
	cfg.Seed = 3
	cfg.MonthTicks = monthTicks
	cfg.Forest.Threshold = 0
	c, err := city.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestStepAndMonths(t *testing.T) {
	e := New(testCity(t, 10))
	var months []uint64
	e.OnMonth = func(snap *city.Snapshot) {
		months = append(months, snap.Stats.Tick)
	}
	e.Step(25)
	if e.TickCount() != 25 {
		t.Fatalf("tick count %d, want 25", e.TickCount())
	}
	if len(months) != 2 || months[0] != 10 || months[1] != 20 {
		t.Fatalf("month snapshots at %v, want [10 20]", months)
	}
}

func TestAdvanceCarriesFractions(t *testing.T) {
	e := New(testCity(t, 500))
	if err := e.SetSpeed(5); err != nil {
		t.Fatal(err)
	}
	// 5 ticks/s over 100ms intervals is half a tick each.
	for n := 0; n < 10; n++ {
		e.advance(100 * time.Millisecond)
	}
	if e.TickCount() != 5 {
		t.Fatalf("tick count %d, want 5", e.TickCount())
	}

	if err := e.SetSpeed(0); err != nil {
		t.Fatal(err)
	}
	e.advance(time.Second)
	if e.TickCount() != 5 {
		t.Fatal("paused engine ticked")
	}
	if err := e.SetSpeed(-1); err == nil {
		t.Fatal("accepted negative speed")
	}
	if err := e.SetSpeed(MaxSpeed + 1); err == nil {
		t.Fatal("accepted speed above max")
	}
}

func TestDoSerializesCommands(t *testing.T) {
	e := New(testCity(t, 500))
	var built bool
	e.Do(func(c *city.City) {
		built = c.Build(grid.Coord{I: 1, J: 1}, grid.Road)
	})
	if !built {
		t.Fatal("build through Do failed")
	}
	if e.Snapshot().Stats.Roads != 0 {
		t.Fatal("stats should update only on the next tick")
	}
	e.Step(1)
	if e.Snapshot().Stats.Roads != 1 {
		t.Fatal("road not counted after a tick")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	e := New(testCity(t, 500))
	e.Interval = time.Millisecond
	if err := e.SetSpeed(MaxSpeed); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for e.TickCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if e.TickCount() == 0 {
		t.Fatal("engine never ticked")
	}
	if e.Running() {
		t.Fatal("engine still reports running")
	}
}

func TestSimTime(t *testing.T) {
	tests := []struct {
		tick  uint64
		month int
		want  string
	}{
		{0, 500, "Year 1 Month 1, tick 0"},
		{1250, 500, "Year 1 Month 3, tick 250"},
		{500 * 13, 500, "Year 2 Month 2, tick 0"},
		{7, 0, "tick 7"},
	}
	for _, tt := range tests {
		if got := SimTime(tt.tick, tt.month); got != tt.want {
			t.Errorf("SimTime(%d, %d) = %q, want %q", tt.tick, tt.month, got, tt.want)
		}
	}
}
