// Package engine runs the tick-based economy: production, matching, price
// discovery, automated traders and the per-game control surface.
package engine

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is the wall-clock length of one tick at speed 1.
const DefaultInterval = time.Second

// pausePoll is how often a paused driver rechecks its game.
const pausePoll = 100 * time.Millisecond

// Driver drives one game forward in real time. Ticks of a game never overlap:
// the next tick starts only after the previous one has returned.
type Driver struct {
	game     *Game
	interval time.Duration
}

// NewDriver creates a driver with the given tick interval at speed 1.
func NewDriver(g *Game, interval time.Duration) *Driver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Driver{game: g, interval: interval}
}

// Run steps the game until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	slog.Info("game driver started", "game", d.game.ID, "tick", d.game.Tick())
	defer slog.Info("game driver stopped", "game", d.game.ID, "tick", d.game.Tick())

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		speed, paused := d.game.Speed()
		if paused || speed <= 0 {
			timer.Reset(pausePoll)
			continue
		}

		start := time.Now()
		d.game.Step()

		// Sleep for the remainder of the interval, scaled by speed.
		target := time.Duration(float64(d.interval) / speed)
		wait := target - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// RunTicks steps the game n times without waiting, for tests and replays.
func RunTicks(g *Game, n int) []TickUpdate {
	out := make([]TickUpdate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.Step())
	}
	return out
}
