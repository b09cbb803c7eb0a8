package engine

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestManager(t *testing.T, maxGames int) *Manager {
	t.Helper()
	opts := DefaultOptions()
	opts.AICompanies = 0
	opts.Speed = 0
	m := NewManager(context.Background(), loadTestCatalog(t), opts, time.Millisecond, maxGames)
	t.Cleanup(m.Shutdown)
	return m
}

func TestManagerLifecycle(t *testing.T) {
	m := newTestManager(t, 2)
	var hooked []string
	m.OnCreate(func(g *Game) { hooked = append(hooked, g.ID) })

	g, err := m.Create(nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if got, err := m.Get(g.ID); err != nil || got != g {
		t.Fatalf("Get returned %v, %v", got, err)
	}
	if len(hooked) != 1 || hooked[0] != g.ID {
		t.Errorf("create hook not called: %v", hooked)
	}

	if _, err := m.Create(nil); err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if _, err := m.Create(nil); !errors.Is(err, ErrTooManyGames) {
		t.Errorf("expected ErrTooManyGames, got %v", err)
	}
	if n := len(m.List()); n != 2 {
		t.Errorf("expected 2 games listed, got %d", n)
	}

	g.Step()
	fresh, err := m.Reset(g.ID)
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if fresh.ID != g.ID || fresh == g || fresh.Tick() != 0 {
		t.Errorf("reset should start a new game under the same id at tick 0")
	}

	if err := m.Destroy(g.ID); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if _, err := m.Get(g.ID); !errors.Is(err, ErrGameNotFound) {
		t.Errorf("expected ErrGameNotFound after destroy, got %v", err)
	}
	if err := m.Destroy(g.ID); !errors.Is(err, ErrGameNotFound) {
		t.Errorf("double destroy should report ErrGameNotFound, got %v", err)
	}
}
