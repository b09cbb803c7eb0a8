package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/talgya/mini-economy/internal/catalog"
)

// DefaultMaxGames caps concurrently running games.
const DefaultMaxGames = 16

// GameInfo summarizes a running game.
type GameInfo struct {
	ID      string    `json:"id"`
	Tick    uint64    `json:"tick"`
	Speed   float64   `json:"speed"`
	Paused  bool      `json:"paused"`
	Created time.Time `json:"created"`
}

type managed struct {
	game   *Game
	opts   Options
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs independent games, each on its own driver goroutine.
type Manager struct {
	ctx      context.Context
	cat      *catalog.Catalog
	defaults Options
	interval time.Duration
	maxGames int

	mu    sync.Mutex
	games map[string]*managed
	hooks []func(*Game)
}

// NewManager creates a manager. Games stop when ctx is cancelled.
func NewManager(ctx context.Context, cat *catalog.Catalog, defaults Options, interval time.Duration, maxGames int) *Manager {
	if maxGames <= 0 {
		maxGames = DefaultMaxGames
	}
	return &Manager{
		ctx:      ctx,
		cat:      cat,
		defaults: defaults,
		interval: interval,
		maxGames: maxGames,
		games:    make(map[string]*managed),
	}
}

// OnCreate registers a hook called for every new game before its first tick.
func (m *Manager) OnCreate(fn func(*Game)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// Defaults returns the options new games start from.
func (m *Manager) Defaults() Options {
	return m.defaults
}

// Create starts a new game. A nil opts uses the manager defaults.
func (m *Manager) Create(opts *Options) (*Game, error) {
	o := m.defaults
	if opts != nil {
		o = *opts
	}
	return m.start("", o)
}

func (m *Manager) start(id string, opts Options) (*Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.games) >= m.maxGames {
		return nil, fmt.Errorf("create game: %w (limit %d)", ErrTooManyGames, m.maxGames)
	}
	g, err := NewGame(m.ctx, id, m.cat, opts)
	if err != nil {
		return nil, err
	}
	for _, fn := range m.hooks {
		fn(g)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	mg := &managed{game: g, opts: opts, cancel: cancel, done: make(chan struct{})}
	m.games[g.ID] = mg
	go func() {
		defer close(mg.done)
		err := NewDriver(g, m.interval).Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("game driver failed", "game", g.ID, "error", err)
		}
	}()
	return g, nil
}

// Get returns a running game.
func (m *Manager) Get(id string) (*Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mg, ok := m.games[id]
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, ErrGameNotFound)
	}
	return mg.game, nil
}

// List returns every running game ordered by creation time.
func (m *Manager) List() []GameInfo {
	m.mu.Lock()
	games := make([]*Game, 0, len(m.games))
	for _, mg := range m.games {
		games = append(games, mg.game)
	}
	m.mu.Unlock()

	out := make([]GameInfo, 0, len(games))
	for _, g := range games {
		speed, paused := g.Speed()
		out = append(out, GameInfo{ID: g.ID, Tick: g.Tick(), Speed: speed, Paused: paused, Created: g.Created})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.Before(out[j].Created)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reset replaces a game with a fresh one under the same ID and options.
func (m *Manager) Reset(id string) (*Game, error) {
	opts, err := m.stop(id)
	if err != nil {
		return nil, err
	}
	slog.Info("game reset", "game", id)
	return m.start(id, opts)
}

// Destroy stops and removes a game.
func (m *Manager) Destroy(id string) error {
	_, err := m.stop(id)
	if err == nil {
		slog.Info("game destroyed", "game", id)
	}
	return err
}

func (m *Manager) stop(id string) (Options, error) {
	m.mu.Lock()
	mg, ok := m.games[id]
	if ok {
		delete(m.games, id)
	}
	m.mu.Unlock()
	if !ok {
		return Options{}, fmt.Errorf("game %s: %w", id, ErrGameNotFound)
	}
	mg.cancel()
	<-mg.done
	mg.game.Close()
	return mg.opts, nil
}

// Shutdown stops every game and waits for their drivers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.games))
	for id := range m.games {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		_, _ = m.stop(id)
	}
}

// Catalog returns the catalog every game is built from.
func (m *Manager) Catalog() *catalog.Catalog {
	return m.cat
}
