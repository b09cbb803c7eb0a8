package persistence

import (
	"log/slog"
	"sync"

	"github.com/talgya/mini-economy/internal/engine"
)

// recorderBuffer is how many snapshots a recorder may fall behind before it
// starts missing ticks.
const recorderBuffer = 256

// Recorder copies the snapshots of attached games into the database and the
// tick log. Failures are logged and never reach the game.
type Recorder struct {
	db     *DB
	logDir string
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder. A nil db or empty logDir disables that sink.
func NewRecorder(db *DB, logDir string) *Recorder {
	return &Recorder{db: db, logDir: logDir}
}

// Attach starts recording g until the game closes its subscriptions.
func (r *Recorder) Attach(g *engine.Game) {
	if r.db != nil {
		opts := g.Options()
		err := r.db.SaveGame(GameRecord{
			ID:           g.ID,
			Seed:         opts.Seed,
			StartingCash: opts.StartingCash,
			CreatedAt:    g.Created,
		})
		if err != nil {
			slog.Warn("failed to register game", "game", g.ID, "error", err)
		}
	}

	var log *TickLog
	if r.logDir != "" {
		log = NewTickLog(r.logDir, g.ID)
	}

	updates, _ := g.Subscribe(recorderBuffer)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(g.ID, updates, log)
	}()
}

func (r *Recorder) run(gameID string, updates <-chan engine.TickUpdate, log *TickLog) {
	failures := 0
	for u := range updates {
		if r.db != nil {
			if err := r.db.SaveTick(u); err != nil {
				failures++
				r.warn(gameID, u.Tick, "db", err, failures)
			}
		}
		if log != nil {
			if err := log.Write(u); err != nil {
				failures++
				r.warn(gameID, u.Tick, "tick log", err, failures)
			}
		}
	}
	if log != nil {
		if err := log.Close(); err != nil {
			slog.Warn("failed to close tick log", "game", gameID, "error", err)
		}
	}
	slog.Debug("recorder stopped", "game", gameID)
}

// warn logs the first failures and then every hundredth.
func (r *Recorder) warn(gameID string, tick uint64, sink string, err error, failures int) {
	if failures <= 3 || failures%100 == 0 {
		slog.Warn("failed to record tick", "game", gameID, "tick", tick, "sink", sink, "failures", failures, "error", err)
	}
}

// Close waits for every attached game to finish.
func (r *Recorder) Close() {
	r.wg.Wait()
}
