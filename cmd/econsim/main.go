// Command econsim runs the supply-chain economy server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/mini-economy/internal/api"
	"github.com/talgya/mini-economy/internal/catalog"
	"github.com/talgya/mini-economy/internal/config"
	"github.com/talgya/mini-economy/internal/engine"
	"github.com/talgya/mini-economy/internal/llm"
	"github.com/talgya/mini-economy/internal/persistence"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	noGame := flag.Bool("no-game", false, "do not start a default game")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)

	if err := run(cfg, !*noGame); err != nil {
		slog.Error("econsim stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupLogging(c config.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if c.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(cfg *config.Config, startGame bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Catalog ───────────────────────────────────────────────────────
	var cat *catalog.Catalog
	var err error
	if cfg.Simulation.CatalogPath != "" {
		cat, err = catalog.Load(cfg.Simulation.CatalogPath)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		return err
	}
	slog.Info("catalog loaded", "goods", len(cat.AllGoods()), "buildings", len(cat.Buildings()))

	// ── Storage ───────────────────────────────────────────────────────
	var db *persistence.DB
	var recorder *persistence.Recorder
	if cfg.Storage.Enabled {
		db, err = persistence.Open(cfg.Storage.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if _, err := db.RecordStartup(); err != nil {
			slog.Warn("failed to record startup", "error", err)
		}
		recorder = persistence.NewRecorder(db, cfg.Storage.TickLogDir)
		slog.Info("storage enabled", "db", cfg.Storage.DBPath, "tick_log", cfg.Storage.TickLogDir)
	}

	// ── Game manager ──────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	games := engine.NewManager(gctx, cat, gameOptions(cfg), cfg.Simulation.BaseTickInterval, cfg.Simulation.MaxGames)
	if recorder != nil {
		games.OnCreate(recorder.Attach)
	}
	if startGame {
		game, err := games.Create(nil)
		if err != nil {
			return err
		}
		slog.Info("default game started", "game", game.ID)
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	server := api.NewServer(games, db, cfg.Server)
	g.Go(func() error {
		if err := server.ListenAndServe(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		games.Shutdown()
		if recorder != nil {
			recorder.Close()
		}
		return nil
	})

	return g.Wait()
}

func gameOptions(cfg *config.Config) engine.Options {
	s := cfg.Simulation
	opts := engine.DefaultOptions()
	opts.Seed = s.Seed
	opts.StartingCash = s.StartingCash
	opts.TicksPerMonth = s.TicksPerMonth
	opts.ProtectionRatio = s.ProtectionRatio
	opts.MaxOrderCashFraction = s.MaxOrderCashFraction
	opts.AICompanies = s.AICompanies
	opts.Speed = s.DefaultSpeed

	if client := llm.NewClient(llm.Options{
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		MaxPerMinute: cfg.LLM.MaxPerMinute,
	}); client != nil {
		opts.LLM = engine.LLMOptions{
			Generator:          client,
			TimeoutTicks:       cfg.LLM.TimeoutTicks,
			FailureThreshold:   cfg.LLM.FailureThreshold,
			CooldownTicks:      cfg.LLM.CooldownTicks,
			EventIntervalTicks: cfg.LLM.EventIntervalTicks,
		}
		slog.Info("LLM client enabled", "max_per_minute", cfg.LLM.MaxPerMinute)
	} else {
		slog.Info("LLM disabled, using deterministic fallbacks")
	}
	return opts
}
