// Package persistence stores game history in SQLite and compressed tick logs.
package persistence

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/mini-economy/internal/engine"
)

// DB wraps a SQLite connection for game history.
type DB struct {
	conn *sqlx.DB
}

// GameRecord is the stored header of a game.
type GameRecord struct {
	ID           string    `db:"id" json:"id"`
	Seed         int64     `db:"seed" json:"seed"`
	StartingCash float64   `db:"starting_cash" json:"starting_cash"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	LastTick     uint64    `db:"last_tick" json:"last_tick"`
	PlayerCash   float64   `db:"player_cash" json:"player_cash"`
}

// TradeRow is one stored trade.
type TradeRow struct {
	GameID    string  `db:"game_id" json:"game_id"`
	ID        string  `db:"id" json:"id"`
	Tick      uint64  `db:"tick" json:"tick"`
	GoodsID   string  `db:"goods_id" json:"goods_id"`
	BuyerID   string  `db:"buyer_id" json:"buyer_id"`
	SellerID  string  `db:"seller_id" json:"seller_id"`
	Price     float64 `db:"price" json:"price"`
	Quantity  float64 `db:"quantity" json:"quantity"`
	Aggressor string  `db:"aggressor" json:"aggressor"`
}

// PricePoint is a goods price at a tick.
type PricePoint struct {
	Tick  uint64  `db:"tick" json:"tick"`
	Price float64 `db:"price" json:"price"`
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS games (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		starting_cash REAL NOT NULL,
		created_at TIMESTAMP NOT NULL,
		last_tick INTEGER NOT NULL DEFAULT 0,
		player_cash REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS trades (
		game_id TEXT NOT NULL,
		id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		goods_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		aggressor TEXT NOT NULL,
		PRIMARY KEY (game_id, id)
	);

	CREATE TABLE IF NOT EXISTS price_points (
		game_id TEXT NOT NULL,
		goods_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		price REAL NOT NULL,
		PRIMARY KEY (game_id, goods_id, tick)
	);

	CREATE TABLE IF NOT EXISTS tick_summaries (
		game_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		player_cash REAL NOT NULL,
		net_profit REAL NOT NULL,
		trade_count INTEGER NOT NULL,
		digest TEXT NOT NULL,
		PRIMARY KEY (game_id, tick)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_goods ON trades(game_id, goods_id, tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveGame registers a game. History left by an earlier game with the same
// ID is discarded.
func (db *DB) SaveGame(rec GameRecord) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"trades", "price_points", "tick_summaries"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE game_id = ?", rec.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	_, err = tx.NamedExec(`INSERT OR REPLACE INTO games
		(id, seed, starting_cash, created_at, last_tick, player_cash)
		VALUES (:id, :seed, :starting_cash, :created_at, :last_tick, :player_cash)`, rec)
	if err != nil {
		return fmt.Errorf("insert game %s: %w", rec.ID, err)
	}

	return tx.Commit()
}

// SaveTick appends the trades and prices of one snapshot.
func (db *DB) SaveTick(u engine.TickUpdate) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(u.Trades) > 0 {
		stmt, err := tx.Preparex(`INSERT OR IGNORE INTO trades
			(game_id, id, tick, goods_id, buyer_id, seller_id, price, quantity, aggressor)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range u.Trades {
			_, err := stmt.Exec(u.GameID, t.ID, t.Tick, string(t.GoodsID),
				string(t.BuyerID), string(t.SellerID), t.Price, t.Quantity, t.Aggressor.String())
			if err != nil {
				return fmt.Errorf("insert trade %s: %w", t.ID, err)
			}
		}
	}

	for goods, price := range u.MarketPrices {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO price_points (game_id, goods_id, tick, price) VALUES (?, ?, ?, ?)",
			u.GameID, string(goods), u.Tick, price,
		)
		if err != nil {
			return fmt.Errorf("insert price %s: %w", goods, err)
		}
	}

	_, err = tx.Exec(`INSERT OR REPLACE INTO tick_summaries
		(game_id, tick, player_cash, net_profit, trade_count, digest)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.GameID, u.Tick, u.PlayerCash, u.Financials.NetProfit, len(u.Trades), u.Digest,
	)
	if err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}

	_, err = tx.Exec("UPDATE games SET last_tick = ?, player_cash = ? WHERE id = ?",
		u.Tick, u.PlayerCash, u.GameID)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}

	return tx.Commit()
}

// Games returns every stored game, newest first.
func (db *DB) Games() ([]GameRecord, error) {
	var games []GameRecord
	err := db.conn.Select(&games,
		"SELECT id, seed, starting_cash, created_at, last_tick, player_cash FROM games ORDER BY created_at DESC, id")
	return games, err
}

// Game returns one stored game.
func (db *DB) Game(id string) (GameRecord, error) {
	var rec GameRecord
	err := db.conn.Get(&rec,
		"SELECT id, seed, starting_cash, created_at, last_tick, player_cash FROM games WHERE id = ?", id)
	return rec, err
}

// DeleteGame removes a game and its history.
func (db *DB) DeleteGame(id string) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"trades", "price_points", "tick_summaries"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE game_id = ?", id); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	if _, err := tx.Exec("DELETE FROM games WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// RecentTrades returns up to limit trades of one goods, newest first.
func (db *DB) RecentTrades(gameID, goodsID string, limit int) ([]TradeRow, error) {
	var trades []TradeRow
	err := db.conn.Select(&trades,
		`SELECT game_id, id, tick, goods_id, buyer_id, seller_id, price, quantity, aggressor
		 FROM trades WHERE game_id = ? AND goods_id = ?
		 ORDER BY tick DESC, rowid DESC LIMIT ?`,
		gameID, goodsID, limit,
	)
	return trades, err
}

// PriceHistory returns up to limit price points of one goods, oldest first.
func (db *DB) PriceHistory(gameID, goodsID string, limit int) ([]PricePoint, error) {
	var points []PricePoint
	err := db.conn.Select(&points,
		`SELECT tick, price FROM (
			SELECT tick, price FROM price_points WHERE game_id = ? AND goods_id = ?
			ORDER BY tick DESC LIMIT ?
		 ) ORDER BY tick`,
		gameID, goodsID, limit,
	)
	return points, err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}

// RecordStartup bumps the stored server start counter.
func (db *DB) RecordStartup() (int, error) {
	n := 0
	if v, err := db.GetMeta("startups"); err == nil {
		n, _ = strconv.Atoi(v)
	}
	n++
	if err := db.SaveMeta("startups", strconv.Itoa(n)); err != nil {
		return 0, fmt.Errorf("save meta: %w", err)
	}
	slog.Info("database ready", "startups", n)
	return n, nil
}
