// Package store persists portfolio snapshots, the trade ledger, and the
// instrument master in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

// Snapshot is one persisted portfolio state. Monetary values round-trip
// as decimal text, never as floats.
type Snapshot struct {
	TakenAt        time.Time
	InitialCapital fixed.Point
	RealizedPnL    fixed.Point
	Positions      []models.Position
}

// SQLiteStore is the on-disk store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Portfolio snapshots; positions serialized with decimal fields as text
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at DATETIME NOT NULL,
		initial_capital TEXT NOT NULL,
		realized_pnl TEXT NOT NULL,
		positions TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Trade ledger
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		position_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price TEXT NOT NULL,
		pnl_impact TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, timestamp);

	-- Instrument master
	CREATE TABLE IF NOT EXISTS instruments (
		token INTEGER NOT NULL,
		symbol TEXT PRIMARY KEY,
		underlying TEXT NOT NULL,
		type TEXT NOT NULL,
		strike TEXT NOT NULL,
		expiry DATETIME NOT NULL,
		lot_size INTEGER NOT NULL,
		tick_size TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_instruments_underlying ON instruments(underlying, expiry);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSnapshot persists one portfolio snapshot.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	positions, err := json.Marshal(snap.Positions)
	if err != nil {
		return apperrors.Wrap(err, "marshal positions")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (taken_at, initial_capital, realized_pnl, positions) VALUES (?, ?, ?, ?)`,
		snap.TakenAt, snap.InitialCapital.String(), snap.RealizedPnL.String(), string(positions),
	)
	return apperrors.Wrap(err, "save snapshot")
}

// LoadLatestSnapshot returns the most recent snapshot. The second return
// is false when none exists.
func (s *SQLiteStore) LoadLatestSnapshot(ctx context.Context) (Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT taken_at, initial_capital, realized_pnl, positions
		 FROM snapshots ORDER BY id DESC LIMIT 1`)

	var snap Snapshot
	var capital, realized, positions string
	if err := row.Scan(&snap.TakenAt, &capital, &realized, &positions); err != nil {
		if err == sql.ErrNoRows {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, apperrors.Wrap(err, "load snapshot")
	}

	var err error
	if snap.InitialCapital, err = fixed.Parse(capital); err != nil {
		return Snapshot{}, false, apperrors.Wrap(apperrors.ErrSnapshotCorrupt, "initial_capital: "+capital)
	}
	if snap.RealizedPnL, err = fixed.Parse(realized); err != nil {
		return Snapshot{}, false, apperrors.Wrap(apperrors.ErrSnapshotCorrupt, "realized_pnl: "+realized)
	}
	if err := json.Unmarshal([]byte(positions), &snap.Positions); err != nil {
		return Snapshot{}, false, apperrors.Wrap(apperrors.ErrSnapshotCorrupt, "positions payload")
	}
	return snap, true, nil
}

// SaveTrade appends one trade to the ledger.
func (s *SQLiteStore) SaveTrade(ctx context.Context, trade models.Trade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO trades (id, order_id, position_id, timestamp, symbol, side, quantity, price, pnl_impact)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.OrderID, trade.PositionID, trade.Timestamp, trade.Symbol,
		string(trade.Side), trade.Quantity, trade.Price.String(), trade.PnLImpact.String(),
	)
	return apperrors.Wrap(err, "save trade")
}

// Trades returns the most recent trades, newest first.
func (s *SQLiteStore) Trades(ctx context.Context, limit int) ([]models.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, position_id, timestamp, symbol, side, quantity, price, pnl_impact
		 FROM trades ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "query trades")
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var side, price, pnl string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.PositionID, &t.Timestamp, &t.Symbol, &side, &t.Quantity, &price, &pnl); err != nil {
			return nil, apperrors.Wrap(err, "scan trade")
		}
		t.Side = models.OrderSide(side)
		if t.Price, err = fixed.Parse(price); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrSnapshotCorrupt, "trade price: "+price)
		}
		if t.PnLImpact, err = fixed.Parse(pnl); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrSnapshotCorrupt, "trade pnl: "+pnl)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// UpsertInstruments replaces instrument master rows.
func (s *SQLiteStore) UpsertInstruments(ctx context.Context, instruments []models.Instrument) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(err, "begin instrument upsert")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO instruments (token, symbol, underlying, type, strike, expiry, lot_size, tick_size)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return apperrors.Wrap(err, "prepare instrument upsert")
	}
	defer stmt.Close()

	for _, inst := range instruments {
		if _, err := stmt.ExecContext(ctx,
			inst.Token, inst.Symbol, string(inst.Underlying), string(inst.Type),
			inst.Strike.String(), inst.Expiry, inst.LotSize, inst.TickSize.String(),
		); err != nil {
			return apperrors.Wrap(err, "upsert instrument "+inst.Symbol)
		}
	}
	return tx.Commit()
}

// Instrument resolves one symbol from the master.
func (s *SQLiteStore) Instrument(ctx context.Context, symbol string) (models.Instrument, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT token, symbol, underlying, type, strike, expiry, lot_size, tick_size
		 FROM instruments WHERE symbol = ?`, symbol)

	inst, err := scanInstrument(row)
	if err == sql.ErrNoRows {
		return models.Instrument{}, false, nil
	}
	if err != nil {
		return models.Instrument{}, false, err
	}
	return inst, true, nil
}

// Instruments lists the master for one underlying, soonest expiry first.
func (s *SQLiteStore) Instruments(ctx context.Context, underlying models.Underlying) ([]models.Instrument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token, symbol, underlying, type, strike, expiry, lot_size, tick_size
		 FROM instruments WHERE underlying = ? ORDER BY expiry, strike`, string(underlying))
	if err != nil {
		return nil, apperrors.Wrap(err, "query instruments")
	}
	defer rows.Close()

	var out []models.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Expiries enumerates distinct expiries for an underlying, ascending.
func (s *SQLiteStore) Expiries(ctx context.Context, underlying models.Underlying) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT expiry FROM instruments WHERE underlying = ? ORDER BY expiry`, string(underlying))
	if err != nil {
		return nil, apperrors.Wrap(err, "query expiries")
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var expiry time.Time
		if err := rows.Scan(&expiry); err != nil {
			return nil, apperrors.Wrap(err, "scan expiry")
		}
		out = append(out, expiry)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstrument(row rowScanner) (models.Instrument, error) {
	var inst models.Instrument
	var underlying, instrType, strike, tickSize string
	if err := row.Scan(&inst.Token, &inst.Symbol, &underlying, &instrType, &strike, &inst.Expiry, &inst.LotSize, &tickSize); err != nil {
		return models.Instrument{}, err
	}
	inst.Underlying = models.Underlying(underlying)
	inst.Type = models.InstrumentType(instrType)

	var err error
	if inst.Strike, err = fixed.Parse(strike); err != nil {
		return models.Instrument{}, apperrors.Wrap(apperrors.ErrSnapshotCorrupt, "instrument strike: "+strike)
	}
	if inst.TickSize, err = fixed.Parse(tickSize); err != nil {
		return models.Instrument{}, apperrors.Wrap(apperrors.ErrSnapshotCorrupt, "instrument tick size: "+tickSize)
	}
	return inst, nil
}
