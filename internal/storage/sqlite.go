package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/eddiefleurent/wheel_tracker/internal/models"
	_ "modernc.org/sqlite"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS trades (
	seq                  INTEGER PRIMARY KEY AUTOINCREMENT,
	id                   TEXT NOT NULL UNIQUE,
	underlying_ticker    TEXT NOT NULL,
	trade_type           TEXT NOT NULL,
	status               TEXT NOT NULL,
	rolled_from_id       TEXT,
	expiration_date      TEXT NOT NULL,
	transaction_date     TEXT NOT NULL,
	buy_back_date        TEXT,
	strike_price         TEXT NOT NULL,
	premium_received     TEXT NOT NULL,
	fees                 TEXT NOT NULL,
	closing_fees         TEXT NOT NULL,
	buy_back_price       TEXT,
	net_premium_received TEXT,
	number_of_contracts  INTEGER NOT NULL,
	assigned             INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_rolled_from
	ON trades(rolled_from_id) WHERE rolled_from_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_trades_ticker ON trades(underlying_ticker);

CREATE TABLE IF NOT EXISTS stock_sales (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	ticker     TEXT NOT NULL,
	sell_date  TEXT NOT NULL,
	sell_price TEXT NOT NULL,
	fees       TEXT NOT NULL,
	shares     INTEGER NOT NULL
);
`

const tradeColumns = `id, underlying_ticker, trade_type, status, rolled_from_id,
	expiration_date, transaction_date, buy_back_date, strike_price, premium_received,
	fees, closing_fees, buy_back_price, net_premium_received, number_of_contracts, assigned`

// SQLiteStorage persists records in an embedded SQLite database.
type SQLiteStorage struct {
	db   *sql.DB
	opts options
}

// NewSQLiteStorage opens (creating if needed) the database at path.
// Use ":memory:" for a private in-memory database.
func NewSQLiteStorage(path string, opts ...Option) (*SQLiteStorage, error) {
	if path == "" {
		return nil, errors.New("sqlite storage requires a database path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration: %w", err)
	}

	return &SQLiteStorage{db: db, opts: applyOptions(opts)}, nil
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (*models.Trade, error) {
	var (
		t          models.Trade
		rolledFrom sql.NullString
		side       string
		status     string
	)
	if err := row.Scan(&t.ID, &t.Ticker, &side, &status, &rolledFrom,
		&t.ExpirationDate, &t.TransactionDate, &t.BuyBackDate, &t.Strike, &t.PremiumReceived,
		&t.Fees, &t.ClosingFees, &t.BuyBackPrice, &t.NetPremiumReceived, &t.Contracts, &t.Assigned); err != nil {
		return nil, err
	}
	t.Side = models.TradeSide(side)
	t.Status = models.TradeStatus(status)
	t.RolledFromID = rolledFrom.String
	return &t, nil
}

func tradeArgs(t *models.Trade) []any {
	var rolledFrom sql.NullString
	if t.RolledFromID != "" {
		rolledFrom = sql.NullString{String: t.RolledFromID, Valid: true}
	}
	return []any{t.ID, t.Ticker, string(t.Side), string(t.Status), rolledFrom,
		t.ExpirationDate, t.TransactionDate, t.BuyBackDate, t.Strike.String(), t.PremiumReceived.String(),
		t.Fees.String(), t.ClosingFees.String(), t.BuyBackPrice, t.NetPremiumReceived, t.Contracts, t.Assigned}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTrade(ctx context.Context, db execer, t *models.Trade) error {
	_, err := db.ExecContext(ctx, `INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, tradeArgs(t)...)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: trade %s: %v", ErrDuplicateID, t.ID, err)
	}
	return err
}

func updateTrade(ctx context.Context, db execer, t *models.Trade) error {
	_, err := db.ExecContext(ctx, `
		UPDATE trades SET status = ?, buy_back_date = ?, closing_fees = ?,
			buy_back_price = ?, net_premium_received = ?, assigned = ?,
			premium_received = ?, fees = ?, expiration_date = ?, transaction_date = ?
		WHERE id = ?`,
		string(t.Status), t.BuyBackDate, t.ClosingFees.String(),
		t.BuyBackPrice, t.NetPremiumReceived, t.Assigned,
		t.PremiumReceived.String(), t.Fees.String(), t.ExpirationDate, t.TransactionDate,
		t.ID)
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// withTx runs fn inside a transaction, committing on success.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func getTrade(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id string) (*models.Trade, error) {
	t, err := scanTrade(q.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTradeNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading trade %s: %w", id, err)
	}
	return t, nil
}

// CreateTrade inserts t, assigning an ID when t has none.
func (s *SQLiteStorage) CreateTrade(ctx context.Context, t *models.Trade) (string, error) {
	if t.RolledFromID != "" {
		return "", fmt.Errorf("%w: roll successors are created with SaveRoll", ErrRollChain)
	}
	if err := t.ValidateState(); err != nil {
		return "", err
	}

	stored := t.Copy()
	if stored.ID == "" {
		stored.ID = s.opts.newID()
	}
	if err := insertTrade(ctx, s.db, stored); err != nil {
		return "", fmt.Errorf("creating trade: %w", err)
	}
	t.ID = stored.ID
	return stored.ID, nil
}

// GetTrade loads the trade with the given ID.
func (s *SQLiteStorage) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	return getTrade(ctx, s.db, id)
}

// UpdateTrade replaces the stored trade after checking the update rules.
func (s *SQLiteStorage) UpdateTrade(ctx context.Context, t *models.Trade) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := getTrade(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		if err := checkUpdate(stored, t); err != nil {
			return err
		}
		if err := updateTrade(ctx, tx, t); err != nil {
			return fmt.Errorf("updating trade %s: %w", t.ID, err)
		}
		return nil
	})
}

// FindTrade returns the first trade, in creation order, matching pred.
func (s *SQLiteStorage) FindTrade(ctx context.Context, pred func(*models.Trade) bool) (*models.Trade, error) {
	trades, err := s.ListTrades(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range trades {
		if pred(t) {
			return t, nil
		}
	}
	return nil, ErrTradeNotFound
}

// ListTrades returns every trade in creation order.
func (s *SQLiteStorage) ListTrades(ctx context.Context) ([]*models.Trade, error) {
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades ORDER BY seq`)
}

// TradesForTicker returns the ticker's trades in creation order.
func (s *SQLiteStorage) TradesForTicker(ctx context.Context, ticker string) ([]*models.Trade, error) {
	return s.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades WHERE underlying_ticker = ? ORDER BY seq`, ticker)
}

func (s *SQLiteStorage) queryTrades(ctx context.Context, query string, args ...any) ([]*models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	results := make([]*models.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

// SaveRoll updates the Rolled predecessor and inserts its successor in one transaction.
func (s *SQLiteStorage) SaveRoll(ctx context.Context, rolled, successor *models.Trade) (string, error) {
	stored := successor.Copy()
	if stored.ID == "" {
		stored.ID = s.opts.newID()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getTrade(ctx, tx, rolled.ID)
		if err != nil {
			return err
		}
		if err := checkRoll(current, rolled, successor); err != nil {
			return err
		}
		if err := updateTrade(ctx, tx, rolled); err != nil {
			return fmt.Errorf("updating rolled trade %s: %w", rolled.ID, err)
		}
		if err := insertTrade(ctx, tx, stored); err != nil {
			return fmt.Errorf("creating successor of %s: %w", rolled.ID, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	successor.ID = stored.ID
	return stored.ID, nil
}

// AddStockSale inserts sale, assigning an ID when it has none.
func (s *SQLiteStorage) AddStockSale(ctx context.Context, sale *models.StockSale) (string, error) {
	id := sale.ID
	if id == "" {
		id = s.opts.newID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_sales (id, ticker, sell_date, sell_price, fees, shares)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, sale.Ticker, sale.Date, sale.Price.String(), sale.Fees.String(), sale.Shares)
	if isUniqueViolation(err) {
		return "", fmt.Errorf("%w: stock sale %s", ErrDuplicateID, id)
	}
	if err != nil {
		return "", fmt.Errorf("creating stock sale: %w", err)
	}
	sale.ID = id
	return id, nil
}

// StockSales returns the ticker's stock sales in creation order. An empty
// ticker returns every sale.
func (s *SQLiteStorage) StockSales(ctx context.Context, ticker string) ([]*models.StockSale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticker, sell_date, sell_price, fees, shares
		FROM stock_sales WHERE ? = '' OR ticker = ? ORDER BY seq`, ticker, ticker)
	if err != nil {
		return nil, fmt.Errorf("querying stock sales: %w", err)
	}
	defer rows.Close()

	results := make([]*models.StockSale, 0)
	for rows.Next() {
		var sale models.StockSale
		if err := rows.Scan(&sale.ID, &sale.Ticker, &sale.Date, &sale.Price, &sale.Fees, &sale.Shares); err != nil {
			return nil, fmt.Errorf("scanning stock sale: %w", err)
		}
		results = append(results, &sale)
	}
	return results, rows.Err()
}

// Reset deletes every record
func (s *SQLiteStorage) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"trades", "stock_sales"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}
		return nil
	})
}
