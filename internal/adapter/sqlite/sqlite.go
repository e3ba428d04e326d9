package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/olyamironova/solbot-sim/internal/port"
	"github.com/shopspring/decimal"
)

var (
	_ port.Repository = (*Repo)(nil)
	_ port.Tx         = (*sqliteTx)(nil)
)

// Decimals are stored as TEXT and times as unix nanoseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS portfolios (
  user_id       TEXT PRIMARY KEY,
  quote_balance TEXT NOT NULL,
  base_balance  TEXT NOT NULL,
  total_value   TEXT NOT NULL,
  last_updated  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS trades (
  id             TEXT PRIMARY KEY,
  user_id        TEXT NOT NULL,
  side           TEXT NOT NULL,
  base_amount    TEXT NOT NULL,
  executed_price TEXT NOT NULL,
  realized_pnl   TEXT NOT NULL,
  occurred_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_user_time ON trades (user_id, occurred_at);
CREATE TABLE IF NOT EXISTS sessions (
  user_id    TEXT PRIMARY KEY,
  config     TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
`

type Repo struct {
	db *sql.DB
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// New opens the database at path and creates the schema.
func New(path string) (*Repo, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// one writer; also keeps ":memory:" on a single shared connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close(ctx context.Context) {
	_ = r.db.Close()
}

func (r *Repo) AppendTrade(ctx context.Context, userID string, t domain.Trade) error {
	return appendTrade(ctx, r.db, userID, t)
}

func appendTrade(ctx context.Context, db execer, userID string, t domain.Trade) error {
	_, err := db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
		(id, user_id, side, base_amount, executed_price, realized_pnl, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, userID, string(t.Side), t.BaseAmount.String(),
		t.ExecutedPrice.String(), t.RealizedPnl.String(), t.OccurredAt.UnixNano(),
	)
	return wrap(err)
}

func (r *Repo) ListTrades(ctx context.Context, userID string, limit int) ([]domain.Trade, error) {
	q := `
		SELECT id, side, base_amount, executed_price, realized_pnl, occurred_at
		FROM trades WHERE user_id = ?
		ORDER BY occurred_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var res []domain.Trade
	for rows.Next() {
		var (
			t                  domain.Trade
			side               string
			amount, price, pnl string
			at                 int64
		)
		if err := rows.Scan(&t.ID, &side, &amount, &price, &pnl, &at); err != nil {
			return nil, wrap(err)
		}
		t.Side = domain.Side(side)
		t.OccurredAt = time.Unix(0, at).UTC()
		if t.BaseAmount, err = decimal.NewFromString(amount); err != nil {
			return nil, wrap(err)
		}
		if t.ExecutedPrice, err = decimal.NewFromString(price); err != nil {
			return nil, wrap(err)
		}
		if t.RealizedPnl, err = decimal.NewFromString(pnl); err != nil {
			return nil, wrap(err)
		}
		res = append(res, t)
	}
	return res, wrap(rows.Err())
}

func (r *Repo) GetPortfolio(ctx context.Context, userID string) (*domain.Balances, error) {
	var quote, base, total string
	err := r.db.QueryRowContext(ctx, `
		SELECT quote_balance, base_balance, total_value
		FROM portfolios WHERE user_id = ?`, userID).Scan(&quote, &base, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	var b domain.Balances
	if b.QuoteAmount, err = decimal.NewFromString(quote); err != nil {
		return nil, wrap(err)
	}
	if b.BaseAmount, err = decimal.NewFromString(base); err != nil {
		return nil, wrap(err)
	}
	if b.TotalValue, err = decimal.NewFromString(total); err != nil {
		return nil, wrap(err)
	}
	return &b, nil
}

func (r *Repo) UpsertPortfolio(ctx context.Context, userID string, b domain.Balances) error {
	return upsertPortfolio(ctx, r.db, userID, b)
}

func upsertPortfolio(ctx context.Context, db execer, userID string, b domain.Balances) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO portfolios (user_id, quote_balance, base_balance, total_value, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
		  quote_balance = excluded.quote_balance,
		  base_balance = excluded.base_balance,
		  total_value = excluded.total_value,
		  last_updated = excluded.last_updated`,
		userID, b.QuoteAmount.String(), b.BaseAmount.String(), b.TotalValue.String(), time.Now().UnixNano(),
	)
	return wrap(err)
}

func (r *Repo) InitPortfolio(ctx context.Context, userID string, b domain.Balances) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO portfolios (user_id, quote_balance, base_balance, total_value, last_updated)
		VALUES (?, ?, ?, ?, ?)`,
		userID, b.QuoteAmount.String(), b.BaseAmount.String(), b.TotalValue.String(), time.Now().UnixNano(),
	)
	if err != nil {
		return false, wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap(err)
	}
	return n == 1, nil
}

func (r *Repo) LoadSession(ctx context.Context, userID string) (*domain.SessionConfig, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT config FROM sessions WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	var cfg domain.SessionConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, wrap(err)
	}
	return &cfg, nil
}

func (r *Repo) SaveSession(ctx context.Context, userID string, cfg domain.SessionConfig) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return wrap(err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, config, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at`,
		userID, string(b), time.Now().UnixNano(),
	)
	return wrap(err)
}

func (r *Repo) DeleteSession(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	return wrap(err)
}

func (r *Repo) BeginTx(ctx context.Context) (port.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) AppendTrade(ctx context.Context, userID string, tr domain.Trade) error {
	return appendTrade(ctx, t.tx, userID, tr)
}

func (t *sqliteTx) UpsertPortfolio(ctx context.Context, userID string, b domain.Balances) error {
	return upsertPortfolio(ctx, t.tx, userID, b)
}

func (t *sqliteTx) ResetAccount(ctx context.Context, userID string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM trades WHERE user_id = ?`, userID); err != nil {
		return wrap(err)
	}
	_, err := t.tx.ExecContext(ctx, `DELETE FROM portfolios WHERE user_id = ?`, userID)
	return wrap(err)
}

func (t *sqliteTx) Commit(ctx context.Context) error { return wrap(t.tx.Commit()) }
func (t *sqliteTx) Rollback(ctx context.Context) error { return t.tx.Rollback() }

// wrap marks driver errors as domain.ErrUnavailable.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}
