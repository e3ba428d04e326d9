package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olyamironova/solbot-sim/internal/domain"
	"github.com/olyamironova/solbot-sim/internal/port"
	"github.com/shopspring/decimal"
)

var (
	_ port.Repository = (*PgRepo)(nil)
	_ port.Tx         = (*pgTx)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS portfolios (
  user_id       TEXT PRIMARY KEY,
  quote_balance NUMERIC NOT NULL,
  base_balance  NUMERIC NOT NULL,
  total_value   NUMERIC NOT NULL,
  last_updated  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS trades (
  id             TEXT PRIMARY KEY,
  user_id        TEXT NOT NULL,
  side           TEXT NOT NULL,
  base_amount    NUMERIC NOT NULL,
  executed_price NUMERIC NOT NULL,
  realized_pnl   NUMERIC NOT NULL,
  occurred_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_user_time ON trades (user_id, occurred_at DESC, id DESC);
CREATE TABLE IF NOT EXISTS sessions (
  user_id    TEXT PRIMARY KEY,
  config     JSONB NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

type PgRepo struct {
	pool *pgxpool.Pool
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// call Close when finish to work with database.
func NewPgRepo(ctx context.Context, dsn string) (*PgRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	return &PgRepo{pool: pool}, nil
}

// Migrate creates the tables if they do not exist.
func (p *PgRepo) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pg: migrate: %w", err)
	}
	return nil
}

func (p *PgRepo) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PgRepo) Close(ctx context.Context) {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PgRepo) AppendTrade(ctx context.Context, userID string, t domain.Trade) error {
	return appendTrade(ctx, p.pool, userID, t)
}

func appendTrade(ctx context.Context, db execer, userID string, t domain.Trade) error {
	_, err := db.Exec(ctx, `
INSERT INTO trades(id, user_id, side, base_amount, executed_price, realized_pnl, occurred_at)
VALUES($1,$2,$3,$4::numeric,$5::numeric,$6::numeric,$7)
ON CONFLICT (id) DO NOTHING
`, t.ID, userID, string(t.Side), t.BaseAmount.String(), t.ExecutedPrice.String(), t.RealizedPnl.String(), t.OccurredAt)
	return wrap(err)
}

// ListTrades returns trades newest first.
func (p *PgRepo) ListTrades(ctx context.Context, userID string, limit int) ([]domain.Trade, error) {
	q := `
SELECT id, side, base_amount::text, executed_price::text, realized_pnl::text, occurred_at
FROM trades
WHERE user_id = $1
ORDER BY occurred_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, q, args...)
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
		)
		if err := rows.Scan(&t.ID, &side, &amount, &price, &pnl, &t.OccurredAt); err != nil {
			return nil, wrap(err)
		}
		t.Side = domain.Side(side)
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

func (p *PgRepo) GetPortfolio(ctx context.Context, userID string) (*domain.Balances, error) {
	var quote, base, total string
	err := p.pool.QueryRow(ctx, `
SELECT quote_balance::text, base_balance::text, total_value::text
FROM portfolios WHERE user_id = $1`, userID).Scan(&quote, &base, &total)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (p *PgRepo) UpsertPortfolio(ctx context.Context, userID string, b domain.Balances) error {
	return upsertPortfolio(ctx, p.pool, userID, b)
}

func upsertPortfolio(ctx context.Context, db execer, userID string, b domain.Balances) error {
	_, err := db.Exec(ctx, `
INSERT INTO portfolios(user_id, quote_balance, base_balance, total_value, last_updated)
VALUES($1,$2::numeric,$3::numeric,$4::numeric,NOW())
ON CONFLICT (user_id) DO UPDATE SET
  quote_balance = EXCLUDED.quote_balance,
  base_balance = EXCLUDED.base_balance,
  total_value = EXCLUDED.total_value,
  last_updated = NOW()
`, userID, b.QuoteAmount.String(), b.BaseAmount.String(), b.TotalValue.String())
	return wrap(err)
}

func (p *PgRepo) InitPortfolio(ctx context.Context, userID string, b domain.Balances) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
INSERT INTO portfolios(user_id, quote_balance, base_balance, total_value, last_updated)
VALUES($1,$2::numeric,$3::numeric,$4::numeric,NOW())
ON CONFLICT (user_id) DO NOTHING
`, userID, b.QuoteAmount.String(), b.BaseAmount.String(), b.TotalValue.String())
	if err != nil {
		return false, wrap(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PgRepo) LoadSession(ctx context.Context, userID string) (*domain.SessionConfig, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT config FROM sessions WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}
	var cfg domain.SessionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, wrap(err)
	}
	return &cfg, nil
}

func (p *PgRepo) SaveSession(ctx context.Context, userID string, cfg domain.SessionConfig) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return wrap(err)
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO sessions(user_id, config, updated_at)
VALUES($1,$2,$3)
ON CONFLICT (user_id) DO UPDATE SET config = EXCLUDED.config, updated_at = EXCLUDED.updated_at
`, userID, string(b), time.Now().UTC())
	return wrap(err)
}

func (p *PgRepo) DeleteSession(ctx context.Context, userID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return wrap(err)
}

func (p *PgRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pg: begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) AppendTrade(ctx context.Context, userID string, tr domain.Trade) error {
	return appendTrade(ctx, t.tx, userID, tr)
}

func (t *pgTx) UpsertPortfolio(ctx context.Context, userID string, b domain.Balances) error {
	return upsertPortfolio(ctx, t.tx, userID, b)
}

func (t *pgTx) ResetAccount(ctx context.Context, userID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM trades WHERE user_id = $1`, userID); err != nil {
		return wrap(err)
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM portfolios WHERE user_id = $1`, userID)
	return wrap(err)
}

func (t *pgTx) Commit(ctx context.Context) error { return wrap(t.tx.Commit(ctx)) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// wrap marks driver errors as domain.ErrUnavailable.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}
