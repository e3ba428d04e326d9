package core

import (
	"context"

	"github.com/olyamironova/solbot-sim/internal/port"
)

// withTx runs fn inside a repository transaction and rolls back unless fn
// and the commit both succeed.
func withTx(ctx context.Context, repo port.Repository, fn func(ctx context.Context, tx port.Tx) error) (err error) {
	tx, err := repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}
