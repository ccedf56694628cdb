package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type AccountStore struct {
	db *sqlx.DB
}

func NewAccountStore(db *sqlx.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) List(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Name     string `db:"name"`
		SourceID string `db:"source_id"`
	}
	if err := sqlx.SelectContext(ctx, executor(ctx, s.db), &rows, `SELECT name, source_id FROM accounts`); err != nil {
		return nil, err
	}

	accounts := make(map[string]string, len(rows))
	for _, r := range rows {
		accounts[r.Name] = r.SourceID
	}
	return accounts, nil
}

func (s *AccountStore) UpsertBatch(ctx context.Context, accounts map[string]string) error {
	if len(accounts) == 0 {
		return nil
	}

	query := `
		INSERT INTO accounts (name, source_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			updated_at = EXCLUDED.updated_at`

	exec := executor(ctx, s.db)
	for name, id := range accounts {
		if _, err := exec.ExecContext(ctx, query, name, id); err != nil {
			return err
		}
	}
	return nil
}
