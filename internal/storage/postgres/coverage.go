package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"mp_harvester/internal/domain"
)

type CoverageStore struct {
	db       *sqlx.DB
	location *time.Location
}

func NewCoverageStore(db *sqlx.DB, loc *time.Location) *CoverageStore {
	if loc == nil {
		loc = time.Local
	}
	return &CoverageStore{db: db, location: loc}
}

// Get returns an empty coverage for sources that were never synchronized.
func (s *CoverageStore) Get(ctx context.Context, source string) (domain.CoverageState, error) {
	state := domain.CoverageState{Source: source}

	var row struct {
		Begin string `db:"begin_date"`
		End   string `db:"end_date"`
	}
	query := `
		SELECT to_char(begin_date, 'YYYY-MM-DD') AS begin_date,
		       to_char(end_date, 'YYYY-MM-DD') AS end_date
		FROM coverage
		WHERE source = $1`

	err := sqlx.GetContext(ctx, executor(ctx, s.db), &row, query, source)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return state, err
	}

	covered, err := domain.ParseStoredInterval(row.Begin, row.End, s.location)
	if err != nil {
		return state, fmt.Errorf("coverage %s: %w", source, err)
	}
	state.Covered = covered
	return state, nil
}

func (s *CoverageStore) Upsert(ctx context.Context, state domain.CoverageState) error {
	query := `
		INSERT INTO coverage (source, begin_date, end_date, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (source) DO UPDATE SET
			begin_date = EXCLUDED.begin_date,
			end_date = EXCLUDED.end_date,
			updated_at = EXCLUDED.updated_at`

	_, err := executor(ctx, s.db).ExecContext(ctx, query,
		state.Source,
		state.Covered.Begin.Format(domain.DateLayout),
		state.Covered.End.Format(domain.DateLayout),
	)
	return err
}

func (s *CoverageStore) Delete(ctx context.Context, source string) error {
	_, err := executor(ctx, s.db).ExecContext(ctx, `DELETE FROM coverage WHERE source = $1`, source)
	return err
}

func (s *CoverageStore) Sources(ctx context.Context) ([]string, error) {
	var sources []string
	err := sqlx.SelectContext(ctx, executor(ctx, s.db), &sources, `SELECT source FROM coverage ORDER BY source`)
	return sources, err
}
