// Package postgres keeps coverage, item tables and the account cache in
// PostgreSQL. Schema lives in migrations/.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"mp_harvester/internal/domain"
)

// Store combines the per-table stores behind the same contract as the file
// backend. Save is transactional: items and coverage commit together.
type Store struct {
	tm       *TransactionManager
	coverage *CoverageStore
	items    *ItemStore
	accounts *AccountStore
	location *time.Location
}

func New(db *sqlx.DB, loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{
		tm:       NewTransactionManager(db),
		coverage: NewCoverageStore(db, loc),
		items:    NewItemStore(db),
		accounts: NewAccountStore(db),
		location: loc,
	}
}

// Open connects and pings the database.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	return db, nil
}

func (s *Store) LoadCoverage(ctx context.Context, source string) (domain.CoverageState, error) {
	state, err := s.coverage.Get(ctx, source)
	if err != nil {
		return state, fmt.Errorf("load coverage: %w", err)
	}
	return state, nil
}

func (s *Store) LoadItems(ctx context.Context, source string) (*domain.ItemTable, error) {
	rows, err := s.items.ListBySource(ctx, source, s.location)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	return domain.NewItemTable(rows...), nil
}

// Save inserts rows not yet stored and replaces the coverage in one transaction.
// Only rows missing from the database are sent.
func (s *Store) Save(ctx context.Context, state domain.CoverageState, table *domain.ItemTable) error {
	return s.tm.WithTransaction(ctx, func(ctx context.Context) error {
		stored, err := s.items.IDs(ctx, state.Source)
		if err != nil {
			return fmt.Errorf("list item ids: %w", err)
		}

		var fresh []domain.ListingItem
		for _, it := range table.Rows() {
			if _, ok := stored[it.ID]; !ok {
				fresh = append(fresh, it)
			}
		}

		if _, err := s.items.InsertBatch(ctx, state.Source, fresh); err != nil {
			return fmt.Errorf("save items: %w", err)
		}
		if err := s.coverage.Upsert(ctx, state); err != nil {
			return fmt.Errorf("save coverage: %w", err)
		}
		return nil
	})
}

func (s *Store) Reset(ctx context.Context, source string) error {
	return s.tm.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.items.DeleteBySource(ctx, source); err != nil {
			return fmt.Errorf("reset items: %w", err)
		}
		if err := s.coverage.Delete(ctx, source); err != nil {
			return fmt.Errorf("reset coverage: %w", err)
		}
		return nil
	})
}

func (s *Store) Sources(ctx context.Context) ([]string, error) {
	sources, err := s.coverage.Sources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

func (s *Store) LoadAccounts(ctx context.Context) (map[string]string, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	return accounts, nil
}

func (s *Store) SaveAccounts(ctx context.Context, accounts map[string]string) error {
	return s.tm.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.accounts.UpsertBatch(ctx, accounts); err != nil {
			return fmt.Errorf("save accounts: %w", err)
		}
		return nil
	})
}
