package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"mp_harvester/internal/domain"
)

// Store persists per-source coverage and item tables.
type Store interface {
	LoadCoverage(ctx context.Context, source string) (domain.CoverageState, error)
	LoadItems(ctx context.Context, source string) (*domain.ItemTable, error)
	Save(ctx context.Context, state domain.CoverageState, table *domain.ItemTable) error
	Reset(ctx context.Context, source string) error
	Sources(ctx context.Context) ([]string, error)
}

type AccountCache interface {
	LoadAccounts(ctx context.Context) (map[string]string, error)
	SaveAccounts(ctx context.Context, accounts map[string]string) error
}

type Directory interface {
	SearchAccount(ctx context.Context, name string) (domain.Account, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, sourceID string, remaining domain.Interval, maxItems int) ([]domain.ListingItem, domain.WalkStop, error)
}

type Retriever interface {
	Run(ctx context.Context, tasks []domain.RetrievalTask, concurrency int) domain.RetrievalSummary
}

type Publisher interface {
	PublishMaterialized(ctx context.Context, res domain.RetrievalResult) error
	Close() error
}
