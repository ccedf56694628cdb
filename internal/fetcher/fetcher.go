package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"mp_harvester/internal/domain"
)

const (
	defaultPageSize       = 5
	defaultRequestTimeout = 30 * time.Second
)

// Lister is the listing side of the authenticated client.
// ListPage returns items newest first; an empty slice means the listing is exhausted.
type Lister interface {
	ListPage(ctx context.Context, sourceID string, offset, count int) ([]domain.ListingItem, error)
	IsValidContentLink(link string) bool
}

// Config holds pagination settings.
type Config struct {
	PageSize          int
	RequestTimeout    time.Duration
	RequestsPerSecond float64
}

// Fetcher walks a reverse-chronological, offset-paginated listing.
type Fetcher struct {
	lister   Lister
	pageSize int
	timeout  time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
}

func New(lister Lister, cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Fetcher{
		lister:   lister,
		pageSize: cfg.PageSize,
		timeout:  cfg.RequestTimeout,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
	}
}

// Fetch collects listing items for sourceID until the listing is exhausted, a
// page reaches past remaining.Begin, or maxItems (when > 0) is reached. The
// returned WalkStop tells which of the three ended the walk.
//
// Items are returned newest first. Items older than remaining.Begin on the last
// page are kept; windowing individual items is up to the caller. A page error
// aborts the walk: it cannot be resumed from the middle.
func (f *Fetcher) Fetch(ctx context.Context, sourceID string, remaining domain.Interval, maxItems int) ([]domain.ListingItem, domain.WalkStop, error) {
	logger := f.logger.With("source_id", sourceID, "remaining", remaining.String())

	var (
		items []domain.ListingItem
		seen  = make(map[string]struct{})
	)

	for offset := 0; ; offset += f.pageSize {
		page, err := f.page(ctx, sourceID, offset)
		if err != nil {
			return nil, "", fmt.Errorf("fetch page at offset %d: %w", offset, err)
		}

		if len(page) == 0 {
			logger.Debug("listing exhausted", "offset", offset, "total", len(items))
			return items, domain.WalkExhausted, nil
		}

		for _, it := range page {
			if !f.lister.IsValidContentLink(it.ContentURL) {
				logger.Debug("dropping item with invalid link", "id", it.ID, "title", it.Title)
				continue
			}
			if _, dup := seen[it.ID]; dup {
				continue
			}
			seen[it.ID] = struct{}{}
			items = append(items, it)
		}

		logger.Debug("fetched page",
			"offset", offset,
			"items", len(page),
			"total", len(items),
		)

		if page[len(page)-1].CreatedAt.Before(remaining.Begin) {
			return items, domain.WalkPassedBegin, nil
		}

		if maxItems > 0 && len(items) >= maxItems {
			logger.Warn("item cap reached before window begin", "max_items", maxItems, "total", len(items))
			return items, domain.WalkCapped, nil
		}
	}
}

func (f *Fetcher) page(ctx context.Context, sourceID string, offset int) ([]domain.ListingItem, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	return f.lister.ListPage(reqCtx, sourceID, offset, f.pageSize)
}
