package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"mp_harvester/internal/coverage"
	"mp_harvester/internal/domain"
)

// Options are the knobs shared by synchronization and materialization.
type Options struct {
	MaxItems     int
	Concurrency  int
	MaxRetries   int
	Timeout      time.Duration
	MinSizeBytes int64

	OutputDir string
	Extension string

	// Sources and LookbackDays drive RunOnce.
	Sources      []string
	LookbackDays int
	Location     *time.Location
}

// SourceStatus summarizes what is stored for one source.
type SourceStatus struct {
	Source  string
	Covered domain.Interval
	Items   int
	Newest  time.Time
	Oldest  time.Time
}

type Harvester struct {
	store     Store
	accounts  AccountCache
	directory Directory
	fetcher   Fetcher
	retriever Retriever
	publisher Publisher
	logger    *slog.Logger
	opts      Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	now   func() time.Time
}

func NewHarvester(
	store Store,
	accounts AccountCache,
	directory Directory,
	fetcher Fetcher,
	retriever Retriever,
	publisher Publisher,
	logger *slog.Logger,
	opts Options,
) *Harvester {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Harvester{
		store:     store,
		accounts:  accounts,
		directory: directory,
		fetcher:   fetcher,
		retriever: retriever,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		locks:     make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

// lock serializes work on one source; the returned func releases it.
func (h *Harvester) lock(source string) func() {
	h.mu.Lock()
	l, ok := h.locks[source]
	if !ok {
		l = &sync.Mutex{}
		h.locks[source] = l
	}
	h.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Synchronize brings the stored coverage of account up to requested. Coverage
// is only moved after a complete listing walk that returned items; a walk cut
// short by MaxItems saves its rows but keeps the old coverage. On any failure
// the stored state is left as it was.
func (h *Harvester) Synchronize(ctx context.Context, account domain.Account, requested domain.Interval) (*domain.SyncReport, error) {
	start := time.Now()
	logger := h.logger.With("source", account.Name)
	report := &domain.SyncReport{
		Source:    account.Name,
		SourceID:  account.ID,
		Phase:     domain.PhaseIdle,
		Requested: requested,
	}

	if requested.Begin.After(requested.End) {
		return h.fail(logger, report, start, fmt.Errorf("%w: %s", domain.ErrInvalidInterval, requested))
	}

	unlock := h.lock(account.Name)
	defer unlock()

	state, err := h.store.LoadCoverage(ctx, account.Name)
	if err != nil {
		return h.fail(logger, report, start, fmt.Errorf("load coverage: %w", err))
	}
	table, err := h.store.LoadItems(ctx, account.Name)
	if err != nil {
		return h.fail(logger, report, start, fmt.Errorf("load items: %w", err))
	}
	state.Source = account.Name
	report.Table = table
	report.CoverageBefore = state.Covered
	report.CoverageAfter = state.Covered

	remaining, updated, ok := coverage.Remaining(state.Covered, requested)
	report.Phase = domain.PhaseCoverageChecked
	if !ok {
		report.Phase = domain.PhaseDone
		report.Duration = time.Since(start)
		logger.Info("requested window already covered",
			"requested", requested.String(),
			"covered", state.Covered.String(),
		)
		return report, nil
	}
	report.Remaining = &remaining

	logger.Info("starting sync",
		"requested", requested.String(),
		"covered", state.Covered.String(),
		"remaining", remaining.String(),
		"max_items", h.opts.MaxItems,
	)

	report.Phase = domain.PhasePaginating
	items, stop, err := h.fetcher.Fetch(ctx, account.ID, remaining, h.opts.MaxItems)
	if err != nil {
		return h.fail(logger, report, start, fmt.Errorf("paginate: %w", err))
	}
	report.Discovered = len(items)
	report.Stop = stop

	if len(items) == 0 {
		report.Phase = domain.PhaseDone
		report.Duration = time.Since(start)
		logger.Warn("no items returned, coverage not extended", "remaining", remaining.String())
		return report, nil
	}

	for i := range items {
		items[i].Source = account.Name
	}
	report.Added = table.Merge(items)
	report.Phase = domain.PhaseMerged

	// a capped walk never reached remaining.Begin: keep the rows, not the window
	if stop.Complete() {
		state.Covered = updated
	} else {
		logger.Warn("walk capped before window begin, coverage not extended",
			"max_items", h.opts.MaxItems,
			"remaining", remaining.String(),
		)
	}
	if err := h.store.Save(ctx, state, table); err != nil {
		return h.fail(logger, report, start, fmt.Errorf("save: %w", err))
	}

	report.CoverageAfter = state.Covered
	report.Phase = domain.PhaseDone
	report.Duration = time.Since(start)

	logger.Info("sync completed",
		"discovered", report.Discovered,
		"added", report.Added,
		"total", table.Len(),
		"covered", state.Covered.String(),
		"duration", report.Duration,
	)
	return report, nil
}

func (h *Harvester) fail(logger *slog.Logger, report *domain.SyncReport, start time.Time, err error) (*domain.SyncReport, error) {
	report.Phase = domain.PhaseFailed
	report.Err = err
	report.Duration = time.Since(start)
	logger.Error("sync failed", "error", err)
	return report, err
}

// SynchronizeAll runs Synchronize for each account in order. A failing source
// does not stop the others, except for authentication failures and
// cancellation which end the loop.
func (h *Harvester) SynchronizeAll(ctx context.Context, accounts []domain.Account, requested domain.Interval) ([]*domain.SyncReport, error) {
	reports := make([]*domain.SyncReport, 0, len(accounts))
	for _, account := range accounts {
		report, err := h.Synchronize(ctx, account, requested)
		reports = append(reports, report)
		if err == nil {
			continue
		}
		if errors.Is(err, domain.ErrAuth) {
			return reports, fmt.Errorf("synchronize %s: %w", account.Name, err)
		}
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
	}
	return reports, nil
}

// ResolveSources maps account names to upstream ids. Cached ids are reused;
// only unknown names are searched, and new hits are written back. Names that
// match nothing are logged and left out. With no names, every cached account
// is returned.
func (h *Harvester) ResolveSources(ctx context.Context, names []string) ([]domain.Account, error) {
	cached := map[string]string{}
	if h.accounts != nil {
		loaded, err := h.accounts.LoadAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("load accounts: %w", err)
		}
		if loaded != nil {
			cached = loaded
		}
	}

	if len(names) == 0 {
		if len(cached) == 0 {
			return nil, domain.ErrNoSources
		}
		names = slices.Sorted(maps.Keys(cached))
		h.logger.Info("no sources given, using cached accounts", "sources", names)
	}

	var resolved []domain.Account
	changed := false
	for _, name := range names {
		if id, ok := cached[name]; ok {
			resolved = append(resolved, domain.Account{ID: id, Name: name})
			continue
		}

		hit, err := h.directory.SearchAccount(ctx, name)
		if errors.Is(err, domain.ErrNotFound) {
			h.logger.Warn("source not found", "source", name)
			continue
		}
		if err != nil {
			return resolved, fmt.Errorf("search %s: %w", name, err)
		}

		h.logger.Info("source resolved", "source", name, "source_id", hit.ID, "matched", hit.Name)
		cached[name] = hit.ID
		changed = true
		resolved = append(resolved, domain.Account{ID: hit.ID, Name: name})
	}

	if changed && h.accounts != nil {
		if err := h.accounts.SaveAccounts(ctx, cached); err != nil {
			return resolved, fmt.Errorf("save accounts: %w", err)
		}
	}
	return resolved, nil
}

// Run resolves names, synchronizes them over requested and materializes every
// item of the synchronized sources that falls inside requested.
func (h *Harvester) Run(ctx context.Context, names []string, requested domain.Interval) (*domain.RunReport, error) {
	start := time.Now()
	report := &domain.RunReport{Requested: requested}

	accounts, err := h.ResolveSources(ctx, names)
	if err != nil {
		return report, fmt.Errorf("resolve sources: %w", err)
	}

	report.Syncs, err = h.SynchronizeAll(ctx, accounts, requested)
	if err != nil {
		report.Duration = time.Since(start)
		return report, err
	}

	var items []domain.ListingItem
	for _, s := range report.Syncs {
		if s.Table != nil {
			items = append(items, s.Table.Filter(requested)...)
		}
	}

	report.Retrieval = h.Materialize(ctx, items, h.opts.OutputDir, nil)
	report.Duration = time.Since(start)

	h.logger.Info("run completed",
		"sources", len(report.Syncs),
		"failed_sources", len(report.Failed()),
		"materialized", report.Retrieval.Fetched,
		"failed_items", report.Retrieval.Failed,
		"duration", report.Duration,
	)
	return report, nil
}

// RunOnce is Run over the configured sources with a window ending today and
// reaching LookbackDays back.
func (h *Harvester) RunOnce(ctx context.Context) (*domain.RunReport, error) {
	return h.Run(ctx, h.opts.Sources, h.lookbackWindow())
}

func (h *Harvester) lookbackWindow() domain.Interval {
	now := h.now().In(h.opts.Location)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, h.opts.Location)
	return domain.Interval{Begin: end.AddDate(0, 0, -h.opts.LookbackDays), End: end}
}
