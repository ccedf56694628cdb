package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"mp_harvester/internal/domain"
	"mp_harvester/internal/fsname"
)

const metaTimeLayout = "2006-01-02 15:04:05"

// Tasks builds one retrieval task per item, writing to
// <root>/<source>/<title>.<ext> with both path parts made file-safe.
func (h *Harvester) Tasks(items []domain.ListingItem, root string) []domain.RetrievalTask {
	ext := strings.TrimPrefix(h.opts.Extension, ".")
	if ext == "" {
		ext = "md"
	}

	tasks := make([]domain.RetrievalTask, 0, len(items))
	for _, it := range items {
		tasks = append(tasks, domain.RetrievalTask{
			ItemID:       it.ID,
			Source:       it.Source,
			ContentURL:   it.ContentURL,
			Title:        it.Title,
			Destination:  filepath.Join(root, fsname.Sanitize(it.Source), fsname.Sanitize(it.Title)+"."+ext),
			MaxRetries:   h.opts.MaxRetries,
			Timeout:      h.opts.Timeout,
			MinSizeBytes: h.opts.MinSizeBytes,
			Meta: domain.Meta{
				Date:    it.CreatedAt.In(h.opts.Location).Format(metaTimeLayout),
				Link:    it.ContentURL,
				Account: it.Source,
				Digest:  it.Digest,
			},
		})
	}
	return tasks
}

// Materialize writes the content of items under root. When window is set only
// items created inside it are considered. Every newly written file is
// announced through the publisher, if one is configured.
func (h *Harvester) Materialize(ctx context.Context, items []domain.ListingItem, root string, window *domain.Interval) domain.RetrievalSummary {
	if window != nil {
		var inside []domain.ListingItem
		for _, it := range items {
			if window.Contains(it.CreatedAt) {
				inside = append(inside, it)
			}
		}
		items = inside
	}

	summary := h.retriever.Run(ctx, h.Tasks(items, root), h.opts.Concurrency)

	if h.publisher != nil {
		for _, res := range summary.Written {
			if err := h.publisher.PublishMaterialized(ctx, res); err != nil {
				h.logger.Warn("publish failed",
					"source", res.Task.Source,
					"item_id", res.Task.ItemID,
					"error", err,
				)
				continue
			}
			summary.Published++
		}
	}
	return summary
}

// MaterializeSources loads the stored tables of sources, or of every stored
// source when none are named, and materializes them into the output directory.
func (h *Harvester) MaterializeSources(ctx context.Context, sources []string, window *domain.Interval) (domain.RetrievalSummary, error) {
	if len(sources) == 0 {
		stored, err := h.store.Sources(ctx)
		if err != nil {
			return domain.RetrievalSummary{}, fmt.Errorf("list sources: %w", err)
		}
		if len(stored) == 0 {
			return domain.RetrievalSummary{}, domain.ErrNoSources
		}
		sources = stored
	}

	var items []domain.ListingItem
	for _, source := range sources {
		table, err := h.store.LoadItems(ctx, source)
		if err != nil {
			return domain.RetrievalSummary{}, fmt.Errorf("load items of %s: %w", source, err)
		}
		items = append(items, table.Rows()...)
	}
	return h.Materialize(ctx, items, h.opts.OutputDir, window), nil
}

// Status returns the stored coverage and item count of every known source.
func (h *Harvester) Status(ctx context.Context) ([]SourceStatus, error) {
	sources, err := h.store.Sources(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]SourceStatus, 0, len(sources))
	for _, source := range sources {
		state, err := h.store.LoadCoverage(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("load coverage of %s: %w", source, err)
		}
		table, err := h.store.LoadItems(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("load items of %s: %w", source, err)
		}

		st := SourceStatus{Source: source, Covered: state.Covered, Items: table.Len()}
		if rows := table.Rows(); len(rows) > 0 {
			st.Newest = rows[0].CreatedAt
			st.Oldest = rows[len(rows)-1].CreatedAt
		}
		out = append(out, st)
	}
	return out, nil
}

// Reset forgets coverage and items of the given sources.
func (h *Harvester) Reset(ctx context.Context, sources []string) error {
	for _, source := range sources {
		unlock := h.lock(source)
		err := h.store.Reset(ctx, source)
		unlock()
		if err != nil {
			return fmt.Errorf("reset %s: %w", source, err)
		}
		h.logger.Info("source reset", "source", source)
	}
	return nil
}
