// Package retrieval materializes item content to disk with a bounded worker pool.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mp_harvester/internal/domain"
	"mp_harvester/internal/retry"
)

type ContentFetcher interface {
	FetchContent(ctx context.Context, link string) ([]byte, error)
}

type Renderer interface {
	Render(title string, meta domain.Meta, raw []byte) ([]byte, error)
}

// Observer receives every result as it is collected. done counts results so far.
type Observer func(done, total int, res domain.RetrievalResult)

type Config struct {
	RetryDelay time.Duration
	Observer   Observer
}

type Scheduler struct {
	fetcher  ContentFetcher
	renderer Renderer
	config   Config
	logger   *slog.Logger
}

func New(fetcher ContentFetcher, renderer Renderer, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		fetcher:  fetcher,
		renderer: renderer,
		config:   cfg,
		logger:   logger,
	}
}

// Run processes tasks with concurrency workers and returns the tally. It never
// fails as a whole: per-task errors end up in the summary. Once ctx is done no
// further task is started; tasks already running finish on their own timeout.
func (s *Scheduler) Run(ctx context.Context, tasks []domain.RetrievalTask, concurrency int) domain.RetrievalSummary {
	start := time.Now()
	if concurrency < 1 {
		concurrency = 1
	}

	s.logger.Info("starting retrieval", "tasks", len(tasks), "concurrency", concurrency)

	taskCh := make(chan domain.RetrievalTask)
	results := make(chan domain.RetrievalResult, concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				results <- s.process(ctx, task)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(taskCh)
		s.dispatch(ctx, tasks, taskCh, results)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	summary := domain.RetrievalSummary{Total: len(tasks)}
	done := 0
	for res := range results {
		done++
		switch res.Status {
		case domain.StatusSucceeded:
			summary.Succeeded++
			summary.Fetched++
			summary.Written = append(summary.Written, res)
		case domain.StatusExisting:
			summary.Succeeded++
		case domain.StatusSkipped:
			summary.Skipped++
		case domain.StatusFailed:
			summary.Failed++
			summary.Failures = append(summary.Failures, res)
			s.logger.Error("retrieval failed",
				"title", res.Task.Title,
				"url", res.Task.ContentURL,
				"attempts", res.Attempts,
				"error", res.Err,
			)
		}
		if s.config.Observer != nil {
			s.config.Observer(done, summary.Total, res)
		}
	}

	summary.Duration = time.Since(start)
	s.logger.Info("retrieval completed",
		"succeeded", summary.Succeeded,
		"fetched", summary.Fetched,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration,
	)
	return summary
}

func (s *Scheduler) dispatch(ctx context.Context, tasks []domain.RetrievalTask, taskCh chan<- domain.RetrievalTask, results chan<- domain.RetrievalResult) {
	for i, task := range tasks {
		if !validLink(task.ContentURL) {
			results <- domain.RetrievalResult{
				Task:   task,
				Status: domain.StatusSkipped,
				Err:    fmt.Errorf("%w: content link %q", domain.ErrValidation, task.ContentURL),
			}
			continue
		}

		if ctx.Err() != nil {
			s.skipRest(ctx, tasks[i:], results)
			return
		}

		select {
		case <-ctx.Done():
			s.skipRest(ctx, tasks[i:], results)
			return
		case taskCh <- task:
		}
	}
}

func (s *Scheduler) skipRest(ctx context.Context, rest []domain.RetrievalTask, results chan<- domain.RetrievalResult) {
	s.logger.Warn("retrieval cancelled", "undispatched", len(rest))
	for _, task := range rest {
		results <- domain.RetrievalResult{Task: task, Status: domain.StatusSkipped, Err: ctx.Err()}
	}
}

func (s *Scheduler) process(ctx context.Context, task domain.RetrievalTask) domain.RetrievalResult {
	res := domain.RetrievalResult{Task: task}

	if _, err := os.Stat(task.Destination); err == nil {
		res.Status = domain.StatusExisting
		return res
	}

	// Detached so an in-flight task survives cancellation; no new attempt
	// starts after the caller is done.
	taskCtx := context.WithoutCancel(ctx)

	var content []byte
	_, err := retry.Do(taskCtx, task.MaxRetries, s.config.RetryDelay, func(rctx context.Context) error {
		if res.Attempts > 0 && ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		res.Attempts++

		attemptCtx := rctx
		if task.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(rctx, task.Timeout)
			defer cancel()
		}

		raw, err := s.fetcher.FetchContent(attemptCtx, task.ContentURL)
		if err != nil {
			if !domain.Retryable(err) {
				return retry.Permanent(err)
			}
			return err
		}

		rendered, err := s.renderer.Render(task.Title, task.Meta, raw)
		if err != nil {
			return err
		}
		content = rendered
		return nil
	})
	if err != nil {
		res.Status = domain.StatusFailed
		res.Err = err
		return res
	}

	existed, err := writeExclusive(task.Destination, content, task.MinSizeBytes)
	switch {
	case err != nil:
		res.Status = domain.StatusFailed
		res.Err = err
	case existed:
		res.Status = domain.StatusExisting
	default:
		res.Status = domain.StatusSucceeded
		res.Bytes = int64(len(content))
	}
	return res
}

// writeExclusive writes data to a temp file next to dest and links it into
// place. dest is never overwritten and never left partially written. existed
// reports that another writer created dest first.
func writeExclusive(dest string, data []byte, minSize int64) (existed bool, err error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close temp file: %w", err)
	}

	info, err := os.Stat(tmp.Name())
	if err != nil {
		return false, fmt.Errorf("stat temp file: %w", err)
	}
	if info.Size() < minSize {
		return false, fmt.Errorf("%w: %d bytes, want at least %d", domain.ErrTooSmall, info.Size(), minSize)
	}

	if err := os.Link(tmp.Name(), dest); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return true, nil
		}
		return false, fmt.Errorf("place file: %w", err)
	}
	return false, nil
}

func validLink(link string) bool {
	if link == "" {
		return false
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
