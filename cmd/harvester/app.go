package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"mp_harvester/internal/config"
	"mp_harvester/internal/domain"
	"mp_harvester/internal/fetcher"
	"mp_harvester/internal/publisher"
	"mp_harvester/internal/render"
	"mp_harvester/internal/retrieval"
	"mp_harvester/internal/service"
	"mp_harvester/internal/source/wxmp"
	"mp_harvester/internal/storage/filestore"
	"mp_harvester/internal/storage/postgres"
)

// cacheStore is what both storage backends provide.
type cacheStore interface {
	service.Store
	service.AccountCache
}

type app struct {
	harvester *service.Harvester
	location  *time.Location
	closers   []io.Closer
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newApp wires every component from cfg. withClient controls whether the
// upstream session is needed; status and reset work offline.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, withClient bool) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{location: loc}

	store, err := a.openStore(ctx, cfg, loc, logger)
	if err != nil {
		return nil, err
	}

	format, err := render.ParseFormat(cfg.Retrieval.Format)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	renderer := render.New(format, cfg.Retrieval.SanitizeHTML)

	var (
		directory service.Directory
		listing   service.Fetcher
		retriever service.Retriever
	)
	if withClient {
		cookies, err := wxmp.LoadCookies(cfg.API.CookiesFile)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("load session: %w", err)
		}

		client := wxmp.New(wxmp.Config{
			BaseURL:   cfg.API.BaseURL,
			Cookies:   cookies,
			Timeout:   cfg.API.Timeout,
			UserAgent: cfg.API.UserAgent,
			Location:  loc,
		}, logger)
		if err := client.Authenticate(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("authenticate: %w", err)
		}

		directory = client
		listing = fetcher.New(client, fetcher.Config{
			PageSize:          cfg.API.PageSize,
			RequestTimeout:    cfg.API.Timeout,
			RequestsPerSecond: cfg.API.RequestsPerSecond,
		}, logger.With("component", "fetcher"))
		retriever = retrieval.New(client, renderer, retrieval.Config{
			RetryDelay: cfg.Retrieval.RetryDelay,
			Observer:   progressLogger(logger),
		}, logger.With("component", "retrieval"))
	}

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled() && withClient {
		rmq, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rmq)
		pub = rmq
	}

	a.harvester = service.NewHarvester(store, store, directory, listing, retriever, pub, logger, service.Options{
		MaxItems:     cfg.Sync.MaxItems,
		Concurrency:  cfg.Retrieval.Concurrency,
		MaxRetries:   cfg.Retrieval.MaxRetries,
		Timeout:      cfg.Retrieval.Timeout,
		MinSizeBytes: cfg.Retrieval.MinSizeBytes,
		OutputDir:    cfg.Retrieval.OutputDir,
		Extension:    renderer.Extension(),
		Sources:      cfg.Sync.Sources,
		LookbackDays: cfg.Sync.LookbackDays,
		Location:     loc,
	})
	return a, nil
}

func (a *app) openStore(ctx context.Context, cfg *config.Config, loc *time.Location, logger *slog.Logger) (cacheStore, error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := postgres.Open(ctx, cfg.Database.DSN(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db)
		logger.Info("connected to database", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)
		return postgres.New(db, loc), nil
	default:
		logger.Debug("using file cache", "dir", cfg.Sync.CacheDir)
		return filestore.New(cfg.Sync.CacheDir, loc), nil
	}
}

// progressLogger reports materialization progress every tenth of the batch.
func progressLogger(logger *slog.Logger) retrieval.Observer {
	return func(done, total int, _ domain.RetrievalResult) {
		step := total / 10
		if step == 0 {
			step = 1
		}
		if done%step == 0 || done == total {
			logger.Info("retrieval progress", "done", done, "total", total)
		}
	}
}
