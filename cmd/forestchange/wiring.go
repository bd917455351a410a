package main

import (
	"context"
	"fmt"
	"io"

	"github.com/forest-guardian/forest-change-detection/internal/cache"
	"github.com/forest-guardian/forest-change-detection/internal/config"
	"github.com/forest-guardian/forest-change-detection/internal/delivery"
	"github.com/forest-guardian/forest-change-detection/internal/landsat"
	"github.com/forest-guardian/forest-change-detection/internal/ml"
	"github.com/forest-guardian/forest-change-detection/internal/notification"
	"github.com/forest-guardian/forest-change-detection/internal/store"
	"github.com/forest-guardian/forest-change-detection/output"
	"go.uber.org/zap"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func newSource(cfg *config.Config) (delivery.RasterSource, error) {
	dir := landsat.NewDirectorySource(cfg.Source.Root, cfg.Bands(), logger)
	if cfg.Source.Kind != config.SourceProcessAPI {
		return dir, nil
	}
	api, err := landsat.NewProcessAPISource(dir, cfg.Source.IntervalDays, logger)
	if err != nil {
		return nil, err
	}
	return api, nil
}

// newTrainer builds the configured backend. The closer releases the remote
// connection.
func newTrainer(cfg *config.Config) (ml.Trainer, io.Closer, error) {
	if cfg.Model.Backend == config.BackendRemote {
		conn, err := ml.DialClassifier(cfg.Model.RemoteAddress)
		if err != nil {
			return nil, nil, err
		}
		return &ml.RemoteTrainer{Conn: conn, Seed: cfg.ModelSeed()}, conn, nil
	}

	local := &ml.ForestTrainer{
		Params:  forestParams(cfg),
		Options: ml.TrainOptions{Workers: cfg.Processing.Workers, ShowProgress: !noProgress},
		Logger:  logger,
	}
	if !cfg.Model.Persist {
		return local, nopCloser{}, nil
	}
	return &ml.CachedTrainer{
		Inner:  local,
		Cache:  cache.NewFileCache[ml.ForestSnapshot]("models"),
		Logger: logger,
	}, nopCloser{}, nil
}

func forestParams(cfg *config.Config) ml.ForestParams {
	return ml.ForestParams{
		Trees:    cfg.Model.Trees,
		MaxDepth: cfg.Model.MaxDepth,
		MinLeaf:  cfg.Model.MinLeaf,
		Seed:     cfg.ModelSeed(),
	}
}

// openStore returns nil when no store is configured.
func openStore(ctx context.Context, cfg *config.Config) (*store.RunStore, error) {
	if cfg.Store.Driver == "" {
		return nil, nil
	}
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
}

func newPipeline(ctx context.Context, cfg *config.Config) (*delivery.Pipeline, func(), error) {
	source, err := newSource(cfg)
	if err != nil {
		return nil, nil, err
	}
	trainer, closer, err := newTrainer(cfg)
	if err != nil {
		return nil, nil, err
	}
	runs, err := openStore(ctx, cfg)
	if err != nil {
		closer.Close()
		return nil, nil, err
	}

	p := &delivery.Pipeline{
		Config:       cfg,
		Source:       source,
		Trainer:      trainer,
		Notifier:     notification.NewDiscord(),
		Logger:       logger,
		ShowProgress: !noProgress,
	}
	if cfg.Export.Enabled {
		p.Sink = output.NewGeoTIFFSink(output.ResultDir(cfg.AOI.Value), logger)
	}
	if runs != nil {
		p.Recorder = runs
	}

	cleanup := func() {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close classifier connection", zap.Error(err))
		}
		if runs != nil {
			runs.Close()
		}
	}
	return p, cleanup, nil
}
