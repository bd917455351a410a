package ml

import (
	"context"
	"fmt"

	"github.com/forest-guardian/forest-change-detection/internal/cache"
	"github.com/forest-guardian/forest-change-detection/internal/dataset"
	"go.uber.org/zap"
)

type Predictor interface {
	PredictBatch(ctx context.Context, rows [][]float64) ([]int, error)
}

type Trainer interface {
	Train(ctx context.Context, set *dataset.SampleSet) (Predictor, error)
}

// ForestTrainer trains a local Random Forest.
type ForestTrainer struct {
	Params  ForestParams
	Options TrainOptions
	Logger  *zap.Logger
}

func (t *ForestTrainer) Train(ctx context.Context, set *dataset.SampleSet) (Predictor, error) {
	return t.TrainForest(ctx, set)
}

func (t *ForestTrainer) TrainForest(ctx context.Context, set *dataset.SampleSet) (*Forest, error) {
	forest, err := TrainForest(ctx, set.Features(), set.Labels(), t.Params, t.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to train forest: %w", err)
	}
	logger(t.Logger).Info("forest trained",
		zap.Int("trees", t.Params.Trees),
		zap.Int("samples", set.Len()),
		zap.Int("classes", forest.NumClasses()))
	return forest, nil
}

// CachedTrainer reuses forests trained on an identical sample set with
// identical parameters.
type CachedTrainer struct {
	Inner  *ForestTrainer
	Cache  *cache.FileCache[ForestSnapshot]
	Logger *zap.Logger
}

func (t *CachedTrainer) Train(ctx context.Context, set *dataset.SampleSet) (Predictor, error) {
	p := t.Inner.Params
	key := t.Cache.GenerateKey(set.Digest(), p.Trees, p.MaxDepth, p.MinLeaf, p.Seed)

	if snapshot, ok := t.Cache.Get(key); ok {
		forest, err := NewForestFromSnapshot(snapshot)
		if err == nil {
			logger(t.Logger).Info("forest loaded from cache", zap.String("key", key))
			return forest, nil
		}
		logger(t.Logger).Warn("discarding cached forest", zap.String("key", key), zap.Error(err))
	}

	forest, err := t.Inner.TrainForest(ctx, set)
	if err != nil {
		return nil, err
	}
	if err := t.Cache.Set(key, forest.Snapshot()); err != nil {
		logger(t.Logger).Warn("failed to cache forest", zap.Error(err))
	}
	return forest, nil
}

func logger(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
