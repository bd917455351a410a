package ml

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/forest-guardian/forest-change-detection/internal/dataset"
	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"github.com/forest-guardian/forest-change-detection/internal/utils"
	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
)

var ErrNotTrained = errors.New("classifier not trained")

const BandClassification = "classification"

// Classifier wraps a Trainer and applies the trained model to feature stacks.
type Classifier struct {
	Trainer      Trainer
	Workers      int
	ShowProgress bool
	Logger       *zap.Logger

	mu        sync.RWMutex
	predictor Predictor
}

func NewClassifier(trainer Trainer, workers int, logger *zap.Logger) *Classifier {
	return &Classifier{Trainer: trainer, Workers: workers, Logger: logger}
}

func (c *Classifier) Train(ctx context.Context, set *dataset.SampleSet) error {
	if set == nil || set.Len() == 0 {
		return fmt.Errorf("%w: empty training set", dataset.ErrInsufficientSamples)
	}
	p, err := c.Trainer.Train(ctx, set)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.predictor = p
	c.mu.Unlock()
	return nil
}

func (c *Classifier) trained() (Predictor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.predictor == nil {
		return nil, ErrNotTrained
	}
	return c.predictor, nil
}

func (c *Classifier) Predict(ctx context.Context, rows [][]float64) ([]int, error) {
	p, err := c.trained()
	if err != nil {
		return nil, err
	}
	return p.PredictBatch(ctx, rows)
}

// Classify predicts a class for every pixel of stack holding valid values in
// all feature bands. Other pixels are invalid in the output.
func (c *Classifier) Classify(ctx context.Context, stack *raster.Raster) (*raster.Raster, error) {
	p, err := c.trained()
	if err != nil {
		return nil, err
	}

	features := make([]raster.Band, len(delta.FeatureBands))
	for i, name := range delta.FeatureBands {
		if features[i], err = stack.Band(name); err != nil {
			return nil, fmt.Errorf("classify: %w", err)
		}
	}

	grid := stack.Grid
	out := raster.NewBand(BandClassification, grid.Pixels())

	workers := c.Workers
	if workers < 1 {
		workers = 1
	}
	var (
		wp          = workerpool.New(workers)
		progressBar = utils.NewProgressBar(grid.Height, "Classifying pixels", c.ShowProgress)
		errChan     = make(chan error, 1)
		stop        sync.Once
	)

	for y := 0; y < grid.Height; y++ {
		row := y
		wp.Submit(func() {
			if err := ctx.Err(); err != nil {
				stop.Do(func() { errChan <- err })
				return
			}

			var (
				pixels []int
				batch  [][]float64
			)
			for x := 0; x < grid.Width; x++ {
				i := grid.Index(x, row)
				if !validInAll(features, i) {
					continue
				}
				f := make([]float64, len(features))
				for k, b := range features {
					f[k] = b.Values[i]
				}
				pixels = append(pixels, i)
				batch = append(batch, f)
			}
			if len(batch) > 0 {
				labels, err := p.PredictBatch(ctx, batch)
				if err != nil {
					stop.Do(func() { errChan <- fmt.Errorf("row %d: %w", row, err) })
					return
				}
				if len(labels) != len(batch) {
					stop.Do(func() {
						errChan <- fmt.Errorf("row %d: %d predictions for %d pixels", row, len(labels), len(batch))
					})
					return
				}
				for k, i := range pixels {
					out.Set(i, float64(labels[k]))
				}
			}
			_ = progressBar.Add(1)
		})
	}
	wp.StopWait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}

	result, err := raster.New(grid, stack.Acquired, out)
	if err != nil {
		return nil, err
	}
	logger(c.Logger).Info("pixels classified", zap.Int("pixels", out.ValidCount()))
	return result, nil
}

func validInAll(bands []raster.Band, i int) bool {
	for _, b := range bands {
		if !b.Valid[i] {
			return false
		}
	}
	return true
}
