package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/forest-guardian/forest-change-detection/internal/composite"
	"github.com/forest-guardian/forest-change-detection/internal/config"
	"github.com/forest-guardian/forest-change-detection/internal/dataset"
	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/landsat"
	"github.com/forest-guardian/forest-change-detection/internal/ml"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"github.com/forest-guardian/forest-change-detection/internal/store"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type RasterSource interface {
	FetchCollection(ctx context.Context, catalogID string, aoi *raster.AOI, dr raster.DateRange) (*raster.Collection, error)
	PixelAreaRaster(ctx context.Context, aoi *raster.AOI, grid raster.Grid) (*raster.Raster, error)
}

type ExportSink interface {
	ExportRaster(ctx context.Context, r *raster.Raster, aoi *raster.AOI, resolution float64, maxPixels int64, destinationID string) error
}

type RunRecorder interface {
	SaveRun(ctx context.Context, run store.Run) error
}

type Notifier interface {
	SendErrorNotification(ctx context.Context, message string) error
	SendSuccessNotification(ctx context.Context, message string) error
}

// Pipeline runs a two epoch change detection. Source is required; the other
// collaborators are optional. A nil Trainer trains a local forest with the
// configured parameters and a nil AOI is loaded from the configured file.
// Samples, when set, replace the drawn sample set, for example one written by
// Label and edited by hand.
type Pipeline struct {
	Config       *config.Config
	Source       RasterSource
	Sink         ExportSink
	Trainer      ml.Trainer
	Recorder     RunRecorder
	Notifier     Notifier
	AOI          *raster.AOI
	Samples      *dataset.SampleSet
	Logger       *zap.Logger
	ShowProgress bool

	// MemoryAvailable reports free memory in bytes; defaults to gopsutil.
	MemoryAvailable func(ctx context.Context) (uint64, error)
}

// run state shared by the stages
type execution struct {
	id      string
	aoi     *raster.AOI
	epochs  []EpochSummary
	timings []StageTiming
}

func (e *execution) aoiName() string {
	if e.aoi == nil {
		return ""
	}
	return e.aoi.Name
}

func (e *execution) timed(stage string, start time.Time) {
	e.timings = append(e.timings, StageTiming{Stage: stage, Duration: time.Since(start)})
}

// Run executes every stage, records the run and sends a notification. A failed
// stage aborts the run with a *StageError and no report.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	exec := &execution{id: uuid.NewString()}
	log := p.logger().With(zap.String("run_id", exec.id))
	log.Info("run started")

	report, err := p.run(ctx, exec)
	finished := time.Now()
	if err == nil {
		report.StartedAt = started
		report.FinishedAt = finished
		log.Info("run finished",
			zap.Duration("duration", finished.Sub(started)),
			zap.Float64("accuracy", report.Accuracy()),
			zap.Bool("training_set_accuracy", report.TrainingSetAccuracy))
	} else {
		log.Error("run failed", zap.Error(err))
	}

	p.record(ctx, exec, report, started, finished, err)
	p.notify(ctx, report, err)

	if err != nil {
		return nil, err
	}
	return report, nil
}

// Label runs the stages up to sampling and returns the labelled samples.
func (p *Pipeline) Label(ctx context.Context) (*dataset.SampleSet, error) {
	exec := &execution{id: uuid.NewString()}
	stack, err := p.featureStack(ctx, exec)
	if err != nil {
		return nil, err
	}
	return p.sample(exec, stack)
}

func (p *Pipeline) run(ctx context.Context, exec *execution) (*Report, error) {
	cfg := p.Config
	log := p.logger().With(zap.String("run_id", exec.id))

	stack, err := p.featureStack(ctx, exec)
	if err != nil {
		return nil, err
	}

	set, err := p.sample(exec, stack)
	if err != nil {
		return nil, err
	}
	train, test, err := dataset.Split(set, cfg.Sampling.TestFraction, cfg.Sampling.Seed)
	if err != nil {
		return nil, p.stageError(exec, StageSample, err)
	}

	start := time.Now()
	classifier := ml.NewClassifier(p.trainer(), cfg.Processing.Workers, p.Logger)
	classifier.ShowProgress = p.ShowProgress
	if err := classifier.Train(ctx, train); err != nil {
		return nil, p.stageError(exec, StageTrain, err)
	}
	exec.timed(StageTrain, start)

	start = time.Now()
	classification, err := classifier.Classify(ctx, stack)
	if err != nil {
		return nil, p.stageError(exec, StageClassify, err)
	}
	exec.timed(StageClassify, start)
	log.Info("classification done", zap.Duration("duration", time.Since(start)))

	var (
		matrix *ConfusionMatrix
		area   *AreaReport
	)
	start = time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pred, err := classifier.Predict(gctx, test.Features())
		if err != nil {
			return p.stageError(exec, StageAssess, err)
		}
		matrix, err = Assess(test.Labels(), pred, delta.NumClasses)
		if err != nil {
			return p.stageError(exec, StageAssess, err)
		}
		return nil
	})
	g.Go(func() error {
		areas, err := p.Source.PixelAreaRaster(gctx, exec.aoi, classification.Grid)
		if err != nil {
			return p.stageError(exec, StageArea, err)
		}
		area, err = AggregateArea(classification, areas, exec.aoi, cfg.Area.Resolution)
		if err != nil {
			return p.stageError(exec, StageArea, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	exec.timed(StageAssess, start)

	report := &Report{
		RunID:               exec.id,
		AOI:                 exec.aoiName(),
		Region:              exec.aoi,
		Epochs:              exec.epochs,
		Area:                area,
		Matrix:              matrix,
		TrainingSetAccuracy: cfg.Sampling.TestFraction == 0,
		TrainSamples:        calculateDatasetStats(train),
		TestSamples:         calculateDatasetStats(test),
		Classification:      classification,
	}

	if p.Sink != nil && cfg.Export.Enabled {
		start = time.Now()
		err := p.Sink.ExportRaster(ctx, classification, exec.aoi, cfg.Export.Resolution, cfg.Export.MaxPixels, cfg.Export.Destination)
		if err != nil {
			return nil, p.stageError(exec, StageExport, err)
		}
		report.Exported = cfg.Export.Destination
		exec.timed(StageExport, start)
	}
	report.Timings = exec.timings

	return report, nil
}

// featureStack builds both composites and returns the NDVI, delta and
// heuristic label bands on the first epoch grid.
func (p *Pipeline) featureStack(ctx context.Context, exec *execution) (*raster.Raster, error) {
	cfg := p.Config
	if err := cfg.Validate(); err != nil {
		return nil, p.stageError(exec, StageAOI, err)
	}

	aoi, err := p.loadAOI()
	if err != nil {
		return nil, p.stageError(exec, StageAOI, err)
	}
	exec.aoi = aoi

	composites := make([]*raster.Raster, len(cfg.Epochs))
	for i, epoch := range cfg.Epochs {
		c, summary, err := p.composite(ctx, exec, epoch)
		if err != nil {
			return nil, err
		}
		composites[i] = c
		exec.epochs = append(exec.epochs, summary)
	}

	start := time.Now()
	e1, e2 := composites[0], composites[1]
	if !e2.Grid.Equal(e1.Grid) {
		if e2, err = raster.Resample(e2, e1.Grid); err != nil {
			return nil, p.stageError(exec, StageIndices, err)
		}
	}

	ix, err := delta.Compute(e1, e2, mapping(cfg.Epochs[0]), mapping(cfg.Epochs[1]))
	if err != nil {
		return nil, p.stageError(exec, StageIndices, err)
	}
	stack, err := delta.FeatureStack(ix, cfg.Thresholds)
	if err != nil {
		return nil, p.stageError(exec, StageIndices, err)
	}
	exec.timed(StageIndices, start)
	return stack, nil
}

func (p *Pipeline) composite(ctx context.Context, exec *execution, epoch config.EpochConfig) (*raster.Raster, EpochSummary, error) {
	cfg := p.Config
	log := p.logger().With(zap.String("run_id", exec.id), zap.String("epoch", epoch.Name))

	dr, err := epoch.Range()
	if err != nil {
		return nil, EpochSummary{}, p.epochError(exec, StageFetch, epoch.Name, dr, err)
	}
	summary := EpochSummary{Name: epoch.Name, DateRange: dr}

	start := time.Now()
	scenes, err := p.Source.FetchCollection(ctx, epoch.Sensor.Catalog, exec.aoi, dr)
	if err != nil {
		return nil, summary, p.epochError(exec, StageFetch, epoch.Name, dr, err)
	}
	summary.Scenes = scenes.Len()
	exec.timed(StageFetch+" "+epoch.Name, start)
	log.Info("scenes fetched", zap.Int("scenes", scenes.Len()), zap.String("catalog", epoch.Sensor.Catalog))

	if scenes.Len() == 0 {
		return nil, summary, p.epochError(exec, StageComposite, epoch.Name, dr, composite.ErrEmptyCollection)
	}
	if err := p.checkBudget(ctx, scenes); err != nil {
		return nil, summary, p.epochError(exec, StageComposite, epoch.Name, dr, err)
	}

	params := landsat.MaskParams{
		QABand:    epoch.Sensor.QABand,
		CloudBit:  cfg.CloudMask.CloudBit,
		ShadowBit: cfg.CloudMask.ShadowBit,
		Scale:     cfg.CloudMask.Scale,
		Offset:    cfg.CloudMask.Offset,
	}
	masked, err := landsat.MaskCollection(scenes, params)
	if err != nil {
		return nil, summary, p.epochError(exec, StageMask, epoch.Name, dr, err)
	}

	start = time.Now()
	median, err := composite.Median(ctx, masked, exec.aoi, composite.Options{
		Workers:      cfg.Processing.Workers,
		ShowProgress: p.ShowProgress,
	})
	if err != nil {
		return nil, summary, p.epochError(exec, StageComposite, epoch.Name, dr, err)
	}
	exec.timed(StageComposite+" "+epoch.Name, start)
	log.Info("composite built", zap.Duration("duration", time.Since(start)))

	return median, summary, nil
}

func (p *Pipeline) sample(exec *execution, stack *raster.Raster) (*dataset.SampleSet, error) {
	cfg := p.Config
	start := time.Now()
	if p.Samples != nil {
		set := &dataset.SampleSet{Seed: p.Samples.Seed, Samples: append([]dataset.Sample(nil), p.Samples.Samples...)}
		if err := set.Fit(stack.Grid); err != nil {
			return nil, p.stageError(exec, StageSample, err)
		}
		p.logger().Info("using provided samples", zap.Int("samples", set.Len()))
		exec.timed(StageSample, start)
		return set, nil
	}
	sampler := dataset.Sampler{
		Count:      cfg.Sampling.Count,
		Resolution: cfg.Sampling.Resolution,
		Seed:       cfg.Sampling.Seed,
		Logger:     p.Logger,
	}
	set, err := sampler.Sample(stack, exec.aoi)
	if err != nil {
		return nil, p.stageError(exec, StageSample, err)
	}
	exec.timed(StageSample, start)
	return set, nil
}

// checkBudget fails when a scene grid exceeds processing.max_pixels and warns
// when the collection is unlikely to fit in memory.
func (p *Pipeline) checkBudget(ctx context.Context, scenes *raster.Collection) error {
	first := scenes.Images()[0]
	grid := first.Grid
	if limit := p.Config.Processing.MaxPixels; limit > 0 && int64(grid.Pixels()) > limit {
		return fmt.Errorf("%w: grid of %d pixels exceeds processing.max_pixels %d", raster.ErrInvalidInput, grid.Pixels(), limit)
	}

	need := raster.EstimateBytes(grid, len(first.BandNames())*(scenes.Len()+1))
	available, err := p.memoryAvailable(ctx)
	if err != nil {
		p.logger().Debug("memory check skipped", zap.Error(err))
		return nil
	}
	if need > available {
		p.logger().Warn("collection may not fit in memory",
			zap.Uint64("estimated_bytes", need),
			zap.Uint64("available_bytes", available))
	}
	return nil
}

func (p *Pipeline) memoryAvailable(ctx context.Context) (uint64, error) {
	if p.MemoryAvailable != nil {
		return p.MemoryAvailable(ctx)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

func (p *Pipeline) loadAOI() (*raster.AOI, error) {
	if p.AOI != nil {
		return p.AOI, nil
	}
	a := p.Config.AOI
	return raster.LoadAOI(a.Path, a.Property, a.Value)
}

func (p *Pipeline) trainer() ml.Trainer {
	if p.Trainer != nil {
		return p.Trainer
	}
	cfg := p.Config
	return &ml.ForestTrainer{
		Params: ml.ForestParams{
			Trees:    cfg.Model.Trees,
			MaxDepth: cfg.Model.MaxDepth,
			MinLeaf:  cfg.Model.MinLeaf,
			Seed:     cfg.ModelSeed(),
		},
		Options: ml.TrainOptions{
			Workers:      cfg.Processing.Workers,
			ShowProgress: p.ShowProgress,
		},
		Logger: p.Logger,
	}
}

func (p *Pipeline) record(ctx context.Context, exec *execution, report *Report, started, finished time.Time, runErr error) {
	if p.Recorder == nil {
		return
	}
	run := store.Run{
		ID:         exec.id,
		AOI:        exec.aoiName(),
		StartedAt:  started,
		FinishedAt: finished,
		Status:     store.StatusSucceeded,
		Seed:       p.Config.Sampling.Seed,
	}
	if len(p.Config.Epochs) == 2 {
		run.Epoch1 = p.Config.Epochs[0].Name
		run.Epoch2 = p.Config.Epochs[1].Name
	}
	if runErr != nil {
		run.Status = store.StatusFailed
		run.Error = runErr.Error()
	} else {
		run.Samples = report.TrainSamples.TotalSamples
		run.Accuracy = report.Accuracy()
		run.Kappa = report.Matrix.Kappa()
		run.TrainingOnly = report.TrainingSetAccuracy
		run.LossKm2 = report.Area.ClassKm2[delta.Loss]
		run.StableKm2 = report.Area.ClassKm2[delta.Stable]
		run.GainKm2 = report.Area.ClassKm2[delta.Gain]
		run.AOIKm2 = report.Area.AOIKm2
	}

	// the run context may already be cancelled
	if err := p.Recorder.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		p.logger().Warn("failed to record run", zap.String("run_id", exec.id), zap.Error(err))
	}
}

func (p *Pipeline) notify(ctx context.Context, report *Report, runErr error) {
	if p.Notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var err error
	if runErr != nil {
		err = p.Notifier.SendErrorNotification(ctx, runErr.Error())
	} else {
		err = p.Notifier.SendSuccessNotification(ctx, report.Summary())
	}
	if err != nil {
		p.logger().Warn("failed to send notification", zap.Error(err))
	}
}

func (p *Pipeline) stageError(exec *execution, stage string, err error) error {
	return &StageError{Stage: stage, AOI: exec.aoiName(), Err: err}
}

func (p *Pipeline) epochError(exec *execution, stage, epoch string, dr raster.DateRange, err error) error {
	return &StageError{Stage: stage, AOI: exec.aoiName(), Epoch: epoch, DateRange: dr, Err: err}
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func mapping(e config.EpochConfig) delta.BandMapping {
	return delta.BandMapping{NIR: e.Sensor.NIR, Red: e.Sensor.Red}
}
