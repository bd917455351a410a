package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/forest-guardian/forest-change-detection/internal/composite"
	"github.com/forest-guardian/forest-change-detection/internal/config"
	"github.com/forest-guardian/forest-change-detection/internal/dataset"
	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"github.com/forest-guardian/forest-change-detection/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	l5Bands = []string{"SR_B3", "SR_B4", "QA_PIXEL"}
	l8Bands = []string{"SR_B4", "SR_B5", "QA_PIXEL"}
)

// reflectance r as a Collection 2 digital number
func dn(r float64) float64 {
	return (r + 0.2) / 0.0000275
}

type memorySource struct {
	scenes map[string][]*raster.Raster
}

func (s *memorySource) FetchCollection(ctx context.Context, catalogID string, aoi *raster.AOI, dr raster.DateRange) (*raster.Collection, error) {
	c, err := raster.NewCollection(s.scenes[catalogID]...)
	if err != nil {
		return nil, err
	}
	return c.FilterDate(dr), nil
}

func (s *memorySource) PixelAreaRaster(ctx context.Context, aoi *raster.AOI, grid raster.Grid) (*raster.Raster, error) {
	a, err := raster.PixelArea(grid)
	if err != nil {
		return nil, err
	}
	return a.Clip(aoi), nil
}

type memorySink struct {
	destination string
	resolution  float64
}

func (s *memorySink) ExportRaster(ctx context.Context, r *raster.Raster, aoi *raster.AOI, resolution float64, maxPixels int64, destinationID string) error {
	s.destination = destinationID
	s.resolution = resolution
	return nil
}

type memoryRecorder struct {
	mu   sync.Mutex
	runs []store.Run
}

func (r *memoryRecorder) SaveRun(ctx context.Context, run store.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

type memoryNotifier struct {
	errors    []string
	successes []string
}

func (n *memoryNotifier) SendErrorNotification(ctx context.Context, message string) error {
	n.errors = append(n.errors, message)
	return nil
}

func (n *memoryNotifier) SendSuccessNotification(ctx context.Context, message string) error {
	n.successes = append(n.successes, message)
	return nil
}

// scene builds a scene whose reflectance per pixel comes from refl; qa is
// written to every pixel.
func scene(t *testing.T, g raster.Grid, acquired time.Time, names []string, nir, red string, refl func(x, y int) (float64, float64), qa float64) *raster.Raster {
	t.Helper()
	bands := make([]raster.Band, len(names))
	for i, name := range names {
		bands[i] = raster.NewBand(name, g.Pixels())
	}
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			n, r := refl(x, y)
			p := g.Index(x, y)
			for i, name := range names {
				switch name {
				case nir:
					bands[i].Set(p, dn(n))
				case red:
					bands[i].Set(p, dn(r))
				default:
					bands[i].Set(p, qa)
				}
			}
		}
	}
	s, err := raster.New(g, acquired, bands...)
	require.NoError(t, err)
	return s
}

func vegetation(x, y int) (float64, float64) {
	return 0.3 + 0.01*float64(x), 0.05
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Epochs[0].Sensor = config.SensorConfig{Catalog: "L5", Bands: l5Bands, NIR: "SR_B4", Red: "SR_B3", QABand: "QA_PIXEL"}
	cfg.Epochs[1].Sensor = config.SensorConfig{Catalog: "L8", Bands: l8Bands, NIR: "SR_B5", Red: "SR_B4", QABand: "QA_PIXEL"}
	cfg.Sampling.Count = 100
	cfg.Sampling.Resolution = 60
	cfg.Model.Trees = 10
	cfg.Area.Resolution = 60
	cfg.Export.Resolution = 30
	cfg.Processing.Workers = 2
	return cfg
}

type fixture struct {
	pipeline *Pipeline
	source   *memorySource
	sink     *memorySink
	recorder *memoryRecorder
	notifier *memoryNotifier
}

func newFixture(t *testing.T, epoch2 func(x, y int) (float64, float64), qa float64) *fixture {
	g := grid30(20, 20)
	source := &memorySource{scenes: map[string][]*raster.Raster{
		"L5": {
			scene(t, g, time.Date(2000, 3, 1, 0, 0, 0, 0, time.UTC), l5Bands, "SR_B4", "SR_B3", vegetation, qa),
			scene(t, g, time.Date(2000, 6, 1, 0, 0, 0, 0, time.UTC), l5Bands, "SR_B4", "SR_B3", vegetation, qa),
		},
		"L8": {
			scene(t, g, time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC), l8Bands, "SR_B5", "SR_B4", epoch2, qa),
		},
	}}
	f := &fixture{
		source:   source,
		sink:     &memorySink{},
		recorder: &memoryRecorder{},
		notifier: &memoryNotifier{},
	}
	f.pipeline = &Pipeline{
		Config:   testConfig(),
		Source:   source,
		Sink:     f.sink,
		Recorder: f.recorder,
		Notifier: f.notifier,
		AOI:      wholeGrid(t, g),
		MemoryAvailable: func(context.Context) (uint64, error) {
			return 1 << 40, nil
		},
	}
	return f
}

func TestRunIdenticalEpochsAreStable(t *testing.T) {
	f := newFixture(t, vegetation, 0)

	report, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)

	area := report.Area
	assert.Zero(t, area.ClassKm2[delta.Loss])
	assert.Zero(t, area.ClassKm2[delta.Gain])
	assert.InDelta(t, 0.36, area.AOIKm2, 1e-9)
	assert.InDelta(t, area.AOIKm2, area.ClassKm2[delta.Stable], 1e-9)
	assert.LessOrEqual(t, area.TotalKm2(), area.AOIKm2+1e-9)

	assert.Equal(t, 1.0, report.Accuracy())
	assert.True(t, report.TrainingSetAccuracy)
	assert.Equal(t, 100, report.TrainSamples.TotalSamples)
	assert.Equal(t, 100, report.TrainSamples.ClassDistribution[delta.Stable])
	require.Len(t, report.Epochs, 2)
	assert.Equal(t, 2, report.Epochs[0].Scenes)
	assert.Equal(t, 1, report.Epochs[1].Scenes)

	assert.Equal(t, "Forest_Change_Classification", f.sink.destination)
	assert.Equal(t, 30.0, f.sink.resolution)

	require.Len(t, f.recorder.runs, 1)
	run := f.recorder.runs[0]
	assert.Equal(t, report.RunID, run.ID)
	assert.Equal(t, store.StatusSucceeded, run.Status)
	assert.Equal(t, "2000", run.Epoch1)
	assert.Len(t, f.notifier.successes, 1)
	assert.Empty(t, f.notifier.errors)
}

func TestRunDetectsLoss(t *testing.T) {
	cleared := func(x, y int) (float64, float64) {
		if x < 10 {
			return 0.1, 0.1
		}
		return vegetation(x, y)
	}
	f := newFixture(t, cleared, 0)
	f.pipeline.Config.Sampling.TestFraction = 0.2

	report, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.TrainingSetAccuracy)
	assert.Equal(t, 80, report.TrainSamples.TotalSamples)
	assert.Equal(t, 20, report.TestSamples.TotalSamples)
	assert.GreaterOrEqual(t, report.Accuracy(), 0.9)
	assert.LessOrEqual(t, report.Accuracy(), 1.0)

	area := report.Area
	assert.InDelta(t, 0.18, area.ClassKm2[delta.Loss], 0.02)
	assert.Zero(t, area.ClassKm2[delta.Gain])
	assert.LessOrEqual(t, area.TotalKm2(), area.AOIKm2+1e-9)
}

func TestRunFullyCloudedFails(t *testing.T) {
	f := newFixture(t, vegetation, 1<<3)

	report, err := f.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.True(t, errors.Is(err, dataset.ErrInsufficientSamples) || errors.Is(err, composite.ErrEmptyCollection))
	assert.Equal(t, "grid", stageErr.AOI)

	require.Len(t, f.recorder.runs, 1)
	assert.Equal(t, store.StatusFailed, f.recorder.runs[0].Status)
	assert.NotEmpty(t, f.recorder.runs[0].Error)
	assert.Len(t, f.notifier.errors, 1)
}

func TestRunWithoutScenesReportsEpoch(t *testing.T) {
	f := newFixture(t, vegetation, 0)
	delete(f.source.scenes, "L8")

	_, err := f.pipeline.Run(context.Background())
	require.ErrorIs(t, err, composite.ErrEmptyCollection)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageComposite, stageErr.Stage)
	assert.Equal(t, "2023", stageErr.Epoch)
	assert.Contains(t, err.Error(), "epoch 2023")
}

func TestRunRejectsOversizedGrid(t *testing.T) {
	f := newFixture(t, vegetation, 0)
	f.pipeline.Config.Processing.MaxPixels = 100

	_, err := f.pipeline.Run(context.Background())
	assert.ErrorIs(t, err, raster.ErrInvalidInput)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t, vegetation, 0)
	f.pipeline.Config.Epochs = f.pipeline.Config.Epochs[:1]

	_, err := f.pipeline.Run(context.Background())
	assert.ErrorIs(t, err, raster.ErrInvalidInput)
}

func TestLabelReturnsSamples(t *testing.T) {
	f := newFixture(t, vegetation, 0)

	set, err := f.pipeline.Label(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, set.Len())
	assert.Equal(t, int64(42), set.Seed)
	assert.Empty(t, f.recorder.runs)
}

func TestRunTrainsOnProvidedSamples(t *testing.T) {
	f := newFixture(t, vegetation, 0)
	set, err := f.pipeline.Label(context.Background())
	require.NoError(t, err)

	set.Samples = set.Samples[:40]
	f.pipeline.Samples = set

	report, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, report.TrainSamples.TotalSamples)
	assert.Equal(t, 1.0, report.Accuracy())
}

func TestRunRejectsSamplesOffTheGrid(t *testing.T) {
	f := newFixture(t, vegetation, 0)
	f.pipeline.Samples = &dataset.SampleSet{Samples: []dataset.Sample{{X: 50, Y: 0, Class: 1}}}

	_, err := f.pipeline.Run(context.Background())
	require.ErrorIs(t, err, raster.ErrInvalidInput)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageSample, stageErr.Stage)
}

