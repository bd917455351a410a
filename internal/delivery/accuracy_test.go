package delivery

import (
	"testing"

	"github.com/forest-guardian/forest-change-detection/internal/dataset"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssessPerfectPrediction(t *testing.T) {
	labels := []int{0, 1, 2, 1, 1, 0}
	m, err := Assess(labels, labels, 3)
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.Accuracy())
	assert.Equal(t, 1.0, m.Kappa())
	assert.Equal(t, []float64{1, 1, 1}, m.ProducersAccuracy())
	assert.Equal(t, []float64{1, 1, 1}, m.ConsumersAccuracy())
}

func TestAssessMatrixLayout(t *testing.T) {
	truth := []int{0, 0, 1, 2, 2}
	pred := []int{0, 1, 1, 2, 1}
	m, err := Assess(truth, pred, 3)
	require.NoError(t, err)

	assert.Equal(t, [][]int{
		{1, 1, 0},
		{0, 1, 0},
		{0, 1, 1},
	}, m.Counts)
	assert.InDelta(t, 0.6, m.Accuracy(), 1e-12)
	assert.Equal(t, []float64{0.5, 1, 0.5}, m.ProducersAccuracy())
	assert.InDeltaSlice(t, []float64{1, 1.0 / 3, 1}, m.ConsumersAccuracy(), 1e-12)

	// po = 0.6, pe = (2*1 + 1*3 + 2*1) / 25 = 0.28
	assert.InDelta(t, (0.6-0.28)/(1-0.28), m.Kappa(), 1e-12)
	assert.Contains(t, m.Format(), "Overall accuracy: 0.6000")
}

func TestAssessAccuracyInRange(t *testing.T) {
	truth := []int{0, 1, 2, 0, 1, 2}
	pred := []int{2, 0, 1, 2, 0, 1}
	m, err := Assess(truth, pred, 3)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.Accuracy())
	assert.GreaterOrEqual(t, m.Accuracy(), 0.0)
	assert.LessOrEqual(t, m.Accuracy(), 1.0)
}

func TestAssessErrors(t *testing.T) {
	_, err := Assess(nil, nil, 3)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = Assess([]int{0, 1}, []int{0}, 3)
	assert.ErrorIs(t, err, raster.ErrInvalidInput)

	_, err = Assess([]int{0, 3}, []int{0, 1}, 3)
	assert.ErrorIs(t, err, raster.ErrInvalidInput)

	_, err = Assess([]int{0}, []int{-1}, 3)
	assert.ErrorIs(t, err, raster.ErrInvalidInput)
}

func TestKappaSingleClass(t *testing.T) {
	m, err := Assess([]int{1, 1}, []int{1, 1}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Kappa())
}

func TestFormatDatasetStats(t *testing.T) {
	set := &dataset.SampleSet{Samples: []dataset.Sample{{Class: 0}, {Class: 1}, {Class: 1}, {Class: 1}}}
	out := FormatDatasetStats(calculateDatasetStats(set), "Training")

	assert.Contains(t, out, "**Training Dataset:**")
	assert.Contains(t, out, "loss: 1 samples (25.0%)")
	assert.Contains(t, out, "stable: 3 samples (75.0%)")
	assert.Contains(t, out, "gain: 0 samples (0.0%)")

	assert.Equal(t, "Test: No data available", FormatDatasetStats(nil, "Test"))
}
