package ui

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/forest-guardian/forest-change-detection/internal/delivery"
	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReport() *delivery.Report {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &delivery.Report{
		RunID: "run-1",
		AOI:   "Adilabad",
		Area: &delivery.AreaReport{
			Resolution: 120,
			ClassKm2:   map[delta.Class]float64{delta.Loss: 1.5, delta.Stable: 10, delta.Gain: 0.5},
			AOIKm2:     12,
		},
		Matrix:              &delivery.ConfusionMatrix{Counts: [][]int{{2, 0, 0}, {0, 5, 1}, {0, 0, 2}}},
		TrainingSetAccuracy: true,
		TrainSamples:        &delivery.DatasetStats{TotalSamples: 10, ClassDistribution: map[delta.Class]int{delta.Loss: 2, delta.Stable: 6, delta.Gain: 2}},
		StartedAt:           started,
		FinishedAt:          started.Add(90 * time.Second),
		Timings:             []delivery.StageTiming{{Stage: delivery.StageTrain, Duration: time.Second}},
	}
}

func TestFprintReport(t *testing.T) {
	var buf bytes.Buffer
	FprintReport(&buf, testReport())

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "optimistic")
	assert.Contains(t, out, "1.5000 km²")
	assert.Contains(t, out, "Overall accuracy: 0.9000")
	assert.Contains(t, out, "train: 1s")
}

func TestFprintRuns(t *testing.T) {
	var buf bytes.Buffer
	FprintRuns(&buf, []store.Run{
		{ID: "a", AOI: "Adilabad", Status: store.StatusSucceeded, Accuracy: 0.95, TrainingOnly: true, LossKm2: 1.25},
		{ID: "b", AOI: "Adilabad", Status: store.StatusFailed, Accuracy: 0},
	})

	out := buf.String()
	assert.Contains(t, out, "0.950*")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "1.25")

	buf.Reset()
	FprintRuns(&buf, nil)
	assert.Equal(t, "No runs recorded.\n", buf.String())
}

func TestWriteMarkdownReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	path, err := WriteMarkdownReport(testReport(), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-1.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "| loss | 1.5000 |")
	assert.Contains(t, string(data), "| stable | 0.8333 | 1.0000 |")
}

func TestAOINames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "districts.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "properties": {"NAME_2": "Nizamabad"}, "geometry": {"type": "Point", "coordinates": [0, 0]}},
			{"type": "Feature", "properties": {"NAME_2": "Adilabad"}, "geometry": {"type": "Point", "coordinates": [1, 1]}},
			{"type": "Feature", "properties": {"NAME_2": "Adilabad"}, "geometry": {"type": "Point", "coordinates": [2, 2]}}
		]
	}`), 0644))

	names, err := AOINames(path, "NAME_2")
	require.NoError(t, err)
	assert.Equal(t, []string{"Adilabad", "Nizamabad"}, names)

	_, err = AOINames(path, "missing")
	assert.Error(t, err)
}
