package delivery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/forest-guardian/forest-change-detection/internal/dataset"
	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
)

var ErrEmptyInput = errors.New("empty input")

// ConfusionMatrix counts samples by true class (rows) and predicted class
// (columns).
type ConfusionMatrix struct {
	Counts [][]int `json:"counts"`
}

// Assess builds the confusion matrix of pred against truth.
func Assess(truth, pred []int, numClasses int) (*ConfusionMatrix, error) {
	if len(truth) == 0 {
		return nil, ErrEmptyInput
	}
	if len(truth) != len(pred) {
		return nil, fmt.Errorf("%w: %d labels for %d predictions", raster.ErrInvalidInput, len(truth), len(pred))
	}

	counts := make([][]int, numClasses)
	for i := range counts {
		counts[i] = make([]int, numClasses)
	}
	for i := range truth {
		t, p := truth[i], pred[i]
		if t < 0 || t >= numClasses || p < 0 || p >= numClasses {
			return nil, fmt.Errorf("%w: label pair (%d, %d) outside 0..%d", raster.ErrInvalidInput, t, p, numClasses-1)
		}
		counts[t][p]++
	}
	return &ConfusionMatrix{Counts: counts}, nil
}

func (m *ConfusionMatrix) Total() int {
	total := 0
	for _, row := range m.Counts {
		for _, c := range row {
			total += c
		}
	}
	return total
}

func (m *ConfusionMatrix) Correct() int {
	correct := 0
	for i := range m.Counts {
		correct += m.Counts[i][i]
	}
	return correct
}

// Accuracy is the share of samples on the diagonal.
func (m *ConfusionMatrix) Accuracy() float64 {
	total := m.Total()
	if total == 0 {
		return 0
	}
	return float64(m.Correct()) / float64(total)
}

// ProducersAccuracy returns, per true class, the share predicted correctly.
// Classes without samples report 0.
func (m *ConfusionMatrix) ProducersAccuracy() []float64 {
	out := make([]float64, len(m.Counts))
	for i, row := range m.Counts {
		n := 0
		for _, c := range row {
			n += c
		}
		if n > 0 {
			out[i] = float64(row[i]) / float64(n)
		}
	}
	return out
}

// ConsumersAccuracy returns, per predicted class, the share that was correct.
func (m *ConfusionMatrix) ConsumersAccuracy() []float64 {
	out := make([]float64, len(m.Counts))
	for j := range m.Counts {
		n := 0
		for i := range m.Counts {
			n += m.Counts[i][j]
		}
		if n > 0 {
			out[j] = float64(m.Counts[j][j]) / float64(n)
		}
	}
	return out
}

// Kappa is Cohen's kappa. A matrix whose expected agreement is total reports 1
// when every sample is correct and 0 otherwise.
func (m *ConfusionMatrix) Kappa() float64 {
	total := float64(m.Total())
	if total == 0 {
		return 0
	}
	observed := float64(m.Correct()) / total

	expected := 0.0
	for k := range m.Counts {
		rowSum, colSum := 0, 0
		for i := range m.Counts {
			rowSum += m.Counts[k][i]
			colSum += m.Counts[i][k]
		}
		expected += float64(rowSum) * float64(colSum)
	}
	expected /= total * total

	if expected == 1 {
		if observed == 1 {
			return 1
		}
		return 0
	}
	return (observed - expected) / (1 - expected)
}

func (m *ConfusionMatrix) Format() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-10s", "true\\pred"))
	for j := range m.Counts {
		sb.WriteString(fmt.Sprintf("%10s", delta.Class(j)))
	}
	sb.WriteString("\n")
	for i, row := range m.Counts {
		sb.WriteString(fmt.Sprintf("%-10s", delta.Class(i)))
		for _, c := range row {
			sb.WriteString(fmt.Sprintf("%10d", c))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("Overall accuracy: %.4f  Kappa: %.4f\n", m.Accuracy(), m.Kappa()))
	return sb.String()
}

// DatasetStats summarises the class distribution of a sample set.
type DatasetStats struct {
	TotalSamples      int
	ClassDistribution map[delta.Class]int
}

func calculateDatasetStats(set *dataset.SampleSet) *DatasetStats {
	if set == nil {
		return nil
	}
	return &DatasetStats{
		TotalSamples:      set.Len(),
		ClassDistribution: set.ClassCounts(),
	}
}

// FormatDatasetStats formats dataset statistics for Discord message
func FormatDatasetStats(stats *DatasetStats, datasetName string) string {
	if stats == nil || stats.TotalSamples == 0 {
		return fmt.Sprintf("%s: No data available", datasetName)
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**%s Dataset:**\n", datasetName))
	sb.WriteString(fmt.Sprintf("- Total samples: %d\n", stats.TotalSamples))
	sb.WriteString("- Class distribution:\n")
	for _, c := range delta.Classes() {
		count := stats.ClassDistribution[c]
		pct := float64(count) / float64(stats.TotalSamples) * 100
		sb.WriteString(fmt.Sprintf("  • %s: %d samples (%.1f%%)\n", c, count, pct))
	}
	return sb.String()
}
