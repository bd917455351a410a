package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
)

type EpochSummary struct {
	Name      string
	DateRange raster.DateRange
	Scenes    int
}

type StageTiming struct {
	Stage    string
	Duration time.Duration
}

// Report is the outcome of a successful run. When no samples were held out
// the accuracy is measured on the training data and TrainingSetAccuracy is set.
type Report struct {
	RunID               string
	AOI                 string
	Region              *raster.AOI
	Epochs              []EpochSummary
	Area                *AreaReport
	Matrix              *ConfusionMatrix
	TrainingSetAccuracy bool
	TrainSamples        *DatasetStats
	TestSamples         *DatasetStats
	Classification      *raster.Raster
	Exported            string
	StartedAt           time.Time
	FinishedAt          time.Time
	Timings             []StageTiming
}

func (r *Report) Accuracy() float64 {
	if r.Matrix == nil {
		return 0
	}
	return r.Matrix.Accuracy()
}

// Summary formats the report for Discord.
func (r *Report) Summary() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Run %s** for %s\n", r.RunID, r.AOI))
	for _, e := range r.Epochs {
		sb.WriteString(fmt.Sprintf("- Epoch %s: %d scenes, %s\n", e.Name, e.Scenes, e.DateRange))
	}
	sb.WriteString("\n")
	sb.WriteString(FormatDatasetStats(r.TrainSamples, "Training"))
	if !r.TrainingSetAccuracy {
		sb.WriteString(FormatDatasetStats(r.TestSamples, "Test"))
	}

	label := "Overall accuracy"
	if r.TrainingSetAccuracy {
		label = "Training set accuracy (optimistic)"
	}
	sb.WriteString(fmt.Sprintf("\n**%s:** %.4f, kappa %.4f\n", label, r.Accuracy(), r.Matrix.Kappa()))

	if r.Area != nil {
		sb.WriteString(fmt.Sprintf("\n**Area at %gm:**\n", r.Area.Resolution))
		for _, c := range delta.Classes() {
			sb.WriteString(fmt.Sprintf("- %s: %.2f km²\n", c, r.Area.ClassKm2[c]))
		}
		sb.WriteString(fmt.Sprintf("- AOI: %.2f km²\n", r.Area.AOIKm2))
	}
	return sb.String()
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
