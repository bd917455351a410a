package ui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/forest-guardian/forest-change-detection/internal/delivery"
	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/store"
)

func PrintReport(report *delivery.Report) {
	FprintReport(os.Stdout, report)
}

// FprintReport writes the console summary of a run.
func FprintReport(w io.Writer, report *delivery.Report) {
	fmt.Fprintf(w, "\n%sRun %s finished in %s%s\n", ColorGreen, report.RunID, report.Duration().Round(1e6), ColorReset)
	fmt.Fprintf(w, "%sAOI: %s%s\n", ColorGreen, report.AOI, ColorReset)
	for _, e := range report.Epochs {
		fmt.Fprintf(w, "%s- Epoch %s: %d scenes (%s)%s\n", ColorGreen, e.Name, e.Scenes, e.DateRange, ColorReset)
	}

	if report.TrainingSetAccuracy {
		PrintWarningTo(w, "Accuracy is measured on the training samples and is optimistic. Set sampling.test_fraction to hold out a test set.")
	}
	fmt.Fprintf(w, "\n%sConfusion matrix (%d samples):%s\n", ColorBlue, report.Matrix.Total(), ColorReset)
	fmt.Fprint(w, report.Matrix.Format())

	if report.Area != nil {
		fmt.Fprintf(w, "\n%sArea at %gm:%s\n", ColorBlue, report.Area.Resolution, ColorReset)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
		for _, c := range delta.Classes() {
			fmt.Fprintf(tw, "%s\t%.4f km²\t\n", c, report.Area.ClassKm2[c])
		}
		fmt.Fprintf(tw, "aoi\t%.4f km²\t\n", report.Area.AOIKm2)
		tw.Flush()
	}

	if len(report.Timings) > 0 {
		fmt.Fprintf(w, "\n%sStage timings:%s\n", ColorBlue, ColorReset)
		for _, s := range report.Timings {
			fmt.Fprintf(w, "- %s: %s\n", s.Stage, s.Duration.Round(1e6))
		}
	}
}

func PrintWarningTo(w io.Writer, message string) {
	fmt.Fprintf(w, "%s\nWarning:%s\n", ColorYellow, ColorReset)
	fmt.Fprintf(w, "%s%s%s\n", ColorYellow, message, ColorReset)
}

// FprintRuns writes the run history as a table.
func FprintRuns(w io.Writer, runs []store.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tAOI\tEPOCHS\tSTATUS\tACCURACY\tLOSS km²\tGAIN km²\tID")
	for _, r := range runs {
		accuracy := fmt.Sprintf("%.3f", r.Accuracy)
		if r.TrainingOnly {
			accuracy += "*"
		}
		if r.Status != store.StatusSucceeded {
			accuracy = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s→%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.AOI, r.Epoch1, r.Epoch2,
			r.Status, accuracy, r.LossKm2, r.GainKm2, r.ID)
	}
	tw.Flush()
	fmt.Fprintln(w, "* training set accuracy")
}

// WriteMarkdownReport writes the run report to <dir>/<run id>.md and returns
// its path.
func WriteMarkdownReport(report *delivery.Report, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}
	reportPath := filepath.Join(dir, report.RunID+".md")

	var sb strings.Builder
	sb.WriteString("# Forest Change Report\n\n## Run Overview\n")
	sb.WriteString(fmt.Sprintf("- **Run**: %s\n", report.RunID))
	sb.WriteString(fmt.Sprintf("- **AOI**: %s\n", report.AOI))
	sb.WriteString(fmt.Sprintf("- **Started**: %s\n", report.StartedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("- **Total Duration**: %s\n", report.Duration()))
	for _, e := range report.Epochs {
		sb.WriteString(fmt.Sprintf("- **Epoch %s**: %d scenes, %s\n", e.Name, e.Scenes, e.DateRange))
	}

	sb.WriteString("\n## Accuracy\n")
	if report.TrainingSetAccuracy {
		sb.WriteString("> Measured on the training samples; the figure is optimistic.\n\n")
	}
	sb.WriteString("```\n" + report.Matrix.Format() + "```\n\n")
	sb.WriteString("| Class | Producer's | Consumer's |\n|---|---|---|\n")
	producers, consumers := report.Matrix.ProducersAccuracy(), report.Matrix.ConsumersAccuracy()
	for _, c := range delta.Classes() {
		sb.WriteString(fmt.Sprintf("| %s | %.4f | %.4f |\n", c, producers[c], consumers[c]))
	}

	sb.WriteString("\n## Samples\n")
	sb.WriteString(delivery.FormatDatasetStats(report.TrainSamples, "Training"))
	if !report.TrainingSetAccuracy {
		sb.WriteString(delivery.FormatDatasetStats(report.TestSamples, "Test"))
	}

	if report.Area != nil {
		sb.WriteString(fmt.Sprintf("\n## Area (%gm aggregation)\n| Class | km² |\n|---|---|\n", report.Area.Resolution))
		for _, c := range delta.Classes() {
			sb.WriteString(fmt.Sprintf("| %s | %.4f |\n", c, report.Area.ClassKm2[c]))
		}
		sb.WriteString(fmt.Sprintf("| aoi | %.4f |\n", report.Area.AOIKm2))
	}

	if err := os.WriteFile(reportPath, []byte(sb.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write report content: %w", err)
	}
	return reportPath, nil
}
