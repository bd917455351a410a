package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/forest-guardian/forest-change-detection/internal/config"
	"github.com/forest-guardian/forest-change-detection/internal/dataset"
	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/properties"
	"github.com/forest-guardian/forest-change-detection/internal/ui"
	"github.com/forest-guardian/forest-change-detection/output"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	aoiValue     string
	seed         int64
	testFraction float64
	samplesPath  string
	samplesIn    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run change detection for the configured AOI and epochs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadRunConfig(cmd)
		if err != nil {
			return err
		}
		samples, err := loadSamples(samplesIn, cfg.Sampling.Seed)
		if err != nil {
			return err
		}
		return runDetection(ctx, cfg, samples)
	},
}

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Build composites and write the heuristic labelled samples as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadRunConfig(cmd)
		if err != nil {
			return err
		}
		return runLabel(ctx, cfg, samplesPath)
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the default configuration to --config",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := config.DefaultConfig().Save(configPath); err != nil {
			return err
		}
		ui.PrintSuccess(fmt.Sprintf("Configuration written to %s", configPath))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{runCmd, labelCmd} {
		c.Flags().StringVar(&aoiValue, "aoi", "", "AOI property value, overriding aoi.value")
		c.Flags().Int64Var(&seed, "seed", 0, "Sampling seed, overriding sampling.seed")
	}
	runCmd.Flags().Float64Var(&testFraction, "test-fraction", 0, "Share of samples held out for accuracy assessment")
	runCmd.Flags().StringVar(&samplesIn, "samples", "", "Train from a sample CSV written by label instead of drawing samples")
	labelCmd.Flags().StringVarP(&samplesPath, "out", "o", "", "CSV output path (default data/samples/<aoi>_<seed>.csv)")
}

func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if aoiValue != "" {
		cfg.AOI.Value = aoiValue
	}
	if cmd.Flags().Changed("seed") {
		cfg.Sampling.Seed = seed
	}
	if cmd.Flags().Changed("test-fraction") {
		cfg.Sampling.TestFraction = testFraction
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// loadSamples reads a sample CSV; an empty path means samples are drawn.
func loadSamples(path string, seed int64) (*dataset.SampleSet, error) {
	if path == "" {
		return nil, nil
	}
	set, err := dataset.LoadCSV(path, seed, 0)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, fmt.Errorf("samples file %s not found", path)
	}
	return set, nil
}

func runDetection(ctx context.Context, cfg *config.Config, samples *dataset.SampleSet) error {
	p, cleanup, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	p.Samples = samples

	report, err := p.Run(ctx)
	if err != nil {
		return err
	}
	ui.PrintReport(report)

	files, err := output.WriteResults(report, output.ResultDir(cfg.AOI.Value))
	if err != nil {
		return err
	}
	mdPath, err := ui.WriteMarkdownReport(report, filepath.Join(properties.RootPath(), "data", "reports"))
	if err != nil {
		logger.Warn("failed to write markdown report", zap.Error(err))
	}

	msg := fmt.Sprintf("Successful analysis!\n Classification image: %s\n Area GeoJSON: %s\n Area CSV: %s\n Report: %s",
		files.Image, files.GeoJSON, files.CSV, mdPath)
	if report.Exported != "" {
		msg += fmt.Sprintf("\n Exported raster: %s", output.NewGeoTIFFSink(output.ResultDir(cfg.AOI.Value), nil).Path(report.Exported))
	}
	ui.PrintSuccess(msg)
	return nil
}

func runLabel(ctx context.Context, cfg *config.Config, path string) error {
	p, cleanup, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	set, err := p.Label(ctx)
	if err != nil {
		return err
	}

	if path == "" {
		path = filepath.Join(properties.RootPath(), "data", "samples", fmt.Sprintf("%s_%d.csv", cfg.AOI.Value, cfg.Sampling.Seed))
	}
	if err := dataset.SaveCSV(set, path); err != nil {
		return err
	}

	counts := set.ClassCounts()
	ui.PrintSuccess(fmt.Sprintf("%d samples written to %s", set.Len(), path))
	for _, c := range delta.Classes() {
		fmt.Printf("%s- %s: %d%s\n", ui.ColorGreen, c, counts[c], ui.ColorReset)
	}
	return nil
}
