package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/forest-guardian/forest-change-detection/internal/config"
	"github.com/forest-guardian/forest-change-detection/internal/ui"
)

func runMenu(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ui.ShowMenu([]ui.MenuOption{
		{Title: "Run change detection", Handler: func() { menuRun(ctx, cfg) }},
		{Title: "Write heuristic labelled samples", Handler: func() { menuLabel(ctx, cfg) }},
		{Title: "View the list of available AOIs", Handler: func() {
			ui.ListGeoJSONFiles(filepath.Dir(cfg.AOI.Path))
			ui.ListAOIs(cfg.AOI.Path, cfg.AOI.Property)
		}},
		{Title: "View the run history", Handler: func() { menuRuns(ctx, cfg) }},
		{Title: "Exit the application"},
	})
	return nil
}

// askRun lets the user adjust the AOI and epoch dates before a run.
func askRun(cfg *config.Config) (*config.Config, error) {
	c := *cfg
	c.Epochs = append([]config.EpochConfig(nil), cfg.Epochs...)

	if v := ui.ReadString(fmt.Sprintf("Enter the AOI %s [%s]: ", c.AOI.Property, c.AOI.Value)); v != "" {
		c.AOI.Value = v
	}
	for i := range c.Epochs {
		e := &c.Epochs[i]
		var err error
		if e.Start, err = ui.ReadDate(fmt.Sprintf("Epoch %s start", e.Name), e.Start); err != nil {
			return nil, err
		}
		if e.End, err = ui.ReadDate(fmt.Sprintf("Epoch %s end", e.Name), e.End); err != nil {
			return nil, err
		}
	}
	if ui.ReadYesNo("Hold out 30% of the samples for accuracy assessment?") {
		c.Sampling.TestFraction = 0.3
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func menuRun(ctx context.Context, cfg *config.Config) {
	ui.PrintWarning(fmt.Sprintf("Scenes are read from '%s'. The AOI is selected from '%s'.", cfg.Source.Root, cfg.AOI.Path))
	c, err := askRun(cfg)
	if err != nil {
		ui.PrintError(err.Error())
		return
	}
	if err := runDetection(ctx, c, nil); err != nil {
		ui.PrintError(err.Error())
	}
}

func menuLabel(ctx context.Context, cfg *config.Config) {
	c, err := askRun(cfg)
	if err != nil {
		ui.PrintError(err.Error())
		return
	}
	if err := runLabel(ctx, c, ""); err != nil {
		ui.PrintError(err.Error())
	}
}

func menuRuns(ctx context.Context, cfg *config.Config) {
	runs, err := openStore(ctx, cfg)
	if err != nil {
		ui.PrintError(err.Error())
		return
	}
	if runs == nil {
		ui.PrintWarning("No run store configured.")
		return
	}
	defer runs.Close()

	history, err := runs.ListRuns(ctx, 20)
	if err != nil {
		ui.PrintError(err.Error())
		return
	}
	ui.FprintRuns(os.Stdout, history)
}
