package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/airbusgeo/godal"
	"github.com/common-nighthawk/go-figure"
	bannercolor "github.com/fatih/color"
	"github.com/forest-guardian/forest-change-detection/internal/config"
	"github.com/forest-guardian/forest-change-detection/internal/notification"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose    bool
	configPath string
	envPath    string
	noProgress bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "forestchange",
	Short: "Forest cover change detection from Landsat NDVI",
	Long: `forestchange compares two Landsat epochs over an area of interest.

Cloud masked scenes are reduced to median composites, the NDVI difference is
labelled as loss, stable or gain, a Random Forest is trained on sampled
labels and applied to every pixel, and per-class areas are reported.

Run without arguments to open the interactive menu.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(envPath); err != nil {
			return err
		}

		zapConfig := zap.NewProductionConfig()
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		godal.RegisterAll()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		printBanner()
		return runMenu(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "forestchange.yaml", "Path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", ".env", "Path to the .env file")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "Hide progress bars")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(serveCmd)
}

func printBanner() {
	figure1 := figure.NewFigure("Forest", "isometric1", true)
	figure2 := figure.NewFigure("Change", "isometric1", true)
	bannercolor.Cyan(figure1.String())
	bannercolor.Cyan(figure2.String())
	fmt.Println()
}

// recoverPanic reports a panic to Discord before exiting.
func recoverPanic() {
	r := recover()
	if r == nil {
		return
	}

	pc, file, line, ok := runtime.Caller(3)
	location := "Unknown location"
	if ok {
		location = fmt.Sprintf("%s:%d in %s", file, line, runtime.FuncForPC(pc).Name())
	}

	fmt.Printf("\n\033[31mPANIC: %v\033[0m\n", r)
	fmt.Printf("\033[31mLocation: %s\033[0m\n", location)
	fmt.Printf("\033[31mExiting...\033[0m\n")

	errMessage := fmt.Sprintf("forestchange panic:\n\n%v\n\nLocation: %s\n\nStack trace:\n%s", r, location, debug.Stack())
	if err := notification.SendDiscordErrorNotification(errMessage); err != nil {
		fmt.Printf("\033[31mFailed to send notification: %s\033[0m\n", err.Error())
	}
	os.Exit(2)
}

func main() {
	defer recoverPanic()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
