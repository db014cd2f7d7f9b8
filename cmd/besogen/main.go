// Command besogen runs batches of cantilever topology optimizations and
// writes their trajectories as a NumPy-format dataset.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notargets/beso2d/dataset"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "besogen",
		Short:         "BESO cantilever dataset generator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		inputPath string
		outDir    string
		workers   int
		logLevel  string
		logFormat string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Optimize every instance of a batch input and write the dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(logLevel, logFormat, cmd.ErrOrStderr())

			batch, err := dataset.LoadBatch(inputPath)
			if err != nil {
				return err
			}
			logger.Info("batch loaded", "input", inputPath, "instances", len(batch.Instances), "workers", workers)

			runner := &dataset.Runner{
				Workers: workers,
				Config:  batch.Config(),
				Logger:  logger,
			}
			results, err := runner.Run(context.Background(), batch.Instances)
			if err != nil {
				return err
			}
			if err := dataset.WriteChunks(outDir, results); err != nil {
				return err
			}
			logger.Info("dataset written", "out", outDir, "instances", len(results))
			return nil
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "batch input YAML file (required)")
	cmd.Flags().StringVar(&outDir, "out", "output", "output directory")
	cmd.Flags().IntVar(&workers, "workers", 1, "concurrent instances")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	cmd.MarkFlagRequired("input")
	return cmd
}

// newLogger builds an slog.Logger from level and format strings.
func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.ToLower(format) == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}
