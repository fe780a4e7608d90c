package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"vwiz/internal/config"
	"vwiz/internal/logger"
	"vwiz/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(cfg).Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "vwiz",
		Usage: "Prepare video datasets: extract frames, pack them by label, split the metadata table",
		Commands: []*cli.Command{
			v2fCommand(cfg),
			packCommand(cfg),
			splitCommand(cfg),
		},
	}
}

// newRunLogger builds the logger for one command run. verbose forces debug output.
func newRunLogger(cfg *config.Config, command string, verbose bool) (*zap.Logger, string, error) {
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log, err := logger.New(level)
	if err != nil {
		return nil, "", err
	}
	runID := uuid.NewString()
	return logger.WithRun(log, runID, command), runID, nil
}

// finishBatch prints the summary and exports metrics. runErr, when set, is returned as is;
// otherwise per-video failures become a non-zero exit.
func finishBatch(cmd *cli.Command, log *zap.Logger, batch *metrics.Batch, command, metricsFile string, runErr error) error {
	s := batch.Summary()
	fmt.Fprintf(cmd.Root().Writer, "%s: %s\n", command, s)
	log.Info("batch finished",
		zap.Int("processed", s.Processed),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed),
		zap.Int("warnings", s.Warnings),
		zap.Int("frames", s.Frames),
	)

	if err := batch.WriteTextfile(metricsFile); err != nil {
		log.Warn("could not export metrics", zap.Error(err))
	}

	if runErr != nil {
		return runErr
	}
	if s.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%s: %d of %d videos failed", command, s.Failed, s.Total()), 1)
	}
	return nil
}
