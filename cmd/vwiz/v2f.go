package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"vwiz/internal/config"
	"vwiz/internal/dataset"
	"vwiz/internal/discover"
	"vwiz/internal/extract"
	"vwiz/internal/metrics"
	"vwiz/internal/sampling"
)

func v2fCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "v2f",
		Usage: "Convert videos to frames and write the metadata table",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "root-dir",
				Aliases:  []string{"D"},
				Usage:    "Root directory holding one folder of videos per label",
				Required: true,
			},
			&cli.IntFlag{
				Name:     "frames",
				Aliases:  []string{"F"},
				Usage:    "Number of frames to take from each video",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "extension",
				Aliases:  []string{"E"},
				Usage:    "File extension of the input videos",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "csv",
				Aliases: []string{"C"},
				Usage:   "Metadata table to write (default <out-dir>/metadata.csv)",
			},
			&cli.StringFlag{
				Name:    "out-dir",
				Aliases: []string{"O"},
				Usage:   "Directory where extracted frames will be written",
				Value:   cfg.OutDir,
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Sampling mode: auto samples at a stride derived from the video length, force takes exactly --frames frames",
				Value: sampling.Auto.String(),
			},
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"FF"},
				Usage:   "Shorthand for --mode force",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"V"},
				Usage:   "Log every video instead of showing a progress bar",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write batch metrics in prometheus text format to this file",
				Value: cfg.MetricsFile,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			frames := cmd.Int("frames")
			if frames <= 0 {
				return cli.Exit("frames must be greater than zero", 2)
			}

			mode, err := sampling.ParseMode(cmd.String("mode"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			if cmd.Bool("force") {
				mode = sampling.Force
			}

			outDir := cmd.String("out-dir")
			csvPath := cmd.String("csv")
			if csvPath == "" {
				csvPath = filepath.Join(outDir, "metadata.csv")
			}

			verbose := cmd.Bool("verbose")
			log, _, err := newRunLogger(cfg, "v2f", verbose)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			defer log.Sync()

			videos, err := discover.Videos(cmd.String("root-dir"), cmd.String("extension"))
			if err != nil {
				return fmt.Errorf("discover videos: %w", err)
			}
			if len(videos) == 0 {
				return fmt.Errorf("no %s videos found in %s", cmd.String("extension"), cmd.String("root-dir"))
			}

			table, err := dataset.CreateWriter(csvPath)
			if err != nil {
				return err
			}
			defer table.Close()

			decoder := extract.NewFFmpegDecoder(cfg.JPEGQuality, cfg.ProbeTimeout, log)
			job := &v2fJob{
				extractor: extract.NewExtractor(decoder, extract.Config{
					Frames:     frames,
					Mode:       mode,
					FramesRoot: outDir,
				}, log),
				table: table,
				batch: metrics.NewBatch("v2f"),
				bar:   newProgressBar(len(videos), "extracting", verbose),
				log:   log,
			}

			log.Info("extracting frames",
				zap.Int("videos", len(videos)),
				zap.Int("frames", frames),
				zap.String("mode", mode.String()),
				zap.String("out_dir", outDir),
				zap.String("csv", csvPath),
			)
			runErr := job.run(ctx, videos)
			return finishBatch(cmd, log, job.batch, "v2f", cmd.String("metrics-file"), runErr)
		},
	}
}

type v2fJob struct {
	extractor *extract.Extractor
	table     *dataset.Writer
	batch     *metrics.Batch
	bar       *progressbar.ProgressBar
	log       *zap.Logger
}

// run extracts every video in order. A failed video is logged and counted; only a failure
// to append to the metadata table stops the batch.
func (j *v2fJob) run(ctx context.Context, videos []discover.Video) error {
	defer j.bar.Finish()

	var ids dataset.IDCounter
	for i, v := range videos {
		if ctx.Err() != nil {
			j.log.Warn("interrupted, skipping remaining videos", zap.Int("remaining", len(videos)-i))
			for range videos[i:] {
				j.batch.Skipped()
			}
			return nil
		}

		id := ids.Next()
		start := time.Now()
		res, err := j.extractor.Extract(ctx, v.Path, v.Label, id)
		_ = j.bar.Add(1)
		if err != nil {
			j.batch.Failed()
			j.log.Error("extraction failed",
				zap.Int("video_id", id),
				zap.String("path", v.Path),
				zap.Error(err),
			)
			continue
		}
		if res.Degenerate {
			j.batch.Warn("degenerate_sample")
		}

		if err := j.table.Append(res.Record); err != nil {
			return fmt.Errorf("append metadata for %s: %w", v.Path, err)
		}
		j.batch.Processed(res.Record.FrameCount, time.Since(start))
	}
	return nil
}

func newProgressBar(n int, description string, silent bool) *progressbar.ProgressBar {
	if silent {
		return progressbar.DefaultSilent(int64(n), description)
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)
}
