package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"vwiz/internal/archive"
	"vwiz/internal/assemble"
	"vwiz/internal/config"
	"vwiz/internal/dataset"
	"vwiz/internal/discover"
	"vwiz/internal/extract"
	"vwiz/internal/metrics"
)

func packCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:    "pack",
		Aliases: []string{"h5"},
		Usage:   "Trim extracted frame sequences and pack them into one archive grouped by label",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "root-dir",
				Aliases:  []string{"D"},
				Usage:    "Frames directory written by v2f",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "groups",
				Aliases:  []string{"G"},
				Usage:    "Comma separated labels to pack, one group each",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "csv",
				Aliases: []string{"C"},
				Usage:   "Metadata table written by v2f (default <root-dir>/metadata.csv)",
			},
			&cli.IntFlag{
				Name:    "skip-start",
				Aliases: []string{"MS"},
				Usage:   "Frames to drop from the start of each sequence",
			},
			&cli.IntFlag{
				Name:    "skip-end",
				Aliases: []string{"ME"},
				Usage:   "Frames to drop from the end of each sequence",
			},
			&cli.StringFlag{
				Name:     "output-path",
				Aliases:  []string{"OP"},
				Usage:    "Directory for the archive",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "output-name",
				Aliases:  []string{"ON"},
				Usage:    "Archive file name; .zip is appended when missing",
				Required: true,
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
			window := assemble.TrimWindow{
				SkipStart: cmd.Int("skip-start"),
				SkipEnd:   cmd.Int("skip-end"),
			}
			asm, err := assemble.New(assemble.ParseGroups(cmd.String("groups")), window)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			framesRoot := cmd.String("root-dir")
			csvPath := cmd.String("csv")
			if csvPath == "" {
				csvPath = filepath.Join(framesRoot, "metadata.csv")
			}

			name := cmd.String("output-name")
			if !strings.EqualFold(filepath.Ext(name), ".zip") {
				name += ".zip"
			}
			outPath := filepath.Join(cmd.String("output-path"), name)

			verbose := cmd.Bool("verbose")
			log, runID, err := newRunLogger(cfg, "pack", verbose)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			defer log.Sync()

			records, err := dataset.ReadRecords(csvPath)
			if err != nil {
				return fmt.Errorf("read metadata table: %w", err)
			}

			job := &packJob{
				assembler:  asm,
				framesRoot: framesRoot,
				batch:      metrics.NewBatch("pack"),
				bar:        newProgressBar(len(records), "packing", verbose),
				log:        log,
			}
			log.Info("packing frames",
				zap.Int("videos", len(records)),
				zap.Strings("groups", asm.Groups()),
				zap.Int("skip_start", window.SkipStart),
				zap.Int("skip_end", window.SkipEnd),
				zap.String("output", outPath),
			)
			job.run(ctx, records)

			w, err := archive.Create(outPath, runID)
			if err != nil {
				return err
			}
			if err := asm.Flush(w); err != nil {
				w.Close()
				removePartial(log, outPath)
				return err
			}
			if err := w.Close(); err != nil {
				removePartial(log, outPath)
				return err
			}
			log.Info("archive written", zap.String("path", outPath))

			return finishBatch(cmd, log, job.batch, "pack", cmd.String("metrics-file"), nil)
		},
	}
}

type packJob struct {
	assembler  *assemble.Assembler
	framesRoot string
	batch      *metrics.Batch
	bar        *progressbar.ProgressBar
	log        *zap.Logger
}

func (j *packJob) run(ctx context.Context, records []dataset.Record) {
	defer j.bar.Finish()

	for i, rec := range records {
		if ctx.Err() != nil {
			j.log.Warn("interrupted, skipping remaining videos", zap.Int("remaining", len(records)-i))
			for range records[i:] {
				j.batch.Skipped()
			}
			return
		}
		j.add(rec)
		_ = j.bar.Add(1)
	}

	if n := j.assembler.Skipped(); n > 0 {
		j.log.Warn("records without a declared group were skipped", zap.Int("count", n))
	}
}

func (j *packJob) add(rec dataset.Record) {
	start := time.Now()
	log := j.log.With(zap.Int("video_id", rec.VideoID), zap.String("label", rec.Label))

	dir := extract.FramesDir(j.framesRoot, rec.Label, rec.VideoID)
	frames, err := discover.FrameFiles(dir)
	if err != nil {
		j.batch.Failed()
		log.Error("list frames failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	switch {
	case len(frames) < rec.FrameCount:
		j.batch.Failed()
		log.Error("fewer frame files than metadata frame_count",
			zap.Int("frame_count", rec.FrameCount),
			zap.Int("found", len(frames)),
		)
		return
	case len(frames) > rec.FrameCount:
		j.batch.Warn("frame_count_mismatch")
		log.Warn("ignoring frame files past metadata frame_count",
			zap.Int("frame_count", rec.FrameCount),
			zap.Int("found", len(frames)),
		)
		frames = frames[:rec.FrameCount]
	}

	err = j.assembler.Add(rec, frames)
	switch {
	case errors.Is(err, assemble.ErrGroupMismatch):
		j.batch.Skipped()
		log.Debug("no group for label, skipping")
	case errors.Is(err, assemble.ErrEmptyWindow):
		j.batch.Warn("empty_window")
		j.batch.Processed(0, time.Since(start))
		log.Warn("trim window leaves no frames", zap.Int("frames", len(frames)))
	case err != nil:
		j.batch.Failed()
		log.Error("assemble failed", zap.Error(err))
	default:
		stacks := j.assembler.Stacks(rec.Label)
		kept := len(stacks[len(stacks)-1].Frames)
		j.batch.Processed(kept, time.Since(start))
		log.Debug("video packed", zap.Int("frames", kept))
	}
}

func removePartial(log *zap.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("could not remove partial archive", zap.String("path", path), zap.Error(err))
	}
}
