package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"vwiz/internal/dataset"
	"vwiz/internal/sampling"
)

var ErrInvalidMetadata = errors.New("invalid video metadata")

type Config struct {
	Frames     int           `json:"frames"`
	Mode       sampling.Mode `json:"mode"`
	FramesRoot string        `json:"frames_root"`
}

// Metadata is what the decoder reports about a source video.
type Metadata struct {
	TotalFrames int
	Height      int
	Width       int
}

// Decoder probes videos and writes selected frames to disk.
type Decoder interface {
	Probe(ctx context.Context, path string) (Metadata, error)
	// ReadFrames writes the frames at indices into dir, one image per index in order, and
	// returns the written file paths.
	ReadFrames(ctx context.Context, path string, indices []int, dir string) ([]string, error)
}

// Result is the outcome of extracting one video.
type Result struct {
	Record     dataset.Record
	Indices    []int
	Frames     []string
	Degenerate bool
}

type Extractor struct {
	decoder Decoder
	cfg     Config
	logger  *zap.Logger
}

func NewExtractor(decoder Decoder, cfg Config, logger *zap.Logger) *Extractor {
	return &Extractor{decoder: decoder, cfg: cfg, logger: logger}
}

// FramesDir is where the frames of one video are written.
func FramesDir(framesRoot, label string, videoID int) string {
	return filepath.Join(framesRoot, label, strconv.Itoa(videoID))
}

// Extract probes path, plans the frame indices and persists the sampled frames.
func (e *Extractor) Extract(ctx context.Context, path, label string, videoID int) (Result, error) {
	log := e.logger.With(zap.Int("video_id", videoID), zap.String("path", path))

	meta, err := e.decoder.Probe(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("probe: %w", err)
	}
	if meta.Height <= 0 || meta.Width <= 0 {
		return Result{}, fmt.Errorf("%w: %dx%d", ErrInvalidMetadata, meta.Width, meta.Height)
	}

	plan, err := sampling.New(meta.TotalFrames, e.cfg.Frames, e.cfg.Mode)
	if err != nil {
		return Result{}, err
	}
	if plan.Degenerate() {
		log.Warn("video shorter than frame budget",
			zap.Int("total_frames", meta.TotalFrames),
			zap.Int("requested", e.cfg.Frames),
			zap.Int("sampled", len(plan.Indices)),
		)
	}

	// frames from an earlier run with a different budget would otherwise survive
	dir := FramesDir(e.cfg.FramesRoot, label, videoID)
	if err := os.RemoveAll(dir); err != nil {
		return Result{}, fmt.Errorf("clear frames dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create frames dir: %w", err)
	}

	frames, err := e.decoder.ReadFrames(ctx, path, plan.Indices, dir)
	if err != nil {
		return Result{}, fmt.Errorf("read frames: %w", err)
	}

	log.Debug("frames extracted",
		zap.Int("total_frames", meta.TotalFrames),
		zap.Int("sampled", len(plan.Indices)),
		zap.String("mode", plan.Mode.String()),
		zap.String("dir", dir),
	)

	return Result{
		Record: dataset.Record{
			VideoID:    videoID,
			Label:      label,
			FrameCount: len(plan.Indices),
			Height:     meta.Height,
			Width:      meta.Width,
		},
		Indices:    plan.Indices,
		Frames:     frames,
		Degenerate: plan.Degenerate(),
	}, nil
}
