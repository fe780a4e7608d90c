// Package metrics tallies the outcome of a batch command and exports it in the prometheus
// text format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Video outcome labels.
const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Summary is the end-of-run report printed by batch commands.
type Summary struct {
	Processed int
	Skipped   int
	Failed    int
	Warnings  int
	Frames    int
}

func (s Summary) Total() int {
	return s.Processed + s.Skipped + s.Failed
}

func (s Summary) String() string {
	return fmt.Sprintf("processed=%d skipped=%d failed=%d warnings=%d frames=%d",
		s.Processed, s.Skipped, s.Failed, s.Warnings, s.Frames)
}

// Batch collects per-video outcomes for one command run. It is not safe for concurrent use.
type Batch struct {
	summary  Summary
	registry *prometheus.Registry
	videos   *prometheus.CounterVec
	warnings *prometheus.CounterVec
	frames   prometheus.Counter
	duration prometheus.Histogram
}

func NewBatch(command string) *Batch {
	constLabels := prometheus.Labels{"command": command}
	b := &Batch{
		registry: prometheus.NewRegistry(),
		videos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "vwiz_videos_total",
			Help:        "Videos handled by the batch, by outcome",
			ConstLabels: constLabels,
		}, []string{"status"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "vwiz_warnings_total",
			Help:        "Recoverable conditions reported during the batch, by kind",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "vwiz_frames_total",
			Help:        "Frames written by the batch",
			ConstLabels: constLabels,
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "vwiz_video_duration_seconds",
			Help:        "Time spent on each processed video",
			ConstLabels: constLabels,
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
	}
	b.registry.MustRegister(b.videos, b.warnings, b.frames, b.duration)

	// zero-initialise so every status shows up in the export
	for _, s := range []string{StatusProcessed, StatusSkipped, StatusFailed} {
		b.videos.WithLabelValues(s)
	}
	return b
}

func (b *Batch) Processed(frames int, took time.Duration) {
	b.summary.Processed++
	b.summary.Frames += frames
	b.videos.WithLabelValues(StatusProcessed).Inc()
	b.frames.Add(float64(frames))
	b.duration.Observe(took.Seconds())
}

func (b *Batch) Skipped() {
	b.summary.Skipped++
	b.videos.WithLabelValues(StatusSkipped).Inc()
}

func (b *Batch) Failed() {
	b.summary.Failed++
	b.videos.WithLabelValues(StatusFailed).Inc()
}

// Warn records a recoverable condition such as a degenerate sample or an empty trim window.
func (b *Batch) Warn(kind string) {
	b.summary.Warnings++
	b.warnings.WithLabelValues(kind).Inc()
}

func (b *Batch) Summary() Summary {
	return b.summary
}

// WriteTextfile writes the metrics for the node exporter textfile collector. An empty path
// is a no-op.
func (b *Batch) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, b.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
