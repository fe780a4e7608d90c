package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"vwiz/internal/archive"
	"vwiz/internal/config"
	"vwiz/internal/dataset"
	"vwiz/internal/discover"
	"vwiz/internal/extract"
	"vwiz/internal/metrics"
	"vwiz/internal/sampling"
)

func testConfig() *config.Config {
	return &config.Config{LogLevel: "error", OutDir: "outputs", JPEGQuality: 2, ProbeTimeout: time.Second}
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp(testConfig())
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(context.Context, *cli.Command, error) {}
	err := app.Run(context.Background(), append([]string{"vwiz"}, args...))
	return out.String(), err
}

func writeMetadata(t *testing.T, path string, records []dataset.Record) {
	t.Helper()
	w, err := dataset.CreateWriter(path)
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, w.Append(r))
	}
	require.NoError(t, w.Close())
}

func TestSplitCommand(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "metadata.csv")
	var records []dataset.Record
	for i := 0; i < 10; i++ {
		records = append(records, dataset.Record{VideoID: i, Label: "l", FrameCount: 4, Height: 2, Width: 2})
	}
	writeMetadata(t, csvPath, records)

	saveDir := filepath.Join(dir, "splits")
	out, err := runApp(t, "split",
		"--csv", csvPath,
		"--train-ratio", "0.6",
		"--validate-ratio", "0.2",
		"--shuffle", "--seed", "11",
		"--save-dir", saveDir,
		"--postfix", "s11",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "split: train=6 validate=2 test=2")

	var all []dataset.Record
	for role, want := range map[string]int{"train": 6, "validate": 2, "test": 2} {
		got, err := dataset.ReadRecords(filepath.Join(saveDir, "metadata_"+role+"_s11.csv"))
		require.NoError(t, err)
		assert.Len(t, got, want, role)
		all = append(all, got...)
	}
	assert.ElementsMatch(t, records, all)
}

func TestSplitCommand_InvalidRatioWritesNothing(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "metadata.csv")
	writeMetadata(t, csvPath, []dataset.Record{{VideoID: 0, Label: "a", FrameCount: 1, Height: 1, Width: 1}})

	_, err := runApp(t, "split", "--csv", csvPath, "--train-ratio", "0.8", "--validate-ratio", "0.5")
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSplitCommand_IncludeHeader(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "rows.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a\nb\nc\nd\n"), 0o644))

	out, err := runApp(t, "split", "--csv", csvPath, "--train-ratio", "0.5", "--include-header")
	require.NoError(t, err)
	assert.Contains(t, out, "split: train=2 validate=2 test=0")

	train, err := os.ReadFile(filepath.Join(dir, "rows_train.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(train))

	test, err := os.ReadFile(filepath.Join(dir, "rows_test.csv"))
	require.NoError(t, err)
	assert.Empty(t, test)
}

func writeFrames(t *testing.T, root string, rec dataset.Record, n int) {
	t.Helper()
	dir := extract.FramesDir(root, rec.Label, rec.VideoID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 1; i <= n; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("frame_%05d.jpg", i)), []byte(strconv.Itoa(i)), 0o644))
	}
}

func TestPackCommand(t *testing.T) {
	root := t.TempDir()
	records := []dataset.Record{
		{VideoID: 0, Label: "walk", FrameCount: 6, Height: 4, Width: 4},
		{VideoID: 1, Label: "run", FrameCount: 3, Height: 4, Width: 4},
		{VideoID: 2, Label: "swim", FrameCount: 6, Height: 4, Width: 4},
		{VideoID: 3, Label: "walk", FrameCount: 5, Height: 4, Width: 4},
	}
	for _, r := range records {
		writeFrames(t, root, r, r.FrameCount)
	}
	writeMetadata(t, filepath.Join(root, "metadata.csv"), records)

	outDir := t.TempDir()
	metricsFile := filepath.Join(outDir, "pack.prom")
	out, err := runApp(t, "h5",
		"--root-dir", root,
		"--groups", "walk,run",
		"--skip-start", "1",
		"--skip-end", "2",
		"--output-path", outDir,
		"--output-name", "actions",
		"--metrics-file", metricsFile,
	)
	require.NoError(t, err)
	assert.Contains(t, out, "pack: processed=3 skipped=1 failed=0 warnings=1 frames=5")
	assert.FileExists(t, metricsFile)

	m, err := archive.ReadManifest(filepath.Join(outDir, "actions.zip"))
	require.NoError(t, err)
	require.Len(t, m.Groups, 2)
	assert.NotEmpty(t, m.RunID)

	walk := m.Groups[0]
	assert.Equal(t, "walk", walk.Name)
	require.Len(t, walk.Videos, 2)
	assert.Equal(t, []string{"walk/0/frame_00002.jpg", "walk/0/frame_00003.jpg", "walk/0/frame_00004.jpg"}, walk.Videos[0].Frames)
	assert.Equal(t, 2, walk.Videos[1].FrameCount)

	run := m.Groups[1]
	require.Len(t, run.Videos, 1)
	assert.Zero(t, run.Videos[0].FrameCount)
}

func TestPackCommand_InvalidWindow(t *testing.T) {
	_, err := runApp(t, "pack",
		"--root-dir", t.TempDir(),
		"--groups", "a",
		"--skip-start=-1",
		"--output-path", t.TempDir(),
		"--output-name", "x",
	)
	assert.Error(t, err)
}

type stubDecoder struct {
	meta map[string]extract.Metadata
}

func (d *stubDecoder) Probe(ctx context.Context, path string) (extract.Metadata, error) {
	m, ok := d.meta[filepath.Base(path)]
	if !ok {
		return extract.Metadata{}, errors.New("invalid data found when processing input")
	}
	return m, nil
}

func (d *stubDecoder) ReadFrames(ctx context.Context, path string, indices []int, dir string) ([]string, error) {
	frames := make([]string, len(indices))
	for i := range indices {
		frames[i] = filepath.Join(dir, fmt.Sprintf("frame_%05d.jpg", i+1))
		if err := os.WriteFile(frames[i], nil, 0o644); err != nil {
			return nil, err
		}
	}
	return frames, nil
}

func TestV2FJob_ContinuesPastFailures(t *testing.T) {
	outDir := t.TempDir()
	csvPath := filepath.Join(outDir, "metadata.csv")
	table, err := dataset.CreateWriter(csvPath)
	require.NoError(t, err)

	dec := &stubDecoder{meta: map[string]extract.Metadata{
		"a.mp4": {TotalFrames: 100, Height: 240, Width: 320},
		"c.mp4": {TotalFrames: 3, Height: 240, Width: 320},
	}}
	log := zaptest.NewLogger(t)
	job := &v2fJob{
		extractor: extract.NewExtractor(dec, extract.Config{Frames: 5, Mode: sampling.Force, FramesRoot: outDir}, log),
		table:     table,
		batch:     metrics.NewBatch("v2f"),
		bar:       newProgressBar(3, "test", true),
		log:       log,
	}

	videos := []discover.Video{
		{Path: "/v/jump/a.mp4", Label: "jump"},
		{Path: "/v/jump/broken.mp4", Label: "jump"},
		{Path: "/v/walk/c.mp4", Label: "walk"},
	}
	require.NoError(t, job.run(context.Background(), videos))
	require.NoError(t, table.Close())

	assert.Equal(t, metrics.Summary{Processed: 2, Failed: 1, Warnings: 1, Frames: 8}, job.batch.Summary())

	got, err := dataset.ReadRecords(csvPath)
	require.NoError(t, err)
	assert.Equal(t, []dataset.Record{
		{VideoID: 0, Label: "jump", FrameCount: 5, Height: 240, Width: 320},
		{VideoID: 2, Label: "walk", FrameCount: 3, Height: 240, Width: 320},
	}, got)

	frames, err := discover.FrameFiles(extract.FramesDir(outDir, "walk", 2))
	require.NoError(t, err)
	assert.Len(t, frames, 3)
}

func TestV2FJob_StopsOnCancel(t *testing.T) {
	table, err := dataset.CreateWriter(filepath.Join(t.TempDir(), "metadata.csv"))
	require.NoError(t, err)
	defer table.Close()

	log := zaptest.NewLogger(t)
	job := &v2fJob{
		extractor: extract.NewExtractor(&stubDecoder{}, extract.Config{Frames: 5, FramesRoot: t.TempDir()}, log),
		table:     table,
		batch:     metrics.NewBatch("v2f"),
		bar:       newProgressBar(2, "test", true),
		log:       log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, job.run(ctx, []discover.Video{{Path: "a.mp4", Label: "x"}, {Path: "b.mp4", Label: "x"}}))
	assert.Equal(t, metrics.Summary{Skipped: 2}, job.batch.Summary())
}

func TestV2FCommand_NoVideos(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))

	_, err := runApp(t, "v2f", "--root-dir", root, "--frames", "4", "--extension", "mp4", "--out-dir", t.TempDir())
	assert.Error(t, err)
}

func TestPackCommand_FrameFilesDifferFromMetadata(t *testing.T) {
	root := t.TempDir()
	extra := dataset.Record{VideoID: 0, Label: "walk", FrameCount: 3, Height: 4, Width: 4}
	missing := dataset.Record{VideoID: 1, Label: "walk", FrameCount: 4, Height: 4, Width: 4}
	writeFrames(t, root, extra, 5)
	writeFrames(t, root, missing, 2)
	writeMetadata(t, filepath.Join(root, "metadata.csv"), []dataset.Record{extra, missing})

	outDir := t.TempDir()
	out, err := runApp(t, "pack",
		"--root-dir", root,
		"--groups", "walk",
		"--output-path", outDir,
		"--output-name", "walk.zip",
	)
	assert.Error(t, err)
	assert.Contains(t, out, "pack: processed=1 skipped=0 failed=1 warnings=1 frames=3")

	m, err := archive.ReadManifest(filepath.Join(outDir, "walk.zip"))
	require.NoError(t, err)
	require.Len(t, m.Groups, 1)
	require.Len(t, m.Groups[0].Videos, 1)
	assert.Equal(t, []string{"walk/0/frame_00001.jpg", "walk/0/frame_00002.jpg", "walk/0/frame_00003.jpg"}, m.Groups[0].Videos[0].Frames)
}

func TestV2FThenPack_RerunWithSmallerBudget(t *testing.T) {
	outDir := t.TempDir()
	csvPath := filepath.Join(outDir, "metadata.csv")
	dec := &stubDecoder{meta: map[string]extract.Metadata{
		"a.mp4": {TotalFrames: 100, Height: 240, Width: 320},
	}}

	extractOnce := func(frames int) {
		table, err := dataset.CreateWriter(csvPath)
		require.NoError(t, err)
		log := zaptest.NewLogger(t)
		job := &v2fJob{
			extractor: extract.NewExtractor(dec, extract.Config{Frames: frames, Mode: sampling.Force, FramesRoot: outDir}, log),
			table:     table,
			batch:     metrics.NewBatch("v2f"),
			bar:       newProgressBar(1, "test", true),
			log:       log,
		}
		require.NoError(t, job.run(context.Background(), []discover.Video{{Path: "/v/walk/a.mp4", Label: "walk"}}))
		require.NoError(t, table.Close())
	}
	extractOnce(8)
	extractOnce(3)

	archiveDir := t.TempDir()
	out, err := runApp(t, "pack",
		"--root-dir", outDir,
		"--groups", "walk",
		"--skip-start", "1",
		"--output-path", archiveDir,
		"--output-name", "walk",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "pack: processed=1 skipped=0 failed=0 warnings=0 frames=2")

	m, err := archive.ReadManifest(filepath.Join(archiveDir, "walk.zip"))
	require.NoError(t, err)
	require.Len(t, m.Groups[0].Videos, 1)
	assert.Equal(t, []string{"walk/0/frame_00002.jpg", "walk/0/frame_00003.jpg"}, m.Groups[0].Videos[0].Frames)
}

func TestV2FCommand_InvalidMode(t *testing.T) {
	_, err := runApp(t, "v2f", "--root-dir", t.TempDir(), "--frames", "4", "--extension", "mp4", "--mode", "fastest")
	assert.Error(t, err)
}

func TestFinishBatch_ReportsSummaryBeforeRunError(t *testing.T) {
	var out bytes.Buffer
	cmd := &cli.Command{Name: "v2f", Writer: &out}
	batch := metrics.NewBatch("v2f")
	batch.Processed(4, time.Millisecond)

	appendErr := errors.New("append metadata: disk full")
	err := finishBatch(cmd, zaptest.NewLogger(t), batch, "v2f", "", appendErr)
	assert.ErrorIs(t, err, appendErr)
	assert.Contains(t, out.String(), "v2f: processed=1 skipped=0 failed=0 warnings=0 frames=4")
}

func TestRemovePartial(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)

	path := filepath.Join(t.TempDir(), "partial.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK"), 0o644))
	removePartial(log, path)
	assert.NoFileExists(t, path)

	removePartial(log, path)
	assert.Zero(t, logs.Len())
}
