package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

const (
	framePattern = "frame_%05d.jpg"

	// select expressions longer than this are passed with -filter_script:v; exec caps a
	// single argument at 128 KiB
	maxInlineFilter = 8 << 10
)

// FFmpegDecoder implements Decoder with the ffmpeg and ffprobe binaries.
type FFmpegDecoder struct {
	quality      int
	probeTimeout time.Duration
	logger       *zap.Logger
}

func NewFFmpegDecoder(quality int, probeTimeout time.Duration, logger *zap.Logger) *FFmpegDecoder {
	if quality <= 0 {
		quality = 2
	}
	return &FFmpegDecoder{quality: quality, probeTimeout: probeTimeout, logger: logger}
}

type probeOutput struct {
	Streams []struct {
		CodecType     string `json:"codec_type"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
	} `json:"streams"`
}

func (d *FFmpegDecoder) Probe(ctx context.Context, path string) (Metadata, error) {
	if d.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.probeTimeout)
		defer cancel()
	}

	args := ffmpeg.ConvertKwargsToCmdLineArgs(ffmpeg.KwArgs{
		"show_streams":   "",
		"of":             "json",
		"select_streams": "v:0",
		"count_packets":  "",
	})
	cmd := exec.CommandContext(ctx, "ffprobe", append(args, path)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Metadata{}, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(stdout.String())
}

func parseProbe(raw string) (Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Metadata{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	for _, s := range out.Streams {
		if s.CodecType != "" && s.CodecType != "video" {
			continue
		}
		total := parseCount(s.NbReadPackets)
		if total <= 0 {
			total = parseCount(s.NbFrames)
		}
		return Metadata{TotalFrames: total, Height: s.Height, Width: s.Width}, nil
	}
	return Metadata{}, fmt.Errorf("%w: no video stream", ErrInvalidMetadata)
}

func parseCount(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// ReadFrames keeps only the frames at indices and writes them as numbered JPEGs. Output
// numbering follows the position in indices, not the source frame number.
func (d *FFmpegDecoder) ReadFrames(ctx context.Context, path string, indices []int, dir string) ([]string, error) {
	if len(indices) == 0 {
		return nil, nil
	}

	args, cleanup, err := d.frameArgs(path, indices, dir)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	d.logger.Debug("running ffmpeg", zap.String("path", path), zap.Int("indices", len(indices)))
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg error: %w, output: %s", err, strings.TrimSpace(string(output)))
	}

	frames, err := writtenFrames(dir, len(indices))
	if err != nil {
		return nil, err
	}
	if len(frames) != len(indices) {
		d.logger.Warn("decoder wrote a different number of frames than planned",
			zap.String("path", path),
			zap.Int("planned", len(indices)),
			zap.Int("written", len(frames)),
		)
	}
	return frames, nil
}

// frameArgs builds the ffmpeg arguments for one extraction. Select expressions longer than
// maxInlineFilter go through a filter script file, which cleanup removes.
func (d *FFmpegDecoder) frameArgs(path string, indices []int, dir string) ([]string, func(), error) {
	expr := selectExpr(indices)
	outputPattern := filepath.Join(dir, framePattern)
	kwargs := ffmpeg.KwArgs{
		"vsync":        "passthrough",
		"qscale:v":     d.quality,
		"start_number": 1,
	}

	if len(expr) <= maxInlineFilter {
		args := ffmpeg.
			Input(path).
			Filter("select", ffmpeg.Args{expr}).
			Output(outputPattern, kwargs).
			GlobalArgs("-loglevel", "error").
			OverWriteOutput().
			GetArgs()
		return args, func() {}, nil
	}

	script, err := os.CreateTemp("", "vwiz-select-*.txt")
	if err != nil {
		return nil, nil, fmt.Errorf("create filter script: %w", err)
	}
	cleanup := func() { os.Remove(script.Name()) }
	_, err = script.WriteString("select=" + strings.ReplaceAll(expr, ",", `\,`))
	if cerr := script.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("write filter script: %w", err)
	}

	kwargs["filter_script:v"] = script.Name()
	args := ffmpeg.
		Input(path).
		Output(outputPattern, kwargs).
		GlobalArgs("-loglevel", "error").
		OverWriteOutput().
		GetArgs()
	return args, cleanup, nil
}

// writtenFrames returns frame_00001..frame_n in order, stopping at the first one missing.
func writtenFrames(dir string, n int) ([]string, error) {
	frames := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		p := filepath.Join(dir, fmt.Sprintf(framePattern, i))
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			return nil, fmt.Errorf("stat frame: %w", err)
		}
		frames = append(frames, p)
	}
	return frames, nil
}

// selectExpr returns a select filter expression matching exactly the frame numbers in
// indices. Evenly spaced plans collapse to a constant-size expression.
func selectExpr(indices []int) string {
	first, last := indices[0], indices[len(indices)-1]
	if len(indices) == 1 {
		return fmt.Sprintf("eq(n,%d)", first)
	}

	if step, ok := evenStep(indices); ok {
		switch {
		case step == 1:
			return fmt.Sprintf("between(n,%d,%d)", first, last)
		case first == 0:
			return fmt.Sprintf("lte(n,%d)*not(mod(n,%d))", last, step)
		default:
			return fmt.Sprintf("between(n,%d,%d)*not(mod(n-%d,%d))", first, last, first, step)
		}
	}

	terms := make([]string, len(indices))
	for i, idx := range indices {
		terms[i] = "eq(n," + strconv.Itoa(idx) + ")"
	}
	return strings.Join(terms, "+")
}

func evenStep(indices []int) (int, bool) {
	step := indices[1] - indices[0]
	for i := 2; i < len(indices); i++ {
		if indices[i]-indices[i-1] != step {
			return 0, false
		}
	}
	return step, step > 0
}
