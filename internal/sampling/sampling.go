// Package sampling decides which frame indices to pull from a video to satisfy a frame budget.
package sampling

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects the index-generation policy.
type Mode int

const (
	// Force returns exactly the requested number of frames, spread evenly over the video.
	Force Mode = iota
	// Auto samples at a fixed stride derived from the video's frame density.
	Auto
)

var ErrInvalidSampling = errors.New("invalid sampling parameters")

func (m Mode) String() string {
	switch m {
	case Force:
		return "force"
	case Auto:
		return "auto"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts "force" or "auto" into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "force":
		return Force, nil
	case "auto", "":
		return Auto, nil
	default:
		return Auto, fmt.Errorf("unknown sampling mode %q", s)
	}
}

// Plan is the ordered set of frame indices chosen for one video.
type Plan struct {
	Total     int
	Requested int
	Mode      Mode
	Indices   []int
}

// Degenerate reports whether a Force plan came back shorter than requested because the
// source has fewer frames than the budget.
func (p Plan) Degenerate() bool {
	return p.Mode == Force && len(p.Indices) < p.Requested
}

// New computes the sampling plan for a video with total frames and a budget of requested.
func New(total, requested int, mode Mode) (Plan, error) {
	if total <= 0 || requested <= 0 {
		return Plan{}, fmt.Errorf("%w: total=%d requested=%d", ErrInvalidSampling, total, requested)
	}

	p := Plan{Total: total, Requested: requested, Mode: mode}
	switch mode {
	case Force:
		p.Indices = forceIndices(total, requested)
	case Auto:
		p.Indices = autoIndices(total, requested)
	default:
		return Plan{}, fmt.Errorf("%w: %s", ErrInvalidSampling, mode)
	}
	return p, nil
}

func forceIndices(total, requested int) []int {
	if requested == 1 {
		return []int{0}
	}

	indices := make([]int, 0, min(total, requested))
	last := -1
	for i := 0; i < requested; i++ {
		idx := i * (total - 1) / (requested - 1)
		// only repeats when total < requested
		if idx == last {
			continue
		}
		indices = append(indices, idx)
		last = idx
	}
	return indices
}

func autoIndices(total, requested int) []int {
	stride := max(1, total/requested)
	indices := make([]int, 0, total/stride+1)
	for idx := 0; idx < total; idx += stride {
		indices = append(indices, idx)
	}
	return indices
}
