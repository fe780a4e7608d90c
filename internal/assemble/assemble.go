// Package assemble trims per-video frame sequences and collects them into label groups.
package assemble

import (
	"errors"
	"fmt"
	"strings"

	"vwiz/internal/dataset"
)

var (
	ErrEmptyWindow   = errors.New("trim window consumes every frame")
	ErrInvalidWindow = errors.New("invalid trim window")
	ErrGroupMismatch = errors.New("label has no declared group")
)

// TrimWindow counts frames dropped from each end of a sampled sequence.
type TrimWindow struct {
	SkipStart int
	SkipEnd   int
}

func (w TrimWindow) Validate() error {
	if w.SkipStart < 0 || w.SkipEnd < 0 {
		return fmt.Errorf("%w: start=%d end=%d", ErrInvalidWindow, w.SkipStart, w.SkipEnd)
	}
	return nil
}

// Trim returns seq without its first SkipStart and last SkipEnd elements. The result shares
// seq's backing array.
func Trim[T any](seq []T, w TrimWindow) ([]T, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if w.SkipStart+w.SkipEnd >= len(seq) {
		return seq[:0:0], fmt.Errorf("%w: %d frames, skip %d+%d", ErrEmptyWindow, len(seq), w.SkipStart, w.SkipEnd)
	}
	return seq[w.SkipStart : len(seq)-w.SkipEnd], nil
}

// Stack is the trimmed, ordered frame sequence of one video.
type Stack struct {
	VideoID int
	Label   string
	Frames  []string
}

// Writer persists a group of stacks.
type Writer interface {
	WriteGroup(name string, stacks []Stack) error
}

// Assembler collects stacks per declared group and hands them to a Writer in one pass.
type Assembler struct {
	window  TrimWindow
	order   []string
	groups  map[string][]Stack
	skipped int
}

// ParseGroups splits a comma separated group list, dropping blanks.
func ParseGroups(s string) []string {
	var groups []string
	for _, g := range strings.Split(s, ",") {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}

func New(groups []string, window TrimWindow) (*Assembler, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, errors.New("at least one group is required")
	}

	a := &Assembler{
		window: window,
		order:  make([]string, 0, len(groups)),
		groups: make(map[string][]Stack, len(groups)),
	}
	for _, g := range groups {
		if _, dup := a.groups[g]; dup {
			return nil, fmt.Errorf("duplicate group %q", g)
		}
		a.order = append(a.order, g)
		a.groups[g] = nil
	}
	return a, nil
}

// Add trims frames and appends them to the group named by rec.Label. A label without a
// group is skipped with ErrGroupMismatch. An empty window still records the video, with no
// frames, and returns ErrEmptyWindow.
func (a *Assembler) Add(rec dataset.Record, frames []string) error {
	stacks, ok := a.groups[rec.Label]
	if !ok {
		a.skipped++
		return fmt.Errorf("%w: video %d label %q", ErrGroupMismatch, rec.VideoID, rec.Label)
	}

	trimmed, err := Trim(frames, a.window)
	a.groups[rec.Label] = append(stacks, Stack{VideoID: rec.VideoID, Label: rec.Label, Frames: trimmed})
	if err != nil {
		return fmt.Errorf("video %d: %w", rec.VideoID, err)
	}
	return nil
}

// Skipped is the number of records rejected for having no group.
func (a *Assembler) Skipped() int {
	return a.skipped
}

// Groups returns the declared group names in declaration order.
func (a *Assembler) Groups() []string {
	return a.order
}

// Stacks returns the stacks collected for group.
func (a *Assembler) Stacks(group string) []Stack {
	return a.groups[group]
}

// Flush writes every declared group, including empty ones.
func (a *Assembler) Flush(w Writer) error {
	for _, name := range a.order {
		if err := w.WriteGroup(name, a.groups[name]); err != nil {
			return fmt.Errorf("write group %s: %w", name, err)
		}
	}
	return nil
}
