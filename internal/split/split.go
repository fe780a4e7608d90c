// Package split partitions table rows into train, validate and test subsets by ratio.
package split

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"

	"vwiz/internal/dataset"
)

// Subset roles, in output order.
const (
	RoleTrain    = "train"
	RoleValidate = "validate"
	RoleTest     = "test"
)

// ratioEpsilon absorbs float representation error, e.g. 0.58*100 = 57.99999999999999.
const ratioEpsilon = 1e-9

var ErrInvalidRatio = errors.New("invalid split ratio")

// Config controls a split. A nil Validate means "everything not in train", leaving the test
// subset empty. A nil Seed with Shuffle set gives a different order on every run.
type Config struct {
	Train     float64
	Validate  *float64
	Shuffle   bool
	Seed      *uint64
	HasHeader bool
}

// Check reports ErrInvalidRatio for ratios outside their ranges or summing past 1.
func (c Config) Check() error {
	if math.IsNaN(c.Train) || c.Train <= 0 || c.Train > 1 {
		return fmt.Errorf("%w: train ratio %v must be in (0, 1]", ErrInvalidRatio, c.Train)
	}
	if c.Validate == nil {
		return nil
	}
	v := *c.Validate
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%w: validate ratio %v must be in [0, 1]", ErrInvalidRatio, v)
	}
	if c.Train+v > 1+ratioEpsilon {
		return fmt.Errorf("%w: train %v + validate %v exceeds 1", ErrInvalidRatio, c.Train, v)
	}
	return nil
}

// ValidateRatio is the effective validate ratio.
func (c Config) ValidateRatio() float64 {
	if c.Validate == nil {
		return 1 - c.Train
	}
	return *c.Validate
}

// TestRatio is the share left for the test subset.
func (c Config) TestRatio() float64 {
	if c.Validate == nil {
		return 0
	}
	return math.Max(0, 1-c.Train-*c.Validate)
}

// Counts holds subset sizes for a given number of data rows.
type Counts struct {
	Train    int
	Validate int
	Test     int
}

// NewCounts sizes the subsets for n data rows. The three counts always sum to n; rounding
// remainder goes to test, or to validate when no validate ratio was given.
func NewCounts(n int, cfg Config) (Counts, error) {
	if err := cfg.Check(); err != nil {
		return Counts{}, err
	}
	if n < 0 {
		return Counts{}, fmt.Errorf("negative row count %d", n)
	}

	c := Counts{Train: floorShare(n, cfg.Train)}
	if cfg.Validate == nil {
		c.Validate = n - c.Train
		return c, nil
	}

	c.Validate = min(floorShare(n, *cfg.Validate), n-c.Train)
	c.Test = n - c.Train - c.Validate
	return c, nil
}

func floorShare(n int, ratio float64) int {
	return min(n, int(math.Floor(float64(n)*ratio+ratioEpsilon)))
}

// Partition assigns data row indices to the three subsets.
type Partition struct {
	Train    []int
	Validate []int
	Test     []int
}

// NewPartition builds a partition of n rows. Rows keep their order unless cfg.Shuffle is set.
func NewPartition(n int, cfg Config) (Partition, error) {
	counts, err := NewCounts(n, cfg)
	if err != nil {
		return Partition{}, err
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if cfg.Shuffle {
		newRand(cfg.Seed).Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	return Partition{
		Train:    order[:counts.Train],
		Validate: order[counts.Train : counts.Train+counts.Validate],
		Test:     order[counts.Train+counts.Validate:],
	}, nil
}

func newRand(seed *uint64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(*seed, *seed))
}

// Result is a split table. Header is nil when the source had none.
type Result struct {
	Header   []string
	Train    [][]string
	Validate [][]string
	Test     [][]string
}

// Subset is one output file's worth of rows, header first when present.
type Subset struct {
	Role string
	Rows [][]string
}

// Split partitions the data rows of t. The header is not counted.
func Split(t dataset.Table, cfg Config) (Result, error) {
	rows := t.Rows
	var header []string
	if cfg.HasHeader {
		header = t.Header
	} else if t.Header != nil {
		rows = append([][]string{t.Header}, rows...)
	}

	p, err := NewPartition(len(rows), cfg)
	if err != nil {
		return Result{}, err
	}

	pick := func(idx []int) [][]string {
		out := make([][]string, len(idx))
		for i, j := range idx {
			out[i] = rows[j]
		}
		return out
	}

	return Result{
		Header:   header,
		Train:    pick(p.Train),
		Validate: pick(p.Validate),
		Test:     pick(p.Test),
	}, nil
}

// Subsets returns train, validate and test with the header prepended to each.
func (r Result) Subsets() []Subset {
	withHeader := func(rows [][]string) [][]string {
		if r.Header == nil {
			return rows
		}
		return append([][]string{r.Header}, rows...)
	}
	return []Subset{
		{Role: RoleTrain, Rows: withHeader(r.Train)},
		{Role: RoleValidate, Rows: withHeader(r.Validate)},
		{Role: RoleTest, Rows: withHeader(r.Test)},
	}
}

// FileName is <base>_<role>.csv, or <base>_<role>_<postfix>.csv when postfix is set.
func FileName(base, role, postfix string) string {
	if postfix == "" {
		return fmt.Sprintf("%s_%s.csv", base, role)
	}
	return fmt.Sprintf("%s_%s_%s.csv", base, role, postfix)
}

// Write emits all three subsets into dir and returns the paths in role order. Subsets with
// no data rows are still written.
func Write(dir, base, postfix string, r Result) ([]string, error) {
	var paths []string
	for _, s := range r.Subsets() {
		p := filepath.Join(dir, FileName(base, s.Role, postfix))
		if err := dataset.WriteTable(p, nil, s.Rows); err != nil {
			return paths, fmt.Errorf("write %s subset: %w", s.Role, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
