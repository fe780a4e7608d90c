// Package dataset holds the per-video metadata table shared by the pack and split commands.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Header is the column layout of the metadata table.
var Header = []string{"video_id", "label", "frame_count", "height", "width"}

var ErrMalformedRow = errors.New("malformed metadata row")

// Record describes one processed video.
type Record struct {
	VideoID    int    `json:"video_id"`
	Label      string `json:"label"`
	FrameCount int    `json:"frame_count"`
	Height     int    `json:"height"`
	Width      int    `json:"width"`
}

// Row renders the record in Header column order.
func (r Record) Row() []string {
	return []string{
		strconv.Itoa(r.VideoID),
		r.Label,
		strconv.Itoa(r.FrameCount),
		strconv.Itoa(r.Height),
		strconv.Itoa(r.Width),
	}
}

// ParseRecord is the inverse of Record.Row.
func ParseRecord(row []string) (Record, error) {
	if len(row) != len(Header) {
		return Record{}, fmt.Errorf("%w: want %d columns, got %d", ErrMalformedRow, len(Header), len(row))
	}

	var ints [4]int
	for i, col := range []int{0, 2, 3, 4} {
		v, err := strconv.Atoi(row[col])
		if err != nil {
			return Record{}, fmt.Errorf("%w: column %s: %v", ErrMalformedRow, Header[col], err)
		}
		if v < 0 {
			return Record{}, fmt.Errorf("%w: column %s is negative", ErrMalformedRow, Header[col])
		}
		ints[i] = v
	}

	return Record{
		VideoID:    ints[0],
		Label:      row[1],
		FrameCount: ints[1],
		Height:     ints[2],
		Width:      ints[3],
	}, nil
}

// IDCounter hands out sequential video IDs in discovery order. The zero value starts at 0.
type IDCounter struct {
	next int
}

// Next returns the current ID and advances the counter.
func (c *IDCounter) Next() int {
	id := c.next
	c.next++
	return id
}

// Table is a CSV file held in memory: an optional header and the data rows in file order.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable loads a CSV. When hasHeader is set the first row becomes Table.Header.
func ReadTable(path string, hasHeader bool) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	return DecodeTable(f, hasHeader)
}

// DecodeTable reads every row from r. Rows may have differing column counts.
func DecodeTable(r io.Reader, hasHeader bool) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	rows, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse csv: %w", err)
	}

	var t Table
	if hasHeader && len(rows) > 0 {
		t.Header = rows[0]
		rows = rows[1:]
	}
	t.Rows = rows
	return t, nil
}

// WriteTable writes header (if non-nil) followed by rows to path, creating parent directories.
func WriteTable(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create csv dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}

	w := csv.NewWriter(f)
	if header != nil {
		if err := w.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	return f.Close()
}

// ReadRecords loads a metadata table written by Writer.
func ReadRecords(path string) ([]Record, error) {
	t, err := ReadTable(path, true)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(t.Rows))
	for i, row := range t.Rows {
		rec, err := ParseRecord(row)
		if err != nil {
			// +2: one for the header, one for 1-based line numbers
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Writer appends records to a metadata table file. Every row is flushed as it is written.
type Writer struct {
	f *os.File
	w *csv.Writer
}

// CreateWriter truncates path and writes the header row.
func CreateWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create csv dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv: %w", err)
	}

	w := &Writer{f: f, w: csv.NewWriter(f)}
	if err := w.write(Header); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) Append(r Record) error {
	return w.write(r.Row())
}

func (w *Writer) write(row []string) error {
	if err := w.w.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return fmt.Errorf("flush row: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
