// Package archive stores assembled frame stacks in a zip container with one directory per
// group and a JSON manifest.
package archive

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"vwiz/internal/assemble"
)

const ManifestName = "manifest.json"

type Manifest struct {
	RunID     string          `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Groups    []GroupManifest `json:"groups"`
}

type GroupManifest struct {
	Name   string          `json:"name"`
	Videos []VideoManifest `json:"videos"`
}

type VideoManifest struct {
	VideoID    int      `json:"video_id"`
	FrameCount int      `json:"frame_count"`
	Frames     []string `json:"frames"`
}

// Writer implements assemble.Writer on top of a zip file.
type Writer struct {
	f        *os.File
	zw       *zip.Writer
	manifest Manifest
}

var _ assemble.Writer = (*Writer)(nil)

// Create opens a new archive at path, replacing any existing file.
func Create(path, runID string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}

	return &Writer{
		f:  f,
		zw: zip.NewWriter(f),
		manifest: Manifest{
			RunID:     runID,
			CreatedAt: time.Now().UTC(),
			Groups:    []GroupManifest{},
		},
	}, nil
}

// WriteGroup copies every frame of every stack to <group>/<video_id>/<frame name>.
func (w *Writer) WriteGroup(name string, stacks []assemble.Stack) error {
	gm := GroupManifest{Name: name, Videos: make([]VideoManifest, 0, len(stacks))}

	if _, err := w.zw.Create(name + "/"); err != nil {
		return fmt.Errorf("create group entry: %w", err)
	}

	for _, s := range stacks {
		vm := VideoManifest{VideoID: s.VideoID, FrameCount: len(s.Frames), Frames: make([]string, 0, len(s.Frames))}
		dir := path.Join(name, strconv.Itoa(s.VideoID))
		for _, frame := range s.Frames {
			entry := path.Join(dir, filepath.Base(frame))
			if err := w.addFile(entry, frame); err != nil {
				return fmt.Errorf("add %s: %w", frame, err)
			}
			vm.Frames = append(vm.Frames, entry)
		}
		gm.Videos = append(gm.Videos, vm)
	}

	w.manifest.Groups = append(w.manifest.Groups, gm)
	return nil
}

func (w *Writer) addFile(entry, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = entry
	header.Method = zip.Deflate

	writer, err := w.zw.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(writer, file)
	return err
}

// Close writes the manifest and finalises the zip.
func (w *Writer) Close() error {
	mw, err := w.zw.Create(ManifestName)
	if err != nil {
		w.f.Close()
		return fmt.Errorf("create manifest: %w", err)
	}

	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w.manifest); err != nil {
		w.f.Close()
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err := w.zw.Close(); err != nil {
		w.f.Close()
		return fmt.Errorf("close zip: %w", err)
	}
	return w.f.Close()
}

// ReadManifest loads the manifest from an archive written by Writer.
func ReadManifest(path string) (Manifest, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	rc, err := zr.Open(ManifestName)
	if err != nil {
		return Manifest{}, fmt.Errorf("open manifest: %w", err)
	}
	defer rc.Close()

	var m Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}
