// Package discover enumerates label folders and the videos or frames inside them.
package discover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Video is one source file and the label taken from its parent folder.
type Video struct {
	Path  string
	Label string
}

// Videos returns every file with extension ext inside the immediate subdirectories of root.
// Labels and files are visited in lexical order, which fixes the video ID assignment.
func Videos(root, ext string) ([]Video, error) {
	labels, err := subdirs(root)
	if err != nil {
		return nil, err
	}

	ext = normalizeExt(ext)
	var videos []Video
	for _, label := range labels {
		dir := filepath.Join(root, label)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read label directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
				continue
			}
			videos = append(videos, Video{Path: filepath.Join(dir, entry.Name()), Label: label})
		}
	}
	return videos, nil
}

// FrameFiles lists the extracted frame images in dir in sequence order.
func FrameFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var frames []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "frame_") && strings.HasSuffix(name, ".jpg") {
			frames = append(frames, filepath.Join(dir, name))
		}
	}
	sort.Strings(frames)
	return frames, nil
}

func subdirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read root directory: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	return dirs, nil
}

func normalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
