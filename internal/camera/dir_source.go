package camera

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"moodcam/internal/pipeline"
)

// DirSource replays image files from a directory in name order
type DirSource struct {
	dir      string
	files    []string
	next     int
	interval time.Duration
	last     time.Time
	seq      uint64
}

// OpenDir lists the JPEG and PNG files in dir. fps paces playback; zero or
// negative replays as fast as frames are consumed.
func OpenDir(dir string, fps int) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrSourceUnavailable, dir)
	}
	sort.Strings(files)

	var interval time.Duration
	if fps > 0 {
		interval = time.Second / time.Duration(fps)
	}

	log.Printf("[Camera] Replaying %d frames from %s", len(files), dir)
	return &DirSource{dir: dir, files: files, interval: interval}, nil
}

// Len returns the number of frames in the directory
func (s *DirSource) Len() int {
	return len(s.files)
}

// Next returns the next image, waiting for the playback interval
func (s *DirSource) Next(ctx context.Context) (*pipeline.Frame, error) {
	if s.next >= len(s.files) {
		return nil, ErrSourceExhausted
	}

	if s.interval > 0 && !s.last.IsZero() {
		if wait := time.Until(s.last.Add(s.interval)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	path := s.files[s.next]
	s.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceExhausted, err)
	}
	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrSourceExhausted, filepath.Base(path), err)
	}

	s.last = timeNow()
	s.seq++
	return &pipeline.Frame{
		Seq:        s.seq,
		Image:      img,
		CapturedAt: s.last,
	}, nil
}

func (s *DirSource) Close() error {
	s.next = len(s.files)
	return nil
}

var _ pipeline.FrameSource = (*DirSource)(nil)
