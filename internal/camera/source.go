// Package camera provides frame sources for the pipeline.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"log"
	"time"

	"golang.org/x/image/draw"

	"moodcam/internal/pipeline"
)

var (
	// ErrSourceUnavailable is returned when a source cannot be opened
	ErrSourceUnavailable = errors.New("frame source unavailable")
	// ErrSourceExhausted is returned by Next at end of stream or on device failure
	ErrSourceExhausted = pipeline.ErrSourceExhausted
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

var timeNow = time.Now

const (
	maxFrameBytes     = 16 << 20
	maxDecodeFailures = 5
)

// SplitJPEG is a bufio.SplitFunc that yields complete JPEG images from an
// MJPEG byte stream, skipping bytes before the start marker.
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	n := start + 2 + end + 2
	return n, data[start:n], nil
}

// decodeImage decodes JPEG (or any registered format) into RGBA
func decodeImage(data []byte) (*image.RGBA, error) {
	var img image.Image
	var err error
	if bytes.HasPrefix(data, jpegSOI) {
		img, err = jpeg.Decode(bytes.NewReader(data))
	} else {
		img, _, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, err
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// MJPEGSource decodes frames from a concatenated JPEG stream
type MJPEGSource struct {
	r       io.ReadCloser
	scanner *bufio.Scanner
	seq     uint64
}

// NewMJPEGSource reads frames from r until EOF
func NewMJPEGSource(r io.ReadCloser) *MJPEGSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxFrameBytes)
	scanner.Split(SplitJPEG)
	return &MJPEGSource{r: r, scanner: scanner}
}

// readFrame returns the next decodable frame. Corrupt frames are skipped up
// to maxDecodeFailures in a row.
func (s *MJPEGSource) readFrame() (*pipeline.Frame, error) {
	failures := 0
	for s.scanner.Scan() {
		img, err := decodeImage(s.scanner.Bytes())
		if err != nil {
			failures++
			log.Printf("[Camera] Skipping undecodable frame: %v", err)
			if failures >= maxDecodeFailures {
				return nil, fmt.Errorf("%w: %d consecutive undecodable frames", ErrSourceExhausted, failures)
			}
			continue
		}

		s.seq++
		return &pipeline.Frame{
			Seq:        s.seq,
			Image:      img,
			CapturedAt: timeNow(),
		}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceExhausted, err)
	}
	return nil, ErrSourceExhausted
}

// Next returns the next frame. Cancellation is checked before reading only;
// closing the reader unblocks a pending read.
func (s *MJPEGSource) Next(ctx context.Context) (*pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.readFrame()
}

func (s *MJPEGSource) Close() error {
	return s.r.Close()
}

var _ pipeline.FrameSource = (*MJPEGSource)(nil)
