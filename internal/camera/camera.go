package camera

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"moodcam/internal/pipeline"
)

// FFmpegConfig describes a capture device
type FFmpegConfig struct {
	Device       string        // Device path or rtsp/http URL; empty selects Index
	Index        int           // V4L2 index, /dev/video<Index>
	Width        int           // Requested capture width (V4L2 only)
	Height       int           // Requested capture height (V4L2 only)
	FPS          int           // Requested frame rate
	ProbeTimeout time.Duration // Time allowed for the first frame
}

// DeviceForIndex returns the V4L2 device path for a camera index
func DeviceForIndex(index int) string {
	return fmt.Sprintf("/dev/video%d", index)
}

// FFmpegSource captures frames by piping ffmpeg's MJPEG output
type FFmpegSource struct {
	device string
	cmd    *exec.Cmd
	stream *MJPEGSource
	stderr *tailBuffer

	pending   *pipeline.Frame
	closeOnce sync.Once
	waitErr   error
}

// OpenFFmpeg starts ffmpeg for the configured device and waits for the first
// frame. Any failure is reported as ErrSourceUnavailable.
func OpenFFmpeg(ctx context.Context, cfg FFmpegConfig) (*FFmpegSource, error) {
	device := cfg.Device
	if device == "" {
		device = DeviceForIndex(cfg.Index)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}

	if !deviceAccessible(device) {
		return nil, fmt.Errorf("%w: %s is not accessible", ErrSourceUnavailable, device)
	}

	cmd := exec.Command("ffmpeg", captureArgs(device, cfg)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSourceUnavailable, err)
	}
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting ffmpeg: %v", ErrSourceUnavailable, err)
	}

	s := &FFmpegSource{
		device: device,
		cmd:    cmd,
		stream: NewMJPEGSource(stdout),
		stderr: stderr,
	}

	type probeResult struct {
		frame *pipeline.Frame
		err   error
	}
	probe := make(chan probeResult, 1)
	go func() {
		f, err := s.stream.readFrame()
		probe <- probeResult{f, err}
	}()

	timer := time.NewTimer(cfg.ProbeTimeout)
	defer timer.Stop()

	select {
	case r := <-probe:
		if r.err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: %s: %v (%s)", ErrSourceUnavailable, device, r.err, s.stderr.String())
		}
		s.pending = r.frame
	case <-timer.C:
		s.Close()
		<-probe
		return nil, fmt.Errorf("%w: %s: no frame within %v", ErrSourceUnavailable, device, cfg.ProbeTimeout)
	case <-ctx.Done():
		s.Close()
		<-probe
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, ctx.Err())
	}

	log.Printf("[Camera] Capturing %s at %dx%d", device, s.pending.Width(), s.pending.Height())
	return s, nil
}

// captureArgs builds the ffmpeg command line for a device
func captureArgs(device string, cfg FFmpegConfig) []string {
	base := []string{"-hide_banner", "-loglevel", "error"}

	switch {
	case strings.HasPrefix(device, "rtsp://"):
		return append(base,
			"-rtsp_transport", "tcp",
			"-i", device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", cfg.FPS),
			"-q:v", "5",
			"-",
		)
	case isNetworkSource(device):
		return append(base,
			"-i", device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-r", fmt.Sprintf("%d", cfg.FPS),
			"-q:v", "5",
			"-",
		)
	default:
		args := append(base, "-f", "v4l2")
		if cfg.Width > 0 && cfg.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
		}
		return append(args,
			"-framerate", fmt.Sprintf("%d", cfg.FPS),
			"-i", device,
			"-f", "image2pipe",
			"-vcodec", "mjpeg",
			"-q:v", "5",
			"-",
		)
	}
}

// Device returns the device path or URL
func (s *FFmpegSource) Device() string {
	return s.device
}

// Next returns the next captured frame. Canceling ctx stops ffmpeg.
func (s *FFmpegSource) Next(ctx context.Context) (*pipeline.Frame, error) {
	if s.pending != nil {
		f := s.pending
		s.pending = nil
		return f, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	f, err := s.stream.readFrame()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if tail := s.stderr.String(); tail != "" {
			return nil, fmt.Errorf("%w (ffmpeg: %s)", err, tail)
		}
		return nil, err
	}
	return f, nil
}

// Close stops ffmpeg and releases the pipe. It is safe to call more than once.
func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.stream.Close()
		s.waitErr = s.cmd.Wait()
		log.Printf("[Camera] Stopped capture for %s", s.device)
	})
	return nil
}

// isNetworkSource checks if device is an HTTP/RTSP URL
func isNetworkSource(device string) bool {
	return strings.HasPrefix(device, "http://") ||
		strings.HasPrefix(device, "https://") ||
		strings.HasPrefix(device, "rtsp://")
}

// deviceAccessible checks if a local device exists and can be opened
func deviceAccessible(device string) bool {
	// Network sources are checked by the probe frame
	if isNetworkSource(device) {
		return true
	}

	if _, err := os.Stat(device); os.IsNotExist(err) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer file.Close()

	return true
}

// tailBuffer keeps the last n bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

var (
	_ pipeline.FrameSource = (*FFmpegSource)(nil)
	_ io.Writer            = (*tailBuffer)(nil)
)
