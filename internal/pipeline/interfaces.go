package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"time"
)

var (
	// ErrSourceExhausted is returned by a FrameSource at end of stream or on a device failure
	ErrSourceExhausted = errors.New("frame source exhausted")
	// ErrNotResumable is returned by Run on a driver that has already run
	ErrNotResumable = errors.New("driver cannot be restarted")
	// ErrLogWrite wraps a detection log append failure
	ErrLogWrite = errors.New("detection log write failed")
)

// FrameSource produces frames one at a time
type FrameSource interface {
	// Next blocks until a frame is available. At end of stream it returns
	// an error wrapping ErrSourceExhausted.
	Next(ctx context.Context) (*Frame, error)

	// Close releases the device
	Close() error
}

// RateLimiter decides whether analysis may run for a frame observed at now.
// It is owned by the driver goroutine.
type RateLimiter interface {
	// Name returns the strategy identifier
	Name() string

	// ShouldRun is a pure query; it never advances state
	ShouldRun(now time.Time) bool

	// MarkRun records that analysis was attempted at now
	MarkRun(now time.Time)

	// Reset clears internal state
	Reset()
}

// InferenceAdapter turns an analysis image into detections
type InferenceAdapter interface {
	Analyze(ctx context.Context, img image.Image) (Outcome, error)
}

// ContextResolver describes the foreground application. It never fails:
// any lookup problem yields "Unknown".
type ContextResolver interface {
	CurrentContext(ctx context.Context) string
}

// TextStyle controls how overlay text is drawn
type TextStyle struct {
	Color      color.RGBA
	Background color.RGBA // Zero alpha draws no background
}

// AnnotationSink draws overlays into a frame's pixel buffer
type AnnotationSink interface {
	DrawBox(frame *Frame, rect image.Rectangle, c color.RGBA, thickness int)
	DrawText(frame *Frame, text string, pos image.Point, style TextStyle)
}

// DetectionLog persists log entries. Append is durable on return.
type DetectionLog interface {
	Append(ctx context.Context, entry LogEntry) error
	Close() error
}

// Display presents frames and reports key presses
type Display interface {
	// Show presents the frame and returns the key pressed since the last call, if any
	Show(frame *Frame) (key rune, pressed bool)

	Close() error
}

// ResultHandler receives per-frame analysis summaries
type ResultHandler interface {
	// OnFrameResult is called on the driver goroutine and must not block
	OnFrameResult(result *FrameResult)
}

// StatsProvider exposes driver counters to the preview server
type StatsProvider interface {
	Stats() Stats
}
