package pipeline

import (
	"image"
	"time"
)

// AnalysisMode defines when emotion analysis should run
type AnalysisMode string

const (
	// AnalysisModeScheduled - analyze at most once per interval
	AnalysisModeScheduled AnalysisMode = "scheduled"
	// AnalysisModeContinuous - analyze every frame whose timestamp advanced
	AnalysisModeContinuous AnalysisMode = "continuous"
	// AnalysisModeDisabled - preview only, never analyze
	AnalysisModeDisabled AnalysisMode = "disabled"
)

// TimestampLayout is the wall clock format stored with every log entry
const TimestampLayout = "2006-01-02 15:04:05"

// Emotion labels produced by the classifier
const (
	EmotionAngry    = "angry"
	EmotionDisgust  = "disgust"
	EmotionFear     = "fear"
	EmotionHappy    = "happy"
	EmotionSad      = "sad"
	EmotionSurprise = "surprise"
	EmotionNeutral  = "neutral"
)

// Frame is one captured image. It is owned by a single loop iteration and
// annotated in place.
type Frame struct {
	Seq        uint64      // Frame sequence number
	Image      *image.RGBA // Decoded pixels
	CapturedAt time.Time   // Capture timestamp
}

// Width returns the frame width in pixels
func (f *Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels
func (f *Frame) Height() int { return f.Image.Bounds().Dy() }

// Size returns the frame dimensions
func (f *Frame) Size() image.Point {
	return f.Image.Bounds().Size()
}

// Region is an axis-aligned box in pixel coordinates
type Region struct {
	X int `json:"x"` // Left
	Y int `json:"y"` // Top
	W int `json:"w"` // Width
	H int `json:"h"` // Height
}

// Degenerate reports whether the region has no area
func (r Region) Degenerate() bool {
	return r.W == 0 || r.H == 0
}

// Rect converts the region to an image rectangle
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}

// Detection is one face found by the inference adapter
type Detection struct {
	Region        Region  `json:"region"`         // Face box in inference-resolution pixels
	DominantLabel string  `json:"dominant_label"` // Highest scoring emotion
	Confidence    float64 `json:"confidence"`     // Score of the dominant label [0-1]
	SubjectIndex  int     `json:"subject_index"`  // 1-based position in the classifier output
}

// LogEntry is the persisted form of one detection
type LogEntry struct {
	Timestamp     string  `json:"timestamp"`      // Wall clock at insertion, TimestampLayout
	SubjectIndex  int     `json:"subject_index"`  // Detection.SubjectIndex
	DominantLabel string  `json:"dominant_label"` // Detection.DominantLabel
	Confidence    float64 `json:"confidence"`     // Detection.Confidence
	ContextLabel  string  `json:"context_label"`  // Foreground application, or "Unknown"
}

// OutcomeKind tags the result of one analysis
type OutcomeKind int

const (
	// OutcomeDetections - the classifier located at least one face
	OutcomeDetections OutcomeKind = iota
	// OutcomeNoSubject - the classifier ran but found no face
	OutcomeNoSubject
)

// String returns the wire name of the outcome
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDetections:
		return "detections"
	case OutcomeNoSubject:
		return "no_subject"
	default:
		return "unknown"
	}
}

// Outcome is what the inference adapter returns for one image
type Outcome struct {
	Kind        OutcomeKind
	Detections  []Detection // Valid detections, in classifier order
	Discarded   int         // Degenerate regions dropped
	InferenceMs float32     // Classifier round trip
}

// FrameResult summarizes one analyzed frame for result handlers
type FrameResult struct {
	FrameSeq    uint64      `json:"frame_seq"`
	Timestamp   time.Time   `json:"timestamp"`
	FrameWidth  int         `json:"frame_width"`
	FrameHeight int         `json:"frame_height"`
	Outcome     string      `json:"outcome"`              // "detections", "no_subject" or "error"
	Detections  []Detection `json:"detections"`           // Rescaled to frame coordinates
	Contexts    []string    `json:"contexts"`             // Context label per detection
	Error       string      `json:"error,omitempty"`      // Adapter failure, if any
	InferenceMs float32     `json:"inference_ms"`
}

// State is the driver lifecycle state
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopReason records why the driver left the running state
type StopReason string

const (
	StopSourceExhausted StopReason = "source_exhausted"
	StopSourceError     StopReason = "source_error"
	StopRequested       StopReason = "stop_requested"
	StopQuitKey         StopReason = "quit_key"
	StopCanceled        StopReason = "context_canceled"
)

// Stats holds driver counters
type Stats struct {
	State               string  `json:"state"`
	FramesRead          uint64  `json:"frames_read"`
	AnalysesAttempted   uint64  `json:"analyses_attempted"`
	NoSubjectCycles     uint64  `json:"no_subject_cycles"`
	AnalysisErrors      uint64  `json:"analysis_errors"`
	Detections          uint64  `json:"detections"`
	DiscardedDetections uint64  `json:"discarded_detections"`
	DetectionFailures   uint64  `json:"detection_failures"`
	EntriesLogged       uint64  `json:"entries_logged"`
	LogFailures         uint64  `json:"log_failures"`
	LastAnalysisTime    int64   `json:"last_analysis_time"` // Unix seconds, 0 if never
	AvgInferenceMs      float32 `json:"avg_inference_ms"`
}

// DriverConfig configures the pipeline driver
type DriverConfig struct {
	AnalysisWidth  int              // Inference resolution width
	AnalysisHeight int              // Inference resolution height
	QuitKey        rune             // Key that stops the loop when reported by the display
	Clock          func() time.Time // Time source for rate limiting and log timestamps
	SummaryEvery   uint64           // Log a stats summary every N frames, 0 disables
	WorkTimeout    time.Duration    // Bound on one frame's analysis and logging, 0 is unbounded
}

// DefaultDriverConfig returns the standard analysis settings
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		AnalysisWidth:  640,
		AnalysisHeight: 480,
		QuitKey:        'q',
		Clock:          time.Now,
		SummaryEvery:   100,
	}
}
