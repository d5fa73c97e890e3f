package ws

import (
	"time"

	"moodcam/internal/pipeline"
)

// Message types
const (
	TypeEmotion = "emotion"
	TypeKey     = "key"
)

// EmotionMessage is broadcast for every analyzed frame
type EmotionMessage struct {
	Type        string        `json:"type"` // "emotion"
	FrameSeq    uint64        `json:"frame_seq"`
	Timestamp   time.Time     `json:"timestamp"`
	FrameWidth  int           `json:"frame_width"`
	FrameHeight int           `json:"frame_height"`
	Outcome     string        `json:"outcome"` // "detections", "no_subject" or "error"
	InferenceMs float32       `json:"inference_ms"`
	Faces       []FaceEmotion `json:"faces"`
	Error       string        `json:"error,omitempty"`
}

// FaceEmotion is one classified face
type FaceEmotion struct {
	SubjectIndex int     `json:"face_id"`
	Emotion      string  `json:"emotion"`
	Confidence   float64 `json:"confidence"` // 0.0-1.0
	BBox         []int   `json:"bbox"`       // [x, y, w, h] in frame pixels
	App          string  `json:"app"`        // Foreground application
}

// ClientMessage is sent by preview clients
type ClientMessage struct {
	Type string `json:"type"` // "key"
	Key  string `json:"key"`
}

// NewEmotionMessage builds the broadcast for a frame result
func NewEmotionMessage(result *pipeline.FrameResult) *EmotionMessage {
	msg := &EmotionMessage{
		Type:        TypeEmotion,
		FrameSeq:    result.FrameSeq,
		Timestamp:   result.Timestamp,
		FrameWidth:  result.FrameWidth,
		FrameHeight: result.FrameHeight,
		Outcome:     result.Outcome,
		InferenceMs: result.InferenceMs,
		Faces:       make([]FaceEmotion, 0, len(result.Detections)),
		Error:       result.Error,
	}

	for i, det := range result.Detections {
		app := ""
		if i < len(result.Contexts) {
			app = result.Contexts[i]
		}
		msg.Faces = append(msg.Faces, FaceEmotion{
			SubjectIndex: det.SubjectIndex,
			Emotion:      det.DominantLabel,
			Confidence:   det.Confidence,
			BBox:         []int{det.Region.X, det.Region.Y, det.Region.W, det.Region.H},
			App:          app,
		})
	}
	return msg
}
