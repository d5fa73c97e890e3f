package detectors

import (
	"context"
	"image"

	"moodcam/internal/pipeline"
)

// DisabledAdapter stands in for a classifier when analysis is off. It never
// contacts a backend and always reports no subject.
type DisabledAdapter struct{}

// Analyze reports no subject
func (DisabledAdapter) Analyze(ctx context.Context, img image.Image) (pipeline.Outcome, error) {
	return pipeline.Outcome{Kind: pipeline.OutcomeNoSubject}, nil
}

// Close is a no-op
func (DisabledAdapter) Close() error {
	return nil
}

var _ pipeline.InferenceAdapter = DisabledAdapter{}
