package strategies

import (
	"time"

	"moodcam/internal/pipeline"
)

// DisabledStrategy never allows analysis
// Used for preview-only runs
type DisabledStrategy struct{}

// NewDisabledStrategy creates a disabled strategy
func NewDisabledStrategy() *DisabledStrategy {
	return &DisabledStrategy{}
}

func (s *DisabledStrategy) Name() string {
	return string(pipeline.AnalysisModeDisabled)
}

func (s *DisabledStrategy) ShouldRun(now time.Time) bool {
	return false
}

func (s *DisabledStrategy) MarkRun(now time.Time) {
	// No-op
}

func (s *DisabledStrategy) Reset() {
	// No-op
}

var _ pipeline.RateLimiter = (*DisabledStrategy)(nil)
