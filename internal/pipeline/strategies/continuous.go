package strategies

import (
	"sync"
	"time"

	"moodcam/internal/pipeline"
)

// ContinuousStrategy allows analysis on every frame.
// It still records the last run for diagnostics.
type ContinuousStrategy struct {
	lastRun time.Time
	runs    uint64
	mu      sync.Mutex
}

// NewContinuousStrategy creates a continuous strategy
func NewContinuousStrategy() *ContinuousStrategy {
	return &ContinuousStrategy{}
}

func (s *ContinuousStrategy) Name() string {
	return string(pipeline.AnalysisModeContinuous)
}

func (s *ContinuousStrategy) ShouldRun(now time.Time) bool {
	return true
}

func (s *ContinuousStrategy) MarkRun(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = now
	s.runs++
}

func (s *ContinuousStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Time{}
	s.runs = 0
}

// Runs returns how many runs were committed since the last reset
func (s *ContinuousStrategy) Runs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

var _ pipeline.RateLimiter = (*ContinuousStrategy)(nil)
