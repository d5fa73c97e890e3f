package strategies

import (
	"sync"
	"time"

	"moodcam/internal/pipeline"
)

// DefaultInterval is the minimum spacing between analyses
const DefaultInterval = time.Second

// ScheduledStrategy allows analysis once the interval has strictly elapsed
// since the last committed run. ShouldRun never changes state; the caller
// commits with MarkRun.
type ScheduledStrategy struct {
	interval time.Duration
	lastRun  time.Time
	mu       sync.Mutex
}

// NewScheduledStrategy creates a scheduled strategy. A negative interval
// falls back to DefaultInterval; zero allows every frame whose timestamp advanced.
func NewScheduledStrategy(interval time.Duration) *ScheduledStrategy {
	if interval < 0 {
		interval = DefaultInterval
	}
	return &ScheduledStrategy{
		interval: interval,
	}
}

func (s *ScheduledStrategy) Name() string {
	return string(pipeline.AnalysisModeScheduled)
}

func (s *ScheduledStrategy) ShouldRun(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastRun.IsZero() {
		return true
	}
	return now.Sub(s.lastRun) > s.interval
}

func (s *ScheduledStrategy) MarkRun(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = now
}

func (s *ScheduledStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = time.Time{}
}

// Interval returns the configured spacing
func (s *ScheduledStrategy) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// LastRun returns the last committed run time, zero if none
func (s *ScheduledStrategy) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

var _ pipeline.RateLimiter = (*ScheduledStrategy)(nil)
