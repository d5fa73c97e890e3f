package strategies

import (
	"fmt"
	"time"

	"moodcam/internal/pipeline"
)

// Create builds a rate limiter for the given analysis mode.
// An empty mode selects the scheduled strategy.
func Create(mode pipeline.AnalysisMode, interval time.Duration) (pipeline.RateLimiter, error) {
	switch mode {
	case "", pipeline.AnalysisModeScheduled:
		return NewScheduledStrategy(interval), nil

	case pipeline.AnalysisModeContinuous:
		return NewContinuousStrategy(), nil

	case pipeline.AnalysisModeDisabled:
		return NewDisabledStrategy(), nil

	default:
		return nil, fmt.Errorf("unknown analysis mode: %s", mode)
	}
}

// ParseMode validates a mode name from configuration
func ParseMode(s string) (pipeline.AnalysisMode, error) {
	mode := pipeline.AnalysisMode(s)
	switch mode {
	case pipeline.AnalysisModeScheduled, pipeline.AnalysisModeContinuous, pipeline.AnalysisModeDisabled:
		return mode, nil
	case "":
		return pipeline.AnalysisModeScheduled, nil
	default:
		return "", fmt.Errorf("unknown analysis mode: %s", s)
	}
}
