package database

import (
	"context"
	"errors"

	"moodcam/internal/pipeline"
)

// Tee appends every entry to all logs. Append writes to each log even when an
// earlier one fails and returns the first error.
type Tee struct {
	logs []pipeline.DetectionLog
}

// NewTee fans out to the given logs; nil entries are skipped
func NewTee(logs ...pipeline.DetectionLog) *Tee {
	t := &Tee{}
	for _, l := range logs {
		if l != nil {
			t.logs = append(t.logs, l)
		}
	}
	return t
}

func (t *Tee) Append(ctx context.Context, entry pipeline.LogEntry) error {
	var first error
	for _, l := range t.logs {
		if err := l.Append(ctx, entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every log and joins their errors
func (t *Tee) Close() error {
	var errs []error
	for _, l := range t.logs {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ pipeline.DetectionLog = (*Tee)(nil)
