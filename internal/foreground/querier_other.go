//go:build !linux

package foreground

import (
	"context"
	"errors"
	"runtime"
	"time"
)

var errUnsupported = errors.New("window introspection not supported on " + runtime.GOOS)

type unsupportedQuerier struct{}

// DefaultQuerier returns the platform window querier
func DefaultQuerier(timeout time.Duration) WindowQuerier {
	return unsupportedQuerier{}
}

func (unsupportedQuerier) FocusedWindow(ctx context.Context) (WindowID, error) {
	return 0, errUnsupported
}

func (unsupportedQuerier) WindowPID(ctx context.Context, w WindowID) (int, error) {
	return 0, errUnsupported
}

func (unsupportedQuerier) ProcessName(ctx context.Context, pid int) (string, error) {
	return "", errUnsupported
}

func (unsupportedQuerier) WindowTitle(ctx context.Context, w WindowID) (string, error) {
	return "", errUnsupported
}
