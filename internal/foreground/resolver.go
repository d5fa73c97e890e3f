// Package foreground describes the application the user is looking at.
package foreground

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Unknown is the context label used whenever the foreground cannot be determined
const Unknown = "Unknown"

// ErrContextUnavailable is returned by Resolve when any OS query fails
var ErrContextUnavailable = errors.New("foreground context unavailable")

// WindowID identifies a top-level window
type WindowID uint64

// WindowQuerier is the OS window introspection boundary
type WindowQuerier interface {
	FocusedWindow(ctx context.Context) (WindowID, error)
	WindowPID(ctx context.Context, w WindowID) (int, error)
	ProcessName(ctx context.Context, pid int) (string, error)
	WindowTitle(ctx context.Context, w WindowID) (string, error)
}

// Context is a resolved foreground application
type Context struct {
	Process string
	Title   string
}

// Label formats the context as "<process> - <window title>"
func (c Context) Label() string {
	return c.Process + " - " + c.Title
}

// Resolver turns window queries into context labels
type Resolver struct {
	querier WindowQuerier
}

// NewResolver creates a resolver over the given querier
func NewResolver(q WindowQuerier) *Resolver {
	return &Resolver{querier: q}
}

// Resolve queries the focused window. Every failure, including a panic in the
// querier, is reported as ErrContextUnavailable.
func (r *Resolver) Resolve(ctx context.Context) (c Context, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			c = Context{}
			err = fmt.Errorf("%w: panic: %v", ErrContextUnavailable, rec)
		}
	}()

	if r.querier == nil {
		return Context{}, fmt.Errorf("%w: no window querier", ErrContextUnavailable)
	}

	w, err := r.querier.FocusedWindow(ctx)
	if err != nil {
		return Context{}, fmt.Errorf("%w: focused window: %v", ErrContextUnavailable, err)
	}

	pid, err := r.querier.WindowPID(ctx, w)
	if err != nil {
		return Context{}, fmt.Errorf("%w: window pid: %v", ErrContextUnavailable, err)
	}

	name, err := r.querier.ProcessName(ctx, pid)
	if err != nil {
		return Context{}, fmt.Errorf("%w: process name: %v", ErrContextUnavailable, err)
	}

	title, err := r.querier.WindowTitle(ctx, w)
	if err != nil {
		return Context{}, fmt.Errorf("%w: window title: %v", ErrContextUnavailable, err)
	}

	return Context{Process: strings.TrimSpace(name), Title: strings.TrimSpace(title)}, nil
}

// CurrentContext returns the context label, or Unknown. It never fails.
func (r *Resolver) CurrentContext(ctx context.Context) string {
	c, err := r.Resolve(ctx)
	if err != nil {
		return Unknown
	}
	return c.Label()
}
