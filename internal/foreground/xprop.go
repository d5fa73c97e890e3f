package foreground

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CommandRunner runs an external command and returns its stdout
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// XpropQuerier implements WindowQuerier for X11 using xprop and /proc
type XpropQuerier struct {
	run      CommandRunner
	procRoot string
	timeout  time.Duration
}

// NewXpropQuerier creates a querier that shells out to xprop. Each xprop
// call is bounded by timeout.
func NewXpropQuerier(timeout time.Duration) *XpropQuerier {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &XpropQuerier{
		run:      execRunner,
		procRoot: "/proc",
		timeout:  timeout,
	}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

func (q *XpropQuerier) xprop(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	out, err := q.run(ctx, "xprop", args...)
	if err != nil {
		return "", fmt.Errorf("xprop %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// propertyValue returns the text after "=" or "#" in an xprop line
func propertyValue(line string) (string, error) {
	if i := strings.Index(line, "="); i >= 0 {
		return strings.TrimSpace(line[i+1:]), nil
	}
	if i := strings.Index(line, "#"); i >= 0 {
		return strings.TrimSpace(line[i+1:]), nil
	}
	return "", fmt.Errorf("property not set: %q", line)
}

func (q *XpropQuerier) FocusedWindow(ctx context.Context) (WindowID, error) {
	out, err := q.xprop(ctx, "-root", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return 0, err
	}

	val, err := propertyValue(out)
	if err != nil {
		return 0, err
	}
	// "window id # 0x3a00007" or "0x3a00007, 0x0"
	val = strings.TrimSpace(strings.Split(val, ",")[0])

	id, err := strconv.ParseUint(strings.TrimPrefix(val, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse window id %q: %w", val, err)
	}
	if id == 0 {
		return 0, errors.New("no focused window")
	}
	return WindowID(id), nil
}

func (q *XpropQuerier) WindowPID(ctx context.Context, w WindowID) (int, error) {
	out, err := q.xprop(ctx, "-id", fmt.Sprintf("0x%x", uint64(w)), "_NET_WM_PID")
	if err != nil {
		return 0, err
	}

	val, err := propertyValue(out)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse pid %q: %w", val, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d", pid)
	}
	return pid, nil
}

func (q *XpropQuerier) ProcessName(ctx context.Context, pid int) (string, error) {
	data, err := os.ReadFile(filepath.Join(q.procRoot, strconv.Itoa(pid), "comm"))
	if err != nil {
		return "", fmt.Errorf("read process name: %w", err)
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", fmt.Errorf("empty process name for pid %d", pid)
	}
	return name, nil
}

func (q *XpropQuerier) WindowTitle(ctx context.Context, w WindowID) (string, error) {
	out, err := q.xprop(ctx, "-id", fmt.Sprintf("0x%x", uint64(w)), "_NET_WM_NAME")
	if err != nil {
		return "", err
	}

	val, err := propertyValue(out)
	if err != nil {
		return "", err
	}
	if title, err := strconv.Unquote(val); err == nil {
		return title, nil
	}
	return strings.Trim(val, `"`), nil
}

var _ WindowQuerier = (*XpropQuerier)(nil)
