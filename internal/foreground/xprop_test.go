package foreground

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeXprop answers xprop invocations from a table keyed by the joined arguments
func fakeXprop(t *testing.T, answers map[string]string) CommandRunner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name != "xprop" {
			t.Errorf("Unexpected command %q", name)
		}
		out, ok := answers[strings.Join(args, " ")]
		if !ok {
			return nil, errors.New("exit status 1")
		}
		return []byte(out), nil
	}
}

func newTestQuerier(t *testing.T, answers map[string]string) *XpropQuerier {
	procRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(procRoot, "4242"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(procRoot, "4242", "comm"), []byte("firefox\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &XpropQuerier{run: fakeXprop(t, answers), procRoot: procRoot, timeout: time.Second}
}

func TestXpropQuerierEndToEnd(t *testing.T) {
	q := newTestQuerier(t, map[string]string{
		"-root _NET_ACTIVE_WINDOW":   "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007\n",
		"-id 0x3a00007 _NET_WM_PID":  "_NET_WM_PID(CARDINAL) = 4242\n",
		"-id 0x3a00007 _NET_WM_NAME": `_NET_WM_NAME(UTF8_STRING) = "Inbox \"work\" - Mozilla Firefox"` + "\n",
	})

	got := NewResolver(q).CurrentContext(context.Background())
	want := `firefox - Inbox "work" - Mozilla Firefox`
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestXpropQuerierNoActiveWindow(t *testing.T) {
	q := newTestQuerier(t, map[string]string{
		"-root _NET_ACTIVE_WINDOW": "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x0\n",
	})
	if _, err := q.FocusedWindow(context.Background()); err == nil {
		t.Error("Expected error for window id 0")
	}
}

func TestXpropQuerierMissingPID(t *testing.T) {
	q := newTestQuerier(t, map[string]string{
		"-id 0x10 _NET_WM_PID": "_NET_WM_PID:  not found.\n",
	})
	if _, err := q.WindowPID(context.Background(), 0x10); err == nil {
		t.Error("Expected error when _NET_WM_PID is not set")
	}
}

func TestXpropQuerierVanishedProcess(t *testing.T) {
	q := newTestQuerier(t, nil)
	if _, err := q.ProcessName(context.Background(), 999999); err == nil {
		t.Error("Expected error for a missing /proc entry")
	}
}

func TestXpropQuerierCommandFailure(t *testing.T) {
	q := newTestQuerier(t, map[string]string{})
	if got := NewResolver(q).CurrentContext(context.Background()); got != Unknown {
		t.Errorf("Expected %q, got %q", Unknown, got)
	}
}
