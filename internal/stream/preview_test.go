package stream

import (
	"bufio"
	"bytes"
	"context"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestShowReturnsPushedKeys(t *testing.T) {
	s := NewPreviewServer(PreviewConfig{})
	defer s.Close()

	if _, pressed := s.Show(newFrame(8, 8)); pressed {
		t.Fatal("Expected no key before PushKey")
	}

	s.PushKey('x')
	s.PushKey('q')

	k, pressed := s.Show(newFrame(8, 8))
	if !pressed || k != 'x' {
		t.Errorf("Expected 'x', got %q (%v)", k, pressed)
	}
	k, pressed = s.Show(newFrame(8, 8))
	if !pressed || k != 'q' {
		t.Errorf("Expected 'q', got %q (%v)", k, pressed)
	}
	if s.FrameSeq() != 3 {
		t.Errorf("Expected 3 frames shown, got %d", s.FrameSeq())
	}
}

func TestPushKeyDropsWhenFull(t *testing.T) {
	s := NewPreviewServer(PreviewConfig{KeyBuffer: 1})
	s.PushKey('a')
	s.PushKey('b') // dropped, must not block

	k, _ := s.Show(newFrame(4, 4))
	if k != 'a' {
		t.Errorf("Expected 'a', got %q", k)
	}
	if _, pressed := s.Show(newFrame(4, 4)); pressed {
		t.Error("Expected the second key to be dropped")
	}
}

func TestSnapshot(t *testing.T) {
	s := NewPreviewServer(PreviewConfig{Quality: 90})
	h := s.SnapshotHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before the first frame, got %d", rec.Code)
	}

	s.Show(newFrame(32, 24))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", ct)
	}
	img, err := jpeg.Decode(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 24 {
		t.Errorf("Unexpected snapshot size %v", img.Bounds())
	}
}

func TestMJPEGStream(t *testing.T) {
	s := NewPreviewServer(PreviewConfig{})
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace") {
		t.Fatalf("Unexpected content type %s", resp.Header.Get("Content-Type"))
	}

	// Headers are flushed after the client is registered
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.Show(newFrame(16, 16))
			}
		}
	}()

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("Read boundary: %v", err)
	}
	if line != "--frame\r\n" {
		t.Errorf("Unexpected boundary line %q", line)
	}
	line, _ = r.ReadString('\n')
	if line != "Content-Type: image/jpeg\r\n" {
		t.Errorf("Unexpected part header %q", line)
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	s := NewPreviewServer(PreviewConfig{})
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	s.Close()
	s.Close()

	finished := make(chan struct{})
	go func() {
		io.Copy(io.Discard, resp.Body)
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Expected the stream to end after Close")
	}
	if s.ClientCount() != 0 {
		t.Errorf("Expected no clients, got %d", s.ClientCount())
	}
}

func TestReadKeys(t *testing.T) {
	var got []rune
	ReadKeys(context.Background(), strings.NewReader("q\n  x\n\nyes\n"), func(r rune) {
		got = append(got, r)
	})
	if string(got) != "qxy" {
		t.Errorf("Expected qxy, got %q", string(got))
	}
}
