package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"moodcam/internal/config"
	"moodcam/internal/database"
	"moodcam/internal/journal"
	"moodcam/internal/pipeline"
	"moodcam/internal/stream"
	"moodcam/internal/ws"
)

func writeFrames(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 64, 48))
		for p := range img.Pix {
			img.Pix[p] = uint8(i * 40)
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("frame_%03d.jpg", i)))
		if err != nil {
			t.Fatal(err)
		}
		if err := jpeg.Encode(f, img, nil); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	return dir
}

func testCommand(ctx context.Context) (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	return cmd, &out, &errOut
}

func emotionServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []any{map[string]any{
				"dominant_emotion": "happy",
				"emotion":          map[string]any{"happy": 90.0, "sad": 10.0},
				"region":           map[string]any{"x": 100, "y": 100, "w": 200, "h": 200},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunPipelineRecordsReplay(t *testing.T) {
	srv := emotionServer(t)
	dir := writeFrames(t, 3)
	work := t.TempDir()
	dbPath := filepath.Join(work, "emotions.db")

	c := config.Default()
	c.Camera.ReplayDir = dir
	c.Camera.FPS = 1000
	c.Analysis.Mode = string(pipeline.AnalysisModeContinuous)
	c.Classifier.HTTPEndpoint = srv.URL
	c.Log.DSN = dbPath
	c.Log.JournalDir = filepath.Join(work, "journal")
	c.Preview.Addr = ""
	cfg = c

	cmd, out, errOut := testCommand(context.Background())
	if err := runPipeline(cmd, runOptions{mode: pipeline.AnalysisModeContinuous, record: true, frameLimit: -1}); err != nil {
		t.Fatalf("runPipeline: %v", err)
	}

	if !strings.Contains(errOut.String(), string(pipeline.StopSourceExhausted)) {
		t.Errorf("Expected exhausted stop in summary, got:\n%s", errOut.String())
	}
	if !regexp.MustCompile(`FRAMES\s+3`).MatchString(errOut.String()) {
		t.Errorf("Expected 3 frames in summary, got:\n%s", errOut.String())
	}
	if got := strings.Count(out.String(), "face 1: happy (0.90)"); got != 3 {
		t.Errorf("Expected 3 echoed faces, got %d:\n%s", got, out.String())
	}

	db, err := database.New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	entries, err := db.Entries(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 logged entries, got %d", len(entries))
	}
	if entries[0].DominantLabel != "happy" || entries[0].SubjectIndex != 1 || entries[0].SessionID == "" {
		t.Errorf("Unexpected entry %+v", entries[0])
	}

	files, _ := filepath.Glob(filepath.Join(work, "journal", "*_detections.cbor"))
	if len(files) != 1 {
		t.Fatalf("Expected one journal file, got %v", files)
	}
	records, err := journal.ReadFile(files[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("Expected 3 journal records, got %d", len(records))
	}
}

func TestRunPipelinePreviewDoesNotAnalyze(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := config.Default()
	c.Camera.ReplayDir = writeFrames(t, 2)
	c.Camera.FPS = 1000
	c.Classifier.HTTPEndpoint = srv.URL
	c.Log.DSN = filepath.Join(t.TempDir(), "unused.db")
	c.Preview.Addr = ""
	cfg = c

	cmd, _, errOut := testCommand(context.Background())
	if err := runPipeline(cmd, runOptions{mode: pipeline.AnalysisModeDisabled, frameLimit: -1}); err != nil {
		t.Fatalf("runPipeline: %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("Expected no classifier requests, got %d", n)
	}
	if !regexp.MustCompile(`ANALYSES\s+0`).MatchString(errOut.String()) {
		t.Errorf("Expected no analyses in summary, got:\n%s", errOut.String())
	}
	if _, err := os.Stat(c.Log.DSN); !os.IsNotExist(err) {
		t.Error("Preview must not create the detection log")
	}
}

func TestRunPipelineCameraTestWithoutClassifier(t *testing.T) {
	c := config.Default()
	c.Camera.ReplayDir = writeFrames(t, 3)
	c.Camera.FPS = 1000
	c.Classifier.HTTPEndpoint = ""
	c.Classifier.GRPCEndpoint = ""
	c.Preview.Addr = ""
	cfg = c

	cmd, _, errOut := testCommand(context.Background())
	if err := runPipeline(cmd, runOptions{mode: pipeline.AnalysisModeDisabled, frameLimit: 2}); err != nil {
		t.Fatalf("runPipeline: %v", err)
	}
	if !regexp.MustCompile(`FRAMES\s+2`).MatchString(errOut.String()) {
		t.Errorf("Expected 2 frames in summary, got:\n%s", errOut.String())
	}
}

func TestRunPipelineAnalysisRequiresClassifier(t *testing.T) {
	c := config.Default()
	c.Camera.ReplayDir = writeFrames(t, 1)
	c.Classifier.HTTPEndpoint = ""
	c.Log.DSN = filepath.Join(t.TempDir(), "unused.db")
	c.Preview.Addr = ""
	cfg = c

	cmd, _, _ := testCommand(context.Background())
	err := runPipeline(cmd, runOptions{mode: pipeline.AnalysisModeScheduled, record: true, frameLimit: -1})
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}
}

func TestRunPipelineMissingSource(t *testing.T) {
	c := config.Default()
	c.Camera.ReplayDir = filepath.Join(t.TempDir(), "missing")
	c.Preview.Addr = ""
	cfg = c

	cmd, _, _ := testCommand(context.Background())
	err := runPipeline(cmd, runOptions{mode: pipeline.AnalysisModeDisabled, frameLimit: -1})
	if err == nil {
		t.Fatal("Expected an error for a missing replay directory")
	}
}

type countingSource struct {
	served int
}

func (s *countingSource) Next(ctx context.Context) (*pipeline.Frame, error) {
	s.served++
	return &pipeline.Frame{Seq: uint64(s.served), Image: image.NewRGBA(image.Rect(0, 0, 2, 2)), CapturedAt: time.Now()}, nil
}

func (s *countingSource) Close() error { return nil }

func TestLimitedSource(t *testing.T) {
	inner := &countingSource{}
	src := &limitedSource{FrameSource: inner, remaining: 2}

	for i := 0; i < 2; i++ {
		if _, err := src.Next(context.Background()); err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, pipeline.ErrSourceExhausted) {
		t.Errorf("Expected ErrSourceExhausted, got %v", err)
	}
	if inner.served != 2 {
		t.Errorf("Expected 2 frames pulled, got %d", inner.served)
	}
}

func TestEchoResults(t *testing.T) {
	ch := make(chan *pipeline.FrameResult, 1)
	ch <- &pipeline.FrameResult{
		Timestamp: time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local),
		Detections: []pipeline.Detection{
			{DominantLabel: "sad", Confidence: 0.5, SubjectIndex: 1},
			{DominantLabel: "fear", Confidence: 0.25, SubjectIndex: 2},
		},
		Contexts: []string{"code - main.go"},
	}
	close(ch)

	var buf bytes.Buffer
	echoResults(&buf, ch)

	want := "2024-03-01 09:30:00 face 1: sad (0.50) in code - main.go\n" +
		"2024-03-01 09:30:00 face 2: fear (0.25) in Unknown\n"
	if buf.String() != want {
		t.Errorf("Unexpected echo:\n%s", buf.String())
	}
}

func TestHTTPHandler(t *testing.T) {
	c := config.Default()
	preview := stream.NewPreviewServer(stream.PreviewConfig{})
	defer preview.Close()
	hub := ws.NewDetectionHub()
	defer hub.Close()

	h, err := newHTTPHandler(c, preview, hub, fixedStats{pipeline.Stats{FramesRead: 42, State: "running"}})
	if err != nil {
		t.Fatalf("newHTTPHandler: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var s pipeline.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.FramesRead != 42 || s.State != "running" {
		t.Errorf("Unexpected stats %+v", s)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshot", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("snapshot: expected 503 before any frame, got %d", rec.Code)
	}
}

func TestHTTPHandlerRequiresToken(t *testing.T) {
	c := config.Default()
	c.Auth.Enabled = true
	c.Auth.Password = "pw"
	preview := stream.NewPreviewServer(stream.PreviewConfig{})
	defer preview.Close()
	hub := ws.NewDetectionHub()
	defer hub.Close()

	h, err := newHTTPHandler(c, preview, hub, fixedStats{})
	if err != nil {
		t.Fatalf("newHTTPHandler: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz must stay public, got %d", rec.Code)
	}
}

type fixedStats struct{ s pipeline.Stats }

func (f fixedStats) Stats() pipeline.Stats { return f.s }
