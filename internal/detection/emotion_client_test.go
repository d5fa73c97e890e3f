package detection

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 64, 48))
}

func TestEmotionClientClassify(t *testing.T) {
	var got analyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"dominant_emotion":"happy","emotion":{"happy":91.2,"sad":1.0},"region":{"x":1,"y":2,"w":3,"h":4}}]}`))
	}))
	defer srv.Close()

	c := NewEmotionClient(EmotionClientConfig{Endpoint: srv.URL + "/"})
	doc, err := c.Classify(context.Background(), testImage(), true)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	if !got.EnforceDetection {
		t.Error("Expected enforce_detection to be sent")
	}
	if len(got.Actions) != 1 || got.Actions[0] != "emotion" {
		t.Errorf("Unexpected actions %v", got.Actions)
	}
	if !strings.HasPrefix(got.Img, "data:image/jpeg;base64,") {
		t.Errorf("Expected a JPEG data URI, got %.30q", got.Img)
	}

	list, ok := doc.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("Expected a one-element list, got %#v", doc)
	}
	first := list[0].(map[string]any)
	if first["dominant_emotion"] != "happy" {
		t.Errorf("Unexpected result %#v", first)
	}
}

func TestEmotionClientBareObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"dominant_emotion":"sad","emotion":{"sad":0.8}}`))
	}))
	defer srv.Close()

	c := NewEmotionClient(EmotionClientConfig{Endpoint: srv.URL})
	doc, err := c.Classify(context.Background(), testImage(), true)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	m, ok := doc.(map[string]any)
	if !ok || m["dominant_emotion"] != "sad" {
		t.Errorf("Expected the bare object, got %#v", doc)
	}
}

func TestEmotionClientNoFace(t *testing.T) {
	cases := []struct {
		status int
		body   string
	}{
		{http.StatusBadRequest, `{"error":"Exception while analyzing: Face could not be detected in numpy array."}`},
		{http.StatusUnprocessableEntity, `Face could not be detected. Please confirm that the picture is a face photo`},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))

		c := NewEmotionClient(EmotionClientConfig{Endpoint: srv.URL})
		_, err := c.Classify(context.Background(), testImage(), true)
		if !errors.Is(err, ErrNoSubject) {
			t.Errorf("status %d: expected ErrNoSubject, got %v", tc.status, err)
		}
		srv.Close()
	}
}

func TestEmotionClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewEmotionClient(EmotionClientConfig{Endpoint: srv.URL})
	_, err := c.Classify(context.Background(), testImage(), true)
	if err == nil || errors.Is(err, ErrNoSubject) {
		t.Fatalf("Expected a plain error, got %v", err)
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("Expected status in error, got %v", err)
	}
}

func TestEmotionClientCheckHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`Welcome to DeepFace API!`))
	}))
	defer srv.Close()

	c := NewEmotionClient(EmotionClientConfig{Endpoint: srv.URL})
	if c.IsHealthy() {
		t.Error("Expected unhealthy before the first check")
	}
	if err := c.CheckHealth(context.Background()); err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !c.IsHealthy() {
		t.Error("Expected healthy after a successful check")
	}
}
