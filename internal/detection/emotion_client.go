package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// EmotionClient calls an HTTP emotion analysis service (DeepFace REST shape)
type EmotionClient struct {
	endpoint string
	client   *http.Client
	detector string
	mu       sync.RWMutex
	healthy  bool
}

// EmotionClientConfig holds configuration for the HTTP emotion service
type EmotionClientConfig struct {
	Endpoint        string
	Timeout         time.Duration
	DetectorBackend string // Optional face detector name passed through to the service
}

type analyzeRequest struct {
	Img              string   `json:"img"`
	Actions          []string `json:"actions"`
	EnforceDetection bool     `json:"enforce_detection"`
	DetectorBackend  string   `json:"detector_backend,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewEmotionClient creates a new HTTP emotion client
func NewEmotionClient(config EmotionClientConfig) *EmotionClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &EmotionClient{
		endpoint: strings.TrimRight(config.Endpoint, "/"),
		detector: config.DetectorBackend,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name identifies the backend in logs
func (c *EmotionClient) Name() string {
	return "http"
}

// IsHealthy returns the result of the last health check
func (c *EmotionClient) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// CheckHealth probes the service root
func (c *EmotionClient) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.setHealthy(false)
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.setHealthy(false)
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	c.setHealthy(true)
	return nil
}

func (c *EmotionClient) setHealthy(healthy bool) {
	c.mu.Lock()
	c.healthy = healthy
	c.mu.Unlock()
}

// Classify posts the image to {endpoint}/analyze
func (c *EmotionClient) Classify(ctx context.Context, img image.Image, strict bool) (any, error) {
	uri, err := encodeDataURI(img)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(analyzeRequest{
		Img:              uri,
		Actions:          []string{"emotion"},
		EnforceDetection: strict,
		DetectorBackend:  c.detector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if isNoFaceResponse(resp.StatusCode, body) {
			return nil, ErrNoSubject
		}
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode analyze response: %w", err)
	}

	if m, ok := doc.(map[string]any); ok {
		if results, ok := m["results"]; ok {
			return results, nil
		}
	}
	return doc, nil
}

// isNoFaceResponse reports whether an error body is the service's strict-mode face miss
func isNoFaceResponse(status int, body []byte) bool {
	if status != http.StatusBadRequest && status != http.StatusUnprocessableEntity {
		return false
	}

	msg := string(body)
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		msg = er.Error
	}
	return strings.Contains(strings.ToLower(msg), "face could not be detected")
}

func (c *EmotionClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

var _ Classifier = (*EmotionClient)(nil)
