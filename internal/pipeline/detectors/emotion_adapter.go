package detectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log"
	"math"
	"sort"
	"time"

	"moodcam/internal/detection"
	"moodcam/internal/pipeline"
)

// EmotionAdapter wraps emotion classifiers to implement pipeline.InferenceAdapter.
// The primary backend is tried first; the fallback serves when it fails for
// any reason other than a missing face.
type EmotionAdapter struct {
	primary  detection.Classifier
	fallback detection.Classifier
}

// EmotionAdapterConfig holds configuration for the emotion adapter
type EmotionAdapterConfig struct {
	Primary  detection.Classifier
	Fallback detection.Classifier // Optional
}

// NewEmotionAdapter creates an emotion adapter
func NewEmotionAdapter(config EmotionAdapterConfig) (*EmotionAdapter, error) {
	if config.Primary == nil {
		return nil, errors.New("primary classifier is required")
	}

	log.Printf("[EmotionAdapter] Using %s backend", config.Primary.Name())
	if config.Fallback != nil {
		log.Printf("[EmotionAdapter] %s backend available as fallback", config.Fallback.Name())
	}

	return &EmotionAdapter{
		primary:  config.Primary,
		fallback: config.Fallback,
	}, nil
}

// Analyze runs strict emotion classification on img
func (a *EmotionAdapter) Analyze(ctx context.Context, img image.Image) (pipeline.Outcome, error) {
	start := time.Now()

	doc, err := a.classify(ctx, img)
	inferenceMs := float32(time.Since(start).Microseconds()) / 1000

	if errors.Is(err, detection.ErrNoSubject) {
		return pipeline.Outcome{Kind: pipeline.OutcomeNoSubject, InferenceMs: inferenceMs}, nil
	}
	if err != nil {
		return pipeline.Outcome{InferenceMs: inferenceMs}, fmt.Errorf("emotion analysis failed: %w", err)
	}

	outcome, err := ConvertResults(doc)
	if err != nil {
		return pipeline.Outcome{InferenceMs: inferenceMs}, err
	}
	outcome.InferenceMs = inferenceMs
	return outcome, nil
}

func (a *EmotionAdapter) classify(ctx context.Context, img image.Image) (any, error) {
	doc, err := a.primary.Classify(ctx, img, true)
	if err == nil || errors.Is(err, detection.ErrNoSubject) || a.fallback == nil {
		return doc, err
	}

	log.Printf("[EmotionAdapter] %s failed, falling back to %s: %v", a.primary.Name(), a.fallback.Name(), err)
	return a.fallback.Classify(ctx, img, true)
}

// Close releases both backends
func (a *EmotionAdapter) Close() error {
	var errs []error
	if err := a.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.fallback != nil {
		if err := a.fallback.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConvertResults normalizes a classifier document into an Outcome. A single
// result object and a list of results are both accepted. Subject indices follow
// the list order starting at 1; a degenerate region is discarded but keeps its index.
func ConvertResults(doc any) (pipeline.Outcome, error) {
	results, err := normalizeResults(doc)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	if len(results) == 0 {
		return pipeline.Outcome{Kind: pipeline.OutcomeNoSubject}, nil
	}

	outcome := pipeline.Outcome{Kind: pipeline.OutcomeDetections}
	for i, raw := range results {
		det := convertResult(raw, i+1)
		if det.Region.Degenerate() {
			outcome.Discarded++
			continue
		}
		outcome.Detections = append(outcome.Detections, det)
	}
	return outcome, nil
}

func normalizeResults(doc any) ([]map[string]any, error) {
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if inner, ok := v["results"]; ok {
			return normalizeResults(inner)
		}
		return []map[string]any{v}, nil
	case []any:
		out := make([]map[string]any, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("result %d: unexpected type %T", i, item)
			}
			out = append(out, m)
		}
		return out, nil
	case []map[string]any:
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected classifier response type %T", doc)
	}
}

func convertResult(raw map[string]any, index int) pipeline.Detection {
	scores := emotionScores(raw["emotion"])

	label, _ := raw["dominant_emotion"].(string)
	if label == "" {
		label = argmax(scores)
	}

	return pipeline.Detection{
		Region:        regionFrom(raw["region"]),
		DominantLabel: label,
		Confidence:    scores[label],
		SubjectIndex:  index,
	}
}

func regionFrom(v any) pipeline.Region {
	m, ok := v.(map[string]any)
	if !ok {
		return pipeline.Region{}
	}
	return pipeline.Region{
		X: int(math.Round(number(m["x"]))),
		Y: int(math.Round(number(m["y"]))),
		W: int(math.Round(number(m["w"]))),
		H: int(math.Round(number(m["h"]))),
	}
}

// emotionScores returns the score map scaled to [0,1]. Services that report
// percentages are detected by any value above 1.
func emotionScores(v any) map[string]float64 {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]float64{}
	}

	scores := make(map[string]float64, len(m))
	percent := false
	for k, raw := range m {
		s := number(raw)
		scores[k] = s
		if s > 1 {
			percent = true
		}
	}

	for k, s := range scores {
		if percent {
			s /= 100
		}
		scores[k] = math.Max(0, math.Min(1, s))
	}
	return scores
}

// argmax returns the highest scoring label; ties go to the alphabetically first
func argmax(scores map[string]float64) string {
	labels := make([]string, 0, len(scores))
	for k := range scores {
		labels = append(labels, k)
	}
	sort.Strings(labels)

	best := ""
	bestScore := math.Inf(-1)
	for _, k := range labels {
		if scores[k] > bestScore {
			best, bestScore = k, scores[k]
		}
	}
	return best
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

var _ pipeline.InferenceAdapter = (*EmotionAdapter)(nil)
