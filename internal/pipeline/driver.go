package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"
)

var (
	boxColor   = color.RGBA{0, 255, 0, 255}
	labelStyle = TextStyle{Color: color.RGBA{0, 255, 0, 255}}
)

const (
	boxThickness = 2
	labelOffsetY = 10
	errorOutcome = "error"
)

// Dependencies are the collaborators the driver orchestrates
type Dependencies struct {
	Source   FrameSource
	Limiter  RateLimiter
	Adapter  InferenceAdapter
	Resolver ContextResolver
	Sink     AnnotationSink
	Log      DetectionLog
	Display  Display
	Results  ResultHandler // Optional
}

// Driver runs the capture, analyze, annotate, log, display loop on a single goroutine
type Driver struct {
	deps   Dependencies
	config DriverConfig

	mu            sync.Mutex
	state         State
	stopRequested atomic.Bool

	stats          Stats
	statsMu        sync.RWMutex
	inferenceTotal float64
}

// NewDriver validates the collaborators and creates an idle driver
func NewDriver(deps Dependencies, config DriverConfig) (*Driver, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("frame source is required")
	case deps.Limiter == nil:
		return nil, errors.New("rate limiter is required")
	case deps.Adapter == nil:
		return nil, errors.New("inference adapter is required")
	case deps.Resolver == nil:
		return nil, errors.New("context resolver is required")
	case deps.Sink == nil:
		return nil, errors.New("annotation sink is required")
	case deps.Log == nil:
		return nil, errors.New("detection log is required")
	case deps.Display == nil:
		return nil, errors.New("display is required")
	}

	defaults := DefaultDriverConfig()
	if config.AnalysisWidth <= 0 || config.AnalysisHeight <= 0 {
		return nil, fmt.Errorf("invalid analysis size %dx%d", config.AnalysisWidth, config.AnalysisHeight)
	}
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}

	d := &Driver{
		deps:   deps,
		config: config,
		state:  StateIdle,
	}
	d.stats.State = StateIdle.String()
	return d, nil
}

// State returns the current lifecycle state
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stop requests a stop. It is observed between iterations.
func (d *Driver) Stop() {
	d.stopRequested.Store(true)
}

// Stats returns a copy of the driver counters
func (d *Driver) Stats() Stats {
	d.statsMu.RLock()
	defer d.statsMu.RUnlock()
	return d.stats
}

// Run drives the loop until the source ends, Stop is called, ctx is canceled
// or the display reports the quit key. A driver runs at most once. The
// returned error is non-nil for ErrNotResumable and for source failures
// other than exhaustion.
func (d *Driver) Run(ctx context.Context) (StopReason, error) {
	d.mu.Lock()
	if d.state != StateIdle {
		d.mu.Unlock()
		return "", ErrNotResumable
	}
	d.state = StateRunning
	d.mu.Unlock()
	d.setState(StateRunning)

	log.Printf("[Pipeline] Driver started (limiter: %s, analysis: %dx%d)",
		d.deps.Limiter.Name(), d.config.AnalysisWidth, d.config.AnalysisHeight)

	reason, err := d.loop(ctx)

	d.mu.Lock()
	d.state = StateStopped
	d.mu.Unlock()
	d.setState(StateStopped)

	s := d.Stats()
	log.Printf("[Pipeline] Driver stopped (%s): frames=%d analyses=%d detections=%d logged=%d log_failures=%d",
		reason, s.FramesRead, s.AnalysesAttempted, s.Detections, s.EntriesLogged, s.LogFailures)
	return reason, err
}

func (d *Driver) loop(ctx context.Context) (StopReason, error) {
	for {
		if d.stopRequested.Load() {
			return StopRequested, nil
		}
		if ctx.Err() != nil {
			return StopCanceled, nil
		}

		frame, err := d.deps.Source.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrSourceExhausted):
				return StopSourceExhausted, nil
			case ctx.Err() != nil:
				return StopCanceled, nil
			default:
				return StopSourceError, fmt.Errorf("frame source: %w", err)
			}
		}

		if d.step(ctx, frame) {
			return StopQuitKey, nil
		}
	}
}

// step processes one frame and reports whether the quit key was pressed
func (d *Driver) step(ctx context.Context, frame *Frame) bool {
	frames := d.countFrame()

	now := d.config.Clock()
	if d.deps.Limiter.ShouldRun(now) {
		// Commit before the outcome is known; a failed analysis still
		// consumes the interval.
		d.deps.Limiter.MarkRun(now)

		work, cancel := d.workContext(ctx)
		d.analyze(work, frame, now)
		cancel()
	}

	if d.config.SummaryEvery > 0 && frames%d.config.SummaryEvery == 0 {
		s := d.Stats()
		log.Printf("[Pipeline] %d frames, %d analyses, %d detections, %d no-subject, %d errors, avg inference %.1fms",
			s.FramesRead, s.AnalysesAttempted, s.Detections, s.NoSubjectCycles, s.AnalysisErrors, s.AvgInferenceMs)
	}

	key, pressed := d.deps.Display.Show(frame)
	return pressed && key == d.config.QuitKey
}

// workContext detaches one frame's analysis and logging from the run
// context. A stop is observed between iterations, so in-flight work runs to
// completion, bounded by WorkTimeout.
func (d *Driver) workContext(ctx context.Context) (context.Context, context.CancelFunc) {
	work := context.WithoutCancel(ctx)
	if d.config.WorkTimeout > 0 {
		return context.WithTimeout(work, d.config.WorkTimeout)
	}
	return context.WithCancel(work)
}

func (d *Driver) analyze(ctx context.Context, frame *Frame, now time.Time) {
	analysis := d.downscale(frame.Image)
	inferenceSize := analysis.Bounds().Size()

	outcome, err := d.safeAnalyze(ctx, analysis)

	result := &FrameResult{
		FrameSeq:    frame.Seq,
		Timestamp:   now,
		FrameWidth:  frame.Width(),
		FrameHeight: frame.Height(),
		InferenceMs: outcome.InferenceMs,
	}

	switch {
	case err != nil:
		result.Outcome = errorOutcome
		result.Error = err.Error()
		d.updateStats(func(s *Stats) { s.AnalysisErrors++ })
		log.Printf("[Pipeline] Analysis failed for frame %d: %v", frame.Seq, err)
	case outcome.Kind == OutcomeNoSubject:
		result.Outcome = OutcomeNoSubject.String()
		d.updateStats(func(s *Stats) { s.NoSubjectCycles++ })
	default:
		result.Outcome = OutcomeDetections.String()
		for _, det := range outcome.Detections {
			if det.Region.Degenerate() {
				outcome.Discarded++
				continue
			}
			scaled, contextLabel, err := d.handleDetection(ctx, frame, det, inferenceSize)
			if err != nil {
				log.Printf("[Pipeline] Detection %d on frame %d: %v", det.SubjectIndex, frame.Seq, err)
			}
			if scaled != nil {
				result.Detections = append(result.Detections, *scaled)
				result.Contexts = append(result.Contexts, contextLabel)
			}
		}
	}

	d.updateStats(func(s *Stats) {
		s.AnalysesAttempted++
		s.DiscardedDetections += uint64(outcome.Discarded)
		s.LastAnalysisTime = now.Unix()
		d.inferenceTotal += float64(outcome.InferenceMs)
		s.AvgInferenceMs = float32(d.inferenceTotal / float64(s.AnalysesAttempted))
	})

	if d.deps.Results != nil {
		d.deps.Results.OnFrameResult(result)
	}
}

// safeAnalyze converts an adapter panic into an error
func (d *Driver) safeAnalyze(ctx context.Context, img image.Image) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{}
			err = fmt.Errorf("inference adapter panic: %v", r)
		}
	}()
	return d.deps.Adapter.Analyze(ctx, img)
}

// handleDetection rescales, annotates, resolves context and logs one detection.
// Failures are contained here so the remaining detections still run. The
// rescaled detection is returned whenever annotation happened.
func (d *Driver) handleDetection(ctx context.Context, frame *Frame, det Detection, inferenceSize image.Point) (scaled *Detection, contextLabel string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.updateStats(func(s *Stats) { s.DetectionFailures++ })
		}
	}()

	region := Rescale(det.Region, frame.Size(), inferenceSize)
	rect := region.Rect()

	d.deps.Sink.DrawBox(frame, rect, boxColor, boxThickness)
	d.deps.Sink.DrawText(frame, fmt.Sprintf("%s: %.2f", det.DominantLabel, det.Confidence),
		image.Pt(region.X, region.Y-labelOffsetY), labelStyle)

	out := det
	out.Region = region
	scaled = &out
	d.updateStats(func(s *Stats) { s.Detections++ })

	contextLabel = d.deps.Resolver.CurrentContext(ctx)

	entry := LogEntry{
		Timestamp:     d.config.Clock().Format(TimestampLayout),
		SubjectIndex:  det.SubjectIndex,
		DominantLabel: det.DominantLabel,
		Confidence:    det.Confidence,
		ContextLabel:  contextLabel,
	}
	if err := d.deps.Log.Append(ctx, entry); err != nil {
		d.updateStats(func(s *Stats) { s.LogFailures++ })
		if !errors.Is(err, ErrLogWrite) {
			err = fmt.Errorf("%w: %v", ErrLogWrite, err)
		}
		return scaled, contextLabel, err
	}

	d.updateStats(func(s *Stats) { s.EntriesLogged++ })
	return scaled, contextLabel, nil
}

// downscale resizes the frame to the analysis resolution. The frame itself is
// returned when it already matches.
func (d *Driver) downscale(src *image.RGBA) image.Image {
	target := image.Rect(0, 0, d.config.AnalysisWidth, d.config.AnalysisHeight)
	if src.Bounds().Size() == target.Size() {
		return src
	}
	dst := image.NewRGBA(target)
	draw.BiLinear.Scale(dst, target, src, src.Bounds(), draw.Src, nil)
	return dst
}

func (d *Driver) countFrame() uint64 {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.stats.FramesRead++
	return d.stats.FramesRead
}

func (d *Driver) setState(state State) {
	d.updateStats(func(s *Stats) { s.State = state.String() })
}

func (d *Driver) updateStats(fn func(*Stats)) {
	d.statsMu.Lock()
	fn(&d.stats)
	d.statsMu.Unlock()
}

var _ StatsProvider = (*Driver)(nil)
