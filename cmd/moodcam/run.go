package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"moodcam/internal/camera"
	"moodcam/internal/config"
	"moodcam/internal/database"
	"moodcam/internal/detection"
	"moodcam/internal/foreground"
	"moodcam/internal/journal"
	"moodcam/internal/pipeline"
	"moodcam/internal/pipeline/detectors"
	"moodcam/internal/pipeline/strategies"
	"moodcam/internal/stream"
	"moodcam/internal/ws"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture, analyze and log emotions until quit",
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := strategies.ParseMode(cfg.Analysis.Mode)
		if err != nil {
			return err
		}
		return runPipeline(cmd, runOptions{mode: mode, record: true, frameLimit: -1})
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show the annotated feed without running inference",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, runOptions{mode: pipeline.AnalysisModeDisabled, frameLimit: -1})
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&overrides.mode, "mode", "scheduled", "Analysis mode: scheduled, continuous, disabled")
	f.DurationVar(&overrides.interval, "interval", time.Second, "Minimum time between analyses")
	f.StringVar(&overrides.dsn, "db", "", "SQLite path or postgres:// URL (default: emotion_logs.db)")
	f.StringVar(&overrides.journalDir, "journal-dir", "", "Also write detections to a CBOR journal in this directory")
	f.StringVar(&overrides.classifierURL, "classifier-url", "", "HTTP emotion service endpoint")
	f.StringVar(&overrides.classifierGRPC, "classifier-grpc", "", "gRPC emotion service endpoint (preferred over HTTP)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(previewCmd)
}

type closingAdapter interface {
	pipeline.InferenceAdapter
	Close() error
}

type runOptions struct {
	mode       pipeline.AnalysisMode
	record     bool // Open the detection log
	frameLimit int  // Stop after this many frames; negative is unlimited
}

const logWriteTimeout = 5 * time.Second

// runPipeline wires the collaborators from cfg and drives the loop
func runPipeline(cmd *cobra.Command, opts runOptions) error {
	ctx := cmd.Context()

	source, sourceName, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer source.Close()

	var frames pipeline.FrameSource = source
	if opts.frameLimit >= 0 {
		frames = &limitedSource{FrameSource: source, remaining: opts.frameLimit}
	}

	limiter, err := strategies.Create(opts.mode, cfg.Analysis.Interval)
	if err != nil {
		return err
	}

	var adapter closingAdapter = detectors.DisabledAdapter{}
	if opts.mode != pipeline.AnalysisModeDisabled {
		if err := cfg.ValidateClassifier(); err != nil {
			return err
		}
		emotion, err := buildAdapter(ctx, cfg)
		if err != nil {
			return err
		}
		adapter = emotion
	}
	defer adapter.Close()

	var detections pipeline.DetectionLog = database.NewTee()
	if opts.record {
		detections, err = openLog(ctx, cfg, sourceName)
		if err != nil {
			return err
		}
	}
	defer detections.Close()

	preview := stream.NewPreviewServer(stream.PreviewConfig{Quality: cfg.Preview.Quality})
	defer preview.Close()

	bus := pipeline.NewEventBus()
	defer bus.Close()
	hub := ws.NewDetectionHub()
	defer hub.Close()
	bus.Subscribe(hub)

	driver, err := pipeline.NewDriver(pipeline.Dependencies{
		Source:   frames,
		Limiter:  limiter,
		Adapter:  adapter,
		Resolver: foreground.NewResolver(foreground.DefaultQuerier(cfg.Foreground.Timeout)),
		Sink:     stream.NewAnnotator(),
		Log:      detections,
		Display:  preview,
		Results:  bus,
	}, pipeline.DriverConfig{
		AnalysisWidth:  cfg.Analysis.Width,
		AnalysisHeight: cfg.Analysis.Height,
		QuitKey:        cfg.QuitRune(),
		Clock:          time.Now,
		SummaryEvery:   100,
		WorkTimeout:    cfg.Classifier.Timeout + cfg.Foreground.Timeout + logWriteTimeout,
	})
	if err != nil {
		return err
	}

	httpCtx, cancelHTTP := context.WithCancel(ctx)
	defer cancelHTTP()
	var wg sync.WaitGroup
	if cfg.Preview.Addr != "" {
		handler, err := newHTTPHandler(cfg, preview, hub, driver)
		if err != nil {
			return err
		}
		if err := handleHTTPServer(httpCtx, cfg.Preview.Addr, handler, &wg); err != nil {
			return err
		}
	}

	if stream.StartKeyboard(ctx, preview.PushKey) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Type %q and Enter to quit\n", cfg.Analysis.QuitKey)
	}

	results, unsubscribe := bus.SubscribeChannel(32)
	echoDone := make(chan struct{})
	go func() {
		defer close(echoDone)
		echoResults(cmd.OutOrStdout(), results)
	}()

	reason, runErr := driver.Run(ctx)

	unsubscribe()
	<-echoDone
	preview.Close()
	hub.Close()
	cancelHTTP()
	wg.Wait()

	printStats(cmd.ErrOrStderr(), reason, driver.Stats())
	return runErr
}

// openSource opens the replay directory or the camera
func openSource(ctx context.Context, c *config.Config) (pipeline.FrameSource, string, error) {
	if c.Camera.ReplayDir != "" {
		src, err := camera.OpenDir(c.Camera.ReplayDir, c.Camera.FPS)
		if err != nil {
			return nil, "", err
		}
		return src, "replay:" + c.Camera.ReplayDir, nil
	}

	src, err := camera.OpenFFmpeg(ctx, camera.FFmpegConfig{
		Device:       c.Camera.Device,
		Index:        c.Camera.Index,
		Width:        c.Camera.Width,
		Height:       c.Camera.Height,
		FPS:          c.Camera.FPS,
		ProbeTimeout: c.Camera.ProbeTimeout,
	})
	if err != nil {
		return nil, "", err
	}
	return src, src.Device(), nil
}

// buildAdapter prefers gRPC when configured, keeping HTTP as the fallback
func buildAdapter(ctx context.Context, c *config.Config) (*detectors.EmotionAdapter, error) {
	var httpClient *detection.EmotionClient
	if c.Classifier.HTTPEndpoint != "" {
		httpClient = detection.NewEmotionClient(detection.EmotionClientConfig{
			Endpoint:        c.Classifier.HTTPEndpoint,
			Timeout:         c.Classifier.Timeout,
			DetectorBackend: c.Classifier.DetectorBackend,
		})
		go func() {
			hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := httpClient.CheckHealth(hctx); err != nil {
				log.Printf("[Classifier] %s is not reachable yet: %v", c.Classifier.HTTPEndpoint, err)
			}
		}()
	}

	adapterCfg := detectors.EmotionAdapterConfig{}
	if c.Classifier.GRPCEndpoint != "" {
		grpcClient, err := detection.NewGRPCEmotionClient(detection.GRPCEmotionClientConfig{
			Endpoint: c.Classifier.GRPCEndpoint,
			Timeout:  c.Classifier.Timeout,
		})
		if err != nil {
			return nil, err
		}
		adapterCfg.Primary = grpcClient
		if httpClient != nil {
			adapterCfg.Fallback = httpClient
		}
	} else if httpClient != nil {
		adapterCfg.Primary = httpClient
	}

	return detectors.NewEmotionAdapter(adapterCfg)
}

// openLog opens the database, starts a session and adds the journal if configured
func openLog(ctx context.Context, c *config.Config, sourceName string) (pipeline.DetectionLog, error) {
	db, err := database.Open(ctx, c.Log.DSN)
	if err != nil {
		return nil, err
	}
	if _, err := db.StartSession(ctx, sourceName); err != nil {
		log.Printf("[Database] Logging without a session: %v", err)
	}

	if c.Log.JournalDir == "" {
		return db, nil
	}

	j, err := journal.Create(c.Log.JournalDir)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("[Journal] Writing %s", j.Path())
	return database.NewTee(db, j), nil
}

// echoResults prints one console line per logged face
func echoResults(w io.Writer, results <-chan *pipeline.FrameResult) {
	for r := range results {
		ts := r.Timestamp.Format(pipeline.TimestampLayout)
		for i, det := range r.Detections {
			app := foreground.Unknown
			if i < len(r.Contexts) {
				app = r.Contexts[i]
			}
			fmt.Fprintf(w, "%s face %d: %s (%.2f) in %s\n", ts, det.SubjectIndex, det.DominantLabel, det.Confidence, app)
		}
	}
}

func printStats(w io.Writer, reason pipeline.StopReason, s pipeline.Stats) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "STOPPED\t%s\n", reason)
	fmt.Fprintf(tw, "FRAMES\t%d\n", s.FramesRead)
	fmt.Fprintf(tw, "ANALYSES\t%d\n", s.AnalysesAttempted)
	fmt.Fprintf(tw, "NO FACE\t%d\n", s.NoSubjectCycles)
	fmt.Fprintf(tw, "ERRORS\t%d\n", s.AnalysisErrors)
	fmt.Fprintf(tw, "FACES\t%d\n", s.Detections)
	fmt.Fprintf(tw, "LOGGED\t%d\n", s.EntriesLogged)
	fmt.Fprintf(tw, "LOG FAILURES\t%d\n", s.LogFailures)
	fmt.Fprintf(tw, "AVG INFERENCE\t%.1f ms\n", s.AvgInferenceMs)
	tw.Flush()
}

// limitedSource ends the stream after a fixed number of frames
type limitedSource struct {
	pipeline.FrameSource
	remaining int
}

func (s *limitedSource) Next(ctx context.Context) (*pipeline.Frame, error) {
	if s.remaining == 0 {
		return nil, fmt.Errorf("%w: frame limit reached", pipeline.ErrSourceExhausted)
	}
	f, err := s.FrameSource.Next(ctx)
	if err == nil {
		s.remaining--
	}
	return f, err
}
