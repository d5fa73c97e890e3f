package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"moodcam/internal/config"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg is the resolved configuration shared by subcommands
	cfg *config.Config
	// cfgPath is the optional YAML file
	cfgPath string

	overrides struct {
		cameraIndex    int
		device         string
		replayDir      string
		fps            int
		mode           string
		interval       time.Duration
		dsn            string
		journalDir     string
		previewAddr    string
		classifierURL  string
		classifierGRPC string
	}
)

var rootCmd = &cobra.Command{
	Use:           "moodcam",
	Short:         "Emotion logging webcam loop",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, loaded)
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// applyFlags copies explicitly set flags over the loaded configuration
func applyFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("camera") {
		c.Camera.Index = overrides.cameraIndex
	}
	if f.Changed("device") {
		c.Camera.Device = overrides.device
	}
	if f.Changed("replay-dir") {
		c.Camera.ReplayDir = overrides.replayDir
	}
	if f.Changed("fps") {
		c.Camera.FPS = overrides.fps
	}
	if f.Changed("mode") {
		c.Analysis.Mode = overrides.mode
	}
	if f.Changed("interval") {
		c.Analysis.Interval = overrides.interval
	}
	if f.Changed("db") {
		c.Log.DSN = overrides.dsn
	}
	if f.Changed("journal-dir") {
		c.Log.JournalDir = overrides.journalDir
	}
	if f.Changed("preview-addr") {
		c.Preview.Addr = overrides.previewAddr
	}
	if f.Changed("classifier-url") {
		c.Classifier.HTTPEndpoint = overrides.classifierURL
	}
	if f.Changed("classifier-grpc") {
		c.Classifier.GRPCEndpoint = overrides.classifierGRPC
	}
}

// Execute runs the root command and exits 1 on error
func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "YAML configuration file")
	pf.IntVar(&overrides.cameraIndex, "camera", 0, "Camera index (/dev/video<N>)")
	pf.StringVar(&overrides.device, "device", "", "Camera device path or rtsp/http URL (overrides --camera)")
	pf.StringVar(&overrides.replayDir, "replay-dir", "", "Replay JPEG/PNG files from a directory instead of a camera")
	pf.IntVar(&overrides.fps, "fps", 30, "Capture rate and replay pace")
	pf.StringVar(&overrides.previewAddr, "preview-addr", "", "Preview server listen address (empty disables)")
}
