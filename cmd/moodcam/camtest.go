package main

import (
	"github.com/spf13/cobra"

	"moodcam/internal/pipeline"
)

var cameraTestFrames int

var cameraTestCmd = &cobra.Command{
	Use:   "camera-test",
	Short: "Open the camera and show frames without analysis",
	Long: `Opens the configured frame source and shows it through the preview
server until the quit key, Ctrl+C, or --frames frames have been read.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, runOptions{mode: pipeline.AnalysisModeDisabled, frameLimit: cameraTestFrames})
	},
}

func init() {
	cameraTestCmd.Flags().IntVar(&cameraTestFrames, "frames", -1, "Stop after this many frames (-1 for no limit)")
	rootCmd.AddCommand(cameraTestCmd)
}
