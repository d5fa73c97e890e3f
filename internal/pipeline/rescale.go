package pipeline

import (
	"image"
	"math"
)

// Rescale maps a region from inference-resolution coordinates to the frame's
// coordinates. Each axis is scaled independently and rounded to the nearest pixel.
func Rescale(r Region, frameSize, inferenceSize image.Point) Region {
	if inferenceSize.X <= 0 || inferenceSize.Y <= 0 {
		return r
	}

	sx := float64(frameSize.X) / float64(inferenceSize.X)
	sy := float64(frameSize.Y) / float64(inferenceSize.Y)

	return Region{
		X: scaleCoord(r.X, sx),
		Y: scaleCoord(r.Y, sy),
		W: scaleCoord(r.W, sx),
		H: scaleCoord(r.H, sy),
	}
}

func scaleCoord(v int, scale float64) int {
	return int(math.Round(float64(v) * scale))
}
