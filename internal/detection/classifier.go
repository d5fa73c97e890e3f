package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
)

// ErrNoSubject is returned by a classifier when strict detection finds no face
var ErrNoSubject = errors.New("face could not be detected")

// Classifier runs emotion analysis on an image. The result is the decoded
// response document: a single result object (map[string]any) or a list of them.
type Classifier interface {
	// Name returns the backend identifier
	Name() string

	// Classify analyzes img. With strict set, a missing face is ErrNoSubject
	// rather than a whole-image result.
	Classify(ctx context.Context, img image.Image, strict bool) (any, error)

	// Close releases backend resources
	Close() error
}

const jpegQuality = 90

// encodeDataURI encodes img as a base64 JPEG data URI
func encodeDataURI(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
