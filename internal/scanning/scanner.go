package scanning

import (
	"context"
	"errors"
)

var (
	// ErrImageLoad marks failures to decode or normalize the uploaded image
	ErrImageLoad = errors.New("image load failed")
	// ErrRecognition marks failures from the vision provider itself
	ErrRecognition = errors.New("text recognition failed")
)

// Recognizer defines the interface for on-image text recognition
type Recognizer interface {
	// RecognizeText returns all text visible in the image/PDF
	RecognizeText(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close closes the recognizer and releases resources
	Close() error
}
