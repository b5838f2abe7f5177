// Package vision provides image description ("alt text") generation backed
// by a multimodal chat model, plus the best-effort image fetcher used by the
// alt-text endpoint.
package vision

import "context"

// Describer generates a short textual description of an image.
type Describer interface {
	// Describe returns alt text for the given image bytes. mimeType must be
	// an image MIME type such as "image/png" or "image/jpeg".
	Describe(ctx context.Context, data []byte, mimeType string) (string, error)
}
