// Package embedding provides text embedding via a remote OpenAI-compatible
// API, with caching and a deterministic mock for tests.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the remote embedding call fails, times
// out, or returns a malformed payload.
var ErrUnavailable = errors.New("embedding: service unavailable")

// ErrNotConfigured is returned when no API credentials are configured.
// The dependent feature is disabled rather than erroring at startup.
var ErrNotConfigured = errors.New("embedding: not configured")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}
