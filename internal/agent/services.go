package agent

import (
	"context"

	"prosearch/internal/gemini"
)

// LLM is the generation collaborator consumed by the control loop. The
// production implementation is *gemini.Client; tests substitute fakes.
type LLM interface {
	// GenerateStructured returns the raw JSON text of a schema-constrained
	// call. Decoding stays with the caller so that non-conformant output
	// can be mapped to each component's fallback policy.
	GenerateStructured(ctx context.Context, model, prompt string, schema map[string]interface{}, temperature float64) (string, error)

	// GenerateWithSearch performs one search-grounded call.
	GenerateWithSearch(ctx context.Context, model, prompt string, temperature float64) (*gemini.SearchResponse, error)

	// GenerateText performs one plain generation call.
	GenerateText(ctx context.Context, model, prompt string, temperature float64) (string, error)
}
