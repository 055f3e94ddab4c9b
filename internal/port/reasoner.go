package port

import "context"

// Reasoner is the external reasoning/verification service.
// Verification prompts are expected to come back as a JSON object
// {supports, confidence, reasoning}; refinement prompts as a short string.
// Malformed responses are handled by the caller as a zero-confidence result.
type Reasoner interface {
	// Complete sends a prompt and returns the raw completion text.
	Complete(ctx context.Context, prompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
