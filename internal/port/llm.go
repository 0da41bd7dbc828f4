package port

import "context"

// LLM is a chat model that answers with a JSON object.
type LLM interface {
	// GenerateJSON sends a system and a user prompt and returns the raw
	// JSON answer.
	GenerateJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// ModelName returns the name of the model.
	ModelName() string
}
