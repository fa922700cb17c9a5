package schemas

import "context"

// GenerationRequest encapsulates a complete request to the inference
// service: the target model, the ordered content parts, the system
// instruction, and the declared output schema.
type GenerationRequest struct {
	Model             string  `json:"model"`              // Model identifier, e.g. "gemini-2.5-pro".
	Parts             []Part  `json:"parts"`              // Ordered content parts (media first, then text).
	SystemInstruction string  `json:"system_instruction"` // Instructions for the model's persona and task.
	ResponseSchema    *Schema `json:"response_schema"`    // Required output shape, or nil for free text.
	Temperature       float64 `json:"temperature"`        // Controls randomness. Lower is more deterministic.
}

// LLMClient defines a standard interface for interacting with the
// multimodal inference service, abstracting the underlying provider.
type LLMClient interface {
	// Generate produces a raw text completion for the provided request.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}
