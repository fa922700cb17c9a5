// internal/llmclient/gemini_client.go
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bugreel/api/schemas"
	"github.com/xkilldash9x/bugreel/internal/config"
)

// defaultEndpointTemplate is the generateContent URL; %s is the model id.
const defaultEndpointTemplate = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

// GoogleClient implements schemas.LLMClient against the Gemini API. One
// client serves all models; the target model is part of each request, so
// the fallback policy can re-issue a request against a different model
// without constructing a second client.
type GoogleClient struct {
	apiKey     string
	endpoint   string // Fixed endpoint override; empty means per-model default.
	httpClient *http.Client
	logger     *zap.Logger
	config     config.LLMConfig

	// backoffFactory builds the retry policy for one Generate call.
	// Injectable so tests can substitute a fast schedule.
	backoffFactory func() backoff.BackOff
}

var _ schemas.LLMClient = (*GoogleClient)(nil)

// -- Gemini API Request/Response Structures (Internal to this file) --

type GeminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type GeminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *GeminiInlineData `json:"inline_data,omitempty"`
}

type GeminiContent struct {
	Parts []GeminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type GeminiSystemInstruction struct {
	Parts []GeminiPart `json:"parts"`
}

type GeminiGenerationConfig struct {
	Temperature      float64         `json:"temperature"`
	ResponseMimeType string          `json:"response_mime_type,omitempty"`
	ResponseSchema   *schemas.Schema `json:"response_schema,omitempty"`
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
}

type GeminiRequestPayload struct {
	Contents          []GeminiContent          `json:"contents"`
	SystemInstruction *GeminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  GeminiGenerationConfig   `json:"generationConfig"`
}

type GeminiResponsePayload struct {
	Candidates []struct {
		Content      GeminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// NewGoogleClient initializes the client. A missing API key is a fatal
// precondition failure: no call is ever attempted without it.
func NewGoogleClient(cfg config.LLMConfig, logger *zap.Logger) (*GoogleClient, error) {
	if cfg.APIKey == "" {
		return nil, &config.MissingAPIKeyError{EnvVar: config.APIKeyEnvVar}
	}

	c := &GoogleClient{
		apiKey:   cfg.APIKey,
		endpoint: cfg.Endpoint,
		config:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("llm_client.gemini"),
	}
	c.backoffFactory = func() backoff.BackOff {
		return backoff.WithMaxRetries(
			newJitteredBackOff(cfg.InitialBackoff, cfg.BackoffJitter),
			uint64(cfg.MaxAttempts-1),
		)
	}
	return c, nil
}

// endpointFor resolves the URL for a model. The fixed override wins so
// tests can point every model at one mock server.
func (c *GoogleClient) endpointFor(model string) string {
	if c.endpoint != "" {
		return c.endpoint
	}
	return fmt.Sprintf(defaultEndpointTemplate, model)
}

// Generate sends the request to the Gemini API and returns the raw reply
// text, retrying transient failures with exponential backoff plus jitter.
// After the final attempt the last error is surfaced verbatim.
func (c *GoogleClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	payload := c.buildRequestPayload(req)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	var responseContent string

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointFor(req.Model), bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}

		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

		if err != nil {
			c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var responsePayload GeminiResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		responseContent = ""
		if len(responsePayload.Candidates) > 0 {
			candidate := responsePayload.Candidates[0]
			if len(candidate.Content.Parts) == 0 &&
				(candidate.FinishReason == "SAFETY" || candidate.FinishReason == "BLOCKLIST") {
				return backoff.Permanent(fmt.Errorf("inference API blocked the request (Reason: %s)", candidate.FinishReason))
			}
			for _, part := range candidate.Content.Parts {
				responseContent += part.Text
			}
		}
		// A contentless 200 is left for the response decoder to reject as
		// an empty reply; it is not a transport failure.

		c.logger.Info("LLM generation complete",
			zap.String("model", req.Model),
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", responsePayload.UsageMetadata.CandidatesTokenCount),
			zap.Int("total_tokens", responsePayload.UsageMetadata.TotalTokenCount),
		)
		return nil
	}

	attempt := 1
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Transient failure, scheduling retry",
			zap.Int("attempt", attempt),
			zap.String("failure_class", failureClass(err)),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		attempt++
	}

	b := backoff.WithContext(c.backoffFactory(), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return "", err
	}
	return responseContent, nil
}

func (c *GoogleClient) buildRequestPayload(req schemas.GenerationRequest) GeminiRequestPayload {
	genConfig := GeminiGenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: c.config.MaxOutputTokens,
	}
	if req.ResponseSchema != nil {
		genConfig.ResponseMimeType = "application/json"
		genConfig.ResponseSchema = req.ResponseSchema
	}

	parts := make([]GeminiPart, 0, len(req.Parts))
	for _, p := range req.Parts {
		part := GeminiPart{Text: p.Text}
		if p.InlineData != nil {
			part.InlineData = &GeminiInlineData{
				MIMEType: p.InlineData.MIMEType,
				Data:     p.InlineData.Data,
			}
		}
		parts = append(parts, part)
	}

	payload := GeminiRequestPayload{
		Contents: []GeminiContent{
			{Role: "user", Parts: parts},
		},
		GenerationConfig: genConfig,
	}
	if req.SystemInstruction != "" {
		payload.SystemInstruction = &GeminiSystemInstruction{
			Parts: []GeminiPart{{Text: req.SystemInstruction}},
		}
	}
	return payload
}

// handleAPIError classifies a non-200 status. Transient classes (quota,
// server fault) are returned bare so the retry loop re-attempts them;
// everything else is wrapped Permanent and fails on the first attempt.
func (c *GoogleClient) handleAPIError(statusCode int, body []byte) error {
	svcErr := &ServiceError{StatusCode: statusCode, Body: string(body)}
	c.logger.Error("Inference API returned error status",
		zap.Int("status", statusCode),
		zap.String("failure_class", failureClass(svcErr)),
		zap.String("response", svcErr.Body),
	)
	if svcErr.Transient() {
		return svcErr
	}
	return backoff.Permanent(svcErr)
}
