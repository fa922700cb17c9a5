package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/bugreel/api/schemas"
	"github.com/xkilldash9x/bugreel/internal/config"
)

// -- Test Setup Helpers --

// setupGeminiClient rigs up a GoogleClient pointed at a mock HTTP server.
// It returns the client, the mock server, the configuration used, and a log observer.
func setupGeminiClient(t *testing.T, handler http.HandlerFunc) (*GoogleClient, *httptest.Server, config.LLMConfig, *observer.ObservedLogs) {
	t.Helper()
	if handler == nil {
		// Default handler for tests that don't require HTTP interactions
		handler = func(w http.ResponseWriter, r *http.Request) {
			t.Log("Warning: Unexpected HTTP request in test.")
			w.WriteHeader(http.StatusNotFound)
		}
	}
	server := httptest.NewServer(handler)

	loggerCore, observedLogs := observer.New(zap.InfoLevel)
	logger := zap.New(loggerCore)

	// Configuration pointing to the mock server
	cfg := getValidLLMConfig()
	cfg.Endpoint = server.URL

	client, err := NewGoogleClient(cfg, logger)
	require.NoError(t, err, "NewGoogleClient initialization failed")

	// Ensure tests fail fast on unexpected hangs
	client.httpClient.Timeout = 5 * time.Second

	t.Cleanup(server.Close)
	return client, server, cfg, observedLogs
}

// fastBackoff replaces the production schedule so retry tests run quickly
// while keeping the attempt cap.
func fastBackoff(maxAttempts int) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(
			backoff.NewConstantBackOff(10*time.Millisecond),
			uint64(maxAttempts-1),
		)
	}
}

// createTestRequest provides a standard generation request structure.
func createTestRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		Model:             "gemini-2.5-pro",
		Parts:             []schemas.Part{schemas.TextPart("Analyze this code.")},
		SystemInstruction: "System instruction text.",
		Temperature:       0.2,
	}
}

// successPayload builds a 200 response carrying the given reply text.
func successPayload(text string) GeminiResponsePayload {
	var payload GeminiResponsePayload
	payload.Candidates = []struct {
		Content      GeminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	}{
		{
			Content:      GeminiContent{Parts: []GeminiPart{{Text: text}}},
			FinishReason: "STOP",
		},
	}
	return payload
}

// -- Test Cases: Initialization (NewGoogleClient) --

// Verifies successful initialization and default endpoint resolution.
func TestNewGoogleClient_Success(t *testing.T) {
	logger := setupTestLogger(t)
	cfg := getValidLLMConfig()
	// Ensure endpoint is empty to test the default per-model resolution
	cfg.Endpoint = ""

	client, err := NewGoogleClient(cfg, logger)

	require.NoError(t, err)
	require.NotNil(t, client)

	// White box verification of internal state
	assert.Equal(t, cfg.APIKey, client.apiKey)
	assert.Equal(t, cfg.APITimeout, client.httpClient.Timeout)
	expectedEndpoint := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.PremiumModel)
	assert.Equal(t, expectedEndpoint, client.endpointFor(cfg.PremiumModel))
	assert.NotNil(t, client.backoffFactory, "Backoff factory should be initialized")
}

// Verifies the requirement for an API key.
func TestNewGoogleClient_Failure_MissingAPIKey(t *testing.T) {
	logger := setupTestLogger(t)
	cfg := getValidLLMConfig()
	cfg.APIKey = ""

	client, err := NewGoogleClient(cfg, logger)

	assert.Error(t, err)
	assert.Nil(t, client)
	var keyErr *config.MissingAPIKeyError
	require.ErrorAs(t, err, &keyErr)
	assert.Equal(t, config.APIKeyEnvVar, keyErr.EnvVar)
}

// -- Test Cases: Request Payload Generation (buildRequestPayload) --

// Verifies the structure and content of the generated payload, including
// inline media data and the structured response schema.
func TestBuildRequestPayload_Standard(t *testing.T) {
	client, _, _, _ := setupGeminiClient(t, nil)
	client.config.MaxOutputTokens = 2048

	req := createTestRequest()
	req.Parts = []schemas.Part{
		schemas.MediaPart(&schemas.InlineData{MIMEType: "video/mp4", Data: "AAAA"}),
		schemas.TextPart("Prompt text."),
	}
	req.ResponseSchema = schemas.BugReportResponseSchema()
	req.Temperature = 0.5

	payload := client.buildRequestPayload(req)

	require.NotNil(t, payload.SystemInstruction)
	require.Len(t, payload.Contents, 1)
	assert.Equal(t, req.SystemInstruction, payload.SystemInstruction.Parts[0].Text)
	assert.Equal(t, "user", payload.Contents[0].Role)

	// Media part first, prompt text second
	require.Len(t, payload.Contents[0].Parts, 2)
	require.NotNil(t, payload.Contents[0].Parts[0].InlineData)
	assert.Equal(t, "video/mp4", payload.Contents[0].Parts[0].InlineData.MIMEType)
	assert.Equal(t, "AAAA", payload.Contents[0].Parts[0].InlineData.Data)
	assert.Equal(t, "Prompt text.", payload.Contents[0].Parts[1].Text)

	// Generation config mapping
	assert.Equal(t, 0.5, payload.GenerationConfig.Temperature)
	assert.Equal(t, 2048, payload.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, "application/json", payload.GenerationConfig.ResponseMimeType)
	require.NotNil(t, payload.GenerationConfig.ResponseSchema)
	assert.ElementsMatch(t,
		[]string{"bug_summary", "user_sentiment", "file_to_edit", "explanation", "code_patch"},
		payload.GenerationConfig.ResponseSchema.Required,
	)
}

// Verifies a plain-text request leaves the structured output config unset.
func TestBuildRequestPayload_NoSchema(t *testing.T) {
	client, _, _, _ := setupGeminiClient(t, nil)

	payload := client.buildRequestPayload(createTestRequest())

	assert.Empty(t, payload.GenerationConfig.ResponseMimeType)
	assert.Nil(t, payload.GenerationConfig.ResponseSchema)
}

// -- Test Cases: Response Generation (Generate) - Success Scenarios --

// Verifies a standard successful API call, including request validation,
// response parsing, and logging.
func TestGenerate_Success(t *testing.T) {
	expectedResponseText := `{"bug_summary": "x"}`
	expectedPromptTokens := 100
	expectedCompletionTokens := 50

	handler := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))

		body, _ := io.ReadAll(r.Body)
		var payload GeminiRequestPayload
		err := json.Unmarshal(body, &payload)
		require.NoError(t, err, "Server received invalid JSON payload")
		assert.Equal(t, "Analyze this code.", payload.Contents[0].Parts[0].Text)

		responsePayload := successPayload(expectedResponseText)
		responsePayload.UsageMetadata.PromptTokenCount = expectedPromptTokens
		responsePayload.UsageMetadata.CandidatesTokenCount = expectedCompletionTokens
		responsePayload.UsageMetadata.TotalTokenCount = expectedPromptTokens + expectedCompletionTokens

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(responsePayload)
	}

	client, _, _, observedLogs := setupGeminiClient(t, handler)

	response, err := client.Generate(context.Background(), createTestRequest())

	assert.NoError(t, err)
	assert.Equal(t, expectedResponseText, response)

	require.Equal(t, 1, observedLogs.Len(), "Expected one log entry for successful generation")
	logEntry := observedLogs.All()[0]
	assert.Equal(t, "LLM generation complete", logEntry.Message)
	assert.Equal(t, int64(expectedPromptTokens), logEntry.ContextMap()["prompt_tokens"])
	assert.Equal(t, int64(expectedCompletionTokens), logEntry.ContextMap()["completion_tokens"])
	assert.NotNil(t, logEntry.ContextMap()["duration"])
}

// -- Test Cases: Response Generation (Generate) - Error Handling & Retries --

// Verifies the retry mechanism recovers from quota errors within the
// attempt limit.
func TestGenerate_RetryOnQuotaError(t *testing.T) {
	var attemptCounter int32
	expectedAttempts := 3

	handler := func(w http.ResponseWriter, r *http.Request) {
		attempt := atomic.AddInt32(&attemptCounter, 1)
		if int(attempt) < expectedAttempts {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error": {"status": "RESOURCE_EXHAUSTED"}}`))
		} else {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(successPayload("Success after retry"))
		}
	}

	client, _, _, observedLogs := setupGeminiClient(t, handler)
	client.backoffFactory = fastBackoff(3)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	response, err := client.Generate(ctx, createTestRequest())

	assert.NoError(t, err)
	assert.Equal(t, "Success after retry", response)
	assert.Equal(t, int32(expectedAttempts), atomic.LoadInt32(&attemptCounter))

	// The scheduled-retry warnings carry the failure class and attempt number
	warnLogs := observedLogs.FilterMessage("Transient failure, scheduling retry")
	require.Equal(t, expectedAttempts-1, warnLogs.Len())
	first := warnLogs.All()[0]
	assert.Equal(t, int64(1), first.ContextMap()["attempt"])
	assert.Equal(t, "quota", first.ContextMap()["failure_class"])
}

// Verifies the attempt limit holds when the service never recovers, and
// that the final error is surfaced verbatim.
func TestGenerate_RetryExhaustion(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("Service temporarily unavailable."))
	}

	client, _, _, _ := setupGeminiClient(t, handler)
	client.backoffFactory = fastBackoff(3)

	response, err := client.Generate(context.Background(), createTestRequest())

	assert.Error(t, err)
	assert.Empty(t, response)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attemptCounter), "Exactly three attempts should be made")

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusServiceUnavailable, svcErr.StatusCode)
}

// Verifies that network level errors are retried and logged as warnings.
func TestGenerate_RetryOnNetworkError(t *testing.T) {
	client, server, _, observedLogs := setupGeminiClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler reached despite server being closed.")
	})
	client.backoffFactory = fastBackoff(3)

	// Closing the server simulates connection refused
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Generate(ctx, createTestRequest())

	assert.Error(t, err)

	// Network errors must be recognized as transient (not PermanentError)
	var permanentErr *backoff.PermanentError
	assert.False(t, errors.As(err, &permanentErr), "Network errors should be treated as transient and retried")

	warnLogs := observedLogs.FilterMessage("Network error during LLM request, retrying...")
	assert.Equal(t, 3, warnLogs.Len(), "Each of the three attempts should log a network warning")
}

// Verifies that permanent errors (e.g., 403) fail immediately with a
// cause hint.
func TestGenerate_NoRetryOnPermanentErrors(t *testing.T) {
	var attemptCounter int32
	errorBody := "API key not valid"

	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(errorBody))
	}

	client, _, _, observedLogs := setupGeminiClient(t, handler)

	response, err := client.Generate(context.Background(), createTestRequest())

	assert.Error(t, err)
	assert.Empty(t, response)
	assert.Contains(t, err.Error(), "inference API error: status 403")
	assert.Contains(t, err.Error(), "invalid API key")

	// Only one attempt: backoff.Permanent was used internally
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter), "Permanent errors must not trigger retries")

	errorLogs := observedLogs.FilterLevelExact(zap.ErrorLevel)
	require.Equal(t, 1, errorLogs.Len())
	logEntry := errorLogs.All()[0]
	assert.Equal(t, "Inference API returned error status", logEntry.Message)
	assert.Equal(t, int64(403), logEntry.ContextMap()["status"])
	assert.Equal(t, "permanent", logEntry.ContextMap()["failure_class"])
	assert.Contains(t, logEntry.ContextMap()["response"], errorBody)
}

// Verifies the unsupported-media hint on HTTP 400.
func TestGenerate_BadRequestHint(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("invalid argument"))
	}

	client, _, _, _ := setupGeminiClient(t, handler)

	_, err := client.Generate(context.Background(), createTestRequest())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported media format or size")
}

// Verifies handling of responses blocked by safety filters (permanent).
func TestGenerate_Failure_SafetyBlock(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		var responsePayload GeminiResponsePayload
		responsePayload.Candidates = []struct {
			Content      GeminiContent `json:"content"`
			FinishReason string        `json:"finishReason"`
		}{
			{Content: GeminiContent{Parts: []GeminiPart{}}, FinishReason: "SAFETY"},
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(responsePayload)
	}

	client, _, _, _ := setupGeminiClient(t, handler)

	response, err := client.Generate(context.Background(), createTestRequest())

	assert.Error(t, err)
	assert.Empty(t, response)
	assert.Contains(t, err.Error(), "inference API blocked the request (Reason: SAFETY)")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter), "Safety blocks must not trigger retries")
}

// Verifies a contentless 200 is returned as an empty reply rather than a
// transport error; rejecting it is the response decoder's job.
func TestGenerate_EmptyCandidates(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(GeminiResponsePayload{})
	}

	client, _, _, _ := setupGeminiClient(t, handler)

	response, err := client.Generate(context.Background(), createTestRequest())

	assert.NoError(t, err)
	assert.Empty(t, response)
}

// Verifies handling of corrupted API responses (permanent).
func TestGenerate_Failure_InvalidJSONResponse(t *testing.T) {
	var attemptCounter int32
	handler := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attemptCounter, 1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{invalid json:"))
	}

	client, _, _, _ := setupGeminiClient(t, handler)

	response, err := client.Generate(context.Background(), createTestRequest())

	assert.Error(t, err)
	assert.Empty(t, response)
	assert.Contains(t, err.Error(), "failed to decode response payload")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attemptCounter))
}

// Verifies that the operation respects context cancellation during
// backoff waits.
func TestGenerate_ContextCancellation(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}

	client, _, _, _ := setupGeminiClient(t, handler)

	// Long backoff ensures cancellation happens during the wait
	client.backoffFactory = func() backoff.BackOff {
		return backoff.NewConstantBackOff(10 * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	startTime := time.Now()
	response, err := client.Generate(ctx, createTestRequest())
	duration := time.Since(startTime)

	assert.Error(t, err)
	assert.Empty(t, response)
	assert.True(t, errors.Is(err, context.Canceled), "Error should be context.Canceled, but got: %v", err)
	assert.Less(t, duration, 1*time.Second, "Operation should abort quickly upon cancellation")
}
