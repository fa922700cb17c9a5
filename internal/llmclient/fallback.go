package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bugreel/api/schemas"
	"github.com/xkilldash9x/bugreel/internal/config"
)

// FallbackClient wraps a dispatcher with the model substitution policy:
// when the premium model exhausts its retries on a quota-classified error,
// the identical request is re-issued once against the fallback model. The
// policy is deliberately separate from the backoff-retry layer; retry is
// attempt-count bound, fallback is one-shot and gated on model identity.
type FallbackClient struct {
	base          schemas.LLMClient
	premiumModel  string
	fallbackModel string
	logger        *zap.Logger
}

var _ schemas.LLMClient = (*FallbackClient)(nil)

// NewFallbackClient decorates base with the quota fallback policy from cfg.
func NewFallbackClient(base schemas.LLMClient, cfg config.LLMConfig, logger *zap.Logger) (*FallbackClient, error) {
	if base == nil {
		return nil, fmt.Errorf("a base LLM client must be provided")
	}
	return &FallbackClient{
		base:          base,
		premiumModel:  cfg.PremiumModel,
		fallbackModel: cfg.FallbackModel,
		logger:        logger.Named("llm_fallback"),
	}, nil
}

// Generate dispatches the request, substituting the fallback model once on
// premium quota exhaustion. If the fallback also fails, the error surfaced
// is the ORIGINAL premium-model error, keeping the failure message
// anchored to the caller's explicit model choice.
func (f *FallbackClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	response, err := f.base.Generate(ctx, req)
	if err == nil {
		return response, nil
	}
	if req.Model != f.premiumModel || !IsQuota(err) {
		return "", err
	}

	f.logger.Warn("Premium model quota exhausted, substituting fallback model",
		zap.String("premium_model", f.premiumModel),
		zap.String("fallback_model", f.fallbackModel),
		zap.Error(err),
	)

	fbReq := req
	fbReq.Model = f.fallbackModel
	response, fbErr := f.base.Generate(ctx, fbReq)
	if fbErr != nil {
		f.logger.Error("Fallback model also failed; surfacing the original error",
			zap.String("fallback_model", f.fallbackModel),
			zap.Error(fbErr),
		)
		return "", err
	}
	return response, nil
}

// New builds the production client stack: the Gemini dispatcher wrapped by
// the fallback policy.
func New(cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	base, err := NewGoogleClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewFallbackClient(base, cfg, logger)
}
