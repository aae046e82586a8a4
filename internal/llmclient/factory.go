// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/config"
)

// NewSynthesizer builds the provider selected by cfg.Provider. It returns a
// nil Synthesizer and no error when synthesis is disabled, in which case the
// generator always uses its templates.
func NewSynthesizer(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.Synthesizer, error) {
	switch cfg.Provider {
	case "", config.ProviderNone:
		logger.Info("Code synthesis disabled; template generation only.")
		return nil, nil
	case config.ProviderGemini:
		client, err := NewGeminiClient(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderOpenAI:
		client, err := NewOpenAIClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI, config.ProviderNone)
	}
}
