package services

import (
	"github.com/racewise/backend/internal/config"
	"github.com/racewise/backend/internal/integrations/anthropic"
	"github.com/racewise/backend/internal/integrations/openai"
)

// NewModel returns the client for the configured LLM provider.
func NewModel(cfg *config.Config) Model {
	if cfg.LLM.Provider == config.ProviderAnthropic {
		return anthropic.NewClient(cfg)
	}
	return openai.NewClient(cfg)
}

// GeneratorConfigFrom maps application config to generator tuning.
func GeneratorConfigFrom(cfg *config.Config) GeneratorConfig {
	return GeneratorConfig{
		MaxRetries:     cfg.Prediction.MaxRetries,
		RetryBaseDelay: cfg.Prediction.RetryBaseDelay,
		BatchDelay:     cfg.Prediction.BatchDelay,
		AttemptTimeout: cfg.Prediction.AttemptTimeout,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
		CacheTTL:       cfg.Prediction.PredictionCacheTTL,
	}
}
