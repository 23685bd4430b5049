package judge

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// Provider identifies a completion backend.
type Provider string

const (
	ProviderGroq   Provider = "groq"
	ProviderGemini Provider = "gemini"
)

// ProviderConfig holds the resolved provider settings.
type ProviderConfig struct {
	Provider    Provider
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	Timeout     time.Duration
}

// NewClient builds the LLM client for the configured provider. Empty API
// keys fall back to the conventional environment variables.
func NewClient(ctx context.Context, cfg ProviderConfig, log *zap.Logger) (LLMClient, error) {
	switch cfg.Provider {
	case ProviderGroq, "":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("GROQ_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("no Groq API key in config or GROQ_API_KEY")
		}
		groqCfg := DefaultGroqConfig(apiKey)
		if cfg.Model != "" {
			groqCfg.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			groqCfg.BaseURL = cfg.BaseURL
		}
		if cfg.Temperature > 0 {
			groqCfg.Temperature = cfg.Temperature
		}
		if cfg.Timeout > 0 {
			groqCfg.Timeout = cfg.Timeout
		}
		return NewGroqClient(groqCfg, log), nil

	case ProviderGemini:
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("no Gemini API key in config or GEMINI_API_KEY")
		}
		return NewGeminiClient(ctx, apiKey, cfg.Model, cfg.Temperature)

	default:
		return nil, fmt.Errorf("unknown judge provider %q", cfg.Provider)
	}
}
