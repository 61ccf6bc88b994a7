package ai

import (
	"errors"

	"github.com/hrygo/groupmind/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	Enabled bool

	Embedding EmbeddingConfig
	LLM       LLMConfig
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string // siliconflow, openai, ollama
	Model      string // BAAI/bge-m3
	Dimensions int    // 1024
	APIKey     string
	BaseURL    string
}

// LLMConfig represents LLM configuration.
type LLMConfig struct {
	Provider    string // deepseek, openai, siliconflow, ollama, anthropic
	Model       string // deepseek-chat
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.7
	// RateLimit caps outgoing requests per second; 0 disables limiting.
	RateLimit float64
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.AIEnabled,
	}

	if !cfg.Enabled {
		return cfg
	}

	cfg.Embedding = EmbeddingConfig{
		Provider:   p.AIEmbeddingProvider,
		Model:      p.AIEmbeddingModel,
		Dimensions: p.AIEmbeddingDims,
	}
	cfg.Embedding.APIKey, cfg.Embedding.BaseURL = providerCredentials(p, p.AIEmbeddingProvider)

	cfg.LLM = LLMConfig{
		Provider:    p.AILLMProvider,
		Model:       p.AILLMModel,
		MaxTokens:   2048,
		Temperature: 0.7,
		RateLimit:   p.AILLMRateLimit,
	}
	cfg.LLM.APIKey, cfg.LLM.BaseURL = providerCredentials(p, p.AILLMProvider)

	return cfg
}

func providerCredentials(p *profile.Profile, provider string) (apiKey, baseURL string) {
	switch provider {
	case "siliconflow":
		return p.AISiliconFlowAPIKey, p.AISiliconFlowURL
	case "deepseek":
		return p.AIDeepSeekAPIKey, p.AIDeepSeekURL
	case "openai":
		return p.AIOpenAIAPIKey, p.AIOpenAIURL
	case "anthropic":
		return p.AIAnthropicAPIKey, p.AIAnthropicURL
	case "ollama":
		return "", p.AIOllamaURL
	}
	return "", ""
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Embedding.Provider == "" {
		return errors.New("embedding provider is required")
	}

	if c.Embedding.Provider == "anthropic" {
		return errors.New("anthropic does not provide an embedding API")
	}

	if c.Embedding.Provider != "ollama" && c.Embedding.APIKey == "" {
		return errors.New("embedding API key is required")
	}

	if c.LLM.Provider == "" {
		return errors.New("LLM provider is required")
	}

	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return errors.New("LLM API key is required")
	}

	return nil
}
