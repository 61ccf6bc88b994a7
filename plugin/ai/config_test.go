package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hrygo/groupmind/internal/profile"
)

func TestNewConfigFromProfile(t *testing.T) {
	t.Run("siliconflow embedding with deepseek llm", func(t *testing.T) {
		prof := &profile.Profile{
			AIEnabled:           true,
			AIEmbeddingProvider: "siliconflow",
			AIEmbeddingModel:    "BAAI/bge-m3",
			AIEmbeddingDims:     1024,
			AISiliconFlowAPIKey: "sf-key",
			AISiliconFlowURL:    "https://api.siliconflow.cn/v1",
			AILLMProvider:       "deepseek",
			AILLMModel:          "deepseek-chat",
			AIDeepSeekAPIKey:    "ds-key",
			AIDeepSeekURL:       "https://api.deepseek.com",
			AILLMRateLimit:      3,
		}

		cfg := NewConfigFromProfile(prof)

		assert.True(t, cfg.Enabled)
		assert.Equal(t, "sf-key", cfg.Embedding.APIKey)
		assert.Equal(t, "https://api.siliconflow.cn/v1", cfg.Embedding.BaseURL)
		assert.Equal(t, 1024, cfg.Embedding.Dimensions)
		assert.Equal(t, "ds-key", cfg.LLM.APIKey)
		assert.Equal(t, "https://api.deepseek.com", cfg.LLM.BaseURL)
		assert.Equal(t, 2048, cfg.LLM.MaxTokens)
		assert.Equal(t, float32(0.7), cfg.LLM.Temperature)
		assert.Equal(t, 3.0, cfg.LLM.RateLimit)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("anthropic llm", func(t *testing.T) {
		prof := &profile.Profile{
			AIEnabled:           true,
			AIEmbeddingProvider: "openai",
			AIOpenAIAPIKey:      "oa-key",
			AILLMProvider:       "anthropic",
			AIAnthropicAPIKey:   "ant-key",
		}

		cfg := NewConfigFromProfile(prof)

		assert.Equal(t, "ant-key", cfg.LLM.APIKey)
		assert.Equal(t, "oa-key", cfg.Embedding.APIKey)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("disabled skips provider wiring", func(t *testing.T) {
		cfg := NewConfigFromProfile(&profile.Profile{AIEnabled: false, AILLMProvider: "deepseek"})

		assert.False(t, cfg.Enabled)
		assert.Empty(t, cfg.LLM.Provider)
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "missing embedding provider",
			cfg:  Config{Enabled: true, LLM: LLMConfig{Provider: "deepseek", APIKey: "k"}},
			wantErr: true,
		},
		{
			name: "anthropic cannot embed",
			cfg: Config{
				Enabled:   true,
				Embedding: EmbeddingConfig{Provider: "anthropic", APIKey: "k"},
				LLM:       LLMConfig{Provider: "anthropic", APIKey: "k"},
			},
			wantErr: true,
		},
		{
			name: "ollama needs no keys",
			cfg: Config{
				Enabled:   true,
				Embedding: EmbeddingConfig{Provider: "ollama"},
				LLM:       LLMConfig{Provider: "ollama"},
			},
			wantErr: false,
		},
		{
			name: "llm key missing",
			cfg: Config{
				Enabled:   true,
				Embedding: EmbeddingConfig{Provider: "openai", APIKey: "k"},
				LLM:       LLMConfig{Provider: "openai"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
