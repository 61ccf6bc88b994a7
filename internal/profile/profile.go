package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration to start groupmind.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Data is the data directory
	Data string
	// DSN points to where groupmind stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of groupmind
	Version string

	// AI Configuration
	AIEnabled           bool    // GROUPMIND_AI_ENABLED
	AIEmbeddingProvider string  // GROUPMIND_AI_EMBEDDING_PROVIDER (default: siliconflow)
	AILLMProvider       string  // GROUPMIND_AI_LLM_PROVIDER (default: deepseek)
	AISiliconFlowAPIKey string  // GROUPMIND_AI_SILICONFLOW_API_KEY
	AISiliconFlowURL    string  // GROUPMIND_AI_SILICONFLOW_BASE_URL (default: https://api.siliconflow.cn/v1)
	AIDeepSeekAPIKey    string  // GROUPMIND_AI_DEEPSEEK_API_KEY
	AIDeepSeekURL       string  // GROUPMIND_AI_DEEPSEEK_BASE_URL (default: https://api.deepseek.com)
	AIOpenAIAPIKey      string  // GROUPMIND_AI_OPENAI_API_KEY
	AIOpenAIURL         string  // GROUPMIND_AI_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	AIAnthropicAPIKey   string  // GROUPMIND_AI_ANTHROPIC_API_KEY
	AIAnthropicURL      string  // GROUPMIND_AI_ANTHROPIC_BASE_URL (optional)
	AIOllamaURL         string  // GROUPMIND_AI_OLLAMA_BASE_URL (default: http://localhost:11434/v1)
	AIEmbeddingModel    string  // GROUPMIND_AI_EMBEDDING_MODEL (default: BAAI/bge-m3)
	AIEmbeddingDims     int     // GROUPMIND_AI_EMBEDDING_DIMENSIONS (default: 1024)
	AILLMModel          string  // GROUPMIND_AI_LLM_MODEL (default: deepseek-chat)
	AILLMRateLimit      float64 // GROUPMIND_AI_LLM_RPS (default: 5, 0 disables limiting)

	// Context window configuration
	ContextMaxTokens      int     // GROUPMIND_CONTEXT_MAX_TOKENS (default: 128000)
	ContextThresholdRatio float64 // GROUPMIND_CONTEXT_THRESHOLD_RATIO (default: 0.8)

	// Long-term memory mirror (Mem0 compatible, optional)
	MemoryMirrorURL    string // GROUPMIND_MEMORY_MIRROR_URL
	MemoryMirrorAPIKey string // GROUPMIND_MEMORY_MIRROR_API_KEY
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if AI is enabled and at least one provider is reachable.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEnabled && (p.AISiliconFlowAPIKey != "" || p.AIOpenAIAPIKey != "" ||
		p.AIDeepSeekAPIKey != "" || p.AIAnthropicAPIKey != "" || p.AIOllamaURL != "")
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer env value, using default", "key", key, "value", raw)
		return defaultValue
	}
	return v
}

func getFloatEnvOrDefault(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("invalid float env value, using default", "key", key, "value", raw)
		return defaultValue
	}
	return v
}

// FromEnv loads configuration from GROUPMIND_* environment variables.
// Empty values are skipped so defaults take effect.
func (p *Profile) FromEnv() {
	p.AIEnabled = os.Getenv("GROUPMIND_AI_ENABLED") == "true"
	p.AIEmbeddingProvider = getEnvOrDefault("GROUPMIND_AI_EMBEDDING_PROVIDER", "siliconflow")
	p.AILLMProvider = getEnvOrDefault("GROUPMIND_AI_LLM_PROVIDER", "deepseek")
	p.AISiliconFlowAPIKey = os.Getenv("GROUPMIND_AI_SILICONFLOW_API_KEY")
	p.AISiliconFlowURL = getEnvOrDefault("GROUPMIND_AI_SILICONFLOW_BASE_URL", "https://api.siliconflow.cn/v1")
	p.AIDeepSeekAPIKey = os.Getenv("GROUPMIND_AI_DEEPSEEK_API_KEY")
	p.AIDeepSeekURL = getEnvOrDefault("GROUPMIND_AI_DEEPSEEK_BASE_URL", "https://api.deepseek.com")
	p.AIOpenAIAPIKey = os.Getenv("GROUPMIND_AI_OPENAI_API_KEY")
	p.AIOpenAIURL = getEnvOrDefault("GROUPMIND_AI_OPENAI_BASE_URL", "https://api.openai.com/v1")
	p.AIAnthropicAPIKey = os.Getenv("GROUPMIND_AI_ANTHROPIC_API_KEY")
	p.AIAnthropicURL = os.Getenv("GROUPMIND_AI_ANTHROPIC_BASE_URL")
	p.AIOllamaURL = getEnvOrDefault("GROUPMIND_AI_OLLAMA_BASE_URL", "http://localhost:11434/v1")
	p.AIEmbeddingModel = getEnvOrDefault("GROUPMIND_AI_EMBEDDING_MODEL", "BAAI/bge-m3")
	p.AIEmbeddingDims = getIntEnvOrDefault("GROUPMIND_AI_EMBEDDING_DIMENSIONS", 1024)
	p.AILLMModel = getEnvOrDefault("GROUPMIND_AI_LLM_MODEL", "deepseek-chat")
	p.AILLMRateLimit = getFloatEnvOrDefault("GROUPMIND_AI_LLM_RPS", 5)

	p.ContextMaxTokens = getIntEnvOrDefault("GROUPMIND_CONTEXT_MAX_TOKENS", 128000)
	p.ContextThresholdRatio = getFloatEnvOrDefault("GROUPMIND_CONTEXT_THRESHOLD_RATIO", 0.8)

	p.MemoryMirrorURL = os.Getenv("GROUPMIND_MEMORY_MIRROR_URL")
	p.MemoryMirrorAPIKey = os.Getenv("GROUPMIND_MEMORY_MIRROR_API_KEY")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported driver %q: only 'postgres' and 'sqlite' are supported", p.Driver)
	}
	if p.ContextThresholdRatio <= 0 || p.ContextThresholdRatio > 1 {
		return errors.Errorf("context threshold ratio must be in (0, 1], got %v", p.ContextThresholdRatio)
	}
	if p.ContextMaxTokens <= 0 {
		return errors.Errorf("context max tokens must be positive, got %d", p.ContextMaxTokens)
	}

	if p.Driver == "postgres" {
		if p.DSN == "" {
			return errors.New("dsn is required for the postgres driver")
		}
		return nil
	}

	if p.Data == "" {
		p.Data = "."
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.DSN == "" {
		dbFile := fmt.Sprintf("groupmind_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	return nil
}
