// Package context keeps a group's conversation history within the model's
// context window by classifying, scoring and compressing it.
package context

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/groupmind/plugin/ai"
	"github.com/hrygo/groupmind/plugin/ai/metrics"
	"github.com/hrygo/groupmind/plugin/ai/token"
	"github.com/hrygo/groupmind/store"
)

const (
	DefaultMaxTokens      = 128000
	DefaultThresholdRatio = 0.8
)

// Config tunes the context manager. Zero values take the defaults, except
// RetryDelay where zero means retry immediately.
type Config struct {
	MaxTokens       int
	ThresholdRatio  float64
	KeepRecent      int
	HighThreshold   float64
	MediumThreshold float64
	Weights         map[store.MessageType]float64
	HalfLife        time.Duration
	MaxSummaryBatch int
	RetryDelay      time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		MaxTokens:       DefaultMaxTokens,
		ThresholdRatio:  DefaultThresholdRatio,
		KeepRecent:      DefaultKeepRecent,
		HighThreshold:   HighValueThreshold,
		MediumThreshold: MediumValueThreshold,
		Weights:         DefaultWeights,
		HalfLife:        DefaultHalfLife,
		MaxSummaryBatch: DefaultMaxSummaryBatch,
		RetryDelay:      time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.ThresholdRatio <= 0 || c.ThresholdRatio > 1 {
		c.ThresholdRatio = d.ThresholdRatio
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = d.KeepRecent
	}
	if c.HighThreshold <= 0 {
		c.HighThreshold = d.HighThreshold
	}
	if c.MediumThreshold <= 0 {
		c.MediumThreshold = d.MediumThreshold
	}
	if len(c.Weights) == 0 {
		c.Weights = d.Weights
	}
	if c.HalfLife <= 0 {
		c.HalfLife = d.HalfLife
	}
	if c.MaxSummaryBatch <= 0 {
		c.MaxSummaryBatch = d.MaxSummaryBatch
	}
	return c
}

// ContextStats describes how full the context window is.
type ContextStats struct {
	MessageCount     int     `json:"message_count"`
	CurrentTokens    int     `json:"current_tokens"`
	MaxTokens        int     `json:"max_tokens"`
	ThresholdTokens  int     `json:"threshold_tokens"`
	UsageRatio       float64 `json:"usage_ratio"`
	NeedsCompression bool    `json:"needs_compression"`
}

// Manager runs the classify, score and compress pipeline when the history
// reaches the token threshold.
type Manager struct {
	classifier Classifier
	scorer     *ValueScorer
	compressor *Compressor
	recorder   metrics.Recorder
	now        func() time.Time

	mu             sync.RWMutex
	maxTokens      int
	thresholdRatio float64
}

// NewManager creates a manager. A nil llm classifies by rules only and never
// summarizes, so medium-value messages are kept verbatim.
func NewManager(llm ai.LLMService, cfg Config) *Manager {
	cfg = cfg.withDefaults()

	classifier := NewFallbackClassifier(llm)
	var summarizer *Summarizer
	if llm != nil {
		classifier.Primary.(*LLMClassifier).RetryDelay = cfg.RetryDelay
		summarizer = NewSummarizer(llm)
		summarizer.RetryDelay = cfg.RetryDelay
	}

	compressor := NewCompressor(summarizer)
	compressor.KeepRecent = cfg.KeepRecent
	compressor.HighThreshold = cfg.HighThreshold
	compressor.MediumThreshold = cfg.MediumThreshold
	compressor.MaxSummaryBatch = cfg.MaxSummaryBatch

	return &Manager{
		classifier:     classifier,
		scorer:         &ValueScorer{Weights: cfg.Weights, HalfLife: cfg.HalfLife},
		compressor:     compressor,
		now:            time.Now,
		maxTokens:      cfg.MaxTokens,
		thresholdRatio: cfg.ThresholdRatio,
	}
}

// SetMetrics records the latency of every compression pass to r.
func (m *Manager) SetMetrics(r metrics.Recorder) {
	m.recorder = r
}

// SetClassifier replaces the classifier.
func (m *Manager) SetClassifier(c Classifier) {
	m.classifier = c
}

// SetMaxTokens changes the context window size. Non-positive values are ignored.
func (m *Manager) SetMaxTokens(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.maxTokens = n
	m.mu.Unlock()
}

// SetThresholdRatio changes the compression trigger ratio. Values outside (0, 1] are ignored.
func (m *Manager) SetThresholdRatio(r float64) {
	if r <= 0 || r > 1 {
		return
	}
	m.mu.Lock()
	m.thresholdRatio = r
	m.mu.Unlock()
}

// MaxTokens returns the current context window size.
func (m *Manager) MaxTokens() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxTokens
}

// ThresholdTokens returns int(maxTokens x thresholdRatio).
func (m *Manager) ThresholdTokens() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(float64(m.maxTokens) * m.thresholdRatio)
}

// ShouldCompress reports whether msgs reach the token threshold.
func (m *Manager) ShouldCompress(msgs []*store.Message) bool {
	return token.EstimateMessages(msgs) >= m.ThresholdTokens()
}

// Process compresses msgs when forced or when they reach the threshold.
// Otherwise msgs is returned unchanged. The input messages are not modified.
func (m *Manager) Process(ctx context.Context, msgs []*store.Message, force bool) []*store.Message {
	if len(msgs) == 0 {
		return msgs
	}
	if !force && !m.ShouldCompress(msgs) {
		return msgs
	}

	start := time.Now()
	before := token.EstimateMessages(msgs)

	work := make([]*store.Message, len(msgs))
	for i, msg := range msgs {
		work[i] = msg.Clone()
	}

	if err := annotate(ctx, m.classifier, work); err != nil {
		slog.Warn("classification failed, using keyword rules", "error", err)
		_ = annotate(ctx, RuleClassifier{}, work)
	}
	m.scorer.ScoreAll(work, m.now())
	out := m.compressor.Compress(ctx, work)
	if m.recorder != nil {
		m.recorder.Record(metrics.OpCompress, time.Since(start), len(out) < len(msgs))
	}

	slog.Info("context processed",
		"messages_before", len(msgs),
		"messages_after", len(out),
		"tokens_before", before,
		"tokens_after", token.EstimateMessages(out),
		"forced", force,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return out
}

// Stats reports token usage of msgs against the current window.
func (m *Manager) Stats(msgs []*store.Message) ContextStats {
	current := token.EstimateMessages(msgs)
	maxTokens := m.MaxTokens()
	threshold := m.ThresholdTokens()

	stats := ContextStats{
		MessageCount:     len(msgs),
		CurrentTokens:    current,
		MaxTokens:        maxTokens,
		ThresholdTokens:  threshold,
		NeedsCompression: current >= threshold,
	}
	if maxTokens > 0 {
		stats.UsageRatio = float64(current) / float64(maxTokens)
	}
	return stats
}
