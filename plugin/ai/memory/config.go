package memory

import "time"

// Config holds the archival and retrieval limits.
type Config struct {
	ArchiveBatchLimit    int
	ArchiveMinBatch      int
	ArchiveRetries       int
	ArchiveBackoff       time.Duration
	MinExtractConfidence float64
	GroupLocalTTL        time.Duration

	UserGlobalLimit  int
	GroupLocalLimit  int
	AgentLocalLimit  int
	MinTokenBudget   int
	DecayStep        float64
	QueryCacheSize   int
	QueryCacheTTL    time.Duration
	ExtractRetries   int
	ExtractDelay     time.Duration
	EmbedConcurrency int
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		ArchiveBatchLimit:    300,
		ArchiveMinBatch:      10,
		ArchiveRetries:       3,
		ArchiveBackoff:       2 * time.Second,
		MinExtractConfidence: 0.55,
		GroupLocalTTL:        180 * 24 * time.Hour,

		UserGlobalLimit:  12,
		GroupLocalLimit:  12,
		AgentLocalLimit:  6,
		MinTokenBudget:   128,
		DecayStep:        0.05,
		QueryCacheSize:   256,
		QueryCacheTTL:    10 * time.Minute,
		ExtractRetries:   3,
		ExtractDelay:     time.Second,
		EmbedConcurrency: 8,
	}
}

// withDefaults fills non-positive limits. Durations are kept as given, so a
// zero delay means no wait.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	setInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	setInt(&c.ArchiveBatchLimit, d.ArchiveBatchLimit)
	setInt(&c.ArchiveMinBatch, d.ArchiveMinBatch)
	setInt(&c.ArchiveRetries, d.ArchiveRetries)
	setInt(&c.UserGlobalLimit, d.UserGlobalLimit)
	setInt(&c.GroupLocalLimit, d.GroupLocalLimit)
	setInt(&c.AgentLocalLimit, d.AgentLocalLimit)
	setInt(&c.MinTokenBudget, d.MinTokenBudget)
	setInt(&c.QueryCacheSize, d.QueryCacheSize)
	setInt(&c.ExtractRetries, d.ExtractRetries)
	setInt(&c.EmbedConcurrency, d.EmbedConcurrency)
	if c.MinExtractConfidence <= 0 {
		c.MinExtractConfidence = d.MinExtractConfidence
	}
	if c.GroupLocalTTL <= 0 {
		c.GroupLocalTTL = d.GroupLocalTTL
	}
	if c.DecayStep <= 0 {
		c.DecayStep = d.DecayStep
	}
	return c
}
