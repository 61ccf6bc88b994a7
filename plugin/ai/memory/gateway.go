package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrygo/groupmind/internal/observability"
	"github.com/hrygo/groupmind/plugin/ai"
	"github.com/hrygo/groupmind/plugin/ai/timeout"
	"github.com/hrygo/groupmind/store"
)

const defaultEmbedConcurrency = 8

// Gateway is the single read/write path to long-term memory. The local store
// is authoritative; the mirror is best-effort.
type Gateway struct {
	store       Store
	embedder    ai.EmbeddingService
	mirror      Mirror
	concurrency int

	// vectorEnabled is probed once in NewGateway and never changes.
	vectorEnabled bool
}

// NewGateway creates a gateway and probes vector capability: the store must
// support vectors and the embedder must answer a probe request.
func NewGateway(ctx context.Context, st Store, embedder ai.EmbeddingService, mirror Mirror) *Gateway {
	g := &Gateway{
		store:       st,
		embedder:    embedder,
		mirror:      mirror,
		concurrency: defaultEmbedConcurrency,
	}
	g.vectorEnabled = g.probeVector(ctx)
	if g.vectorEnabled {
		slog.Info("memory gateway: vector write and search enabled", "model", embedder.Model())
	} else {
		slog.Warn("memory gateway: vector capability disabled, using lexical retrieval")
	}
	return g
}

func (g *Gateway) probeVector(ctx context.Context) bool {
	if g.embedder == nil {
		return false
	}
	supported, err := g.store.HasVectorSupport(ctx)
	if err != nil || !supported {
		if err != nil {
			slog.Warn("failed to detect vector support", "error", err)
		}
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout.EmbeddingTimeout)
	defer cancel()
	if _, err := g.embedder.Embed(probeCtx, "ping"); err != nil {
		slog.Warn("embedding service unavailable", "error", err)
		return false
	}
	return true
}

// VectorEnabled reports the capability probed at construction.
func (g *Gateway) VectorEnabled() bool {
	return g.vectorEnabled
}

// Fingerprint is the sha256 of content with whitespace collapsed and lower-cased.
func Fingerprint(content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// AddMemories upserts records by their composite key and returns the stored
// ids. Records with empty content are skipped. A failed embedding only
// leaves the record without a vector.
func (g *Gateway) AddMemories(ctx context.Context, records []*store.LongTermMemory) ([]string, error) {
	var pending []*store.LongTermMemory
	for _, r := range records {
		r.Content = strings.TrimSpace(r.Content)
		if r.Content == "" {
			continue
		}
		r.Fingerprint = Fingerprint(r.Content)
		pending = append(pending, r)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	if g.vectorEnabled {
		g.embedRecords(ctx, pending)
	}

	ids := make([]string, 0, len(pending))
	for _, r := range pending {
		saved, err := g.store.UpsertLongTermMemory(ctx, r)
		if err != nil {
			return ids, fmt.Errorf("upsert memory: %w", err)
		}
		ids = append(ids, saved.ID)
		g.mirrorAsync(saved)
	}
	return ids, nil
}

// embedRecords fills Embedding concurrently. Every goroutine is awaited and
// a failure never cancels its siblings.
func (g *Gateway) embedRecords(ctx context.Context, records []*store.LongTermMemory) {
	start := time.Now()
	var eg errgroup.Group
	eg.SetLimit(g.concurrency)

	for _, r := range records {
		eg.Go(func() error {
			vec, err := g.embed(ctx, r.Content)
			if err != nil {
				observability.LoggerFrom(ctx).Debug("memory embedding failed", "error", err)
				return nil
			}
			r.Embedding = vec
			r.EmbeddingModel = g.embedder.Model()
			return nil
		})
	}
	_ = eg.Wait()

	observability.LoggerFrom(ctx).Debug("memory embeddings generated",
		"records", len(records),
		"latency_ms", time.Since(start).Milliseconds(),
	)
}

func (g *Gateway) embed(ctx context.Context, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, timeout.EmbeddingTimeout)
	defer cancel()
	return g.embedder.Embed(embedCtx, text)
}

// QueryEmbedding returns the query vector, or nil when vectors are disabled
// or the embedding failed.
func (g *Gateway) QueryEmbedding(ctx context.Context, query string) []float32 {
	if !g.vectorEnabled || strings.TrimSpace(query) == "" {
		return nil
	}
	vec, err := g.embed(ctx, query)
	if err != nil {
		observability.LoggerFrom(ctx).Warn("query embedding failed, using lexical retrieval", "error", err)
		return nil
	}
	return vec
}

// EmbeddingModel is the model name stored next to vectors.
func (g *Gateway) EmbeddingModel() string {
	if g.embedder == nil {
		return ""
	}
	return g.embedder.Model()
}

func (g *Gateway) mirrorAsync(record *store.LongTermMemory) {
	if g.mirror == nil {
		return
	}
	snapshot := *record
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout.MirrorTimeout)
		defer cancel()
		if err := g.mirror.Add(ctx, &snapshot); err != nil {
			slog.Warn("memory mirror write failed", "memory_id", snapshot.ID, "error", err)
		}
	}()
}

// ScopeSearch selects candidates from one scope.
type ScopeSearch struct {
	Scope          store.MemoryScope
	UserID         string
	GroupID        string
	MemberID       string
	PersonaVersion string
	MinConfidence  float64
	QueryEmbedding []float32
	Limit          int
}

// SearchScope lists active, unexpired candidates of one scope. The query
// vector is only used when vectors are enabled.
func (g *Gateway) SearchScope(ctx context.Context, search ScopeSearch) ([]*store.LongTermMemoryWithScore, error) {
	find := &store.SearchLongTermMemory{
		Scope:         search.Scope,
		UserID:        search.UserID,
		MinConfidence: search.MinConfidence,
		Limit:         search.Limit,
	}
	if search.GroupID != "" {
		find.GroupID = &search.GroupID
	}
	if search.MemberID != "" {
		find.MemberID = &search.MemberID
	}
	if search.PersonaVersion != "" {
		find.PersonaVersion = &search.PersonaVersion
	}
	if g.vectorEnabled {
		find.QueryEmbedding = search.QueryEmbedding
	}
	return g.store.SearchLongTermMemories(ctx, find)
}

// Touch records a retrieval hit: last_used_at = now, decay += step (max 1).
func (g *Gateway) Touch(ctx context.Context, ids []string, step float64) error {
	return g.store.TouchLongTermMemories(ctx, &store.TouchLongTermMemories{
		IDs:       ids,
		DecayStep: step,
	})
}
