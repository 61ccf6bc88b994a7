package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hrygo/groupmind/internal/observability"
	"github.com/hrygo/groupmind/plugin/ai"
	"github.com/hrygo/groupmind/plugin/ai/cache"
	"github.com/hrygo/groupmind/plugin/ai/metrics"
	"github.com/hrygo/groupmind/store"
)

type groupUserKey struct {
	groupID string
	userID  string
}

// Service implements MemoryService on top of a Store and a Gateway.
type Service struct {
	store      Store
	gateway    *Gateway
	extractor  *Extractor
	filters    *filterCache
	queryCache *cache.VectorCache
	metrics    *metrics.Aggregator
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	mu            sync.RWMutex
	lastRetrieval map[groupUserKey]*RetrievalInfo

	// background tracks ScheduleArchive goroutines.
	background sync.WaitGroup

	// archiveLocks holds one *sync.Mutex per groupUserKey.
	archiveLocks sync.Map
}

// NewService creates the memory service. A nil llm extracts with keyword
// rules only.
func NewService(st Store, gateway *Gateway, llm ai.LLMService, cfg Config) *Service {
	cfg = cfg.withDefaults()

	extractor := NewExtractor(llm)
	extractor.MaxAttempts = cfg.ExtractRetries
	extractor.RetryDelay = cfg.ExtractDelay
	gateway.concurrency = cfg.EmbedConcurrency

	return &Service{
		store:         st,
		gateway:       gateway,
		extractor:     extractor,
		filters:       newFilterCache(),
		queryCache:    cache.NewVectorCache(cfg.QueryCacheSize, cfg.QueryCacheTTL),
		metrics:       metrics.NewAggregator(),
		cfg:           cfg,
		logger:        slog.Default(),
		now:           time.Now,
		lastRetrieval: make(map[groupUserKey]*RetrievalInfo),
	}
}

// Gateway returns the underlying gateway.
func (s *Service) Gateway() *Gateway {
	return s.gateway
}

// Metrics returns the archive and retrieve counters.
func (s *Service) Metrics() *metrics.Aggregator {
	return s.metrics
}

// Wait blocks until every scheduled archive has finished.
func (s *Service) Wait() {
	s.background.Wait()
}

// LastRetrieval returns the last successful retrieval for a (group, user).
func (s *Service) LastRetrieval(groupID, userID string) (*RetrievalInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.lastRetrieval[groupUserKey{groupID, userID}]
	return info, ok
}

func (s *Service) recordRetrieval(groupID, userID string, info *RetrievalInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRetrieval[groupUserKey{groupID, userID}] = info
}

// GroupStats implements MemoryService.
func (s *Service) GroupStats(ctx context.Context, groupID string) (*GroupStats, error) {
	dbStats, err := s.store.GetLongTermMemoryStats(ctx, groupID)
	if err != nil {
		return nil, err
	}

	stats := &GroupStats{
		ScopeCounts:     dbStats.ScopeCounts,
		TotalRecords:    dbStats.TotalRecords,
		DeadLetterCount: dbStats.DeadLetterCount,
		VectorEnabled:   s.gateway.VectorEnabled(),
		EmbeddedRecords: dbStats.EmbeddedRecords,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, info := range s.lastRetrieval {
		if key.groupID != groupID {
			continue
		}
		if stats.LastRetrieval == nil || info.RetrievedAt.After(stats.LastRetrieval.RetrievedAt) {
			stats.LastRetrieval = info
		}
	}
	return stats, nil
}

// audit writes an audit row. Failures are logged and never propagate.
func (s *Service) audit(ctx context.Context, rc *observability.RequestContext, eventType, scope string, ids []string, detail string) {
	_, err := s.store.CreateMemoryAuditLog(ctx, &store.MemoryAuditLog{
		RequestID: rc.RequestID,
		GroupID:   rc.GroupID,
		UserID:    rc.UserID,
		EventType: eventType,
		Scope:     scope,
		MemoryIDs: ids,
		Detail:    detail,
	})
	if err != nil {
		rc.Warn("failed to write memory audit log",
			slog.String(observability.LogFieldEventType, eventType),
			slog.Any("error", err),
		)
	}
}

var _ MemoryService = (*Service)(nil)
