package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/groupmind/internal/observability"
	"github.com/hrygo/groupmind/plugin/ai/metrics"
	"github.com/hrygo/groupmind/plugin/ai/token"
	"github.com/hrygo/groupmind/store"
)

const (
	defaultMaxContextTokens = 128000
	queryPreviewRunes       = 120

	injectionHeader = "[Long-term background]"
	injectionFooter = "Note: if this conflicts with the user's explicit input in the current turn, the current input takes precedence."

	emptyQueryReply  = "Search failed: query must not be empty."
	emptyResultReply = "No matching long-term memory found. Continue reasoning from the current conversation."
)

type scoredMemory struct {
	memory      *store.LongTermMemory
	vectorScore float64
	score       float64
	tokens      int
}

// BuildInjectionContext implements MemoryService. Every failure degrades to
// an empty block; retrieval never blocks a turn.
func (s *Service) BuildInjectionContext(ctx context.Context, group *store.Group, userID, query string, maxContextTokens int, opts RetrieveOptions) string {
	if group == nil {
		return ""
	}
	settings := group.Settings
	query = strings.TrimSpace(query)
	if !settings.MemoryEnabled || !settings.RetrieveEnabled || query == "" {
		return ""
	}

	start := time.Now()
	block := s.buildInjectionContext(ctx, group, userID, query, maxContextTokens, opts)
	s.metrics.Record(metrics.OpRetrieve, time.Since(start), block != "")
	return block
}

func (s *Service) buildInjectionContext(ctx context.Context, group *store.Group, userID, query string, maxContextTokens int, opts RetrieveOptions) string {
	settings := group.Settings
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}

	rc := observability.NewRequestContext(s.logger, "retrieve", group.ID, userID)
	ctx = observability.WithRequestContext(ctx, rc)
	queryVec := s.queryEmbedding(ctx, query)

	candidates := s.collectCandidates(ctx, rc, group, userID, queryVec)
	candidates = s.filterCandidates(rc, candidates, opts)
	if len(candidates) == 0 {
		s.audit(ctx, rc, store.AuditRetrieveEmpty, "", nil, "no candidates after filter")
		return ""
	}

	scored := scoreCandidates(candidates, query, settings.ScoreThreshold, s.now())
	budget := max(s.cfg.MinTokenBudget, int(float64(maxContextTokens)*settings.InjectionRatio))
	selected := selectWithinBudget(scored, budget, settings.TopN)
	if len(selected) == 0 {
		s.audit(ctx, rc, store.AuditRetrieveEmpty, "", nil, "filtered out")
		return ""
	}

	ids := make([]string, len(selected))
	for i, sm := range selected {
		ids[i] = sm.memory.ID
	}
	if err := s.gateway.Touch(ctx, ids, s.cfg.DecayStep); err != nil {
		rc.Warn("failed to touch memories", slog.Any("error", err))
	}
	s.audit(ctx, rc, store.AuditRetrieveHit, "mixed", ids, fmt.Sprintf("selected=%d", len(ids)))

	info := &RetrievalInfo{
		RetrievedAt: s.now(),
		Query:       truncateRunes(query, queryPreviewRunes),
		Candidates:  len(candidates),
		SelectedIDs: ids,
		TokenBudget: budget,
		BudgetRatio: settings.InjectionRatio,
		VectorUsed:  len(queryVec) > 0,
		TypesFilter: opts.Types,
	}
	for _, scope := range opts.Scopes {
		info.ScopesFilter = append(info.ScopesFilter, string(scope))
	}
	s.recordRetrieval(group.ID, userID, info)

	rc.Debug("memory retrieved",
		slog.Int("candidates", len(candidates)),
		slog.Int("selected", len(selected)),
		slog.Int("budget", budget),
		slog.Bool("vector", info.VectorUsed),
		slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
	)
	return formatInjectionBlock(selected)
}

func (s *Service) queryEmbedding(ctx context.Context, query string) []float32 {
	if !s.gateway.VectorEnabled() {
		return nil
	}
	model := s.gateway.EmbeddingModel()
	if vec, ok := s.queryCache.Get(model, query); ok {
		return vec
	}
	vec := s.gateway.QueryEmbedding(ctx, query)
	s.queryCache.Set(model, query, vec)
	return vec
}

// collectCandidates runs one search per enabled scope (and per member for
// agent_local) concurrently, then dedupes by id in search order. A failed
// search only loses its own candidates.
func (s *Service) collectCandidates(ctx context.Context, rc *observability.RequestContext, group *store.Group, userID string, queryVec []float32) []*store.LongTermMemoryWithScore {
	settings := group.Settings
	var searches []ScopeSearch
	if settings.ScopeUserGlobal {
		searches = append(searches, ScopeSearch{
			Scope:  store.ScopeUserGlobal,
			UserID: userID,
			Limit:  s.cfg.UserGlobalLimit,
		})
	}
	if settings.ScopeGroupLocal {
		searches = append(searches, ScopeSearch{
			Scope:   store.ScopeGroupLocal,
			UserID:  userID,
			GroupID: group.ID,
			Limit:   s.cfg.GroupLocalLimit,
		})
	}
	if settings.ScopeAgentLocal {
		for _, m := range group.Members {
			searches = append(searches, ScopeSearch{
				Scope:          store.ScopeAgentLocal,
				UserID:         userID,
				GroupID:        group.ID,
				MemberID:       m.ID,
				PersonaVersion: PersonaVersion(m),
				Limit:          s.cfg.AgentLocalLimit,
			})
		}
	}

	results := make([][]*store.LongTermMemoryWithScore, len(searches))
	var eg errgroup.Group
	for i, search := range searches {
		search.MinConfidence = settings.MinConfidence
		search.QueryEmbedding = queryVec
		eg.Go(func() error {
			rows, err := s.gateway.SearchScope(ctx, search)
			if err != nil {
				rc.Warn("memory scope search failed",
					slog.String("scope", string(search.Scope)),
					slog.Any("error", err),
				)
				return nil
			}
			results[i] = rows
			return nil
		})
	}
	_ = eg.Wait()

	seen := make(map[string]struct{})
	var out []*store.LongTermMemoryWithScore
	for _, rows := range results {
		for _, row := range rows {
			if _, dup := seen[row.Memory.ID]; dup {
				continue
			}
			seen[row.Memory.ID] = struct{}{}
			out = append(out, row)
		}
	}
	return out
}

// filterCandidates applies the type and scope allow-lists and the CEL filter.
// An invalid CEL filter is ignored with a warning.
func (s *Service) filterCandidates(rc *observability.RequestContext, rows []*store.LongTermMemoryWithScore, opts RetrieveOptions) []*store.LongTermMemoryWithScore {
	types := make(map[string]struct{})
	for _, t := range opts.Types {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			types[t] = struct{}{}
		}
	}
	scopes := make(map[store.MemoryScope]struct{})
	for _, sc := range opts.Scopes {
		if sc != "" {
			scopes[sc] = struct{}{}
		}
	}

	var prg cel.Program
	if expr := strings.TrimSpace(opts.Filter); expr != "" {
		compiled, err := s.filters.compile(expr)
		if err != nil {
			rc.Warn("ignoring invalid memory filter", slog.String("filter", expr), slog.Any("error", err))
		} else {
			prg = compiled
		}
	}

	if len(types) == 0 && len(scopes) == 0 && prg == nil {
		return rows
	}

	var out []*store.LongTermMemoryWithScore
	for _, row := range rows {
		m := row.Memory
		if len(types) > 0 {
			if _, ok := types[strings.ToLower(strings.TrimSpace(m.MemoryType))]; !ok {
				continue
			}
		}
		if len(scopes) > 0 {
			if _, ok := scopes[m.Scope]; !ok {
				continue
			}
		}
		if prg != nil {
			matched, err := matchFilter(prg, m)
			if err != nil {
				rc.Debug("memory filter evaluation failed", slog.String("memory_id", m.ID), slog.Any("error", err))
			}
			if !matched {
				continue
			}
		}
		out = append(out, row)
	}
	return out
}

// scoreCandidates drops candidates below minScore and sorts the rest by score.
func scoreCandidates(rows []*store.LongTermMemoryWithScore, query string, minScore float64, now time.Time) []scoredMemory {
	var scored []scoredMemory
	for _, row := range rows {
		m := row.Memory
		lexical := lexicalScore(query, m.Content)
		recency := recencyBonus(m.UpdatedAt, now)
		decay := m.DecayScore
		if decay == 0 {
			decay = 1.0
		}
		vector := max(0, min(1, row.VectorScore))

		var score float64
		if vector > 0 {
			score = 0.40*vector + 0.25*lexical + 0.20*m.Confidence + 0.10*recency + 0.05*decay
		} else {
			score = 0.55*lexical + 0.25*m.Confidence + 0.10*recency + 0.10*decay
		}
		if score < minScore {
			continue
		}
		scored = append(scored, scoredMemory{
			memory:      m,
			vectorScore: vector,
			score:       score,
			tokens:      token.Estimate(m.Content),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	return scored
}

// selectWithinBudget greedily takes candidates in score order, skipping any
// that would overflow the budget, until topN are selected.
func selectWithinBudget(scored []scoredMemory, budget, topN int) []scoredMemory {
	var selected []scoredMemory
	used := 0
	for _, sm := range scored {
		if len(selected) >= topN {
			break
		}
		if used+sm.tokens > budget {
			continue
		}
		selected = append(selected, sm)
		used += sm.tokens
	}
	return selected
}

func formatInjectionBlock(selected []scoredMemory) string {
	var b strings.Builder
	b.WriteString(injectionHeader)
	for i, sm := range selected {
		m := sm.memory
		date := "-"
		if !m.UpdatedAt.IsZero() {
			date = m.UpdatedAt.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "\n%d. [%s] [time:%s] [confidence:%.2f] %s", i+1, m.Scope, date, m.Confidence, m.Content)
	}
	b.WriteString("\n")
	b.WriteString(injectionFooter)
	return b.String()
}

// SearchTool adapts retrieval into a tool function that members can call
// with a free-text query.
func (s *Service) SearchTool(group *store.Group, userID string, maxContextTokens int) func(ctx context.Context, query string) string {
	return func(ctx context.Context, query string) string {
		query = strings.TrimSpace(query)
		if query == "" {
			return emptyQueryReply
		}
		slog.Info("memory search tool invoked",
			"group_id", group.ID,
			"user_id", userID,
			"query", truncateRunes(query, 80),
		)

		block := s.BuildInjectionContext(ctx, group, userID, query, maxContextTokens, RetrieveOptions{})
		if block == "" {
			return emptyResultReply
		}
		return block
	}
}
