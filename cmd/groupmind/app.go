package main

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hrygo/groupmind/internal/profile"
	"github.com/hrygo/groupmind/plugin/ai"
	aicontext "github.com/hrygo/groupmind/plugin/ai/context"
	"github.com/hrygo/groupmind/plugin/ai/memory"
	"github.com/hrygo/groupmind/store"
	"github.com/hrygo/groupmind/store/db"
)

// app holds the services shared by the subcommands.
type app struct {
	profile  *profile.Profile
	store    *store.Store
	llm      ai.LLMService
	embedder ai.EmbeddingService
	memory   *memory.Service
	manager  *aicontext.Manager
	builder  *aicontext.Builder
}

func newApp(ctx context.Context) (*app, error) {
	p, err := loadProfile()
	if err != nil {
		return nil, errors.Wrap(err, "invalid profile")
	}

	driver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	st := store.New(driver, p)
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}
	if p.IsDev() {
		// The DSN may carry credentials; only print it outside prod.
		slog.Debug("store ready", "mode", p.Mode, "driver", p.Driver, "dsn", p.DSN)
	}

	a := &app{profile: p, store: st}
	if err := a.initAI(); err != nil {
		_ = st.Close()
		return nil, err
	}

	var mirror memory.Mirror
	if m := memory.NewHTTPMirror(p.MemoryMirrorURL, p.MemoryMirrorAPIKey); m != nil {
		mirror = m
	}
	gateway := memory.NewGateway(ctx, st, a.embedder, mirror)
	a.memory = memory.NewService(st, gateway, a.llm, memory.DefaultConfig())

	cfg := aicontext.DefaultConfig()
	cfg.MaxTokens = p.ContextMaxTokens
	cfg.ThresholdRatio = p.ContextThresholdRatio
	a.manager = aicontext.NewManager(a.llm, cfg)
	a.manager.SetMetrics(a.memory.Metrics())
	a.builder = aicontext.NewBuilder(a.manager, st)
	return a, nil
}

// initAI builds the LLM and embedding clients. Without AI the rule-based
// classifier and extractor are used and vectors stay disabled.
func (a *app) initAI() error {
	cfg := ai.NewConfigFromProfile(a.profile)
	if !cfg.Enabled {
		slog.Info("AI is disabled, running with rule-based fallbacks")
		return nil
	}
	if !a.profile.IsAIEnabled() {
		slog.Warn("AI is enabled but no provider credentials are set")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid AI configuration")
	}

	llm, err := ai.NewLLMService(&cfg.LLM)
	if err != nil {
		return err
	}
	embedder, err := ai.NewEmbeddingService(&cfg.Embedding)
	if err != nil {
		return err
	}
	a.llm, a.embedder = llm, embedder
	return nil
}

func (a *app) Close() {
	a.memory.Wait()
	if err := a.store.Close(); err != nil {
		slog.Warn("failed to close store", "error", err)
	}
}

// group loads a group or fails with a not-found error.
func (a *app) group(ctx context.Context, id string) (*store.Group, error) {
	g, err := a.store.GetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, errors.Errorf("group %q not found", id)
	}
	return g, nil
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
