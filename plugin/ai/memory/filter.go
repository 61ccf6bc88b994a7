package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/hrygo/groupmind/plugin/ai/cache"
	"github.com/hrygo/groupmind/store"
)

// filterCache compiles CEL filter expressions once and reuses the programs.
type filterCache struct {
	env      *cel.Env
	programs *cache.LRU[cel.Program]
}

func newFilterCache() *filterCache {
	env, err := cel.NewEnv(
		cel.Variable("memory", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("create cel env: %v", err))
	}
	return &filterCache{env: env, programs: cache.NewLRU[cel.Program](64, time.Hour)}
}

// compile returns the program for expr. The expression must evaluate to a bool.
func (f *filterCache) compile(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if prg, ok := f.programs.Get(expr); ok {
		return prg, nil
	}

	ast, iss := f.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile filter: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("filter must return bool, got %s", ast.OutputType())
	}
	prg, err := f.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build filter program: %w", err)
	}
	f.programs.Set(expr, prg, 0)
	return prg, nil
}

func matchFilter(prg cel.Program, m *store.LongTermMemory) (bool, error) {
	out, _, err := prg.Eval(map[string]any{
		"memory": map[string]any{
			"scope":       string(m.Scope),
			"memory_type": m.MemoryType,
			"confidence":  m.Confidence,
			"content":     m.Content,
		},
	})
	if err != nil {
		return false, err
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter returned %T", out.Value())
	}
	return matched, nil
}

// ValidateFilter reports whether expr is a usable retrieval filter.
func ValidateFilter(expr string) error {
	_, err := newFilterCache().compile(expr)
	return err
}
