// Package tools provides the tool registry and the invocation boundary.
//
// Tools are resolved by name from an explicit registry populated at
// startup. Adding a capability means one registration call; the dispatcher
// never changes.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/fullsend/fullsend/pkg/types"
)

// ErrToolNotFound is returned when no tool is registered under a name.
var ErrToolNotFound = errors.New("tool not found")

// Tool is a named, independently invocable unit of work. Invoke accepts
// keyword-style parameters and returns a structured result; implementations
// should return errors rather than panic, but the registry recovers panics
// at the boundary regardless.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, params map[string]any) (*types.ToolResult, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	ToolName string
	Fn       func(ctx context.Context, params map[string]any) (*types.ToolResult, error)
}

// Name returns the tool name.
func (f *Func) Name() string { return f.ToolName }

// Invoke calls the wrapped function.
func (f *Func) Invoke(ctx context.Context, params map[string]any) (*types.ToolResult, error) {
	return f.Fn(ctx, params)
}

// Registry maps tool names to implementations. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*paramSchema
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*paramSchema),
		logger:  logger,
	}
}

// Register adds a tool. Re-registering a name replaces the previous
// implementation, so a rebuilt tool can be swapped in live.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return types.ErrMissingID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		r.logger.Info("replacing registered tool", slog.String("tool", name))
	}
	r.tools[name] = tool
	return nil
}

// RegisterWithSchema adds a tool along with a JSON Schema for its
// parameters. Schema violations at invocation time are logged, never
// rejected: tool producers are model outputs and partial conformance is
// expected.
func (r *Registry) RegisterWithSchema(tool Tool, schemaJSON []byte) error {
	if err := r.Register(tool); err != nil {
		return err
	}
	sch, err := compileParamSchema(tool.Name(), schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", tool.Name(), err)
	}

	r.mu.Lock()
	r.schemas[tool.Name()] = sch
	r.mu.Unlock()
	return nil
}

// Resolve looks up a tool by name.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke resolves and calls a tool. Panics inside the tool are recovered
// and converted to a failure ToolResult; error returns pass through so the
// caller can classify them. An unknown name yields ErrToolNotFound.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (*types.ToolResult, error) {
	tool, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	sch := r.schemas[name]
	r.mu.RUnlock()
	if sch != nil {
		if err := sch.check(params); err != nil {
			r.logger.Warn("tool parameters do not match declared schema",
				slog.String("tool", name),
				slog.Any("error", err),
			)
		}
	}

	return invokeSafe(ctx, tool, params)
}

// invokeSafe runs the tool with panic recovery.
func invokeSafe(ctx context.Context, tool Tool, params map[string]any) (result *types.ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = &types.ToolResult{
				Success: false,
				Error:   fmt.Sprintf("tool panicked: %v", rec),
			}
			err = nil
		}
	}()

	result, invokeErr := tool.Invoke(ctx, params)
	if invokeErr != nil {
		return nil, invokeErr
	}
	if result == nil {
		result = &types.ToolResult{Success: true}
	}
	return result, nil
}
