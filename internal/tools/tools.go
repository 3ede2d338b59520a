// Package tools is the fixed dispatch table of functions the assistant
// may call during a run. Each tool carries its own argument type,
// JSON schema, and validator, and always produces an output string:
// failures become user-facing sentences so the run can continue.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// UnknownFunctionOutput is returned for a call whose name is not in
// the table.
const UnknownFunctionOutput = "Unknown function requested."

// CrashedOutput is returned when a tool panics.
const CrashedOutput = "Sorry, that calculation could not be completed."

// Call outcomes reported to an Observer.
const (
	OutcomeOK          = "ok"
	OutcomeInvalidArgs = "invalid_args"
	OutcomeUpstream    = "upstream_error"
	OutcomeUnknown     = "unknown"
	OutcomePanic       = "panic"
)

// Args is implemented by each tool's argument struct. Validate may
// also fill in defaults.
type Args interface {
	Validate() error
}

// Observer receives one notification per dispatched call.
type Observer interface {
	ToolCall(name, outcome string)
}

// Tool is one entry in the dispatch table.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any

	invoke func(ctx context.Context, raw []byte) (string, string, error)
}

// Definition is the provider-facing description of a tool.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// newTool binds a typed handler. PA is the pointer type of A so that
// Validate can normalize arguments in place.
func newTool[A any, PA interface {
	*A
	Args
}](name, description string, params map[string]any, handle func(context.Context, A) (string, error)) *Tool {
	return &Tool{
		Name:        name,
		Description: description,
		Parameters:  params,
		invoke: func(ctx context.Context, raw []byte) (string, string, error) {
			var args A
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return fmt.Sprintf("Invalid arguments for %s.", name), OutcomeInvalidArgs, err
				}
			}
			if err := PA(&args).Validate(); err != nil {
				return fmt.Sprintf("Invalid arguments for %s: %v.", name, err), OutcomeInvalidArgs, err
			}
			out, err := handle(ctx, args)
			if err != nil {
				return out, OutcomeUpstream, err
			}
			return out, OutcomeOK, nil
		},
	}
}

// Registry holds the dispatch table.
type Registry struct {
	tools    map[string]*Tool
	observer Observer
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// SetObserver installs an Observer for call outcomes.
func (r *Registry) SetObserver(o Observer) {
	r.observer = o
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get returns the tool named name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns provider-facing definitions in name order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		defs = append(defs, Definition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Dispatch runs the tool named name with JSON-encoded arguments and
// returns its output. It never fails: unknown names, bad arguments,
// upstream errors and panics all resolve to an output string.
func (r *Registry) Dispatch(ctx context.Context, name, argsJSON string) (out string) {
	t := r.tools[name]
	if t == nil {
		r.logger.Warn("assistant requested unknown function", "tool", name)
		r.observe(name, OutcomeUnknown)
		return UnknownFunctionOutput
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool call panicked", "tool", name, "panic", p)
			r.observe(name, OutcomePanic)
			out = CrashedOutput
		}
	}()

	out, outcome, err := t.invoke(ctx, []byte(strings.TrimSpace(argsJSON)))
	if err != nil {
		r.logger.Warn("tool call degraded",
			"tool", name,
			"outcome", outcome,
			"error", err,
		)
	} else {
		r.logger.Debug("tool call completed", "tool", name)
	}
	r.observe(name, outcome)
	return out
}

func (r *Registry) observe(name, outcome string) {
	if r.observer != nil {
		r.observer.ToolCall(name, outcome)
	}
}
