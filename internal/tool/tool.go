// Package tool provides the tool framework: the Tool interface, the
// capability bundle injected per call, and the built-in tools the turn loop
// exposes to the model.
package tool

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cowork-ai/cowork/internal/sandbox"
	"github.com/cowork-ai/cowork/pkg/types"
)

// ErrCancelled is returned by suspension points resolved by cancellation.
var ErrCancelled = errors.New("cancelled")

// Capability flags declared by each tool.
type Capability uint8

const (
	CapReads Capability = 1 << iota
	CapWrites
	CapNetwork
	CapShell
	CapSpawns
)

// Has reports whether all given flags are set.
func (c Capability) Has(flags Capability) bool { return c&flags == flags }

// Tool is one named tool the model can call.
type Tool interface {
	// Name returns the stable tool identifier.
	Name() string

	// Description returns the tool description shown to the model.
	Description() string

	// Parameters returns the JSON Schema for the tool arguments.
	Parameters() json.RawMessage

	// Capabilities returns the declared capability set.
	Capabilities() Capability

	// Execute runs the tool. A returned error becomes a tool_result with
	// isError=true; it never kills the turn.
	Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error)
}

// Runner runs a nested turn loop for spawned sub-agents. Implemented by the
// session package and injected at wiring time to break the tool↔session
// cycle.
type Runner interface {
	RunSubAgent(ctx context.Context, agentType string, prompt string, tc *Context) (string, error)
}

// Context is the capability bundle the engine injects per tool call. It
// carries only the minimum surface a tool needs; tools never see the
// session itself.
type Context struct {
	// Config is the session config snapshot for the running turn.
	Config types.SessionConfig

	// Sandbox resolves every path argument.
	Sandbox *sandbox.Sandbox

	// CallID is the provider-assigned tool call id.
	CallID string

	// Log emits a log event line.
	Log func(line string)

	// AskUser suspends the tool until a client answers, or cancellation.
	AskUser func(ctx context.Context, question string, options []string) (string, error)

	// ApproveCommand classifies the command, short-circuits on auto/deny,
	// and otherwise suspends until a client decision arrives.
	ApproveCommand func(ctx context.Context, command string) (bool, error)

	// UpdateTodos replaces the session todo list and emits a todos event.
	UpdateTodos func(todos []types.TodoItem) error

	// Abort is the session cancellation handle. Every blocking primitive a
	// tool uses must observe it (the ctx passed to Execute is derived from
	// it as well).
	Abort <-chan struct{}

	// SpawnDepth counts nested sub-agent spawns.
	SpawnDepth int

	// AvailableSkills lists skill names for tool self-description.
	AvailableSkills []string

	// Spawner runs sub-agent turns; nil when spawning is unavailable.
	Spawner Runner
}

// Aborted reports whether the cancellation handle has fired.
func (tc *Context) Aborted() bool {
	select {
	case <-tc.Abort:
		return true
	default:
		return false
	}
}

// Result is a successful tool execution outcome.
type Result struct {
	Title    string         `json:"title"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
