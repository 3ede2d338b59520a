// Package assistant adapts the remote conversational-assistant API
// (threads, messages, runs, tool outputs) to the narrow surface the
// chat orchestrator drives.
package assistant

import "context"

// RunStatus is the lifecycle state of a remote run.
type RunStatus string

// Run states reported by the provider.
const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusCancelled      RunStatus = "cancelled"
	StatusExpired        RunStatus = "expired"
	StatusIncomplete     RunStatus = "incomplete"
)

// Pending reports whether the run is still being worked on.
func (s RunStatus) Pending() bool {
	return s == StatusQueued || s == StatusInProgress
}

// ToolCall is one function invocation requested by a run.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolOutput answers one ToolCall.
type ToolOutput struct {
	CallID string
	Output string
}

// Run is a snapshot of a remote run.
type Run struct {
	ID     string
	Status RunStatus

	// ToolCalls is set when Status is requires_action and the action
	// asks for tool outputs.
	ToolCalls []ToolCall

	// NeedsToolOutputs distinguishes a submit-tool-outputs action from
	// any other required action.
	NeedsToolOutputs bool

	// LastError carries the provider's failure message, if any.
	LastError string
}

// Provider is the remote assistant surface used by the orchestrator
// and the thread directory.
type Provider interface {
	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID, content string) error
	CreateRun(ctx context.Context, threadID string) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error)

	// LatestReply returns the text of the most recent assistant-authored
	// message on the thread, or "" when there is none.
	LatestReply(ctx context.Context, threadID string) (string, error)
}
