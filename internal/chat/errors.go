package chat

import "fmt"

// Kind classifies a failed turn.
type Kind string

// Failure kinds.
const (
	KindValidation  Kind = "validation"
	KindTimeout     Kind = "timeout"
	KindToolTimeout Kind = "tool_timeout"
	KindEmptyReply  Kind = "empty_reply"
	KindRunFailed   Kind = "run_failed"
	KindStorage     Kind = "storage"
	KindProvider    Kind = "provider"
)

// Stable client-facing messages.
const (
	MsgPromptRequired = "Prompt is required."
	MsgInvalidUser    = "Invalid userId."
	MsgTimeout        = "Assistant response timed out."
	MsgToolTimeout    = "Assistant function processing timed out."
	MsgEmptyReply     = "Assistant did not return a valid response."
	MsgRunFailed      = "Assistant run failed."
	MsgInternal       = "Failed to process chat request."
)

// Error is the only error type Turn returns.
type Error struct {
	Kind    Kind
	Message string // safe to show the client
	Err     error  // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}
