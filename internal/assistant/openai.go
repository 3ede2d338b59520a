package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/nugget/penny/internal/config"
	"github.com/nugget/penny/internal/httpkit"
)

// replyScanLimit bounds how many recent messages are searched for the
// latest assistant reply.
const replyScanLimit = 20

// Config configures an OpenAI-backed Client.
type Config struct {
	APIKey      string
	AssistantID string
	BaseURL     string // empty for the public endpoint
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Client drives the OpenAI Assistants API for a single assistant.
type Client struct {
	api         *openai.Client
	assistantID string
	logger      *slog.Logger
}

// NewClient builds a Client. The assistant id is bound at construction.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "assistant")

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(timeout), httpkit.WithLogger(logger))

	return &Client{
		api:         openai.NewClientWithConfig(oc),
		assistantID: cfg.AssistantID,
		logger:      logger,
	}
}

// AssistantID returns the bound assistant id.
func (c *Client) AssistantID() string {
	return c.assistantID
}

// CreateThread allocates a new remote thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	th, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	c.logger.Debug("thread created", "thread_id", th.ID)
	return th.ID, nil
}

// AddMessage appends a user-role message to the thread.
func (c *Client) AddMessage(ctx context.Context, threadID, content string) error {
	c.logger.Log(ctx, config.LevelTrace, "adding message", "thread_id", threadID, "content", content)
	_, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("add message to %s: %w", threadID, err)
	}
	return nil
}

// CreateRun starts the bound assistant on the thread.
func (c *Client) CreateRun(ctx context.Context, threadID string) (Run, error) {
	r, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: c.assistantID})
	if err != nil {
		return Run{}, fmt.Errorf("create run on %s: %w", threadID, err)
	}
	return convertRun(r), nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	r, err := c.api.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return Run{}, fmt.Errorf("retrieve run %s: %w", runID, err)
	}
	return convertRun(r), nil
}

// SubmitToolOutputs sends one batch of outputs for a run.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) (Run, error) {
	req := openai.SubmitToolOutputsRequest{
		ToolOutputs: make([]openai.ToolOutput, 0, len(outputs)),
	}
	for _, o := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, openai.ToolOutput{
			ToolCallID: o.CallID,
			Output:     o.Output,
		})
	}
	r, err := c.api.SubmitToolOutputs(ctx, threadID, runID, req)
	if err != nil {
		return Run{}, fmt.Errorf("submit tool outputs for %s: %w", runID, err)
	}
	return convertRun(r), nil
}

// LatestReply returns the text of the newest assistant message.
func (c *Client) LatestReply(ctx context.Context, threadID string) (string, error) {
	limit := replyScanLimit
	order := "desc"
	list, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("list messages on %s: %w", threadID, err)
	}

	for _, m := range list.Messages {
		if m.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		for _, part := range m.Content {
			if part.Text != nil {
				return part.Text.Value, nil
			}
		}
		// Newest assistant message had no text block.
		return "", nil
	}
	return "", nil
}

func convertRun(r openai.Run) Run {
	out := Run{
		ID:     r.ID,
		Status: RunStatus(r.Status),
	}
	if r.LastError != nil {
		out.LastError = r.LastError.Message
	}
	if ra := r.RequiredAction; ra != nil && string(ra.Type) == "submit_tool_outputs" && ra.SubmitToolOutputs != nil {
		out.NeedsToolOutputs = true
		for _, tc := range ra.SubmitToolOutputs.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return out
}

var _ Provider = (*Client)(nil)
