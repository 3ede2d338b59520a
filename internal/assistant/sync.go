package assistant

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/nugget/penny/internal/tools"
)

// RemoteTool summarizes a tool registered on the remote assistant.
type RemoteTool struct {
	Type        string
	Name        string
	Description string
}

// ListTools returns the tools currently registered on the assistant.
func (c *Client) ListTools(ctx context.Context) ([]RemoteTool, error) {
	a, err := c.api.RetrieveAssistant(ctx, c.assistantID)
	if err != nil {
		return nil, fmt.Errorf("retrieve assistant %s: %w", c.assistantID, err)
	}

	out := make([]RemoteTool, 0, len(a.Tools))
	for _, t := range a.Tools {
		rt := RemoteTool{Type: string(t.Type)}
		if t.Function != nil {
			rt.Name = t.Function.Name
			rt.Description = t.Function.Description
		}
		out = append(out, rt)
	}
	return out, nil
}

// SyncTools replaces the assistant's tool list with defs, keeping its
// model unchanged. It returns the number of tools now registered.
func (c *Client) SyncTools(ctx context.Context, defs []tools.Definition) (int, error) {
	current, err := c.api.RetrieveAssistant(ctx, c.assistantID)
	if err != nil {
		return 0, fmt.Errorf("retrieve assistant %s: %w", c.assistantID, err)
	}

	req := openai.AssistantRequest{
		Model: current.Model,
		Tools: make([]openai.AssistantTool, 0, len(defs)),
	}
	for _, d := range defs {
		req.Tools = append(req.Tools, openai.AssistantTool{
			Type: openai.AssistantToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}

	updated, err := c.api.ModifyAssistant(ctx, c.assistantID, req)
	if err != nil {
		return 0, fmt.Errorf("update assistant tools: %w", err)
	}
	c.logger.Info("assistant tools synced", "assistant_id", c.assistantID, "tools", len(updated.Tools))
	return len(updated.Tools), nil
}
