package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const selectorWorkflowPromptName = "selector_workflow"

const selectorWorkflowText = `You drive a browser through resilient element lookups.
Every element is addressed by an ordered list of candidate selectors, most specific first:
a stable id or data-testid, then a name or type attribute, then visible text (text=Save).
Use element_resolve to check which candidate matches before acting.
Use element_act for clicks and input. For fill and type the tool reads the value back and
escalates from a direct set to keystrokes on its own; set verify to non-empty or min-length:N
for fields that reformat input, and prefix for fields that expect a leading country code.
Mark steps that may legitimately be absent, such as a remember-me checkbox, with policy optional.
When a step fails, read the attempts list: it names every candidate tried and why it missed.`

func registerPrompts(mcpServer *mcp.Server) {
	for _, prompt := range PromptDefinitions() {
		mcpServer.AddPrompt(prompt, promptHandler)
	}
}

// PromptDefinitions returns the MCP prompt definitions.
func PromptDefinitions() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        selectorWorkflowPromptName,
			Title:       "Resilient selector workflow",
			Description: "How to write candidate lists and read attempt reports.",
		},
	}
}

func promptHandler(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "How to write candidate lists and read attempt reports.",
		Messages: []*mcp.PromptMessage{
			{
				Role:    mcp.Role("user"),
				Content: &mcp.TextContent{Text: selectorWorkflowText},
			},
		},
	}, nil
}
