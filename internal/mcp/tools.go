package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

const (
	toolNavigate   = "browser_navigate"
	toolResolve    = "element_resolve"
	toolAct        = "element_act"
	toolScreenshot = "page_screenshot"
)

var candidatesSchema = map[string]any{
	"type":        "array",
	"description": "Selectors to try in order. CSS by default; XPath when starting with / or ( or xpath=; text=... matches visible text.",
	"items":       map[string]any{"type": "string"},
	"minItems":    1,
}

// ToolDefinitions returns the browser tool definitions.
func ToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        toolNavigate,
			Description: "Browser tool. Load a page. Pass 'path' as an absolute URL or a path relative to the configured base URL. Returns the URL the browser ended up on, after redirects.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Absolute URL or path such as /login",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        toolResolve,
			Description: "Browser tool. Find the first candidate selector that matches an element on the current page, without touching it. Candidates are tried in order, each with its own timeout. Returns the matched selector and every attempt, so you can see which fallbacks missed and why.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label": map[string]any{
						"type":        "string",
						"description": "Human name for the element, used in logs and results",
					},
					"candidates": candidatesSchema,
					"visible": map[string]any{
						"type":        "boolean",
						"description": "Require the element to be visible (default true)",
					},
					"timeout_ms": map[string]any{
						"type":        "integer",
						"description": "Per-candidate timeout in milliseconds",
						"minimum":     1,
					},
				},
				"required": []string{"candidates"},
			},
		},
		{
			Name:        toolAct,
			Description: "Browser tool. Resolve an element from ordered candidate selectors and act on it: click, fill, type, hover or wait-visible. Fill and type read the value back and escalate from a direct set to keystrokes, then to keystrokes after 'prefix', until 'verify' passes. policy=optional turns a failure into a skipped step instead of an error. Returns the outcome with the matched selector, the strategy that committed, and every attempt.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label":      map[string]any{"type": "string", "description": "Human name for the element"},
					"candidates": candidatesSchema,
					"action": map[string]any{
						"type": "string",
						"enum": []string{"click", "fill", "type", "hover", "wait-visible"},
					},
					"value": map[string]any{
						"type":        "string",
						"description": "Text to enter for fill and type",
					},
					"verify": map[string]any{
						"type":        "string",
						"description": "exact (default), non-empty, min-length:N or none",
					},
					"prefix": map[string]any{
						"type":        "string",
						"description": "Typed before the value on the last escalation step, for inputs that mask or reformat text",
					},
					"policy": map[string]any{
						"type": "string",
						"enum": []string{"required", "optional"},
					},
					"timeout_ms": map[string]any{
						"type":        "integer",
						"description": "Per-candidate timeout in milliseconds",
						"minimum":     1,
					},
				},
				"required": []string{"candidates", "action"},
			},
		},
		{
			Name:        toolScreenshot,
			Description: "Browser tool. Capture the current page into the artifacts directory under a numbered file name. PNG captures are also returned inline as an image.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{
						"type":        "string",
						"description": "Short name used in the file name",
					},
				},
				"required": []string{"name"},
			},
		},
	}
}
