// Package tools implements the tool-calling surface the AgentLoop exposes
// to the LLM: filesystem access scoped to a workspace, shell exec, web
// search/fetch, outbound messaging, bot delegation, room task management,
// routine scheduling, memory, and on-demand MCP server connections.
// Grounded on a prior implementation's internal/tools package, trimmed of
// its multi-tenant sandbox/skills machinery and rebuilt around this
// system's Room/Bot domain.
package tools

import (
	"context"

	"github.com/parleyhq/parley/internal/providers"
)

// Result is the unified return type from tool execution, kept from a
// prior internal/tools/result.go shape since it already separates what
// the LLM sees from what (if anything) a user-facing transcript shows.
type Result struct {
	ForLLM string
	ForUser string
	Silent bool
	IsError bool

	Usage *providers.Usage
	Provider string
	Model string
}

func NewResult(forLLM string) *Result { return &Result{ForLLM: forLLM} }
func SilentResult(forLLM string) *Result { return &Result{ForLLM: forLLM, Silent: true} }
func ErrorResult(message string) *Result { return &Result{ForLLM: message, IsError: true} }
func UserResult(content string) *Result { return &Result{ForLLM: content, ForUser: content} }

// Tool is one callable surface offered to the LLM.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// ProviderDefs converts a slice of Tools into the wire-format tool
// definitions a providers.ChatRequest carries.
func ProviderDefs(toolList []Tool) []providers.ToolDefinition {
	defs := make([]providers.ToolDefinition, 0, len(toolList))
	for _, t := range toolList {
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name: t.Name(),
				Description: t.Description(),
				Parameters: t.Parameters(),
			},
		})
	}
	return defs
}
