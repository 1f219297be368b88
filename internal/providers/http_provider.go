package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// KeyResolver resolves a symbolic reference ("{{openrouter_key}}") to a
// concrete credential, scoped to a single call. Implemented by
// internal/secrets.KeyVault; kept as a narrow interface here so this package
// never imports the vault directly.
type KeyResolver func(ref string) (string, error)

// HTTPProvider is a uniform chat()/stream_chat() adapter over many HTTP LLM
// backends that expose an OpenAI-compatible chat-completions wire format.
// Grounded on a prior net/http-based provider clients (no vendor SDK):
// the core owns request shaping and registry-driven prefixing; the wire
// format itself is treated as an external contract.
type HTTPProvider struct {
	registry *Registry
	resolveKey KeyResolver
	httpClient *http.Client
	defaultModel string
}

// NewHTTPProvider builds an adapter bound to a provider registry and a key
// resolver. The resolver is called once per request, immediately before the
// request is issued, and the resolved value is never retained afterward.
func NewHTTPProvider(registry *Registry, resolveKey KeyResolver, defaultModel string) *HTTPProvider {
	return &HTTPProvider{
		registry: registry,
		resolveKey: resolveKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		defaultModel: defaultModel,
	}
}

func (p *HTTPProvider) Name() string { return "http" }
func (p *HTTPProvider) DefaultModel() string { return p.defaultModel }

type wireMessage struct {
	Role string `json:"role"`
	Content string `json:"content,omitempty"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID string `json:"id"`
	Type string `json:"type"`
	Function struct {
		Name string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireRequest struct {
	Model string `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools []ToolDefinition `json:"tools,omitempty"`
	Stream bool `json:"stream,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens *int `json:"max_tokens,omitempty"`
}

type wireChoice struct {
	Message wireMessage `json:"message"`
	Delta wireMessage `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type wireResponse struct {
	Choices []wireChoice `json:"choices"`
	Usage *Usage `json:"usage"`
}

func toWireMessages(msgs []Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Arguments)
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out = append(out, wm)
	}
	return out
}

func fromWireMessage(wm wireMessage) (string, []ToolCall) {
	var calls []ToolCall
	for _, wtc := range wm.ToolCalls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(wtc.Function.Arguments), &args)
		calls = append(calls, ToolCall{ID: wtc.ID, Name: wtc.Function.Name, Arguments: args})
	}
	return wm.Content, calls
}

func (p *HTTPProvider) buildRequest(req ChatRequest) (RegistryEntry, wireRequest, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	entry, err := p.registry.Resolve(model)
	if err != nil {
		return RegistryEntry{}, wireRequest{}, err
	}
	entry.ApplyOverrides(&req)

	wr := wireRequest{
		Model: entry.WireModel(model),
		Messages: toWireMessages(req.Messages),
		Tools: req.Tools,
	}
	if t, ok := req.Options["temperature"].(float64); ok {
		wr.Temperature = &t
	}
	if mt, ok := req.Options["max_tokens"].(int); ok {
		wr.MaxTokens = &mt
	}
	return entry, wr, nil
}

func (p *HTTPProvider) doRequest(ctx context.Context, entry RegistryEntry, wr wireRequest) (*http.Request, error) {
	body, err := json.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("providers: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(entry.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if p.resolveKey != nil && entry.KeyRef != "" {
		secret, err := p.resolveKey(entry.KeyRef)
		if err != nil {
			return nil, fmt.Errorf("providers: resolve key %s: %w", entry.KeyRef, err)
		}
		header := entry.AuthHeader
		if header == "" {
			header = "Authorization"
		}
		scheme := entry.AuthScheme
		if scheme == "" && header == "Authorization" {
			scheme = "Bearer "
		}
		httpReq.Header.Set(header, scheme+secret)
		secret = "" // scrub local copy immediately after use
	}
	return httpReq, nil
}

// Chat issues a single non-streaming completion request.
func (p *HTTPProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	entry, wr, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	wr.Stream = false

	httpReq, err := p.doRequest(ctx, entry, wr)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("providers: transport error calling %s: %w", entry.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("providers: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("providers: %s returned HTTP %d: %s", entry.Name, resp.StatusCode, truncateForError(raw))
	}

	var wresp wireResponse
	if err := json.Unmarshal(raw, &wresp); err != nil {
		return nil, fmt.Errorf("providers: decode response: %w", err)
	}
	if len(wresp.Choices) == 0 {
		return &ChatResponse{FinishReason: "stop"}, nil
	}
	content, calls := fromWireMessage(wresp.Choices[0].Message)
	finish := wresp.Choices[0].FinishReason
	if finish == "" {
		finish = "stop"
	}
	if len(calls) > 0 {
		finish = "tool_calls"
	}
	return &ChatResponse{Content: content, ToolCalls: calls, FinishReason: finish, Usage: wresp.Usage}, nil
}

// ChatStream issues a streaming completion request over SSE-style
// "data: {json}\n\n" chunks. Intermediate chunks are surfaced via onChunk for
// side-effectful UI updates; only the accumulated final response is reasoned
// about by the caller for tool calls.
func (p *HTTPProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	entry, wr, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}
	wr.Stream = true

	httpReq, err := p.doRequest(ctx, entry, wr)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("providers: transport error calling %s: %w", entry.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("providers: %s returned HTTP %d: %s", entry.Name, resp.StatusCode, truncateForError(raw))
	}

	var content strings.Builder
	var calls []ToolCall
	finish := "stop"
	var usage *Usage

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}
		var chunk wireResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			onChunk(StreamChunk{Content: delta.Content})
		}
		for _, wtc := range delta.ToolCalls {
			if wtc.Function.Name != "" {
				var args map[string]interface{}
				_ = json.Unmarshal([]byte(wtc.Function.Arguments), &args)
				calls = append(calls, ToolCall{ID: wtc.ID, Name: wtc.Function.Name, Arguments: args})
			}
		}
		if chunk.Choices[0].FinishReason != "" {
			finish = chunk.Choices[0].FinishReason
		}
	}
	onChunk(StreamChunk{Done: true})

	if len(calls) > 0 {
		finish = "tool_calls"
	}
	return &ChatResponse{Content: content.String(), ToolCalls: calls, FinishReason: finish, Usage: usage}, nil
}

func truncateForError(raw []byte) string {
	s := string(raw)
	if len(s) > 300 {
		return s[:300] + "..."
	}
	return s
}
