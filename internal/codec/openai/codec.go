// Package openai converts between the Anthropic-style Messages protocol and
// the OpenAI-style chat completions protocol: request translation on the way
// to the backend, response and stream translation on the way back.
package openai

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	anthropicapi "github.com/compatbridge/messages-gateway/internal/api/anthropic"
	openaiapi "github.com/compatbridge/messages-gateway/internal/api/openai"
)

// compatPreamble is injected before the client's own system prompt. Prompts
// tuned for Claude can push other models into asking for clarification
// instead of invoking the available tools; the preamble overrides that
// tendency. It always precedes the user-supplied system text.
const compatPreamble = "You are a capable AI coding assistant. " +
	"You have access to tools such as Bash (for running shell commands), " +
	"Read/Write/Edit (for file operations), and various MCP tools. " +
	"IMPORTANT: Always complete the requested task by calling the available tools " +
	"directly. Do NOT ask for clarification or additional information – proceed " +
	"immediately using the tools provided. " +
	"If a task requires reading a file, call the Read tool. " +
	"If a task requires running a command, call the Bash tool. " +
	"If a task requires creating features, call the MCP feature tools. " +
	"Think step-by-step and use tools to accomplish every goal.\n\n"

// toolTemperatureCeiling caps the sampling temperature when tools are
// present. Lower temperature measurably improves tool-call reliability on
// backends without native tool training.
const toolTemperatureCeiling = 0.6

const defaultMaxTokens = 4096

// TranslateSystemPrompt flattens the system field to plain text: string
// passthrough, block lists joined by newline in order.
func TranslateSystemPrompt(system anthropicapi.SystemPrompt) string {
	return system.Text()
}

// TranslateMessages converts the block-structured message list to the flat
// backend form. A single inbound message may expand into multiple backend
// messages: leading text first, then one "tool"-role message per tool_result
// block, in original order.
func TranslateMessages(messages []anthropicapi.Message) []openaiapi.ChatCompletionMessage {
	out := make([]openaiapi.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		var textParts []string
		var toolCalls []openaiapi.ToolCall
		var toolResults []openaiapi.ChatCompletionMessage

		for _, block := range msg.Content {
			switch block.Type {
			case "text", "":
				textParts = append(textParts, block.Text)

			case "tool_use":
				id := block.ID
				if id == "" {
					id = newCallID()
				}
				toolCalls = append(toolCalls, openaiapi.ToolCall{
					ID:   id,
					Type: "function",
					Function: openaiapi.FunctionCall{
						Name:      block.Name,
						Arguments: rawInputJSON(block.Input),
					},
				})

			case "tool_result":
				result := block.Content.Flatten()
				toolResults = append(toolResults, openaiapi.ChatCompletionMessage{
					Role:       "tool",
					ToolCallID: block.ToolUseID,
					Content:    &result,
				})
			}
		}

		text := strings.Join(textParts, "\n")

		switch {
		case msg.Role == "assistant" && len(toolCalls) > 0:
			assistant := openaiapi.ChatCompletionMessage{
				Role:      "assistant",
				ToolCalls: toolCalls,
			}
			if len(textParts) > 0 {
				assistant.Content = &text
			}
			out = append(out, assistant)

		case len(toolResults) > 0:
			if len(textParts) > 0 && text != "" {
				out = append(out, openaiapi.ChatCompletionMessage{Role: msg.Role, Content: strptr(text)})
			}
			out = append(out, toolResults...)

		default:
			out = append(out, openaiapi.ChatCompletionMessage{Role: msg.Role, Content: strptr(text)})
		}
	}

	return out
}

// TranslateTools converts tool definitions to the backend function envelope.
// The schema payload is carried through opaquely.
func TranslateTools(tools []anthropicapi.Tool) []openaiapi.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openaiapi.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openaiapi.Tool{
			Type: "function",
			Function: openaiapi.FunctionTool{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return out
}

// TranslateToolChoice converts the tool-choice policy. The result is nil
// when the policy is absent or unrecognized.
func TranslateToolChoice(choice *anthropicapi.ToolChoice) any {
	if choice == nil {
		return nil
	}
	switch choice.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "tool":
		return openaiapi.NamedToolChoice{
			Type:     "function",
			Function: openaiapi.NamedToolTarget{Name: choice.Name},
		}
	}
	return nil
}

// TranslateFinishReason maps a backend finish reason to a stop reason.
// Unknown or absent reasons map to end_turn rather than passing through.
func TranslateFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "end_turn"
	default:
		return "end_turn"
	}
}

// BuildChatRequest assembles the backend request for a resolved model id.
// The compatibility preamble always precedes the translated system text, and
// the temperature is clamped when tools are present.
func BuildChatRequest(req *anthropicapi.MessagesRequest, model string) *openaiapi.ChatCompletionRequest {
	systemText := compatPreamble + TranslateSystemPrompt(req.System)
	messages := make([]openaiapi.ChatCompletionMessage, 0, len(req.Messages)+1)
	messages = append(messages, openaiapi.ChatCompletionMessage{Role: "system", Content: &systemText})
	messages = append(messages, TranslateMessages(req.Messages)...)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	temperature := 1.0
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	tools := TranslateTools(req.Tools)
	if len(tools) > 0 && temperature > toolTemperatureCeiling {
		temperature = toolTemperatureCeiling
	}

	chatReq := &openaiapi.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}

	if len(tools) > 0 {
		chatReq.Tools = tools
		chatReq.ToolChoice = TranslateToolChoice(req.ToolChoice)
		if chatReq.ToolChoice == nil {
			// Tools without an explicit policy still request tool use.
			chatReq.ToolChoice = "auto"
		}
	}

	return chatReq
}

// BuildMessagesResponse converts a complete backend response to the Messages
// API shape. Only the first choice is considered; a response with no choices
// yields empty content.
func BuildMessagesResponse(resp *openaiapi.ChatCompletionResponse, model string) *anthropicapi.MessagesResponse {
	content := make([]anthropicapi.ResponseContent, 0, 2)
	finishReason := ""

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		finishReason = choice.FinishReason

		if choice.Message.Content != nil && *choice.Message.Content != "" {
			content = append(content, anthropicapi.ResponseContent{
				Type: "text",
				Text: *choice.Message.Content,
			})
		}

		for _, tc := range choice.Message.ToolCalls {
			input := map[string]any{}
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				// Malformed arguments degrade to an empty input object
				// instead of failing the whole response.
				input = map[string]any{}
			}
			id := tc.ID
			if id == "" {
				id = NewToolUseID()
			}
			content = append(content, anthropicapi.ResponseContent{
				Type:  "tool_use",
				ID:    id,
				Name:  tc.Function.Name,
				Input: input,
			})
		}
	}

	var usage anthropicapi.Usage
	if resp.Usage != nil {
		usage.InputTokens = resp.Usage.PromptTokens
		usage.OutputTokens = resp.Usage.CompletionTokens
	}

	return &anthropicapi.MessagesResponse{
		ID:         NewMessageID(),
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: strptr(TranslateFinishReason(finishReason)),
		Usage:      usage,
	}
}

// NewMessageID generates a message id in the msg_ form.
func NewMessageID() string {
	return "msg_" + uuidHex(24)
}

// NewToolUseID generates a tool_use id in the toolu_ form.
func NewToolUseID() string {
	return "toolu_" + uuidHex(12)
}

func newCallID() string {
	return "call_" + uuidHex(8)
}

func uuidHex(n int) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:n]
}

func rawInputJSON(input json.RawMessage) string {
	if len(input) == 0 {
		return "{}"
	}
	return string(input)
}

func strptr(s string) *string {
	return &s
}
