// Package anthropic provides the wire types for the Anthropic-style Messages
// API that the gateway exposes to inbound clients. The union-shaped fields
// (system prompt, message content, tool result content) decode both the
// string shortcut and the block-list form.
package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessagesRequest represents an inbound Messages API request.
type MessagesRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	MaxTokens   int          `json:"max_tokens"`
	System      SystemPrompt `json:"system,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
	TopP        *float64     `json:"top_p,omitempty"`
	Stream      bool         `json:"stream,omitempty"`
	Tools       []Tool       `json:"tools,omitempty"`
	ToolChoice  *ToolChoice  `json:"tool_choice,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string        `json:"role"`
	Content ContentBlocks `json:"content"`
}

// ContentBlocks is the content of a message: either a plain string or an
// ordered list of typed blocks. The string form decodes to a single text
// block so converters only have to handle one shape.
type ContentBlocks []ContentPart

// UnmarshalJSON accepts both the string shortcut and the block-list form.
func (c *ContentBlocks) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*c = ContentBlocks{{Type: "text", Text: str}}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content must be a string or array of content blocks: %w", err)
	}
	*c = parts
	return nil
}

// ContentPart is a single typed content block.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use blocks
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result blocks
	ToolUseID string        `json:"tool_use_id,omitempty"`
	Content   ResultContent `json:"content,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`
}

// ResultContent is the payload of a tool_result block: a plain string or a
// list of result blocks. Flatten reduces either form to text.
type ResultContent struct {
	raw    string
	blocks []resultBlock
	isList bool
}

type resultBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// UnmarshalJSON accepts a string, a block list (elements may be typed text
// blocks or bare strings), or any other JSON value coerced to its textual
// form.
func (rc *ResultContent) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		rc.raw = str
		return nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err == nil {
		rc.isList = true
		rc.blocks = make([]resultBlock, 0, len(elems))
		for _, e := range elems {
			var es string
			if err := json.Unmarshal(e, &es); err == nil {
				rc.blocks = append(rc.blocks, resultBlock{Type: "text", Text: es})
				continue
			}
			var b resultBlock
			if err := json.Unmarshal(e, &b); err != nil {
				return fmt.Errorf("tool result block: %w", err)
			}
			rc.blocks = append(rc.blocks, b)
		}
		return nil
	}

	rc.raw = string(data)
	return nil
}

// ResultContentFromString wraps a plain string result.
func ResultContentFromString(s string) ResultContent {
	return ResultContent{raw: s}
}

// MarshalJSON re-encodes the original shape.
func (rc ResultContent) MarshalJSON() ([]byte, error) {
	if rc.isList {
		return json.Marshal(rc.blocks)
	}
	return json.Marshal(rc.raw)
}

// Flatten returns the textual form of the result: the string itself, or the
// newline-join of the text-typed blocks in order.
func (rc ResultContent) Flatten() string {
	if !rc.isList {
		return rc.raw
	}
	parts := make([]string, 0, len(rc.blocks))
	for _, b := range rc.blocks {
		if b.Type != "text" {
			continue
		}
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n")
}

// SystemPrompt is the system field: a plain string or an ordered list of
// text blocks.
type SystemPrompt []SystemBlock

// SystemBlock is one element of a block-form system prompt. Elements may be
// objects with a type, or bare strings.
type SystemBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// UnmarshalJSON accepts a string, an array of blocks (with bare-string
// elements allowed), or any other JSON value coerced to text.
func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = SystemPrompt{{Type: "text", Text: str}}
		return nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err == nil {
		blocks := make(SystemPrompt, 0, len(elems))
		for _, e := range elems {
			var es string
			if err := json.Unmarshal(e, &es); err == nil {
				blocks = append(blocks, SystemBlock{Type: "text", Text: es})
				continue
			}
			var b SystemBlock
			if err := json.Unmarshal(e, &b); err != nil {
				return fmt.Errorf("system block: %w", err)
			}
			blocks = append(blocks, b)
		}
		*s = blocks
		return nil
	}

	// Unknown shape: coerce to its JSON text.
	*s = SystemPrompt{{Type: "text", Text: string(data)}}
	return nil
}

// Text returns the newline-join of the text blocks, in order.
func (s SystemPrompt) Text() string {
	parts := make([]string, 0, len(s))
	for _, b := range s {
		if b.Type != "" && b.Type != "text" {
			continue
		}
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, "\n")
}

// Tool is a tool definition exposed to the model.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

// ToolChoice controls how the model should use tools.
type ToolChoice struct {
	Type string `json:"type"` // "auto", "any", "tool"
	Name string `json:"name,omitempty"`
}

// MessagesResponse is a complete (non-streaming) Messages API response. It
// also serves as the empty message shell inside message_start events, where
// the stop reason is still null.
type MessagesResponse struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Role         string            `json:"role"`
	Content      []ResponseContent `json:"content"`
	Model        string            `json:"model"`
	StopReason   *string           `json:"stop_reason"`
	StopSequence *string           `json:"stop_sequence"`
	Usage        Usage             `json:"usage"`
}

// ResponseContent is one output content block: a text run or a tool_use
// carrying a parsed input object.
type ResponseContent struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

// Usage carries the token counts of a response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CountTokensResponse is the reply of the count_tokens endpoint.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// Streaming event payloads. Each is framed on the wire as
// "event: <name>\ndata: <json>\n\n".

// MessageStartEvent opens the stream with an empty message shell.
type MessageStartEvent struct {
	Type    string           `json:"type"`
	Message MessagesResponse `json:"message"`
}

// PingEvent is a protocol keep-alive.
type PingEvent struct {
	Type string `json:"type"`
}

// ContentBlockStartEvent opens a content block at an index.
type ContentBlockStartEvent struct {
	Type         string          `json:"type"`
	Index        int             `json:"index"`
	ContentBlock ResponseContent `json:"content_block"`
}

// ContentBlockDeltaEvent carries an incremental payload for an open block.
type ContentBlockDeltaEvent struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

// BlockDelta is a text fragment or a partial tool-input JSON fragment.
type BlockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// ContentBlockStopEvent closes the block at an index.
type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaEvent carries the final stop reason and running usage.
type MessageDeltaEvent struct {
	Type  string       `json:"type"`
	Delta MessageDelta `json:"delta"`
	Usage DeltaUsage   `json:"usage"`
}

// MessageDelta is the terminal message-level update.
type MessageDelta struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// DeltaUsage reports output tokens in message_delta events.
type DeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// MessageStopEvent terminates the stream.
type MessageStopEvent struct {
	Type string `json:"type"`
}

// ErrorResponse is the Anthropic-style error envelope.
type ErrorResponse struct {
	Type  string    `json:"type"`
	Error *APIError `json:"error"`
}

// APIError carries the wire-level error type and message.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}
