package openai

import (
	"strings"

	anthropicapi "github.com/compatbridge/messages-gateway/internal/api/anthropic"
	openaiapi "github.com/compatbridge/messages-gateway/internal/api/openai"
)

// previewLimit caps the diagnostic text preview captured during streaming.
const previewLimit = 300

// EmitFunc delivers one outbound lifecycle event. Implementations write the
// SSE frame; a returned error aborts the transcoding.
type EmitFunc func(event string, payload any) error

type blockKind int

const (
	blockNone blockKind = iota
	blockText
	blockTool
)

// toolCallState accumulates one backend tool call across chunks.
type toolCallState struct {
	id         string
	name       string
	args       strings.Builder
	blockIndex int
}

// Transcoder converts a live sequence of backend chunks into the Messages
// API event stream, maintaining the content-block state machine across the
// whole call. A Transcoder serves exactly one streaming call and is owned by
// the goroutine driving it; it is never shared.
//
// Invariants: block indices are assigned once and strictly increase; at most
// one block is open at a time; every opened block is closed exactly once;
// the stream always terminates with one message_delta followed by one
// message_stop, on every exit path.
type Transcoder struct {
	messageID string
	model     string
	emit      EmitFunc

	kind  blockKind
	index int
	tools map[int]*toolCallState

	outputTokens int
	stopReason   string
	done         bool

	preview   strings.Builder
	toolNames []string
}

// NewTranscoder creates a transcoder for one streaming call.
func NewTranscoder(model string, emit EmitFunc) *Transcoder {
	return &Transcoder{
		messageID: NewMessageID(),
		model:     model,
		emit:      emit,
		tools:     make(map[int]*toolCallState),
	}
}

// Start emits the protocol handshake: message_start with an empty message
// shell, then a ping. Neither has a backend analog.
func (t *Transcoder) Start() error {
	start := anthropicapi.MessageStartEvent{
		Type: "message_start",
		Message: anthropicapi.MessagesResponse{
			ID:      t.messageID,
			Type:    "message",
			Role:    "assistant",
			Content: []anthropicapi.ResponseContent{},
			Model:   t.model,
		},
	}
	if err := t.emit("message_start", start); err != nil {
		return err
	}
	return t.emit("ping", anthropicapi.PingEvent{Type: "ping"})
}

// Next processes one backend chunk in arrival order. It returns true once
// the terminal event pair has been emitted; no further chunks are consumed
// after that.
func (t *Transcoder) Next(chunk *openaiapi.ChatCompletionChunk) (bool, error) {
	if t.done || len(chunk.Choices) == 0 {
		return t.done, nil
	}

	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if err := t.textDelta(choice.Delta.Content); err != nil {
			return false, err
		}
	}

	for _, tc := range choice.Delta.ToolCalls {
		if err := t.toolDelta(tc); err != nil {
			return false, err
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		if err := t.finish(TranslateFinishReason(*choice.FinishReason)); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}

// Close terminates the stream if Next never saw a finish reason: the fault
// path and the silent-end path share it. The first block close and terminal
// pair win; calling Close after normal completion is a no-op.
func (t *Transcoder) Close() error {
	if t.done {
		return nil
	}
	// The true stop reason is unknown here; end_turn is the safe default.
	return t.finish("end_turn")
}

// MessageID returns the generated message id for this stream.
func (t *Transcoder) MessageID() string { return t.messageID }

// OutputTokens returns the running output-token estimate.
func (t *Transcoder) OutputTokens() int { return t.outputTokens }

// StopReason returns the emitted stop reason, empty until termination.
func (t *Transcoder) StopReason() string { return t.stopReason }

// Preview returns up to the first 300 characters of streamed text.
func (t *Transcoder) Preview() string {
	s := t.preview.String()
	if len(s) > previewLimit {
		return s[:previewLimit]
	}
	return s
}

// ToolNames returns the tool names seen when their blocks opened.
func (t *Transcoder) ToolNames() []string { return t.toolNames }

func (t *Transcoder) textDelta(text string) error {
	if t.kind != blockText {
		if err := t.closeForNewBlock(); err != nil {
			return err
		}
		t.kind = blockText
		if err := t.emit("content_block_start", anthropicapi.ContentBlockStartEvent{
			Type:         "content_block_start",
			Index:        t.index,
			ContentBlock: anthropicapi.ResponseContent{Type: "text", Text: ""},
		}); err != nil {
			return err
		}
	}

	if t.preview.Len() < previewLimit {
		t.preview.WriteString(text)
	}
	// One token per fragment is a deliberate rough approximation.
	t.outputTokens++

	return t.emit("content_block_delta", anthropicapi.ContentBlockDeltaEvent{
		Type:  "content_block_delta",
		Index: t.index,
		Delta: anthropicapi.BlockDelta{Type: "text_delta", Text: text},
	})
}

func (t *Transcoder) toolDelta(tc openaiapi.ToolCallChunk) error {
	acc, ok := t.tools[tc.Index]
	if !ok {
		if err := t.closeForNewBlock(); err != nil {
			return err
		}

		acc = &toolCallState{id: tc.ID, blockIndex: t.index}
		if acc.id == "" {
			acc.id = NewToolUseID()
		}
		if tc.Function != nil {
			acc.name = tc.Function.Name
		}
		t.tools[tc.Index] = acc
		t.kind = blockTool
		t.toolNames = append(t.toolNames, acc.name)

		if err := t.emit("content_block_start", anthropicapi.ContentBlockStartEvent{
			Type:  "content_block_start",
			Index: acc.blockIndex,
			ContentBlock: anthropicapi.ResponseContent{
				Type:  "tool_use",
				ID:    acc.id,
				Name:  acc.name,
				Input: map[string]any{},
			},
		}); err != nil {
			return err
		}
	}

	if tc.Function == nil {
		return nil
	}

	if tc.Function.Name != "" && acc.name == "" {
		acc.name = tc.Function.Name
	}

	if frag := tc.Function.Arguments; frag != "" {
		acc.args.WriteString(frag)
		// The event carries exactly this fragment, never the accumulated
		// total, tagged with the block the backend index was assigned.
		return t.emit("content_block_delta", anthropicapi.ContentBlockDeltaEvent{
			Type:  "content_block_delta",
			Index: acc.blockIndex,
			Delta: anthropicapi.BlockDelta{Type: "input_json_delta", PartialJSON: frag},
		})
	}

	return nil
}

// closeForNewBlock closes the open block, if any, and advances the index so
// the next block opens at a fresh one. Indices are never reused.
func (t *Transcoder) closeForNewBlock() error {
	if t.kind == blockNone {
		return nil
	}
	if err := t.emit("content_block_stop", anthropicapi.ContentBlockStopEvent{
		Type:  "content_block_stop",
		Index: t.index,
	}); err != nil {
		return err
	}
	t.kind = blockNone
	t.index++
	return nil
}

func (t *Transcoder) finish(stopReason string) error {
	if t.kind != blockNone {
		if err := t.emit("content_block_stop", anthropicapi.ContentBlockStopEvent{
			Type:  "content_block_stop",
			Index: t.index,
		}); err != nil {
			return err
		}
		t.kind = blockNone
	}

	t.stopReason = stopReason
	t.done = true

	if err := t.emit("message_delta", anthropicapi.MessageDeltaEvent{
		Type:  "message_delta",
		Delta: anthropicapi.MessageDelta{StopReason: stopReason},
		Usage: anthropicapi.DeltaUsage{OutputTokens: t.outputTokens},
	}); err != nil {
		return err
	}

	return t.emit("message_stop", anthropicapi.MessageStopEvent{Type: "message_stop"})
}
