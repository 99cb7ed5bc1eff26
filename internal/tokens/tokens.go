// Package tokens estimates token counts without a model tokenizer. The
// estimate is a character-based heuristic, good enough for quota displays
// and usage accounting, not for billing reconciliation.
package tokens

import (
	anthropicapi "github.com/compatbridge/messages-gateway/internal/api/anthropic"
)

// charsPerToken is the rough average for English prose on current BPE
// vocabularies.
const charsPerToken = 4

// EstimateText returns the estimated token count for a text fragment.
// Non-empty text always counts as at least one token.
func EstimateText(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / charsPerToken
	if n < 1 {
		return 1
	}
	return n
}

// EstimateRequest estimates the input token count of a full request: the
// flattened system prompt plus, for every message, its text blocks and the
// JSON-serialized length of every tool-use input.
func EstimateRequest(req *anthropicapi.MessagesRequest) int {
	chars := len(req.System.Text())

	for _, msg := range req.Messages {
		for _, block := range msg.Content {
			switch block.Type {
			case "text", "":
				chars += len(block.Text)
			case "tool_use":
				chars += len(block.Input)
			}
		}
	}

	n := chars / charsPerToken
	if n < 1 {
		return 1
	}
	return n
}
