package tokens

import (
	"encoding/json"
	"strings"
	"testing"

	anthropicapi "github.com/compatbridge/messages-gateway/internal/api/anthropic"
)

func requestFromJSON(t *testing.T, body string) *anthropicapi.MessagesRequest {
	t.Helper()
	var req anthropicapi.MessagesRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatal(err)
	}
	return &req
}

func TestEstimateText(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcdefgh", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := EstimateText(tc.text); got != tc.want {
			t.Errorf("EstimateText(%d chars) = %d, want %d", len(tc.text), got, tc.want)
		}
	}
}

func TestEstimateRequestMinimumOne(t *testing.T) {
	req := requestFromJSON(t, `{"model":"m","max_tokens":1,"messages":[{"role":"user","content":"hi"}]}`)
	if got := EstimateRequest(req); got != 1 {
		t.Errorf("estimate = %d, want 1", got)
	}
}

func TestEstimateRequestCountsSystem(t *testing.T) {
	req := requestFromJSON(t, `{"model":"m","max_tokens":1,"messages":[],"system":"abcd"}`)
	if got := EstimateRequest(req); got != 1 {
		t.Errorf("estimate = %d, want 1", got)
	}
}

func TestEstimateRequestMonotonic(t *testing.T) {
	small := requestFromJSON(t, `{"model":"m","max_tokens":1,
		"messages":[{"role":"user","content":"short question"}]}`)
	large := requestFromJSON(t, `{"model":"m","max_tokens":1,"system":"You are very helpful and thorough.",
		"messages":[
			{"role":"user","content":"short question"},
			{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"search",
				"input":{"query":"a much longer serialized tool input payload"}}]},
			{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1",
				"content":"a fairly long tool result body with several words"}]}
		]}`)

	if EstimateRequest(large) <= EstimateRequest(small) {
		t.Errorf("estimate not monotonic: large=%d small=%d",
			EstimateRequest(large), EstimateRequest(small))
	}
}

func TestEstimateRequestCountsToolUseInput(t *testing.T) {
	without := requestFromJSON(t, `{"model":"m","max_tokens":1,
		"messages":[{"role":"user","content":"hello there friend"}]}`)
	with := requestFromJSON(t, `{"model":"m","max_tokens":1,
		"messages":[
			{"role":"user","content":"hello there friend"},
			{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"search",
				"input":{"query":"a serialized tool input counted by JSON length"}}]}
		]}`)

	if EstimateRequest(with) <= EstimateRequest(without) {
		t.Errorf("tool_use input not counted: with=%d without=%d",
			EstimateRequest(with), EstimateRequest(without))
	}
}
