package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	openaiapi "github.com/compatbridge/messages-gateway/internal/api/openai"
	"github.com/compatbridge/messages-gateway/internal/domain"
)

func jsonDecode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func chatRequest() *openaiapi.ChatCompletionRequest {
	content := "hi"
	return &openaiapi.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []openaiapi.ChatCompletionMessage{{Role: "user", Content: &content}},
	}
}

func TestCreateChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`)
	}))
	defer server.Close()

	client := NewClient("sk-test", WithBaseURL(server.URL))
	resp, err := client.CreateChatCompletion(context.Background(), chatRequest())
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].FinishReason != "stop" {
		t.Errorf("choices = %+v", resp.Choices)
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCreateChatCompletionAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
	}))
	defer server.Close()

	client := NewClient("sk-bad", WithBaseURL(server.URL))
	_, err := client.CreateChatCompletion(context.Background(), chatRequest())
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T", err)
	}
	if apiErr.Type != domain.ErrorTypeAuthentication {
		t.Errorf("error classified as %q, want authentication", apiErr.Type)
	}
}

func TestCreateChatCompletionBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `not json at all`)
	}))
	defer server.Close()

	client := NewClient("sk-test", WithBaseURL(server.URL))
	_, err := client.CreateChatCompletion(context.Background(), chatRequest())

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v", err)
	}
	if apiErr.Type != domain.ErrorTypeBackend {
		t.Errorf("error classified as %q, want backend", apiErr.Type)
	}
}

func TestStreamChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"},"finish_reason":null}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"content":" there"},"finish_reason":null}]}`+"\n\n")
		fmt.Fprint(w, `data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient("sk-test", WithBaseURL(server.URL))
	stream, err := client.StreamChatCompletion(context.Background(), chatRequest())
	if err != nil {
		t.Fatal(err)
	}

	var texts []string
	var finish string
	for res := range stream {
		if res.Err != nil {
			t.Fatal(res.Err)
		}
		if len(res.Chunk.Choices) == 0 {
			continue
		}
		choice := res.Chunk.Choices[0]
		if choice.Delta.Content != "" {
			texts = append(texts, choice.Delta.Content)
		}
		if choice.FinishReason != nil {
			finish = *choice.FinishReason
		}
	}

	if len(texts) != 2 || texts[0] != "Hi" || texts[1] != " there" {
		t.Errorf("texts = %v", texts)
	}
	if finish != "stop" {
		t.Errorf("finish = %q", finish)
	}
}

func TestStreamChatCompletionOutlivesRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"},"finish_reason":null}]}`+"\n\n")
		w.(http.Flusher).Flush()
		time.Sleep(150 * time.Millisecond)
		fmt.Fprint(w, `data: {"id":"chatcmpl-1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient("sk-test", WithBaseURL(server.URL), WithRequestTimeout(20*time.Millisecond))
	stream, err := client.StreamChatCompletion(context.Background(), chatRequest())
	if err != nil {
		t.Fatal(err)
	}

	var finish string
	for res := range stream {
		if res.Err != nil {
			t.Fatalf("stream severed: %v", res.Err)
		}
		if len(res.Chunk.Choices) > 0 && res.Chunk.Choices[0].FinishReason != nil {
			finish = *res.Chunk.Choices[0].FinishReason
		}
	}
	if finish != "stop" {
		t.Errorf("finish = %q, want stop after stream outlived the request timeout", finish)
	}
}

func TestCreateChatCompletionRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		fmt.Fprint(w, `{"id":"chatcmpl-1","choices":[]}`)
	}))
	defer server.Close()

	client := NewClient("sk-test", WithBaseURL(server.URL), WithRequestTimeout(20*time.Millisecond))
	_, err := client.CreateChatCompletion(context.Background(), chatRequest())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestStreamChatCompletionErrorBeforeStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"authentication_error"}}`)
	}))
	defer server.Close()

	client := NewClient("sk-bad", WithBaseURL(server.URL))
	_, err := client.StreamChatCompletion(context.Background(), chatRequest())
	if err == nil {
		t.Fatal("expected error before stream")
	}

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T", err)
	}
	if apiErr.Type != domain.ErrorTypeAuthentication {
		t.Errorf("error classified as %q", apiErr.Type)
	}
}

func TestStreamChatCompletionSetsIncludeUsage(t *testing.T) {
	var sawIncludeUsage bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiapi.ChatCompletionRequest
		if err := jsonDecode(r, &req); err != nil {
			t.Error(err)
		}
		sawIncludeUsage = req.Stream && req.StreamOptions != nil && req.StreamOptions.IncludeUsage
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient("sk-test", WithBaseURL(server.URL))
	stream, err := client.StreamChatCompletion(context.Background(), chatRequest())
	if err != nil {
		t.Fatal(err)
	}
	for range stream {
	}
	if !sawIncludeUsage {
		t.Error("stream_options.include_usage not set")
	}
}

func TestStreamChatCompletionMalformedChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {broken\n\n")
	}))
	defer server.Close()

	client := NewClient("sk-test", WithBaseURL(server.URL))
	stream, err := client.StreamChatCompletion(context.Background(), chatRequest())
	if err != nil {
		t.Fatal(err)
	}

	var streamErr error
	for res := range stream {
		if res.Err != nil {
			streamErr = res.Err
		}
	}
	if streamErr == nil {
		t.Error("malformed chunk did not surface an error")
	}
}
