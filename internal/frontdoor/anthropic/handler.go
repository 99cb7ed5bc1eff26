// Package anthropic serves the Anthropic-style Messages API and forwards to
// an OpenAI-compatible backend, translating both directions.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	anthropicapi "github.com/compatbridge/messages-gateway/internal/api/anthropic"
	openaiapi "github.com/compatbridge/messages-gateway/internal/api/openai"
	backend "github.com/compatbridge/messages-gateway/internal/backend/openai"
	codec "github.com/compatbridge/messages-gateway/internal/codec/openai"
	"github.com/compatbridge/messages-gateway/internal/config"
	"github.com/compatbridge/messages-gateway/internal/domain"
	"github.com/compatbridge/messages-gateway/internal/server"
	"github.com/compatbridge/messages-gateway/internal/tokens"
	"github.com/compatbridge/messages-gateway/internal/usage"
)

const (
	defaultUsageLimit = 50
	maxUsageLimit     = 500
)

// chatClient is the slice of the backend client the handler needs. Tests
// substitute their own.
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req *openaiapi.ChatCompletionRequest) (*openaiapi.ChatCompletionResponse, error)
	StreamChatCompletion(ctx context.Context, req *openaiapi.ChatCompletionRequest) (<-chan backend.StreamResult, error)
}

type Handler struct {
	provider config.ProviderConfig
	store    *usage.Store
	client   chatClient
}

// NewHandler builds the frontdoor for one backend provider. The usage store
// may be nil, which disables accounting. While provider.BaseURL is empty the
// handler answers every message request with a configuration error.
func NewHandler(provider config.ProviderConfig, store *usage.Store) *Handler {
	h := &Handler{provider: provider, store: store}
	if provider.BaseURL != "" {
		h.client = backend.NewClient(provider.APIKey, backend.WithBaseURL(provider.BaseURL))
	}
	return h
}

// HandleMessages serves POST /v1/messages.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req anthropicapi.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrInvalidRequest(fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	model := req.Model
	if model == "" {
		model = h.provider.DefaultModel
	}
	server.AddLogField(r.Context(), "requested_model", req.Model)
	server.AddLogField(r.Context(), "model", model)
	server.AddLogField(r.Context(), "provider", h.provider.Name)
	server.AddLogField(r.Context(), "streaming", fmt.Sprintf("%t", req.Stream))

	if h.client == nil {
		h.writeError(w, r, domain.ErrConfiguration(
			fmt.Sprintf("provider %s has no base_url configured", h.provider.Name)))
		return
	}

	chatReq := codec.BuildChatRequest(&req, model)

	if req.Stream {
		h.streamMessages(w, r, &req, chatReq, model, start)
		return
	}

	resp, err := h.client.CreateChatCompletion(r.Context(), chatReq)
	if err != nil {
		apiErr := h.classifyBackendError(err)
		h.recordUsage(r.Context(), &usage.Record{
			Model: model, Streaming: false,
			Status: "error", DurationNS: int64(time.Since(start)),
		})
		h.writeError(w, r, apiErr)
		return
	}

	result := codec.BuildMessagesResponse(resp, model)
	h.logCompletion(r.Context(), result)
	h.recordUsage(r.Context(), &usage.Record{
		MessageID: result.ID, Model: model, Streaming: false,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		StopReason:   stringOrEmpty(result.StopReason),
		Status:       "ok",
		DurationNS:   int64(time.Since(start)),
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) streamMessages(w http.ResponseWriter, r *http.Request, req *anthropicapi.MessagesRequest, chatReq *openaiapi.ChatCompletionRequest, model string, start time.Time) {
	logger := slog.Default()
	requestID := server.GetRequestID(r.Context())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := h.client.StreamChatCompletion(ctx, chatReq)
	if err != nil {
		// The backend rejected the call before any event flowed, so a
		// regular HTTP error is still possible.
		apiErr := h.classifyBackendError(err)
		h.recordUsage(r.Context(), &usage.Record{
			Model: model, Streaming: true,
			Status: "error", DurationNS: int64(time.Since(start)),
		})
		h.writeError(w, r, apiErr)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, domain.ErrConfiguration("streaming not supported"))
		return
	}

	emit := func(event string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	tr := codec.NewTranscoder(model, emit)
	if err := tr.Start(); err != nil {
		server.AddError(r.Context(), err)
		cancel()
		drain(stream)
		return
	}

	status := "ok"
	for res := range stream {
		if res.Err != nil {
			// From here on errors are absorbed into the event stream: the
			// terminal pair below is the only signal the client gets.
			logger.Error("backend stream error",
				slog.String("request_id", requestID),
				slog.String("error", res.Err.Error()),
			)
			server.AddError(r.Context(), res.Err)
			status = "error"
			break
		}
		done, err := tr.Next(res.Chunk)
		if err != nil {
			server.AddError(r.Context(), err)
			status = "error"
			break
		}
		if done {
			break
		}
	}
	cancel()
	drain(stream)

	if err := tr.Close(); err != nil {
		server.AddError(r.Context(), err)
	}

	server.AddLogField(r.Context(), "stop_reason", tr.StopReason())
	server.AddLogField(r.Context(), "preview", tr.Preview())
	server.AddLogField(r.Context(), "tools_called", strings.Join(tr.ToolNames(), ","))

	h.recordUsage(r.Context(), &usage.Record{
		MessageID: tr.MessageID(), Model: model, Streaming: true,
		InputTokens:  tokens.EstimateRequest(req),
		OutputTokens: tr.OutputTokens(),
		StopReason:   tr.StopReason(),
		Status:       status,
		DurationNS:   int64(time.Since(start)),
	})
}

// HandleCountTokens serves POST /v1/messages/count_tokens with a heuristic
// estimate.
func (h *Handler) HandleCountTokens(w http.ResponseWriter, r *http.Request) {
	var req anthropicapi.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.ErrInvalidRequest(fmt.Sprintf("invalid request body: %v", err)))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(anthropicapi.CountTokensResponse{
		InputTokens: tokens.EstimateRequest(&req),
	})
}

// HandleRecentUsage serves GET /v1/usage: the most recent accounting
// records, newest first. Answers 500 when no usage store is configured.
func (h *Handler) HandleRecentUsage(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, r, domain.ErrConfiguration("usage accounting is not configured"))
		return
	}

	limit := defaultUsageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, r, domain.ErrInvalidRequest(fmt.Sprintf("invalid limit: %q", raw)))
			return
		}
		if n > maxUsageLimit {
			n = maxUsageLimit
		}
		limit = n
	}

	records, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, domain.ErrBackend(fmt.Sprintf("failed to list usage records: %v", err)))
		return
	}
	if records == nil {
		records = []*usage.Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"data": records})
}

// HandleHealth serves GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":   "ok",
		"provider": h.provider.Name,
	})
}

// classifyBackendError maps a backend failure to the gateway taxonomy and
// rewrites authentication failures to a stable client-facing message that
// never leaks the raw backend response.
func (h *Handler) classifyBackendError(err error) *domain.APIError {
	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		apiErr = domain.ErrBackend(err.Error())
	}

	if apiErr.Type == domain.ErrorTypeAuthentication || strings.Contains(apiErr.Message, "401") {
		return domain.ErrAuthentication(
			fmt.Sprintf("Authentication failed with %s. Check your API key.", h.provider.Name))
	}
	return apiErr
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, apiErr *domain.APIError) {
	server.AddError(r.Context(), apiErr)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatusCode())
	json.NewEncoder(w).Encode(anthropicapi.ErrorResponse{
		Type: "error",
		Error: &anthropicapi.APIError{
			Type:    string(apiErr.Type),
			Message: apiErr.Message,
		},
	})
}

func (h *Handler) logCompletion(ctx context.Context, resp *anthropicapi.MessagesResponse) {
	var preview strings.Builder
	var toolNames []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if preview.Len() < 300 {
				preview.WriteString(block.Text)
			}
		case "tool_use":
			toolNames = append(toolNames, block.Name)
		}
	}

	text := preview.String()
	if len(text) > 300 {
		text = text[:300]
	}
	server.AddLogField(ctx, "stop_reason", stringOrEmpty(resp.StopReason))
	server.AddLogField(ctx, "preview", text)
	server.AddLogField(ctx, "tools_called", strings.Join(toolNames, ","))
}

// recordUsage is best-effort: accounting failures are logged, never
// surfaced.
func (h *Handler) recordUsage(ctx context.Context, rec *usage.Record) {
	if h.store == nil {
		return
	}
	rec.Provider = h.provider.Name
	if err := h.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		slog.Default().Warn("failed to record usage",
			slog.String("request_id", server.GetRequestID(ctx)),
			slog.String("error", err.Error()),
		)
	}
}

func drain(stream <-chan backend.StreamResult) {
	for range stream {
	}
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
