// Package api serves the webhook intake and the inbox read endpoints.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"inbox/cmd/internal/inbox"
)

const (
	defaultMaxBodyBytes = 1 << 20 // 1 MiB

	webhookAcceptedMessage     = "Mensaje recibido y procesado"
	conversationDeletedMessage = "Conversación eliminada"
)

// Ingester is the write side used by POST /webhook.
type Ingester interface {
	Ingest(ctx context.Context, in inbox.InboundMessage) (inbox.Message, error)
}

// Queries is the read side used by the conversation and message endpoints.
type Queries interface {
	ListConversations(ctx context.Context) ([]inbox.Conversation, error)
	GetMessages(ctx context.Context, contact string, limit int) ([]inbox.Message, error)
	DeleteThread(ctx context.Context, contact string) (int64, error)
}

// Config controls request limits.
type Config struct {
	MaxBodyBytes int64
}

// Handler wires HTTP endpoints to the ingestion pipeline and the query service.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	ingest  Ingester
	queries Queries
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, ingest Ingester, queries Queries) (*Handler, error) {
	if ingest == nil {
		return nil, errors.New("api: nil ingester")
	}
	if queries == nil {
		return nil, errors.New("api: nil queries")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{log: log, cfg: cfg, ingest: ingest, queries: queries}, nil
}

// Register wires the inbox routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /webhook", h.handleWebhook)
	mux.HandleFunc("GET /conversations", h.handleListConversations)
	mux.HandleFunc("DELETE /conversations/{phone}", h.handleDeleteConversation)
	mux.HandleFunc("GET /messages/{phone}", h.handleGetMessages)
}

// ---- handlers ----

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		if isTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	in := inbox.InboundMessage{
		Contact: req.Phone,
		Name:    req.Name,
		Body:    req.Message,
	}
	if req.Timestamp != nil {
		ts, err := parseTimestamp(*req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		in.Timestamp = ts
	}

	msg, err := h.ingest.Ingest(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, "api.webhook.fail", err)
		return
	}

	writeJSON(w, http.StatusCreated, webhookResponse{
		Status:  "success",
		Message: webhookAcceptedMessage,
		ID:      msg.ID,
	})
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.queries.ListConversations(r.Context())
	if err != nil {
		h.writeDomainError(w, "api.conversations.list.fail", err)
		return
	}

	out := conversationsResponse{Conversations: make([]conversationResponse, 0, len(convs))}
	for _, c := range convs {
		out.Conversations = append(out.Conversations, toConversationResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")

	if _, err := h.queries.DeleteThread(r.Context(), phone); err != nil {
		h.writeDomainError(w, "api.conversations.delete.fail", err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:  "success",
		Message: conversationDeletedMessage,
	})
}

func (h *Handler) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	phone := r.PathValue("phone")

	limit, ok := parseLimit(r.URL.Query().Get("limit"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
		return
	}

	msgs, err := h.queries.GetMessages(r.Context(), phone, limit)
	if err != nil {
		h.writeDomainError(w, "api.messages.get.fail", err)
		return
	}

	out := messagesResponse{Messages: make([]messageResponse, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- helpers ----

// writeDomainError maps inbox error kinds onto the HTTP envelope.
func (h *Handler) writeDomainError(w http.ResponseWriter, event string, err error) {
	var opErr inbox.OpError
	switch {
	case inbox.IsValidation(err):
		msg := "invalid request"
		if errors.As(err, &opErr) && opErr.Msg != "" {
			msg = opErr.Msg
		}
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
	case inbox.IsStorageUnavailable(err):
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "storage_unavailable", "storage unavailable")
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// parseLimit returns 0 (store default) for an empty value.
func parseLimit(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
