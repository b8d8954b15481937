package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
	"github.com/teslaelectricidad/teslabot/internal/service"
)

// ChatConversations runs assistant conversations.
type ChatConversations interface {
	Start(ctx context.Context) (*service.ChatReply, error)
	Send(ctx context.Context, sessionID, input string) (*service.ChatReply, error)
	End(sessionID string) error
}

// ChatMessageRequest is one visitor turn. QuickReply wins over Message when
// both are set.
type ChatMessageRequest struct {
	Message    string `json:"message"`
	QuickReply string `json:"quick_reply"`
}

// Input returns the text the engine should see.
func (m ChatMessageRequest) Input() string {
	if strings.TrimSpace(m.QuickReply) != "" {
		return m.QuickReply
	}
	return m.Message
}

// ChatHandler serves the chat widget API.
type ChatHandler struct {
	BaseHandler
	chat ChatConversations
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(chat ChatConversations, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		BaseHandler: NewBaseHandler(logger),
		chat:        chat,
	}
}

// RegisterRoutes registers chat routes on the router.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat/sessions", func(r chi.Router) {
		r.Post("/", h.HandleStart)
		r.Post("/{id}/messages", h.HandleMessage)
		r.Delete("/{id}", h.HandleEnd)
	})
}

// HandleStart opens a session and returns the welcome message.
func (h *ChatHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	reply, err := h.chat.Start(r.Context())
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, r, http.StatusCreated, reply)
}

// HandleMessage advances a session by one visitor turn.
func (h *ChatHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req ChatMessageRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.WriteError(w, r, err)
		return
	}
	input := req.Input()
	if strings.TrimSpace(input) == "" {
		h.WriteError(w, r, apperrors.MissingField("message"))
		return
	}

	reply, err := h.chat.Send(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	h.WriteJSON(w, r, http.StatusOK, reply)
}

// HandleEnd discards a session.
func (h *ChatHandler) HandleEnd(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.End(chi.URLParam(r, "id")); err != nil {
		h.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
