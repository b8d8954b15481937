package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/domain"
	"github.com/teslaelectricidad/teslabot/internal/service"
)

// ContactSubmitter registers contact form submissions.
type ContactSubmitter interface {
	Submit(ctx context.Context, sub domain.ContactSubmission, source domain.LeadSource) (*service.SubmitResult, error)
}

// ContactHandler serves the website contact form.
type ContactHandler struct {
	BaseHandler
	contacts ContactSubmitter
}

// NewContactHandler creates a ContactHandler.
func NewContactHandler(contacts ContactSubmitter, logger *zap.Logger) *ContactHandler {
	return &ContactHandler{
		BaseHandler: NewBaseHandler(logger),
		contacts:    contacts,
	}
}

// RegisterRoutes registers contact routes on the router.
func (h *ContactHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/contact", h.HandleSubmit)
}

// HandleSubmit validates and registers a submission. A failed registration
// answers 502 with the WhatsApp fallback link.
func (h *ContactHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub domain.ContactSubmission
	if err := h.DecodeJSON(r, &sub); err != nil {
		h.WriteError(w, r, err)
		return
	}

	result, err := h.contacts.Submit(r.Context(), sub, domain.LeadSourceForm)
	if err != nil {
		resp := ErrorResponse{}
		if result != nil {
			resp.FallbackURL = result.FallbackURL
		}
		h.WriteErrorResponse(w, r, err, resp)
		return
	}

	h.WriteJSON(w, r, http.StatusCreated, result)
}
