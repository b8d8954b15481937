package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/domain"
	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
	"github.com/teslaelectricidad/teslabot/internal/repository"
)

// LeadsResponse is a page of recent leads with their automation outcomes.
type LeadsResponse struct {
	Leads  []*domain.Lead `json:"leads"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// StatusRequest changes the follow-up status of a lead.
type StatusRequest struct {
	Status domain.LeadStatus `json:"estado"`
}

// LeadsHandler serves the admin lead listing and monthly statistics.
type LeadsHandler struct {
	BaseHandler
	leads    domain.LeadRepository
	outcomes domain.OutcomeRepository
	services []string
	guard    *repository.Guard
	now      func() time.Time
}

// NewLeadsHandler creates a LeadsHandler. outcomes may be nil. services
// lists the catalog keys always present in monthly statistics.
func NewLeadsHandler(leads domain.LeadRepository, outcomes domain.OutcomeRepository, services []string, logger *zap.Logger) *LeadsHandler {
	return &LeadsHandler{
		BaseHandler: NewBaseHandler(logger),
		leads:       leads,
		outcomes:    outcomes,
		services:    services,
		guard:       repository.NewGuard(),
		now:         time.Now,
	}
}

// RegisterRoutes registers lead routes on the router. Callers mount it
// behind admin authentication.
func (h *LeadsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/leads", h.HandleList)
	r.Get("/api/leads/{id}", h.HandleGet)
	r.Patch("/api/leads/{id}/status", h.HandleUpdateStatus)
	r.Get("/api/dashboard/{month}", h.HandleStats)
}

// HandleList returns recent leads, newest first.
func (h *LeadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	limit, offset = h.guard.NormalizePagination(limit, offset, repository.DefaultPageSize, repository.MaxPageSize)

	ctx := r.Context()
	leads, err := h.leads.ListRecent(ctx, limit, offset)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}
	total, err := h.leads.Count(ctx)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	if h.outcomes != nil && len(leads) > 0 {
		ids := make([]string, len(leads))
		for i, l := range leads {
			ids[i] = l.ID
		}
		byLead, err := h.outcomes.ListByLeads(ctx, ids)
		if err != nil {
			h.WriteError(w, r, err)
			return
		}
		for _, l := range leads {
			l.Outcomes = byLead[l.ID]
		}
	}

	if leads == nil {
		leads = []*domain.Lead{}
	}
	h.WriteJSON(w, r, http.StatusOK, LeadsResponse{
		Leads:  leads,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// HandleGet returns one lead with its automation outcomes.
func (h *LeadsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lead, err := h.leads.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	if h.outcomes != nil {
		byLead, err := h.outcomes.ListByLeads(ctx, []string{lead.ID})
		if err != nil {
			h.WriteError(w, r, err)
			return
		}
		lead.Outcomes = byLead[lead.ID]
	}

	h.WriteJSON(w, r, http.StatusOK, lead)
}

// HandleUpdateStatus sets the follow-up status of a lead.
func (h *LeadsHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.WriteError(w, r, err)
		return
	}
	if !req.Status.Valid() {
		h.WriteError(w, r, apperrors.InvalidFormat("estado", "one of nuevo, contactado, cotizado, cerrado, descartado"))
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.leads.UpdateStatus(r.Context(), id, req.Status); err != nil {
		h.WriteError(w, r, err)
		return
	}

	h.WriteJSON(w, r, http.StatusOK, map[string]string{"id": id, "estado": string(req.Status)})
}

// HandleStats counts the leads of one month per service. The month is
// YYYY-MM, or 1-12 for a month of the current year.
func (h *LeadsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	from, err := parseMonth(chi.URLParam(r, "month"), h.now())
	if err != nil {
		h.WriteError(w, r, apperrors.Wrap(err, "dashboard.Stats", apperrors.CodeInvalidFormat, "month must be YYYY-MM or 1-12"))
		return
	}
	to := from.AddDate(0, 1, 0)

	counts, err := h.leads.CountByService(r.Context(), from, to)
	if err != nil {
		h.WriteError(w, r, err)
		return
	}

	stats := domain.ServiceStats{
		Month:    from.Format("2006-01"),
		Services: make(map[string]int, len(h.services)+len(counts)),
	}
	for _, key := range h.services {
		stats.Services[key] = 0
	}
	for key, n := range counts {
		stats.Services[key] = n
		stats.Total += n
	}

	h.WriteJSON(w, r, http.StatusOK, stats)
}

// parseMonth returns the first instant of the month named by raw, in UTC.
func parseMonth(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 1 || n > 12 {
			return time.Time{}, strconv.ErrRange
		}
		return time.Date(now.UTC().Year(), time.Month(n), 1, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Parse("2006-01", raw)
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.InvalidFormat(name, "an integer")
	}
	return n, nil
}
