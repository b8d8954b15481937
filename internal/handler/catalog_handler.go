package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/catalog"
)

// ServicesResponse lists the offered services.
type ServicesResponse struct {
	Services []catalog.Service `json:"services"`
}

// CatalogHandler serves reference data for the website.
type CatalogHandler struct {
	BaseHandler
	catalog *catalog.Catalog
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(cat *catalog.Catalog, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{
		BaseHandler: NewBaseHandler(logger),
		catalog:     cat,
	}
}

// RegisterRoutes registers catalog routes on the router.
func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/services", h.HandleServices)
}

// HandleServices returns the service catalog summary.
func (h *CatalogHandler) HandleServices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	h.WriteJSON(w, r, http.StatusOK, ServicesResponse{Services: h.catalog.Services})
}
