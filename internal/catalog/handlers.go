package catalog

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/treasurehub/treasurehub-api/internal/common"
)

// Handler exposes catalog endpoints.
type Handler struct {
	service *Service
	sweeper *Sweeper
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
	Sweeper *Sweeper
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service, sweeper: cfg.Sweeper}
}

// Listings handles GET /api/v1/listings.
func (h *Handler) Listings(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	page, limit := common.ParsePagination(r, h.service.defaultLimit)
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "ACTIVE"
	}
	result, err := h.service.List(r.Context(), ListParams{Status: status, Page: page, Limit: limit})
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.FormatInt(result.Total, 10))
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       result.Items,
		"pagination": common.Pagination{Page: result.Page, PerPage: result.Limit, TotalItems: int(result.Total)},
	})
}

// Listing handles GET /api/v1/listings/{idOrSlug}.
func (h *Handler) Listing(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	view, err := h.service.Get(r.Context(), chi.URLParam(r, "idOrSlug"))
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// AdminGet handles GET /api/v1/admin/listings/{id}.
func (h *Handler) AdminGet(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	view, err := h.service.GetAdmin(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// AdminCreate handles POST /api/v1/admin/listings.
func (h *Handler) AdminCreate(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	var in ListingInput
	if appErr := common.DecodeJSON(r, &in); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	view, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view})
}

// AdminUpdate handles PUT /api/v1/admin/listings/{id}.
func (h *Handler) AdminUpdate(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	var in ListingInput
	if appErr := common.DecodeJSON(r, &in); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	view, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

// AdminSweep handles POST /api/v1/admin/listings/sweep, running the
// price-drop sweep inline.
func (h *Handler) AdminSweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "price sweep not configured", nil)
		return
	}
	res, err := h.sweeper.Run(r.Context())
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res})
}

func (h *Handler) writeError(r *http.Request, w http.ResponseWriter, err error) {
	if !common.IsAppError(err) {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("catalog request failed")
	}
	common.WriteError(w, err)
}
