package checkout

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/treasurehub/treasurehub-api/internal/common"
)

// Handler serves POST /api/v1/checkout.
type Handler struct {
	Svc *Service
}

// Checkout converts the caller's cart into a pending order. The body is
// optional.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok || userID == "" {
		common.WriteError(w, common.Unauthorized("authentication required"))
		return
	}
	var in Input
	if r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0 {
		if appErr := common.DecodeJSON(r, &in); appErr != nil {
			common.WriteError(w, appErr)
			return
		}
	}
	view, err := h.Svc.Create(r.Context(), userID, in)
	if err != nil {
		if !common.IsAppError(err) {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("checkout failed")
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view})
}
