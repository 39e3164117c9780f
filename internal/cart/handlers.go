package cart

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/treasurehub/treasurehub-api/internal/common"
)

// Handler wires cart services to HTTP. All routes require an authenticated user.
type Handler struct {
	Svc *Service
}

type addItemRequest struct {
	ListingID string `json:"listingId" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"omitempty,min=1,max=1"`
}

type deliveryMethodRequest struct {
	DeliveryMethod string `json:"deliveryMethod" validate:"required,oneof=delivery pickup"`
}

type promoRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

// Get handles GET /api/v1/cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.renderQuote(w, r, "")
}

// Quote handles GET /api/v1/cart/quote?deliveryMethod=.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	h.renderQuote(w, r, r.URL.Query().Get("deliveryMethod"))
}

// AddItem handles POST /api/v1/cart/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if appErr := common.DecodeJSON(r, &req); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	if appErr := common.ValidateStruct(req); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if err := h.Svc.AddItem(r.Context(), userID, req.ListingID, req.Quantity); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.renderQuote(w, r, "")
}

// RemoveItem handles DELETE /api/v1/cart/items/{listingId}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.Svc.RemoveItem(r.Context(), userID, chi.URLParam(r, "listingId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.renderQuote(w, r, "")
}

// Clear handles DELETE /api/v1/cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Clear(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetDeliveryMethod handles PUT /api/v1/cart/delivery-method.
func (h *Handler) SetDeliveryMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req deliveryMethodRequest
	if appErr := common.DecodeJSON(r, &req); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	if appErr := common.ValidateStruct(req); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	if err := h.Svc.SetDeliveryMethod(r.Context(), userID, req.DeliveryMethod); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.renderQuote(w, r, "")
}

// AttachPromo handles POST /api/v1/cart/promo.
func (h *Handler) AttachPromo(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	var req promoRequest
	if appErr := common.DecodeJSON(r, &req); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	if appErr := common.ValidateStruct(req); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	q, err := h.Svc.AttachPromo(r.Context(), userID, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	code := ""
	if q.Promo != nil {
		code = q.Promo.Code
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": newQuoteView(q, code)})
}

// DetachPromo handles DELETE /api/v1/cart/promo.
func (h *Handler) DetachPromo(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.Svc.DetachPromo(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.renderQuote(w, r, "")
}

func (h *Handler) renderQuote(w http.ResponseWriter, r *http.Request, method string) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	q, code, err := h.Svc.Quote(r.Context(), userID, method)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": newQuoteView(q, code)})
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return "", false
	}
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.WriteError(w, common.Unauthorized("authentication required"))
		return "", false
	}
	return userID, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if !common.IsAppError(err) {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("cart request failed")
	}
	common.WriteError(w, err)
}
