package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-booking/internal/common"
)

// Handler exposes the audit trail endpoint.
type Handler struct {
	Svc Service
}

// List handles GET /payments/bookings/{bookingId}/events.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	trail, err := h.Svc.Trail(r.Context(), chi.URLParam(r, "bookingId"), userID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	data := map[string]any{
		"bookingId": trail.BookingID,
		"entries":   trail.Entries,
	}
	if trail.PaymentID != "" {
		data["paymentId"] = trail.PaymentID
	}
	common.Success(w, http.StatusOK, "payment history", data)
}
