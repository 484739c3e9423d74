package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-booking/internal/common"
	"github.com/noah-isme/backend-booking/internal/money"
)

// Handler exposes the client-facing payment endpoints. All routes expect an
// authenticated user in the request context.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// NewHandler builds a Handler with its own validator.
func NewHandler(svc *Service) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Svc: svc, Validate: v}
}

type createOrderReq struct {
	BookingID string `json:"bookingId" validate:"required,max=64"`
}

type verifyReq struct {
	RemoteOrderID   string `json:"remoteOrderId" validate:"required,max=64"`
	RemotePaymentID string `json:"remotePaymentId" validate:"required,max=64"`
	Signature       string `json:"signature" validate:"required"`
	BookingID       string `json:"bookingId" validate:"required,max=64"`
}

type refundReq struct {
	PaymentID string           `json:"paymentId" validate:"required,max=64"`
	Reason    string           `json:"reason" validate:"max=255"`
	Amount    *decimal.Decimal `json:"amount"`
}

// CreateOrder handles POST /payments/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requester(w, r)
	if !ok {
		return
	}
	var req createOrderReq
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Svc.CreateOrder(r.Context(), req.BookingID, userID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Success(w, http.StatusOK, "payment order created", map[string]any{
		"paymentId":   res.PaymentID,
		"orderId":     res.OrderID,
		"amountMinor": res.AmountMinor,
		"currency":    res.Currency,
		"receipt":     res.Receipt,
	})
}

// Verify handles POST /payments/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requester(w, r)
	if !ok {
		return
	}
	var req verifyReq
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Svc.ConfirmPayment(r.Context(), ConfirmRequest{
		RemoteOrderID:   req.RemoteOrderID,
		RemotePaymentID: req.RemotePaymentID,
		Signature:       req.Signature,
		BookingID:       req.BookingID,
		UserID:          userID,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Success(w, http.StatusOK, "payment verified", map[string]any{
		"bookingStatus": res.BookingStatus,
		"paymentStatus": res.PaymentStatus,
	})
}

// Refund handles POST /payments/refunds.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requester(w, r)
	if !ok {
		return
	}
	var req refundReq
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Svc.InitiateRefund(r.Context(), RefundRequest{
		PaymentID: req.PaymentID,
		UserID:    userID,
		Reason:    req.Reason,
		Amount:    req.Amount,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.Success(w, http.StatusOK, "refund initiated", map[string]any{
		"refundId": res.RefundID,
		"amount":   res.Amount.StringFixed(money.MinorUnitExponent),
		"status":   res.Status,
	})
}

// Status handles GET /payments/bookings/{bookingId}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requester(w, r)
	if !ok {
		return
	}
	res, err := h.Svc.PaymentStatus(r.Context(), chi.URLParam(r, "bookingId"), userID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	data := map[string]any{
		"bookingId":     res.BookingID,
		"bookingStatus": res.BookingStatus,
	}
	if res.PaymentID != "" {
		data["paymentId"] = res.PaymentID
		data["paymentStatus"] = res.PaymentStatus
		data["orderId"] = res.OrderID
		data["amount"] = res.Amount.StringFixed(money.MinorUnitExponent)
		data["currency"] = res.Currency
	}
	common.Success(w, http.StatusOK, "payment status", data)
}

func (h *Handler) requester(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return "", false
	}
	return userID, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return false
	}
	if err := h.Validate.Struct(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
