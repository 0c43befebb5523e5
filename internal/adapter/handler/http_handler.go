package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/rl1809/repair-market/internal/core/domain"
	"github.com/rl1809/repair-market/internal/core/service"
	"github.com/rl1809/repair-market/internal/port"
)

// Identity is supplied by the authentication collaborator in front of
// this service; the headers are trusted as-is.
const (
	userIDHeader   = "X-User-ID"
	vendorIDHeader = "X-Vendor-ID"

	webhookSignatureHeader = "X-Webhook-Signature"
)

type HTTPHandler struct {
	reservations  *service.ReservationService
	reconciler    *service.PaymentReconciler
	gateway       port.PaymentGateway
	frontendURL   string
	backendURL    string
	webhookSecret string
	currency      string
}

func NewHTTPHandler(reservations *service.ReservationService, reconciler *service.PaymentReconciler,
	gateway port.PaymentGateway, frontendURL, backendURL, webhookSecret, currency string) *HTTPHandler {
	return &HTTPHandler{
		reservations:  reservations,
		reconciler:    reconciler,
		gateway:       gateway,
		frontendURL:   frontendURL,
		backendURL:    backendURL,
		webhookSecret: webhookSecret,
		currency:      currency,
	}
}

func (h *HTTPHandler) Register(r chi.Router) {
	r.Get("/health", h.HealthCheck)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{token}", h.GetOrder)
		r.Post("/orders/{token}/cancel", h.CancelOrder)
		r.Post("/orders/{token}/advance", h.AdvanceOrder)
		r.Post("/orders/{token}/pay", h.InitiatePayment)
		r.Post("/payment/success", h.paymentCallback(service.EventSuccess))
		r.Post("/payment/fail", h.paymentCallback(service.EventFail))
		r.Post("/payment/cancel", h.paymentCallback(service.EventCancel))
		r.Post("/payment/webhook", h.Webhook)
	})
}

type placeOrderRequest struct {
	VariantID string `json:"variant_id"`
}

type orderResponse struct {
	OrderID     string          `json:"order_id"` // public token
	VariantID   string          `json:"variant_id"`
	VendorID    string          `json:"vendor_id"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func orderView(o *domain.Order) orderResponse {
	return orderResponse{
		OrderID:     o.PublicToken,
		VariantID:   o.VariantID,
		VendorID:    o.VendorID,
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	customerID := r.Header.Get(userIDHeader)
	if customerID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "unauthenticated"})
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VariantID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "variant_id is required"})
		return
	}

	order, err := h.reservations.PlaceOrder(r.Context(), customerID, req.VariantID)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, orderView(order))
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	customerID := r.Header.Get(userIDHeader)
	if customerID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "unauthenticated"})
		return
	}

	orders, err := h.reservations.OrdersByCustomer(r.Context(), customerID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "internal error"})
		return
	}

	views := make([]orderResponse, 0, len(orders))
	for i := range orders {
		views = append(views, orderView(&orders[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	customerID := r.Header.Get(userIDHeader)
	if customerID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "unauthenticated"})
		return
	}

	order, err := h.reservations.OrderByToken(r.Context(), customerID, chi.URLParam(r, "token"))
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(order))
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	customerID := r.Header.Get(userIDHeader)
	if customerID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "unauthenticated"})
		return
	}

	order, err := h.reservations.CancelOrder(r.Context(), customerID, chi.URLParam(r, "token"))
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(order))
}

func (h *HTTPHandler) AdvanceOrder(w http.ResponseWriter, r *http.Request) {
	vendorID := r.Header.Get(vendorIDHeader)
	if vendorID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "unauthenticated"})
		return
	}

	order, err := h.reservations.AdvanceOrder(r.Context(), vendorID, chi.URLParam(r, "token"))
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderView(order))
}

type paymentURLResponse struct {
	PaymentURL string `json:"payment_url"`
}

func (h *HTTPHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	customerID := r.Header.Get(userIDHeader)
	if customerID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "unauthenticated"})
		return
	}

	order, err := h.reservations.OrderByToken(r.Context(), customerID, chi.URLParam(r, "token"))
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	if order.Status != domain.OrderStatusPending {
		writeJSON(w, http.StatusConflict, errorResponse{Detail: "order is not awaiting payment"})
		return
	}

	redirectURL, err := h.gateway.CreateSession(r.Context(), port.SessionRequest{
		TranID:      service.TranIDPrefix + order.PublicToken,
		Amount:      order.TotalAmount,
		Currency:    h.currency,
		CustomerID:  customerID,
		ProductName: "Repair Services",
		SuccessURL:  h.backendURL + "/api/v1/payment/success",
		FailURL:     h.backendURL + "/api/v1/payment/fail",
		CancelURL:   h.backendURL + "/api/v1/payment/cancel",
	})
	if err != nil {
		log.WithField("order", order.PublicToken).Errorf("payment initiation failed: %v", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Detail: "payment initiation failed"})
		return
	}

	writeJSON(w, http.StatusOK, paymentURLResponse{PaymentURL: redirectURL})
}

// paymentCallback handles the browser redirect legs of the hosted
// session. The outcome funnels into the same reconciler as the webhook;
// the customer is sent back to the frontend either way.
func (h *HTTPHandler) paymentCallback(kind service.EventKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err == nil {
			tranID := r.PostForm.Get("tran_id")
			rawAmount := r.PostForm.Get("amount")
			if rawAmount == "" {
				rawAmount = r.PostForm.Get("total_amount")
			}

			if amount, err := decimal.NewFromString(rawAmount); err == nil {
				if _, err := h.reconciler.HandleGatewayEvent(r.Context(), tranID, amount, kind); err != nil {
					log.WithField("tran_id", tranID).Warnf("callback reconciliation failed: %v", err)
				}
			} else {
				log.WithField("tran_id", tranID).Warnf("callback without parsable amount: %q", rawAmount)
			}
		}

		http.Redirect(w, r, h.frontendURL+"/dashboard/orders/", http.StatusSeeOther)
	}
}

type webhookPayload struct {
	EventID string          `json:"event_id"`
	TranID  string          `json:"tran_id"`
	Amount  decimal.Decimal `json:"amount"`
	Status  string          `json:"status"`
}

func (h *HTTPHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret != "" {
		sig := r.Header.Get(webhookSignatureHeader)
		if subtle.ConstantTimeCompare([]byte(sig), []byte(h.webhookSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "invalid signature"})
			return
		}
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid payload"})
		return
	}

	seen, err := h.reconciler.AlreadyDelivered(r.Context(), payload.EventID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "internal error"})
		return
	}
	if seen {
		writeJSON(w, http.StatusOK, errorResponse{Detail: "event already processed"})
		return
	}

	kind, ok := eventKindFromStatus(payload.Status)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "unknown status"})
		return
	}

	ack, err := h.reconciler.HandleGatewayEvent(r.Context(), payload.TranID, payload.Amount, kind)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidReference):
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid transaction ID"})
		case errors.Is(err, domain.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse{Detail: "order not found"})
		case errors.Is(err, domain.ErrAmountMismatch):
			writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "amount mismatch"})
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "internal error"})
		}
		return
	}

	if ack.Applied {
		writeJSON(w, http.StatusOK, errorResponse{Detail: "payment event confirmed"})
	} else {
		writeJSON(w, http.StatusOK, errorResponse{Detail: "already processed"})
	}
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func eventKindFromStatus(status string) (service.EventKind, bool) {
	switch status {
	case "VALID", "VALIDATED", "SUCCESS":
		return service.EventSuccess, true
	case "FAILED":
		return service.EventFail, true
	case "CANCELLED":
		return service.EventCancel, true
	}
	return "", false
}

func (h *HTTPHandler) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrLockTimeout):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "variant busy, retry shortly"})
	case errors.Is(err, domain.ErrOutOfStock):
		writeJSON(w, http.StatusGone, errorResponse{Detail: "no stock available for this service variant"})
	case errors.Is(err, domain.ErrVariantNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "variant not found"})
	case errors.Is(err, domain.ErrVariantInactive):
		writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "variant is not active"})
	case errors.Is(err, domain.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "order not found"})
	case errors.Is(err, domain.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorResponse{Detail: "status transition not allowed"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
