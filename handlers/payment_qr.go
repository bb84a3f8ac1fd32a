package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/skip2/go-qrcode"

	"kiosk/services"
	"kiosk/templates"
	"kiosk/utils"
)

// PaymentHandlers carries the shared collaborators for the payment
// surfaces: the backend client, the monitoring engine, the push channel
// and the browser-facing broadcaster.
type PaymentHandlers struct {
	Backend     services.PaymentBackend
	Monitor     *services.PaymentMonitor
	Push        *services.PushChannel
	Journal     *services.OutcomeJournal
	Broadcaster *SSEBroadcaster
	KioskID     int
}

// NewPaymentHandlers wires the payment surfaces together.
func NewPaymentHandlers(backend services.PaymentBackend, monitor *services.PaymentMonitor, push *services.PushChannel, journal *services.OutcomeJournal, broadcaster *SSEBroadcaster, kioskID int) *PaymentHandlers {
	return &PaymentHandlers{
		Backend:     backend,
		Monitor:     monitor,
		Push:        push,
		Journal:     journal,
		Broadcaster: broadcaster,
		KioskID:     kioskID,
	}
}

// CreatePaymentHandler creates a payment with the backend, renders its QR
// code, and registers the payment with the monitor. The monitor picks its
// channel strategy from the push channel's availability at this moment.
func (h *PaymentHandlers) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	amount, err := strconv.ParseFloat(r.FormValue("amount"), 64)
	if err != nil || amount <= 0 {
		http.Error(w, "Invalid amount", http.StatusBadRequest)
		return
	}

	result, err := h.Backend.CreatePayment(r.Context(), services.CreatePaymentRequest{
		KioskID: h.KioskID,
		Amount:  amount,
	})
	if err != nil {
		utils.Error("payment", "Error creating payment", "amount", amount, "error", err)
		http.Error(w, "Error creating payment", http.StatusBadGateway)
		return
	}

	// Generate the QR code for the payment URL
	qrCode, err := qrcode.New(result.PaymentURL, qrcode.Medium)
	if err != nil {
		utils.Error("payment", "Error generating QR code", "payment_id", result.PaymentID, "error", err)
		http.Error(w, "Error generating QR code", http.StatusInternalServerError)
		return
	}
	qrPNG, err := qrCode.PNG(256)
	if err != nil {
		utils.Error("payment", "Error converting QR code to PNG", "payment_id", result.PaymentID, "error", err)
		http.Error(w, "Error generating QR code image", http.StatusInternalServerError)
		return
	}

	pushAvailable := h.Push != nil && h.Push.Available()
	startedAt := h.Monitor.Start(result.PaymentID, pushAvailable, services.MonitorCallbacks{
		OnCompleted: func(paymentID string) {
			h.Broadcaster.BroadcastOutcome(paymentID, "completed", "")
		},
		OnFailed: func(paymentID, reason string) {
			h.Broadcaster.BroadcastOutcome(paymentID, "failed", reason)
		},
		OnCancelled: func(paymentID string) {
			h.Broadcaster.BroadcastOutcome(paymentID, "cancelled", "")
		},
	})

	utils.Info("payment", "Monitoring started", "payment_id", result.PaymentID,
		"push_available", pushAvailable, "monitoring_start", startedAt)

	view := templates.PaymentView{
		PaymentID:  result.PaymentID,
		PaymentURL: result.PaymentURL,
		QRBase64:   base64.StdEncoding.EncodeToString(qrPNG),
		Amount:     result.Amount,
	}
	if err := templates.QRCodeDisplay(view).Render(r.Context(), w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// CancelPaymentHandler handles the operator abandoning the active payment.
// The backend cancel is best-effort; locally the watch always ends.
func (h *PaymentHandlers) CancelPaymentHandler(w http.ResponseWriter, r *http.Request) {
	session := h.Monitor.Session()
	if session == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	utils.Info("payment", "Cancelling payment", "payment_id", session.PaymentID)
	h.Monitor.Cancel(r.Context())
	w.WriteHeader(http.StatusOK)
}
