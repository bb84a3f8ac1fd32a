package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/a-h/templ"

	"kiosk/config"
	"kiosk/services"
	"kiosk/templates"
	"kiosk/utils"
)

// resumePollers tracks the active resume-path poll per payment so the
// cancel endpoint can reach it.
var (
	resumePollers   = make(map[string]*services.StatusPoller)
	resumePollersMu sync.Mutex
)

// ResumePaymentHandler confirms a payment when the kiosk comes back from
// an external payment page with nothing but a payment id in the URL.
// There is no live session and push cannot be relied on, so the bounded
// StatusPoller decides the outcome. The stream always ends in a terminal
// screen followed by a leave signal; it never hangs past the poll budget
// plus the settle delay.
func (h *PaymentHandlers) ResumePaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID := r.URL.Query().Get("payment_id")
	if paymentID == "" {
		http.Error(w, "payment_id parameter required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	conn := h.Broadcaster.AddConnection(paymentID, w)
	if conn == nil {
		http.Error(w, "SSE not supported by client", http.StatusInternalServerError)
		return
	}

	utils.Info("resume", "Resuming payment confirmation", "payment_id", paymentID)

	poller := services.NewStatusPoller(h.Backend)
	resumePollersMu.Lock()
	resumePollers[paymentID] = poller
	resumePollersMu.Unlock()

	defer func() {
		resumePollersMu.Lock()
		delete(resumePollers, paymentID)
		resumePollersMu.Unlock()
		poller.Stop()
		h.Broadcaster.RemoveConnection(paymentID)
	}()

	poller.Start(context.Background(), paymentID, services.PollCallbacks{
		OnResult: func(result services.PollResult) {
			outcome := "failed"
			switch {
			case result.Completed:
				outcome = "completed"
			case result.Status == string(services.StatusCancelled):
				outcome = "cancelled"
			}

			if h.Journal != nil {
				if err := h.Journal.RecordResumed(paymentID, h.KioskID, outcome, result.Reason); err != nil {
					utils.Error("resume", "Error journaling outcome", "payment_id", paymentID, "error", err)
				}
			}

			h.Broadcaster.Broadcast(paymentID, "payment-result", templates.PaymentOutcome(templates.OutcomeView{
				PaymentID: paymentID,
				Outcome:   outcome,
				Reason:    result.Reason,
			}))
		},
		OnSettled: func() {
			// The operator has had time to read the result; tell the
			// browser to go back to the catalog.
			h.Broadcaster.Broadcast(paymentID, "payment-leave", templ.Raw(`<div hx-get="/" hx-trigger="load"></div>`))
			h.Broadcaster.RemoveConnection(paymentID)
		},
	})

	// Upper bound: full poll budget, the settle delay, and some slack.
	limit := time.Duration(config.MaxPollAttempts)*config.PollInterval + config.SettleDelay + 10*time.Second
	timeout := time.NewTimer(limit)
	defer timeout.Stop()

	select {
	case <-conn.Done:
	case <-r.Context().Done():
	case <-timeout.C:
		utils.Warn("resume", "Resume stream hit hard limit", "payment_id", paymentID)
	}
}

// ResumeCancelHandler abandons a resume-path poll: one best-effort backend
// cancel, then the poll stops. The response never waits on the cancel call
// succeeding.
func (h *PaymentHandlers) ResumeCancelHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	paymentID := r.FormValue("payment_id")
	if paymentID == "" {
		http.Error(w, "payment_id required", http.StatusBadRequest)
		return
	}

	resumePollersMu.Lock()
	poller := resumePollers[paymentID]
	resumePollersMu.Unlock()

	if poller != nil {
		poller.CancelPayment(r.Context(), paymentID)
		poller.Stop()
	}
	h.Broadcaster.RemoveConnection(paymentID)

	utils.Info("resume", "Resume poll abandoned", "payment_id", paymentID)
	w.WriteHeader(http.StatusOK)
}
