package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/a-h/templ"

	"kiosk/services"
	"kiosk/templates"
	"kiosk/utils"
)

// sseConnectionTimeout bounds how long a payment event stream stays open
// without the payment resolving.
const sseConnectionTimeout = 5 * time.Minute

// SSEConnection represents one kiosk browser waiting on a payment.
type SSEConnection struct {
	Writer    http.ResponseWriter
	Flusher   http.Flusher
	PaymentID string
	Done      chan bool

	mutex sync.Mutex
}

// SSEBroadcaster manages payment event connections and broadcasting.
type SSEBroadcaster struct {
	connections map[string]*SSEConnection
	mutex       sync.RWMutex
}

// NewSSEBroadcaster creates an empty broadcaster.
func NewSSEBroadcaster() *SSEBroadcaster {
	return &SSEBroadcaster{
		connections: make(map[string]*SSEConnection),
	}
}

// AddConnection registers a browser waiting on paymentID. Returns nil when
// the client cannot stream.
func (b *SSEBroadcaster) AddConnection(paymentID string, w http.ResponseWriter) *SSEConnection {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	conn := &SSEConnection{
		Writer:    w,
		Flusher:   flusher,
		PaymentID: paymentID,
		Done:      make(chan bool),
	}

	b.mutex.Lock()
	// A reconnect for the same payment displaces the previous browser;
	// releasing its Done lets that handler return instead of waiting
	// out the stream timeout.
	if prev, exists := b.connections[paymentID]; exists {
		close(prev.Done)
	}
	b.connections[paymentID] = conn
	b.mutex.Unlock()

	utils.Debug("sse", "Connection added", "payment_id", paymentID)
	return conn
}

// RemoveConnection drops the connection for a payment, releasing its handler.
func (b *SSEBroadcaster) RemoveConnection(paymentID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if conn, exists := b.connections[paymentID]; exists {
		close(conn.Done)
		delete(b.connections, paymentID)
		utils.Debug("sse", "Connection removed", "payment_id", paymentID)
	}
}

// Broadcast renders component and sends it as the named event to the
// connection watching paymentID, if any.
func (b *SSEBroadcaster) Broadcast(paymentID, event string, component templ.Component) {
	b.mutex.RLock()
	conn, exists := b.connections[paymentID]
	b.mutex.RUnlock()

	if !exists {
		return
	}

	var buf strings.Builder
	if err := component.Render(context.Background(), &buf); err != nil {
		utils.Error("sse", "Error rendering component", "payment_id", paymentID, "error", err)
		return
	}

	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	fmt.Fprintf(conn.Writer, "event: %s\n", event)
	fmt.Fprintf(conn.Writer, "data: %s\n\n", buf.String())
	conn.Flusher.Flush()
}

// BroadcastCountdown pushes one countdown tick to the payment's screen.
// Wired as the monitor's timer hook.
func (b *SSEBroadcaster) BroadcastCountdown(paymentID string, state services.TimerState) {
	b.Broadcast(paymentID, "payment-progress", templates.PaymentProgress(templates.CountdownView{
		PaymentID:        paymentID,
		SecondsRemaining: state.TimeUntilNextCheck,
		IsChecking:       state.IsChecking,
	}))
}

// BroadcastOutcome pushes the terminal screen and closes the connection.
func (b *SSEBroadcaster) BroadcastOutcome(paymentID, outcome, reason string) {
	b.Broadcast(paymentID, "payment-result", templates.PaymentOutcome(templates.OutcomeView{
		PaymentID: paymentID,
		Outcome:   outcome,
		Reason:    reason,
	}))
	b.RemoveConnection(paymentID)
}

// PaymentSSEHandler holds a stream open for one payment's events.
func (h *PaymentHandlers) PaymentSSEHandler(w http.ResponseWriter, r *http.Request) {
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

	utils.Info("sse", "Payment event stream established", "payment_id", paymentID)

	timeout := time.NewTimer(sseConnectionTimeout)
	defer timeout.Stop()

	select {
	case <-conn.Done:
	case <-r.Context().Done():
		h.Broadcaster.RemoveConnection(paymentID)
	case <-timeout.C:
		utils.Warn("sse", "Payment event stream timed out", "payment_id", paymentID)
		h.Broadcaster.RemoveConnection(paymentID)
	}
}
