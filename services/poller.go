package services

import (
	"context"
	"sync"
	"time"

	"kiosk/config"
	"kiosk/utils"
)

// PollResult is the single outcome a poll run reports.
type PollResult struct {
	PaymentID string
	Completed bool
	Status    string // last backend status seen, or "" on transport failure
	Reason    string // "timeout", backend reason, or error text
	Attempts  int
}

// PollCallbacks receive the poll outcome. OnResult fires exactly once;
// OnSettled fires a fixed delay later so the operator has time to read
// the result before the view moves on.
type PollCallbacks struct {
	OnResult  func(PollResult)
	OnSettled func()
}

// StatusPoller confirms a payment by bounded active polling. It is the
// path used when no live session context exists, typically after the
// client was redirected to an external payment page and back: an
// immediate status check, then one every PollInterval, up to
// MaxPollAttempts.
//
// Anything that is not a recognized transient status ends the run:
// completed reports success; failed, cancelled and refunded are
// definitive failures; transport errors, malformed responses and unknown
// status values fail closed. Exhausting the budget while still transient
// reports a timeout failure, unless a terminal outcome was already
// recorded by a check resolving exactly at the attempt boundary.
type StatusPoller struct {
	backend PaymentBackend

	mutex       sync.Mutex
	resolved    bool
	attempts    int
	cancel      context.CancelFunc
	settleTimer *time.Timer

	// Overridable for tests
	interval    time.Duration
	maxAttempts int
	settleDelay time.Duration
}

// NewStatusPoller creates a poller with the configured cadence.
func NewStatusPoller(backend PaymentBackend) *StatusPoller {
	return &StatusPoller{
		backend:     backend,
		interval:    config.PollInterval,
		maxAttempts: config.MaxPollAttempts,
		settleDelay: config.SettleDelay,
	}
}

// Start launches the poll loop for paymentID. A StatusPoller runs one
// payment at a time; Start on a running poller stops the previous run
// without firing its callbacks.
func (sp *StatusPoller) Start(ctx context.Context, paymentID string, cb PollCallbacks) {
	sp.Stop()

	ctx, cancel := context.WithCancel(ctx)

	sp.mutex.Lock()
	sp.cancel = cancel
	sp.resolved = false
	sp.attempts = 0
	sp.mutex.Unlock()

	utils.Info("poller", "Polling started", "payment_id", paymentID, "interval", sp.interval, "max_attempts", sp.maxAttempts)

	go sp.loop(ctx, paymentID, cb)
}

// Stop cancels the running poll and any pending settle timer without
// firing callbacks. Idempotent.
func (sp *StatusPoller) Stop() {
	sp.mutex.Lock()
	defer sp.mutex.Unlock()

	if sp.cancel != nil {
		sp.cancel()
		sp.cancel = nil
	}
	if sp.settleTimer != nil {
		sp.settleTimer.Stop()
		sp.settleTimer = nil
	}
	sp.resolved = true
}

// CancelPayment makes one best-effort cancellation call before the view
// is abandoned. Its failure is logged and otherwise ignored: navigation
// must never block on a secondary failure.
func (sp *StatusPoller) CancelPayment(ctx context.Context, paymentID string) {
	if err := sp.backend.CancelPayment(ctx, paymentID); err != nil {
		utils.Warn("poller", "Best-effort cancel failed", "payment_id", paymentID, "error", err)
	}
}

func (sp *StatusPoller) loop(ctx context.Context, paymentID string, cb PollCallbacks) {
	ticker := time.NewTicker(sp.interval)
	defer ticker.Stop()

	for {
		if done := sp.checkOnce(ctx, paymentID, cb); done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// checkOnce performs one status check. Returns true when polling is over.
func (sp *StatusPoller) checkOnce(ctx context.Context, paymentID string, cb PollCallbacks) bool {
	sp.mutex.Lock()
	if sp.resolved {
		sp.mutex.Unlock()
		return true
	}
	sp.attempts++
	attempt := sp.attempts
	sp.mutex.Unlock()

	info, err := sp.backend.PaymentStatus(ctx, paymentID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		utils.Error("poller", "Status check failed", "payment_id", paymentID, "attempt", attempt, "error", err)
		sp.resolve(cb, PollResult{
			PaymentID: paymentID,
			Reason:    err.Error(),
			Attempts:  attempt,
		})
		return true
	}

	switch {
	case info.Status == string(StatusCompleted):
		utils.Info("poller", "Payment completed", "payment_id", paymentID, "attempt", attempt)
		sp.resolve(cb, PollResult{
			PaymentID: paymentID,
			Completed: true,
			Status:    info.Status,
			Attempts:  attempt,
		})
		return true

	case IsTerminal(info.Status):
		// Definitive, not transient. No further retries.
		utils.Info("poller", "Payment reached definitive failure", "payment_id", paymentID, "status", info.Status, "attempt", attempt)
		sp.resolve(cb, PollResult{
			PaymentID: paymentID,
			Status:    info.Status,
			Reason:    info.Reason,
			Attempts:  attempt,
		})
		return true

	case IsTransient(info.Status):
		if attempt >= sp.maxAttempts {
			sp.resolveTimeout(cb, paymentID, info.Status, attempt)
			return true
		}
		utils.Debug("poller", "Payment still in progress", "payment_id", paymentID, "status", info.Status, "attempt", attempt)
		return false

	default:
		// Unexpected status value: fail closed rather than spin on it.
		utils.Error("poller", "Unknown payment status", "payment_id", paymentID, "status", info.Status, "attempt", attempt)
		sp.resolve(cb, PollResult{
			PaymentID: paymentID,
			Status:    info.Status,
			Reason:    "unknown status: " + info.Status,
			Attempts:  attempt,
		})
		return true
	}
}

// resolveTimeout reports budget exhaustion, unless a terminal outcome
// already landed at the attempt boundary.
func (sp *StatusPoller) resolveTimeout(cb PollCallbacks, paymentID, status string, attempt int) {
	sp.mutex.Lock()
	alreadyResolved := sp.resolved
	sp.mutex.Unlock()
	if alreadyResolved {
		return
	}

	utils.Warn("poller", "Polling budget exhausted", "payment_id", paymentID, "last_status", status, "attempts", attempt)
	sp.resolve(cb, PollResult{
		PaymentID: paymentID,
		Status:    status,
		Reason:    "timeout",
		Attempts:  attempt,
	})
}

// resolve delivers the result exactly once and schedules the settle signal.
func (sp *StatusPoller) resolve(cb PollCallbacks, result PollResult) {
	sp.mutex.Lock()
	if sp.resolved {
		sp.mutex.Unlock()
		return
	}
	sp.resolved = true
	if cb.OnSettled != nil {
		sp.settleTimer = time.AfterFunc(sp.settleDelay, cb.OnSettled)
	}
	sp.mutex.Unlock()

	if cb.OnResult != nil {
		cb.OnResult(result)
	}
}
