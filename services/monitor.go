package services

import (
	"context"
	"sync"
	"time"

	"kiosk/utils"
)

// MonitorCallbacks are the caller-supplied continuations for a watch.
// Exactly one of them fires, exactly once, when the payment reaches a
// terminal state. None of them fires on Stop.
type MonitorCallbacks struct {
	OnCompleted func(paymentID string)
	OnFailed    func(paymentID, reason string)
	OnCancelled func(paymentID string)
}

// PushSource is the slice of the push channel the monitor consumes.
type PushSource interface {
	AddListener(fn PushListener) string
	RemoveListener(id string)
}

// PaymentMonitor owns the lifecycle of watching one payment. At most one
// session is live per kiosk client: Start always stops any prior session
// first, so two watches never run concurrently. While a session is live
// the monitor is the only component that mutates it.
//
// Channel strategy is chosen at start time. With the push channel
// available the monitor relies on pushed payment updates and starts no
// redundant poll loop for the same payment; the countdown still renders
// so the operator sees the check cadence either way. Without push it
// falls back to the bounded StatusPoller.
type PaymentMonitor struct {
	backend PaymentBackend
	push    PushSource
	bus     *CheckEventBus
	journal *OutcomeJournal
	kioskID int

	// onTimer receives every countdown tick for the watched payment.
	onTimer func(paymentID string, state TimerState)

	mutex      sync.Mutex
	session    *PaymentSession
	callbacks  MonitorCallbacks
	timer      *TimerSynchronizer
	poller     *StatusPoller
	listenerID string
	busSubID   string
	cancel     context.CancelFunc
	viaPush    bool
}

// NewPaymentMonitor wires the monitor to its collaborators. journal and
// onTimer may be nil.
func NewPaymentMonitor(backend PaymentBackend, push PushSource, bus *CheckEventBus, journal *OutcomeJournal, kioskID int, onTimer func(string, TimerState)) *PaymentMonitor {
	return &PaymentMonitor{
		backend: backend,
		push:    push,
		bus:     bus,
		journal: journal,
		kioskID: kioskID,
		onTimer: onTimer,
	}
}

// Start begins watching paymentID and returns the monitoring start time
// so callers can align other UI to it. Any previous session is stopped
// first without firing its continuations; from then on only the new
// session's continuations can fire.
func (m *PaymentMonitor) Start(paymentID string, pushAvailable bool, cb MonitorCallbacks) time.Time {
	m.mutex.Lock()

	// Teardown of the previous session and installation of the new one
	// share one lock acquisition; a racing Start cannot strand the
	// loser's timer, push listener or bus subscription.
	m.teardownLocked()

	session := NewPaymentSession(paymentID, m.kioskID)
	m.session = session
	m.callbacks = cb
	m.viaPush = pushAvailable

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	// The countdown runs in both strategies. With push the actual check
	// happens server-side, but the operator still needs consistent
	// feedback on the banking API's cadence.
	m.timer = NewTimerSynchronizer(func(state TimerState) {
		if m.onTimer != nil {
			m.onTimer(paymentID, state)
		}
	})
	m.timer.Start(paymentID, session.StartedAt)

	if m.bus != nil {
		timer := m.timer
		m.busSubID = m.bus.Subscribe(func(ev CheckEvent) {
			timer.ObserveCheck(ev)
		})
	}

	if pushAvailable && m.push != nil {
		m.listenerID = m.push.AddListener(func(msg *PushMessage) {
			m.handlePushMessage(paymentID, msg)
		})
	} else {
		m.poller = NewStatusPoller(m.backend)
		poller := m.poller
		m.mutex.Unlock()

		poller.Start(ctx, paymentID, PollCallbacks{
			OnResult: func(result PollResult) {
				m.handlePollResult(result)
			},
		})

		utils.Info("monitor", "Watch started", "payment_id", paymentID, "strategy", "poll")
		return session.StartedAt
	}

	m.mutex.Unlock()
	utils.Info("monitor", "Watch started", "payment_id", paymentID, "strategy", "push")
	return session.StartedAt
}

// Stop tears the active session down without invoking any continuation.
// Safe to call when nothing is active; safe to call repeatedly.
func (m *PaymentMonitor) Stop() {
	m.mutex.Lock()
	m.teardownLocked()
	m.session = nil
	m.callbacks = MonitorCallbacks{}
	m.mutex.Unlock()
}

// Cancel handles user-initiated cancellation of the watched payment: one
// best-effort backend cancel call, then the cancelled continuation. The
// backend call failing does not block the cancellation locally.
func (m *PaymentMonitor) Cancel(ctx context.Context) {
	m.mutex.Lock()
	session := m.session
	m.mutex.Unlock()

	if session == nil {
		return
	}

	if err := m.backend.CancelPayment(ctx, session.PaymentID); err != nil {
		utils.Warn("monitor", "Best-effort cancel failed", "payment_id", session.PaymentID, "error", err)
	}

	m.finish(session.PaymentID, StatusCancelled, "")
}

// Session returns the live session, or nil.
func (m *PaymentMonitor) Session() *PaymentSession {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.session
}

// handlePushMessage reacts to validated push frames while watching via
// push. Only payment updates for the watched payment matter; everything
// else on the channel is ignored here.
func (m *PaymentMonitor) handlePushMessage(paymentID string, msg *PushMessage) {
	update, ok := msg.PaymentUpdate()
	if !ok || update.PaymentID != paymentID {
		return
	}

	// A pushed update means a real status check just happened
	// server-side; align the countdown to it.
	if m.bus != nil {
		checkTime := time.Now()
		if msg.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
				checkTime = ts
			}
		}
		m.bus.Publish(CheckEvent{PaymentID: paymentID, CheckTime: checkTime})
	}

	switch update.Status {
	case string(StatusCompleted):
		m.finish(paymentID, StatusCompleted, "")
	case string(StatusFailed):
		m.finish(paymentID, StatusFailed, update.Reason)
	case string(StatusCancelled):
		m.finish(paymentID, StatusCancelled, "")
	case backendStatusRefunded:
		m.finish(paymentID, StatusFailed, backendStatusRefunded)
	default:
		if !IsTransient(update.Status) {
			utils.Warn("monitor", "Ignoring unknown pushed status", "payment_id", paymentID, "status", update.Status)
		}
	}
}

// handlePollResult maps a poll outcome onto the terminal continuations.
func (m *PaymentMonitor) handlePollResult(result PollResult) {
	switch {
	case result.Completed:
		m.finish(result.PaymentID, StatusCompleted, "")
	case result.Status == string(StatusCancelled):
		m.finish(result.PaymentID, StatusCancelled, "")
	default:
		reason := result.Reason
		if reason == "" {
			reason = result.Status
		}
		m.finish(result.PaymentID, StatusFailed, reason)
	}
}

// finish resolves the session to a terminal state and fires exactly one
// continuation. Signals for a stale payment id, or arriving after the
// session is already terminal, are discarded.
func (m *PaymentMonitor) finish(paymentID string, status PaymentStatus, reason string) {
	m.mutex.Lock()

	session := m.session
	if session == nil || session.PaymentID != paymentID || session.Terminal() {
		m.mutex.Unlock()
		return
	}

	session.Status = status
	cb := m.callbacks
	viaPush := m.viaPush
	m.teardownLocked()
	m.session = nil
	m.callbacks = MonitorCallbacks{}
	m.mutex.Unlock()

	utils.Info("monitor", "Watch resolved", "payment_id", paymentID, "status", status, "reason", reason)

	if m.journal != nil {
		channel := "poll"
		if viaPush {
			channel = "push"
		}
		if err := m.journal.Record(session, channel, reason); err != nil {
			utils.Error("monitor", "Error journaling outcome", "payment_id", paymentID, "error", err)
		}
	}

	switch status {
	case StatusCompleted:
		if cb.OnCompleted != nil {
			cb.OnCompleted(paymentID)
		}
	case StatusFailed:
		if cb.OnFailed != nil {
			cb.OnFailed(paymentID, reason)
		}
	case StatusCancelled:
		if cb.OnCancelled != nil {
			cb.OnCancelled(paymentID)
		}
	}
}

// teardownLocked clears every timer, subscription and poll the session
// owns. Callers hold the mutex. After it runs, no stale callback can
// mutate monitor state: the timer, bus subscription and push listener are
// gone before the lock is released.
func (m *PaymentMonitor) teardownLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.busSubID != "" && m.bus != nil {
		m.bus.Unsubscribe(m.busSubID)
		m.busSubID = ""
	}
	if m.listenerID != "" && m.push != nil {
		m.push.RemoveListener(m.listenerID)
		m.listenerID = ""
	}
	if m.poller != nil {
		m.poller.Stop()
		m.poller = nil
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}
