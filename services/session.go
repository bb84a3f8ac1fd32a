package services

import (
	"time"
)

// PaymentStatus is the lifecycle state of a monitored payment.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusChecking  PaymentStatus = "checking"
	StatusCompleted PaymentStatus = "completed"
	StatusFailed    PaymentStatus = "failed"
	StatusCancelled PaymentStatus = "cancelled"
)

// Terminal statuses the backend may report for a payment. "refunded" never
// originates locally but counts as definitive when the backend says so.
const backendStatusRefunded = "refunded"

// IsTerminal reports whether a backend status string will not change further.
func IsTerminal(status string) bool {
	switch status {
	case string(StatusCompleted), string(StatusFailed), string(StatusCancelled), backendStatusRefunded:
		return true
	}
	return false
}

// IsTransient reports whether a backend status string means "keep waiting".
func IsTransient(status string) bool {
	return status == "pending" || status == "processing"
}

// PaymentSession is the state of one watched payment. It is owned
// exclusively by the PaymentMonitor from Start until a terminal outcome
// fires or Stop is called; nothing else mutates it.
type PaymentSession struct {
	PaymentID string
	KioskID   int
	StartedAt time.Time
	Status    PaymentStatus
}

// NewPaymentSession creates a fresh pending session. Monitoring state is
// never restored from disk; every session starts from scratch.
func NewPaymentSession(paymentID string, kioskID int) *PaymentSession {
	return &PaymentSession{
		PaymentID: paymentID,
		KioskID:   kioskID,
		StartedAt: time.Now(),
		Status:    StatusPending,
	}
}

// Terminal reports whether the session has reached a state that will not
// change further. Signals arriving after this are discarded.
func (s *PaymentSession) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
