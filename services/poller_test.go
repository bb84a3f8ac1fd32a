package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedBackend serves a fixed sequence of status responses; the last
// entry repeats once the script runs out. An entry of "ERR" produces a
// transport error.
type scriptedBackend struct {
	mu        sync.Mutex
	script    []string
	calls     int
	cancelled []string
	cancelErr error
}

func (b *scriptedBackend) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	return nil, errors.New("not implemented")
}

func (b *scriptedBackend) PaymentStatus(ctx context.Context, paymentID string) (*PaymentStatusInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.calls
	if idx >= len(b.script) {
		idx = len(b.script) - 1
	}
	b.calls++

	status := b.script[idx]
	if status == "ERR" {
		return nil, errors.New("connection refused")
	}
	return &PaymentStatusInfo{PaymentID: paymentID, Status: status}, nil
}

func (b *scriptedBackend) CancelPayment(ctx context.Context, paymentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, paymentID)
	return b.cancelErr
}

func (b *scriptedBackend) statusCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newTestPoller(backend PaymentBackend) *StatusPoller {
	sp := NewStatusPoller(backend)
	sp.interval = 2 * time.Millisecond
	sp.settleDelay = 5 * time.Millisecond
	return sp
}

func repeat(status string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = status
	}
	return out
}

func runPoll(t *testing.T, sp *StatusPoller, paymentID string) (PollResult, bool) {
	t.Helper()

	resultCh := make(chan PollResult, 1)
	settled := make(chan struct{}, 1)

	sp.Start(context.Background(), paymentID, PollCallbacks{
		OnResult:  func(r PollResult) { resultCh <- r },
		OnSettled: func() { settled <- struct{}{} },
	})

	var result PollResult
	select {
	case result = <-resultCh:
	case <-time.After(2 * time.Second):
		t.Fatal("poll never resolved")
	}

	select {
	case <-settled:
		return result, true
	case <-time.After(time.Second):
		return result, false
	}
}

func TestStatusPoller_CompletesOnLastAttempt(t *testing.T) {
	backend := &scriptedBackend{script: append(repeat("pending", 19), "completed")}
	sp := newTestPoller(backend)
	defer sp.Stop()

	result, settled := runPoll(t, sp, "pay_123")

	assert.True(t, result.Completed)
	assert.Equal(t, 20, result.Attempts)
	assert.Equal(t, 20, backend.statusCalls())
	assert.True(t, settled, "settle signal should follow the result")
}

func TestStatusPoller_TimesOutWhenStillPending(t *testing.T) {
	backend := &scriptedBackend{script: repeat("pending", 25)}
	sp := newTestPoller(backend)
	defer sp.Stop()

	result, _ := runPoll(t, sp, "pay_123")

	assert.False(t, result.Completed)
	assert.Equal(t, "timeout", result.Reason)
	assert.Equal(t, 20, result.Attempts)
	assert.Equal(t, 20, backend.statusCalls(), "polling must stop at the attempt budget")
}

func TestStatusPoller_DefinitiveFailureStopsImmediately(t *testing.T) {
	tests := []struct {
		name   string
		status string
	}{
		{name: "failed", status: "failed"},
		{name: "cancelled", status: "cancelled"},
		{name: "refunded", status: "refunded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &scriptedBackend{script: []string{tt.status}}
			sp := newTestPoller(backend)
			defer sp.Stop()

			result, _ := runPoll(t, sp, "pay_123")

			require.False(t, result.Completed)
			assert.Equal(t, tt.status, result.Status)
			assert.Equal(t, 1, result.Attempts, "definitive statuses allow no retries")
			assert.Equal(t, 1, backend.statusCalls())
		})
	}
}

func TestStatusPoller_FailsClosed(t *testing.T) {
	tests := []struct {
		name   string
		script []string
	}{
		{name: "transport error", script: []string{"ERR"}},
		{name: "unknown status", script: []string{"sideways"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &scriptedBackend{script: tt.script}
			sp := newTestPoller(backend)
			defer sp.Stop()

			result, _ := runPoll(t, sp, "pay_123")

			assert.False(t, result.Completed)
			assert.NotEmpty(t, result.Reason)
			assert.Equal(t, 1, backend.statusCalls(), "fail-closed means no further attempts")
		})
	}
}

func TestStatusPoller_ProcessingKeepsPolling(t *testing.T) {
	backend := &scriptedBackend{script: []string{"pending", "processing", "processing", "completed"}}
	sp := newTestPoller(backend)
	defer sp.Stop()

	result, _ := runPoll(t, sp, "pay_123")

	assert.True(t, result.Completed)
	assert.Equal(t, 4, result.Attempts)
}

func TestStatusPoller_StopSuppressesCallbacks(t *testing.T) {
	backend := &scriptedBackend{script: repeat("pending", 25)}
	sp := newTestPoller(backend)

	fired := make(chan struct{}, 1)
	sp.Start(context.Background(), "pay_123", PollCallbacks{
		OnResult: func(PollResult) { fired <- struct{}{} },
	})

	sp.Stop()

	select {
	case <-fired:
		t.Fatal("OnResult fired after Stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStatusPoller_CancelPaymentIsBestEffort(t *testing.T) {
	backend := &scriptedBackend{script: []string{"pending"}, cancelErr: errors.New("backend down")}
	sp := newTestPoller(backend)
	defer sp.Stop()

	// Must not panic or block when the cancel call fails.
	sp.CancelPayment(context.Background(), "pay_123")

	assert.Equal(t, []string{"pay_123"}, backend.cancelled)
}
