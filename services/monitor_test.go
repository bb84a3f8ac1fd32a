package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePushSource delivers frames to registered listeners the way the real
// push channel does, after validation.
type fakePushSource struct {
	mu        sync.Mutex
	nextID    int
	listeners map[string]PushListener
}

func newFakePushSource() *fakePushSource {
	return &fakePushSource{listeners: make(map[string]PushListener)}
}

func (f *fakePushSource) AddListener(fn PushListener) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("sub-%d", f.nextID)
	f.listeners[id] = fn
	return id
}

func (f *fakePushSource) RemoveListener(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners, id)
}

func (f *fakePushSource) emit(t *testing.T, raw string) {
	t.Helper()
	msg, ok := ValidatePushMessage(raw)
	require.True(t, ok, "test frame must validate: %s", raw)

	f.mu.Lock()
	fns := make([]PushListener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
}

func (f *fakePushSource) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// outcomes counts continuation invocations.
type outcomes struct {
	mu        sync.Mutex
	completed []string
	failed    []string
	cancelled []string
	reasons   []string
}

func (o *outcomes) callbacks() MonitorCallbacks {
	return MonitorCallbacks{
		OnCompleted: func(id string) {
			o.mu.Lock()
			o.completed = append(o.completed, id)
			o.mu.Unlock()
		},
		OnFailed: func(id, reason string) {
			o.mu.Lock()
			o.failed = append(o.failed, id)
			o.reasons = append(o.reasons, reason)
			o.mu.Unlock()
		},
		OnCancelled: func(id string) {
			o.mu.Lock()
			o.cancelled = append(o.cancelled, id)
			o.mu.Unlock()
		},
	}
}

func (o *outcomes) snapshot() (completed, failed, cancelled []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.completed...), append([]string(nil), o.failed...), append([]string(nil), o.cancelled...)
}

func paymentUpdateFrame(paymentID, status string) string {
	return fmt.Sprintf(`{"type":"payment_update","data":{"paymentId":%q,"status":%q}}`, paymentID, status)
}

func TestPaymentMonitor_PushCompletionFiresExactlyOnce(t *testing.T) {
	push := newFakePushSource()
	bus := NewCheckEventBus()
	monitor := NewPaymentMonitor(&scriptedBackend{script: []string{"pending"}}, push, bus, nil, 1, nil)
	defer monitor.Stop()

	o := &outcomes{}
	startedAt := monitor.Start("pay_123", true, o.callbacks())
	assert.False(t, startedAt.IsZero(), "Start must return the monitoring start time")

	push.emit(t, paymentUpdateFrame("pay_123", "completed"))
	// A duplicate terminal signal after resolution is a no-op.
	push.emit(t, paymentUpdateFrame("pay_123", "completed"))
	push.emit(t, paymentUpdateFrame("pay_123", "failed"))

	completed, failed, cancelled := o.snapshot()
	assert.Equal(t, []string{"pay_123"}, completed)
	assert.Empty(t, failed)
	assert.Empty(t, cancelled)
	assert.Nil(t, monitor.Session(), "session ends with the terminal outcome")
}

func TestPaymentMonitor_StartReplacesPriorSession(t *testing.T) {
	push := newFakePushSource()
	monitor := NewPaymentMonitor(&scriptedBackend{script: []string{"pending"}}, push, NewCheckEventBus(), nil, 1, nil)
	defer monitor.Stop()

	first := &outcomes{}
	second := &outcomes{}

	monitor.Start("pay_1", true, first.callbacks())
	monitor.Start("pay_2", true, second.callbacks())

	assert.Equal(t, 1, push.listenerCount(), "only the live session may hold a push listener")
	require.NotNil(t, monitor.Session())
	assert.Equal(t, "pay_2", monitor.Session().PaymentID)

	// Signals for the replaced session's payment go nowhere.
	push.emit(t, paymentUpdateFrame("pay_1", "completed"))
	push.emit(t, paymentUpdateFrame("pay_2", "completed"))

	firstCompleted, _, _ := first.snapshot()
	secondCompleted, _, _ := second.snapshot()
	assert.Empty(t, firstCompleted, "replaced session's continuations must never fire")
	assert.Equal(t, []string{"pay_2"}, secondCompleted)
}

func TestPaymentMonitor_ConcurrentStartsLeaveOneSession(t *testing.T) {
	push := newFakePushSource()
	bus := NewCheckEventBus()
	monitor := NewPaymentMonitor(&scriptedBackend{script: []string{"pending"}}, push, bus, nil, 1, nil)
	defer monitor.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		paymentID := fmt.Sprintf("pay_%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			monitor.Start(paymentID, true, (&outcomes{}).callbacks())
		}()
	}
	wg.Wait()

	// However the starts interleave, exactly one session's resources
	// may remain registered.
	assert.Equal(t, 1, push.listenerCount(), "racing starts must not strand push listeners")
	assert.Equal(t, 1, bus.SubscriberCount(), "racing starts must not strand bus subscriptions")
	require.NotNil(t, monitor.Session())

	monitor.Stop()
	assert.Equal(t, 0, push.listenerCount())
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestPaymentMonitor_PushFailureCarriesReason(t *testing.T) {
	push := newFakePushSource()
	monitor := NewPaymentMonitor(&scriptedBackend{script: []string{"pending"}}, push, NewCheckEventBus(), nil, 1, nil)
	defer monitor.Stop()

	o := &outcomes{}
	monitor.Start("pay_9", true, o.callbacks())

	push.emit(t, `{"type":"payment_update","data":{"paymentId":"pay_9","status":"failed","reason":"card declined"}}`)

	_, failed, _ := o.snapshot()
	require.Equal(t, []string{"pay_9"}, failed)
	o.mu.Lock()
	assert.Equal(t, []string{"card declined"}, o.reasons)
	o.mu.Unlock()
}

func TestPaymentMonitor_FallbackPollCompletes(t *testing.T) {
	// Push unavailable at start: the monitor polls instead. The first
	// scripted status resolves it on the immediate check.
	backend := &scriptedBackend{script: []string{"completed"}}
	monitor := NewPaymentMonitor(backend, newFakePushSource(), NewCheckEventBus(), nil, 1, nil)
	defer monitor.Stop()

	o := &outcomes{}
	monitor.Start("pay_123", false, o.callbacks())

	deadline := time.After(2 * time.Second)
	for {
		completed, _, _ := o.snapshot()
		if len(completed) == 1 {
			assert.Equal(t, "pay_123", completed[0])
			break
		}
		select {
		case <-deadline:
			t.Fatal("fallback poll never completed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	assert.Equal(t, 1, backend.statusCalls())
	assert.Nil(t, monitor.Session())
}

func TestPaymentMonitor_StopFormsNoOutcome(t *testing.T) {
	push := newFakePushSource()
	monitor := NewPaymentMonitor(&scriptedBackend{script: []string{"pending"}}, push, NewCheckEventBus(), nil, 1, nil)

	o := &outcomes{}
	monitor.Start("pay_1", true, o.callbacks())
	monitor.Stop()
	monitor.Stop() // idempotent

	assert.Equal(t, 0, push.listenerCount(), "Stop must release the push listener")

	push.emit(t, paymentUpdateFrame("pay_1", "completed"))

	completed, failed, cancelled := o.snapshot()
	assert.Empty(t, completed)
	assert.Empty(t, failed)
	assert.Empty(t, cancelled)
}

func TestPaymentMonitor_CancelIsBestEffort(t *testing.T) {
	backend := &scriptedBackend{script: []string{"pending"}, cancelErr: fmt.Errorf("backend down")}
	monitor := NewPaymentMonitor(backend, newFakePushSource(), NewCheckEventBus(), nil, 1, nil)
	defer monitor.Stop()

	o := &outcomes{}
	monitor.Start("pay_5", true, o.callbacks())
	monitor.Cancel(context.Background())

	_, _, cancelled := o.snapshot()
	assert.Equal(t, []string{"pay_5"}, cancelled, "local cancellation proceeds despite the backend error")
	assert.Equal(t, []string{"pay_5"}, backend.cancelled)
	assert.Nil(t, monitor.Session())
}

func TestPaymentMonitor_PushUpdatePublishesCheckEvent(t *testing.T) {
	push := newFakePushSource()
	bus := NewCheckEventBus()
	monitor := NewPaymentMonitor(&scriptedBackend{script: []string{"pending"}}, push, bus, nil, 1, nil)
	defer monitor.Stop()

	var events []CheckEvent
	var mu sync.Mutex
	bus.Subscribe(func(ev CheckEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	monitor.Start("pay_123", true, (&outcomes{}).callbacks())
	push.emit(t, paymentUpdateFrame("pay_123", "processing"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1, "a pushed update reflects a real server-side check")
	assert.Equal(t, "pay_123", events[0].PaymentID)
	assert.False(t, events[0].CheckTime.IsZero())

	require.NotNil(t, monitor.Session())
	assert.Equal(t, StatusPending, monitor.Session().Status, "transient updates do not end the session")
}

func TestPaymentMonitor_JournalsOutcome(t *testing.T) {
	dir := t.TempDir()
	push := newFakePushSource()
	journal := NewOutcomeJournal(dir)
	monitor := NewPaymentMonitor(&scriptedBackend{script: []string{"pending"}}, push, NewCheckEventBus(), journal, 7, nil)
	defer monitor.Stop()

	monitor.Start("pay_777", true, (&outcomes{}).callbacks())
	push.emit(t, paymentUpdateFrame("pay_777", "completed"))

	filename := filepath.Join(dir, time.Now().Format("2006-01-02")+".csv")
	data, err := os.ReadFile(filename)
	require.NoError(t, err, "journal file should exist after a terminal outcome")

	content := string(data)
	assert.True(t, strings.Contains(content, "pay_777"), "journal should record the payment id")
	assert.True(t, strings.Contains(content, "completed"))
	assert.True(t, strings.Contains(content, "push"))
}
