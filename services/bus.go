package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"kiosk/utils"
)

// CheckEvent is a narrow synchronization signal raised when a real status
// check is believed to occur server-side. It exists purely for timer
// alignment and is distinct from push messages.
type CheckEvent struct {
	PaymentID string
	CheckTime time.Time
}

// CheckEventBus is the internal publish/subscribe channel for CheckEvents.
// It is the single owner of subscriber registration and cancellation, so
// nothing can leak a dangling listener past its own teardown.
type CheckEventBus struct {
	subscribers map[string]func(CheckEvent)
	mutex       sync.RWMutex
}

// NewCheckEventBus creates an empty bus.
func NewCheckEventBus() *CheckEventBus {
	return &CheckEventBus{
		subscribers: make(map[string]func(CheckEvent)),
	}
}

// Subscribe registers fn for every published CheckEvent and returns a
// subscription id for Unsubscribe. Callbacks run synchronously on the
// publisher's goroutine; subscribers must not block.
func (b *CheckEventBus) Subscribe(fn func(CheckEvent)) string {
	id := uuid.NewString()

	b.mutex.Lock()
	b.subscribers[id] = fn
	b.mutex.Unlock()

	utils.Debug("bus", "CheckEvent subscriber added", "subscription_id", id)
	return id
}

// Unsubscribe removes a subscription. Safe to call with an unknown or
// already-removed id; no callback runs after Unsubscribe returns.
func (b *CheckEventBus) Unsubscribe(id string) {
	b.mutex.Lock()
	delete(b.subscribers, id)
	b.mutex.Unlock()
}

// Publish delivers ev to every current subscriber.
func (b *CheckEventBus) Publish(ev CheckEvent) {
	b.mutex.RLock()
	fns := make([]func(CheckEvent), 0, len(b.subscribers))
	for _, fn := range b.subscribers {
		fns = append(fns, fn)
	}
	b.mutex.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *CheckEventBus) SubscriberCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subscribers)
}
