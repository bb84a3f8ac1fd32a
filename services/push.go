package services

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kiosk/utils"
)

// pushStaleAfter bounds how long the channel counts as live without any
// frame. The backend heartbeats well inside this window.
const pushStaleAfter = 45 * time.Second

// pushReconnectDelay spaces reconnect attempts after a dropped stream.
const pushReconnectDelay = 5 * time.Second

// PushListener receives every validated frame from the push channel.
type PushListener func(*PushMessage)

// PushChannel consumes the backend's server-push event stream. Raw frames
// go through ValidatePushMessage before any listener sees them; malformed
// frames are logged and dropped. The channel owns listener registration
// and cancellation.
type PushChannel struct {
	url    string
	token  string
	client *http.Client

	listeners map[string]PushListener
	mutex     sync.RWMutex

	connected bool
	lastSeen  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPushChannel creates a consumer for the stream at url. token may be empty.
func NewPushChannel(url, token string) *PushChannel {
	return &PushChannel{
		url:       url,
		token:     token,
		client:    &http.Client{}, // no timeout: the stream is long-lived
		listeners: make(map[string]PushListener),
	}
}

// AddListener registers fn for every validated frame and returns an id
// for RemoveListener.
func (p *PushChannel) AddListener(fn PushListener) string {
	id := uuid.NewString()

	p.mutex.Lock()
	p.listeners[id] = fn
	p.mutex.Unlock()

	return id
}

// RemoveListener removes a listener. Safe with an unknown id.
func (p *PushChannel) RemoveListener(id string) {
	p.mutex.Lock()
	delete(p.listeners, id)
	p.mutex.Unlock()
}

// Available reports whether push notifications can currently be relied
// on: connected and a frame seen recently enough.
func (p *PushChannel) Available() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.connected && time.Since(p.lastSeen) < pushStaleAfter
}

// Start launches the connect/read loop. It reconnects on stream loss
// until Stop is called or ctx ends.
func (p *PushChannel) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	p.mutex.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mutex.Unlock()

	go func() {
		defer close(done)
		for {
			if err := p.readStream(ctx); err != nil && ctx.Err() == nil {
				utils.Warn("push", "Stream dropped, reconnecting", "error", err, "delay", pushReconnectDelay)
			}

			p.setConnected(false)

			select {
			case <-ctx.Done():
				return
			case <-time.After(pushReconnectDelay):
			}
		}
	}()
}

// Stop tears the channel down. After Stop returns no listener is invoked
// again.
func (p *PushChannel) Stop() {
	p.mutex.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.mutex.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	p.mutex.Lock()
	p.connected = false
	p.listeners = make(map[string]PushListener)
	p.mutex.Unlock()
}

// readStream holds one connection open and dispatches its frames.
func (p *PushChannel) readStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	utils.Info("push", "Connected to push stream", "url", p.url)
	p.setConnected(true)

	// SSE wire format: "data:" lines accumulate until a blank line ends
	// the frame. "event:" names and ":" comments carry nothing we need.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(data) > 0 {
				p.dispatch(strings.Join(data, "\n"))
				data = data[:0]
			}
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			data = append(data, strings.TrimPrefix(payload, " "))
		}
	}

	return scanner.Err()
}

// dispatch validates one raw frame and fans it out to listeners.
func (p *PushChannel) dispatch(raw string) {
	msg, ok := ValidatePushMessage(raw)
	if !ok {
		return
	}

	p.mutex.Lock()
	p.lastSeen = time.Now()
	fns := make([]PushListener, 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mutex.Unlock()

	switch msg.Type {
	case MsgConnected, MsgHeartbeat:
		// Liveness only; already recorded above.
		return
	}

	for _, fn := range fns {
		fn(msg)
	}
}

func (p *PushChannel) setConnected(connected bool) {
	p.mutex.Lock()
	p.connected = connected
	if connected {
		p.lastSeen = time.Now()
	}
	p.mutex.Unlock()
}
