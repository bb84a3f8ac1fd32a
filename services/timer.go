package services

import (
	"math"
	"sync"
	"time"

	"kiosk/config"
	"kiosk/utils"
)

// TimerState is the UI-facing countdown snapshot, recomputed every tick.
// TimeUntilNextCheck is always within [0, CheckInterval] seconds.
// IsChecking is a time-boxed pulse, not a persisted mode.
type TimerState struct {
	TimeUntilNextCheck int
	IsChecking         bool
}

// TimerSynchronizer keeps the displayed countdown aligned with the
// upstream banking API's check cadence. The countdown source is resolved
// through a prioritized strategy chain:
//
//  1. event-anchored: an observed CheckEvent for the watched payment is
//     authoritative, since it reflects a real server-side check
//  2. session-anchored: checks assumed on fixed interval multiples since
//     monitoring began
//  3. naive: a local once-per-second countdown that wraps at zero
//
// Tiers 1 and 2 recompute from the wall clock on every tick, so a missed
// tick never accumulates drift; only the naive tier decrements a counter.
type TimerSynchronizer struct {
	mutex sync.Mutex

	paymentID       string
	monitoringStart time.Time  // zero when unknown
	lastCheck       CheckEvent // zero CheckTime when no event observed yet

	naiveCountdown int
	checking       bool
	pulseTimer     *time.Timer
	pulseGen       uint64

	onState func(TimerState)
	ticker  *time.Ticker
	done    chan struct{}
	running bool

	// Overridable for tests
	now           func() time.Time
	tickInterval  time.Duration
	pulseDuration time.Duration
}

// NewTimerSynchronizer creates a synchronizer that reports every recomputed
// state to onState. The callback runs with the synchronizer's lock held and
// must not call back into it.
func NewTimerSynchronizer(onState func(TimerState)) *TimerSynchronizer {
	return &TimerSynchronizer{
		onState:       onState,
		now:           time.Now,
		tickInterval:  time.Second,
		pulseDuration: config.CheckingPulse,
	}
}

// Start begins ticking for one payment. monitoringStart may be the zero
// time when the caller has no session anchor; the naive tier then drives
// the countdown until a CheckEvent arrives. Calling Start on a running
// synchronizer restarts it for the new payment.
func (t *TimerSynchronizer) Start(paymentID string, monitoringStart time.Time) {
	t.Stop()

	t.mutex.Lock()
	t.paymentID = paymentID
	t.monitoringStart = monitoringStart
	t.lastCheck = CheckEvent{}
	t.naiveCountdown = int(config.CheckInterval.Seconds())
	t.checking = false
	t.running = true
	t.ticker = time.NewTicker(t.tickInterval)
	t.done = make(chan struct{})
	done := t.done
	ticker := t.ticker
	t.mutex.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				t.tick()
			case <-done:
				return
			}
		}
	}()

	utils.Debug("timer", "Countdown started", "payment_id", paymentID, "session_anchored", !monitoringStart.IsZero())
}

// Stop cancels the tick loop and any pending checking pulse. Once Stop
// returns, no further state callback fires. Idempotent.
func (t *TimerSynchronizer) Stop() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.running {
		return
	}
	t.running = false
	t.ticker.Stop()
	close(t.done)
	// Invalidate any expiry already in flight; an expired AfterFunc
	// blocked on the mutex must not touch a later session.
	t.pulseGen++
	if t.pulseTimer != nil {
		t.pulseTimer.Stop()
		t.pulseTimer = nil
	}
}

// ObserveCheck handles a CheckEvent. Events for other payments are
// ignored. For the watched payment the countdown resets to the full
// interval and the checking pulse starts, replacing any pending pulse.
func (t *TimerSynchronizer) ObserveCheck(ev CheckEvent) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.running || ev.PaymentID != t.paymentID {
		return
	}

	t.lastCheck = ev
	t.startPulseLocked()
	t.emitLocked(TimerState{
		TimeUntilNextCheck: int(config.CheckInterval.Seconds()),
		IsChecking:         true,
	})
}

// State returns the current countdown snapshot without advancing the
// naive tier.
func (t *TimerSynchronizer) State() TimerState {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	seconds, _ := t.resolveLocked(false)
	return TimerState{TimeUntilNextCheck: seconds, IsChecking: t.checking}
}

// tick recomputes the countdown and reports it.
func (t *TimerSynchronizer) tick() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.running {
		return
	}

	seconds, derived := t.resolveLocked(true)

	// Tiers 2 and 3 pulse on their own when the computed countdown hits
	// the check boundary; tier 1 pulses only on a real CheckEvent.
	if derived && seconds <= 1 && !t.checking {
		t.startPulseLocked()
	}

	t.emitLocked(TimerState{TimeUntilNextCheck: seconds, IsChecking: t.checking})
}

// resolveLocked runs the strategy chain. advance controls whether the
// naive tier may decrement its counter. The second return value is true
// when the result came from tier 2 or 3.
func (t *TimerSynchronizer) resolveLocked(advance bool) (int, bool) {
	interval := int(config.CheckInterval.Seconds())

	// Tier 1: event-anchored.
	if !t.lastCheck.CheckTime.IsZero() {
		elapsed := t.now().Sub(t.lastCheck.CheckTime)
		seconds := int(math.Ceil((config.CheckInterval - elapsed).Seconds()))
		return clampSeconds(seconds, interval), false
	}

	// Tier 2: session-anchored.
	if !t.monitoringStart.IsZero() {
		elapsedMs := t.now().Sub(t.monitoringStart).Milliseconds()
		intervalMs := config.CheckInterval.Milliseconds()
		remainder := elapsedMs % intervalMs
		seconds := int(math.Ceil(float64(intervalMs-remainder) / 1000.0))
		return clampSeconds(seconds, interval), true
	}

	// Tier 3: naive local countdown.
	if advance {
		t.naiveCountdown--
		if t.naiveCountdown <= 0 {
			t.naiveCountdown = interval
		}
	}
	return clampSeconds(t.naiveCountdown, interval), true
}

// startPulseLocked turns the checking flag on and schedules it off after
// the pulse duration, cancelling any previously pending pulse.
func (t *TimerSynchronizer) startPulseLocked() {
	t.checking = true
	t.pulseGen++
	gen := t.pulseGen
	if t.pulseTimer != nil {
		t.pulseTimer.Stop()
	}
	t.pulseTimer = time.AfterFunc(t.pulseDuration, func() {
		t.pulseExpired(gen)
	})
}

// pulseExpired clears the checking flag for the pulse generation that
// scheduled it. Expiries from a superseded pulse or an earlier session
// are discarded.
func (t *TimerSynchronizer) pulseExpired(gen uint64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.running || gen != t.pulseGen {
		return
	}
	t.checking = false
	t.emitLocked(TimerState{TimeUntilNextCheck: t.currentSecondsLocked(), IsChecking: false})
}

func (t *TimerSynchronizer) currentSecondsLocked() int {
	seconds, _ := t.resolveLocked(false)
	return seconds
}

func (t *TimerSynchronizer) emitLocked(state TimerState) {
	if t.onState != nil {
		t.onState(state)
	}
}

func clampSeconds(seconds, interval int) int {
	if seconds < 0 {
		return 0
	}
	if seconds > interval {
		return interval
	}
	return seconds
}
