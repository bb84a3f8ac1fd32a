package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiosk/services"
)

func TestSSEBroadcaster_Countdown(t *testing.T) {
	broadcaster := NewSSEBroadcaster()
	recorder := httptest.NewRecorder()

	conn := broadcaster.AddConnection("pay_1", recorder)
	require.NotNil(t, conn)

	broadcaster.BroadcastCountdown("pay_1", services.TimerState{TimeUntilNextCheck: 17, IsChecking: false})

	body := recorder.Body.String()
	assert.Contains(t, body, "event: payment-progress\n")
	assert.Contains(t, body, `<span id="countdown">17</span>`)
	assert.True(t, recorder.Flushed, "broadcast must flush the stream")
}

func TestSSEBroadcaster_CountdownCheckingPulse(t *testing.T) {
	broadcaster := NewSSEBroadcaster()
	recorder := httptest.NewRecorder()

	require.NotNil(t, broadcaster.AddConnection("pay_1", recorder))

	broadcaster.BroadcastCountdown("pay_1", services.TimerState{TimeUntilNextCheck: 31, IsChecking: true})

	body := recorder.Body.String()
	assert.Contains(t, body, "Checking payment status")
	assert.NotContains(t, body, "Next status check")
}

func TestSSEBroadcaster_OutcomeClosesConnection(t *testing.T) {
	broadcaster := NewSSEBroadcaster()
	recorder := httptest.NewRecorder()

	conn := broadcaster.AddConnection("pay_1", recorder)
	require.NotNil(t, conn)

	broadcaster.BroadcastOutcome("pay_1", "failed", "card declined")

	body := recorder.Body.String()
	assert.Contains(t, body, "event: payment-result\n")
	assert.Contains(t, body, "card declined")

	select {
	case <-conn.Done:
	default:
		t.Error("outcome broadcast must close the connection")
	}

	// A second broadcast has nowhere to go.
	before := recorder.Body.Len()
	broadcaster.Broadcast("pay_1", "payment-progress", nil)
	assert.Equal(t, before, recorder.Body.Len())
}

func TestSSEBroadcaster_IgnoresUnknownPayment(t *testing.T) {
	broadcaster := NewSSEBroadcaster()
	recorder := httptest.NewRecorder()

	require.NotNil(t, broadcaster.AddConnection("pay_1", recorder))

	broadcaster.BroadcastCountdown("pay_other", services.TimerState{TimeUntilNextCheck: 5})

	assert.Empty(t, recorder.Body.String())
}

func TestSSEBroadcaster_ReplacingConnectionReleasesPrior(t *testing.T) {
	broadcaster := NewSSEBroadcaster()

	first := broadcaster.AddConnection("pay_1", httptest.NewRecorder())
	require.NotNil(t, first)
	second := broadcaster.AddConnection("pay_1", httptest.NewRecorder())
	require.NotNil(t, second)

	select {
	case <-first.Done:
	default:
		t.Error("displaced connection must be released immediately")
	}

	select {
	case <-second.Done:
		t.Error("replacement connection must stay open")
	default:
	}
}

func TestSSEBroadcaster_RemoveConnectionUnknownID(t *testing.T) {
	broadcaster := NewSSEBroadcaster()
	broadcaster.RemoveConnection("pay_none") // must not panic
}
