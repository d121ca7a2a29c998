package monitor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/monitor"
)

func TestPollReturnsImmediatelyWhenAlreadyHigh(t *testing.T) {
	m := monitor.New()
	high := true
	id := m.Add(&monitor.Item{Kind: monitor.KindChannel, High: func() bool { return high }})
	m.Notify(id)

	events, status := m.Poll(10, time.Second)
	require.Equal(t, errs.Ok, status)
	require.Len(t, events, 1)
	require.Equal(t, id, events[0].ItemID)
}

func TestPollNoWaitReturnsNoWaitWhenNothingReady(t *testing.T) {
	m := monitor.New()
	m.Add(&monitor.Item{Kind: monitor.KindChannel, High: func() bool { return false }})

	_, status := m.Poll(10, 0)
	require.Equal(t, errs.NoWait, status)
}

// TestMonitorTimeoutScenario is the literal scenario from the testable
// properties: one edge-triggered channel item that never fires and one
// timeout item that fires after a delay — poll must return the timeout
// event with no channel event.
func TestMonitorTimeoutScenario(t *testing.T) {
	m := monitor.New()

	channelHigh := false
	m.Add(&monitor.Item{
		Kind:          monitor.KindChannel,
		EdgeTriggered: true,
		High:          func() bool { return channelHigh },
	})

	timeoutFired := false
	timeoutID := m.Add(&monitor.Item{
		Kind: monitor.KindTimeout,
		High: func() bool { return timeoutFired },
	})

	go func() {
		time.Sleep(30 * time.Millisecond)
		timeoutFired = true
		m.Notify(timeoutID)
	}()

	start := time.Now()
	events, status := m.Poll(10, 500*time.Millisecond)
	require.Equal(t, errs.Ok, status)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Len(t, events, 1)
	require.Equal(t, monitor.KindTimeout, events[0].Kind)
}

func TestEdgeTriggeredClearsAfterConsumption(t *testing.T) {
	m := monitor.New()
	high := true
	id := m.Add(&monitor.Item{EdgeTriggered: true, High: func() bool { return high }})
	m.Notify(id)

	events, status := m.Poll(10, 0)
	require.Equal(t, errs.Ok, status)
	require.Len(t, events, 1)

	// High is still true but the edge already fired and wasn't re-armed.
	_, status = m.Poll(10, 0)
	require.Equal(t, errs.NoWait, status)
}

func TestLevelTriggeredKeepsReportingWhileHigh(t *testing.T) {
	m := monitor.New()
	high := true
	id := m.Add(&monitor.Item{EdgeTriggered: false, High: func() bool { return high }})
	m.Notify(id)

	_, status := m.Poll(10, 0)
	require.Equal(t, errs.Ok, status)

	events, status := m.Poll(10, 0)
	require.Equal(t, errs.Ok, status)
	require.Len(t, events, 1)
}

func TestActiveLowInvertsPolarity(t *testing.T) {
	m := monitor.New()
	high := false
	id := m.Add(&monitor.Item{ActiveLow: true, High: func() bool { return high }})
	m.Notify(id)

	events, status := m.Poll(10, 0)
	require.Equal(t, errs.Ok, status)
	require.Len(t, events, 1)
}

func TestDisableOnTriggerStopsFurtherReports(t *testing.T) {
	m := monitor.New()
	high := true
	id := m.Add(&monitor.Item{DisableOnTrigger: true, High: func() bool { return high }})
	m.Notify(id)

	_, status := m.Poll(10, 0)
	require.Equal(t, errs.Ok, status)

	m.Notify(id)
	_, status = m.Poll(10, 0)
	require.Equal(t, errs.NoWait, status)
}

func TestCloseWithoutKeepAliveReportsPermanentOutage(t *testing.T) {
	m := monitor.New()
	m.Add(&monitor.Item{High: func() bool { return false }})
	m.Close()

	_, status := m.Poll(10, time.Second)
	require.Equal(t, errs.PermanentOutage, status)
}
