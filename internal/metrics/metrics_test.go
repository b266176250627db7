package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.ObserveRefresh(nil, 20*time.Millisecond)
	m.ObserveRefresh(nil, 30*time.Millisecond)
	m.ObserveRefresh(errors.New("boom"), time.Second)
	m.PushEvent("newImage")
	m.AlarmRaised()
	m.SetCountdown(42)
	m.SetRows(20)
	m.SetPushConnected(true)

	assert.InDelta(t, 2, testutil.ToFloat64(m.refreshesTotal.WithLabelValues(StatusSuccess)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.refreshesTotal.WithLabelValues(StatusError)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.pushEventsTotal.WithLabelValues("newImage")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.alarmsRaisedTotal), 0)
	assert.InDelta(t, 42, testutil.ToFloat64(m.countdownSeconds), 0)
	assert.InDelta(t, 20, testutil.ToFloat64(m.rows), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.pushConnected), 0)
}

func TestDuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRefresh(nil, time.Second)
		m.PushEvent("newImage")
		m.SetPushConnected(false)
		m.AlarmRaised()
		m.SetCountdown(1)
		m.SetRows(1)
	})
}
