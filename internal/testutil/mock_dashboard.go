// mock_dashboard.go - Mock dashboard and history implementations for testing
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/lsst-camera-dev/recent-images/internal/alarm"
	"github.com/lsst-camera-dev/recent-images/internal/history"
	"github.com/lsst-camera-dev/recent-images/internal/widget"
)

// MockDashboard applies controls to an alarm.State directly, without an
// event loop, and records every call
type MockDashboard struct {
	mu    sync.Mutex
	state alarm.State
	calls []string
	// Err, when set, is returned by every control
	Err error
}

// NewMockDashboard creates a mock dashboard with the given threshold
func NewMockDashboard(alarmSeconds int) *MockDashboard {
	return &MockDashboard{
		state: alarm.New(alarmSeconds, 20, "", true, false),
	}
}

func (m *MockDashboard) View() widget.View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *MockDashboard) viewLocked() widget.View {
	s := m.state
	return widget.View{
		RowLimit:     s.Rows,
		Filter:       s.Filter,
		PlayClick:    s.PlayClick,
		PlayAlarm:    s.PlayAlarm,
		AlarmSeconds: s.AlarmSeconds,
		Countdown:    s.Countdown,
		IsAlarm:      s.IsAlarm(),
		Status:       widget.StatusLine(s),
		ShowSilence:  s.IsAlarm() && s.PlayAlarm,
	}
}

func (m *MockDashboard) apply(call string, ev alarm.Event) (widget.View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if m.Err != nil {
		return widget.View{}, m.Err
	}
	m.state, _ = alarm.Apply(m.state, ev)
	return m.viewLocked(), nil
}

func (m *MockDashboard) SetPlayClick(_ context.Context, enabled bool) (widget.View, error) {
	return m.apply("playClick", alarm.SetPlayClick{Enabled: enabled})
}

func (m *MockDashboard) SetPlayAlarm(_ context.Context, enabled bool) (widget.View, error) {
	return m.apply("playAlarm", alarm.SetPlayAlarm{Enabled: enabled})
}

func (m *MockDashboard) SetAlarmSeconds(_ context.Context, seconds int) (widget.View, error) {
	return m.apply("alarmSeconds", alarm.SetAlarmSeconds{Seconds: seconds})
}

func (m *MockDashboard) Silence(_ context.Context) (widget.View, error) {
	return m.apply("silence", alarm.Silence{})
}

func (m *MockDashboard) SetRows(_ context.Context, rows int) (widget.View, error) {
	return m.apply("rows", alarm.SetRows{Rows: rows})
}

func (m *MockDashboard) SetFilter(_ context.Context, filter string) (widget.View, error) {
	return m.apply("filter", alarm.SetFilter{Filter: filter})
}

// Test Helper Methods

// Tick advances the countdown as the widget's ticker would
func (m *MockDashboard) Tick(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.state, _ = alarm.Apply(m.state, alarm.Tick{})
	}
}

// NewImage applies a newImage notification
func (m *MockDashboard) NewImage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state, _ = alarm.Apply(m.state, alarm.NewImage{})
}

// Calls returns the controls applied so far
func (m *MockDashboard) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MockHistory is an in-memory history reader
type MockHistory struct {
	ArrivalList []history.Arrival
	AlarmList   []history.AlarmEvent
	Err         error
	// LastLimit is the limit of the most recent query
	LastLimit int
}

// NewMockHistory creates a history with one arrival and one raised alarm
func NewMockHistory() *MockHistory {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &MockHistory{
		ArrivalList: []history.Arrival{{ObsID: "MC_O_20240501_000001", ImgType: "BIAS", Rafts: 25, FirstSeen: now}},
		AlarmList:   []history.AlarmEvent{{ID: 1, Kind: history.KindRaised, At: now, AlarmSeconds: 60}},
	}
}

func (m *MockHistory) Arrivals(_ context.Context, limit int) ([]history.Arrival, error) {
	m.LastLimit = limit
	if m.Err != nil {
		return nil, m.Err
	}
	return m.ArrivalList, nil
}

func (m *MockHistory) Alarms(_ context.Context, limit int) ([]history.AlarmEvent, error) {
	m.LastLimit = limit
	if m.Err != nil {
		return nil, m.Err
	}
	return m.AlarmList, nil
}
