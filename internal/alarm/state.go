// Package alarm holds the "no new images" alarm as an explicit state machine.
//
// Apply takes the previous state and a batch of events and returns the next
// state together with the side effects the caller must perform. Nothing in
// this package touches timers, sockets or audio.
package alarm

// NotRunning is the countdown value before the first image arrives.
const NotRunning = -1

// State is the alarm and widget settings owned by one dashboard.
type State struct {
	AlarmSeconds int
	Countdown    int
	PlayClick    bool
	PlayAlarm    bool
	Rows         int
	Filter       string

	// expired is set only by the tick that moves Countdown from 1 to 0 and is
	// cleared by every countdown reset.
	expired bool
}

// New returns the start-up state. The countdown does not run until the first
// image arrives or the threshold is edited.
func New(alarmSeconds, rows int, filter string, playClick, playAlarm bool) State {
	if alarmSeconds < 0 {
		alarmSeconds = 0
	}
	return State{
		AlarmSeconds: alarmSeconds,
		Countdown:    NotRunning,
		PlayClick:    playClick,
		PlayAlarm:    playAlarm,
		Rows:         rows,
		Filter:       filter,
	}
}

// IsAlarm reports whether the countdown has expired and not been reset since.
func (s State) IsAlarm() bool {
	return s.expired && s.Countdown == 0
}

// Running reports whether the countdown is still counting down.
func (s State) Running() bool {
	return s.Countdown > 0
}

func (s *State) resetCountdown() {
	s.Countdown = s.AlarmSeconds
	s.expired = false
}

// Intent is a side effect requested by a transition.
type Intent int

const (
	// Refresh re-fetches the row collection.
	Refresh Intent = iota + 1
	// PlayClick plays the new-image click from its start.
	PlayClick
	// PlayAlarm starts the alarm sound from its start.
	PlayAlarm
	// StopAlarm stops the alarm sound and rewinds it.
	StopAlarm
)

func (i Intent) String() string {
	switch i {
	case Refresh:
		return "refresh"
	case PlayClick:
		return "play-click"
	case PlayAlarm:
		return "play-alarm"
	case StopAlarm:
		return "stop-alarm"
	default:
		return "unknown"
	}
}

// Apply runs one change batch: every event is applied in order, then exactly
// one reaction is chosen by comparing the result with prev.
//
// Reactions, highest priority first:
//  1. the alarm was just raised and PlayAlarm is on: play the alarm;
//  2. AlarmSeconds changed to a non-zero value: restart the countdown;
//  3. Rows or Filter changed: refresh.
func Apply(prev State, events ...Event) (State, []Intent) {
	next := prev
	var intents []Intent
	for _, ev := range events {
		intents = ev.apply(&next, intents)
	}

	switch {
	case prev.IsAlarm() != next.IsAlarm() && next.PlayAlarm && next.IsAlarm():
		intents = append(intents, PlayAlarm)
	case prev.AlarmSeconds != next.AlarmSeconds && next.AlarmSeconds != 0:
		next.resetCountdown()
	case prev.Rows != next.Rows || prev.Filter != next.Filter:
		intents = append(intents, Refresh)
	}
	return next, intents
}

// Has reports whether intents contains want.
func Has(intents []Intent, want Intent) bool {
	for _, i := range intents {
		if i == want {
			return true
		}
	}
	return false
}
