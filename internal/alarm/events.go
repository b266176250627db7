package alarm

// Event is one input to Apply.
type Event interface {
	apply(s *State, intents []Intent) []Intent
}

// Tick is the one-second countdown tick.
type Tick struct{}

func (Tick) apply(s *State, intents []Intent) []Intent {
	if s.Countdown > 0 {
		s.Countdown--
		if s.Countdown == 0 {
			s.expired = true
		}
	}
	return intents
}

// NewImage is a newImage notification from the push channel. It refreshes,
// clicks when enabled, and restarts the countdown, in that order.
type NewImage struct{}

func (NewImage) apply(s *State, intents []Intent) []Intent {
	intents = append(intents, Refresh)
	if s.PlayClick {
		intents = append(intents, PlayClick)
	}
	s.resetCountdown()
	return intents
}

// SetAlarmSeconds edits the alarm threshold. Negative values are clamped to 0;
// 0 disables the alarm.
type SetAlarmSeconds struct{ Seconds int }

func (e SetAlarmSeconds) apply(s *State, intents []Intent) []Intent {
	if e.Seconds < 0 {
		e.Seconds = 0
	}
	s.AlarmSeconds = e.Seconds
	return intents
}

// SetPlayClick toggles the new-image click.
type SetPlayClick struct{ Enabled bool }

func (e SetPlayClick) apply(s *State, intents []Intent) []Intent {
	s.PlayClick = e.Enabled
	return intents
}

// SetPlayAlarm toggles the alarm sound. It only affects future alarms.
type SetPlayAlarm struct{ Enabled bool }

func (e SetPlayAlarm) apply(s *State, intents []Intent) []Intent {
	s.PlayAlarm = e.Enabled
	return intents
}

// Silence stops the alarm sound. The alarm itself stays raised until the next
// image or threshold edit.
type Silence struct{}

func (Silence) apply(_ *State, intents []Intent) []Intent {
	return append(intents, StopAlarm)
}

// SetRows changes the page size. Values below 1 are ignored.
type SetRows struct{ Rows int }

func (e SetRows) apply(s *State, intents []Intent) []Intent {
	if e.Rows >= 1 {
		s.Rows = e.Rows
	}
	return intents
}

// SetFilter changes the backend filter expression.
type SetFilter struct{ Filter string }

func (e SetFilter) apply(s *State, intents []Intent) []Intent {
	s.Filter = e.Filter
	return intents
}
