package widget

import (
	"strconv"
	"time"

	"github.com/lsst-camera-dev/recent-images/internal/alarm"
	"github.com/lsst-camera-dev/recent-images/internal/columns"
)

// StatusAlarm is shown while the alarm is raised.
const StatusAlarm = "Alarm!"

// View is a rendered snapshot of the widget, published after every change.
type View struct {
	Seq     uint64           `json:"seq" msgpack:"seq"`
	Columns []string         `json:"columns" msgpack:"columns"`
	Rows    [][]columns.Cell `json:"rows" msgpack:"rows"`

	RowLimit     int    `json:"rowLimit" msgpack:"rowLimit"`
	Filter       string `json:"filter" msgpack:"filter"`
	PlayClick    bool   `json:"playClick" msgpack:"playClick"`
	PlayAlarm    bool   `json:"playAlarm" msgpack:"playAlarm"`
	AlarmSeconds int    `json:"alarmSeconds" msgpack:"alarmSeconds"`
	Countdown    int    `json:"countdown" msgpack:"countdown"`
	IsAlarm      bool   `json:"isAlarm" msgpack:"isAlarm"`
	Status       string `json:"status" msgpack:"status"`
	ShowSilence  bool   `json:"showSilence" msgpack:"showSilence"`

	RestURL        string `json:"restUrl" msgpack:"restUrl"`
	EventSourceURL string `json:"eventSourceUrl" msgpack:"eventSourceUrl"`
	ViewURL        string `json:"viewUrl" msgpack:"viewUrl"`

	LastRefresh *time.Time `json:"lastRefresh,omitempty" msgpack:"lastRefresh,omitempty"`
}

// StatusLine renders the alarm line under the table: "Alarm!" while the alarm
// is raised, "(Countdown N)" while counting down, and nothing otherwise.
func StatusLine(s alarm.State) string {
	switch {
	case s.IsAlarm():
		return StatusAlarm
	case s.Countdown > 0:
		return "(Countdown " + strconv.Itoa(s.Countdown) + ")"
	default:
		return ""
	}
}
