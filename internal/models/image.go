package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ImageRecord is one image reported by the instrument's image service.
// Records are immutable once decoded; a refresh replaces the whole collection.
type ImageRecord struct {
	ObsID        string    `json:"obsId"`
	ImgType      string    `json:"imgType"`
	TestType     string    `json:"testType"`
	DarkTime     float64   `json:"darkTime"`
	ExposureTime float64   `json:"exposureTime"`
	RunNumber    Text      `json:"runNumber"`
	Tseqnum      int64     `json:"tseqnum"`
	ObsDate      Timestamp `json:"obsDate"`
	RaftMask     int64     `json:"raftMask"`
}

// ImagesResponse is the body returned by the images query.
// Data is a pointer so a missing or null field can be told apart from an empty list.
type ImagesResponse struct {
	Data *[]ImageRecord `json:"data"`
}

// Text holds a value the service may send either as a JSON string or a number.
type Text string

// UnmarshalJSON accepts strings, numbers and null.
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*t = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("text field: %w", err)
		}
		*t = Text(n.String())
	}
	return nil
}

// Timestamp is an observation time. The service sends epoch milliseconds or an
// ISO-8601 string; both are accepted.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// UnmarshalJSON decodes epoch milliseconds or an ISO-8601 string.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		return ts.parseString(s)
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("obsDate: %w", err)
	}
	ts.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

func (ts *Timestamp) parseString(s string) error {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		ts.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	for _, layout := range timestampLayouts {
		// Strings without an offset are read as UTC.
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("obsDate: unrecognised timestamp %q", s)
}

// MarshalJSON writes the time as epoch milliseconds, the form the service uses.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(ts.UnixMilli(), 10)), nil
}

// ISOSeconds formats the time the way the table shows it: UTC ISO-8601
// truncated to whole seconds with no zone suffix.
func (ts Timestamp) ISOSeconds() string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format("2006-01-02T15:04:05")
}
