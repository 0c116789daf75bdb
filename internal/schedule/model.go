// Package schedule defines the merged schedule payload: a map from ISO
// date to the ordered lessons of that day, as persisted by the parser
// and consumed by the calendar generator.
package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Lesson is a single scheduled lesson instance. Optional fields are
// empty/nil when the portal omits them; TimeStart and TimeEnd (HH:MM)
// are either both present or both absent.
type Lesson struct {
	Subject    string `json:"subject"`
	WorkType   string `json:"work_type"`
	WorkTypeID int    `json:"work_type_id"`
	PairID     int64  `json:"pair_id"`

	Format    string `json:"format,omitempty"`
	TimeStart string `json:"time_start,omitempty"`
	TimeEnd   string `json:"time_end,omitempty"`

	TeacherName string `json:"teacher_name,omitempty"`
	TeacherID   *int64 `json:"teacher_id,omitempty"`

	Room     string `json:"room,omitempty"`
	Building string `json:"building,omitempty"`
	Group    string `json:"group,omitempty"`
	Note     string `json:"note,omitempty"`

	ZoomURL      string `json:"zoom_url,omitempty"`
	ZoomPassword string `json:"zoom_password,omitempty"`
	ZoomInfo     string `json:"zoom_info,omitempty"`
}

// Timed reports whether the lesson has a concrete time interval.
func (l Lesson) Timed() bool {
	return l.TimeStart != "" && l.TimeEnd != ""
}

// Payload maps an ISO date (YYYY-MM-DD) to that day's lessons in source
// order.
type Payload map[string][]Lesson

// Dates returns the payload's date keys in ascending order. ISO dates
// sort correctly as strings.
func (p Payload) Dates() []string {
	dates := make([]string, 0, len(p))
	for d := range p {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Load reads the merged schedule store from disk. The store is the
// durable source of truth; nothing holds it in memory across runs.
func Load(path string) (Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schedule: read store: %w", err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("schedule: decode store: %w", err)
	}
	return p, nil
}
