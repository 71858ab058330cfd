package model

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels used instead of empty fields. Downstream code compares against
// these values and never special-cases missing fields.
const (
	UnknownSubject = "Unbekannt"
	NotAvailable   = "N/A"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Lesson is one scheduled teaching period reconstructed from a week dump.
// Date, StartTime and EndTime are kept in their textual forms; the textual
// forms feed the identifier hash and sort lexicographically.
type Lesson struct {
	Identifier string `json:"identifier"`
	Date       string `json:"date"`       // YYYY-MM-DD
	StartTime  string `json:"start_time"` // HH:MM
	EndTime    string `json:"end_time"`   // HH:MM
	Subject    string `json:"subject"`
	Teacher    string `json:"teacher"`
	Room       string `json:"room"`
	Note       string `json:"note,omitempty"`
}

func (l Lesson) String() string {
	return fmt.Sprintf("%s %s-%s %s @ %s", l.Date, l.StartTime, l.EndTime, l.Subject, l.Room)
}

// Validate checks that the lesson describes a non-empty same-day interval.
func (l Lesson) Validate() error {
	if _, err := time.Parse(DateLayout, l.Date); err != nil {
		return fmt.Errorf("invalid date %q: %w", l.Date, err)
	}
	start, err := time.Parse(TimeLayout, l.StartTime)
	if err != nil {
		return fmt.Errorf("invalid start time %q: %w", l.StartTime, err)
	}
	end, err := time.Parse(TimeLayout, l.EndTime)
	if err != nil {
		return fmt.Errorf("invalid end time %q: %w", l.EndTime, err)
	}
	if !start.Before(end) {
		return errors.New("lesson start must be before its end")
	}
	return nil
}

// Interval returns the lesson's start and end as wall-clock times in loc.
func (l Lesson) Interval(loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout+" "+TimeLayout, l.Date+" "+l.StartTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.ParseInLocation(DateLayout+" "+TimeLayout, l.Date+" "+l.EndTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// Less orders lessons by (date, start time).
func Less(a, b Lesson) bool {
	if a.Date != b.Date {
		return a.Date < b.Date
	}
	return a.StartTime < b.StartTime
}

// Private metadata keys stored on remote events.
const (
	MetaLessonID = "untis_uid"
	MetaSource   = "untis_source"

	SourceAutomatedSync = "automated_sync"
)

// RemoteEvent is a snapshot of an event held by the remote store.
type RemoteEvent struct {
	ID          string
	Summary     string
	Location    string
	Description string

	// AllDay events carry only a date; Start is midnight in that case.
	AllDay bool
	Start  time.Time
	End    time.Time

	Created time.Time
	Private map[string]string
}

// LessonID returns the identifier stored in the private metadata, if any.
func (e RemoteEvent) LessonID() string {
	if e.Private == nil {
		return ""
	}
	return e.Private[MetaLessonID]
}

// NewEvent is the payload of a create call.
type NewEvent struct {
	Summary     string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string

	ColorID         string
	ReminderMinutes int // popup reminder; 0 disables overrides

	Private map[string]string
}
