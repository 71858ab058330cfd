package ics

import (
	"io"
	"time"

	"untiscal/internal/model"
)

// Export writes events as a standalone calendar. The UID of each VEVENT is
// derived from the lesson identifier in its private metadata, so re-exports
// replace rather than duplicate entries in subscribing clients.
func Export(w io.Writer, events []model.NewEvent, now time.Time) error {
	cal := newCalendar()
	for _, ev := range events {
		id := ev.Private[model.MetaLessonID]
		if id == "" {
			id = ev.Start.UTC().Format("20060102T150405Z") + "-" + ev.Summary
		}
		addEvent(cal, id+uidSuffix, ev, now)
	}
	_, err := io.WriteString(w, cal.Serialize())
	return err
}
