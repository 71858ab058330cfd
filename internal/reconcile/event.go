package reconcile

import (
	"fmt"
	"strings"
	"time"

	"untiscal/internal/model"
)

// Description labels. Existing calendars and the cleanup heuristics match on
// these strings.
const (
	TeacherLabel = "Lehrer: "
	RoomLabel    = "Raum: "
	NoteMarker   = "📝 "
)

// EventOptions is the fixed presentation applied to every created event.
type EventOptions struct {
	Location        *time.Location
	ColorID         string
	ReminderMinutes int
}

// Describe renders the event description of l.
func Describe(l model.Lesson) string {
	lines := []string{TeacherLabel + l.Teacher, RoomLabel + l.Room}
	if l.Note != "" {
		lines = append(lines, NoteMarker+l.Note)
	}
	return strings.Join(lines, "\n")
}

// NewEventFor builds the create payload for l.
func NewEventFor(l model.Lesson, opts EventOptions) (model.NewEvent, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	start, end, err := l.Interval(loc)
	if err != nil {
		return model.NewEvent{}, fmt.Errorf("lesson %s: %w", l, err)
	}
	return model.NewEvent{
		Summary:         l.Subject,
		Location:        l.Room,
		Description:     Describe(l),
		Start:           start,
		End:             end,
		TimeZone:        loc.String(),
		ColorID:         opts.ColorID,
		ReminderMinutes: opts.ReminderMinutes,
		Private: map[string]string{
			model.MetaLessonID: l.Identifier,
			model.MetaSource:   model.SourceAutomatedSync,
		},
	}, nil
}

// NewEvents builds payloads for all lessons, skipping those whose times do
// not parse.
func NewEvents(lessons []model.Lesson, opts EventOptions) []model.NewEvent {
	out := make([]model.NewEvent, 0, len(lessons))
	for _, l := range lessons {
		ev, err := NewEventFor(l, opts)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out
}
