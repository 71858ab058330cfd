// Package timetable reconstructs lessons from a flat week dump.
//
// The dump is a tree (day -> lesson -> fields) flattened into a token
// sequence. Extraction runs in two passes: Segment cuts the stream into one
// window per lesson head and assigns day offsets, Resolve recovers the fields
// of a single window.
package timetable

import (
	"fmt"
	"iter"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"untiscal/internal/errs"
	"untiscal/internal/identity"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
)

const (
	// headClass marks the token that begins a lesson card. Wrapper tokens
	// share the prefix ("lesson-card-container") and are not heads.
	headClass = "lesson-card"

	markerTeacher = "lesson-card-resources-with-change-teachers"
	markerSubject = "lesson-card-subject"
	markerRoom    = "lesson-card-resources-with-change-rooms"
	markerNote    = "lesson-card-text-content-container"

	// MaxWindow bounds how many tokens after a head may belong to it.
	MaxWindow = 35
	// lookahead is how many tokens from a role marker may hold its value.
	lookahead = 3

	maxLabelLen = 20
	maxNoteLen  = 50
)

var clockTime = regexp.MustCompile(`(\d{2}):(\d{2})`)

// IsHead reports whether tok begins a lesson card.
func IsHead(tok Token) bool {
	for _, c := range strings.Fields(tok.ClassName) {
		if c == headClass {
			return true
		}
	}
	return false
}

// Window is the token run belonging to one lesson head. Tokens[0] is the
// head itself.
type Window struct {
	Head      int // index of the head in the stream
	DayOffset int // days after the anchor Monday
	Tokens    []Token
}

// dayCounter carries the day-boundary state through the scan. The stream
// has no per-record date; a start time earlier than the previous head's
// start is read as a wrap to the next day.
type dayCounter struct {
	lastStart string
	offset    int
}

func (d dayCounter) observe(start string) dayCounter {
	if start == "" {
		return d
	}
	if d.lastStart != "" && start < d.lastStart {
		d.offset++
	}
	d.lastStart = start
	return d
}

// Segment is the first pass: it yields one window per lesson head, in
// stream order. A window ends before the next head or after MaxWindow
// tokens, whichever comes first.
func Segment(tokens []Token) iter.Seq[Window] {
	return func(yield func(Window) bool) {
		var days dayCounter
		for i, tok := range tokens {
			if !IsHead(tok) {
				continue
			}

			if m := clockTime.FindString(tok.Text); m != "" {
				prev := days.offset
				days = days.observe(m)
				if days.offset != prev {
					appLog.Debug("day boundary", "index", i, "start", m, "day", days.offset)
				}
			}

			end := i + 1
			limit := min(i+MaxWindow, len(tokens))
			for end < limit && !IsHead(tokens[end]) {
				end++
			}

			if !yield(Window{Head: i, DayOffset: days.offset, Tokens: tokens[i:end]}) {
				return
			}
		}
	}
}

// Resolve is the second pass: it recovers one lesson from its window. The
// window must contain at least two clock times in the head's text;
// otherwise an EXTRACTION error is returned.
func Resolve(anchor time.Time, w Window) (model.Lesson, error) {
	if len(w.Tokens) == 0 {
		return model.Lesson{}, errs.Wrap(fmt.Errorf("empty window at %d", w.Head), errs.CodeExtraction, "resolve lesson")
	}
	head := w.Tokens[0]
	headText := strings.TrimSpace(head.Text)

	times := clockTime.FindAllString(headText, 2)
	if len(times) < 2 {
		return model.Lesson{}, errs.Wrap(fmt.Errorf("head at %d has %d clock times", w.Head, len(times)), errs.CodeExtraction, "resolve lesson")
	}

	f := resolveFields(w.Tokens)
	if f.room == "" || f.room == model.NotAvailable {
		if m := identity.RoomList.FindString(headText); m != "" {
			f.room = m
		}
	}

	l := model.Lesson{
		Date:      anchor.AddDate(0, 0, w.DayOffset).Format(model.DateLayout),
		StartTime: times[0],
		EndTime:   times[1],
		Subject:   orDefault(f.subject, model.UnknownSubject),
		Teacher:   orDefault(f.teacher, model.NotAvailable),
		Room:      orDefault(f.room, model.NotAvailable),
		Note:      f.note,
	}
	if err := l.Validate(); err != nil {
		return model.Lesson{}, errs.Wrap(err, errs.CodeExtraction, fmt.Sprintf("resolve lesson at %d", w.Head))
	}
	return l, nil
}

type fields struct {
	teacher, subject, room, note string
}

// resolveFields walks a window once. Each field is taken from the first
// matching token after its role marker; later candidates never replace it.
func resolveFields(tokens []Token) fields {
	var f fields
	roomAt := -1

	for i, tok := range tokens {
		testid := tok.Dataset["testid"]
		switch {
		case testid == "":
		case strings.Contains(testid, markerTeacher):
			if f.teacher == "" {
				_, f.teacher = pick(tokens, i, isLabel)
			}
		case strings.Contains(testid, markerSubject):
			if f.subject == "" {
				_, f.subject = pick(tokens, i, isLabel)
			}
		case strings.Contains(testid, markerRoom):
			if f.room == "" {
				roomAt, f.room = pick(tokens, i, func(_ int, s string) bool {
					return identity.IsRoomCode(s)
				})
			}
		case strings.Contains(testid, markerNote):
			if f.note == "" {
				_, f.note = pick(tokens, i, func(j int, s string) bool {
					return j != roomAt &&
						utf8.RuneCountInString(s) < maxNoteLen &&
						!strings.Contains(s, ":") &&
						!identity.IsRoomCode(s)
				})
			}
		}
	}
	return f
}

// pick returns the first token text in [from, from+lookahead) accepted by ok.
func pick(tokens []Token, from int, ok func(idx int, text string) bool) (int, string) {
	for j := from; j < min(from+lookahead, len(tokens)); j++ {
		text := strings.TrimSpace(tokens[j].Text)
		if text != "" && ok(j, text) {
			return j, text
		}
	}
	return -1, ""
}

func isLabel(_ int, s string) bool {
	return utf8.RuneCountInString(s) < maxLabelLen && !strings.Contains(s, ":")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Extract yields the lessons of one week in stream order. Heads that cannot
// be resolved are logged and skipped.
func Extract(anchor time.Time, tokens []Token) iter.Seq[model.Lesson] {
	return func(yield func(model.Lesson) bool) {
		for w := range Segment(tokens) {
			l, err := Resolve(anchor, w)
			if err != nil {
				appLog.Warn("lesson head skipped", "index", w.Head, "reason", err.Error())
				continue
			}
			if !yield(l) {
				return
			}
		}
	}
}

// ExtractAll collects Extract into a slice (never nil).
func ExtractAll(anchor time.Time, tokens []Token) []model.Lesson {
	out := []model.Lesson{}
	for l := range Extract(anchor, tokens) {
		out = append(out, l)
	}
	return out
}
