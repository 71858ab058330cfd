// Package identity derives the duplicate-detection keys for lessons: a
// content-addressed identifier that survives room-change notation, and a
// looser signature built from what the remote calendar actually stores.
package identity

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"untiscal/internal/model"
)

// IdentifierLength is the number of hex characters kept from the digest.
const IdentifierLength = 16

// RoomCode matches a room code at the start of a string: one letter and
// three or four digits, e.g. "O1027".
var RoomCode = regexp.MustCompile(`^[A-Za-z]\d{3,4}`)

// RoomList finds a comma-separated list of room codes anywhere in a string,
// e.g. "O1027, +O1101". Any entry may carry the "+" substitute prefix so that
// NormalizeRoom still sees which room is canonical.
var RoomList = regexp.MustCompile(`\+?[A-Za-z]\d{3,4}(?:,\s*\+?[A-Za-z]\d{3,4})*`)

// IsRoomCode reports whether s starts with a room code.
func IsRoomCode(s string) bool {
	return RoomCode.MatchString(strings.TrimSpace(s))
}

// NormalizeRoom picks the canonical room out of a comma-separated room list.
// Parts prefixed with "+" announce a substitute room; the first unprefixed
// room wins, the first substitute is used only when no canonical room is
// listed.
func NormalizeRoom(room string) string {
	parts := strings.Split(room, ",")

	var substitute string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		clean := strings.TrimSpace(strings.TrimLeft(p, "+"))
		if clean == "" || clean == model.NotAvailable {
			continue
		}
		if !strings.HasPrefix(p, "+") {
			return clean
		}
		if substitute == "" {
			substitute = clean
		}
	}
	if substitute != "" {
		return substitute
	}

	first := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(parts[0]), "+"))
	if first != "" {
		return first
	}
	return room
}

// Identifier returns the content hash of (date, start, end, subject,
// normalized room).
func Identifier(l model.Lesson) string {
	data := strings.Join([]string{
		l.Date,
		l.StartTime,
		l.EndTime,
		l.Subject,
		NormalizeRoom(l.Room),
	}, "_")
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])[:IdentifierLength]
}

// Annotate fills in the identifier of every lesson.
func Annotate(lessons []model.Lesson) {
	for i := range lessons {
		lessons[i].Identifier = Identifier(lessons[i])
	}
}

// Signature joins the fields a remote event exposes. location is the room
// string as stored remotely, i.e. not normalized.
func Signature(date, start, subject, location string) string {
	return date + "_" + start + "_" + subject + "_" + location
}

// LessonSignature is the signature the lesson's remote event would carry.
func LessonSignature(l model.Lesson) string {
	return Signature(l.Date, l.StartTime, l.Subject, l.Room)
}

// EventSignature computes the signature of a remote event, reading its start
// as wall-clock time in loc. All-day events have no signature.
func EventSignature(ev model.RemoteEvent, loc *time.Location) (string, bool) {
	if ev.AllDay || ev.Start.IsZero() {
		return "", false
	}
	start := ev.Start
	if loc != nil {
		start = start.In(loc)
	}
	return Signature(start.Format(model.DateLayout), start.Format(model.TimeLayout), ev.Summary, ev.Location), true
}
