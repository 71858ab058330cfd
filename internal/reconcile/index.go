// Package reconcile matches extracted lessons against the events already in
// the remote calendar and creates only those that are missing.
package reconcile

import (
	"context"
	"time"
	"unicode/utf8"

	"untiscal/internal/calendar"
	"untiscal/internal/identity"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
)

// MaxSummaryLen is the longest summary an event may have and still be
// treated as a lesson created by this tool.
const MaxSummaryLen = 10

// Index maps duplicate keys of known lesson events to their remote ids.
// ByIdentifier is consulted before BySignature.
type Index struct {
	ByIdentifier map[string]string
	BySignature  map[string]string
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		ByIdentifier: map[string]string{},
		BySignature:  map[string]string{},
	}
}

// Plausible reports whether ev looks like a lesson event: a short summary and
// a room-code location. Events tagged with a lesson identifier always qualify.
func Plausible(ev model.RemoteEvent) bool {
	if ev.LessonID() != "" && ev.Private[model.MetaSource] == model.SourceAutomatedSync {
		return true
	}
	return utf8.RuneCountInString(ev.Summary) <= MaxSummaryLen && identity.IsRoomCode(ev.Location)
}

// Add records ev under its identifier and signature. Implausible events are
// ignored and false is returned.
func (x *Index) Add(ev model.RemoteEvent, loc *time.Location) bool {
	if !Plausible(ev) {
		return false
	}
	if id := ev.LessonID(); id != "" {
		x.ByIdentifier[id] = ev.ID
	}
	if sig, ok := identity.EventSignature(ev, loc); ok {
		x.BySignature[sig] = ev.ID
	}
	return true
}

// Lookup returns the remote id of a lesson already present in the index.
func (x *Index) Lookup(l model.Lesson) (string, bool) {
	if id, ok := x.ByIdentifier[l.Identifier]; ok {
		return id, true
	}
	if id, ok := x.BySignature[identity.LessonSignature(l)]; ok {
		return id, true
	}
	return "", false
}

// Record stores a freshly created event under both keys of l.
func (x *Index) Record(l model.Lesson, remoteID string) {
	if l.Identifier != "" {
		x.ByIdentifier[l.Identifier] = remoteID
	}
	x.BySignature[identity.LessonSignature(l)] = remoteID
}

// BuildIndex enumerates every event in w and indexes the plausible ones. Any
// enumeration failure is returned as is; no partial index is produced.
func BuildIndex(ctx context.Context, store calendar.Store, w calendar.Window, pageSize int, loc *time.Location) (*Index, error) {
	events, err := calendar.ListAll(ctx, store, w, pageSize)
	if err != nil {
		return nil, err
	}

	x := NewIndex()
	plausible := 0
	for _, ev := range events {
		if x.Add(ev, loc) {
			plausible++
		}
	}

	appLog.Info("remote index built",
		"window", w.String(),
		"events", len(events),
		"lesson_events", plausible,
		"by_identifier", len(x.ByIdentifier),
		"by_signature", len(x.BySignature),
	)
	return x, nil
}
