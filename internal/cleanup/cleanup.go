// Package cleanup finds lesson events that are already in the remote
// calendar and removes them, either wholesale or only the duplicates.
package cleanup

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"untiscal/internal/calendar"
	"untiscal/internal/identity"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
	"untiscal/internal/reconcile"
)

// DefaultLookback reaches further back than a sync so that lessons from the
// previous two weeks are cleaned up as well.
const DefaultLookback = 14 * 24 * time.Hour

// KnownSubjects are subject abbreviations used by the school's timetable.
var KnownSubjects = []string{
	"Deu", "Mat", "Eng", "Fra", "Spa", "Ita",
	"Phy", "Che", "Bio",
	"GeGk", "Geo", "Ges", "WiRe", "Pol",
	"Inf", "IfKo",
	"Spo", "Sport",
	"Mus", "Kun", "Rel", "Eth",
}

// Reason explains why an event was selected.
type Reason string

const (
	ReasonTagged      Reason = "tagged"
	ReasonSubject     Reason = "known subject"
	ReasonRoom        Reason = "room location"
	ReasonShort       Reason = "short summary with location"
	ReasonDescription Reason = "lesson description"
	ReasonDuplicate   Reason = "duplicate"
)

const (
	maxRoomLocationLen = 10
	maxShortSummaryLen = 6
)

// Candidate is an event selected for deletion.
type Candidate struct {
	Event  model.RemoteEvent
	Reason Reason
}

// Classify returns the first rule that marks ev as a lesson event.
func Classify(ev model.RemoteEvent, subjects []string) (Reason, bool) {
	switch {
	case ev.LessonID() != "":
		return ReasonTagged, true
	case slices.Contains(subjects, ev.Summary):
		return ReasonSubject, true
	case ev.Location != "" && utf8.RuneCountInString(ev.Location) <= maxRoomLocationLen && identity.IsRoomCode(ev.Location):
		return ReasonRoom, true
	case ev.Location != "" && utf8.RuneCountInString(ev.Summary) <= maxShortSummaryLen:
		return ReasonShort, true
	case strings.Contains(ev.Description, strings.TrimSpace(reconcile.TeacherLabel)),
		strings.Contains(ev.Description, strings.TrimSpace(reconcile.RoomLabel)):
		return ReasonDescription, true
	}
	return "", false
}

// FindLessonEvents selects every event that looks like a lesson. The rules
// are broader than the sync index's and may match manual entries; callers
// confirm before deleting.
func FindLessonEvents(events []model.RemoteEvent, subjects []string) []Candidate {
	if subjects == nil {
		subjects = KnownSubjects
	}
	var out []Candidate
	for _, ev := range events {
		if r, ok := Classify(ev, subjects); ok {
			out = append(out, Candidate{Event: ev, Reason: r})
		}
	}
	return out
}

// FindDuplicates groups tagged events by lesson identifier and returns all
// but the oldest of each group. Untagged events are never considered.
func FindDuplicates(events []model.RemoteEvent) []Candidate {
	groups := map[string][]model.RemoteEvent{}
	var order []string
	for _, ev := range events {
		id := ev.LessonID()
		if id == "" {
			continue
		}
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], ev)
	}

	var out []Candidate
	for _, id := range order {
		g := groups[id]
		if len(g) < 2 {
			continue
		}
		sort.SliceStable(g, func(i, j int) bool { return g[i].Created.Before(g[j].Created) })
		appLog.Debug("duplicate group", "identifier", id, "keep", g[0].ID, "drop", len(g)-1)
		for _, ev := range g[1:] {
			out = append(out, Candidate{Event: ev, Reason: ReasonDuplicate})
		}
	}
	return out
}

// Result counts deletions.
type Result struct {
	Deleted int
	Failed  int
}

// Delete removes every candidate. Failures are logged and counted; the
// remaining candidates are still processed. With dryRun nothing is deleted
// and every candidate counts as deleted.
func Delete(ctx context.Context, store calendar.Store, candidates []Candidate, dryRun bool) Result {
	var res Result
	for _, c := range candidates {
		if dryRun {
			res.Deleted++
			continue
		}
		if err := store.Delete(ctx, c.Event.ID); err != nil {
			appLog.Error("event delete failed", err, "id", c.Event.ID, "summary", c.Event.Summary)
			res.Failed++
			continue
		}
		res.Deleted++
	}
	appLog.Info("cleanup finished", "candidates", len(candidates), "deleted", res.Deleted, "failed", res.Failed, "dry_run", dryRun)
	return res
}
