package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"untiscal/internal/calendar/calendartest"
	"untiscal/internal/model"
)

var t0 = time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)

func tagged(id, uid string, created time.Time) model.RemoteEvent {
	return model.RemoteEvent{
		ID:      id,
		Summary: "Mat",
		Start:   t0,
		End:     t0.Add(45 * time.Minute),
		Created: created,
		Private: map[string]string{model.MetaLessonID: uid},
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		ev   model.RemoteEvent
		want Reason
		ok   bool
	}{
		{"tagged", tagged("a", "u", t0), ReasonTagged, true},
		{"subject", model.RemoteEvent{Summary: "Deu"}, ReasonSubject, true},
		{"room", model.RemoteEvent{Summary: "Vertretung Mathe", Location: "O1027"}, ReasonRoom, true},
		{"short with location", model.RemoteEvent{Summary: "AG", Location: "Aula"}, ReasonShort, true},
		{"description", model.RemoteEvent{Summary: "Exkursion Museum", Description: "Lehrer: FayK"}, ReasonDescription, true},
		{"unrelated", model.RemoteEvent{Summary: "Zahnarzt", Location: "Praxis Dr. Weber"}, "", false},
		{"short without location", model.RemoteEvent{Summary: "Kino"}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Classify(tc.ev, KnownSubjects)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFindLessonEventsDefaultsSubjects(t *testing.T) {
	events := []model.RemoteEvent{
		{ID: "1", Summary: "Sport"},
		{ID: "2", Summary: "Geburtstag"},
	}
	got := FindLessonEvents(events, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "1", got[0].Event.ID)
	assert.Equal(t, ReasonSubject, got[0].Reason)
}

func TestFindDuplicatesKeepsOldest(t *testing.T) {
	events := []model.RemoteEvent{
		tagged("newer", "u1", t0.Add(2*time.Hour)),
		tagged("oldest", "u1", t0),
		tagged("middle", "u1", t0.Add(time.Hour)),
		tagged("single", "u2", t0),
		{ID: "untagged", Summary: "Mat"},
		{ID: "untagged-2", Summary: "Mat"},
	}

	got := FindDuplicates(events)
	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.Event.ID)
		assert.Equal(t, ReasonDuplicate, c.Reason)
	}
	assert.ElementsMatch(t, []string{"newer", "middle"}, ids)
}

func TestDeleteContinuesOnFailure(t *testing.T) {
	store := calendartest.New(
		tagged("a", "u1", t0),
		tagged("b", "u2", t0),
		tagged("c", "u3", t0),
	)
	store.DeleteErr = func(id string) error {
		if id == "b" {
			return errors.New("backend error")
		}
		return nil
	}

	cands := FindLessonEvents(store.Events(), nil)
	require.Len(t, cands, 3)

	res := Delete(context.Background(), store, cands, false)
	assert.Equal(t, Result{Deleted: 2, Failed: 1}, res)
	assert.Equal(t, 3, store.DeleteCalls)
	require.Len(t, store.Events(), 1)
	assert.Equal(t, "b", store.Events()[0].ID)
}

func TestDeleteDryRun(t *testing.T) {
	store := calendartest.New(tagged("a", "u1", t0))
	res := Delete(context.Background(), store, FindLessonEvents(store.Events(), nil), true)
	assert.Equal(t, Result{Deleted: 1}, res)
	assert.Zero(t, store.DeleteCalls)
	assert.Len(t, store.Events(), 1)
}
