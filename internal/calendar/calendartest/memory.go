// Package calendartest provides an in-memory calendar.Store for tests.
package calendartest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"sync"
	"time"

	"untiscal/internal/calendar"
	"untiscal/internal/model"
)

// Store keeps events in memory and paginates listings with numeric tokens.
// Errors can be injected per operation; ListErrAtPage fails the listing on
// the given 1-based page.
type Store struct {
	mu     sync.Mutex
	events []model.RemoteEvent
	nextID int

	ListErrAtPage int
	ListErr       error
	InsertErr     func(ev model.NewEvent) error
	DeleteErr     func(id string) error

	ListCalls   int
	InsertCalls int
	DeleteCalls int
	Now         func() time.Time
}

// New returns an empty store seeded with events.
func New(events ...model.RemoteEvent) *Store {
	s := &Store{}
	for _, ev := range events {
		s.Seed(ev)
	}
	return s
}

// Seed adds an event as if it already existed remotely.
func (s *Store) Seed(ev model.RemoteEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		s.nextID++
		ev.ID = "seed-" + strconv.Itoa(s.nextID)
	}
	s.events = append(s.events, ev)
}

// Events returns a copy of the stored events ordered by start.
func (s *Store) Events() []model.RemoteEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.RemoteEvent, len(s.events))
	copy(out, s.events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// List implements calendar.Store.
func (s *Store) List(_ context.Context, q calendar.ListQuery) (calendar.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCalls++

	offset := 0
	if q.PageToken != "" {
		n, err := strconv.Atoi(q.PageToken)
		if err != nil {
			return calendar.Page{}, fmt.Errorf("bad page token %q", q.PageToken)
		}
		offset = n
	}
	size := q.PageSize
	if size <= 0 {
		size = calendar.DefaultPageSize
	}
	if s.ListErrAtPage > 0 && offset/size+1 == s.ListErrAtPage {
		if s.ListErr != nil {
			return calendar.Page{}, s.ListErr
		}
		return calendar.Page{}, errors.New("injected list failure")
	}

	var match []model.RemoteEvent
	for _, ev := range s.events {
		if !ev.End.IsZero() && !ev.End.After(q.TimeMin) {
			continue
		}
		if !ev.Start.Before(q.TimeMax) {
			continue
		}
		match = append(match, ev)
	}
	sort.SliceStable(match, func(i, j int) bool { return match[i].Start.Before(match[j].Start) })

	if offset > len(match) {
		offset = len(match)
	}
	end := min(offset+size, len(match))
	page := calendar.Page{Events: append([]model.RemoteEvent(nil), match[offset:end]...)}
	if end < len(match) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// Insert implements calendar.Store.
func (s *Store) Insert(_ context.Context, ev model.NewEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InsertCalls++
	if s.InsertErr != nil {
		if err := s.InsertErr(ev); err != nil {
			return "", err
		}
	}

	s.nextID++
	id := "evt-" + strconv.Itoa(s.nextID)
	created := time.Now()
	if s.Now != nil {
		created = s.Now()
	}
	s.events = append(s.events, model.RemoteEvent{
		ID:          id,
		Summary:     ev.Summary,
		Location:    ev.Location,
		Description: ev.Description,
		Start:       ev.Start,
		End:         ev.End,
		Created:     created,
		Private:     maps.Clone(ev.Private),
	})
	return id, nil
}

// Delete implements calendar.Store.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteCalls++
	if s.DeleteErr != nil {
		if err := s.DeleteErr(id); err != nil {
			return err
		}
	}
	for i, ev := range s.events {
		if ev.ID == id {
			s.events = append(s.events[:i], s.events[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("event %s not found", id)
}
