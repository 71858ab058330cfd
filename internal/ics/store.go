// Package ics keeps lesson events in a local iCalendar file, either as a
// calendar.Store backend or as a one-off export for subscription clients.
package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"untiscal/internal/calendar"
	"untiscal/internal/errs"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
)

const (
	productID = "-//untiscal//timetable sync//EN"
	uidSuffix = "@untiscal"

	// privatePrefix marks X- properties that carry private metadata,
	// e.g. untis_uid <-> X-UNTIS-UID.
	privatePrefix = "X-UNTIS"
)

// FileStore implements calendar.Store on top of a single .ics file. Every
// mutation rewrites the file atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore returns a store for path. The file is created on first insert.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, now: time.Now}
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// List implements calendar.Store. Page tokens are offsets into the
// start-ordered listing.
func (s *FileStore) List(_ context.Context, q calendar.ListQuery) (calendar.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return calendar.Page{}, err
	}

	var events []model.RemoteEvent
	for _, ve := range cal.Events() {
		ev, perr := fromVEvent(ve)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "path", s.path)
			continue
		}
		if !ev.End.IsZero() && !ev.End.After(q.TimeMin) {
			continue
		}
		if !ev.Start.Before(q.TimeMax) {
			continue
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })

	offset := 0
	if q.PageToken != "" {
		n, err := strconv.Atoi(q.PageToken)
		if err != nil || n < 0 {
			return calendar.Page{}, errs.Wrap(fmt.Errorf("bad page token %q", q.PageToken), errs.CodeInvalidInput, "list ics events")
		}
		offset = min(n, len(events))
	}
	size := q.PageSize
	if size <= 0 {
		size = calendar.DefaultPageSize
	}
	end := min(offset+size, len(events))

	page := calendar.Page{Events: events[offset:end]}
	if end < len(events) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

// Insert implements calendar.Store.
func (s *FileStore) Insert(_ context.Context, ev model.NewEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return "", err
	}
	id := uuid.NewString() + uidSuffix
	addEvent(cal, id, ev, s.now())

	if err := s.save(cal); err != nil {
		return "", errs.Wrap(err, errs.CodeRemoteTransport, "write ics file")
	}
	return id, nil
}

// Delete implements calendar.Store.
func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, err := s.load()
	if err != nil {
		return err
	}

	found := false
	kept := cal.Components[:0]
	for _, c := range cal.Components {
		if ve, ok := c.(*ical.VEvent); ok && uidOf(ve) == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return errs.Wrap(fmt.Errorf("event %s not found", id), errs.CodeRemoteTransport, "delete ics event")
	}
	cal.Components = kept

	if err := s.save(cal); err != nil {
		return errs.Wrap(err, errs.CodeRemoteTransport, "write ics file")
	}
	return nil
}

func (s *FileStore) load() (*ical.Calendar, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newCalendar(), nil
		}
		return nil, errs.Wrap(err, errs.CodeRemoteAuth, "open ics file")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return newCalendar(), nil
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(data))
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeRemoteTransport, "parse ics file")
	}
	return cal, nil
}

func (s *FileStore) save(cal *ical.Calendar) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".untiscal-ics-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(cal.Serialize()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

func newCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	return cal
}

func addEvent(cal *ical.Calendar, id string, ev model.NewEvent, now time.Time) {
	ve := cal.AddEvent(id)
	ve.SetCreatedTime(now)
	ve.SetDtStampTime(now)
	ve.SetStartAt(ev.Start)
	ve.SetEndAt(ev.End)
	ve.SetSummary(ev.Summary)
	if ev.Location != "" {
		ve.SetLocation(ev.Location)
	}
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}

	keys := make([]string, 0, len(ev.Private))
	for k := range ev.Private {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ve.SetProperty(ical.ComponentProperty(privateProperty(k)), ev.Private[k])
	}

	if ev.ReminderMinutes > 0 {
		alarm := ve.AddAlarm()
		alarm.SetAction(ical.ActionDisplay)
		alarm.SetTrigger(fmt.Sprintf("-PT%dM", ev.ReminderMinutes))
		alarm.SetProperty(ical.ComponentPropertyDescription, ev.Summary)
	}
}

func privateProperty(key string) string {
	return "X-" + strings.ToUpper(strings.ReplaceAll(key, "_", "-"))
}

func privateKey(property string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(property, "X-"), "-", "_"))
}

func uidOf(ve *ical.VEvent) string {
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		return p.Value
	}
	return ""
}

func fromVEvent(ve *ical.VEvent) (model.RemoteEvent, error) {
	var out model.RemoteEvent

	out.ID = uidOf(ve)
	if out.ID == "" {
		return out, errors.New("missing UID")
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("event %s: %w", out.ID, err)
	}
	out.Start = start
	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	}

	// VALUE=DATE or a date-only DTSTART marks an all-day event.
	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil && !strings.Contains(p.Value, "T") {
		out.AllDay = true
	}

	if p := ve.GetProperty(ical.ComponentPropertyCreated); p != nil {
		if t, err := time.Parse("20060102T150405Z", p.Value); err == nil {
			out.Created = t
		}
	}

	for _, p := range ve.Properties {
		if strings.HasPrefix(p.IANAToken, privatePrefix) {
			if out.Private == nil {
				out.Private = map[string]string{}
			}
			out.Private[privateKey(p.IANAToken)] = p.Value
		}
	}
	return out, nil
}
