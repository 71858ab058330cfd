package calendar

import (
	"context"
	"errors"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"untiscal/internal/errs"
	"untiscal/internal/model"
)

// GoogleStore talks to one Google calendar through the Calendar v3 API.
type GoogleStore struct {
	svc        *gcal.Service
	calendarID string
}

// NewGoogleStore builds a store on top of an authorized HTTP client, see
// OAuthClient. Extra options are passed to the API client.
func NewGoogleStore(ctx context.Context, client *http.Client, calendarID string, opts ...option.ClientOption) (*GoogleStore, error) {
	if calendarID == "" {
		calendarID = "primary"
	}
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeRemoteAuth, "create calendar service")
	}
	return &GoogleStore{svc: svc, calendarID: calendarID}, nil
}

// List implements Store.
func (g *GoogleStore) List(ctx context.Context, q ListQuery) (Page, error) {
	call := g.svc.Events.List(g.calendarID).
		TimeMin(q.TimeMin.UTC().Format(time.RFC3339)).
		TimeMax(q.TimeMax.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	if q.PageSize > 0 {
		call = call.MaxResults(int64(q.PageSize))
	}
	if q.PageToken != "" {
		call = call.PageToken(q.PageToken)
	}

	res, err := call.Do()
	if err != nil {
		return Page{}, classify(err, "list events")
	}

	page := Page{
		Events:        make([]model.RemoteEvent, 0, len(res.Items)),
		NextPageToken: res.NextPageToken,
	}
	for _, item := range res.Items {
		page.Events = append(page.Events, fromGoogle(item))
	}
	return page, nil
}

// Insert implements Store.
func (g *GoogleStore) Insert(ctx context.Context, ev model.NewEvent) (string, error) {
	body := &gcal.Event{
		Summary:     ev.Summary,
		Location:    ev.Location,
		Description: ev.Description,
		ColorId:     ev.ColorID,
		Start: &gcal.EventDateTime{
			DateTime: ev.Start.Format(time.RFC3339),
			TimeZone: ev.TimeZone,
		},
		End: &gcal.EventDateTime{
			DateTime: ev.End.Format(time.RFC3339),
			TimeZone: ev.TimeZone,
		},
		Reminders: &gcal.EventReminders{
			UseDefault:      false,
			ForceSendFields: []string{"UseDefault"},
		},
	}
	if ev.ReminderMinutes > 0 {
		body.Reminders.Overrides = []*gcal.EventReminder{
			{Method: "popup", Minutes: int64(ev.ReminderMinutes)},
		}
	}
	if len(ev.Private) > 0 {
		body.ExtendedProperties = &gcal.EventExtendedProperties{Private: ev.Private}
	}

	created, err := g.svc.Events.Insert(g.calendarID, body).Context(ctx).Do()
	if err != nil {
		return "", classify(err, "insert event")
	}
	return created.Id, nil
}

// Delete implements Store.
func (g *GoogleStore) Delete(ctx context.Context, id string) error {
	if err := g.svc.Events.Delete(g.calendarID, id).Context(ctx).Do(); err != nil {
		return classify(err, "delete event")
	}
	return nil
}

// classify maps 401/403 responses to REMOTE_AUTH and everything else to
// REMOTE_TRANSPORT.
func classify(err error, op string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden) {
		return errs.Wrap(err, errs.CodeRemoteAuth, op)
	}
	return errs.Wrap(err, errs.CodeRemoteTransport, op)
}

func fromGoogle(item *gcal.Event) model.RemoteEvent {
	ev := model.RemoteEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Location:    item.Location,
		Description: item.Description,
	}
	if item.Start != nil {
		ev.Start, ev.AllDay = parseEventTime(item.Start)
	}
	if item.End != nil {
		ev.End, _ = parseEventTime(item.End)
	}
	if item.Created != "" {
		if t, err := time.Parse(time.RFC3339, item.Created); err == nil {
			ev.Created = t
		}
	}
	if item.ExtendedProperties != nil && len(item.ExtendedProperties.Private) > 0 {
		ev.Private = item.ExtendedProperties.Private
	}
	return ev
}

// parseEventTime keeps the offset the API returned so the wall-clock time
// survives; date-only values mark all-day events.
func parseEventTime(dt *gcal.EventDateTime) (time.Time, bool) {
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t, false
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse(model.DateLayout, dt.Date); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
