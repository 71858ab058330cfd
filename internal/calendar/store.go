// Package calendar defines the remote event store the sync writes to and the
// exhaustive enumeration the duplicate index is built from.
package calendar

import (
	"context"
	"fmt"
	"time"

	"untiscal/internal/errs"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
)

// DefaultPageSize is the largest page the Google Calendar API hands out.
const DefaultPageSize = 2500

// Store is a remote calendar supporting paginated listing, inserts and
// deletes.
type Store interface {
	List(ctx context.Context, q ListQuery) (Page, error)
	Insert(ctx context.Context, ev model.NewEvent) (string, error)
	Delete(ctx context.Context, id string) error
}

// ListQuery selects one page of events overlapping [TimeMin, TimeMax).
type ListQuery struct {
	TimeMin   time.Time
	TimeMax   time.Time
	PageToken string
	PageSize  int
}

// Page is one page of a listing. An empty NextPageToken ends the listing.
type Page struct {
	Events        []model.RemoteEvent
	NextPageToken string
}

// Window is the range of remote events a run looks at.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowAround returns [now-lookback, now+lookahead).
func WindowAround(now time.Time, lookback, lookahead time.Duration) Window {
	return Window{Start: now.Add(-lookback), End: now.Add(lookahead)}
}

func (w Window) String() string {
	return w.Start.Format(time.RFC3339) + ".." + w.End.Format(time.RFC3339)
}

// ListAll enumerates every event in w, page by page, until the store reports
// no further pages. It never returns a partial listing: a failing first page
// is a REMOTE_AUTH error, a failing later page is PAGINATION_INCOMPLETE.
func ListAll(ctx context.Context, s Store, w Window, pageSize int) ([]model.RemoteEvent, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var (
		all   []model.RemoteEvent
		token string
		pages int
	)
	for {
		page, err := s.List(ctx, ListQuery{
			TimeMin:   w.Start,
			TimeMax:   w.End,
			PageToken: token,
			PageSize:  pageSize,
		})
		if err != nil {
			if pages == 0 {
				return nil, errs.Wrap(err, errs.CodeRemoteAuth, "list remote events")
			}
			return nil, errs.Wrap(err, errs.CodePaginationIncomplete, fmt.Sprintf("list remote events, page %d", pages+1))
		}
		pages++
		all = append(all, page.Events...)

		if page.NextPageToken == "" {
			break
		}
		if page.NextPageToken == token {
			return nil, errs.Wrap(fmt.Errorf("page token %q repeated", token), errs.CodePaginationIncomplete, "list remote events")
		}
		token = page.NextPageToken
	}

	appLog.Info("remote events listed", "window", w.String(), "events", len(all), "pages", pages)
	return all, nil
}
