package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"untiscal/internal/errs"
	"untiscal/internal/timetable"
)

func TestLoginURLEncodesSpaces(t *testing.T) {
	assert.Equal(t,
		"https://ajax.webuntis.com/WebUntis/?school=BSZ+GTW#/basic/login",
		LoginURL(DefaultBaseURL, "BSZ GTW"))
	assert.Equal(t,
		"https://example.test/WebUntis/?school=x#/basic/login",
		LoginURL("https://example.test/", "x"))
}

func TestWeekURLAnchorsOnMonday(t *testing.T) {
	monday := time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC)
	u := WeekURL(DefaultBaseURL, monday)
	assert.Equal(t, "https://ajax.webuntis.com/timetable/my-student?date=2025-10-20", u)

	anchor, err := timetable.AnchorMonday(u)
	require.NoError(t, err)
	assert.True(t, anchor.Equal(monday))
}

func TestStillOnLogin(t *testing.T) {
	assert.True(t, StillOnLogin("https://ajax.webuntis.com/WebUntis/?school=x#/basic/login"))
	assert.True(t, StillOnLogin("https://ajax.webuntis.com/WebUntis/LOGIN"))
	assert.False(t, StillOnLogin("https://ajax.webuntis.com/timetable/my-student"))
}

func TestSchoolRedirected(t *testing.T) {
	assert.True(t, schoolRedirected(DefaultBaseURL, "https://webuntis.com/?school_not_found"))
	assert.False(t, schoolRedirected(DefaultBaseURL, "https://ajax.webuntis.com/WebUntis/#/basic/login"))
	assert.False(t, schoolRedirected(DefaultBaseURL, "about:blank"))
}

func TestNewExtractorRequiresCredentials(t *testing.T) {
	_, err := NewExtractor(Options{School: "x", Username: "u"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfig))
	assert.Contains(t, err.Error(), "password")
}

func TestNewExtractorDefaults(t *testing.T) {
	e, err := NewExtractor(Options{School: "x", Username: "u", Password: "p", BaseURL: "https://example.test/"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.test", e.opts.BaseURL)
	assert.Equal(t, 1, e.opts.Weeks)
	assert.Equal(t, time.Duration(DefaultTimeoutSec)*time.Second, e.opts.Timeout)
	assert.Equal(t, time.Duration(DefaultCardWaitSec)*time.Second, e.opts.CardWait)
}
