package timetable

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"untiscal/internal/errs"
	"untiscal/internal/identity"
	"untiscal/internal/model"
)

var monday = time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC)

func head(text string) Token {
	return Token{ClassName: "lesson-card lesson-card--regular", Text: text}
}

func marker(testid, text string) Token {
	return Token{ClassName: "lesson-card-resource", Text: text, Dataset: map[string]string{"testid": testid}}
}

func plain(text string) Token {
	return Token{ClassName: "lesson-card-text", Text: text}
}

// card renders one lesson the way the portal dump lays it out.
func card(start, end, teacher, subject, room string) []Token {
	return []Token{
		{ClassName: "lesson-card-container", Text: start + end + teacher + subject + room},
		head(start + end + teacher + subject + room),
		marker("lesson-card-resources-with-change-teachers", teacher),
		plain(teacher),
		marker("lesson-card-subject", subject),
		plain(subject),
		marker("lesson-card-resources-with-change-rooms", room),
		plain(room),
	}
}

func TestIsHead(t *testing.T) {
	assert.True(t, IsHead(head("08:0008:45")))
	assert.True(t, IsHead(Token{ClassName: "lesson-card"}))
	assert.False(t, IsHead(Token{ClassName: "lesson-card-container"}))
	assert.False(t, IsHead(Token{ClassName: "lesson-cards"}))
	assert.False(t, IsHead(Token{}))
}

func TestSegmentWindowsStopAtNextHead(t *testing.T) {
	var stream []Token
	stream = append(stream, card("08:00", "08:45", "FayK", "Mat", "O1027")...)
	stream = append(stream, card("09:00", "09:45", "MüM", "Deu", "O1104")...)

	windows := slices.Collect(Segment(stream))
	require.Len(t, windows, 2)

	assert.Equal(t, 1, windows[0].Head)
	// head + 6 field tokens, then the next card's container token.
	assert.Len(t, windows[0].Tokens, 8)
	assert.Equal(t, 9, windows[1].Head)
	assert.Len(t, windows[1].Tokens, 7)
}

func TestSegmentWindowIsBounded(t *testing.T) {
	stream := []Token{head("08:0008:45")}
	for i := 0; i < 2*MaxWindow; i++ {
		stream = append(stream, plain("x"))
	}
	windows := slices.Collect(Segment(stream))
	require.Len(t, windows, 1)
	assert.Len(t, windows[0].Tokens, MaxWindow)
}

func TestDayBoundaryDetection(t *testing.T) {
	var stream []Token
	stream = append(stream, card("08:00", "08:45", "FayK", "Mat", "O1027")...)
	stream = append(stream, card("09:00", "09:45", "FayK", "Deu", "O1027")...)
	stream = append(stream, card("08:00", "08:45", "MüM", "Eng", "O1104")...)
	stream = append(stream, card("09:45", "10:30", "MüM", "Inf", "O1104")...)

	lessons := ExtractAll(monday, stream)
	require.Len(t, lessons, 4)

	assert.Equal(t, "2025-10-20", lessons[0].Date)
	assert.Equal(t, "2025-10-20", lessons[1].Date)
	assert.Equal(t, "2025-10-21", lessons[2].Date)
	assert.Equal(t, "2025-10-21", lessons[3].Date)
	assert.Equal(t, "09:45", lessons[3].StartTime)
}

// A day that starts later than the previous day ended cannot be told apart
// from a continuation of that day.
func TestDayBoundaryMergesLateStartingDay(t *testing.T) {
	var stream []Token
	stream = append(stream, card("08:00", "08:45", "FayK", "Mat", "O1027")...)
	stream = append(stream, card("10:00", "10:45", "MüM", "Eng", "O1104")...)

	lessons := ExtractAll(monday, stream)
	require.Len(t, lessons, 2)
	assert.Equal(t, lessons[0].Date, lessons[1].Date)
}

func TestResolveFields(t *testing.T) {
	stream := card("12:50", "14:20", "FayK", "Lit", "O1027, +O1101")
	lessons := ExtractAll(monday, stream)
	require.Len(t, lessons, 1)

	l := lessons[0]
	assert.Equal(t, "12:50", l.StartTime)
	assert.Equal(t, "14:20", l.EndTime)
	assert.Equal(t, "FayK", l.Teacher)
	assert.Equal(t, "Lit", l.Subject)
	assert.Equal(t, "O1027, +O1101", l.Room)
	assert.Empty(t, l.Note)
	assert.Empty(t, l.Identifier)
}

func TestMissingFieldsUseSentinels(t *testing.T) {
	lessons := ExtractAll(monday, []Token{head("08:00 - 08:45")})
	require.Len(t, lessons, 1)

	assert.Equal(t, model.NotAvailable, lessons[0].Teacher)
	assert.Equal(t, model.UnknownSubject, lessons[0].Subject)
	assert.Equal(t, model.NotAvailable, lessons[0].Room)
}

func TestFirstMatchWins(t *testing.T) {
	stream := []Token{
		head("08:0008:45"),
		marker("lesson-card-subject", ""),
		plain("Mat"),
		marker("lesson-card-subjects", "Phy"),
		marker("lesson-card-resources-with-change-teachers", "Name: with colon"),
		plain("FayK"),
		marker("lesson-card-resources-with-change-teachers", "MüM"),
	}
	lessons := ExtractAll(monday, stream)
	require.Len(t, lessons, 1)
	assert.Equal(t, "Mat", lessons[0].Subject)
	assert.Equal(t, "FayK", lessons[0].Teacher)
}

func TestNoteIsNeverARoom(t *testing.T) {
	stream := []Token{
		head("10:0011:30"),
		marker("lesson-card-text-content-container", ""),
		plain("O1027"),
		plain("Klassenarbeit Lit"),
		marker("lesson-card-resources-with-change-rooms", ""),
		plain("O1027"),
	}
	lessons := ExtractAll(monday, stream)
	require.Len(t, lessons, 1)
	assert.Equal(t, "Klassenarbeit Lit", lessons[0].Note)
	assert.Equal(t, "O1027", lessons[0].Room)
}

func TestFallbackRoomFromHeadText(t *testing.T) {
	stream := []Token{
		head("12:5014:20FayKLitO1027, +O1101, +O1102+2"),
		marker("lesson-card-subject", "Lit"),
	}
	lessons := ExtractAll(monday, stream)
	require.Len(t, lessons, 1)
	assert.Equal(t, "O1027, +O1101, +O1102", lessons[0].Room)
	assert.Equal(t, "Lit", lessons[0].Subject)
}

func TestFallbackRoomKeepsSubstitutePrefix(t *testing.T) {
	fromHead := ExtractAll(monday, []Token{
		head("08:0008:45Mat+O1101, O1104"),
		marker("lesson-card-subject", "Mat"),
	})
	require.Len(t, fromHead, 1)
	assert.Equal(t, "+O1101, O1104", fromHead[0].Room)

	fromMarkers := ExtractAll(monday, card("08:00", "08:45", "FayK", "Mat", "+O1101, O1104"))
	require.Len(t, fromMarkers, 1)
	assert.Equal(t, identity.Identifier(fromMarkers[0]), identity.Identifier(fromHead[0]))
	assert.Equal(t, "O1104", identity.NormalizeRoom(fromHead[0].Room))
}

func TestHeadWithoutTwoTimesIsSkipped(t *testing.T) {
	var stream []Token
	stream = append(stream, head("08:00 Vertretung"))
	stream = append(stream, card("09:00", "09:45", "FayK", "Mat", "O1027")...)

	windows := slices.Collect(Segment(stream))
	require.Len(t, windows, 2)

	_, err := Resolve(monday, windows[0])
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrExtraction))

	lessons := ExtractAll(monday, stream)
	require.Len(t, lessons, 1)
	assert.Equal(t, "09:00", lessons[0].StartTime)
	assert.Equal(t, "2025-10-20", lessons[0].Date)
}

func TestInvertedIntervalIsSkipped(t *testing.T) {
	lessons := ExtractAll(monday, []Token{head("09:4509:00")})
	assert.Empty(t, lessons)
}

func TestEmptyWeek(t *testing.T) {
	stream := []Token{
		{ClassName: "lesson-card-container", Text: ""},
		plain("Ferien"),
	}
	lessons := ExtractAll(monday, stream)
	assert.NotNil(t, lessons)
	assert.Empty(t, lessons)
	assert.Empty(t, ExtractAll(monday, nil))
}

func TestExtractStopsEarly(t *testing.T) {
	var stream []Token
	stream = append(stream, card("08:00", "08:45", "FayK", "Mat", "O1027")...)
	stream = append(stream, card("09:00", "09:45", "FayK", "Deu", "O1027")...)

	var got []model.Lesson
	for l := range Extract(monday, stream) {
		got = append(got, l)
		break
	}
	require.Len(t, got, 1)
	assert.Equal(t, "Mat", got[0].Subject)
}
