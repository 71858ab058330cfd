package timetable

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"untiscal/internal/errs"
	"untiscal/internal/identity"
	appLog "untiscal/internal/log"
	"untiscal/internal/model"
)

// Token is one serialized DOM node of the rendered timetable. The stream
// has no record boundaries beyond the order of its tokens.
type Token struct {
	Index     int               `json:"index"`
	Text      string            `json:"text"`
	HTML      string            `json:"html"`
	ClassName string            `json:"className"`
	Dataset   map[string]string `json:"dataset"`
}

// Document is the JSON shape of one week dump.
type Document struct {
	Timetable struct {
		URL     string  `json:"url"`
		Lessons []Token `json:"lessons"`
	} `json:"timetable"`
}

// Week is a decoded week dump anchored at its Monday.
type Week struct {
	Path   string
	URL    string
	Anchor time.Time
	Tokens []Token
}

var anchorDate = regexp.MustCompile(`date=(\d{4}-\d{2}-\d{2})`)

// AnchorMonday extracts the ISO date embedded in a timetable URL and returns
// the Monday of that week.
func AnchorMonday(url string) (time.Time, error) {
	m := anchorDate.FindStringSubmatch(url)
	if m == nil {
		return time.Time{}, errs.Wrap(fmt.Errorf("no date=YYYY-MM-DD in %q", url), errs.CodeInvalidInput, "week anchor")
	}
	d, err := time.Parse(model.DateLayout, m[1])
	if err != nil {
		return time.Time{}, errs.Wrap(err, errs.CodeInvalidInput, "week anchor")
	}
	return MondayOf(d), nil
}

// MondayOf returns midnight of the Monday in t's week, in t's location.
func MondayOf(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// WeekMondays returns n consecutive Mondays starting with the Monday of
// from's week.
func WeekMondays(from time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: []rrule.Weekday{rrule.MO},
		Dtstart:   MondayOf(from),
		Count:     n,
	})
	if err != nil {
		return nil, err
	}
	return r.All(), nil
}

// DecodeWeek parses a week dump.
func DecodeWeek(data []byte) (Week, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Week{}, errs.Wrap(err, errs.CodeInvalidInput, "decode week dump")
	}
	anchor, err := AnchorMonday(doc.Timetable.URL)
	if err != nil {
		return Week{}, err
	}
	return Week{
		URL:    doc.Timetable.URL,
		Anchor: anchor,
		Tokens: doc.Timetable.Lessons,
	}, nil
}

// LoadWeek reads and decodes a week dump from disk.
func LoadWeek(path string) (Week, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Week{}, err
	}
	w, err := DecodeWeek(data)
	if err != nil {
		return Week{}, fmt.Errorf("%s: %w", path, err)
	}
	w.Path = path
	return w, nil
}

// WriteWeek stores a week dump as indented JSON, replacing path atomically.
func WriteWeek(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'), 0o644)
}

// WeekFileName is the on-disk name of the n-th (1-based) week dump.
func WeekFileName(n int) string {
	return fmt.Sprintf("week_%d.json", n)
}

// WeekFiles lists week dumps in dir ordered by week number.
func WeekFiles(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "week_*.json"))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(paths, func(i, j int) bool {
		ni, iok := weekNumber(paths[i])
		nj, jok := weekNumber(paths[j])
		if iok && jok && ni != nj {
			return ni < nj
		}
		return paths[i] < paths[j]
	})
	return paths, nil
}

func weekNumber(path string) (int, bool) {
	base := strings.TrimSuffix(filepath.Base(path), ".json")
	n, err := strconv.Atoi(strings.TrimPrefix(base, "week_"))
	return n, err == nil
}

// ParseResult is the combined outcome of parsing several week dumps.
type ParseResult struct {
	Lessons []model.Lesson
	Weeks   int     // dumps that were decoded, including empty weeks
	Errors  []error // per-file failures; those files were skipped
}

// ParseWeeks extracts lessons from every dump, annotates identifiers and
// sorts the result by (date, start time). A dump that cannot be read is
// skipped and reported in Errors.
func ParseWeeks(paths []string) ParseResult {
	res := ParseResult{Lessons: []model.Lesson{}}

	for _, p := range paths {
		w, err := LoadWeek(p)
		if err != nil {
			appLog.Error("week dump skipped", err, "path", p)
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Weeks++

		lessons := ExtractAll(w.Anchor, w.Tokens)
		if len(lessons) == 0 {
			appLog.Info("no lessons in week; holiday or unpublished", "path", p, "anchor", w.Anchor.Format(model.DateLayout))
			continue
		}
		appLog.Info("week parsed",
			"path", p,
			"anchor", w.Anchor.Format(model.DateLayout),
			"lessons", len(lessons),
			"first", lessons[0].Date,
			"last", lessons[len(lessons)-1].Date,
		)
		res.Lessons = append(res.Lessons, lessons...)
	}

	identity.Annotate(res.Lessons)
	sort.SliceStable(res.Lessons, func(i, j int) bool {
		return model.Less(res.Lessons[i], res.Lessons[j])
	})
	return res
}

// WriteLessons stores lessons as an indented JSON array, replacing path
// atomically.
func WriteLessons(path string, lessons []model.Lesson) error {
	if lessons == nil {
		lessons = []model.Lesson{}
	}
	data, err := json.MarshalIndent(lessons, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'), 0o644)
}

// ReadLessons loads a lessons artifact written by WriteLessons.
func ReadLessons(path string) ([]model.Lesson, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lessons []model.Lesson
	if err := json.Unmarshal(data, &lessons); err != nil {
		return nil, err
	}
	return lessons, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".untiscal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
