package series

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateFormat is the canonical calendar-date layout written to disk.
const DateFormat = "2006-01-02"

// defaultLayouts are tried, in order, after any caller-preferred layouts.
var defaultLayouts = []string{
	DateFormat,
	"2006-1-2",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"2006/1/2",
	"01/02/2006",
	"1/2/2006",
	"2006-01",
}

// Date is a calendar day with no time-of-day component.
type Date struct {
	y int
	m time.Month
	d int
}

// NewDate returns a normalized Date for the given year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Date{t.Year(), t.Month(), t.Day()}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date { return NewDate(t.Date()) }

func (d Date) time() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

func (d Date) IsZero() bool { return d == Date{} }
func (d Date) Before(x Date) bool { return d.time().Before(x.time()) }
func (d Date) After(x Date) bool { return d.time().After(x.time()) }
func (d Date) Compare(x Date) int { return d.time().Compare(x.time()) }
func (d Date) String() string { return d.time().Format(DateFormat) }
func (d Date) AddDays(n int) Date { return NewDate(d.y, d.m, d.d+n) }
func (d Date) Year() int { return d.y }
func (d Date) Month() time.Month { return d.m }
func (d Date) Day() int { return d.d }

// ParseDate parses s with the preferred layouts first, then a permissive set
// of common provider layouts. Any time-of-day is dropped.
func ParseDate(s string, preferred ...string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, fmt.Errorf("empty date")
	}
	for _, layouts := range [][]string{preferred, defaultLayouts} {
		for _, layout := range layouts {
			if layout == "" {
				continue
			}
			if t, err := time.Parse(layout, s); err == nil {
				return DateOf(t), nil
			}
		}
	}
	return Date{}, fmt.Errorf("invalid date %q", s)
}

// MustParseDate is like ParseDate but panics on error.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.Parse(DateFormat, s)
	if err != nil {
		return fmt.Errorf("invalid date %q want format %q: %w", s, DateFormat, err)
	}
	*d = DateOf(v)
	return nil
}

var _ json.Marshaler = Date{}
var _ json.Unmarshaler = (*Date)(nil)
