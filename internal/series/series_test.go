package series

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDate_Layouts(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"2024-01-02":                "2024-01-02",
		" 2024-1-2 ":                "2024-01-02",
		"2024-01-02 16:00:00":       "2024-01-02",
		"2024-01-02T23:30:00-05:00": "2024-01-02",
		"2024/01/02":                "2024-01-02",
		"01/02/2024":                "2024-01-02",
		"2024-03":                   "2024-03-01",
	}
	for in, want := range cases {
		d, err := ParseDate(in)
		require.NoErrorf(t, err, "input %q", in)
		require.Equalf(t, want, d.String(), "input %q", in)
	}

	_, err := ParseDate("yesterday")
	require.Error(t, err)
	_, err = ParseDate("")
	require.Error(t, err)
}

func TestParseDate_PreferredLayoutWins(t *testing.T) {
	t.Parallel()

	// 02/01/2024 is Feb 1 by default, Jan 2 with a day-first layout.
	d, err := ParseDate("02/01/2024")
	require.NoError(t, err)
	require.Equal(t, "2024-02-01", d.String())

	d, err = ParseDate("02/01/2024", "02/01/2006")
	require.NoError(t, err)
	require.Equal(t, "2024-01-02", d.String())
}

func TestDate_Order(t *testing.T) {
	t.Parallel()

	a, b := MustParseDate("2024-01-31"), MustParseDate("2024-02-01")
	require.True(t, a.Before(b))
	require.True(t, b.After(a))
	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, b, a.AddDays(1))
	require.True(t, Date{}.IsZero())
	require.Equal(t, NewDate(2024, time.March, 1), NewDate(2024, time.February, 30))
}

func TestObservation_JSON(t *testing.T) {
	t.Parallel()

	b, err := Obs("2024-01-01", 2050.1).MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"date":"2024-01-01","value":2050.1}`, string(b))

	b, err = Missing("2024-01-02").MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"date":"2024-01-02","value":null}`, string(b))

	var o Observation
	require.NoError(t, o.UnmarshalJSON([]byte(`{"date":"2024-01-03","value":"2061.40"}`)))
	require.False(t, o.IsMissing())
	f, ok := o.Float()
	require.True(t, ok)
	require.InDelta(t, 2061.4, f, 1e-9)

	require.NoError(t, o.UnmarshalJSON([]byte(`{"date":"2024-01-03","value":null}`)))
	require.True(t, o.IsMissing())

	require.Error(t, o.UnmarshalJSON([]byte(`{"date":"2024-01-03","value":"abc"}`)))
}

func TestSeries_EncodeKeyOrder(t *testing.T) {
	t.Parallel()

	s := Series{
		ID:           "dfii10",
		Source:       "fred",
		SourceID:     "DFII10",
		Unit:         "percent",
		GeneratedAt:  time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
		Observations: []Observation{Obs("2024-01-01", 1.5), Missing("2024-01-02")},
	}
	b, err := s.Encode()
	require.NoError(t, err)
	out := string(b)

	// Assert: keys appear in declaration order and the file ends with a newline.
	order := []string{`"id"`, `"source"`, `"source_id"`, `"unit"`, `"generated_at"`, `"observations"`}
	last := -1
	for _, k := range order {
		i := strings.Index(out, k)
		require.Greaterf(t, i, last, "key %s out of order in %s", k, out)
		last = i
	}
	require.NotContains(t, out, `"label"`)
	require.True(t, strings.HasSuffix(out, "}\n"))

	back, err := Decode(b)
	require.NoError(t, err)
	require.True(t, SameContent(s, back))
}

func TestSameContent_IgnoresGeneratedAt(t *testing.T) {
	t.Parallel()

	a := Series{ID: "x", Source: "fred", GeneratedAt: time.Now(), Observations: []Observation{Obs("2024-01-01", 1)}}
	b := a
	b.GeneratedAt = a.GeneratedAt.Add(time.Hour)
	require.True(t, SameContent(a, b))

	b.Observations = []Observation{Missing("2024-01-01")}
	require.False(t, SameContent(a, b))
}

func TestSeries_Validate(t *testing.T) {
	t.Parallel()

	s := Series{ID: "x", Observations: []Observation{Obs("2024-01-02", 1), Obs("2024-01-01", 2)}}
	require.Error(t, s.Validate())

	s.Observations = []Observation{Obs("2024-01-01", 1), Obs("2024-01-01", 2)}
	require.Error(t, s.Validate())

	s.Observations = []Observation{Obs("2024-01-01", 1), Obs("2024-01-02", 2)}
	require.NoError(t, s.Validate())
	require.Equal(t, "2024-01-01", s.First().String())
	require.Equal(t, "2024-01-02", s.Last().String())

	require.Error(t, Series{}.Validate())
}
