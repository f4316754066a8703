// Package series defines the canonical, provider-independent time series
// written to disk for the dashboard.
package series

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Observation is one dated measurement. An invalid Value is the missing
// sentinel and is written as JSON null.
type Observation struct {
	Date  Date
	Value decimal.NullDecimal
}

// Obs builds a present observation from a float. Intended for fixtures.
func Obs(date string, v float64) Observation {
	return Observation{Date: MustParseDate(date), Value: decimal.NewNullDecimal(decimal.NewFromFloat(v))}
}

// Missing builds a missing observation.
func Missing(date string) Observation {
	return Observation{Date: MustParseDate(date)}
}

// IsMissing reports whether o carries the missing sentinel.
func (o Observation) IsMissing() bool { return !o.Value.Valid }

// Float returns the value as float64 and whether it is present.
func (o Observation) Float() (float64, bool) {
	if !o.Value.Valid {
		return 0, false
	}
	return o.Value.Decimal.InexactFloat64(), true
}

type observationJSON struct {
	Date  Date            `json:"date"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON writes the value as a bare JSON number, or null.
func (o Observation) MarshalJSON() ([]byte, error) {
	raw := json.RawMessage("null")
	if o.Value.Valid {
		raw = json.RawMessage(o.Value.Decimal.String())
	}
	return json.Marshal(observationJSON{Date: o.Date, Value: raw})
}

// UnmarshalJSON accepts numbers, numeric strings and null.
func (o *Observation) UnmarshalJSON(b []byte) error {
	var aux observationJSON
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	o.Date = aux.Date
	o.Value = decimal.NullDecimal{}
	raw := bytes.TrimSpace(aux.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	text := string(raw)
	if raw[0] == '"' {
		s, err := strconv.Unquote(text)
		if err != nil {
			return fmt.Errorf("observation %s: %w", aux.Date, err)
		}
		text = s
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return fmt.Errorf("observation %s: %w", aux.Date, err)
	}
	o.Value = decimal.NewNullDecimal(d)
	return nil
}

// Series is the canonical representation of one time series. Field order
// here is the key order on disk.
type Series struct {
	ID           string        `json:"id"`
	Source       string        `json:"source"`
	SourceID     string        `json:"source_id,omitempty"`
	Label        string        `json:"label,omitempty"`
	Unit         string        `json:"unit,omitempty"`
	GeneratedAt  time.Time     `json:"generated_at"`
	Observations []Observation `json:"observations"`
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Observations) }

// First returns the earliest observation date, or the zero Date.
func (s Series) First() Date {
	if len(s.Observations) == 0 {
		return Date{}
	}
	return s.Observations[0].Date
}

// Last returns the latest observation date, or the zero Date.
func (s Series) Last() Date {
	if len(s.Observations) == 0 {
		return Date{}
	}
	return s.Observations[len(s.Observations)-1].Date
}

// Encode renders s in its on-disk form: two-space indented, newline terminated.
func (s Series) Encode() ([]byte, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Decode parses the on-disk form.
func Decode(b []byte) (Series, error) {
	var s Series
	if err := json.Unmarshal(b, &s); err != nil {
		return Series{}, err
	}
	return s, nil
}

// SameContent reports whether a and b would be identical on disk apart from
// GeneratedAt.
func SameContent(a, b Series) bool {
	a.GeneratedAt, b.GeneratedAt = time.Time{}, time.Time{}
	ab, err := a.Encode()
	if err != nil {
		return false
	}
	bb, err := b.Encode()
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// Validate checks the canonical invariants: non-empty id and strictly
// increasing dates.
func (s Series) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("series has no id")
	}
	for i := 1; i < len(s.Observations); i++ {
		if !s.Observations[i-1].Date.Before(s.Observations[i].Date) {
			return fmt.Errorf("series %s: date %s does not follow %s", s.ID, s.Observations[i].Date, s.Observations[i-1].Date)
		}
	}
	return nil
}
