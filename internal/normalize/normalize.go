// Package normalize converts provider payloads into canonical series.
package normalize

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"seriesfeed/internal/fault"
	"seriesfeed/internal/provider"
	"seriesfeed/internal/series"
)

// missingMarkers are the texts providers use for "no value on this date".
// Matching is exact after trimming.
var missingMarkers = map[string]bool{
	"":     true,
	".":    true,
	"NA":   true,
	"N/A":  true,
	"n/a":  true,
	"nan":  true,
	"NaN":  true,
	"null": true,
	"-":    true,
	"#N/A": true,
}

// Meta is the configured identity of a series. Non-empty Label and Unit take
// precedence over what the payload carries.
type Meta struct {
	ID    string
	Label string
	Unit  string
}

// Normalize turns p into a canonical series stamped with now. It performs no
// I/O. Observations are sorted by date; when a date repeats, the one seen
// last in p wins.
func Normalize(p *provider.Payload, meta Meta, now time.Time) (series.Series, error) {
	if p == nil {
		return series.Series{}, fault.Errorf(fault.KindNormalize, "normalize", "no payload")
	}
	if len(p.Observations) == 0 {
		return series.Series{}, fault.Errorf(fault.KindNormalize, "normalize", "%s returned no observations", p.Source)
	}

	obs := make([]series.Observation, 0, len(p.Observations))
	for i, raw := range p.Observations {
		d, err := series.ParseDate(raw.Date, p.DateLayouts...)
		if err != nil {
			return series.Series{}, fault.New(fault.KindNormalize, "normalize", fmt.Errorf("row %d: %w", i, err))
		}
		v, err := ParseValue(raw.Value)
		if err != nil {
			return series.Series{}, fault.New(fault.KindNormalize, "normalize", fmt.Errorf("row %d (%s): %w", i, d, err))
		}
		obs = append(obs, series.Observation{Date: d, Value: v})
	}

	slices.SortStableFunc(obs, func(a, b series.Observation) int { return a.Date.Compare(b.Date) })
	out := obs[:0]
	for _, o := range obs {
		if n := len(out); n > 0 && out[n-1].Date == o.Date {
			out[n-1] = o
			continue
		}
		out = append(out, o)
	}

	s := series.Series{
		ID:           meta.ID,
		Source:       p.Source,
		SourceID:     p.SourceID,
		Label:        firstNonEmpty(meta.Label, p.Label),
		Unit:         firstNonEmpty(meta.Unit, p.Unit),
		GeneratedAt:  now.UTC().Truncate(time.Second),
		Observations: out,
	}
	if err := s.Validate(); err != nil {
		return series.Series{}, fault.New(fault.KindNormalize, "normalize", err)
	}
	return s, nil
}

// ParseValue converts provider text to a value. Missing markers yield an
// invalid NullDecimal; comma thousands separators are accepted.
func ParseValue(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if missingMarkers[s] {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("value %q is not numeric", s)
	}
	return decimal.NewNullDecimal(d), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
