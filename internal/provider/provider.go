package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"seriesfeed/internal/fault"
)

// Source types understood by the registry.
const (
	TypeFRED         = "fred"
	TypeAlphaVantage = "alphavantage"
	TypeCSV          = "csv"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=providertest -destination=providertest/mock_provider.go -source=provider.go
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request names one upstream series. Type selects the adapter; each adapter
// reads only the fields that apply to it.
type Request struct {
	Type string

	// fred
	SeriesID string
	Start    string

	// alphavantage
	Function   string
	Symbol     string
	FromSymbol string
	ToSymbol   string
	Field      string
	Path       string

	// csv
	URL         string
	DateColumn  string
	ValueColumn string
	DateFormat  string
}

// Code is the provider-side identifier of the request, used in logs and as
// the canonical series' source_id.
func (r Request) Code() string {
	switch r.Type {
	case TypeFRED:
		return r.SeriesID
	case TypeAlphaVantage:
		if r.FromSymbol != "" || r.ToSymbol != "" {
			return r.FromSymbol + "/" + r.ToSymbol
		}
		return r.Symbol
	case TypeCSV:
		return r.ValueColumn
	}
	return ""
}

func (r Request) String() string {
	var b strings.Builder
	b.WriteString(r.Type)
	if r.Function != "" {
		b.WriteString(":" + r.Function)
	}
	if c := r.Code(); c != "" {
		b.WriteString(":" + c)
	}
	return b.String()
}

// RawObservation is one provider row before normalization. Both fields keep
// the provider's own text.
type RawObservation struct {
	Date  string
	Value string
}

// Payload is what an adapter hands to the normalizer.
type Payload struct {
	Source       string
	SourceID     string
	Label        string
	Unit         string
	DateLayouts  []string
	Observations []RawObservation
}

// Provider fetches one series from one upstream.
type Provider interface {
	Name() string
	// Validate checks a request without touching the network.
	Validate(req Request) error
	Fetch(ctx context.Context, req Request) (*Payload, error)
}

// Admitter is implemented by decorators that queue requests before they go
// upstream, such as rate limiters. Admit blocks until req may proceed and
// returns the context to pass to Fetch, which then does not queue again.
type Admitter interface {
	Admit(ctx context.Context, req Request) (context.Context, error)
}

// Admit runs p's admission step, if it has one.
func Admit(ctx context.Context, p Provider, req Request) (context.Context, error) {
	if a, ok := p.(Admitter); ok {
		return a.Admit(ctx, req)
	}
	return ctx, nil
}

// CheckStatus maps a non-2xx response to a classified error. The body is
// read up to 2 KiB for the message.
func CheckStatus(op string, req *http.Request, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
	err := fmt.Errorf("%s -> %d: %s", Redact(req), resp.StatusCode, strings.TrimSpace(string(b)))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fault.New(fault.KindAuth, op, err)
	case http.StatusTooManyRequests:
		return fault.New(fault.KindRateLimited, op, err)
	default:
		return fault.New(fault.KindStatus, op, err)
	}
}

// Redact renders a request line without credential query parameters.
func Redact(req *http.Request) string {
	if req == nil || req.URL == nil {
		return "request"
	}
	return req.Method + " " + redactURL(req.URL)
}

func redactURL(u *url.URL) string {
	cp := *u
	q := cp.Query()
	for _, k := range []string{"api_key", "apikey", "api_token", "token"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	cp.RawQuery = q.Encode()
	return cp.String()
}

// TransportError classifies a failed round trip, scrubbing credentials from
// the URL that net/http embeds in its errors.
func TransportError(op string, req *http.Request, err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && req != nil && req.URL != nil {
		cp := *ue
		cp.URL = redactURL(req.URL)
		err = &cp
	}
	return fault.Transport(op, fmt.Errorf("performing request: %w", err))
}
