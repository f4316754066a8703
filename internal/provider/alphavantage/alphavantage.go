// Package alphavantage fetches daily market data from Alpha Vantage.
//
// https://www.alphavantage.co/documentation/
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"seriesfeed/internal/fault"
	"seriesfeed/internal/normalize"
	"seriesfeed/internal/provider"
)

const (
	defaultBaseURL = "https://www.alphavantage.co/query"
	defaultField   = "4. close"
)

// blockPaths locates the date-keyed block for each supported function.
var blockPaths = map[string]string{
	"FX_DAILY":                     `$["Time Series FX (Daily)"]`,
	"FX_WEEKLY":                    `$["Time Series FX (Weekly)"]`,
	"FX_MONTHLY":                   `$["Time Series FX (Monthly)"]`,
	"TIME_SERIES_DAILY":            `$["Time Series (Daily)"]`,
	"TIME_SERIES_DAILY_ADJUSTED":   `$["Time Series (Daily)"]`,
	"TIME_SERIES_WEEKLY":           `$["Weekly Time Series"]`,
	"TIME_SERIES_WEEKLY_ADJUSTED":  `$["Weekly Adjusted Time Series"]`,
	"TIME_SERIES_MONTHLY":          `$["Monthly Time Series"]`,
	"TIME_SERIES_MONTHLY_ADJUSTED": `$["Monthly Adjusted Time Series"]`,
}

// Client is an Alpha Vantage client. It implements provider.Provider.
type Client struct {
	name       string
	key        string
	baseURL    string
	httpClient provider.HTTPClient
	header     http.Header
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the query endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(httpClient provider.HTTPClient) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithHeader adds headers to every request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// New creates an Alpha Vantage client authenticated with key.
func New(key string, options ...Option) *Client {
	c := &Client{
		name:       provider.TypeAlphaVantage,
		key:        key,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

func isFX(function string) bool { return strings.HasPrefix(function, "FX_") }

// Validate checks the function and its symbol parameters.
func (c *Client) Validate(req provider.Request) error {
	fn := strings.ToUpper(strings.TrimSpace(req.Function))
	if fn == "" {
		return fault.Errorf(fault.KindConfig, "alphavantage", "function is required")
	}
	if _, ok := blockPaths[fn]; !ok && req.Path == "" {
		return fault.Errorf(fault.KindConfig, "alphavantage", "function %s is not supported without a path", fn)
	}
	if req.Path != "" {
		if _, err := jsonpath.New(req.Path); err != nil {
			return fault.Errorf(fault.KindConfig, "alphavantage", "path %q: %v", req.Path, err)
		}
	}
	if isFX(fn) {
		if req.FromSymbol == "" || req.ToSymbol == "" {
			return fault.Errorf(fault.KindConfig, "alphavantage", "%s needs from_symbol and to_symbol", fn)
		}
		return nil
	}
	if req.Symbol == "" {
		return fault.Errorf(fault.KindConfig, "alphavantage", "%s needs symbol", fn)
	}
	return nil
}

// Fetch requests the full history (outputsize=full) for req and returns the
// configured field of every dated entry.
func (c *Client) Fetch(ctx context.Context, req provider.Request) (*provider.Payload, error) {
	if c.key == "" {
		return nil, fault.Errorf(fault.KindAuth, "alphavantage", "Alpha Vantage API key is not set")
	}
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	fn := strings.ToUpper(strings.TrimSpace(req.Function))

	query := url.Values{}
	query.Set("function", fn)
	if isFX(fn) {
		query.Set("from_symbol", req.FromSymbol)
		query.Set("to_symbol", req.ToSymbol)
	} else {
		query.Set("symbol", req.Symbol)
	}
	query.Set("outputsize", "full")
	query.Set("datatype", "json")
	query.Set("apikey", c.key)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), http.NoBody)
	if err != nil {
		return nil, fault.New(fault.KindConfig, "alphavantage", fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header = c.header.Clone()
	httpReq.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.TransportError("alphavantage", httpReq, err)
	}
	defer res.Body.Close()
	if err := provider.CheckStatus("alphavantage", httpReq, res); err != nil {
		return nil, err
	}

	var body map[string]any
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fault.New(fault.KindPayload, "alphavantage", fmt.Errorf("decoding response: %w", err))
	}
	// Alpha Vantage answers errors and throttling with HTTP 200.
	if err := notice(body); err != nil {
		return nil, err
	}

	path := req.Path
	if path == "" {
		path = blockPaths[fn]
	}
	raw, err := jsonpath.Get(path, body)
	if err != nil {
		return nil, fault.New(fault.KindPayload, "alphavantage", fmt.Errorf("%s %s: %w", fn, req.Code(), err))
	}
	block, ok := raw.(map[string]any)
	if !ok || len(block) == 0 {
		return nil, fault.Errorf(fault.KindPayload, "alphavantage", "%s %s: no dated entries at %s", fn, req.Code(), path)
	}

	field := req.Field
	if field == "" {
		field = defaultField
	}
	dates := make([]string, 0, len(block))
	for d := range block {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	payload := &provider.Payload{
		Source:       c.name,
		SourceID:     req.Code(),
		Observations: make([]provider.RawObservation, 0, len(dates)),
	}
	usable := 0
	for _, d := range dates {
		entry, ok := block[d].(map[string]any)
		if !ok {
			return nil, fault.Errorf(fault.KindPayload, "alphavantage", "%s %s: entry %s is not an object", fn, req.Code(), d)
		}
		v, ok := entry[field]
		if !ok {
			return nil, fault.Errorf(fault.KindPayload, "alphavantage", "%s %s: entry %s has no field %q (has %s)", fn, req.Code(), d, field, strings.Join(fieldNames(entry), ", "))
		}
		value := text(v)
		if nv, err := normalize.ParseValue(value); err != nil || nv.Valid {
			usable++
		}
		payload.Observations = append(payload.Observations, provider.RawObservation{Date: d, Value: value})
	}
	if usable == 0 {
		return nil, fault.Errorf(fault.KindPayload, "alphavantage", "%s %s: no usable %q values", fn, req.Code(), field)
	}
	return payload, nil
}

func fieldNames(entry map[string]any) []string {
	names := make([]string, 0, len(entry))
	for k := range entry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// notice turns the in-band messages Alpha Vantage sends instead of data into
// classified errors.
func notice(body map[string]any) error {
	for _, k := range []string{"Error Message", "Note", "Information"} {
		msg, ok := body[k].(string)
		if !ok || msg == "" {
			continue
		}
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "rate limit"), strings.Contains(lower, "call frequency"), strings.Contains(lower, "requests per"):
			return fault.Errorf(fault.KindRateLimited, "alphavantage", "%s", msg)
		case strings.Contains(lower, "apikey"), strings.Contains(lower, "api key"):
			return fault.Errorf(fault.KindAuth, "alphavantage", "%s", msg)
		case k == "Note":
			return fault.Errorf(fault.KindRateLimited, "alphavantage", "%s", msg)
		default:
			return fault.Errorf(fault.KindRejected, "alphavantage", "%s", msg)
		}
	}
	return nil
}

func text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
