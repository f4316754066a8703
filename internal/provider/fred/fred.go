// Package fred fetches economic indicator observations from the St. Louis
// Fed FRED API.
//
// https://fred.stlouisfed.org/docs/api/fred/series_observations.html
package fred

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"seriesfeed/internal/fault"
	"seriesfeed/internal/provider"
)

const (
	defaultBaseURL  = "https://api.stlouisfed.org/fred"
	defaultStart    = "2000-01-01"
	defaultPageSize = 100000
	defaultMaxPages = 10
)

// Client is a FRED API client. It implements provider.Provider.
type Client struct {
	// name is reported as the canonical series source.
	name string
	// key is the FRED API key sent as the api_key query parameter.
	key string
	// baseURL is the API root, without trailing slash.
	baseURL string
	// httpClient performs the requests.
	httpClient provider.HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// start is the default observation_start.
	start string
	// pageSize is the limit query parameter.
	pageSize int
	// maxPages bounds pagination.
	maxPages int
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
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

// WithStart sets the default observation_start (YYYY-MM-DD).
func WithStart(start string) Option {
	return func(c *Client) {
		if start != "" {
			c.start = start
		}
	}
}

// WithPaging sets the page size and the maximum number of pages per fetch.
func WithPaging(pageSize, maxPages int) Option {
	return func(c *Client) {
		if pageSize > 0 {
			c.pageSize = pageSize
		}
		if maxPages > 0 {
			c.maxPages = maxPages
		}
	}
}

// New creates a FRED client authenticated with key.
func New(key string, options ...Option) *Client {
	c := &Client{
		name:       provider.TypeFRED,
		key:        key,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		start:      defaultStart,
		pageSize:   defaultPageSize,
		maxPages:   defaultMaxPages,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// Validate checks that the request names a series.
func (c *Client) Validate(req provider.Request) error {
	if strings.TrimSpace(req.SeriesID) == "" {
		return fault.Errorf(fault.KindConfig, "fred", "series_id is required")
	}
	if req.Start != "" {
		if _, err := time.Parse("2006-01-02", req.Start); err != nil {
			return fault.Errorf(fault.KindConfig, "fred", "start %q: %v", req.Start, err)
		}
	}
	return nil
}

// observationsResponse is the series/observations body.
//
//	{
//	  "count": 3,
//	  "offset": 0,
//	  "limit": 100000,
//	  "observations": [
//	    {"realtime_start": "2024-01-05", "date": "2024-01-01", "value": "2050.1"},
//	    {"realtime_start": "2024-01-05", "date": "2024-01-02", "value": "."}
//	  ]
//	}
type observationsResponse struct {
	Count        int           `json:"count"`
	Offset       int           `json:"offset"`
	Limit        int           `json:"limit"`
	Observations []observation `json:"observations"`
}

type observation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

// errorResponse is what FRED returns alongside 4xx statuses.
type errorResponse struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Fetch retrieves every observation of req.SeriesID from the start date,
// following pagination up to the configured page bound. The "." placeholder
// FRED uses for holidays is passed through untouched.
func (c *Client) Fetch(ctx context.Context, req provider.Request) (*provider.Payload, error) {
	if c.key == "" {
		return nil, fault.Errorf(fault.KindAuth, "fred", "FRED API key is not set")
	}
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	start := req.Start
	if start == "" {
		start = c.start
	}

	payload := &provider.Payload{
		Source:   c.name,
		SourceID: req.SeriesID,
	}
	offset := 0
	for page := 0; page < c.maxPages; page++ {
		body, err := c.observations(ctx, req.SeriesID, start, offset)
		if err != nil {
			return nil, err
		}
		for _, o := range body.Observations {
			payload.Observations = append(payload.Observations, provider.RawObservation{Date: o.Date, Value: o.Value})
		}
		offset += len(body.Observations)
		if len(body.Observations) == 0 || offset >= body.Count {
			return payload, nil
		}
	}
	return nil, fault.Errorf(fault.KindPayload, "fred", "series %s: more than %d pages of observations", req.SeriesID, c.maxPages)
}

func (c *Client) observations(ctx context.Context, seriesID, start string, offset int) (*observationsResponse, error) {
	query := url.Values{}
	query.Set("series_id", seriesID)
	query.Set("api_key", c.key)
	query.Set("file_type", "json")
	query.Set("observation_start", start)
	query.Set("sort_order", "asc")
	query.Set("limit", strconv.Itoa(c.pageSize))
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}

	addr := fmt.Sprintf("%s/series/observations?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, http.NoBody)
	if err != nil {
		return nil, fault.New(fault.KindConfig, "fred", fmt.Errorf("creating request: %w", err))
	}
	req.Header = c.header.Clone()
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.TransportError("fred", req, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusBadRequest {
		// FRED reports a rejected key as a 400 with an explanatory body.
		var e errorResponse
		if json.NewDecoder(res.Body).Decode(&e) == nil && strings.Contains(strings.ToLower(e.ErrorMessage), "api_key") {
			return nil, fault.Errorf(fault.KindAuth, "fred", "%s -> %d: %s", provider.Redact(req), res.StatusCode, e.ErrorMessage)
		}
		return nil, fault.Errorf(fault.KindStatus, "fred", "%s -> %d: %s", provider.Redact(req), res.StatusCode, e.ErrorMessage)
	}
	if err := provider.CheckStatus("fred", req, res); err != nil {
		return nil, err
	}

	var body observationsResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fault.New(fault.KindPayload, "fred", fmt.Errorf("decoding observations: %w", err))
	}
	if body.Observations == nil {
		return nil, fault.Errorf(fault.KindPayload, "fred", "series %s: response has no observations array", seriesID)
	}
	return &body, nil
}
