// Package csvurl reads a dated column out of a CSV document served over
// HTTP, such as a published spreadsheet export.
package csvurl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"seriesfeed/internal/fault"
	"seriesfeed/internal/provider"
)

// maxBody bounds how much of a CSV document is read.
const maxBody = 32 << 20

var bom = []byte{0xEF, 0xBB, 0xBF}

// dateAliases are tried, in order, when no date column is configured.
var dateAliases = []string{"date", "observation_date", "period", "time", "day"}

// Client fetches CSV documents. It implements provider.Provider.
type Client struct {
	name       string
	httpClient provider.HTTPClient
	header     http.Header
}

// Option configures a Client.
type Option func(*Client)

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

// New creates a CSV client. The documents it reads are public, so it takes
// no credential.
func New(options ...Option) *Client {
	c := &Client{
		name:       provider.TypeCSV,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// Validate checks that the request carries an absolute http(s) URL.
func (c *Client) Validate(req provider.Request) error {
	if strings.TrimSpace(req.URL) == "" {
		return fault.Errorf(fault.KindConfig, "csv", "url is required")
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return fault.Errorf(fault.KindConfig, "csv", "url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fault.Errorf(fault.KindConfig, "csv", "url must be absolute http(s), got %q", u.Redacted())
	}
	return nil
}

// Fetch downloads req.URL and returns the selected date and value columns.
// Rows with an empty date cell are skipped.
func (c *Client) Fetch(ctx context.Context, req provider.Request) (*provider.Payload, error) {
	if err := c.Validate(req); err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, http.NoBody)
	if err != nil {
		return nil, fault.New(fault.KindConfig, "csv", fmt.Errorf("creating request: %w", err))
	}
	httpReq.Header = c.header.Clone()
	httpReq.Header.Set("Accept", "text/csv")

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.TransportError("csv", httpReq, err)
	}
	defer res.Body.Close()
	if err := provider.CheckStatus("csv", httpReq, res); err != nil {
		return nil, err
	}

	payload, err := c.parse(io.LimitReader(res.Body, maxBody), req)
	if err != nil {
		return nil, fault.New(fault.KindPayload, "csv", err)
	}
	return payload, nil
}

func (c *Client) parse(r io.Reader, req provider.Request) (*provider.Payload, error) {
	br := bufio.NewReader(r)
	if b, _ := br.Peek(len(bom)); bytes.Equal(b, bom) {
		_, _ = br.Discard(len(bom))
	}
	reader := csv.NewReader(br)
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty document")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		key := canonical(name)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	dateIdx, err := dateColumn(index, req.DateColumn)
	if err != nil {
		return nil, err
	}
	valueIdx, err := valueColumn(index, len(header), dateIdx, req.ValueColumn)
	if err != nil {
		return nil, err
	}

	if req.ValueColumn == "" {
		if rest := ignoredColumns(header, dateIdx, valueIdx); len(rest) > 0 {
			logx.Infof("csv: reading column %q, ignoring %s; configure one series per column to keep them",
				strings.TrimSpace(header[valueIdx]), strings.Join(rest, ", "))
		}
	}
	valueName := strings.TrimSpace(header[valueIdx])
	payload := &provider.Payload{
		Source:   c.name,
		SourceID: valueName,
		Label:    valueName,
	}
	if req.DateFormat != "" {
		payload.DateLayouts = []string{req.DateFormat}
	}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		if dateIdx >= len(record) || strings.TrimSpace(record[dateIdx]) == "" {
			continue
		}
		var value string
		if valueIdx < len(record) {
			value = record[valueIdx]
		}
		payload.Observations = append(payload.Observations, provider.RawObservation{
			Date:  strings.TrimSpace(record[dateIdx]),
			Value: value,
		})
	}
	return payload, nil
}

// ignoredColumns names the non-empty header cells other than the date and
// value columns.
func ignoredColumns(header []string, dateIdx, valueIdx int) []string {
	var rest []string
	for i, name := range header {
		name = strings.TrimSpace(name)
		if i == dateIdx || i == valueIdx || name == "" {
			continue
		}
		rest = append(rest, name)
	}
	return rest
}

func canonical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func dateColumn(index map[string]int, configured string) (int, error) {
	if configured != "" {
		i, ok := index[canonical(configured)]
		if !ok {
			return 0, fmt.Errorf("date column %q not in header", configured)
		}
		return i, nil
	}
	for _, alias := range dateAliases {
		if i, ok := index[alias]; ok {
			return i, nil
		}
	}
	return 0, nil
}

func valueColumn(index map[string]int, width, dateIdx int, configured string) (int, error) {
	if configured != "" {
		i, ok := index[canonical(configured)]
		if !ok {
			return 0, fmt.Errorf("value column %q not in header", configured)
		}
		return i, nil
	}
	for i := 0; i < width; i++ {
		if i != dateIdx {
			return i, nil
		}
	}
	return 0, errors.New("header has no value column")
}
