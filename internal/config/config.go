package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"seriesfeed/internal/fault"
	"seriesfeed/internal/pipeline"
	"seriesfeed/internal/provider"
)

const (
	envConfig        = "SERIESFEED_CONFIG"
	envOutputDir     = "OUTPUT_DIR"
	envTimeout       = "REQUEST_TIMEOUT_SEC"
	envConcurrency   = "CONCURRENCY"
	envHistoryDB     = "HISTORY_DB"
	envLogLevel      = "LOG_LEVEL"
	envFREDKey       = "FRED_API_KEY"
	envAlphaKey      = "ALPHAVANTAGE_API_KEY"
	envSheetsCSVURL  = "CB_SHEETS_CSV_URL"
	defaultFileName  = "seriesfeed.yaml"
	sheetsSeriesID   = "cb_sheets"
	defaultOutputDir = "data"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Request is one upstream request as written in the series file. Only the
// fields of its type are read.
type Request struct {
	Type string `yaml:"type"`

	SeriesID string `yaml:"series_id,omitempty"`
	Start    string `yaml:"start,omitempty"`

	Function   string `yaml:"function,omitempty"`
	Symbol     string `yaml:"symbol,omitempty"`
	FromSymbol string `yaml:"from_symbol,omitempty"`
	ToSymbol   string `yaml:"to_symbol,omitempty"`
	Field      string `yaml:"field,omitempty"`
	Path       string `yaml:"path,omitempty"`

	URL         string `yaml:"url,omitempty"`
	DateColumn  string `yaml:"date_column,omitempty"`
	ValueColumn string `yaml:"value_column,omitempty"`
	DateFormat  string `yaml:"date_format,omitempty"`
}

// Series is one configured output series.
type Series struct {
	ID        string    `yaml:"id"`
	Label     string    `yaml:"label,omitempty"`
	Unit      string    `yaml:"unit,omitempty"`
	Source    Request   `yaml:"source"`
	Fallbacks []Request `yaml:"fallbacks,omitempty"`
}

// Requests returns the source followed by its fallbacks.
func (s Series) Requests() []Request {
	return append([]Request{s.Source}, s.Fallbacks...)
}

// Provider holds per-upstream settings.
type Provider struct {
	BaseURL              string        `yaml:"base_url,omitempty"`
	APIKey               string        `yaml:"api_key,omitempty"`
	Start                string        `yaml:"start,omitempty"`
	MaxPages             int           `yaml:"max_pages,omitempty"`
	MaxRequestsPerMinute int           `yaml:"max_requests_per_minute,omitempty"`
	Burst                int           `yaml:"burst,omitempty"`
	MinRequestInterval   time.Duration `yaml:"min_request_interval,omitempty"`
	// CacheTTL lets series issuing the same request share one response.
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty"`
}

type Providers struct {
	FRED         Provider `yaml:"fred"`
	AlphaVantage Provider `yaml:"alphavantage"`
	CSV          Provider `yaml:"csv"`
}

// ByType returns the settings for a request type.
func (p *Providers) ByType(typ string) (*Provider, bool) {
	switch typ {
	case provider.TypeFRED:
		return &p.FRED, true
	case provider.TypeAlphaVantage:
		return &p.AlphaVantage, true
	case provider.TypeCSV:
		return &p.CSV, true
	}
	return nil, false
}

type Config struct {
	OutputDir      string        `yaml:"output_dir"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Concurrency    int           `yaml:"concurrency"`
	HistoryDB      string        `yaml:"history_db,omitempty"`
	LogLevel       string        `yaml:"log_level"`
	Providers      Providers     `yaml:"providers"`
	Series         []Series      `yaml:"series"`
}

// Default returns the built-in macro and gold series set.
func Default() Config {
	return Config{
		OutputDir:      defaultOutputDir,
		RequestTimeout: 30 * time.Second,
		Concurrency:    2,
		LogLevel:       "info",
		Providers: Providers{
			FRED: Provider{
				BaseURL: "https://api.stlouisfed.org/fred",
				Start:   "2000-01-01",
			},
			AlphaVantage: Provider{
				BaseURL:              "https://www.alphavantage.co/query",
				MaxRequestsPerMinute: 5, // free tier
				Burst:                1,
				CacheTTL:             10 * time.Minute,
			},
		},
		Series: []Series{
			{
				ID:     "dfii10",
				Label:  "10-Year TIPS Real Yield",
				Unit:   "percent",
				Source: Request{Type: provider.TypeFRED, SeriesID: "DFII10"},
			},
			{
				ID:     "dtwexbgs",
				Label:  "Trade Weighted U.S. Dollar Index: Broad, Goods and Services",
				Unit:   "index",
				Source: Request{Type: provider.TypeFRED, SeriesID: "DTWEXBGS"},
			},
			{
				ID:     "xauusd",
				Label:  "Gold Spot Price",
				Unit:   "USD per troy ounce",
				Source: Request{Type: provider.TypeAlphaVantage, Function: "FX_DAILY", FromSymbol: "XAU", ToSymbol: "USD"},
				Fallbacks: []Request{
					{Type: provider.TypeAlphaVantage, Function: "TIME_SERIES_DAILY", Symbol: "XAUUSD"},
					{Type: provider.TypeFRED, SeriesID: "GOLDAMGBD228NLBM"},
				},
			},
			{
				ID:     "gld",
				Label:  "SPDR Gold Shares",
				Unit:   "USD",
				Source: Request{Type: provider.TypeAlphaVantage, Function: "TIME_SERIES_DAILY_ADJUSTED", Symbol: "GLD", Field: "4. close"},
			},
			{
				ID:     "iau",
				Label:  "iShares Gold Trust",
				Unit:   "USD",
				Source: Request{Type: provider.TypeAlphaVantage, Function: "TIME_SERIES_DAILY_ADJUSTED", Symbol: "IAU", Field: "4. close"},
			},
		},
	}
}

// LoadDotenv loads a .env file into the process environment. Variables that
// are already set win. NO_DOTENV=1 disables it; ENV_FILE names another file.
func LoadDotenv() error {
	if os.Getenv("NO_DOTENV") == "1" {
		return nil
	}
	path := ".env"
	if v := os.Getenv("ENV_FILE"); v != "" {
		path = v
	} else if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fault.New(fault.KindConfig, "config", fmt.Errorf("loading %s: %w", path, err))
	}
	return nil
}

// Load reads the YAML series file at path over the defaults. With an empty
// path, SERIESFEED_CONFIG is used, then ./seriesfeed.yaml if it exists, and
// otherwise the defaults alone. A series list in the file replaces the
// default list. ${VAR} references in string values are expanded, and
// environment variables override select fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(envConfig)
	}
	if path == "" {
		if _, err := os.Stat(defaultFileName); err == nil {
			path = defaultFileName
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fault.New(fault.KindConfig, "config", fmt.Errorf("read config: %w", err))
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fault.New(fault.KindConfig, "config", fmt.Errorf("parse config %s: %w", path, err))
		}
	}
	cfg.expand()
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandRefs replaces ${VAR} with its value. A bare $ is left alone so
// JSONPath expressions survive.
func expandRefs(s string) string {
	return refPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}

func (c *Config) expand() {
	c.OutputDir = expandRefs(c.OutputDir)
	c.HistoryDB = expandRefs(c.HistoryDB)
	for _, p := range []*Provider{&c.Providers.FRED, &c.Providers.AlphaVantage, &c.Providers.CSV} {
		p.BaseURL = expandRefs(p.BaseURL)
		p.APIKey = strings.TrimSpace(expandRefs(p.APIKey))
	}
	for i := range c.Series {
		s := &c.Series[i]
		s.Source.expand()
		for j := range s.Fallbacks {
			s.Fallbacks[j].expand()
		}
	}
}

func (r *Request) expand() {
	for _, f := range []*string{&r.SeriesID, &r.Start, &r.Symbol, &r.FromSymbol, &r.ToSymbol, &r.URL, &r.DateColumn, &r.ValueColumn} {
		*f = strings.TrimSpace(expandRefs(*f))
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(envOutputDir); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv(envTimeout); v != "" {
		x, err := strconv.Atoi(v)
		if err != nil || x <= 0 {
			return fault.Errorf(fault.KindConfig, "config", "%s must be a positive number of seconds, got %q", envTimeout, v)
		}
		c.RequestTimeout = time.Duration(x) * time.Second
	}
	if v := os.Getenv(envConcurrency); v != "" {
		x, err := strconv.Atoi(v)
		if err != nil || x <= 0 {
			return fault.Errorf(fault.KindConfig, "config", "%s must be a positive integer, got %q", envConcurrency, v)
		}
		c.Concurrency = x
	}
	if v := os.Getenv(envHistoryDB); v != "" {
		c.HistoryDB = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(envFREDKey); v != "" {
		c.Providers.FRED.APIKey = v
	}
	if v := os.Getenv(envAlphaKey); v != "" {
		c.Providers.AlphaVantage.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(envSheetsCSVURL)); v != "" && c.Lookup(sheetsSeriesID) == nil {
		c.Series = append(c.Series, Series{
			ID:     sheetsSeriesID,
			Label:  "Central bank balance sheets",
			Source: Request{Type: provider.TypeCSV, URL: v},
		})
	}
	return nil
}

// Lookup returns the series with the given id, or nil.
func (c *Config) Lookup(id string) *Series {
	for i := range c.Series {
		if c.Series[i].ID == id {
			return &c.Series[i]
		}
	}
	return nil
}

// Validate checks the configuration before any network work. Every problem
// is reported, joined. A provider referenced by any series, fallbacks
// included, must have its credential.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fault.Errorf(fault.KindConfig, "config", format, args...))
	}

	if strings.TrimSpace(c.OutputDir) == "" {
		bad("output_dir is required")
	}
	if c.RequestTimeout <= 0 {
		bad("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.Concurrency <= 0 {
		bad("concurrency must be positive, got %d", c.Concurrency)
	}
	if len(c.Series) == 0 {
		bad("no series configured")
	}

	seen := make(map[string]bool, len(c.Series))
	used := map[string]bool{}
	for _, s := range c.Series {
		switch {
		case !idPattern.MatchString(s.ID):
			bad("series id %q must match %s", s.ID, idPattern)
		case seen[s.ID]:
			bad("series id %q is duplicated", s.ID)
		}
		seen[s.ID] = true
		for _, r := range s.Requests() {
			if _, ok := c.Providers.ByType(r.Type); !ok {
				bad("series %s: unknown source type %q", s.ID, r.Type)
				continue
			}
			used[r.Type] = true
		}
	}

	if used[provider.TypeFRED] && c.Providers.FRED.APIKey == "" {
		bad("%s is required by a configured series", envFREDKey)
	}
	if used[provider.TypeAlphaVantage] && c.Providers.AlphaVantage.APIKey == "" {
		bad("%s is required by a configured series", envAlphaKey)
	}
	return errors.Join(errs...)
}

// Select narrows the configuration to the given series ids, in
// configuration order.
func (c *Config) Select(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if c.Lookup(id) == nil {
			return fault.Errorf(fault.KindConfig, "config", "unknown series %q", id)
		}
		want[id] = true
	}
	kept := c.Series[:0:0]
	for _, s := range c.Series {
		if want[s.ID] {
			kept = append(kept, s)
		}
	}
	c.Series = kept
	return nil
}

// ProviderRequest converts r for the adapters.
func (r Request) ProviderRequest() provider.Request {
	return provider.Request{
		Type:        r.Type,
		SeriesID:    r.SeriesID,
		Start:       r.Start,
		Function:    r.Function,
		Symbol:      r.Symbol,
		FromSymbol:  r.FromSymbol,
		ToSymbol:    r.ToSymbol,
		Field:       r.Field,
		Path:        r.Path,
		URL:         r.URL,
		DateColumn:  r.DateColumn,
		ValueColumn: r.ValueColumn,
		DateFormat:  r.DateFormat,
	}
}

// Job converts s for the pipeline.
func (s Series) Job() pipeline.Job {
	reqs := s.Requests()
	job := pipeline.Job{ID: s.ID, Label: s.Label, Unit: s.Unit, Requests: make([]provider.Request, 0, len(reqs))}
	for _, r := range reqs {
		job.Requests = append(job.Requests, r.ProviderRequest())
	}
	return job
}

// Jobs converts every configured series, in order.
func (c *Config) Jobs() []pipeline.Job {
	jobs := make([]pipeline.Job, 0, len(c.Series))
	for _, s := range c.Series {
		jobs = append(jobs, s.Job())
	}
	return jobs
}
