package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"seriesfeed/internal/fault"
	"seriesfeed/internal/provider"
)

// isolate clears every variable the loader reads.
func isolate(t *testing.T) {
	t.Helper()
	for _, k := range []string{envConfig, envOutputDir, envTimeout, envConcurrency, envHistoryDB, envLogLevel, envFREDKey, envAlphaKey, envSheetsCSVURL, "ENV_FILE", "NO_DOTENV"} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	t.Setenv(envFREDKey, "fred-key")
	t.Setenv(envAlphaKey, "av-key")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	ids := make([]string, 0, len(cfg.Series))
	for _, s := range cfg.Series {
		ids = append(ids, s.ID)
	}
	require.Equal(t, []string{"dfii10", "dtwexbgs", "xauusd", "gld", "iau"}, ids)
	require.Equal(t, "data", cfg.OutputDir)
	require.Equal(t, 30*time.Second, cfg.RequestTimeout)
	require.Equal(t, "fred-key", cfg.Providers.FRED.APIKey)
	require.Equal(t, 5, cfg.Providers.AlphaVantage.MaxRequestsPerMinute)

	xau := cfg.Lookup("xauusd")
	require.NotNil(t, xau)
	require.Len(t, xau.Requests(), 3)
	require.Equal(t, "GOLDAMGBD228NLBM", xau.Requests()[2].SeriesID)
}

func TestLoad_File(t *testing.T) {
	isolate(t)
	t.Setenv("SHEET_ID", "abc123")
	t.Setenv(envAlphaKey, "av-key")

	// Arrange: the file replaces the series list
	path := writeFile(t, "series.yaml", `
output_dir: out
request_timeout: 5s
concurrency: 4
providers:
  alphavantage:
    max_requests_per_minute: 75
    burst: 5
series:
  - id: copper
    label: Copper
    source:
      type: alphavantage
      function: CUSTOM
      symbol: HG
      path: $["data"]
      field: value
  - id: sheet
    source:
      type: csv
      url: https://docs.example.test/d/${SHEET_ID}/export?format=csv
      value_column: Total
      date_format: 02/01/2006
`)

	// Act
	cfg, err := Load(path)

	// Assert
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, "out", cfg.OutputDir)
	require.Equal(t, 5*time.Second, cfg.RequestTimeout)
	require.Equal(t, 4, cfg.Concurrency)
	require.Equal(t, 75, cfg.Providers.AlphaVantage.MaxRequestsPerMinute)
	require.Equal(t, "https://api.stlouisfed.org/fred", cfg.Providers.FRED.BaseURL)
	require.Len(t, cfg.Series, 2)
	require.Equal(t, `$["data"]`, cfg.Series[0].Source.Path)
	require.Equal(t, "https://docs.example.test/d/abc123/export?format=csv", cfg.Series[1].Source.URL)
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	isolate(t)
	t.Setenv(envConfig, writeFile(t, "c.yaml", "output_dir: elsewhere\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "elsewhere", cfg.OutputDir)
	require.Len(t, cfg.Series, 5)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	isolate(t)

	_, err := Load(writeFile(t, "c.yaml", "ouput_dir: typo\n"))
	require.Equal(t, fault.KindConfig, fault.KindOf(err))
}

func TestLoad_MissingFile(t *testing.T) {
	isolate(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Equal(t, fault.KindConfig, fault.KindOf(err))
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv(envOutputDir, "/srv/data")
	t.Setenv(envTimeout, "12")
	t.Setenv(envConcurrency, "8")
	t.Setenv(envHistoryDB, "/srv/history.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envSheetsCSVURL, "https://docs.example.test/sheet.csv")

	cfg, err := Load("")

	require.NoError(t, err)
	require.Equal(t, "/srv/data", cfg.OutputDir)
	require.Equal(t, 12*time.Second, cfg.RequestTimeout)
	require.Equal(t, 8, cfg.Concurrency)
	require.Equal(t, "/srv/history.db", cfg.HistoryDB)
	require.Equal(t, "debug", cfg.LogLevel)
	sheets := cfg.Lookup("cb_sheets")
	require.NotNil(t, sheets)
	require.Equal(t, provider.TypeCSV, sheets.Source.Type)
	require.Equal(t, "https://docs.example.test/sheet.csv", sheets.Source.URL)
}

func TestLoad_BadEnvNumbers(t *testing.T) {
	isolate(t)
	t.Setenv(envTimeout, "soon")

	_, err := Load("")
	require.Equal(t, fault.KindConfig, fault.KindOf(err))

	t.Setenv(envTimeout, "")
	t.Setenv(envConcurrency, "0")
	_, err = Load("")
	require.Equal(t, fault.KindConfig, fault.KindOf(err))
}

func TestValidate(t *testing.T) {
	withKeys := func(c Config) Config {
		c.Providers.FRED.APIKey = "f"
		c.Providers.AlphaVantage.APIKey = "a"
		return c
	}
	cases := map[string]func(c *Config){
		"bad id":        func(c *Config) { c.Series[0].ID = "DFII10" },
		"path id":       func(c *Config) { c.Series[0].ID = "../etc" },
		"duplicate id":  func(c *Config) { c.Series[1].ID = c.Series[0].ID },
		"unknown type":  func(c *Config) { c.Series[0].Source.Type = "bloomberg" },
		"no series":     func(c *Config) { c.Series = nil },
		"no output dir": func(c *Config) { c.OutputDir = " " },
		"no timeout":    func(c *Config) { c.RequestTimeout = 0 },
		"fallback needs fred key": func(c *Config) {
			c.Providers.FRED.APIKey = ""
			c.Series = []Series{*c.Lookup("xauusd")}
		},
		"alphavantage key": func(c *Config) { c.Providers.AlphaVantage.APIKey = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := withKeys(Default())
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Equal(t, fault.KindConfig, fault.KindOf(err))
		})
	}

	cfg := withKeys(Default())
	require.NoError(t, cfg.Validate())

	// csv needs no credential
	cfg = Default()
	cfg.Series = []Series{{ID: "cb_sheets", Source: Request{Type: provider.TypeCSV, URL: "https://x.test/a.csv"}}}
	require.NoError(t, cfg.Validate())
}

func TestSelect(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Select([]string{"iau", "dfii10"}))
	require.Len(t, cfg.Series, 2)
	require.Equal(t, "dfii10", cfg.Series[0].ID)
	require.Equal(t, "iau", cfg.Series[1].ID)
	require.Len(t, Default().Series, 5)

	cfg = Default()
	require.Equal(t, fault.KindConfig, fault.KindOf(cfg.Select([]string{"nope"})))
}

func TestJobs(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Select([]string{"xauusd"}))

	jobs := cfg.Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, "xauusd", jobs[0].ID)
	require.Equal(t, "Gold Spot Price", jobs[0].Label)
	require.Equal(t, []provider.Request{
		{Type: provider.TypeAlphaVantage, Function: "FX_DAILY", FromSymbol: "XAU", ToSymbol: "USD"},
		{Type: provider.TypeAlphaVantage, Function: "TIME_SERIES_DAILY", Symbol: "XAUUSD"},
		{Type: provider.TypeFRED, SeriesID: "GOLDAMGBD228NLBM"},
	}, jobs[0].Requests)
}

func TestLoadDotenv(t *testing.T) {
	isolate(t)
	t.Setenv(envAlphaKey, "from-env")
	t.Setenv("ENV_FILE", writeFile(t, "test.env", "FRED_API_KEY=from-file\nALPHAVANTAGE_API_KEY=ignored\n"))
	// godotenv only sets variables that are unset
	require.NoError(t, os.Unsetenv(envFREDKey))

	require.NoError(t, LoadDotenv())
	require.Equal(t, "from-file", os.Getenv(envFREDKey))
	require.Equal(t, "from-env", os.Getenv(envAlphaKey))
	require.NoError(t, os.Unsetenv(envFREDKey))

	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	require.Equal(t, fault.KindConfig, fault.KindOf(LoadDotenv()))

	t.Setenv("NO_DOTENV", "1")
	require.NoError(t, LoadDotenv())
}
