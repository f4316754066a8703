package recorder

import "time"

// RunRecord summarizes one pipeline run.
type RunRecord struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Updated    int
	Unchanged  int
	Failed     int
	DryRun     bool
}

// SeriesRecord is the outcome of one series within a run.
type SeriesRecord struct {
	RunID        int64
	SeriesID     string
	Outcome      string // "written", "unchanged", "normalized" or "failed"
	Source       string
	SourceID     string
	Attempts     int
	Observations int
	LastDate     string
	Kind         string
	Error        string
}

// Recorder persists run history for later inspection.
type Recorder interface {
	// RecordRun stores a run and returns its id for RecordSeries.
	RecordRun(run *RunRecord) (int64, error)
	RecordSeries(rec *SeriesRecord) error
	Close() error
}
