package recorder

// NoopRecorder is a no-op implementation used when no history database is
// configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordRun(_ *RunRecord) (int64, error) { return 0, nil }
func (n *NoopRecorder) RecordSeries(_ *SeriesRecord) error { return nil }
func (n *NoopRecorder) Close() error { return nil }
