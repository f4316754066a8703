package pipeline_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"seriesfeed/internal/fault"
	"seriesfeed/internal/pipeline"
	"seriesfeed/internal/provider"
	"seriesfeed/internal/provider/providertest"
	"seriesfeed/internal/provider/ratelimit"
	"seriesfeed/internal/recorder"
	"seriesfeed/internal/store"
)

var (
	fxDaily = provider.Request{Type: provider.TypeAlphaVantage, Function: "FX_DAILY", FromSymbol: "XAU", ToSymbol: "USD"}
	goldFix = provider.Request{Type: provider.TypeFRED, SeriesID: "GOLDAMGBD228NLBM"}
	dfii10  = provider.Request{Type: provider.TypeFRED, SeriesID: "DFII10"}
)

func fixture(source, code string) *provider.Payload {
	return &provider.Payload{
		Source:   source,
		SourceID: code,
		Observations: []provider.RawObservation{
			{Date: "2024-01-01", Value: "2050.1"},
			{Date: "2024-01-02", Value: "."},
			{Date: "2024-01-03", Value: "2061.4"},
		},
	}
}

func newProvider(ctrl *gomock.Controller, name string) *providertest.MockProvider {
	p := providertest.NewMockProvider(ctrl)
	p.EXPECT().Name().Return(name).AnyTimes()
	return p
}

type fakeRecorder struct {
	mu     sync.Mutex
	runs   []recorder.RunRecord
	series []recorder.SeriesRecord
}

func (f *fakeRecorder) RecordRun(run *recorder.RunRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, *run)
	return int64(len(f.runs)), nil
}

func (f *fakeRecorder) RecordSeries(rec *recorder.SeriesRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.series = append(f.series, *rec)
	return nil
}

func (f *fakeRecorder) Close() error { return nil }

func TestRun_WritesThenUnchanged(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	fred := newProvider(ctrl, "fred")
	fred.EXPECT().Fetch(gomock.Any(), goldFix).Return(fixture("fred", "GOLDAMGBD228NLBM"), nil).Times(2)

	writer := store.New(t.TempDir())
	clock := time.Date(2024, 1, 5, 6, 0, 0, 0, time.UTC)
	p := &pipeline.Pipeline{
		Providers: map[string]provider.Provider{provider.TypeFRED: fred},
		Writer:    writer,
		Now:       func() time.Time { return clock },
	}
	jobs := []pipeline.Job{{ID: "xauusd", Requests: []provider.Request{goldFix}}}

	// Act: first run
	sum := p.Run(t.Context(), jobs)

	// Assert
	require.NoError(t, sum.Err())
	require.Equal(t, []string{"xauusd"}, sum.Updated)
	before, err := os.ReadFile(writer.Path("xauusd"))
	require.NoError(t, err)
	require.JSONEq(t, `{
  "id": "xauusd",
  "source": "fred",
  "source_id": "GOLDAMGBD228NLBM",
  "generated_at": "2024-01-05T06:00:00Z",
  "observations": [
    {"date": "2024-01-01", "value": 2050.1},
    {"date": "2024-01-02", "value": null},
    {"date": "2024-01-03", "value": 2061.4}
  ]
}`, string(before))

	// Act: second run a day later with identical upstream data
	clock = clock.Add(24 * time.Hour)
	sum = p.Run(t.Context(), jobs)

	// Assert: file untouched
	require.NoError(t, sum.Err())
	require.Equal(t, []string{"xauusd"}, sum.Unchanged)
	require.Empty(t, sum.Updated)
	after, err := os.ReadFile(writer.Path("xauusd"))
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestRun_PartialFailureKeepsOrder(t *testing.T) {
	t.Parallel()

	// Arrange: the middle series fails
	ctrl := gomock.NewController(t)
	fred := newProvider(ctrl, "fred")
	fred.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req provider.Request) (*provider.Payload, error) {
		switch req.SeriesID {
		case "B":
			return nil, fault.Errorf(fault.KindStatus, "fred", "GET -> 500")
		case "A":
			time.Sleep(20 * time.Millisecond)
		}
		return fixture("fred", req.SeriesID), nil
	}).Times(3)

	rec := &fakeRecorder{}
	p := &pipeline.Pipeline{
		Providers:   map[string]provider.Provider{provider.TypeFRED: fred},
		Writer:      store.New(t.TempDir()),
		Recorder:    rec,
		Concurrency: 3,
	}
	jobs := []pipeline.Job{
		{ID: "a", Requests: []provider.Request{{Type: provider.TypeFRED, SeriesID: "A"}}},
		{ID: "b", Requests: []provider.Request{{Type: provider.TypeFRED, SeriesID: "B"}}},
		{ID: "c", Requests: []provider.Request{{Type: provider.TypeFRED, SeriesID: "C"}}},
	}

	// Act
	sum := p.Run(t.Context(), jobs)

	// Assert
	require.Error(t, sum.Err())
	require.Equal(t, []string{"a", "c"}, sum.Updated)
	require.Equal(t, []string{"b"}, sum.Failed)
	require.Len(t, sum.Failures, 1)
	require.Equal(t, fault.KindStatus, sum.Failures[0].Kind)
	require.Contains(t, sum.Err().Error(), "1 of 3 series failed (b)")
	require.Equal(t, "a", sum.Results[0].ID)
	require.Equal(t, "c", sum.Results[2].ID)

	require.Len(t, rec.runs, 1)
	require.Equal(t, 2, rec.runs[0].Updated)
	require.Equal(t, 1, rec.runs[0].Failed)
	require.Len(t, rec.series, 3)
	require.Equal(t, "status", rec.series[1].Kind)
	require.Equal(t, "2024-01-03", rec.series[0].LastDate)
}

func TestRun_FallbackServes(t *testing.T) {
	t.Parallel()

	// Arrange: Alpha Vantage is throttled, FRED answers
	ctrl := gomock.NewController(t)
	av := newProvider(ctrl, "alphavantage")
	fred := newProvider(ctrl, "fred")
	gomock.InOrder(
		av.EXPECT().Fetch(gomock.Any(), fxDaily).Return(nil, fault.Errorf(fault.KindRateLimited, "alphavantage", "call frequency")),
		fred.EXPECT().Fetch(gomock.Any(), goldFix).Return(fixture("fred", "GOLDAMGBD228NLBM"), nil),
	)
	p := &pipeline.Pipeline{
		Providers: map[string]provider.Provider{provider.TypeAlphaVantage: av, provider.TypeFRED: fred},
		Writer:    store.New(t.TempDir()),
	}

	// Act
	sum := p.Run(t.Context(), []pipeline.Job{{ID: "xauusd", Requests: []provider.Request{fxDaily, goldFix}}})

	// Assert: the series records who actually served it
	require.NoError(t, sum.Err())
	require.Equal(t, "fred", sum.Results[0].Source)
	require.Equal(t, "GOLDAMGBD228NLBM", sum.Results[0].SourceID)
	require.Equal(t, 2, sum.Results[0].Attempts)
}

func TestRun_FallbacksExhausted(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	av := newProvider(ctrl, "alphavantage")
	fred := newProvider(ctrl, "fred")
	av.EXPECT().Fetch(gomock.Any(), fxDaily).Return(nil, fault.Errorf(fault.KindRateLimited, "alphavantage", "call frequency"))
	fred.EXPECT().Fetch(gomock.Any(), goldFix).Return(nil, fault.Errorf(fault.KindAuth, "fred", "bad key"))
	p := &pipeline.Pipeline{
		Providers: map[string]provider.Provider{provider.TypeAlphaVantage: av, provider.TypeFRED: fred},
		Writer:    store.New(t.TempDir()),
	}

	sum := p.Run(t.Context(), []pipeline.Job{{ID: "xauusd", Requests: []provider.Request{fxDaily, goldFix}}})

	require.Equal(t, []string{"xauusd"}, sum.Failed)
	require.Equal(t, fault.KindAuth, sum.Failures[0].Kind)
	msg := sum.Failures[0].Err.Error()
	require.Contains(t, msg, "call frequency")
	require.Contains(t, msg, "bad key")
	require.Contains(t, msg, "xauusd")
}

func TestRun_NormalizeFailureSkipsFallback(t *testing.T) {
	t.Parallel()

	// Arrange: the primary answers with drifted data
	ctrl := gomock.NewController(t)
	av := newProvider(ctrl, "alphavantage")
	fred := newProvider(ctrl, "fred")
	av.EXPECT().Fetch(gomock.Any(), fxDaily).Return(&provider.Payload{
		Source:       "alphavantage",
		Observations: []provider.RawObservation{{Date: "2024-01-01", Value: "see note"}},
	}, nil)
	fred.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)
	writer := store.New(t.TempDir())
	p := &pipeline.Pipeline{
		Providers: map[string]provider.Provider{provider.TypeAlphaVantage: av, provider.TypeFRED: fred},
		Writer:    writer,
	}

	// Act
	sum := p.Run(t.Context(), []pipeline.Job{{ID: "xauusd", Requests: []provider.Request{fxDaily, goldFix}}})

	// Assert: nothing written
	require.Equal(t, fault.KindNormalize, sum.Failures[0].Kind)
	_, err := os.Stat(writer.Path("xauusd"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fred := newProvider(ctrl, "fred")
	fred.EXPECT().Fetch(gomock.Any(), dfii10).DoAndReturn(func(ctx context.Context, _ provider.Request) (*provider.Payload, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := &pipeline.Pipeline{
		Providers:      map[string]provider.Provider{provider.TypeFRED: fred},
		Writer:         store.New(t.TempDir()),
		RequestTimeout: 10 * time.Millisecond,
	}

	sum := p.Run(t.Context(), []pipeline.Job{{ID: "dfii10", Requests: []provider.Request{dfii10}}})

	require.Equal(t, fault.KindTimeout, sum.Failures[0].Kind)
}

func TestRun_RateLimitWaitIsNotTimeout(t *testing.T) {
	t.Parallel()

	// Arrange: one token every 50ms, so the last of four series queues for
	// far longer than the attempt timeout
	ctrl := gomock.NewController(t)
	av := newProvider(ctrl, "alphavantage")
	av.EXPECT().Fetch(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, req provider.Request) (*provider.Payload, error) {
		return fixture("alphavantage", req.Code()), nil
	}).Times(4)
	p := &pipeline.Pipeline{
		Providers: map[string]provider.Provider{
			provider.TypeAlphaVantage: &ratelimit.TokenBucketProvider{P: av, TB: ratelimit.NewTokenBucket(20, 1)},
		},
		Writer:         store.New(t.TempDir()),
		Concurrency:    4,
		RequestTimeout: 30 * time.Millisecond,
	}
	var jobs []pipeline.Job
	for _, sym := range []string{"gld", "iau", "slv", "spy"} {
		req := provider.Request{Type: provider.TypeAlphaVantage, Function: "TIME_SERIES_DAILY", Symbol: sym}
		jobs = append(jobs, pipeline.Job{ID: sym, Requests: []provider.Request{req}})
	}

	// Act
	start := time.Now()
	sum := p.Run(t.Context(), jobs)

	// Assert: every series waited its turn and was written
	require.NoError(t, sum.Err())
	require.Equal(t, []string{"gld", "iau", "slv", "spy"}, sum.Updated)
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestRun_UnknownProvider(t *testing.T) {
	t.Parallel()

	p := &pipeline.Pipeline{Writer: store.New(t.TempDir())}

	sum := p.Run(t.Context(), []pipeline.Job{{ID: "dfii10", Requests: []provider.Request{dfii10}}})

	require.Equal(t, fault.KindConfig, sum.Failures[0].Kind)
}

func TestRun_DryRun(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fred := newProvider(ctrl, "fred")
	fred.EXPECT().Fetch(gomock.Any(), dfii10).Return(fixture("fred", "DFII10"), nil)
	p := &pipeline.Pipeline{
		Providers: map[string]provider.Provider{provider.TypeFRED: fred},
		DryRun:    true,
	}

	sum := p.Run(t.Context(), []pipeline.Job{{ID: "dfii10", Label: "10y real yield", Requests: []provider.Request{dfii10}}})

	require.NoError(t, sum.Err())
	require.Equal(t, []string{"dfii10"}, sum.Normalized)
	require.Equal(t, "10y real yield", sum.Results[0].Series.Label)
	require.Equal(t, 3, sum.Results[0].Series.Len())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	fred := newProvider(ctrl, "fred")
	fred.EXPECT().Validate(dfii10).Return(nil)
	fred.EXPECT().Validate(provider.Request{Type: provider.TypeFRED}).Return(fault.Errorf(fault.KindConfig, "fred", "series_id is required"))
	fred.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)
	p := &pipeline.Pipeline{Providers: map[string]provider.Provider{provider.TypeFRED: fred}}

	err := p.Validate([]pipeline.Job{
		{ID: "ok", Requests: []provider.Request{dfii10}},
		{ID: "broken", Requests: []provider.Request{{Type: provider.TypeFRED}}},
		{ID: "orphan", Requests: []provider.Request{fxDaily}},
	})

	require.Error(t, err)
	require.Equal(t, fault.KindConfig, fault.KindOf(err))
	require.Contains(t, err.Error(), "broken: fred: config: series_id is required")
	require.Contains(t, err.Error(), `orphan: pipeline: config: no provider for type "alphavantage"`)
	require.NotContains(t, err.Error(), "ok:")
}
