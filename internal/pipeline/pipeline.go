// Package pipeline drives every configured series through fetch, normalize
// and write, isolating failures per series.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/sync/errgroup"

	"seriesfeed/internal/fault"
	"seriesfeed/internal/normalize"
	"seriesfeed/internal/provider"
	"seriesfeed/internal/recorder"
	"seriesfeed/internal/series"
	"seriesfeed/internal/store"
)

const (
	defaultConcurrency    = 2
	defaultRequestTimeout = 30 * time.Second
)

// Outcome of one series in a run.
type Outcome string

const (
	OutcomeWritten    Outcome = "written"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeNormalized Outcome = "normalized" // dry run: nothing written
	OutcomeFailed     Outcome = "failed"
)

// Job is one configured series: its identity and the requests to try, the
// primary first and fallbacks after it.
type Job struct {
	ID       string
	Label    string
	Unit     string
	Requests []provider.Request
}

// Writer stores canonical series.
type Writer interface {
	Write(s series.Series) (store.Outcome, error)
}

// Pipeline runs jobs. Zero Concurrency, RequestTimeout and Now select
// defaults; a nil Recorder records nothing.
type Pipeline struct {
	Providers      map[string]provider.Provider
	Writer         Writer
	Recorder       recorder.Recorder
	Concurrency    int
	RequestTimeout time.Duration
	Now            func() time.Time
	// DryRun normalizes without writing.
	DryRun bool
}

// Result is what happened to one series.
type Result struct {
	ID       string
	Outcome  Outcome
	Source   string
	SourceID string
	Attempts int
	Series   series.Series
	Err      error
}

// SeriesFailure describes a failed series.
type SeriesFailure struct {
	ID   string
	Kind fault.Kind
	Err  error
}

// Summary reports a run in configuration order.
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []Result
	Updated    []string
	Unchanged  []string
	Normalized []string
	Failed     []string
	Failures   []SeriesFailure
}

// Err is non-nil when any series failed.
func (s Summary) Err() error {
	if len(s.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(s.Failures))
	for _, f := range s.Failures {
		errs = append(errs, f.Err)
	}
	return fmt.Errorf("%d of %d series failed (%s): %w",
		len(s.Failures), len(s.Results), strings.Join(s.Failed, ", "), errors.Join(errs...))
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Run processes every job and never aborts on a per-series failure. Up to
// Concurrency series are in flight at once.
func (p *Pipeline) Run(ctx context.Context, jobs []Job) Summary {
	limit := p.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	sum := Summary{StartedAt: p.now(), Results: make([]Result, len(jobs))}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			sum.Results[i] = p.runJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	sum.FinishedAt = p.now()

	for _, r := range sum.Results {
		switch r.Outcome {
		case OutcomeWritten:
			sum.Updated = append(sum.Updated, r.ID)
		case OutcomeUnchanged:
			sum.Unchanged = append(sum.Unchanged, r.ID)
		case OutcomeNormalized:
			sum.Normalized = append(sum.Normalized, r.ID)
		default:
			sum.Failed = append(sum.Failed, r.ID)
			sum.Failures = append(sum.Failures, SeriesFailure{ID: r.ID, Kind: fault.KindOf(r.Err), Err: r.Err})
		}
	}
	p.record(sum)

	logx.WithContext(ctx).Infow("run finished",
		logx.Field("updated", len(sum.Updated)),
		logx.Field("unchanged", len(sum.Unchanged)),
		logx.Field("failed", len(sum.Failed)),
		logx.Field("dry_run", p.DryRun),
		logx.Field("duration", sum.FinishedAt.Sub(sum.StartedAt).String()),
	)
	return sum
}

func (p *Pipeline) runJob(ctx context.Context, job Job) Result {
	res := Result{ID: job.ID}
	log := logx.WithContext(ctx).WithFields(logx.Field("series", job.ID))

	s, attempts, err := p.Fetch(ctx, job)
	res.Attempts = attempts
	if err != nil {
		return p.fail(log, res, err)
	}
	res.Series = s
	res.Source, res.SourceID = s.Source, s.SourceID

	if p.DryRun {
		res.Outcome = OutcomeNormalized
		log.Infow("normalized", logx.Field("source", s.Source), logx.Field("observations", s.Len()), logx.Field("last", s.Last().String()))
		return res
	}

	outcome, err := p.Writer.Write(s)
	if err != nil {
		return p.fail(log, res, fault.WithSeries(job.ID, err))
	}
	res.Outcome = OutcomeUnchanged
	if outcome == store.Written {
		res.Outcome = OutcomeWritten
	}
	log.Infow(string(res.Outcome),
		logx.Field("source", s.Source),
		logx.Field("source_id", s.SourceID),
		logx.Field("observations", s.Len()),
		logx.Field("last", s.Last().String()),
	)
	return res
}

func (p *Pipeline) fail(log logx.Logger, res Result, err error) Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	kind := fault.KindOf(err)
	msg := "series failed"
	if kind.Class() == fault.ClassWriter {
		msg = "output write failed"
	}
	log.Errorw(msg,
		logx.Field("kind", string(kind)),
		logx.Field("class", string(kind.Class())),
		logx.Field("attempts", res.Attempts),
		logx.Field("error", err.Error()),
	)
	return res
}

// Fetch resolves job to a canonical series without writing it. Requests are
// tried in order; a fallback is used only after an adapter failure. It also
// reports how many requests were attempted.
func (p *Pipeline) Fetch(ctx context.Context, job Job) (series.Series, int, error) {
	if len(job.Requests) == 0 {
		return series.Series{}, 0, fault.WithSeries(job.ID, fault.Errorf(fault.KindConfig, "pipeline", "no requests configured"))
	}
	meta := normalize.Meta{ID: job.ID, Label: job.Label, Unit: job.Unit}

	var errs []error
	for i, req := range job.Requests {
		payload, err := p.fetchOne(ctx, req)
		if err == nil {
			s, err := normalize.Normalize(payload, meta, p.now())
			if err != nil {
				return series.Series{}, i + 1, fault.WithSeries(job.ID, err)
			}
			if i > 0 {
				logx.WithContext(ctx).Infow("served by fallback",
					logx.Field("series", job.ID),
					logx.Field("request", req.String()),
					logx.Field("fallback", i),
				)
			}
			return s, i + 1, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", req, err))
		kind := fault.KindOf(err)
		if kind.Class() != fault.ClassAdapter || ctx.Err() != nil {
			return series.Series{}, i + 1, exhausted(job.ID, errs)
		}
		if i+1 < len(job.Requests) {
			logx.WithContext(ctx).Infow("trying fallback",
				logx.Field("series", job.ID),
				logx.Field("failed", req.String()),
				logx.Field("kind", string(kind)),
				logx.Field("next", job.Requests[i+1].String()),
			)
		}
	}
	return series.Series{}, len(job.Requests), exhausted(job.ID, errs)
}

// exhausted combines the errors of every attempt. The last attempt decides
// the kind.
func exhausted(id string, errs []error) error {
	if len(errs) == 1 {
		return fault.WithSeries(id, errs[0])
	}
	return &fault.Error{
		Kind:   fault.KindOf(errs[len(errs)-1]),
		Series: id,
		Op:     "fetch",
		Err:    errors.Join(errs...),
	}
}

func (p *Pipeline) fetchOne(ctx context.Context, req provider.Request) (*provider.Payload, error) {
	prov, ok := p.Providers[req.Type]
	if !ok {
		return nil, fault.Errorf(fault.KindConfig, "pipeline", "no provider for type %q", req.Type)
	}
	timeout := p.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	// Queueing for a rate limiter does not count against the attempt.
	actx, err := provider.Admit(ctx, prov, req)
	if err != nil {
		return nil, classify(prov.Name(), err)
	}
	actx, cancel := context.WithTimeout(actx, timeout)
	defer cancel()

	payload, err := prov.Fetch(actx, req)
	if err != nil {
		return nil, classify(prov.Name(), err)
	}
	if payload == nil {
		return nil, fault.Errorf(fault.KindPayload, prov.Name(), "empty payload")
	}
	return payload, nil
}

// classify gives bare context errors from decorators a transport kind.
func classify(op string, err error) error {
	if fault.KindOf(err) == fault.KindUnknown && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return fault.Transport(op, err)
	}
	return err
}

func (p *Pipeline) record(sum Summary) {
	if p.Recorder == nil {
		return
	}
	runID, err := p.Recorder.RecordRun(&recorder.RunRecord{
		StartedAt:  sum.StartedAt,
		FinishedAt: sum.FinishedAt,
		Updated:    len(sum.Updated),
		Unchanged:  len(sum.Unchanged),
		Failed:     len(sum.Failed),
		DryRun:     p.DryRun,
	})
	if err != nil {
		logx.Errorf("recording run: %v", err)
		return
	}
	for _, r := range sum.Results {
		rec := &recorder.SeriesRecord{
			RunID:    runID,
			SeriesID: r.ID,
			Outcome:  string(r.Outcome),
			Source:   r.Source,
			SourceID: r.SourceID,
			Attempts: r.Attempts,
		}
		if r.Err != nil {
			rec.Kind = string(fault.KindOf(r.Err))
			rec.Error = r.Err.Error()
		} else {
			rec.Observations = r.Series.Len()
			rec.LastDate = r.Series.Last().String()
		}
		if err := p.Recorder.RecordSeries(rec); err != nil {
			logx.Errorf("recording series %s: %v", r.ID, err)
		}
	}
}

// Validate checks every request of every job against its provider without
// touching the network.
func (p *Pipeline) Validate(jobs []Job) error {
	var errs []error
	for _, job := range jobs {
		if len(job.Requests) == 0 {
			errs = append(errs, fault.WithSeries(job.ID, fault.Errorf(fault.KindConfig, "pipeline", "no requests configured")))
		}
		for _, req := range job.Requests {
			prov, ok := p.Providers[req.Type]
			if !ok {
				errs = append(errs, fault.WithSeries(job.ID, fault.Errorf(fault.KindConfig, "pipeline", "no provider for type %q", req.Type)))
				continue
			}
			if err := prov.Validate(req); err != nil {
				errs = append(errs, fault.WithSeries(job.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}
