package updater

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/cp"
	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/evyataryagoni/geolookup/internal/metrics"
	"github.com/evyataryagoni/geolookup/internal/models"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxPayloadBytes bounds what one archive may expand to on disk
const DefaultMaxPayloadBytes int64 = 1 << 30

// Publisher is the part of the database store the pipeline writes to
type Publisher interface {
	Publish(t models.DatabaseType, path string) error
	Status() []models.DatabaseStatus
}

// Source is the remote distribution point of one database type
type Source struct {
	Type models.DatabaseType
	URL  string
}

// Options configures a Pipeline
type Options struct {
	DataDir         string        // canonical <type>.mmdb files
	ScratchDir      string        // parent of scratch directories ("" = OS temp dir)
	Sources         []Source      // one per enabled type
	HTTPClient      *http.Client  // nil = http.DefaultClient
	Timeout         time.Duration // per-download timeout, 0 = none
	MaxWalkDepth    int           // payload search depth
	MaxPayloadBytes int64         // bytes one archive may extract to, <= 0 = DefaultMaxPayloadBytes
	Parallel        int           // types refreshed at once, <= 0 = all
}

// Job is one in-flight refresh attempt; it lives only for the duration of RefreshOne
type Job struct {
	Type    models.DatabaseType
	URL     string
	WorkDir string
	Started time.Time
}

// Result is the outcome of one Job
type Result struct {
	Type     models.DatabaseType `json:"type"`
	Success  bool                `json:"success"`
	Reason   string              `json:"reason,omitempty"`
	Duration time.Duration       `json:"duration"`
	Bytes    int64               `json:"bytes"`
	Err      error               `json:"-"`
}

// Report collects the per-type results of one cycle
type Report struct {
	Results []Result
}

// Failed returns the results that did not succeed
func (r Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if !res.Success {
			failed = append(failed, res)
		}
	}
	return failed
}

// Degraded is true when some, but not all, types failed
func (r Report) Degraded() bool {
	n := len(r.Failed())
	return n > 0 && n < len(r.Results)
}

// AllFailed is true when every type failed
func (r Report) AllFailed() bool {
	return len(r.Results) > 0 && len(r.Failed()) == len(r.Results)
}

// Pipeline brings each database type's published handle up to date
//
// Per type: lock → download → extract → locate payload → install → publish,
// always removing scratch files. A failing type never affects the others.
type Pipeline struct {
	opts    Options
	store   Publisher
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewPipeline creates a refresh pipeline
//
// Parameters:
//   - opts: data directory, sources and limits
//   - store: where successfully installed payloads are published
//   - m: metrics collector (optional, can be nil)
//   - log: logger (optional, can be nil)
func NewPipeline(opts Options, store Publisher, m *metrics.Metrics, log *logger.Logger) *Pipeline {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.MaxWalkDepth <= 0 {
		opts.MaxWalkDepth = 8
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Pipeline{
		opts:    opts,
		store:   store,
		metrics: m,
		logger:  log.WithComponent("RefreshPipeline"),
	}
}

// DestinationPath is the canonical file of a database type
func (p *Pipeline) DestinationPath(t models.DatabaseType) string {
	return filepath.Join(p.opts.DataDir, t.FileName())
}

// Run refreshes every configured source and reports per-type outcomes
// Types run in parallel; their failures are isolated from each other
func (p *Pipeline) Run(ctx context.Context) Report {
	results := make([]Result, len(p.opts.Sources))

	var g errgroup.Group
	if p.opts.Parallel > 0 {
		g.SetLimit(p.opts.Parallel)
	}
	for i, src := range p.opts.Sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = p.RefreshOne(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Results: results}
	event := p.logger.Info()
	if report.AllFailed() {
		event = p.logger.Error()
	} else if report.Degraded() {
		event = p.logger.Warn()
	}
	event.
		Int("types", len(results)).
		Int("failed", len(report.Failed())).
		Bool("degraded", report.Degraded()).
		Msg("Refresh cycle completed")

	if p.metrics != nil {
		p.metrics.RecordDatabases(p.store.Status())
	}
	return report
}

// RefreshOne runs a single Job for src
func (p *Pipeline) RefreshOne(ctx context.Context, src Source) Result {
	job := &Job{Type: src.Type, URL: src.URL, Started: time.Now()}
	log := p.logger.WithDatabase(string(src.Type))
	log.Info().Str("url", RedactURL(src.URL)).Msg("Refresh started")

	n, err := p.refresh(ctx, job)

	res := Result{
		Type:     job.Type,
		Success:  err == nil,
		Duration: time.Since(job.Started),
		Bytes:    n,
		Err:      err,
	}
	if err != nil {
		res.Reason = err.Error()
		log.Error().Err(err).Dur("duration", res.Duration).Msg("Refresh failed, previous generation kept")
	} else {
		log.Info().Int64("bytes", n).Dur("duration", res.Duration).Msg("Refresh succeeded")
	}
	if p.metrics != nil {
		p.metrics.RecordRefresh(job.Type, res.Success, res.Duration)
	}
	return res
}

func (p *Pipeline) refresh(ctx context.Context, job *Job) (int64, error) {
	fail := func(stage string, err error) error {
		return &JobError{Type: job.Type, Stage: stage, Err: err}
	}

	dest := p.DestinationPath(job.Type)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fail(StageInstall, err)
	}

	// Serializes refreshes of one type across the server and the CLI
	lock := flock.New(dest + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return 0, fail(StageLock, err)
	}
	if !locked {
		return 0, fail(StageLock, ErrBusy)
	}
	defer lock.Unlock()

	workDir, err := os.MkdirTemp(p.opts.ScratchDir, "geolookup-"+string(job.Type)+"-*")
	if err != nil {
		return 0, fail(StageDownload, fmt.Errorf("%w: failed to create scratch directory: %w", ErrTransfer, err))
	}
	job.WorkDir = workDir
	defer os.RemoveAll(workDir)

	dlCtx := ctx
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		dlCtx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	archive := filepath.Join(workDir, "archive")
	n, err := download(dlCtx, p.opts.HTTPClient, job.URL, archive)
	if err != nil {
		return n, fail(StageDownload, err)
	}

	extracted := filepath.Join(workDir, "extracted")
	if err := extractArchive(archive, extracted, p.opts.MaxPayloadBytes); err != nil {
		return n, fail(StageExtract, err)
	}

	payload, err := findPayload(extracted, PayloadExtension, p.opts.MaxWalkDepth)
	if err != nil {
		return n, fail(StageLocate, err)
	}

	if err := p.install(job.Type, payload, dest); err != nil {
		return n, err
	}
	return n, nil
}

// install moves payload onto dest and publishes it
// The previous file is parked at dest.prev and deleted only after the
// publish succeeds; a failed publish puts it back so disk and store agree
func (p *Pipeline) install(t models.DatabaseType, payload, dest string) error {
	tmp := dest + ".tmp"
	prev := dest + ".prev"

	if err := cp.CopyFile(tmp, payload); err != nil {
		os.Remove(tmp)
		return &JobError{Type: t, Stage: StageInstall, Err: err}
	}

	hadPrev := false
	if _, err := os.Stat(dest); err == nil {
		if err := os.Rename(dest, prev); err != nil {
			os.Remove(tmp)
			return &JobError{Type: t, Stage: StageInstall, Err: err}
		}
		hadPrev = true
	}

	restore := func() {
		if hadPrev {
			if err := os.Rename(prev, dest); err != nil {
				p.logger.Warn().Err(err).Str("type", string(t)).Str("path", dest).
					Msg("Failed to restore previous database file, disk and store disagree")
			}
			return
		}
		if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn().Err(err).Str("type", string(t)).Str("path", dest).
				Msg("Failed to remove rejected database file")
		}
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		restore()
		return &JobError{Type: t, Stage: StageInstall, Err: err}
	}

	if err := p.store.Publish(t, dest); err != nil {
		restore()
		return &JobError{Type: t, Stage: StagePublish, Err: err}
	}

	if hadPrev {
		if err := os.Remove(prev); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn().Err(err).Str("path", prev).Msg("Failed to remove previous database file")
		}
	}
	return nil
}
