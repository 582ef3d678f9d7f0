// Package pipeline drives each document through extraction, AI analysis and
// upload. Stage 1 (extract+analyze) runs up to a configured number of jobs
// concurrently; stage 2 (upload) is strictly serialized by the Uploader.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/notepress/notepress/internal/analysis"
	"github.com/notepress/notepress/internal/extract"
	"github.com/notepress/notepress/internal/jobs"
	"github.com/notepress/notepress/internal/notes"
	"github.com/notepress/notepress/pkg/log"
)

type Pipeline struct {
	store      jobs.Store
	machine    *jobs.Machine
	extractor  extract.Extractor
	analyzer   *analysis.Analyzer
	client     notes.Client
	vocabulary *notes.TagVocabulary
	reporter   Reporter

	maxConcurrent int
	now           func() time.Time

	scheduleMu sync.Mutex
	wg         sync.WaitGroup
	uploader   *Uploader
}

type Option func(*Pipeline)

func WithMaxConcurrent(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxConcurrent = n
		}
	}
}

func WithReporter(reporter Reporter) Option {
	return func(p *Pipeline) {
		if reporter != nil {
			p.reporter = reporter
		}
	}
}

func WithUploader(uploader *Uploader) Option {
	return func(p *Pipeline) {
		p.uploader = uploader
	}
}

func withClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

func New(
	store jobs.Store,
	machine *jobs.Machine,
	extractor extract.Extractor,
	analyzer *analysis.Analyzer,
	client notes.Client,
	vocabulary *notes.TagVocabulary,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		store:         store,
		machine:       machine,
		extractor:     extractor,
		analyzer:      analyzer,
		client:        client,
		vocabulary:    vocabulary,
		reporter:      LogReporter{},
		maxConcurrent: jobs.DefaultMaxConcurrent,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Restore normalizes persisted jobs after a restart. In-flight stage-1 work
// restarts from pending; a job caught mid-upload goes back to
// ready-to-upload (the idempotency key on the create call keeps the service
// from duplicating a note whose upload actually landed). This rewrites the
// rows at the persistence boundary: crash recovery is not a state
// transition and the table deliberately has no edges for it.
func (p *Pipeline) Restore(ctx context.Context) error {
	all, err := p.store.LoadJobs(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	for _, job := range all {
		var reset jobs.Status
		switch job.Status {
		case jobs.StatusExtracting, jobs.StatusAnalyzing:
			reset = jobs.StatusPending
		case jobs.StatusUploading:
			reset = jobs.StatusReadyToUpload
		default:
			continue
		}
		log.Info("Restoring job %s: %s -> %s", job.Path, job.Status, reset)
		job.Status = reset
		if err := p.store.UpsertJob(ctx, job); err != nil {
			return fmt.Errorf("restore job %s: %w", job.Path, err)
		}
	}
	return nil
}

// Submit registers a file for processing. An existing job for the same path
// is returned as-is whatever its status; a terminal failure keeps its error
// record until a user explicitly retries it, so rescans and restarts never
// replay a job that exhausted its attempts.
func (p *Pipeline) Submit(ctx context.Context, path string) (*jobs.Job, bool, error) {
	if path == "" {
		return nil, false, fmt.Errorf("path is required")
	}

	existing, err := p.store.GetJob(ctx, path)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	job := &jobs.Job{
		Path:      path,
		Status:    jobs.StatusPending,
		Progress:  progressPending,
		CreatedAt: p.now(),
	}
	if err := p.store.UpsertJob(ctx, job); err != nil {
		return nil, false, fmt.Errorf("persist job: %w", err)
	}
	p.report(job, "Queued for processing", nil)

	p.Schedule(ctx)
	return job.Clone(), true, nil
}

// Retry resets a terminal-error job for another run: status back to pending
// and the retry budget restored, as a user-initiated manual retry.
func (p *Pipeline) Retry(ctx context.Context, path string) (*jobs.Job, error) {
	job, err := p.store.GetJob(ctx, path)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s not found", path)
	}
	if job.Status != jobs.StatusError {
		return nil, fmt.Errorf("job %s is %s; only failed jobs can be retried", path, job.Status)
	}

	// Same boundary rewrite as Restore: terminal error has no outgoing
	// transition, a manual retry replaces the record's progress wholesale.
	job.Status = jobs.StatusPending
	job.Progress = progressPending
	job.RetryCount = 0
	job.RetryAfter = nil
	job.ErrorMessage = ""
	if err := p.store.UpsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}
	p.report(job, "Retrying at user request", nil)

	p.Schedule(ctx)
	return job.Clone(), nil
}

// Jobs returns a snapshot of every tracked job, oldest first.
func (p *Pipeline) Jobs(ctx context.Context) ([]*jobs.Job, error) {
	return p.store.LoadJobs(ctx)
}

// Schedule runs one stage-1 scheduling pass: it reads the current queue
// from the store and dispatches as many pending jobs as the concurrency cap
// allows. Safe to call after every store mutation; dispatched jobs leave
// pending before the pass returns, so repeat calls never double-dispatch.
func (p *Pipeline) Schedule(ctx context.Context) {
	p.scheduleMu.Lock()
	defer p.scheduleMu.Unlock()

	all, err := p.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Scheduling pass failed to load jobs: %v", err)
		return
	}

	for _, job := range jobs.NextToStart(all, p.maxConcurrent) {
		if err := p.machine.Transition(job, jobs.StatusExtracting); err != nil {
			log.Error("Refusing to dispatch %s: %v", job.Path, err)
			continue
		}
		job.Progress = progressExtracting
		if err := p.store.UpsertJob(ctx, job); err != nil {
			log.Error("Failed to persist dispatch of %s: %v", job.Path, err)
			continue
		}
		p.report(job, "Extracting text", nil)

		dispatched := job.Clone()
		p.wg.Add(1)
		// Detached from the caller's context: a dispatched job must not die
		// because the submitting request finished.
		go p.processJob(context.Background(), dispatched)
	}
}

// Wait blocks until all dispatched stage-1 work has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// processJob runs one job through extraction and analysis. Failures are
// scoped to this job alone; siblings keep their own pace.
func (p *Pipeline) processJob(ctx context.Context, job *jobs.Job) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.failJob(ctx, job, fmt.Errorf("runtime error: %v", r))
		}
	}()

	text, err := p.extractor.ExtractText(ctx, job.Path)
	if err != nil {
		p.failJob(ctx, job, fmt.Errorf("extract: %w", err))
		return
	}

	if err := p.machine.Transition(job, jobs.StatusAnalyzing); err != nil {
		p.failJob(ctx, job, err)
		return
	}
	job.Progress = progressAnalyzing
	if err := p.store.UpsertJob(ctx, job); err != nil {
		p.failJob(ctx, job, err)
		return
	}
	p.report(job, "Analyzing content", nil)

	validTags, err := p.vocabulary.Get(ctx)
	if err != nil {
		p.failJob(ctx, job, fmt.Errorf("fetch tag vocabulary: %w", err))
		return
	}

	result, err := p.analyzer.Analyze(ctx, analysis.Request{
		Content:   text,
		Title:     job.Title,
		Kind:      analysis.KindUpload,
		ValidTags: validTags,
	})
	if err != nil {
		p.failJob(ctx, job, fmt.Errorf("analyze: %w", err))
		return
	}

	job.Title = result.Title
	job.Description = result.Description
	job.Tags = result.Tags
	job.ContentHash = result.ContentHash
	job.Language = result.Language

	if err := p.machine.Transition(job, jobs.StatusReadyToUpload); err != nil {
		p.failJob(ctx, job, err)
		return
	}
	job.Progress = progressReady
	if err := p.store.UpsertJob(ctx, job); err != nil {
		p.failJob(ctx, job, err)
		return
	}
	p.report(job, "Ready to upload", nil)

	if p.uploader != nil {
		p.uploader.Wake()
	}
	// A stage-1 slot just freed up.
	p.Schedule(ctx)
}

func (p *Pipeline) failJob(ctx context.Context, job *jobs.Job, cause error) {
	if err := p.machine.Transition(job, jobs.StatusError); err != nil {
		// An illegal transition here is a programming error; surface it
		// loudly instead of quietly reshaping the job.
		log.Error("Cannot fail job %s: %v (original error: %v)", job.Path, err, cause)
		return
	}
	job.ErrorMessage = cause.Error()
	if err := p.store.UpsertJob(ctx, job); err != nil {
		log.Error("Failed to persist failure of %s: %v", job.Path, err)
	}

	p.reporter.Report(Event{
		FilePath: job.Path,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  failureMessage(cause),
		Error:    cause.Error(),
	})
	p.Schedule(ctx)
}

// failureMessage translates an internal failure into user-facing phrasing.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, extract.ErrUnsupportedType):
		return "This file type is not supported"
	case errors.Is(err, os.ErrNotExist):
		return "The source file is missing from disk"
	default:
		return "Processing failed"
	}
}

func (p *Pipeline) report(job *jobs.Job, message string, result *EventResult) {
	p.reporter.Report(Event{
		FilePath: job.Path,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  message,
		Result:   result,
	})
}

// Augment re-analyzes an existing note's content (through the analysis
// cache) and republishes its metadata. On success the cached entries for
// the note are dropped so a stale analysis cannot resurface later.
func (p *Pipeline) Augment(ctx context.Context, noteID string) (analysis.Result, error) {
	if noteID == "" {
		return analysis.Result{}, fmt.Errorf("note id is required")
	}

	note, err := p.client.GetNote(ctx, noteID)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("fetch note: %w", err)
	}

	validTags, err := p.vocabulary.Get(ctx)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("fetch tag vocabulary: %w", err)
	}

	result, err := p.analyzer.Analyze(ctx, analysis.Request{
		Content:   extract.Normalize(note.Content),
		Title:     note.Title,
		Kind:      analysis.KindAugment,
		SourceID:  noteID,
		ValidTags: validTags,
	})
	if err != nil {
		return analysis.Result{}, fmt.Errorf("analyze note: %w", err)
	}

	if err := p.client.UpdateNote(ctx, notes.NoteUpdate{
		ID:          noteID,
		Title:       result.Title,
		Description: result.Description,
		Tags:        result.Tags,
	}); err != nil {
		return analysis.Result{}, fmt.Errorf("update note: %w", err)
	}

	if err := p.analyzer.Invalidate(ctx, noteID); err != nil {
		log.Warn("Failed to drop analysis cache for note %s: %v", noteID, err)
	}
	return result, nil
}
