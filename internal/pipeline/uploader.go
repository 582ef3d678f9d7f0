package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/notepress/notepress/internal/jobs"
	"github.com/notepress/notepress/internal/notes"
	"github.com/notepress/notepress/pkg/log"
)

const (
	defaultPollInterval       = time.Second
	defaultBaseRetryDelay     = 5 * time.Second
	defaultConflictRetryDelay = 3 * time.Second
	defaultRateLimitBuffer    = 2 * time.Second
	defaultMaxRetries         = 3
)

// Uploader is the stage-2 worker: a single loop that drains ready jobs one
// at a time. Uploads are deliberately never parallel: the note service
// enforces one shared rate budget for the whole process, and only this
// loop ever writes the uploading, complete and upload-failure statuses,
// which is what keeps the single-flight invariant without a lock.
type Uploader struct {
	store    jobs.Store
	machine  *jobs.Machine
	client   notes.Client
	reporter Reporter

	pollInterval       time.Duration
	baseRetryDelay     time.Duration
	conflictRetryDelay time.Duration
	rateLimitBuffer    time.Duration
	maxRetries         int
	limiter            *rate.Limiter
	now                func() time.Time

	wake      chan struct{}
	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

type UploaderOption func(*Uploader)

func WithPollInterval(d time.Duration) UploaderOption {
	return func(u *Uploader) {
		if d > 0 {
			u.pollInterval = d
		}
	}
}

// WithRetryPolicy sets the linear-backoff base delay and the attempt budget
// for transient failures.
func WithRetryPolicy(baseDelay time.Duration, maxRetries int) UploaderOption {
	return func(u *Uploader) {
		if baseDelay > 0 {
			u.baseRetryDelay = baseDelay
		}
		if maxRetries > 0 {
			u.maxRetries = maxRetries
		}
	}
}

func WithConflictRetryDelay(d time.Duration) UploaderOption {
	return func(u *Uploader) {
		if d > 0 {
			u.conflictRetryDelay = d
		}
	}
}

// WithRateLimitBuffer pads the service-reported cooldown to absorb clock
// skew between this process and the service.
func WithRateLimitBuffer(d time.Duration) UploaderOption {
	return func(u *Uploader) {
		if d >= 0 {
			u.rateLimitBuffer = d
		}
	}
}

// WithAttemptLimiter sets a client-side floor on attempt spacing, on top of
// whatever the service signals.
func WithAttemptLimiter(limiter *rate.Limiter) UploaderOption {
	return func(u *Uploader) {
		u.limiter = limiter
	}
}

func withUploaderClock(now func() time.Time) UploaderOption {
	return func(u *Uploader) {
		u.now = now
	}
}

func NewUploader(store jobs.Store, machine *jobs.Machine, client notes.Client, reporter Reporter, opts ...UploaderOption) *Uploader {
	if reporter == nil {
		reporter = LogReporter{}
	}
	u := &Uploader{
		store:              store,
		machine:            machine,
		client:             client,
		reporter:           reporter,
		pollInterval:       defaultPollInterval,
		baseRetryDelay:     defaultBaseRetryDelay,
		conflictRetryDelay: defaultConflictRetryDelay,
		rateLimitBuffer:    defaultRateLimitBuffer,
		maxRetries:         defaultMaxRetries,
		limiter:            rate.NewLimiter(rate.Every(time.Second), 1),
		now:                time.Now,
		wake:               make(chan struct{}, 1),
		stopCh:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Start launches the worker loop once.
func (u *Uploader) Start() {
	u.startOnce.Do(func() {
		u.wg.Add(1)
		go u.run()
	})
}

// Stop signals the loop and waits for it to exit. The flag is only checked
// between iterations: an in-flight upload attempt always runs to completion
// or failure first.
func (u *Uploader) Stop() {
	u.stopOnce.Do(func() {
		close(u.stopCh)
		u.wg.Wait()
	})
}

// Wake nudges the loop out of its idle sleep after a job becomes ready.
func (u *Uploader) Wake() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

func (u *Uploader) run() {
	defer u.wg.Done()

	ctx := context.Background()
	for {
		select {
		case <-u.stopCh:
			return
		default:
		}

		job, err := u.nextReady(ctx)
		if err != nil {
			log.Error("Upload worker failed to query jobs: %v", err)
			if !u.sleep(u.pollInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !u.idle() {
				return
			}
			continue
		}

		pause := u.attempt(ctx, job)
		if pause > 0 && !u.sleep(pause) {
			return
		}
	}
}

// nextReady re-queries the store fresh each iteration and picks the single
// oldest job that may upload now.
func (u *Uploader) nextReady(ctx context.Context) (*jobs.Job, error) {
	all, err := u.store.LoadJobs(ctx)
	if err != nil {
		return nil, err
	}

	now := u.now()
	var oldest *jobs.Job
	for _, job := range all {
		if !uploadable(job, now) {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	return oldest, nil
}

func uploadable(job *jobs.Job, now time.Time) bool {
	switch job.Status {
	case jobs.StatusReadyToUpload:
		return true
	case jobs.StatusRateLimited, jobs.StatusRetrying:
		return job.RetryAfter != nil && !job.RetryAfter.After(now)
	case jobs.StatusComplete:
		// A completed row still in the store means an earlier delete
		// failed; pick it up so the cleanup is finished.
		return job.UploadedAt != nil && job.NoteURL != ""
	default:
		return false
	}
}

// attempt performs exactly one upload attempt and applies the retry policy
// to the outcome. The returned duration is advisory pacing for the loop
// (set after a rate limit); the job itself is revisited through the normal
// query once its retryAfter elapses.
func (u *Uploader) attempt(ctx context.Context, job *jobs.Job) time.Duration {
	if job.UploadedAt != nil && job.NoteURL != "" {
		// The create already succeeded; remove the leftover row without
		// touching the service again. No transition and no event here, the
		// pass that uploaded it already reported completion.
		log.Info("Job %s already uploaded to %s", job.Path, job.NoteURL)
		if err := u.store.DeleteJob(ctx, job.Path); err != nil {
			log.Error("Failed to remove completed job %s: %v", job.Path, err)
			return u.pollInterval
		}
		return 0
	}

	if u.limiter != nil {
		reservation := u.limiter.Reserve()
		if delay := reservation.Delay(); delay > 0 {
			if !u.sleep(delay) {
				reservation.Cancel()
				return 0
			}
		}
	}

	if err := u.machine.Transition(job, jobs.StatusUploading); err != nil {
		log.Error("Refusing to upload %s: %v", job.Path, err)
		return 0
	}
	attemptAt := u.now()
	job.LastAttemptAt = &attemptAt
	job.RetryAfter = nil
	job.Progress = progressUploading
	if err := u.store.UpsertJob(ctx, job); err != nil {
		log.Error("Failed to persist upload start for %s: %v", job.Path, err)
	}
	u.report(job, "Uploading note", "", nil)

	result, err := u.client.CreateNote(ctx, notes.CreateNoteRequest{
		Title:          job.Title,
		Description:    job.Description,
		Tags:           job.Tags,
		Language:       job.Language,
		FilePath:       job.Path,
		IdempotencyKey: idempotencyKey(job),
	})
	if err == nil {
		u.finalize(ctx, job, result.NoteURL)
		return 0
	}
	return u.handleFailure(ctx, job, err)
}

// finalize records the successful upload and removes the job from the
// store; the completion event carries the final result.
func (u *Uploader) finalize(ctx context.Context, job *jobs.Job, noteURL string) {
	if err := u.machine.Transition(job, jobs.StatusComplete); err != nil {
		log.Error("Cannot complete %s: %v", job.Path, err)
		return
	}
	uploadedAt := u.now()
	job.UploadedAt = &uploadedAt
	job.NoteURL = noteURL
	job.Progress = progressComplete
	job.RetryAfter = nil

	// Persist the terminal state before deleting: if the delete fails, the
	// completed row is swept on a later pass instead of the upload being
	// replayed after a restart.
	if err := u.store.UpsertJob(ctx, job); err != nil {
		log.Error("Failed to persist completion of %s: %v", job.Path, err)
	}
	if err := u.store.DeleteJob(ctx, job.Path); err != nil {
		log.Error("Failed to remove completed job %s: %v", job.Path, err)
	}
	u.report(job, "Note published", "", &EventResult{
		Title:       job.Title,
		Description: job.Description,
		Tags:        job.Tags,
		NoteURL:     noteURL,
	})
}

func (u *Uploader) handleFailure(ctx context.Context, job *jobs.Job, cause error) time.Duration {
	classified := notes.Classify(cause)
	now := u.now()

	switch classified.Kind {
	case notes.KindRateLimit:
		wait := classified.Duration + u.rateLimitBuffer
		retryAt := now.Add(wait)
		if err := u.machine.Transition(job, jobs.StatusRateLimited); err != nil {
			log.Error("Cannot mark %s rate-limited: %v", job.Path, err)
			return 0
		}
		job.RetryAfter = &retryAt
		u.persistFailure(ctx, job, cause)
		u.report(job, fmt.Sprintf("Rate limited, retrying in %s", notes.FormatDuration(classified.Duration)), cause.Error(), nil)
		// Advisory pacing: nothing else can upload during the shared
		// cooldown anyway.
		return wait

	case notes.KindConflict:
		// Expected to clear on its own; does not consume retry budget.
		retryAt := now.Add(u.conflictRetryDelay)
		if err := u.machine.Transition(job, jobs.StatusRetrying); err != nil {
			log.Error("Cannot mark %s retrying: %v", job.Path, err)
			return 0
		}
		job.RetryAfter = &retryAt
		u.persistFailure(ctx, job, cause)
		u.report(job, "The note is open in another editor, will retry shortly", cause.Error(), nil)
		return 0

	default:
		job.RetryCount++
		if job.RetryCount < u.maxRetries {
			retryAt := now.Add(u.baseRetryDelay * time.Duration(job.RetryCount))
			if err := u.machine.Transition(job, jobs.StatusRetrying); err != nil {
				log.Error("Cannot mark %s retrying: %v", job.Path, err)
				return 0
			}
			job.RetryAfter = &retryAt
			u.persistFailure(ctx, job, cause)
			u.report(job, fmt.Sprintf("Upload failed, retrying (attempt %d of %d)", job.RetryCount+1, u.maxRetries), cause.Error(), nil)
			return 0
		}

		if err := u.machine.Transition(job, jobs.StatusError); err != nil {
			log.Error("Cannot fail %s: %v", job.Path, err)
			return 0
		}
		job.RetryAfter = nil
		u.persistFailure(ctx, job, cause)
		u.report(job, fmt.Sprintf("Upload failed after %d attempts", u.maxRetries), cause.Error(), nil)
		return 0
	}
}

func (u *Uploader) persistFailure(ctx context.Context, job *jobs.Job, cause error) {
	job.ErrorMessage = cause.Error()
	if err := u.store.UpsertJob(ctx, job); err != nil {
		log.Error("Failed to persist state of %s: %v", job.Path, err)
	}
}

func (u *Uploader) report(job *jobs.Job, message, rawError string, result *EventResult) {
	u.reporter.Report(Event{
		FilePath: job.Path,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  message,
		Error:    rawError,
		Result:   result,
	})
}

// idle waits for the poll interval, a wake nudge, or stop. Returns false on
// stop.
func (u *Uploader) idle() bool {
	select {
	case <-u.stopCh:
		return false
	case <-u.wake:
		return true
	case <-time.After(u.pollInterval):
		return true
	}
}

// sleep waits d unless stopped first. Returns false on stop.
func (u *Uploader) sleep(d time.Duration) bool {
	select {
	case <-u.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// idempotencyKey is stable across attempts for the same content so the
// service can deduplicate a create retried after a crash.
func idempotencyKey(job *jobs.Job) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(job.Path+":"+job.ContentHash)).String()
}
