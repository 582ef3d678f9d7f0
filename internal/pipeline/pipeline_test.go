package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notepress/notepress/internal/analysis"
	"github.com/notepress/notepress/internal/extract"
	"github.com/notepress/notepress/internal/jobs"
	"github.com/notepress/notepress/internal/notes"
)

// memStore is an in-memory jobs.Store for tests. failDeletes makes the next
// N DeleteJob calls fail.
type memStore struct {
	mu          sync.Mutex
	rows        map[string]*jobs.Job
	failDeletes int
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*jobs.Job)}
}

func (s *memStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*jobs.Job, 0, len(s.rows))
	for _, job := range s.rows {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) GetJob(ctx context.Context, path string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.rows[path]
	if !ok {
		return nil, nil
	}
	return job.Clone(), nil
}

func (s *memStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[job.Path] = job.Clone()
	return nil
}

func (s *memStore) DeleteJob(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDeletes > 0 {
		s.failDeletes--
		return fmt.Errorf("delete %s: disk i/o error", path)
	}
	delete(s.rows, path)
	return nil
}

func (s *memStore) get(t *testing.T, path string) *jobs.Job {
	t.Helper()
	job, err := s.GetJob(context.Background(), path)
	require.NoError(t, err)
	return job
}

// fakeExtractor maps paths to fixed text or errors.
type fakeExtractor struct {
	texts map[string]string
	errs  map[string]error
	gate  chan struct{} // when set, ExtractText blocks until closed
}

func (f *fakeExtractor) ExtractText(ctx context.Context, path string) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	if err, ok := f.errs[path]; ok {
		return "", err
	}
	return f.texts[path], nil
}

// fakeAIClient returns canned metadata and counts calls.
type fakeAIClient struct {
	mu    sync.Mutex
	calls int
	meta  analysis.Metadata
	err   error
}

func (f *fakeAIClient) GenerateMetadata(ctx context.Context, content, title string, validTags []string) (analysis.Metadata, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return analysis.Metadata{}, f.err
	}
	return f.meta, nil
}

// fakeNoteService implements notes.Client with scriptable behavior.
type fakeNoteService struct {
	mu          sync.Mutex
	createCalls int
	createFn    func(req notes.CreateNoteRequest) (notes.CreateNoteResult, error)
	notes       map[string]notes.Note
	updates     []notes.NoteUpdate
	tags        []string
}

func (f *fakeNoteService) CreateNote(ctx context.Context, req notes.CreateNoteRequest) (notes.CreateNoteResult, error) {
	f.mu.Lock()
	f.createCalls++
	fn := f.createFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return notes.CreateNoteResult{NoteID: "n-1", NoteURL: "https://notes.example/n-1"}, nil
}

func (f *fakeNoteService) GetNote(ctx context.Context, noteID string) (notes.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	note, ok := f.notes[noteID]
	if !ok {
		return notes.Note{}, fmt.Errorf("note %s not found", noteID)
	}
	return note, nil
}

func (f *fakeNoteService) UpdateNote(ctx context.Context, update notes.NoteUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeNoteService) ListTags(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tags...), nil
}

func (f *fakeNoteService) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

// memCache is an in-memory analysis.CacheStore.
type memCache struct {
	mu      sync.Mutex
	entries map[string]analysis.CacheEntry
	deleted []string
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]analysis.CacheEntry)}
}

func (c *memCache) PutAnalysis(ctx context.Context, entry analysis.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.SourceID+":"+entry.ContentHash] = entry
	return nil
}

func (c *memCache) GetAnalysis(ctx context.Context, sourceID, contentHash string, now time.Time) (analysis.CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[sourceID+":"+contentHash]
	if !ok || !entry.ExpiresAt.After(now) {
		return analysis.CacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (c *memCache) DeleteAnalysis(ctx context.Context, sourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, sourceID)
	for key, entry := range c.entries {
		if entry.SourceID == sourceID {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *memCache) DeleteExpiredAnalysis(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// recordingReporter captures emitted events in order.
type recordingReporter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingReporter) Report(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingReporter) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recordingReporter) last(path string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].FilePath == path {
			return r.events[i], true
		}
	}
	return Event{}, false
}

type pipelineFixture struct {
	store    *memStore
	service  *fakeNoteService
	ai       *fakeAIClient
	extr     *fakeExtractor
	reporter *recordingReporter
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T, opts ...Option) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		store: newMemStore(),
		service: &fakeNoteService{
			tags: []string{"Research", "Personal", "Work"},
		},
		ai: &fakeAIClient{meta: analysis.Metadata{
			Title:       "Quarterly Report",
			Description: "Summary of Q3 numbers",
			Tags:        []string{"research", "unknown-tag"},
		}},
		extr:     &fakeExtractor{texts: map[string]string{}},
		reporter: &recordingReporter{},
	}
	analyzer := analysis.NewAnalyzer(f.ai, newMemCache(), time.Hour)
	vocabulary := notes.NewTagVocabulary(f.service, time.Minute)
	opts = append([]Option{WithReporter(f.reporter)}, opts...)
	f.pipeline = New(f.store, jobs.NewMachine(), f.extr, analyzer, f.service, vocabulary, opts...)
	return f
}

func TestSubmitRunsJobToReadyToUpload(t *testing.T) {
	f := newPipelineFixture(t)
	f.extr.texts["/docs/report.txt"] = "quarterly revenue grew"

	job, created, err := f.pipeline.Submit(context.Background(), "/docs/report.txt")
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, job)
	f.pipeline.Wait()

	stored := f.store.get(t, "/docs/report.txt")
	require.NotNil(t, stored)
	assert.Equal(t, jobs.StatusReadyToUpload, stored.Status)
	assert.Equal(t, progressReady, stored.Progress)
	assert.Equal(t, "Quarterly Report", stored.Title)
	assert.Equal(t, []string{"Research"}, stored.Tags, "tags outside the vocabulary are dropped, casing canonicalized")
	assert.NotEmpty(t, stored.ContentHash)

	var statuses []jobs.Status
	for _, event := range f.reporter.all() {
		statuses = append(statuses, event.Status)
	}
	assert.Equal(t, []jobs.Status{
		jobs.StatusPending,
		jobs.StatusExtracting,
		jobs.StatusAnalyzing,
		jobs.StatusReadyToUpload,
	}, statuses)
}

func TestSubmitExistingJobIsNotDuplicated(t *testing.T) {
	f := newPipelineFixture(t)
	f.extr.gate = make(chan struct{})
	f.extr.texts["/docs/a.txt"] = "text"

	_, created, err := f.pipeline.Submit(context.Background(), "/docs/a.txt")
	require.NoError(t, err)
	require.True(t, created)

	_, created, err = f.pipeline.Submit(context.Background(), "/docs/a.txt")
	require.NoError(t, err)
	assert.False(t, created)

	close(f.extr.gate)
	f.pipeline.Wait()
}

// ctxSensitiveAI fails the way the real HTTP client does when its context
// is already canceled.
type ctxSensitiveAI struct {
	meta analysis.Metadata
}

func (c *ctxSensitiveAI) GenerateMetadata(ctx context.Context, content, title string, validTags []string) (analysis.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return analysis.Metadata{}, err
	}
	return c.meta, nil
}

func TestJobOutlivesSubmittingContext(t *testing.T) {
	f := newPipelineFixture(t)
	analyzer := analysis.NewAnalyzer(&ctxSensitiveAI{meta: analysis.Metadata{
		Title: "Quarterly Report",
		Tags:  []string{"research"},
	}}, newMemCache(), time.Hour)
	vocabulary := notes.NewTagVocabulary(f.service, time.Minute)
	f.pipeline = New(f.store, jobs.NewMachine(), f.extr, analyzer, f.service, vocabulary,
		WithReporter(f.reporter))

	f.extr.gate = make(chan struct{})
	f.extr.texts["/docs/a.txt"] = "content"

	reqCtx, cancel := context.WithCancel(context.Background())
	_, created, err := f.pipeline.Submit(reqCtx, "/docs/a.txt")
	require.NoError(t, err)
	require.True(t, created)

	// The request ends before the dispatched work runs.
	cancel()
	close(f.extr.gate)
	f.pipeline.Wait()

	stored := f.store.get(t, "/docs/a.txt")
	require.NotNil(t, stored)
	assert.Equal(t, jobs.StatusReadyToUpload, stored.Status)
	assert.Empty(t, stored.ErrorMessage)
}

func TestSubmitLeavesFailedJobsAlone(t *testing.T) {
	f := newPipelineFixture(t)
	f.extr.texts["/docs/failed.txt"] = "content"
	require.NoError(t, f.store.UpsertJob(context.Background(), &jobs.Job{
		Path:         "/docs/failed.txt",
		Status:       jobs.StatusError,
		RetryCount:   3,
		ErrorMessage: "upstream timeout",
		CreatedAt:    time.Now().UTC(),
	}))

	// A rescan resubmitting the same path must not revive the failure.
	job, created, err := f.pipeline.Submit(context.Background(), "/docs/failed.txt")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, jobs.StatusError, job.Status)
	f.pipeline.Wait()

	stored := f.store.get(t, "/docs/failed.txt")
	assert.Equal(t, jobs.StatusError, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)
	assert.Equal(t, "upstream timeout", stored.ErrorMessage)
}

func TestSubmitEmptyPathFails(t *testing.T) {
	f := newPipelineFixture(t)
	_, _, err := f.pipeline.Submit(context.Background(), "")
	require.Error(t, err)
}

func TestFailureOfOneJobDoesNotAffectSiblings(t *testing.T) {
	f := newPipelineFixture(t)
	f.extr.texts["/docs/good.txt"] = "fine content"
	f.extr.errs = map[string]error{
		"/docs/bad.bin": fmt.Errorf("extract %s: %w", "/docs/bad.bin", extract.ErrUnsupportedType),
	}

	_, _, err := f.pipeline.Submit(context.Background(), "/docs/good.txt")
	require.NoError(t, err)
	_, _, err = f.pipeline.Submit(context.Background(), "/docs/bad.bin")
	require.NoError(t, err)
	f.pipeline.Wait()

	good := f.store.get(t, "/docs/good.txt")
	assert.Equal(t, jobs.StatusReadyToUpload, good.Status)

	bad := f.store.get(t, "/docs/bad.bin")
	assert.Equal(t, jobs.StatusError, bad.Status)
	assert.NotEmpty(t, bad.ErrorMessage)

	event, ok := f.reporter.last("/docs/bad.bin")
	require.True(t, ok)
	assert.Equal(t, "This file type is not supported", event.Message)
	assert.NotEmpty(t, event.Error)
}

func TestScheduleHonorsConcurrencyCap(t *testing.T) {
	f := newPipelineFixture(t, WithMaxConcurrent(1))
	f.extr.gate = make(chan struct{})
	f.extr.texts["/docs/first.txt"] = "one"
	f.extr.texts["/docs/second.txt"] = "two"

	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	withClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})(f.pipeline)

	_, _, err := f.pipeline.Submit(context.Background(), "/docs/first.txt")
	require.NoError(t, err)
	_, _, err = f.pipeline.Submit(context.Background(), "/docs/second.txt")
	require.NoError(t, err)

	first := f.store.get(t, "/docs/first.txt")
	second := f.store.get(t, "/docs/second.txt")
	assert.Equal(t, jobs.StatusExtracting, first.Status)
	assert.Equal(t, jobs.StatusPending, second.Status, "second job waits for the single slot")

	close(f.extr.gate)
	require.Eventually(t, func() bool {
		f.pipeline.Wait()
		a := f.store.get(t, "/docs/first.txt")
		b := f.store.get(t, "/docs/second.txt")
		return a.Status == jobs.StatusReadyToUpload && b.Status == jobs.StatusReadyToUpload
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRetryResetsTerminalError(t *testing.T) {
	f := newPipelineFixture(t)
	f.extr.gate = make(chan struct{})
	now := time.Now().UTC()
	require.NoError(t, f.store.UpsertJob(context.Background(), &jobs.Job{
		Path:         "/docs/failed.txt",
		Status:       jobs.StatusError,
		Progress:     progressUploading,
		RetryCount:   3,
		ErrorMessage: "upload failed",
		CreatedAt:    now,
	}))

	job, err := f.pipeline.Retry(context.Background(), "/docs/failed.txt")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Empty(t, job.ErrorMessage)
	assert.Nil(t, job.RetryAfter)

	close(f.extr.gate)
	f.pipeline.Wait()
}

func TestRetryRejectsNonFailedJobs(t *testing.T) {
	f := newPipelineFixture(t)
	require.NoError(t, f.store.UpsertJob(context.Background(), &jobs.Job{
		Path:      "/docs/inflight.txt",
		Status:    jobs.StatusAnalyzing,
		CreatedAt: time.Now().UTC(),
	}))

	_, err := f.pipeline.Retry(context.Background(), "/docs/inflight.txt")
	require.Error(t, err)

	_, err = f.pipeline.Retry(context.Background(), "/docs/absent.txt")
	require.Error(t, err)
}

func TestRestoreNormalizesInterruptedJobs(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seed := map[string]jobs.Status{
		"/docs/extracting.txt": jobs.StatusExtracting,
		"/docs/analyzing.txt":  jobs.StatusAnalyzing,
		"/docs/uploading.txt":  jobs.StatusUploading,
		"/docs/pending.txt":    jobs.StatusPending,
		"/docs/failed.txt":     jobs.StatusError,
	}
	for path, status := range seed {
		require.NoError(t, f.store.UpsertJob(ctx, &jobs.Job{Path: path, Status: status, CreatedAt: now}))
	}

	require.NoError(t, f.pipeline.Restore(ctx))

	assert.Equal(t, jobs.StatusPending, f.store.get(t, "/docs/extracting.txt").Status)
	assert.Equal(t, jobs.StatusPending, f.store.get(t, "/docs/analyzing.txt").Status)
	assert.Equal(t, jobs.StatusReadyToUpload, f.store.get(t, "/docs/uploading.txt").Status)
	assert.Equal(t, jobs.StatusPending, f.store.get(t, "/docs/pending.txt").Status)
	assert.Equal(t, jobs.StatusError, f.store.get(t, "/docs/failed.txt").Status, "terminal failures survive a restart")
}

func TestAugmentUpdatesNoteAndDropsCache(t *testing.T) {
	f := newPipelineFixture(t)
	cache := newMemCache()
	analyzer := analysis.NewAnalyzer(f.ai, cache, time.Hour)
	vocabulary := notes.NewTagVocabulary(f.service, time.Minute)
	f.pipeline = New(f.store, jobs.NewMachine(), f.extr, analyzer, f.service, vocabulary, WithReporter(f.reporter))

	f.service.notes = map[string]notes.Note{
		"n-42": {ID: "n-42", Title: "Old Title", Content: "note body\r\n"},
	}

	result, err := f.pipeline.Augment(context.Background(), "n-42")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly Report", result.Title)
	assert.False(t, result.FromCache)

	require.Len(t, f.service.updates, 1)
	assert.Equal(t, "n-42", f.service.updates[0].ID)
	assert.Equal(t, []string{"Research"}, f.service.updates[0].Tags)
	assert.Equal(t, []string{"n-42"}, cache.deleted)
}

func TestAugmentRequiresNoteID(t *testing.T) {
	f := newPipelineFixture(t)
	_, err := f.pipeline.Augment(context.Background(), "")
	require.Error(t, err)
}
