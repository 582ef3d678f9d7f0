// Package ingest discovers new documents in the watched directory and feeds
// them into the pipeline.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/notepress/notepress/internal/extract"
	"github.com/notepress/notepress/internal/jobs"
	"github.com/notepress/notepress/pkg/file"
	"github.com/notepress/notepress/pkg/log"
)

// Submitter registers a discovered file for processing. Submitting a path
// that is already tracked is a no-op, so repeated scans are safe.
type Submitter interface {
	Submit(ctx context.Context, path string) (*jobs.Job, bool, error)
}

// Scanner walks the watch directory for files modified since the previous
// scan and submits the supported ones.
type Scanner struct {
	dir       string
	submitter Submitter
	now       func() time.Time

	mu       sync.Mutex
	lastScan time.Time
}

func NewScanner(dir string, submitter Submitter) *Scanner {
	return &Scanner{
		dir:       dir,
		submitter: submitter,
		now:       time.Now,
	}
}

// Scan performs one incremental pass and returns how many new jobs it
// created. The watermark only advances when the walk succeeds, so a failed
// scan retries the same window next time.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	s.mu.Lock()
	since := s.lastScan
	s.mu.Unlock()

	started := s.now()
	paths, err := file.FindModifiedAfter(s.dir, since)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", s.dir, err)
	}

	created := 0
	for _, path := range paths {
		if !extract.Supported(path) {
			continue
		}
		_, isNew, err := s.submitter.Submit(ctx, path)
		if err != nil {
			log.Error("Failed to submit %s: %v", path, err)
			continue
		}
		if isNew {
			created++
		}
	}

	s.mu.Lock()
	s.lastScan = started
	s.mu.Unlock()

	if created > 0 {
		log.Info("Scan of %s picked up %d new files", s.dir, created)
	}
	return created, nil
}

// Reset clears the watermark so the next scan revisits every file.
func (s *Scanner) Reset() {
	s.mu.Lock()
	s.lastScan = time.Time{}
	s.mu.Unlock()
}
