package jobs

import "context"

// Store persists job states so work survives process restarts. It is the
// single source of truth: components read the latest state from it before
// acting instead of trusting in-memory copies.
type Store interface {
	LoadJobs(ctx context.Context) ([]*Job, error)
	GetJob(ctx context.Context, path string) (*Job, error)
	UpsertJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, path string) error
}
