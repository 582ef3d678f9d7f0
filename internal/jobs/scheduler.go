package jobs

import "sort"

// DefaultMaxConcurrent caps how many jobs may be extracting or analyzing at
// once.
const DefaultMaxConcurrent = 3

// NextToStart is a pure decision function: given the current job list and a
// concurrency cap, it returns the pending jobs that may start extraction,
// oldest submission first. It never exceeds maxConcurrent minus the number
// of jobs already in flight, and it has no side effects; callers transition
// the returned jobs out of pending before the next scheduling pass, which
// keeps re-invocation idempotent.
func NextToStart(all []*Job, maxConcurrent int) []*Job {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	inFlight := 0
	pending := make([]*Job, 0)
	for _, job := range all {
		if job == nil {
			continue
		}
		switch job.Status {
		case StatusExtracting, StatusAnalyzing:
			inFlight++
		case StatusPending:
			pending = append(pending, job)
		}
	}

	slots := maxConcurrent - inFlight
	if slots <= 0 {
		return nil
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > slots {
		pending = pending[:slots]
	}
	return pending
}
