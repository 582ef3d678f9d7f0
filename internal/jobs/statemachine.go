package jobs

import (
	"fmt"
	"sync"
	"time"
)

// allowedTransitions is the full transition table. Statuses missing a key
// (complete, error) are terminal.
var allowedTransitions = map[Status][]Status{
	StatusPending:       {StatusExtracting, StatusError},
	StatusExtracting:    {StatusAnalyzing, StatusError},
	StatusAnalyzing:     {StatusReadyToUpload, StatusError},
	StatusReadyToUpload: {StatusUploading, StatusError},
	StatusUploading:     {StatusComplete, StatusRateLimited, StatusRetrying, StatusError},
	StatusRateLimited:   {StatusUploading, StatusError},
	StatusRetrying:      {StatusUploading, StatusError},
}

// InvalidTransitionError reports an illegal status change. It signals a
// programming error and is never swallowed by callers.
type InvalidTransitionError struct {
	Path string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Path, e.From, e.To)
}

// TransitionRecord is one applied transition, kept in memory for diagnostics.
type TransitionRecord struct {
	Path string
	From Status
	To   Status
	At   time.Time
}

// Machine validates and applies status transitions. Every status write in
// the system goes through Transition; no component sets Job.Status directly.
type Machine struct {
	mu         sync.Mutex
	history    []TransitionRecord
	maxHistory int
}

func NewMachine() *Machine {
	return &Machine{maxHistory: 1000}
}

// Transition mutates job.Status to next if the transition table allows it.
// A transition to the current status is a no-op.
func (m *Machine) Transition(job *Job, next Status) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if job.Status == next {
		return nil
	}

	allowed, ok := allowedTransitions[job.Status]
	if !ok || !contains(allowed, next) {
		return &InvalidTransitionError{Path: job.Path, From: job.Status, To: next}
	}

	record := TransitionRecord{
		Path: job.Path,
		From: job.Status,
		To:   next,
		At:   time.Now(),
	}
	job.Status = next

	m.mu.Lock()
	m.history = append(m.history, record)
	if m.maxHistory > 0 && len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
	m.mu.Unlock()
	return nil
}

// History returns a copy of the recorded transitions, oldest first.
func (m *Machine) History() []TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TransitionRecord(nil), m.history...)
}

// CanTransition reports whether from -> to is legal without applying it.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return contains(allowedTransitions[from], to)
}

func contains(list []Status, s Status) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
