package notes

import (
	"context"
	"sync"
	"time"
)

const defaultVocabularyTTL = 5 * time.Minute

// TagVocabulary is an explicitly constructed, TTL-bounded view of the
// service's current tag set. Callers share one instance by reference; there
// is no ambient global.
type TagVocabulary struct {
	client Client
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	tags      []string
	fetchedAt time.Time
}

func NewTagVocabulary(client Client, ttl time.Duration) *TagVocabulary {
	if ttl <= 0 {
		ttl = defaultVocabularyTTL
	}
	return &TagVocabulary{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get returns the cached vocabulary, refreshing it from the service when
// stale. The returned slice is a copy.
func (v *TagVocabulary) Get(ctx context.Context) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.tags != nil && v.now().Sub(v.fetchedAt) < v.ttl {
		return append([]string(nil), v.tags...), nil
	}

	tags, err := v.client.ListTags(ctx)
	if err != nil {
		if v.tags != nil {
			// Serve the stale copy rather than failing the caller.
			return append([]string(nil), v.tags...), nil
		}
		return nil, err
	}
	v.tags = append([]string(nil), tags...)
	v.fetchedAt = v.now()
	return append([]string(nil), v.tags...), nil
}

// Invalidate forces the next Get to refetch.
func (v *TagVocabulary) Invalidate() {
	v.mu.Lock()
	v.tags = nil
	v.fetchedAt = time.Time{}
	v.mu.Unlock()
}
