package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/notepress/notepress/pkg/log"
)

// Kind selects the analysis workflow. Only re-analysis of an existing note
// goes through the cache; fresh file uploads always hit the AI client.
type Kind string

const (
	KindUpload  Kind = "upload"
	KindAugment Kind = "augment"
)

const DefaultCacheTTL = 24 * time.Hour

// Metadata is the raw output of the AI collaborator before tag filtering.
type Metadata struct {
	Title       string
	Description string
	Tags        []string
}

// Client is the external AI-analysis collaborator.
type Client interface {
	GenerateMetadata(ctx context.Context, content, title string, validTags []string) (Metadata, error)
}

// CacheEntry is a prior analysis result keyed by (SourceID, ContentHash).
// Tags hold the set that was valid against the external vocabulary at
// storage time, not the raw AI output.
type CacheEntry struct {
	SourceID    string
	ContentHash string
	Title       string
	Description string
	Tags        []string
	AnalyzedAt  time.Time
	ExpiresAt   time.Time
}

// CacheStore persists analysis results. An expired entry must behave as a
// miss on read, never as an error.
type CacheStore interface {
	PutAnalysis(ctx context.Context, entry CacheEntry) error
	GetAnalysis(ctx context.Context, sourceID, contentHash string, now time.Time) (CacheEntry, bool, error)
	DeleteAnalysis(ctx context.Context, sourceID string) error
	DeleteExpiredAnalysis(ctx context.Context, now time.Time) (int64, error)
}

// Request describes one analysis call.
type Request struct {
	Content   string
	Title     string
	Kind      Kind
	SourceID  string
	ValidTags []string
}

type Result struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	ContentHash string   `json:"content_hash"`
	Language    string   `json:"language,omitempty"`
	FromCache   bool     `json:"from_cache"`
}

// Analyzer wraps the AI client with content-hash keyed caching and tag
// vocabulary filtering.
type Analyzer struct {
	client Client
	cache  CacheStore
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group
}

func NewAnalyzer(client Client, cache CacheStore, ttl time.Duration) *Analyzer {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Analyzer{
		client: client,
		cache:  cache,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Analyze computes the content hash, consults the cache for augment
// requests, and otherwise asks the AI client for fresh metadata. Cached tags
// are re-filtered against the caller's current vocabulary on every hit: tags
// valid at storage time may have been deleted upstream since.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (Result, error) {
	hash := ContentHash(req.Content)
	useCache := req.Kind == KindAugment && a.cache != nil && req.SourceID != ""

	if useCache {
		entry, ok, err := a.cache.GetAnalysis(ctx, req.SourceID, hash, a.now())
		if err != nil {
			// A broken cache read degrades to a miss.
			log.Warn("Analysis cache read failed for %s: %v", req.SourceID, err)
		} else if ok && entry.ContentHash == hash {
			return Result{
				Title:       entry.Title,
				Description: entry.Description,
				Tags:        FilterTags(entry.Tags, req.ValidTags),
				ContentHash: hash,
				Language:    DetectLanguage(req.Content),
				FromCache:   true,
			}, nil
		}
	}

	// Collapse concurrent fresh analyses of identical content.
	key := req.SourceID + ":" + hash
	value, err, _ := a.group.Do(key, func() (any, error) {
		meta, err := a.client.GenerateMetadata(ctx, req.Content, req.Title, req.ValidTags)
		if err != nil {
			return nil, fmt.Errorf("generate metadata: %w", err)
		}
		return meta, nil
	})
	if err != nil {
		return Result{}, err
	}
	meta := value.(Metadata)

	ret := Result{
		Title:       meta.Title,
		Description: meta.Description,
		Tags:        FilterTags(meta.Tags, req.ValidTags),
		ContentHash: hash,
		Language:    DetectLanguage(req.Content),
		FromCache:   false,
	}
	if ret.Title == "" {
		ret.Title = req.Title
	}

	if useCache {
		now := a.now()
		entry := CacheEntry{
			SourceID:    req.SourceID,
			ContentHash: hash,
			Title:       ret.Title,
			Description: ret.Description,
			Tags:        ret.Tags,
			AnalyzedAt:  now,
			ExpiresAt:   now.Add(a.ttl),
		}
		if err := a.cache.PutAnalysis(ctx, entry); err != nil {
			log.Warn("Failed to cache analysis for %s: %v", req.SourceID, err)
		}
	}
	return ret, nil
}

// Invalidate drops all cached analyses for a source. Called after the
// corresponding note has been successfully re-published so stale results
// cannot resurface.
func (a *Analyzer) Invalidate(ctx context.Context, sourceID string) error {
	if a.cache == nil || sourceID == "" {
		return nil
	}
	return a.cache.DeleteAnalysis(ctx, sourceID)
}

// DetectLanguage returns the BCP 47 tag of the dominant language in text, or
// empty when detection is inconclusive.
func DetectLanguage(text string) string {
	iso := whatlanggo.DetectLang(text).Iso6391()
	if iso == "" {
		return ""
	}
	tag, err := language.Parse(iso)
	if err != nil {
		return ""
	}
	return tag.String()
}
