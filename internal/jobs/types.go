package jobs

import "time"

type Status string

const (
	StatusPending       Status = "pending"
	StatusExtracting    Status = "extracting"
	StatusAnalyzing     Status = "analyzing"
	StatusReadyToUpload Status = "ready-to-upload"
	StatusUploading     Status = "uploading"
	StatusRateLimited   Status = "rate-limited"
	StatusRetrying      Status = "retrying"
	StatusComplete      Status = "complete"
	StatusError         Status = "error"
)

// IsTerminal reports whether the status has no outgoing transitions.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// Job tracks one file's end-to-end processing record. The file path is the
// natural unique key.
type Job struct {
	Path        string   `json:"path"`
	Status      Status   `json:"status"`
	Progress    int      `json:"progress"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ContentHash string   `json:"content_hash,omitempty"`
	Language    string   `json:"language,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	RetryAfter    *time.Time `json:"retry_after,omitempty"`
	RetryCount    int        `json:"retry_count"`
	UploadedAt    *time.Time `json:"uploaded_at,omitempty"`
	NoteURL       string     `json:"note_url,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with the
// store's own record.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	tmp := *j
	if j.Tags != nil {
		tmp.Tags = append([]string(nil), j.Tags...)
	}
	tmp.LastAttemptAt = cloneTime(j.LastAttemptAt)
	tmp.RetryAfter = cloneTime(j.RetryAfter)
	tmp.UploadedAt = cloneTime(j.UploadedAt)
	return &tmp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	tmp := *t
	return &tmp
}
