// Package notes defines the contract with the external note-taking service
// and the interpretation of its error signals. The concrete transport and
// authentication flow live behind the Client interface.
package notes

import "context"

// CreateNoteRequest publishes one document as a note with the source file
// attached. IdempotencyKey lets the service deduplicate a retried create
// after a crash between upload and finalize.
type CreateNoteRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	Language       string   `json:"language,omitempty"`
	FilePath       string   `json:"file_path"`
	IdempotencyKey string   `json:"idempotency_key"`
}

type CreateNoteResult struct {
	NoteID  string `json:"note_id"`
	NoteURL string `json:"note_url"`
}

// Note is an existing note as returned by the service.
type Note struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
	URL     string   `json:"url"`
}

// NoteUpdate carries the metadata fields the augment flow may rewrite.
type NoteUpdate struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Client is the external note service collaborator. ListTags returns the
// service's current tag vocabulary in canonical casing.
type Client interface {
	CreateNote(ctx context.Context, req CreateNoteRequest) (CreateNoteResult, error)
	GetNote(ctx context.Context, noteID string) (Note, error)
	UpdateNote(ctx context.Context, update NoteUpdate) error
	ListTags(ctx context.Context) ([]string, error)
}
