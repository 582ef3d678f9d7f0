package pipeline

import (
	"github.com/notepress/notepress/internal/jobs"
	"github.com/notepress/notepress/pkg/log"
)

// EventResult carries the final metadata of a published note.
type EventResult struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	NoteURL     string   `json:"noteUrl"`
}

// Event is one lifecycle update emitted to the presentation layer. Message
// is always human-readable; Error, when set, is the raw failure text.
type Event struct {
	FilePath string       `json:"filePath"`
	Status   jobs.Status  `json:"status"`
	Progress int          `json:"progress"`
	Message  string       `json:"message,omitempty"`
	Error    string       `json:"error,omitempty"`
	Result   *EventResult `json:"result,omitempty"`
}

// Reporter is the sink for lifecycle events; the presentation layer owns it.
type Reporter interface {
	Report(event Event)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(event Event) {
	f(event)
}

// LogReporter writes events to the process log. Used when no presentation
// layer is attached.
type LogReporter struct{}

func (LogReporter) Report(event Event) {
	if event.Error != "" {
		log.Error("[%s] %s: %s (%s)", event.Status, event.FilePath, event.Message, event.Error)
		return
	}
	log.Info("[%s] %s: %s (%d%%)", event.Status, event.FilePath, event.Message, event.Progress)
}

// Progress milestones per stage.
const (
	progressPending    = 0
	progressExtracting = 10
	progressAnalyzing  = 30
	progressReady      = 70
	progressUploading  = 90
	progressComplete   = 100
)
