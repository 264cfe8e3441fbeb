package session

import (
	"time"
)

// State tracks a session's lifecycle.
type State string

const (
	// StateActive means the session accepts work and checkpoints.
	StateActive State = "active"
	// StateEnded means the session was closed; its checkpoints remain.
	StateEnded State = "ended"
)

// Session is a live working context.
type Session struct {
	// ID is the unique session identifier.
	ID string `json:"id"`

	// Label is an optional human-readable name.
	Label string `json:"label,omitempty"`

	// State is the current lifecycle state.
	State State `json:"state"`

	// StartedAt is when the session began.
	StartedAt time.Time `json:"started_at"`

	// LastActive is the last time the session was touched.
	LastActive time.Time `json:"last_active"`
}

// ResumeLevel selects how much checkpoint content to restore.
type ResumeLevel string

const (
	// ResumeSummary restores only the condensed summary.
	ResumeSummary ResumeLevel = "summary"
	// ResumeContext restores the summary plus context fragments.
	ResumeContext ResumeLevel = "context"
	// ResumeFull restores the complete saved state.
	ResumeFull ResumeLevel = "full"
)

// Checkpoint is a named snapshot of a session's working state.
type Checkpoint struct {
	// ID is the unique checkpoint identifier.
	ID string `json:"id"`

	// SessionID is the session the snapshot belongs to.
	SessionID string `json:"session_id"`

	// Name is a human-readable name for the snapshot.
	Name string `json:"name"`

	// Description says what was happening at save time.
	Description string `json:"description,omitempty"`

	// Summary is a condensed summary of the session state.
	Summary string `json:"summary"`

	// Context holds relevant context fragments.
	Context string `json:"context,omitempty"`

	// FullState is the complete session state.
	FullState string `json:"full_state,omitempty"`

	// TokenCount approximates the token size of the full state.
	TokenCount int `json:"token_count"`

	// AutoCreated marks snapshots taken by the system rather than a user.
	AutoCreated bool `json:"auto_created"`

	// CreatedAt is when the snapshot was saved.
	CreatedAt time.Time `json:"created_at"`
}

// SaveRequest holds parameters for saving a checkpoint.
type SaveRequest struct {
	SessionID   string
	Name        string
	Description string
	Summary     string
	Context     string
	FullState   string
	AutoCreated bool
}

// ResumeResponse is the restored checkpoint content.
type ResumeResponse struct {
	Checkpoint *Checkpoint `json:"checkpoint"`

	// Content is assembled according to the requested resume level.
	Content string `json:"content"`

	// TokenCount approximates the token size of Content.
	TokenCount int `json:"token_count"`
}

// estimateTokens is a rough chars-per-token heuristic.
func estimateTokens(text string) int {
	return len(text) / 4
}
