package model

import (
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Team / Project Types
// -----------------------------------------------------------------------------

// Member represents a user's membership in a project.
type Member struct {
	UserID    string    // Server-assigned user identifier
	UserName  string    // Display name
	Role      string    // "owner", "admin", "member", "viewer"
	ProjectID string    // Project this membership belongs to
	AddedAt   time.Time // When the membership was created
}

// Task is the summary of a task as returned by the REST API.
// Only the fields the realtime layer needs for reconciliation are kept.
type Task struct {
	ID        uuid.UUID // Primary key
	ProjectID string    // Owning project
	Title     string    // Display title
	Status    string    // "todo", "in_progress", "review", "done"
	UpdatedBy string    // User ID of the last editor
	UpdatedAt time.Time // Last server-side update
}

// Comment represents a single comment on a task.
type Comment struct {
	ID         uuid.UUID // Primary key
	TaskID     uuid.UUID // Owning task
	AuthorID   string    // User ID of the author
	AuthorName string    // Display name of the author
	Body       string    // Comment text
	CreatedAt  time.Time // Server-side creation time
}

// -----------------------------------------------------------------------------
// Ephemeral Presence Types
// -----------------------------------------------------------------------------

// PresenceEntry records that a user is currently present in a room.
// At most one entry exists per (room, user) pair.
type PresenceEntry struct {
	RoomID   string    // Room (project) scope
	UserID   string    // User identifier
	UserName string    // Display name
	JoinedAt time.Time // Local receive time of the join broadcast
}

// TypingEntry records that a user is typing in a thread. The entry is
// removed when a stop broadcast arrives or ExpiresAt passes, whichever
// comes first.
type TypingEntry struct {
	ThreadID  string    // Thread scope (falls back to the project ID)
	RoomID    string    // Room the thread belongs to
	UserID    string    // User identifier
	UserName  string    // Display name
	StartedAt time.Time // First typing broadcast (preserved across refreshes)
	ExpiresAt time.Time // StartedAt-independent deadline, pushed on refresh
}
