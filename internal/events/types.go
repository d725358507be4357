package events

import (
	"errors"
	"time"
)

// Errors returned by frame parsing. Both are handled inside Dispatch;
// they never propagate past the router.
var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownType    = errors.New("unknown event type")
)

// EventType names a server-pushed broadcast.
type EventType string

// Inbound event taxonomy. Scope is the project (room) unless noted.
const (
	TypeTaskStatusChanged   EventType = "task_status_changed"
	TypeNewTaskComment      EventType = "new_task_comment"
	TypeMemberUpdate        EventType = "member_update"
	TypeMemberAdded         EventType = "member_added"
	TypeMemberRemoved       EventType = "member_removed"
	TypeRoleChanged         EventType = "role_changed"
	TypeProjectNotification EventType = "project_notification"
	TypeNotification        EventType = "notification"
	TypeMilestoneUpdate     EventType = "milestone_update"
	TypeDashboardUpdate     EventType = "dashboard_update"
	TypeUserJoined          EventType = "userJoinedProject"
	TypeUserLeft            EventType = "userLeftProject"
	TypeUserTyping          EventType = "userTyping" // Thread-scoped
	TypeUserStoppedTyping   EventType = "userStoppedTyping"
	TypeRoomJoined          EventType = "room_joined" // Ack for a join_room intent
	TypeRoomLeft            EventType = "room_left"
)

// Event is a normalized, validated domain event. UI-visible state is only
// ever mutated through events of this form; raw transport bytes never
// reach consumers.
type Event struct {
	Type       EventType
	RoomID     string    // Project scope; empty only for connection-level events
	ThreadID   string    // Typing events only; falls back to RoomID
	Payload    any       // One of the *Payload types below
	ReceivedAt time.Time // Local receipt time
}

// -----------------------------------------------------------------------------
// Normalized payloads
// -----------------------------------------------------------------------------

// TaskStatusPayload is the payload of a task_status_changed event.
type TaskStatusPayload struct {
	ProjectID string `json:"project_id"`
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	UpdatedBy string `json:"updated_by"`
}

// CommentInfo is the comment carried by a new_task_comment event.
type CommentInfo struct {
	ID         string `json:"id"`
	AuthorID   string `json:"author_id"`
	AuthorName string `json:"author_name"`
	Body       string `json:"body"`
}

// TaskCommentPayload is the payload of a new_task_comment event.
type TaskCommentPayload struct {
	ProjectID string      `json:"project_id"`
	TaskID    string      `json:"task_id"`
	Comment   CommentInfo `json:"comment"`
}

// MemberInfo identifies the member a membership event refers to.
type MemberInfo struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// MemberPayload is the payload of member_added / member_removed /
// member_update / role_changed events.
type MemberPayload struct {
	ProjectID string     `json:"project_id"`
	Member    MemberInfo `json:"member"`
	Role      string     `json:"role,omitempty"`
}

// NotificationPayload is the payload of notification and
// project_notification events.
type NotificationPayload struct {
	ProjectID string `json:"project_id"`
	Message   string `json:"message"`
	Kind      string `json:"type"`
}

// MilestonePayload is the payload of a milestone_update event.
type MilestonePayload struct {
	ProjectID   string `json:"project_id"`
	MilestoneID string `json:"milestone_id"`
	Status      string `json:"status"`
}

// DashboardPayload is the payload of a dashboard_update refresh hint.
type DashboardPayload struct {
	ProjectID string `json:"project_id"`
}

// PresencePayload is the payload of userJoinedProject / userLeftProject.
type PresencePayload struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
}

// TypingPayload is the payload of userTyping / userStoppedTyping. ThreadID
// may be absent on the wire, in which case the project ID scopes the
// indicator.
type TypingPayload struct {
	ThreadID  string `json:"thread_id"`
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
}

// RoomAckPayload is the payload of room_joined / room_left acks.
type RoomAckPayload struct {
	RoomID   string `json:"room_id"`
	IntentID string `json:"intent_id,omitempty"`
}

// RouterStats contains runtime counters.
type RouterStats struct {
	Received      int64 // Raw frames seen
	Dispatched    int64 // Events fanned out
	Malformed     int64 // Dropped: failed validation or JSON parse
	Unknown       int64 // Dropped: unrecognized type
	HandlerPanics int64 // Handlers that panicked during fan-out
}
