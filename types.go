package curvecare

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Messages
// ============================================================================

// MessageKind tags the payload type of a group message.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindMedia  MessageKind = "media"
	KindSystem MessageKind = "system"
)

// MessageStatus tracks the local delivery state of a message.
// Server-confirmed messages are always "confirmed"; only locally-created
// optimistic records pass through "pending" and possibly "failed".
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusConfirmed MessageStatus = "confirmed"
	StatusFailed    MessageStatus = "failed"
)

// Message is a single group message. CreatedAt is an RFC3339 string and is
// the source of truth for ordering within a group.
type Message struct {
	ID         string        `json:"id"`
	ClientID   string        `json:"clientId,omitempty"`
	GroupID    string        `json:"groupId,omitempty"`
	SenderID   string        `json:"senderId"`
	SenderName string        `json:"senderName,omitempty"`
	Text       string        `json:"text"`
	Kind       MessageKind   `json:"kind"`
	MediaURL   string        `json:"mediaUrl,omitempty"`
	Deleted    bool          `json:"deleted,omitempty"`
	Edited     bool          `json:"edited,omitempty"`
	Status     MessageStatus `json:"status,omitempty"`
	CreatedAt  string        `json:"createdAt"`
}

// CreatedTime parses the CreatedAt timestamp. The second return value is
// false when the timestamp is missing or unparseable.
func (m Message) CreatedTime() (time.Time, bool) {
	if m.CreatedAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, m.CreatedAt)
	if err != nil {
		t, err = time.Parse(time.RFC3339, m.CreatedAt)
		if err != nil {
			return time.Time{}, false
		}
	}
	return t, true
}

// SendMessageOptions configures an outgoing message.
type SendMessageOptions struct {
	Kind     MessageKind `json:"kind,omitempty"`
	MediaURL string      `json:"mediaUrl,omitempty"`
}

// ============================================================================
// Groups
// ============================================================================

// Group is a community group.
type Group struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	MemberCount int      `json:"memberCount,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	CreatedAt   string   `json:"createdAt,omitempty"`
}

// PageOptions paginates list endpoints. Before is an RFC3339 timestamp;
// only records created strictly before it are returned.
type PageOptions struct {
	Limit  int
	Before string
}

// ============================================================================
// Account
// ============================================================================

// User is the signed-in account.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	BraceModel  string `json:"braceModel,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

// TokenData is returned by login and refresh.
type TokenData struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	ExpiresIn string `json:"expiresIn"`
}

// ============================================================================
// Treatment tracking
// ============================================================================

// PainLog is a single pain journal entry. Level is 0-10.
type PainLog struct {
	ID       string `json:"id,omitempty"`
	Level    int    `json:"level"`
	Location string `json:"location,omitempty"`
	Note     string `json:"note,omitempty"`
	LoggedAt string `json:"loggedAt"`
}

// WearSession is a brace wear interval. EndedAt is empty while the session
// is still running.
type WearSession struct {
	ID        string `json:"id"`
	StartedAt string `json:"startedAt"`
	EndedAt   string `json:"endedAt,omitempty"`
	Minutes   int    `json:"minutes,omitempty"`
	Note      string `json:"note,omitempty"`
}

// CalendarEvent is a scheduled appointment or reminder.
type CalendarEvent struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title"`
	Kind     string `json:"kind,omitempty"` // appointment, exercise, reminder
	StartsAt string `json:"startsAt"`
	EndsAt   string `json:"endsAt,omitempty"`
	Location string `json:"location,omitempty"`
	Note     string `json:"note,omitempty"`
}

// RangeOptions bounds list endpoints to a time window (RFC3339 strings).
type RangeOptions struct {
	From string
	To   string
}
