package chat

import (
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Message is the wire shape exchanged with the backend. CreatedAt is absent on
// locally created user messages that the backend has not echoed yet.
type Message struct {
	ID        string `json:"id,omitempty"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at,omitempty"`
}

// IsAdmin reports whether the message came from an operator.
func (m Message) IsAdmin() bool {
	return m.Role == RoleAdmin
}

// Key identifies a backend-originated message across delivery channels.
// Push frames carry no id, so the key is built from role, timestamp and content;
// the id is only used when the message has no timestamp. Messages with neither
// return "".
func (m Message) Key() string {
	if m.CreatedAt == "" {
		if m.ID != "" {
			return "id:" + m.ID
		}
		return ""
	}

	var b strings.Builder
	b.WriteString(string(m.Role))
	b.WriteByte('|')
	b.WriteString(NormalizeTimestamp(m.CreatedAt))
	b.WriteByte('|')
	b.WriteString(m.Content)
	return b.String()
}

// ParseTimestamp parses backend timestamps ("2024-01-01T00:00:01Z",
// "2024-01-01T00:00:01.123456+00:00").
func ParseTimestamp(raw string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// NormalizeTimestamp renders a parseable timestamp in UTC so that the same
// instant formatted with different offsets compares equal. Unparseable input is
// returned unchanged.
func NormalizeTimestamp(raw string) string {
	t, ok := ParseTimestamp(raw)
	if !ok {
		return raw
	}
	return t.UTC().Format(time.RFC3339Nano)
}
