package webchat

import (
	"time"

	"github.com/sppetrol/webchat/internal/model/chat"
)

// Watermark is the created_at of the newest backend message accepted so far.
// The zero value is unset, which means "from the beginning".
type Watermark struct {
	raw    string
	at     time.Time
	parsed bool
}

// String returns the timestamp exactly as the backend sent it.
func (w Watermark) String() string { return w.raw }

// IsSet reports whether any timestamp has been accepted.
func (w Watermark) IsSet() bool { return w.raw != "" }

// Time returns the parsed timestamp, if it could be parsed.
func (w Watermark) Time() (time.Time, bool) { return w.at, w.parsed }

// advance returns the watermark moved to ts. It never moves backwards: when both
// values parse they are compared as instants, otherwise as strings.
func (w Watermark) advance(ts string) (Watermark, bool) {
	if ts == "" {
		return w, false
	}

	next := Watermark{raw: ts}
	next.at, next.parsed = chat.ParseTimestamp(ts)

	if !w.IsSet() {
		return next, true
	}

	if w.parsed && next.parsed {
		if next.at.Before(w.at) {
			return w, false
		}
		return next, true
	}

	if ts < w.raw {
		return w, false
	}
	return next, true
}
