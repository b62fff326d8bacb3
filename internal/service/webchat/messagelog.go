package webchat

import (
	"sync"

	"github.com/sppetrol/webchat/internal/model/chat"
)

// MessageLog is the ordered, append-only transcript shown to the visitor,
// together with the watermark that bounds the poll window.
//
// Every admin entry carrying a created_at is at or below the watermark.
// Backend messages are deduplicated by chat.Message.Key, so the live and poll
// channels can both deliver the same reply without it appearing twice.
type MessageLog struct {
	mu        sync.Mutex
	entries   []chat.Message
	keys      map[string]struct{}
	watermark Watermark
	sealed    bool
	listeners []func(chat.Message)
}

// NewMessageLog creates an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{
		entries: make([]chat.Message, 0, 16),
		keys:    make(map[string]struct{}),
	}
}

// OnAppend registers fn to be called, in log order, for each appended message.
// fn runs with the log locked and must not call back into it.
func (l *MessageLog) OnAppend(fn func(chat.Message)) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// AppendUser appends a locally authored message.
func (l *MessageLog) AppendUser(content string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(chat.Message{Role: chat.RoleUser, Content: content})
}

// AppendNotice appends an admin-role message generated by the client itself
// (greeting, connectivity notice). It carries no timestamp.
func (l *MessageLog) AppendNotice(content string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(chat.Message{Role: chat.RoleAdmin, Content: content})
}

// AcceptAdmin appends the admin entries of batch in order and then advances the
// watermark to advanceTo. Non-admin and already-seen entries are skipped.
// It returns the number of messages appended.
func (l *MessageLog) AcceptAdmin(batch []chat.Message, advanceTo string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return 0
	}

	appended := 0
	for _, msg := range batch {
		if !msg.IsAdmin() || msg.Content == "" {
			continue
		}

		key := msg.Key()
		if key != "" {
			if _, seen := l.keys[key]; seen {
				continue
			}
			l.keys[key] = struct{}{}
		}

		if l.appendLocked(msg) {
			appended++
		}
		l.watermark, _ = l.watermark.advance(msg.CreatedAt)
	}

	l.watermark, _ = l.watermark.advance(advanceTo)
	return appended
}

// Snapshot returns a copy of the log.
func (l *MessageLog) Snapshot() []chat.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	copied := make([]chat.Message, len(l.entries))
	copy(copied, l.entries)
	return copied
}

// Len returns the number of entries.
func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Watermark returns the current watermark.
func (l *MessageLog) Watermark() Watermark {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watermark
}

// Seal freezes the log. Later mutations are silently dropped.
func (l *MessageLog) Seal() {
	l.mu.Lock()
	l.sealed = true
	l.mu.Unlock()
}

func (l *MessageLog) appendLocked(msg chat.Message) bool {
	if l.sealed {
		return false
	}
	l.entries = append(l.entries, msg)
	for _, fn := range l.listeners {
		fn(msg)
	}
	return true
}
