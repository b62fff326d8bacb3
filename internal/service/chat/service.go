package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sppetrol/webchat/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyContent    = errors.New("content is empty")
	ErrInvalidRole     = errors.New("role must be user or admin")
	ErrInvalidSince    = errors.New("since is not a valid timestamp")
)

// timestampLayout matches the microsecond ISO-8601 form the production
// backend emits.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

const subscriberBuffer = 16

type record struct {
	id        string
	role      chat.Role
	content   string
	createdAt time.Time
}

func (r record) wire() chat.Message {
	return chat.Message{
		ID:        r.id,
		Role:      r.role,
		Content:   r.content,
		CreatedAt: r.createdAt.Format(timestampLayout),
	}
}

// Service keeps web chat sessions in memory and fans admin replies out to
// live subscribers.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]record
	subs     map[string]map[uint64]chan chat.Message
	nextSub  uint64
	last     time.Time
	now      func() time.Time
}

// NewService bootstraps the in-memory chat service.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]record),
		subs:     make(map[string]map[uint64]chan chat.Message),
		now:      time.Now,
	}
}

// CreateSession opens a new session for userID (which may be empty).
func (s *Service) CreateSession(_ context.Context, userID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(userID), nil
}

func (s *Service) createLocked(userID string) chat.Session {
	session := chat.Session{
		ID:        uuid.NewString(),
		UserID:    strings.TrimSpace(userID),
		CreatedAt: s.now().UTC(),
	}
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]record, 0, 16)
	return session
}

// ResolveSession returns the session named by sessionID, attaching userID if
// the session has none yet. An empty or unknown id yields a fresh session.
func (s *Service) ResolveSession(_ context.Context, sessionID, userID string) (chat.Session, error) {
	userID = strings.TrimSpace(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok && sessionID != "" {
		if session.UserID == "" && userID != "" {
			session.UserID = userID
			s.sessions[sessionID] = session
		}
		return session, nil
	}
	return s.createLocked(userID), nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// SaveMessage appends a message to the session history. Admin messages are
// also pushed to live subscribers; a subscriber whose buffer is full misses the
// push and catches up by polling.
func (s *Service) SaveMessage(_ context.Context, sessionID string, role chat.Role, content string) (chat.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return chat.Message{}, ErrEmptyContent
	}
	if role != chat.RoleUser && role != chat.RoleAdmin {
		return chat.Message{}, ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return chat.Message{}, ErrSessionNotFound
	}

	rec := record{
		id:        uuid.NewString(),
		role:      role,
		content:   content,
		createdAt: s.nextTimestampLocked(),
	}
	s.messages[sessionID] = append(s.messages[sessionID], rec)

	msg := rec.wire()
	if role == chat.RoleAdmin {
		for _, ch := range s.subs[sessionID] {
			select {
			case ch <- msg:
			default:
			}
		}
	}
	return msg, nil
}

// nextTimestampLocked returns a strictly increasing microsecond timestamp so
// that "created_at > since" never hides a message written in the same tick.
func (s *Service) nextTimestampLocked() time.Time {
	ts := s.now().UTC().Truncate(time.Microsecond)
	if !ts.After(s.last) {
		ts = s.last.Add(time.Microsecond)
	}
	s.last = ts
	return ts
}

// LoadSince returns the session's messages with created_at strictly after
// since, oldest first. An empty since returns the whole history.
func (s *Service) LoadSince(_ context.Context, sessionID, since string) ([]chat.Message, error) {
	var cutoff time.Time
	if since != "" {
		ts, ok := chat.ParseTimestamp(since)
		if !ok {
			return nil, ErrInvalidSince
		}
		cutoff = ts
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	out := make([]chat.Message, 0, len(records))
	for _, rec := range records {
		if since != "" && !rec.createdAt.After(cutoff) {
			continue
		}
		out = append(out, rec.wire())
	}
	return out, nil
}

// Subscribe registers for admin messages on sessionID. The returned cancel
// func must be called to release the subscription.
func (s *Service) Subscribe(sessionID string) (<-chan chat.Message, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, nil, ErrSessionNotFound
	}

	s.nextSub++
	id := s.nextSub
	ch := make(chan chat.Message, subscriberBuffer)
	if s.subs[sessionID] == nil {
		s.subs[sessionID] = make(map[uint64]chan chat.Message)
	}
	s.subs[sessionID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[sessionID], id)
			if len(s.subs[sessionID]) == 0 {
				delete(s.subs, sessionID)
			}
		})
	}
	return ch, cancel, nil
}
