package conversations

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTitle   = "New chat"
	titleMaxLength = 40
)

type SessionInfo struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	MessageCount    int               `json:"messageCount"`
	ConversationIDs map[string]string `json:"agentConversationIds,omitempty"`
}

// Store keeps message history and per-engine backend conversation ids for
// each chat session. Implementations are safe for concurrent use.
type Store interface {
	Append(ctx context.Context, sessionID string, msg Message) error
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	ConversationID(ctx context.Context, sessionID, engine string) (string, error)
	SetConversationID(ctx context.Context, sessionID, engine, conversationID string) error
	Session(ctx context.Context, sessionID string) (SessionInfo, bool, error)
	Sessions(ctx context.Context) ([]SessionInfo, error)
}

// DeriveTitle turns the first user message into a session title.
func DeriveTitle(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if title == "" {
		return DefaultTitle
	}
	if runes := []rune(title); len(runes) > titleMaxLength {
		return string(runes[:titleMaxLength]) + "..."
	}
	return title
}

// ApplyAppend updates session metadata for a newly appended message.
func ApplyAppend(info *SessionInfo, msg Message, now time.Time) {
	if info.CreatedAt.IsZero() {
		info.CreatedAt = now
	}
	if info.Title == "" {
		info.Title = DefaultTitle
	}
	if msg.Role == RoleUser && info.Title == DefaultTitle {
		info.Title = DeriveTitle(msg.Content)
	}
	info.UpdatedAt = now
	info.MessageCount++
}

type memorySession struct {
	info     SessionInfo
	messages []Message
}

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]*memorySession{}}
}

func (s *MemoryStore) session(id string) *memorySession {
	session, ok := s.sessions[id]
	if !ok {
		session = &memorySession{info: SessionInfo{ID: id, Title: DefaultTitle, CreatedAt: time.Now()}}
		s.sessions[id] = session
	}
	return session
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.session(sessionID)
	ApplyAppend(&session.info, msg, time.Now())
	session.messages = append(session.messages, msg)
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return slices.Clone(session.messages), nil
}

func (s *MemoryStore) ConversationID(_ context.Context, sessionID, engine string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return "", nil
	}
	return session.info.ConversationIDs[engine], nil
}

func (s *MemoryStore) SetConversationID(_ context.Context, sessionID, engine, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.session(sessionID)
	if session.info.ConversationIDs == nil {
		session.info.ConversationIDs = map[string]string{}
	}
	session.info.ConversationIDs[engine] = conversationID
	return nil
}

func (s *MemoryStore) Session(_ context.Context, sessionID string) (SessionInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return SessionInfo{}, false, nil
	}
	info := session.info
	info.ConversationIDs = maps.Clone(info.ConversationIDs)
	return info, true, nil
}

func (s *MemoryStore) Sessions(_ context.Context) ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for _, session := range s.sessions {
		info := session.info
		info.ConversationIDs = maps.Clone(info.ConversationIDs)
		infos = append(infos, info)
	}
	SortSessions(infos)
	return infos, nil
}

// SortSessions orders sessions most recently updated first.
func SortSessions(infos []SessionInfo) {
	slices.SortFunc(infos, func(a, b SessionInfo) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
}
