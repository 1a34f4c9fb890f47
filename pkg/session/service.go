package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/harun/runway/pkg/event"
)

// Service is the durable store behind working sessions. Get returns a
// working copy the caller may mutate freely; AppendEvent persists one event
// against the stored session.
type Service interface {
	Get(ctx context.Context, appName, userID, sessionID string) (*Session, error)
	Create(ctx context.Context, appName, userID, sessionID string) (*Session, error)
	AppendEvent(ctx context.Context, sess *Session, ev *event.Event) error
	Delete(ctx context.Context, appName, userID, sessionID string) error
	List(ctx context.Context, appName, userID string) ([]string, error)
}

// ErrNotFound is returned by Get when no session exists for the key.
var ErrNotFound = fmt.Errorf("session not found")

func validateKey(appName, userID, sessionID string) error {
	for _, part := range []string{appName, userID, sessionID} {
		if part == "" {
			return fmt.Errorf("session key part cannot be empty")
		}
		if strings.ContainsAny(part, "/\\\x00") {
			return fmt.Errorf("session key part contains invalid characters")
		}
	}
	return nil
}

type memoryKey struct {
	appName, userID, sessionID string
}

// InMemoryService keeps sessions in process memory. Intended for tests and
// short-lived tools; state does not survive the process.
type InMemoryService struct {
	mu       sync.RWMutex
	sessions map[memoryKey]*Session
}

// NewInMemoryService creates an empty in-memory session service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		sessions: make(map[memoryKey]*Session),
	}
}

// Get returns a working copy of the stored session.
func (s *InMemoryService) Get(ctx context.Context, appName, userID, sessionID string) (*Session, error) {
	if err := validateKey(appName, userID, sessionID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.sessions[memoryKey{appName, userID, sessionID}]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(stored), nil
}

// Create registers a new empty session and returns a working copy.
func (s *InMemoryService) Create(ctx context.Context, appName, userID, sessionID string) (*Session, error) {
	if err := validateKey(appName, userID, sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{appName, userID, sessionID}
	if existing, ok := s.sessions[key]; ok {
		return copySession(existing), nil
	}

	stored := &Session{
		AppName: appName,
		UserID:  userID,
		ID:      sessionID,
		State:   make(map[string]interface{}),
	}
	s.sessions[key] = stored
	return copySession(stored), nil
}

// AppendEvent persists one event against the stored session.
func (s *InMemoryService) AppendEvent(ctx context.Context, sess *Session, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[memoryKey{sess.AppName, sess.UserID, sess.ID}]
	if !ok {
		return ErrNotFound
	}
	stored.Apply(ev)
	return nil
}

// Delete removes a session.
func (s *InMemoryService) Delete(ctx context.Context, appName, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, memoryKey{appName, userID, sessionID})
	return nil
}

// List returns the session IDs stored for one app/user pair.
func (s *InMemoryService) List(ctx context.Context, appName, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for key := range s.sessions {
		if key.appName == appName && key.userID == userID {
			ids = append(ids, key.sessionID)
		}
	}
	return ids, nil
}

func copySession(stored *Session) *Session {
	cp := &Session{
		AppName:   stored.AppName,
		UserID:    stored.UserID,
		ID:        stored.ID,
		Events:    append([]*event.Event(nil), stored.Events...),
		State:     make(map[string]interface{}, len(stored.State)),
		UpdatedAt: stored.UpdatedAt,
	}
	for k, v := range stored.State {
		cp.State[k] = v
	}
	return cp
}
