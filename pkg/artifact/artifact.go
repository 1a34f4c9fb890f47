package artifact

import (
	"context"
	"fmt"
	"sync"
)

// Part is one stored artifact payload.
type Part struct {
	Data     []byte
	MimeType string
}

// Service stores named, versioned artifacts scoped to a session. Saving an
// existing name appends a new version; Load with version -1 returns the
// latest.
type Service interface {
	Save(ctx context.Context, appName, userID, sessionID, name string, part Part) (int, error)
	Load(ctx context.Context, appName, userID, sessionID, name string, version int) (*Part, error)
	List(ctx context.Context, appName, userID, sessionID string) ([]string, error)
	Delete(ctx context.Context, appName, userID, sessionID, name string) error
}

type memoryKey struct {
	appName, userID, sessionID, name string
}

// InMemoryService keeps artifacts in process memory.
type InMemoryService struct {
	mu        sync.RWMutex
	artifacts map[memoryKey][]Part
}

// NewInMemoryService creates an empty in-memory artifact service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		artifacts: make(map[memoryKey][]Part),
	}
}

// Save appends a new version and returns its index.
func (s *InMemoryService) Save(ctx context.Context, appName, userID, sessionID, name string, part Part) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("artifact name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memoryKey{appName, userID, sessionID, name}
	s.artifacts[key] = append(s.artifacts[key], part)
	return len(s.artifacts[key]) - 1, nil
}

// Load returns one version of an artifact; version -1 means latest.
func (s *InMemoryService) Load(ctx context.Context, appName, userID, sessionID, name string, version int) (*Part, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.artifacts[memoryKey{appName, userID, sessionID, name}]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("artifact %q not found", name)
	}
	if version < 0 {
		version = len(versions) - 1
	}
	if version >= len(versions) {
		return nil, fmt.Errorf("artifact %q has no version %d", name, version)
	}
	part := versions[version]
	return &part, nil
}

// List returns the artifact names stored for one session.
func (s *InMemoryService) List(ctx context.Context, appName, userID, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for key := range s.artifacts {
		if key.appName == appName && key.userID == userID && key.sessionID == sessionID {
			names = append(names, key.name)
		}
	}
	return names, nil
}

// Delete removes every version of an artifact.
func (s *InMemoryService) Delete(ctx context.Context, appName, userID, sessionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.artifacts, memoryKey{appName, userID, sessionID, name})
	return nil
}
