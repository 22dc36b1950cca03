package draft

import (
	"context"
	"sync"
	"time"

	"alertline/internal/flow"
)

// MemoryStore keeps drafts in process memory behind a single lock. Drafts
// do not survive a restart. Expired entries are swept lazily on every call.
type MemoryStore struct {
	TTL time.Duration
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]*Draft
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		TTL:     ttl,
		Now:     time.Now,
		entries: make(map[string]*Draft),
	}
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// sweepLocked drops drafts idle for longer than the TTL. Callers hold s.mu.
func (s *MemoryStore) sweepLocked(now time.Time) {
	for id, d := range s.entries {
		if now.Sub(d.UpdatedAt) > s.TTL {
			delete(s.entries, id)
		}
	}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (Draft, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	d, ok := s.entries[sessionID]
	if !ok {
		return Draft{}, false, nil
	}
	return d.clone(), true, nil
}

func (s *MemoryStore) Upsert(_ context.Context, sessionID, ownerID string, p Patch) (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweepLocked(now)
	if s.entries == nil {
		s.entries = make(map[string]*Draft)
	}
	cur, ok := s.entries[sessionID]
	if !ok {
		cur = &Draft{SessionID: sessionID, OwnerID: ownerID, State: flow.Empty}
	}
	if cur.OwnerID != ownerID {
		return Draft{}, OwnershipError{SessionID: sessionID}
	}
	if p.ExpectState != "" && cur.State != p.ExpectState {
		return Draft{}, StateConflictError{SessionID: sessionID, Want: p.ExpectState, Got: cur.State}
	}
	cur.Fields = cur.Fields.Merge(p.Fields)
	if p.State != "" {
		cur.State = p.State
	}
	if p.PendingFields != nil {
		cur.PendingFields = append([]string{}, p.PendingFields...)
	}
	if p.LastQuestionField != "" {
		cur.LastQuestionField = p.LastQuestionField
	}
	cur.UpdatedAt = now
	s.entries[sessionID] = cur
	return cur.clone(), nil
}

func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

// Len returns the number of live drafts.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	return len(s.entries)
}
