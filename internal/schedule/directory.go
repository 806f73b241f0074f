// Package schedule reads session descriptors and rosters owned by the
// scheduling collaborators. Nothing here writes.
package schedule

import (
	"context"
	"sync"

	"pointage/internal/model"
)

// Directory resolves session references.
type Directory interface {
	// Session returns model.ErrNotFound for unknown references.
	Session(ctx context.Context, ref model.SessionRef) (model.Session, error)
	Roster(ctx context.Context, ref model.SessionRef) ([]model.RosterEntry, error)
}

// Eligibility answers roster membership for QR scans.
type Eligibility struct {
	Dir Directory
}

// Enrolled reports whether studentID is on the session's roster.
func (e Eligibility) Enrolled(ctx context.Context, ref model.SessionRef, studentID string) (bool, error) {
	roster, err := e.Dir.Roster(ctx, ref)
	if err != nil {
		return false, err
	}
	_, ok := model.FindStudent(roster, studentID)
	return ok, nil
}

// Memory is an in-process Directory, used by tests and the memory backend.
type Memory struct {
	mu       sync.RWMutex
	sessions map[model.SessionRef]model.Session
	rosters  map[model.SessionRef][]model.RosterEntry
}

// NewMemory creates an empty directory.
func NewMemory() *Memory {
	return &Memory{sessions: map[model.SessionRef]model.Session{}, rosters: map[model.SessionRef][]model.RosterEntry{}}
}

// Put registers a session and its roster.
func (m *Memory) Put(s model.Session, roster []model.RosterEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Ref] = s
	m.rosters[s.Ref] = append([]model.RosterEntry(nil), roster...)
}

func (m *Memory) Session(_ context.Context, ref model.SessionRef) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[ref]
	if !ok {
		return model.Session{}, model.ErrNotFound
	}
	return s, nil
}

func (m *Memory) Roster(_ context.Context, ref model.SessionRef) ([]model.RosterEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.sessions[ref]; !ok {
		return nil, model.ErrNotFound
	}
	return append([]model.RosterEntry(nil), m.rosters[ref]...), nil
}
