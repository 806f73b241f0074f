package qrcode

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"pointage/internal/model"
)

// Store persists tokens and scans.
type Store interface {
	CreateSession(ctx context.Context, q model.QrCodeSession) error
	// SessionByToken returns model.ErrNotFound for unknown tokens.
	SessionByToken(ctx context.Context, token string) (model.QrCodeSession, error)
	// InsertPresent atomically records a present scan unless one already
	// exists for (scan.Session, scan.StudentID).
	InsertPresent(ctx context.Context, scan model.QrCodeScan) (bool, error)
	// Append records an invalid or duplicate scan for audit.
	Append(ctx context.Context, scan model.QrCodeScan) error
	ScansBySession(ctx context.Context, ref model.SessionRef) ([]model.QrCodeScan, error)
}

type presenceKey struct {
	session model.SessionRef
	student string
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]model.QrCodeSession
	present  map[presenceKey]struct{}
	scans    []model.QrCodeScan
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]model.QrCodeSession{}, present: map[presenceKey]struct{}{}}
}

func (s *MemoryStore) CreateSession(_ context.Context, q model.QrCodeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[q.Token]; ok {
		return fmt.Errorf("token already issued")
	}
	s.sessions[q.Token] = q
	return nil
}

func (s *MemoryStore) SessionByToken(_ context.Context, token string) (model.QrCodeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.sessions[token]
	if !ok {
		return model.QrCodeSession{}, model.ErrNotFound
	}
	return q, nil
}

func (s *MemoryStore) InsertPresent(_ context.Context, scan model.QrCodeScan) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := presenceKey{scan.Session, scan.StudentID}
	if _, ok := s.present[k]; ok {
		return false, nil
	}
	s.present[k] = struct{}{}
	s.scans = append(s.scans, scan)
	return true, nil
}

func (s *MemoryStore) Append(_ context.Context, scan model.QrCodeScan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans = append(s.scans, scan)
	return nil
}

func (s *MemoryStore) ScansBySession(_ context.Context, ref model.SessionRef) ([]model.QrCodeScan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.QrCodeScan
	for _, sc := range s.scans {
		if sc.Session == ref {
			out = append(out, sc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScannedAt.Before(out[j].ScannedAt) })
	return out, nil
}
