package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pointage/internal/model"
)

// Store persists attendance records. Uniqueness of (student, session, date)
// is enforced by the write itself, never by a prior read.
type Store interface {
	// InsertIfAbsent atomically creates rec unless a record with the same key
	// exists. It returns the stored record and whether it was created.
	InsertIfAbsent(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, bool, error)
	// Override sets status and justification on the record for rec's key,
	// creating it if needed. Used by the manual path only.
	Override(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error)
	// Get returns model.ErrNotFound when no record exists.
	Get(ctx context.Context, key model.RecordKey) (model.AttendanceRecord, error)
	ListBySession(ctx context.Context, ref model.SessionRef, date string) ([]model.AttendanceRecord, error)
}

// MemoryStore is an in-process Store for dev and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[model.RecordKey]model.AttendanceRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[model.RecordKey]model.AttendanceRecord{}, now: time.Now}
}

func (m *MemoryStore) InsertIfAbsent(_ context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[rec.Key()]; ok {
		return existing, false, nil
	}
	rec = m.stamp(rec)
	m.records[rec.Key()] = rec
	return rec, true, nil
}

func (m *MemoryStore) Override(_ context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.records[rec.Key()]
	if !ok {
		rec = m.stamp(rec)
		m.records[rec.Key()] = rec
		return rec, nil
	}
	existing.Status = rec.Status
	existing.Source = rec.Source
	existing.Justification = rec.Justification
	existing.UpdatedBy = rec.UpdatedBy
	existing.UpdatedAt = m.now().UTC()
	m.records[rec.Key()] = existing
	return existing, nil
}

func (m *MemoryStore) Get(_ context.Context, key model.RecordKey) (model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return model.AttendanceRecord{}, model.ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) ListBySession(_ context.Context, ref model.SessionRef, date string) ([]model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AttendanceRecord
	for k, rec := range m.records {
		if k.Session == ref && k.Date == date {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (m *MemoryStore) stamp(rec model.AttendanceRecord) model.AttendanceRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := m.now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return rec
}
