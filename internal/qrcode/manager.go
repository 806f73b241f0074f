// Package qrcode issues rotating scan tokens for a session and records scans
// with exactly-once presence per (session, student).
package qrcode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pointage/internal/metrics"
	"pointage/internal/model"
)

// DefaultTTL is how long a generated token stays active.
const DefaultTTL = 2 * time.Minute

// Eligibility decides whether a student may scan for a session.
type Eligibility interface {
	Enrolled(ctx context.Context, ref model.SessionRef, studentID string) (bool, error)
}

// Result is the tagged outcome of a scan. Status is never empty.
type Result struct {
	Status    model.ScanStatus
	Message   string
	Scan      *model.QrCodeScan
	QrSession *model.QrCodeSession
}

// Success is true for present and duplicate: a duplicate is an idempotent success.
func (r Result) Success() bool { return r.Status != model.ScanInvalid }

// Err is nil unless the scan was rejected, in which case it matches
// model.ErrTokenInvalid.
func (r Result) Err() error {
	if r.Status != model.ScanInvalid {
		return nil
	}
	return fmt.Errorf("%w: %s", model.ErrTokenInvalid, r.Message)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithEligibility rejects scans from students the checker does not accept.
func WithEligibility(e Eligibility) Option { return func(m *Manager) { m.eligible = e } }

// Manager issues tokens and validates scans.
type Manager struct {
	store    Store
	ttl      time.Duration
	now      func() time.Time
	eligible Eligibility
}

// NewManager creates a manager; ttl <= 0 uses DefaultTTL.
func NewManager(store Store, ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{store: store, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Generate issues a new token for ref. Earlier tokens stay valid until their
// own expiry, so several displays may show live tokens at once.
func (m *Manager) Generate(ctx context.Context, ref model.SessionRef, requestedBy string) (model.QrCodeSession, error) {
	if err := ref.Validate(); err != nil {
		return model.QrCodeSession{}, err
	}
	now := m.now()
	q := model.QrCodeSession{
		ID:        uuid.NewString(),
		Token:     newToken(),
		Session:   ref,
		ExpiresAt: now.Add(m.ttl),
		CreatedBy: requestedBy,
		CreatedAt: now,
	}
	if err := m.store.CreateSession(ctx, q); err != nil {
		return model.QrCodeSession{}, fmt.Errorf("store qr session: %w", err)
	}
	metrics.TokensIssued.Inc()
	return q, nil
}

// Scan validates token and records the attempt. Expected outcomes (unknown
// or expired token, repeat scan) come back in Result; err is reserved for
// malformed input and storage failures.
func (m *Manager) Scan(ctx context.Context, token, studentID string, meta map[string]string) (Result, error) {
	token = strings.TrimSpace(token)
	if strings.TrimSpace(studentID) == "" {
		return Result{}, model.Invalid("student_id", "required")
	}
	now := m.now()
	if token == "" {
		return m.done(Result{Status: model.ScanInvalid, Message: "token required"}), nil
	}
	q, err := m.store.SessionByToken(ctx, token)
	if errors.Is(err, model.ErrNotFound) {
		return m.done(Result{Status: model.ScanInvalid, Message: "unknown token"}), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("lookup token: %w", err)
	}

	scan := model.QrCodeScan{
		ID:          uuid.NewString(),
		QrSessionID: q.ID,
		Session:     q.Session,
		StudentID:   studentID,
		ScannedAt:   now,
		Meta:        meta,
	}
	if q.Expired(now) {
		return m.reject(ctx, q, scan, "token expired")
	}
	if m.eligible != nil {
		ok, err := m.eligible.Enrolled(ctx, q.Session, studentID)
		if err != nil {
			return Result{}, fmt.Errorf("check enrollment: %w", err)
		}
		if !ok {
			return m.reject(ctx, q, scan, "student not enrolled in session")
		}
	}

	scan.Status = model.ScanPresent
	created, err := m.store.InsertPresent(ctx, scan)
	if err != nil {
		return Result{}, fmt.Errorf("record scan: %w", err)
	}
	if created {
		return m.done(Result{Status: model.ScanPresent, Message: "attendance recorded", Scan: &scan, QrSession: &q}), nil
	}
	scan.Status = model.ScanDuplicate
	if err := m.store.Append(ctx, scan); err != nil {
		return Result{}, fmt.Errorf("record scan: %w", err)
	}
	return m.done(Result{Status: model.ScanDuplicate, Message: "attendance already recorded", Scan: &scan, QrSession: &q}), nil
}

// Scans returns every recorded scan of ref, oldest first.
func (m *Manager) Scans(ctx context.Context, ref model.SessionRef) ([]model.QrCodeScan, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return m.store.ScansBySession(ctx, ref)
}

func (m *Manager) reject(ctx context.Context, q model.QrCodeSession, scan model.QrCodeScan, msg string) (Result, error) {
	scan.Status = model.ScanInvalid
	if err := m.store.Append(ctx, scan); err != nil {
		return Result{}, fmt.Errorf("record scan: %w", err)
	}
	return m.done(Result{Status: model.ScanInvalid, Message: msg, Scan: &scan, QrSession: &q}), nil
}

func (m *Manager) done(r Result) Result {
	metrics.Scans.WithLabelValues(string(r.Status)).Inc()
	return r
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
