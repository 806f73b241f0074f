// Package reconcile turns a session's roster and its evidence (punch logs or
// QR scans) into persisted attendance records.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pointage/internal/attendance"
	"pointage/internal/auth"
	"pointage/internal/model"
	"pointage/internal/punchlog"
	"pointage/internal/qrcode"
	"pointage/internal/schedule"
)

// PunchFetcher is the punch-log adapter.
type PunchFetcher interface {
	FetchWindow(ctx context.Context, city string, w punchlog.Window, allow *model.DeviceAllowlist) ([]model.PunchEvent, error)
}

// QR is the token manager.
type QR interface {
	Generate(ctx context.Context, ref model.SessionRef, requestedBy string) (model.QrCodeSession, error)
	Scan(ctx context.Context, token, studentID string, meta map[string]string) (qrcode.Result, error)
	Scans(ctx context.Context, ref model.SessionRef) ([]model.QrCodeScan, error)
}

// Deps groups the orchestrator's collaborators.
type Deps struct {
	Directory schedule.Directory
	Store     attendance.Store
	Punches   PunchFetcher
	QR        QR
	// Workers bounds per-entry fan-out in bulk operations.
	Workers int
	Logger  *slog.Logger
}

// Orchestrator implements the attendance operations exposed to callers.
type Orchestrator struct {
	dir     schedule.Directory
	store   attendance.Store
	punches PunchFetcher
	qr      QR
	workers int
	log     *slog.Logger
}

// New builds an orchestrator.
func New(d Deps) *Orchestrator {
	if d.Workers <= 0 {
		d.Workers = 8
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Orchestrator{
		dir:     d.Directory,
		store:   d.Store,
		punches: d.Punches,
		qr:      d.QR,
		workers: d.Workers,
		log:     d.Logger,
	}
}

// authorize loads the session and checks the actor may act on it with perm.
func (o *Orchestrator) authorize(ctx context.Context, actor auth.Actor, ref model.SessionRef, perm string) (model.Session, error) {
	if err := ref.Validate(); err != nil {
		return model.Session{}, err
	}
	if !actor.Can(perm) {
		return model.Session{}, fmt.Errorf("%w: missing permission %s", model.ErrForbidden, perm)
	}
	s, err := o.dir.Session(ctx, ref)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.Session{}, fmt.Errorf("session %s: %w", ref, err)
		}
		return model.Session{}, fmt.Errorf("load session %s: %w", ref, err)
	}
	if !actor.Covers(s) {
		return model.Session{}, fmt.Errorf("%w: session %s outside scope", model.ErrForbidden, ref)
	}
	if err := s.Validate(); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

func (o *Orchestrator) roster(ctx context.Context, ref model.SessionRef, given []model.RosterEntry) ([]model.RosterEntry, error) {
	if given != nil {
		return given, nil
	}
	r, err := o.dir.Roster(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load roster %s: %w", ref, err)
	}
	return r, nil
}

// EntryError is one failed roster entry in a bulk report.
type EntryError struct {
	StudentID string `json:"student_id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

// ErrorKind names the taxonomy bucket of err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, model.ErrValidation):
		return "validation"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrForbidden):
		return "forbidden"
	case errors.Is(err, model.ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, model.ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, model.ErrConflictOnWrite):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

func entryError(studentID string, err error) EntryError {
	return EntryError{StudentID: studentID, Kind: ErrorKind(err), Message: err.Error()}
}

func timePtr(t time.Time) *time.Time { return &t }
