package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pointage/internal/auth"
	"pointage/internal/metrics"
	"pointage/internal/model"
	"pointage/internal/qrcode"
)

// GenerateToken issues a fresh scan token for a session the actor may manage.
func (o *Orchestrator) GenerateToken(ctx context.Context, actor auth.Actor, ref model.SessionRef) (model.QrCodeSession, error) {
	if _, err := o.authorize(ctx, actor, ref, auth.PermGenerate); err != nil {
		return model.QrCodeSession{}, err
	}
	return o.qr.Generate(ctx, ref, actor.UserID)
}

// ScanOutcome is the result of a scan; Record is set when the scan produced
// or met an attendance record.
type ScanOutcome struct {
	qrcode.Result
	Record  *model.AttendanceRecord
	Created bool
}

// ScanToken records a scan. Students may only scan for themselves; holders of
// attendance:write may scan on behalf of others. A present scan writes an
// attendance record. A duplicate scan rewrites it only when the first write
// never landed; the insert stays keyed on (student, session, date), so the
// manager's per-(session, student) uniqueness remains the presence guard.
func (o *Orchestrator) ScanToken(ctx context.Context, actor auth.Actor, token, studentID string, meta map[string]string) (ScanOutcome, error) {
	if studentID == "" {
		studentID = actor.UserID
	}
	if studentID != actor.UserID && !actor.Can(auth.PermWrite) {
		return ScanOutcome{}, fmt.Errorf("%w: cannot scan for another student", model.ErrForbidden)
	}
	if studentID == actor.UserID && !actor.Can(auth.PermScan) && !actor.Can(auth.PermWrite) {
		return ScanOutcome{}, fmt.Errorf("%w: missing permission %s", model.ErrForbidden, auth.PermScan)
	}
	res, err := o.qr.Scan(ctx, token, studentID, meta)
	if err != nil {
		return ScanOutcome{}, err
	}
	out := ScanOutcome{Result: res}
	switch res.Status {
	case model.ScanInvalid:
		o.log.Debug("qr scan rejected", "student", studentID, "error", res.Err())
		return out, nil
	case model.ScanPresent, model.ScanDuplicate:
	default:
		return out, nil
	}

	s, err := o.dir.Session(ctx, res.QrSession.Session)
	if err != nil {
		return ScanOutcome{}, fmt.Errorf("load session %s: %w", res.QrSession.Session, err)
	}
	scannedAt := res.Scan.ScannedAt
	if res.Status == model.ScanDuplicate {
		existing, err := o.store.Get(ctx, model.RecordKey{StudentID: studentID, Session: s.Ref, Date: s.DateKey()})
		if err == nil {
			out.Record = &existing
			return out, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return ScanOutcome{}, fmt.Errorf("load record: %w", err)
		}
		if first, ok, err := o.firstPresent(ctx, s.Ref, studentID); err != nil {
			return ScanOutcome{}, err
		} else if ok {
			scannedAt = first
		}
		o.log.Warn("restoring attendance for earlier qr scan", "student", studentID, "session", s.Ref.String())
	}

	rec := model.AttendanceRecord{
		StudentID: studentID,
		Session:   s.Ref,
		Date:      s.DateKey(),
		Status:    model.StatusPresent,
		Source:    model.SourceQR,
		PunchedAt: timePtr(scannedAt),
		UpdatedBy: actor.UserID,
	}
	stored, created, err := o.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		return ScanOutcome{}, fmt.Errorf("store record: %w", err)
	}
	if created {
		metrics.RecordsWritten.WithLabelValues(string(model.SourceQR), "created").Inc()
	} else {
		metrics.RecordsWritten.WithLabelValues(string(model.SourceQR), "existing").Inc()
		o.log.Debug("attendance already recorded", "student", studentID, "session", s.Ref.String(), "error", model.ErrConflictOnWrite)
	}
	out.Record = &stored
	out.Created = created
	return out, nil
}

// firstPresent returns the time of the student's present scan.
func (o *Orchestrator) firstPresent(ctx context.Context, ref model.SessionRef, studentID string) (time.Time, bool, error) {
	scans, err := o.qr.Scans(ctx, ref)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load scans: %w", err)
	}
	for _, sc := range scans {
		if sc.StudentID == studentID && sc.Status == model.ScanPresent {
			return sc.ScannedAt, true, nil
		}
	}
	return time.Time{}, false, nil
}

// FetchScansForSession returns the session's scan audit trail, oldest first.
func (o *Orchestrator) FetchScansForSession(ctx context.Context, actor auth.Actor, ref model.SessionRef) ([]model.QrCodeScan, error) {
	if _, err := o.authorize(ctx, actor, ref, auth.PermRead); err != nil {
		return nil, err
	}
	scans, err := o.qr.Scans(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load scans: %w", err)
	}
	return scans, nil
}
