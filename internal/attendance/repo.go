package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"pointage/internal/model"
)

// Repository persists attendance records in Postgres. The unique index on
// (student_id, session_kind, session_id, session_date) backs InsertIfAbsent.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, student_id, session_kind, session_id, session_date::text, status, source,
	punched_at, exit_at, device_id, device_name, matched_identifier, match_strategy,
	justification, updated_by, created_at, updated_at`

// InsertIfAbsent writes rec with ON CONFLICT DO NOTHING; on conflict the
// existing row is returned with created=false.
func (r *Repository) InsertIfAbsent(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, session_kind, session_id, session_date, status, source,
			punched_at, exit_at, device_id, device_name, matched_identifier, match_strategy, justification, updated_by)
		VALUES ($1,$2,$3,$4,$5::date,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (student_id, session_kind, session_id, session_date) DO NOTHING
		RETURNING `+recordColumns,
		rec.ID, rec.StudentID, rec.Session.Kind, rec.Session.ID, rec.Date, rec.Status, rec.Source,
		rec.PunchedAt, rec.ExitAt, rec.DeviceID, rec.DeviceName, rec.MatchedIdentifier, rec.MatchStrategy,
		rec.Justification, rec.UpdatedBy)
	created, err := scanRecord(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.AttendanceRecord{}, false, err
	}
	existing, err := r.Get(ctx, rec.Key())
	if err != nil {
		return model.AttendanceRecord{}, false, err
	}
	return existing, false, nil
}

// Override upserts the manual status for rec's key.
func (r *Repository) Override(ctx context.Context, rec model.AttendanceRecord) (model.AttendanceRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, student_id, session_kind, session_id, session_date, status, source, justification, updated_by)
		VALUES ($1,$2,$3,$4,$5::date,$6,$7,$8,$9)
		ON CONFLICT (student_id, session_kind, session_id, session_date) DO UPDATE SET
			status = EXCLUDED.status,
			source = EXCLUDED.source,
			justification = EXCLUDED.justification,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING `+recordColumns,
		rec.ID, rec.StudentID, rec.Session.Kind, rec.Session.ID, rec.Date, rec.Status, rec.Source, rec.Justification, rec.UpdatedBy)
	return scanRecord(row)
}

// Get returns a single record by key.
func (r *Repository) Get(ctx context.Context, key model.RecordKey) (model.AttendanceRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE student_id = $1 AND session_kind = $2 AND session_id = $3 AND session_date = $4::date
	`, key.StudentID, key.Session.Kind, key.Session.ID, key.Date)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AttendanceRecord{}, model.ErrNotFound
	}
	return rec, err
}

// ListBySession returns every record of one session occurrence.
func (r *Repository) ListBySession(ctx context.Context, ref model.SessionRef, date string) ([]model.AttendanceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE session_kind = $1 AND session_id = $2 AND session_date = $3::date
		ORDER BY student_id
	`, ref.Kind, ref.ID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []model.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (model.AttendanceRecord, error) {
	var (
		rec       model.AttendanceRecord
		kind      string
		punchedAt sql.NullTime
		exitAt    sql.NullTime
		justif    sql.NullString
	)
	if err := s.Scan(&rec.ID, &rec.StudentID, &kind, &rec.Session.ID, &rec.Date, &rec.Status, &rec.Source,
		&punchedAt, &exitAt, &rec.DeviceID, &rec.DeviceName, &rec.MatchedIdentifier, &rec.MatchStrategy,
		&justif, &rec.UpdatedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return model.AttendanceRecord{}, err
	}
	rec.Session.Kind = model.SessionKind(kind)
	rec.PunchedAt = nullTime(punchedAt)
	rec.ExitAt = nullTime(exitAt)
	if justif.Valid {
		rec.Justification = &justif.String
	}
	return rec, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
