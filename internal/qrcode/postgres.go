package qrcode

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"pointage/internal/model"
)

// PostgresStore keeps tokens and scans in Postgres. A partial unique index on
// qr_code_scans (session_kind, session_id, student_id) WHERE status = 'present'
// enforces one presence per student.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateSession(ctx context.Context, q model.QrCodeSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qr_code_sessions (id, token, session_kind, session_id, expires_at, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, q.ID, q.Token, q.Session.Kind, q.Session.ID, q.ExpiresAt, q.CreatedBy, q.CreatedAt)
	return err
}

func (s *PostgresStore) SessionByToken(ctx context.Context, token string) (model.QrCodeSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, token, session_kind, session_id, expires_at, created_by, created_at
		FROM qr_code_sessions WHERE token = $1
	`, token)
	var (
		q    model.QrCodeSession
		kind string
	)
	if err := row.Scan(&q.ID, &q.Token, &kind, &q.Session.ID, &q.ExpiresAt, &q.CreatedBy, &q.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.QrCodeSession{}, model.ErrNotFound
		}
		return model.QrCodeSession{}, err
	}
	q.Session.Kind = model.SessionKind(kind)
	return q, nil
}

func (s *PostgresStore) InsertPresent(ctx context.Context, scan model.QrCodeScan) (bool, error) {
	meta, err := encodeMeta(scan.Meta)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO qr_code_scans (id, qr_session_id, session_kind, session_id, student_id, scanned_at, status, meta)
		VALUES ($1,$2,$3,$4,$5,$6,'present',$7)
		ON CONFLICT (session_kind, session_id, student_id) WHERE status = 'present' DO NOTHING
	`, scan.ID, scan.QrSessionID, scan.Session.Kind, scan.Session.ID, scan.StudentID, scan.ScannedAt, meta)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) Append(ctx context.Context, scan model.QrCodeScan) error {
	meta, err := encodeMeta(scan.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO qr_code_scans (id, qr_session_id, session_kind, session_id, student_id, scanned_at, status, meta)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, scan.ID, scan.QrSessionID, scan.Session.Kind, scan.Session.ID, scan.StudentID, scan.ScannedAt, scan.Status, meta)
	return err
}

func (s *PostgresStore) ScansBySession(ctx context.Context, ref model.SessionRef) ([]model.QrCodeScan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, qr_session_id, session_kind, session_id, student_id, scanned_at, status, meta
		FROM qr_code_scans
		WHERE session_kind = $1 AND session_id = $2
		ORDER BY scanned_at
	`, ref.Kind, ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.QrCodeScan
	for rows.Next() {
		var (
			sc   model.QrCodeScan
			kind string
			meta []byte
		)
		if err := rows.Scan(&sc.ID, &sc.QrSessionID, &kind, &sc.Session.ID, &sc.StudentID, &sc.ScannedAt, &sc.Status, &meta); err != nil {
			return nil, err
		}
		sc.Session.Kind = model.SessionKind(kind)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &sc.Meta); err != nil {
				return nil, err
			}
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func encodeMeta(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}
