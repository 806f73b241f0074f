package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pointage/internal/model"
)

// PostgresDirectory reads the scheduling tables.
type PostgresDirectory struct {
	db        *sql.DB
	loc       *time.Location
	tolerance *int
}

// NewPostgresDirectory interprets session wall-clock times in loc.
func NewPostgresDirectory(db *sql.DB, loc *time.Location) *PostgresDirectory {
	if loc == nil {
		loc = time.Local
	}
	return &PostgresDirectory{db: db, loc: loc}
}

// WithDefaultTolerance sets the grace period of sessions stored without one.
func (d *PostgresDirectory) WithDefaultTolerance(minutes int) *PostgresDirectory {
	d.tolerance = &minutes
	return d
}

// Session loads the descriptor and derives its device allowlist from the
// rooms it uses.
func (d *PostgresDirectory) Session(ctx context.Context, ref model.SessionRef) (model.Session, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT city, establishment_id, session_date::text, pointage_start::text, start_time::text, end_time::text,
			tolerance_minutes, exit_window_minutes
		FROM sessions WHERE kind = $1 AND id = $2
	`, ref.Kind, ref.ID)
	var (
		s                     model.Session
		date, ps, start, end  string
		tolerance, exitWindow sql.NullInt32
	)
	if err := row.Scan(&s.City, &s.EstablishmentID, &date, &ps, &start, &end, &tolerance, &exitWindow); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, model.ErrNotFound
		}
		return model.Session{}, err
	}
	s.Ref = ref
	var err error
	if s.Date, err = model.ParseDate(date, d.loc); err != nil {
		return model.Session{}, err
	}
	if s.PointageStart, err = model.OnDate(s.Date, ps); err != nil {
		return model.Session{}, err
	}
	if s.Start, err = model.OnDate(s.Date, start); err != nil {
		return model.Session{}, err
	}
	if s.End, err = model.OnDate(s.Date, end); err != nil {
		return model.Session{}, err
	}
	if tolerance.Valid {
		v := int(tolerance.Int32)
		s.ToleranceMinutes = &v
	} else if d.tolerance != nil {
		v := *d.tolerance
		s.ToleranceMinutes = &v
	}
	if exitWindow.Valid {
		v := int(exitWindow.Int32)
		s.ExitWindowMinutes = &v
	}
	if s.Devices, err = d.devices(ctx, ref); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

// devices merges the allowlists of the session's rooms. A room whose
// devices_configured flag is false imposes no restriction.
func (d *PostgresDirectory) devices(ctx context.Context, ref model.SessionRef) (*model.DeviceAllowlist, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT r.id, r.devices_configured, rd.device_id, rd.device_name
		FROM session_rooms sr
		JOIN rooms r ON r.id = sr.room_id
		LEFT JOIN room_devices rd ON rd.room_id = r.id
		WHERE sr.session_kind = $1 AND sr.session_id = $2
		ORDER BY r.id
	`, ref.Kind, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("load room devices: %w", err)
	}
	defer rows.Close()

	rooms := map[string]*model.DeviceAllowlist{}
	var order []string
	for rows.Next() {
		var (
			roomID     string
			configured bool
			id, name   sql.NullString
		)
		if err := rows.Scan(&roomID, &configured, &id, &name); err != nil {
			return nil, err
		}
		if _, seen := rooms[roomID]; !seen {
			order = append(order, roomID)
			rooms[roomID] = nil
			if configured {
				rooms[roomID] = model.NewDeviceAllowlist(nil, nil)
			}
		}
		if a := rooms[roomID]; a != nil {
			if id.Valid && id.String != "" {
				a.IDs[id.String] = struct{}{}
			}
			if name.Valid && name.String != "" {
				a.Names[name.String] = struct{}{}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	lists := make([]*model.DeviceAllowlist, 0, len(order))
	for _, id := range order {
		lists = append(lists, rooms[id])
	}
	return model.MergeAllowlists(lists...), nil
}

// Roster lists enrolled students with their matricules.
func (d *PostgresDirectory) Roster(ctx context.Context, ref model.SessionRef) ([]model.RosterEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT student_id, matricule FROM session_roster
		WHERE session_kind = $1 AND session_id = $2
		ORDER BY student_id
	`, ref.Kind, ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.RosterEntry
	for rows.Next() {
		var e model.RosterEntry
		if err := rows.Scan(&e.StudentID, &e.Matricule); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
