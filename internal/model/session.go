package model

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used in keys and payloads.
const DateLayout = "2006-01-02"

// DefaultToleranceMinutes applies when a session carries no tolerance.
const DefaultToleranceMinutes = 15

// SessionKind is the type of scheduled activity.
type SessionKind string

const (
	KindCourse SessionKind = "course"
	KindExam   SessionKind = "exam"
	KindMakeup SessionKind = "makeup"
)

// Valid reports whether k is a known kind.
func (k SessionKind) Valid() bool {
	switch k {
	case KindCourse, KindExam, KindMakeup:
		return true
	default:
		return false
	}
}

// SessionRef identifies one scheduled session.
type SessionRef struct {
	Kind SessionKind `json:"kind"`
	ID   string      `json:"id"`
}

func (r SessionRef) String() string { return string(r.Kind) + ":" + r.ID }

// Validate checks the reference is well formed.
func (r SessionRef) Validate() error {
	if !r.Kind.Valid() {
		return Invalid("session.kind", "unknown kind %q", r.Kind)
	}
	if strings.TrimSpace(r.ID) == "" {
		return Invalid("session.id", "required")
	}
	return nil
}

// ParseSessionRef parses the "kind:id" form produced by SessionRef.String.
func ParseSessionRef(s string) (SessionRef, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return SessionRef{}, Invalid("session", "expected kind:id, got %q", s)
	}
	ref := SessionRef{Kind: SessionKind(kind), ID: id}
	return ref, ref.Validate()
}

// Session is the temporal policy of one scheduled activity on one calendar day.
// All instants share Date's calendar day and location.
type Session struct {
	Ref             SessionRef
	City            string
	EstablishmentID string

	Date          time.Time
	PointageStart time.Time
	Start         time.Time
	End           time.Time

	// ToleranceMinutes nil means DefaultToleranceMinutes.
	ToleranceMinutes *int
	// ExitWindowMinutes non-nil turns on bicheck (entry + exit) mode.
	ExitWindowMinutes *int

	// Devices nil means no device restriction.
	Devices *DeviceAllowlist
}

// Tolerance returns the grace period after Start.
func (s Session) Tolerance() time.Duration {
	if s.ToleranceMinutes == nil {
		return DefaultToleranceMinutes * time.Minute
	}
	return time.Duration(*s.ToleranceMinutes) * time.Minute
}

// Bicheck reports whether an exit punch is required.
func (s Session) Bicheck() bool { return s.ExitWindowMinutes != nil }

// ExitWindowEnd is the last instant an exit punch is accepted. It equals End outside bicheck mode.
func (s Session) ExitWindowEnd() time.Time {
	if s.ExitWindowMinutes == nil {
		return s.End
	}
	return s.End.Add(time.Duration(*s.ExitWindowMinutes) * time.Minute)
}

// DateKey returns the session date as YYYY-MM-DD.
func (s Session) DateKey() string { return s.Date.Format(DateLayout) }

// Validate enforces the single-day ordering PointageStart <= Start < End.
func (s Session) Validate() error {
	if err := s.Ref.Validate(); err != nil {
		return err
	}
	if s.Date.IsZero() {
		return Invalid("session.date", "required")
	}
	for name, t := range map[string]time.Time{"pointage_start": s.PointageStart, "start": s.Start, "end": s.End} {
		if !sameDay(s.Date, t) {
			return Invalid("session."+name, "%s is not on %s", t.Format(time.TimeOnly), s.DateKey())
		}
	}
	if s.PointageStart.After(s.Start) {
		return Invalid("session.pointage_start", "after start")
	}
	if !s.End.After(s.Start) {
		return Invalid("session.end", "not after start")
	}
	if s.ToleranceMinutes != nil && *s.ToleranceMinutes < 0 {
		return Invalid("session.tolerance", "negative")
	}
	if s.ExitWindowMinutes != nil {
		if *s.ExitWindowMinutes < 0 {
			return Invalid("session.exit_window", "negative")
		}
		if !sameDay(s.Date, s.ExitWindowEnd()) {
			return Invalid("session.exit_window", "crosses midnight")
		}
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// ParseDate parses YYYY-MM-DD in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, Invalid("date", "malformed date %q", s)
	}
	return d, nil
}

// OnDate combines a calendar day with a "15:04" or "15:04:05" wall-clock time.
func OnDate(date time.Time, clock string) (time.Time, error) {
	clock = strings.TrimSpace(clock)
	var t time.Time
	var err error
	for _, layout := range []string{time.TimeOnly, "15:04"} {
		if t, err = time.Parse(layout, clock); err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, Invalid("time", "malformed time %q", clock)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), t.Second(), 0, date.Location()), nil
}

// RosterEntry is one expected student and the identifier external systems know them by.
type RosterEntry struct {
	StudentID string `json:"student_id" binding:"required"`
	Matricule string `json:"matricule"`
}

// FindStudent returns the roster entry for studentID.
func FindStudent(roster []RosterEntry, studentID string) (RosterEntry, bool) {
	for _, e := range roster {
		if e.StudentID == studentID {
			return e, true
		}
	}
	return RosterEntry{}, false
}

// Describe renders a short log-friendly label.
func (s Session) Describe() string {
	return fmt.Sprintf("%s@%s %s-%s", s.Ref, s.DateKey(), s.Start.Format("15:04"), s.End.Format("15:04"))
}
