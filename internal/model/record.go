package model

import "time"

// Status is the attendance outcome for one student in one session.
type Status string

const (
	StatusPresent   Status = "present"
	StatusLate      Status = "late"
	StatusAbsent    Status = "absent"
	StatusLeftEarly Status = "left_early"
	StatusExcused   Status = "excused"
)

// Valid returns true when the status is a supported value.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent, StatusLeftEarly, StatusExcused:
		return true
	default:
		return false
	}
}

// Source records which evidence produced a record.
type Source string

const (
	SourcePunch  Source = "punch"
	SourceQR     Source = "qr"
	SourceManual Source = "manual"
)

// RecordKey is the uniqueness key of an AttendanceRecord.
type RecordKey struct {
	StudentID string
	Session   SessionRef
	Date      string
}

// AttendanceRecord is the persisted outcome for (student, session, date).
type AttendanceRecord struct {
	ID        string     `json:"id"`
	StudentID string     `json:"student_id"`
	Session   SessionRef `json:"session"`
	Date      string     `json:"date"`
	Status    Status     `json:"status"`
	Source    Source     `json:"source"`

	PunchedAt         *time.Time `json:"punched_at,omitempty"`
	ExitAt            *time.Time `json:"exit_at,omitempty"`
	DeviceID          string     `json:"device_id,omitempty"`
	DeviceName        string     `json:"device_name,omitempty"`
	MatchedIdentifier string     `json:"matched_identifier,omitempty"`
	MatchStrategy     string     `json:"match_strategy,omitempty"`

	Justification *string `json:"justification,omitempty"`
	UpdatedBy     string  `json:"updated_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the record's uniqueness key.
func (r AttendanceRecord) Key() RecordKey {
	return RecordKey{StudentID: r.StudentID, Session: r.Session, Date: r.Date}
}
