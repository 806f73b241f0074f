package reconcile

import (
	"context"
	"fmt"
	"time"

	"pointage/internal/auth"
	"pointage/internal/model"
)

// AttendanceView is one line of a session's attendance sheet.
type AttendanceView struct {
	StudentID     string       `json:"student_id"`
	Matricule     string       `json:"matricule,omitempty"`
	Recorded      bool         `json:"recorded"`
	Status        model.Status `json:"status,omitempty"`
	Source        model.Source `json:"source,omitempty"`
	Timestamp     *time.Time   `json:"timestamp,omitempty"`
	DeviceID      string       `json:"device_id,omitempty"`
	Device        string       `json:"device,omitempty"`
	MatchStrategy string       `json:"match_strategy,omitempty"`
	Justification *string      `json:"justification,omitempty"`
}

// FetchAttendanceForSession lists every roster student with their record, if
// any, followed by records of students no longer on the roster.
func (o *Orchestrator) FetchAttendanceForSession(ctx context.Context, actor auth.Actor, ref model.SessionRef) ([]AttendanceView, error) {
	s, err := o.authorize(ctx, actor, ref, auth.PermRead)
	if err != nil {
		return nil, err
	}
	roster, err := o.roster(ctx, ref, nil)
	if err != nil {
		return nil, err
	}
	records, err := o.store.ListBySession(ctx, ref, s.DateKey())
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	byStudent := make(map[string]model.AttendanceRecord, len(records))
	for _, r := range records {
		byStudent[r.StudentID] = r
	}

	out := make([]AttendanceView, 0, len(roster))
	seen := make(map[string]bool, len(roster))
	for _, e := range roster {
		v := AttendanceView{StudentID: e.StudentID, Matricule: e.Matricule}
		if r, ok := byStudent[e.StudentID]; ok {
			fill(&v, r)
		}
		seen[e.StudentID] = true
		out = append(out, v)
	}
	for _, r := range records {
		if seen[r.StudentID] {
			continue
		}
		v := AttendanceView{StudentID: r.StudentID}
		fill(&v, r)
		out = append(out, v)
	}
	return out, nil
}

func fill(v *AttendanceView, r model.AttendanceRecord) {
	v.Recorded = true
	v.Status = r.Status
	v.Source = r.Source
	v.Timestamp = r.PunchedAt
	v.DeviceID = r.DeviceID
	v.Device = r.DeviceName
	v.MatchStrategy = r.MatchStrategy
	v.Justification = r.Justification
}
