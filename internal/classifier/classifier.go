// Package classifier turns a session's temporal policy and matched punch
// times into an attendance status. It does no I/O.
package classifier

import (
	"time"

	"pointage/internal/model"
)

// Policy is the temporal part of a session.
type Policy struct {
	PointageStart time.Time
	Start         time.Time
	End           time.Time
	Tolerance     time.Duration
	// ExitWindow is only consulted when Bicheck is set.
	Bicheck    bool
	ExitWindow time.Duration
}

// PolicyFor extracts the policy of a session.
func PolicyFor(s model.Session) Policy {
	return Policy{
		PointageStart: s.PointageStart,
		Start:         s.Start,
		End:           s.End,
		Tolerance:     s.Tolerance(),
		Bicheck:       s.Bicheck(),
		ExitWindow:    s.ExitWindowEnd().Sub(s.End),
	}
}

// Evidence is the matched punch times for one student. Nil means no punch.
type Evidence struct {
	Entry *time.Time
	Exit  *time.Time
}

// Classify applies the entry rules: no punch is absent, up to Start is
// present, up to Start+Tolerance (inclusive) is late, anything later is absent.
func Classify(p Policy, entry *time.Time) model.Status {
	if entry == nil {
		return model.StatusAbsent
	}
	t := *entry
	switch {
	case !t.After(p.Start):
		return model.StatusPresent
	case !t.After(p.Start.Add(p.Tolerance)):
		return model.StatusLate
	default:
		return model.StatusAbsent
	}
}

// ClassifyEvidence adds the bicheck exit rule on top of Classify: a student
// who entered on time or late but has no exit punch in [End, End+ExitWindow]
// left early.
func ClassifyEvidence(p Policy, e Evidence) model.Status {
	st := Classify(p, e.Entry)
	if !p.Bicheck || st == model.StatusAbsent {
		return st
	}
	if !InExitWindow(p, e.Exit) {
		return model.StatusLeftEarly
	}
	return st
}

// InEntryWindow reports whether t may be offered as an entry punch.
func InEntryWindow(p Policy, t time.Time) bool {
	return !t.Before(p.PointageStart) && t.Before(p.End)
}

// InExitWindow reports whether t qualifies as an exit punch.
func InExitWindow(p Policy, t *time.Time) bool {
	if t == nil {
		return false
	}
	return !t.Before(p.End) && !t.After(p.End.Add(p.ExitWindow))
}
