package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pointage/internal/model"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m, s int) *time.Time {
	t := day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
	return &t
}

func policy() Policy {
	return Policy{
		PointageStart: *at(8, 30, 0),
		Start:         *at(9, 0, 0),
		End:           *at(11, 0, 0),
		Tolerance:     15 * time.Minute,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name  string
		punch *time.Time
		want  model.Status
	}{
		{"no punch", nil, model.StatusAbsent},
		{"early", at(8, 58, 0), model.StatusPresent},
		{"exactly at start", at(9, 0, 0), model.StatusPresent},
		{"one second late", at(9, 0, 1), model.StatusLate},
		{"within tolerance", at(9, 10, 0), model.StatusLate},
		{"tolerance boundary inclusive", at(9, 15, 0), model.StatusLate},
		{"past tolerance", at(9, 15, 1), model.StatusAbsent},
		{"well past tolerance", at(9, 20, 0), model.StatusAbsent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(policy(), tt.punch))
		})
	}
}

func TestClassifyZeroTolerance(t *testing.T) {
	p := policy()
	p.Tolerance = 0
	assert.Equal(t, model.StatusPresent, Classify(p, at(9, 0, 0)))
	assert.Equal(t, model.StatusAbsent, Classify(p, at(9, 0, 1)))
}

func TestClassifyEvidenceBicheck(t *testing.T) {
	p := policy()
	p.Bicheck = true
	p.ExitWindow = 20 * time.Minute

	tests := []struct {
		name string
		ev   Evidence
		want model.Status
	}{
		{"entry and exit", Evidence{at(8, 55, 0), at(11, 5, 0)}, model.StatusPresent},
		{"late entry and exit", Evidence{at(9, 5, 0), at(11, 20, 0)}, model.StatusLate},
		{"exit at end", Evidence{at(8, 55, 0), at(11, 0, 0)}, model.StatusPresent},
		{"no exit", Evidence{at(8, 55, 0), nil}, model.StatusLeftEarly},
		{"late without exit", Evidence{at(9, 5, 0), nil}, model.StatusLeftEarly},
		{"exit before end", Evidence{at(8, 55, 0), at(10, 59, 59)}, model.StatusLeftEarly},
		{"exit after window", Evidence{at(8, 55, 0), at(11, 20, 1)}, model.StatusLeftEarly},
		{"no entry", Evidence{nil, at(11, 5, 0)}, model.StatusAbsent},
		{"entry too late", Evidence{at(9, 30, 0), at(11, 5, 0)}, model.StatusAbsent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyEvidence(p, tt.ev))
		})
	}
}

func TestClassifyEvidenceIgnoresExitOutsideBicheck(t *testing.T) {
	assert.Equal(t, model.StatusPresent, ClassifyEvidence(policy(), Evidence{Entry: at(8, 59, 0)}))
}

func TestPolicyFor(t *testing.T) {
	tol, win := 10, 30
	s := model.Session{
		PointageStart: *at(8, 0, 0), Start: *at(8, 30, 0), End: *at(10, 0, 0),
		ToleranceMinutes: &tol, ExitWindowMinutes: &win,
	}
	p := PolicyFor(s)
	assert.Equal(t, 10*time.Minute, p.Tolerance)
	assert.True(t, p.Bicheck)
	assert.Equal(t, 30*time.Minute, p.ExitWindow)

	s.ExitWindowMinutes = nil
	p = PolicyFor(s)
	assert.False(t, p.Bicheck)
	assert.Zero(t, p.ExitWindow)
}

func TestWindows(t *testing.T) {
	p := policy()
	assert.False(t, InEntryWindow(p, *at(8, 29, 59)))
	assert.True(t, InEntryWindow(p, *at(8, 30, 0)))
	assert.True(t, InEntryWindow(p, *at(10, 59, 59)))
	assert.False(t, InEntryWindow(p, *at(11, 0, 0)))
	assert.False(t, InExitWindow(p, nil))
}
