package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pointage/internal/auth"
	"pointage/internal/classifier"
	"pointage/internal/matcher"
	"pointage/internal/metrics"
	"pointage/internal/model"
	"pointage/internal/punchlog"
)

// Report is the outcome of reconciling one session against the punch log.
type Report struct {
	Session         model.SessionRef         `json:"session"`
	Date            string                   `json:"date"`
	Created         int                      `json:"created"`
	AlreadyExisting int                      `json:"already_existing"`
	Errors          []EntryError             `json:"errors"`
	Records         []model.AttendanceRecord `json:"records"`
}

// ReconcileFromExternalSource fetches the session's punch window once and
// writes one record per roster entry. A nil roster is loaded from the
// directory. When the source is unavailable nothing is written and the error
// matches model.ErrSourceUnavailable.
func (o *Orchestrator) ReconcileFromExternalSource(ctx context.Context, actor auth.Actor, ref model.SessionRef, roster []model.RosterEntry) (Report, error) {
	s, err := o.authorize(ctx, actor, ref, auth.PermReconcile)
	if err != nil {
		return Report{}, err
	}
	roster, err = o.roster(ctx, ref, roster)
	if err != nil {
		return Report{}, err
	}

	events, err := o.punches.FetchWindow(ctx, s.City, fetchWindow(s), s.Devices)
	if err != nil {
		metrics.Reconciliations.WithLabelValues(ErrorKind(err)).Inc()
		return Report{}, fmt.Errorf("reconcile %s: %w", s.Describe(), err)
	}
	ev := indexEvents(events)
	policy := classifier.PolicyFor(s)

	rep := Report{Session: ref, Date: s.DateKey(), Errors: []EntryError{}}
	records := make([]*model.AttendanceRecord, len(roster))
	created := make([]bool, len(roster))
	var (
		mu   sync.Mutex
		errs []EntryError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, entry := range roster {
		g.Go(func() error {
			rec, ok, err := o.reconcileEntry(gctx, actor, s, policy, ev, entry)
			if err != nil {
				mu.Lock()
				errs = append(errs, entryError(entry.StudentID, err))
				mu.Unlock()
				return nil
			}
			records[i] = &rec
			created[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	for i, r := range records {
		if r == nil {
			continue
		}
		rep.Records = append(rep.Records, *r)
		if created[i] {
			rep.Created++
		} else {
			rep.AlreadyExisting++
		}
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].StudentID < errs[j].StudentID })
	rep.Errors = append(rep.Errors, errs...)
	metrics.Reconciliations.WithLabelValues("ok").Inc()
	o.log.Info("session reconciled",
		"session", s.Describe(),
		"roster", len(roster),
		"punches", len(events),
		"created", rep.Created,
		"already_existing", rep.AlreadyExisting,
		"failed", len(rep.Errors))
	return rep, nil
}

func (o *Orchestrator) reconcileEntry(ctx context.Context, actor auth.Actor, s model.Session, p classifier.Policy, ev *eventIndex, entry model.RosterEntry) (model.AttendanceRecord, bool, error) {
	if strings.TrimSpace(entry.StudentID) == "" {
		return model.AttendanceRecord{}, false, model.Invalid("student_id", "required")
	}
	if err := ctx.Err(); err != nil {
		return model.AttendanceRecord{}, false, err
	}
	rec := model.AttendanceRecord{
		StudentID: entry.StudentID,
		Session:   s.Ref,
		Date:      s.DateKey(),
		Source:    model.SourcePunch,
		UpdatedBy: actor.UserID,
	}
	evidence := classifier.Evidence{}
	if m, ok := matcher.Match(entry.Matricule, ev.candidates); ok {
		rec.MatchedIdentifier = m.Identifier
		rec.MatchStrategy = m.Strategy
		entryPunch, exitPunch := ev.evidence(m.Identifier, p)
		if entryPunch != nil {
			evidence.Entry = timePtr(entryPunch.At)
			rec.PunchedAt = evidence.Entry
			rec.DeviceID = entryPunch.DeviceID
			rec.DeviceName = entryPunch.DeviceName
		}
		if exitPunch != nil {
			evidence.Exit = timePtr(exitPunch.At)
			rec.ExitAt = evidence.Exit
		}
	}
	rec.Status = classifier.ClassifyEvidence(p, evidence)

	stored, created, err := o.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		return model.AttendanceRecord{}, false, fmt.Errorf("store record: %w", err)
	}
	if created {
		metrics.RecordsWritten.WithLabelValues(string(model.SourcePunch), "created").Inc()
	} else {
		metrics.RecordsWritten.WithLabelValues(string(model.SourcePunch), "existing").Inc()
		o.log.Debug("attendance already reconciled", "student", entry.StudentID, "session", s.Ref.String(), "error", model.ErrConflictOnWrite)
	}
	return stored, created, nil
}

// fetchWindow covers the entry window [PointageStart, End) and, in bicheck
// mode, the exit window up to End+ExitWindow inclusive.
func fetchWindow(s model.Session) punchlog.Window {
	end := s.End
	if s.Bicheck() {
		end = s.ExitWindowEnd().Add(time.Second)
		if end.Day() != s.Date.Day() {
			end = s.ExitWindowEnd().Add(time.Nanosecond)
		}
	}
	return punchlog.Window{Date: s.Date, Start: s.PointageStart, End: end}
}

type eventIndex struct {
	byID       map[string][]model.PunchEvent
	candidates *matcher.Candidates
}

func indexEvents(events []model.PunchEvent) *eventIndex {
	idx := &eventIndex{byID: map[string][]model.PunchEvent{}}
	ids := make([]string, 0, len(events))
	for _, e := range events {
		id := strings.TrimSpace(e.Identifier)
		if id == "" {
			continue
		}
		if _, ok := idx.byID[id]; !ok {
			ids = append(ids, id)
		}
		idx.byID[id] = append(idx.byID[id], e)
	}
	for _, list := range idx.byID {
		sort.SliceStable(list, func(i, j int) bool { return list[i].At.Before(list[j].At) })
	}
	idx.candidates = matcher.NewCandidates(ids...)
	return idx
}

// evidence returns the earliest entry-window punch and the latest exit-window
// punch of one identifier.
func (idx *eventIndex) evidence(id string, p classifier.Policy) (entry, exit *model.PunchEvent) {
	for i := range idx.byID[id] {
		e := &idx.byID[id][i]
		if entry == nil && classifier.InEntryWindow(p, e.At) {
			entry = e
		}
		if p.Bicheck && classifier.InExitWindow(p, &e.At) {
			exit = e
		}
	}
	return entry, exit
}
