package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"pointage/internal/auth"
	"pointage/internal/metrics"
	"pointage/internal/model"
)

// StatusUpdate is one manual status change.
type StatusUpdate struct {
	StudentID     string       `json:"student_id" binding:"required"`
	Status        model.Status `json:"status" binding:"required"`
	Justification *string      `json:"justification"`
}

// BulkReport is the partial-success outcome of a bulk operation.
type BulkReport struct {
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
	Errors    []EntryError             `json:"errors"`
	Records   []model.AttendanceRecord `json:"records"`
}

// UpdateAttendanceStatus sets a student's status directly, bypassing the
// classifier.
func (o *Orchestrator) UpdateAttendanceStatus(ctx context.Context, actor auth.Actor, ref model.SessionRef, u StatusUpdate) (model.AttendanceRecord, error) {
	s, err := o.authorize(ctx, actor, ref, auth.PermWrite)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	roster, err := o.roster(ctx, ref, nil)
	if err != nil {
		return model.AttendanceRecord{}, err
	}
	return o.override(ctx, actor, s, roster, u)
}

// BulkUpdateAttendanceStatus applies every update independently. A failed
// entry is reported and does not stop the others.
func (o *Orchestrator) BulkUpdateAttendanceStatus(ctx context.Context, actor auth.Actor, ref model.SessionRef, updates []StatusUpdate) (BulkReport, error) {
	s, err := o.authorize(ctx, actor, ref, auth.PermWrite)
	if err != nil {
		return BulkReport{}, err
	}
	roster, err := o.roster(ctx, ref, nil)
	if err != nil {
		return BulkReport{}, err
	}
	return o.bulk(ctx, actor, s, roster, updates), nil
}

// MarkAll applies one status to every roster entry.
func (o *Orchestrator) MarkAll(ctx context.Context, actor auth.Actor, ref model.SessionRef, status model.Status, justification *string) (BulkReport, error) {
	s, err := o.authorize(ctx, actor, ref, auth.PermWrite)
	if err != nil {
		return BulkReport{}, err
	}
	if !status.Valid() {
		return BulkReport{}, model.Invalid("status", "unknown status %q", status)
	}
	roster, err := o.roster(ctx, ref, nil)
	if err != nil {
		return BulkReport{}, err
	}
	updates := make([]StatusUpdate, 0, len(roster))
	for _, e := range roster {
		updates = append(updates, StatusUpdate{StudentID: e.StudentID, Status: status, Justification: justification})
	}
	return o.bulk(ctx, actor, s, roster, updates), nil
}

func (o *Orchestrator) bulk(ctx context.Context, actor auth.Actor, s model.Session, roster []model.RosterEntry, updates []StatusUpdate) BulkReport {
	results := make([]*model.AttendanceRecord, len(updates))
	var (
		mu   sync.Mutex
		errs []EntryError
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, u := range updates {
		g.Go(func() error {
			rec, err := o.override(gctx, actor, s, roster, u)
			if err != nil {
				mu.Lock()
				errs = append(errs, entryError(u.StudentID, err))
				mu.Unlock()
				return nil
			}
			results[i] = &rec
			return nil
		})
	}
	_ = g.Wait()

	rep := BulkReport{Errors: []EntryError{}, Records: []model.AttendanceRecord{}}
	for _, r := range results {
		if r != nil {
			rep.Records = append(rep.Records, *r)
		}
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].StudentID < errs[j].StudentID })
	rep.Errors = append(rep.Errors, errs...)
	rep.Succeeded = len(rep.Records)
	rep.Failed = len(rep.Errors)
	return rep
}

func (o *Orchestrator) override(ctx context.Context, actor auth.Actor, s model.Session, roster []model.RosterEntry, u StatusUpdate) (model.AttendanceRecord, error) {
	if !u.Status.Valid() {
		return model.AttendanceRecord{}, model.Invalid("status", "unknown status %q", u.Status)
	}
	if _, ok := model.FindStudent(roster, u.StudentID); !ok {
		return model.AttendanceRecord{}, fmt.Errorf("student %q not on roster of %s: %w", u.StudentID, s.Ref, model.ErrNotFound)
	}
	if err := ctx.Err(); err != nil {
		return model.AttendanceRecord{}, err
	}
	rec, err := o.store.Override(ctx, model.AttendanceRecord{
		StudentID:     u.StudentID,
		Session:       s.Ref,
		Date:          s.DateKey(),
		Status:        u.Status,
		Source:        model.SourceManual,
		Justification: u.Justification,
		UpdatedBy:     actor.UserID,
	})
	if err != nil {
		return model.AttendanceRecord{}, fmt.Errorf("store record: %w", err)
	}
	metrics.RecordsWritten.WithLabelValues(string(model.SourceManual), "updated").Inc()
	return rec, nil
}
