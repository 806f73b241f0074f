package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"pointage/internal/auth"
	"pointage/internal/model"
	"pointage/internal/queue"
)

// JobType tags queued reconciliation requests.
const JobType = "reconcile"

// Job asks the worker to reconcile one session against the punch log.
type Job struct {
	Session     string `json:"session"`
	RequestedBy string `json:"requested_by"`
}

// Enqueue publishes a reconciliation job after checking the actor could run
// it synchronously.
func (o *Orchestrator) Enqueue(ctx context.Context, q queue.Queue, actor auth.Actor, ref model.SessionRef) error {
	if _, err := o.authorize(ctx, actor, ref, auth.PermReconcile); err != nil {
		return err
	}
	body, err := json.Marshal(Job{Session: ref.String(), RequestedBy: actor.UserID})
	if err != nil {
		return err
	}
	if err := q.Publish(ctx, queue.Message{Type: JobType, Body: body}); err != nil {
		return fmt.Errorf("enqueue %s: %w", ref, err)
	}
	return nil
}

// HandleMessage runs one queued job as the system actor. Messages of other
// types are ignored.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg queue.Message) (Report, error) {
	if msg.Type != JobType {
		return Report{}, nil
	}
	var job Job
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return Report{}, model.Invalid("body", "malformed job: %v", err)
	}
	ref, err := model.ParseSessionRef(job.Session)
	if err != nil {
		return Report{}, err
	}
	o.log.Info("reconcile job received", "session", job.Session, "requested_by", job.RequestedBy)
	return o.ReconcileFromExternalSource(ctx, auth.System(), ref, nil)
}
