// Package agent is the caller surface of the sync engine: the UI, CLI and
// status API talk to it instead of the queue and orchestrator directly.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/models"
	"github.com/zulandar/fleetsync/internal/orchestrator"
	"github.com/zulandar/fleetsync/internal/policy"
	"github.com/zulandar/fleetsync/internal/queue"
)

// Agent wires a queue to its orchestrator.
type Agent struct {
	queue *queue.Queue
	orch  *orchestrator.Orchestrator
}

// New returns an Agent.
func New(q *queue.Queue, o *orchestrator.Orchestrator) *Agent {
	return &Agent{queue: q, orch: o}
}

// Enqueue persists cmd. High and Critical commands are user-initiated and
// trigger an expedited sync.
func (a *Agent) Enqueue(ctx context.Context, cmd command.Command) (uint, error) {
	id, err := a.queue.Enqueue(ctx, cmd)
	if err != nil {
		return 0, err
	}
	if p := cmd.Kind().Priority(); p >= command.PriorityHigh {
		a.orch.Expedite(p, fmt.Sprintf("%s enqueued", cmd.Kind()))
	}
	return id, nil
}

func (a *Agent) PendingCount(ctx context.Context) (int64, error) {
	return a.queue.PendingCount(ctx)
}

func (a *Agent) PendingRecords(ctx context.Context) ([]models.QueuedCommand, error) {
	return a.queue.PendingRecords(ctx)
}

// Failures lists undelivered commands; all includes dismissed ones.
func (a *Agent) Failures(ctx context.Context, all bool) ([]models.CommandFailure, error) {
	return a.queue.Failures(ctx, all)
}

func (a *Agent) DismissFailure(ctx context.Context, id uint) error {
	return a.queue.DismissFailure(ctx, id)
}

// RequeueFailure puts a failed command back in the queue with a fresh
// retry budget and asks for a sync.
func (a *Agent) RequeueFailure(ctx context.Context, id uint) (uint, error) {
	recID, err := a.queue.RequeueFailure(ctx, id)
	if err != nil {
		return 0, err
	}
	a.orch.Expedite(command.PriorityHigh, fmt.Sprintf("failure %d requeued", id))
	return recID, nil
}

// ForceSyncNow runs a batch immediately on behalf of the user.
func (a *Agent) ForceSyncNow(ctx context.Context) (orchestrator.BatchResult, error) {
	return a.orch.ForceSyncNow(ctx)
}

// ObserveNetwork and ObservePower accept readings pushed by the platform.
func (a *Agent) ObserveNetwork(s policy.NetworkState) policy.Recommendation {
	return a.orch.OnNetworkChange(s)
}

func (a *Agent) ObservePower(s policy.PowerState) policy.Recommendation {
	return a.orch.OnPowerChange(s)
}

// Status is a snapshot for status displays.
type Status struct {
	State         string     `json:"state"`
	Network       string     `json:"network"`
	Power         string     `json:"power"`
	Band          string     `json:"band"`
	AllowSync     bool       `json:"allow_sync"`
	Interval      string     `json:"interval"`
	PriorityFloor string     `json:"priority_floor"`
	Pending       int64      `json:"pending"`
	Failures      int        `json:"failures"`
	NextDue       *time.Time `json:"next_due,omitempty"`
}

// Status reports orchestrator, policy and queue state.
func (a *Agent) Status(ctx context.Context) (Status, error) {
	st := a.orch.Policy()
	out := Status{
		State:         a.orch.State().String(),
		Network:       st.Network.String(),
		Power:         st.Power.String(),
		Band:          st.Band.String(),
		AllowSync:     st.AllowSync,
		Interval:      st.RecommendedInterval.String(),
		PriorityFloor: st.AllowedPriorityFloor.String(),
	}

	var err error
	if out.Pending, err = a.queue.PendingCount(ctx); err != nil {
		return Status{}, err
	}
	failures, err := a.queue.Failures(ctx, false)
	if err != nil {
		return Status{}, err
	}
	out.Failures = len(failures)
	next, err := a.queue.NextDue(ctx)
	if err != nil {
		return Status{}, err
	}
	if !next.IsZero() {
		out.NextDue = &next
	}
	return out, nil
}
