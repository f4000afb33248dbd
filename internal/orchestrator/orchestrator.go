// Package orchestrator is the single scheduler for queued commands. It
// merges the network and power policies into one decision, owns the one
// periodic timer, and runs batches of due commands through the executor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/models"
	"github.com/zulandar/fleetsync/internal/policy"
	"github.com/zulandar/fleetsync/internal/queue"
)

var (
	// ErrDropped is returned when a sync request is below the policy floor.
	ErrDropped = errors.New("orchestrator: request below priority floor")
	// ErrOffline is returned when no usable connectivity exists. Queued
	// work stays pending for the next connected window.
	ErrOffline = errors.New("orchestrator: no usable connectivity")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("orchestrator: stopped")
)

// State is the orchestrator's lifecycle state.
type State int

const (
	Idle State = iota
	PeriodicScheduled
	RunningBatch
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PeriodicScheduled:
		return "periodic-scheduled"
	case RunningBatch:
		return "running-batch"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Queue is the subset of *queue.Queue the orchestrator drives.
type Queue interface {
	DequeueDue(ctx context.Context, limit int, floor command.Priority) ([]models.QueuedCommand, error)
	ReportOutcome(ctx context.Context, id uint, outcome queue.Outcome) (queue.Result, error)
	Release(ctx context.Context, ids []uint) error
}

// Executor runs one record. *executor.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, rec models.QueuedCommand) (queue.Outcome, error)
}

// Opts tunes batch execution. Zero values fall back to the defaults.
type Opts struct {
	WorkerPool int       // concurrent executions per round, default 3
	BatchLimit int       // records per round, default 50
	MaxRounds  int       // rounds per batch, default 20
	Out        io.Writer // operator progress; nil discards
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	queue   Queue
	exec    Executor
	network *policy.NetworkPolicy
	power   *policy.PowerPolicy
	opts    Opts
	out     io.Writer

	cron *cron.Cron

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	stopped  bool
	running  int
	entry    cron.EntryID
	interval time.Duration
	wg       sync.WaitGroup
}

// New returns an idle orchestrator.
func New(q Queue, exec Executor, network *policy.NetworkPolicy, power *policy.PowerPolicy, opts Opts) *Orchestrator {
	if opts.WorkerPool <= 0 {
		opts.WorkerPool = 3
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 50
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = 20
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		queue:   q,
		exec:    exec,
		network: network,
		power:   power,
		opts:    opts,
		out:     out,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(log.Default())),
			cron.SkipIfStillRunning(cron.DiscardLogger),
		)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Policy returns the merged policy as of now.
func (o *Orchestrator) Policy() policy.State {
	return policy.Merge(o.network, o.power)
}

// State reports the lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.stopped:
		return Stopped
	case o.running > 0:
		return RunningBatch
	case o.started && o.entry != 0:
		return PeriodicScheduled
	}
	return Idle
}

// Interval returns the period of the armed timer, or 0 when none is armed.
func (o *Orchestrator) Interval() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.entry == 0 {
		return 0
	}
	return o.interval
}

// Start arms the periodic timer. The orchestrator stops when ctx is done.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ErrStopped
	}
	if o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = true
	o.mu.Unlock()

	o.cron.Start()
	o.rearm(true)
	context.AfterFunc(ctx, o.Stop)

	fmt.Fprintf(o.out, "Sync orchestrator started (%s)\n", o.Policy())
	return nil
}

// Stop cancels the timer and any scheduled work, then waits for in-flight
// batches. Network calls already sent run to completion.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.cancel()
	if o.entry != 0 {
		o.cron.Remove(o.entry)
		o.entry = 0
	}
	o.mu.Unlock()

	<-o.cron.Stop().Done()
	o.wg.Wait()
	fmt.Fprintf(o.out, "Sync orchestrator stopped.\n")
}

// rearm replaces the periodic timer with one at the current recommended
// interval. Without force the timer is left alone if the interval is
// unchanged, so frequent sensor updates do not keep postponing it.
func (o *Orchestrator) rearm(force bool) {
	iv := o.Policy().RecommendedInterval

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started || o.stopped {
		return
	}
	if !force && o.entry != 0 && iv == o.interval {
		return
	}
	if o.entry != 0 {
		o.cron.Remove(o.entry)
	}
	o.entry = o.cron.Schedule(cron.Every(iv), cron.FuncJob(o.periodic))
	if iv != o.interval {
		log.Printf("orchestrator: periodic sync every %s", iv)
	}
	o.interval = iv
}

// periodic is the timer job. Routine runs are not subject to the
// request-priority check; they run whatever the current floor admits.
func (o *Orchestrator) periodic() {
	st := o.Policy()
	if !st.AllowSync {
		log.Printf("orchestrator: periodic sync skipped: %s", st.Network)
		return
	}
	o.mu.Lock()
	ctx := o.ctx
	o.mu.Unlock()
	if _, err := o.runBatch(ctx, st.AllowedPriorityFloor, "periodic"); err != nil && !errors.Is(err, ErrStopped) {
		log.Printf("orchestrator: periodic sync: %v", err)
	}
}

// ScheduleImmediateSync runs a batch now, bypassing the timer. Requests
// below the power floor are dropped, except Critical ones which run
// whenever connectivity is usable.
func (o *Orchestrator) ScheduleImmediateSync(ctx context.Context, priority command.Priority, reason string) (BatchResult, error) {
	st := o.Policy()
	if !st.AllowSync {
		log.Printf("orchestrator: %s sync (%s) waiting for connectivity: %s", priority, reason, st.Network)
		return BatchResult{}, ErrOffline
	}
	if !st.Admits(priority) {
		log.Printf("orchestrator: %s sync (%s) dropped: floor is %s (%s)", priority, reason, st.AllowedPriorityFloor, st.Band)
		return BatchResult{}, ErrDropped
	}
	return o.runBatch(ctx, priority, reason)
}

// ForceSyncNow is the user-triggered retry. It runs as Critical so it is
// never dropped by the power policy.
func (o *Orchestrator) ForceSyncNow(ctx context.Context) (BatchResult, error) {
	return o.ScheduleImmediateSync(ctx, command.PriorityCritical, "forced by user")
}

// Expedite is ScheduleImmediateSync in the background. The batch is
// bound to the orchestrator's lifetime, not the caller's.
func (o *Orchestrator) Expedite(priority command.Priority, reason string) {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	ctx := o.ctx
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		_, err := o.ScheduleImmediateSync(ctx, priority, reason)
		switch {
		case err == nil, errors.Is(err, ErrDropped), errors.Is(err, ErrOffline), errors.Is(err, ErrStopped):
		default:
			log.Printf("orchestrator: expedited sync (%s): %v", reason, err)
		}
	}()
}
