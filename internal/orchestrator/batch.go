package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/queue"
	"golang.org/x/sync/errgroup"
)

// BatchResult holds aggregate counts for one batch.
type BatchResult struct {
	Reason     string
	Priority   command.Priority
	Rounds     int
	Attempted  int
	Delivered  int
	Retrying   int
	Postponed  int
	Exhausted  int
	Rejected   int
	Conflicted int
	Duration   time.Duration
}

// Failed counts records that left the queue undelivered, conflicts aside.
func (r BatchResult) Failed() int { return r.Exhausted + r.Rejected }

func (r BatchResult) String() string {
	return fmt.Sprintf("%d attempted, %d delivered, %d retrying, %d postponed, %d failed, %d conflicted in %d rounds",
		r.Attempted, r.Delivered, r.Retrying, r.Postponed, r.Failed(), r.Conflicted, r.Rounds)
}

func (r *BatchResult) add(d queue.Disposition) {
	switch d {
	case queue.Delivered:
		r.Delivered++
	case queue.Retrying:
		r.Retrying++
	case queue.Postponed:
		r.Postponed++
	case queue.Exhausted:
		r.Exhausted++
	case queue.Rejected:
		r.Rejected++
	case queue.Conflicted:
		r.Conflicted++
	}
}

func (o *Orchestrator) enterBatch() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return ErrStopped
	}
	o.running++
	o.wg.Add(1)
	return nil
}

func (o *Orchestrator) exitBatch() {
	o.mu.Lock()
	o.running--
	o.mu.Unlock()
	o.wg.Done()
}

// runBatch dequeues and executes due records in rounds until nothing is
// due, policy no longer admits priority, or the orchestrator stops. Each
// round takes at most one record per chain, so a chain advances one step
// per round. The timer is re-armed afterwards.
func (o *Orchestrator) runBatch(ctx context.Context, priority command.Priority, reason string) (BatchResult, error) {
	if err := o.enterBatch(); err != nil {
		return BatchResult{}, err
	}
	defer o.exitBatch()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	stopCtx := o.ctx
	o.mu.Unlock()
	defer context.AfterFunc(stopCtx, cancel)()

	start := time.Now()
	res := BatchResult{Reason: reason, Priority: priority}
	var err error
	for res.Rounds < o.opts.MaxRounds && ctx.Err() == nil {
		st := o.Policy()
		if !st.Admits(priority) {
			log.Printf("orchestrator: batch (%s) halted: %s", reason, st)
			break
		}
		var n int
		n, err = o.round(ctx, st.AllowedPriorityFloor, &res)
		if n == 0 {
			break
		}
		res.Rounds++
		if err != nil {
			break
		}
	}
	res.Duration = time.Since(start)

	if err != nil {
		log.Printf("orchestrator: batch (%s) aborted: %v (%s)", reason, err, res)
		err = fmt.Errorf("orchestrator: batch %s: %w", reason, err)
	} else if res.Attempted > 0 {
		log.Printf("orchestrator: batch (%s): %s", reason, res)
		fmt.Fprintf(o.out, "Sync %s: %s\n", reason, res)
	}

	o.rearm(true)
	return res, err
}

// round runs one DequeueDue through the worker pool and returns how many
// records were dequeued. A storage error stops the round; records that
// were dequeued but not reported are released so the next pass sees them
// unchanged.
func (o *Orchestrator) round(ctx context.Context, floor command.Priority, res *BatchResult) (int, error) {
	recs, err := o.queue.DequeueDue(ctx, o.opts.BatchLimit, floor)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}

	var (
		mu       sync.Mutex
		reported = make(map[uint]bool, len(recs))
		aborted  atomic.Bool
		g        errgroup.Group
	)
	g.SetLimit(o.opts.WorkerPool)
	for _, rec := range recs {
		g.Go(func() error {
			if aborted.Load() || ctx.Err() != nil {
				return nil
			}
			outcome, err := o.exec.Execute(ctx, rec)
			if err != nil {
				aborted.Store(true)
				return err
			}
			// Outcomes of sent requests are always recorded, even after Stop.
			r, err := o.queue.ReportOutcome(context.WithoutCancel(ctx), rec.ID, outcome)
			if errors.Is(err, queue.ErrNotFound) {
				log.Printf("orchestrator: record %d vanished before its outcome was recorded", rec.ID)
				mu.Lock()
				reported[rec.ID] = true
				mu.Unlock()
				return nil
			}
			if err != nil {
				aborted.Store(true)
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			reported[rec.ID] = true
			if outcome.Kind != queue.OutcomeDeferred {
				res.Attempted++
			}
			res.add(r.Disposition)
			return nil
		})
	}
	err = g.Wait()

	var unreported []uint
	for _, rec := range recs {
		if !reported[rec.ID] {
			unreported = append(unreported, rec.ID)
		}
	}
	if len(unreported) > 0 {
		if relErr := o.queue.Release(context.WithoutCancel(ctx), unreported); relErr != nil {
			log.Printf("orchestrator: release %d records: %v", len(unreported), relErr)
		}
	}
	return len(recs), err
}
