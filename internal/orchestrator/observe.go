package orchestrator

import (
	"context"
	"fmt"
	"log"

	"github.com/zulandar/fleetsync/internal/policy"
	"github.com/zulandar/fleetsync/internal/sensor"
)

// OnNetworkChange feeds a connectivity observation to the network policy,
// re-arms the timer if the interval changed, and acts on the policy's
// recommendation.
func (o *Orchestrator) OnNetworkChange(s policy.NetworkState) policy.Recommendation {
	rec := o.network.Update(s)
	o.apply(rec)
	return rec
}

// OnPowerChange feeds a battery observation to the power policy.
func (o *Orchestrator) OnPowerChange(s policy.PowerState) policy.Recommendation {
	rec := o.power.Update(s)
	o.apply(rec)
	return rec
}

// Observe applies a combined sensor snapshot. At most one expedited run is
// requested, at the highest recommended priority.
func (o *Orchestrator) Observe(snap sensor.Snapshot) {
	o.apply(o.network.Update(snap.Network), o.power.Update(snap.Power))
}

// Seed records a snapshot in the policies without acting on it, for a
// one-shot run that syncs explicitly afterwards.
func (o *Orchestrator) Seed(snap sensor.Snapshot) {
	o.network.Update(snap.Network)
	o.power.Update(snap.Power)
}

func (o *Orchestrator) apply(recs ...policy.Recommendation) {
	o.rearm(false)

	var run *policy.Recommendation
	for i := range recs {
		r := &recs[i]
		if r.CancelNonCritical {
			// Batches re-check policy between rounds and the timer skips
			// while offline, so scheduled work pauses by itself.
			log.Printf("orchestrator: %s; non-critical work paused", r.Reason)
		}
		if r.RunNow && (run == nil || r.Priority > run.Priority) {
			run = r
		}
	}
	if run != nil {
		log.Printf("orchestrator: %s; expediting %s sync", run.Reason, run.Priority)
		o.Expedite(run.Priority, run.Reason)
	}
}

// Watch applies snapshots from src until ctx is done or src closes its
// channel.
func (o *Orchestrator) Watch(ctx context.Context, src sensor.Source) error {
	ch, err := src.Watch(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: watch sensors: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			o.Observe(snap)
		}
	}
}
