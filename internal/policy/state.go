package policy

import (
	"fmt"
	"time"

	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/config"
)

// State is the merged scheduling view. It is recomputed on demand and
// never persisted.
type State struct {
	Network              NetworkState
	Power                PowerState
	Band                 PowerBand
	AllowSync            bool
	RecommendedInterval  time.Duration
	AllowedPriorityFloor command.Priority
}

func (s State) String() string {
	return fmt.Sprintf("network=%s power=%s allow=%v interval=%s floor=%s",
		s.Network, s.Power, s.AllowSync, s.RecommendedInterval, s.AllowedPriorityFloor)
}

// Merge combines both policies, taking the more conservative choice of
// each: the longer interval and the stricter of the two priority floors.
func Merge(n *NetworkPolicy, p *PowerPolicy) State {
	interval := n.RecommendedInterval()
	if pi := p.RecommendedInterval(); pi > interval {
		interval = pi
	}
	return State{
		Network:              n.State(),
		Power:                p.State(),
		Band:                 p.Band(),
		AllowSync:            n.AllowSync(),
		RecommendedInterval:  interval,
		AllowedPriorityFloor: command.MaxPriority(n.PriorityFloor(), p.PriorityFloor()),
	}
}

// Admits reports whether a sync request at priority may run under s.
// Critical requests are admitted whenever the network allows any sync.
func (s State) Admits(priority command.Priority) bool {
	if !s.AllowSync {
		return false
	}
	return priority == command.PriorityCritical || priority >= s.AllowedPriorityFloor
}

// FromConfig builds both policies from the YAML configuration.
func FromConfig(nc config.NetworkConfig, pc config.PowerConfig) (*NetworkPolicy, *PowerPolicy) {
	minutes := func(m int) time.Duration { return time.Duration(m) * time.Minute }
	n := NewNetworkPolicy(NetworkIntervals{
		Unmetered: minutes(nc.UnmeteredIntervalMinutes),
		Metered:   minutes(nc.MeteredIntervalMinutes),
		Default:   minutes(nc.DefaultIntervalMinutes),
	})
	p := NewPowerPolicy(PowerThresholds{
		LowPct:     pc.LowBatteryPct,
		VeryLowPct: pc.VeryLowBatteryPct,
		Charging:   minutes(pc.ChargingIntervalMinutes),
		Normal:     minutes(pc.NormalIntervalMinutes),
		Low:        minutes(pc.LowIntervalMinutes),
		VeryLow:    minutes(pc.VeryLowIntervalMinutes),
		PowerSave:  minutes(pc.PowerSaveIntervalMinutes),
	})
	return n, p
}
