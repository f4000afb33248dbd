package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/zulandar/fleetsync/internal/command"
)

// PowerState is one battery observation. BatteryPct < 0 means unknown.
type PowerState struct {
	BatteryPct int  `json:"battery_pct"`
	Charging   bool `json:"charging"`
	PowerSave  bool `json:"power_save"`
}

func (s PowerState) String() string {
	out := fmt.Sprintf("%d%%", s.BatteryPct)
	if s.BatteryPct < 0 {
		out = "battery unknown"
	}
	if s.Charging {
		out += " charging"
	}
	if s.PowerSave {
		out += " power-save"
	}
	return out
}

// PowerBand is the coarse battery condition used for scheduling.
type PowerBand int

const (
	BandCharging PowerBand = iota
	BandNormal
	BandLow
	BandVeryLow
	BandPowerSave
)

func (b PowerBand) String() string {
	switch b {
	case BandCharging:
		return "charging"
	case BandNormal:
		return "normal"
	case BandLow:
		return "low"
	case BandVeryLow:
		return "very-low"
	case BandPowerSave:
		return "power-save"
	}
	return fmt.Sprintf("band(%d)", int(b))
}

// PowerThresholds configures the power policy.
type PowerThresholds struct {
	LowPct     int
	VeryLowPct int

	Charging  time.Duration
	Normal    time.Duration
	Low       time.Duration
	VeryLow   time.Duration
	PowerSave time.Duration
}

// DefaultPowerThresholds returns low=15%, very-low=5% and intervals of
// 10/15/30/60/120 minutes.
func DefaultPowerThresholds() PowerThresholds {
	return PowerThresholds{
		LowPct:     15,
		VeryLowPct: 5,
		Charging:   10 * time.Minute,
		Normal:     15 * time.Minute,
		Low:        30 * time.Minute,
		VeryLow:    60 * time.Minute,
		PowerSave:  120 * time.Minute,
	}
}

// PowerPolicy tracks battery state. It is safe for concurrent use.
type PowerPolicy struct {
	mu    sync.Mutex
	th    PowerThresholds
	state PowerState
}

// NewPowerPolicy starts with a full, discharging battery.
func NewPowerPolicy(th PowerThresholds) *PowerPolicy {
	def := DefaultPowerThresholds()
	if th.LowPct <= 0 {
		th.LowPct = def.LowPct
	}
	if th.VeryLowPct <= 0 {
		th.VeryLowPct = def.VeryLowPct
	}
	if th.Charging <= 0 {
		th.Charging = def.Charging
	}
	if th.Normal <= 0 {
		th.Normal = def.Normal
	}
	if th.Low <= 0 {
		th.Low = def.Low
	}
	if th.VeryLow <= 0 {
		th.VeryLow = def.VeryLow
	}
	if th.PowerSave <= 0 {
		th.PowerSave = def.PowerSave
	}
	return &PowerPolicy{th: th, state: PowerState{BatteryPct: 100}}
}

// Update records a new observation. Leaving power-save or plugging in
// while work was gated asks for an immediate run.
func (p *PowerPolicy) Update(s PowerState) Recommendation {
	p.mu.Lock()
	defer p.mu.Unlock()

	prevFloor := p.floorLocked()
	p.state = s
	floor := p.floorLocked()

	if floor < prevFloor {
		return Recommendation{RunNow: true, Priority: floor, Reason: "power restrictions eased (" + s.String() + ")"}
	}
	return Recommendation{}
}

// State returns the latest observation.
func (p *PowerPolicy) State() PowerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Band classifies the current state. Power-save wins over everything,
// then charging, then the battery thresholds.
func (p *PowerPolicy) Band() PowerBand {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bandLocked()
}

func (p *PowerPolicy) bandLocked() PowerBand {
	s := p.state
	switch {
	case s.PowerSave:
		return BandPowerSave
	case s.Charging:
		return BandCharging
	case s.BatteryPct < 0:
		return BandNormal
	case s.BatteryPct < p.th.VeryLowPct:
		return BandVeryLow
	case s.BatteryPct < p.th.LowPct:
		return BandLow
	}
	return BandNormal
}

// RecommendedInterval returns the sync interval for the current band.
func (p *PowerPolicy) RecommendedInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.bandLocked() {
	case BandCharging:
		return p.th.Charging
	case BandLow:
		return p.th.Low
	case BandVeryLow:
		return p.th.VeryLow
	case BandPowerSave:
		return p.th.PowerSave
	}
	return p.th.Normal
}

// PriorityFloor is the minimum priority allowed to run: Medium during
// power-save, Critical below the very-low threshold when not charging,
// Low otherwise.
func (p *PowerPolicy) PriorityFloor() command.Priority {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.floorLocked()
}

func (p *PowerPolicy) floorLocked() command.Priority {
	s := p.state
	floor := command.PriorityLow
	if s.PowerSave {
		floor = command.PriorityMedium
	}
	if !s.Charging && s.BatteryPct >= 0 && s.BatteryPct < p.th.VeryLowPct {
		floor = command.PriorityCritical
	}
	return floor
}
