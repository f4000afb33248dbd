// Package policy turns connectivity and battery observations into
// scheduling decisions: how often to sync and which priorities may run.
package policy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/fleetsync/internal/command"
)

// NetworkType is the link layer the device is on.
type NetworkType int

const (
	NetworkNone NetworkType = iota
	NetworkCellular
	NetworkWiFi
	NetworkEthernet
	NetworkOther
)

func (t NetworkType) String() string {
	switch t {
	case NetworkNone:
		return "none"
	case NetworkCellular:
		return "cellular"
	case NetworkWiFi:
		return "wifi"
	case NetworkEthernet:
		return "ethernet"
	case NetworkOther:
		return "other"
	}
	return fmt.Sprintf("network(%d)", int(t))
}

// ParseNetworkType converts a name such as "wifi" to a NetworkType.
func ParseNetworkType(s string) (NetworkType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return NetworkNone, nil
	case "cellular", "mobile":
		return NetworkCellular, nil
	case "wifi", "wi-fi":
		return NetworkWiFi, nil
	case "ethernet":
		return NetworkEthernet, nil
	case "other", "vpn", "bluetooth":
		return NetworkOther, nil
	}
	return NetworkNone, fmt.Errorf("policy: unknown network type %q", s)
}

func (t NetworkType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *NetworkType) UnmarshalText(b []byte) error {
	v, err := ParseNetworkType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// NetworkState is one connectivity observation. Validated means the
// internet was actually reached over the link, not just that the OS
// reports a connection.
type NetworkState struct {
	Connected bool        `json:"connected"`
	Type      NetworkType `json:"type"`
	Metered   bool        `json:"metered"`
	Validated bool        `json:"validated"`
}

// Usable reports whether the link can carry sync traffic.
func (s NetworkState) Usable() bool {
	return s.Connected && s.Validated && s.Type != NetworkNone
}

func (s NetworkState) String() string {
	if !s.Connected {
		return "offline"
	}
	out := s.Type.String()
	if s.Metered {
		out += " metered"
	}
	if !s.Validated {
		out += " unvalidated"
	}
	return out
}

// NetworkIntervals are the periodic sync intervals per link class.
type NetworkIntervals struct {
	Unmetered time.Duration
	Metered   time.Duration
	Default   time.Duration
}

// DefaultNetworkIntervals returns 15/45/30 minutes.
func DefaultNetworkIntervals() NetworkIntervals {
	return NetworkIntervals{
		Unmetered: 15 * time.Minute,
		Metered:   45 * time.Minute,
		Default:   30 * time.Minute,
	}
}

// Recommendation is what a policy asks the scheduler to do right now in
// response to a state change.
type Recommendation struct {
	RunNow            bool
	Priority          command.Priority
	CancelNonCritical bool
	Reason            string
}

// NetworkPolicy tracks connectivity. It is safe for concurrent use.
type NetworkPolicy struct {
	mu        sync.Mutex
	intervals NetworkIntervals
	state     NetworkState
	// lastUsableMetered remembers whether the most recent usable link was
	// metered, across offline periods.
	lastUsableMetered bool
}

// NewNetworkPolicy starts in the offline state.
func NewNetworkPolicy(iv NetworkIntervals) *NetworkPolicy {
	def := DefaultNetworkIntervals()
	if iv.Unmetered <= 0 {
		iv.Unmetered = def.Unmetered
	}
	if iv.Metered <= 0 {
		iv.Metered = def.Metered
	}
	if iv.Default <= 0 {
		iv.Default = def.Default
	}
	return &NetworkPolicy{intervals: iv}
}

// Update records a new observation and returns the transition
// recommendation. Becoming usable asks for an immediate run at Medium, or
// High when the device is coming off a metered link whose Low traffic was
// held back by the floor. Becoming unusable asks to cancel non-critical
// scheduled work.
func (p *NetworkPolicy) Update(s NetworkState) Recommendation {
	p.mu.Lock()
	defer p.mu.Unlock()

	prev := p.state
	p.state = s

	var rec Recommendation
	switch {
	case !prev.Usable() && s.Usable():
		rec = Recommendation{RunNow: true, Priority: command.PriorityMedium, Reason: "connectivity restored (" + s.String() + ")"}
		if p.lastUsableMetered && !s.Metered {
			rec.Priority = command.PriorityHigh
			rec.Reason = "unmetered connectivity after metered period"
		}
	case prev.Usable() && !s.Usable():
		rec = Recommendation{CancelNonCritical: true, Reason: "connectivity lost (" + s.String() + ")"}
	case prev.Usable() && s.Usable() && prev.Metered && !s.Metered:
		rec = Recommendation{RunNow: true, Priority: command.PriorityHigh, Reason: "switched to unmetered link"}
	}

	if s.Usable() {
		p.lastUsableMetered = s.Metered
	}
	return rec
}

// State returns the latest observation.
func (p *NetworkPolicy) State() NetworkState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// AllowSync reports whether any network work may run.
func (p *NetworkPolicy) AllowSync() bool {
	return p.State().Usable()
}

// PriorityFloor is the minimum priority the link may carry: Medium on
// metered links so bulk telemetry waits for an unmetered one, Critical
// while unusable, Low otherwise.
func (p *NetworkPolicy) PriorityFloor() command.Priority {
	s := p.State()
	switch {
	case !s.Usable():
		return command.PriorityCritical
	case s.Metered:
		return command.PriorityMedium
	}
	return command.PriorityLow
}

// RecommendedInterval is 15 minutes on unmetered links, 45 on metered
// ones, and 30 when offline or the link class is unknown.
func (p *NetworkPolicy) RecommendedInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	switch {
	case !s.Usable():
		return p.intervals.Default
	case s.Metered:
		return p.intervals.Metered
	case s.Type == NetworkOther:
		return p.intervals.Default
	}
	return p.intervals.Unmetered
}
