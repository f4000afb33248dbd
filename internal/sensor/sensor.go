// Package sensor feeds connectivity and battery observations to the
// orchestrator. The platform bridge (or a test) is the real sensor; this
// package only adapts what it reports.
package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zulandar/fleetsync/internal/policy"
)

// Snapshot is one combined reading.
type Snapshot struct {
	Network policy.NetworkState `json:"network"`
	Power   policy.PowerState   `json:"power"`
}

// Source streams snapshots. Watch emits the current reading first, then
// every change, and closes the channel when ctx is done.
type Source interface {
	Watch(ctx context.Context) (<-chan Snapshot, error)
}

// Prober checks that the sync server is actually reachable.
// *api.Client satisfies it.
type Prober interface {
	Ping(ctx context.Context) error
}

const probeTimeout = 5 * time.Second

// Validate sets snap.Network.Validated from a reachability probe. Without
// a prober the bridge's own verdict is kept.
func Validate(ctx context.Context, snap Snapshot, prober Prober) Snapshot {
	if prober == nil {
		return snap
	}
	if !snap.Network.Connected {
		snap.Network.Validated = false
		return snap
	}
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	snap.Network.Validated = prober.Ping(pctx) == nil
	return snap
}

// ReadFile parses a bridge state file. Missing fields keep a neutral
// default: offline, battery unknown.
func ReadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("sensor: read %s: %w", path, err)
	}
	snap := Snapshot{Power: policy.PowerState{BatteryPct: -1}}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("sensor: parse %s: %w", path, err)
	}
	return snap, nil
}

// StaticSource is a Source whose readings are set by hand, e.g. from the
// status API or a test.
type StaticSource struct {
	mu   sync.Mutex
	snap Snapshot
	subs []chan Snapshot
}

// NewStatic returns a StaticSource starting at snap.
func NewStatic(snap Snapshot) *StaticSource {
	return &StaticSource{snap: snap}
}

// Set replaces the reading and notifies every watcher. Slow watchers miss
// intermediate readings but always see the latest one.
func (s *StaticSource) Set(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	for _, ch := range s.subs {
		publish(ch, snap)
	}
}

// Current returns the latest reading.
func (s *StaticSource) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *StaticSource) Watch(ctx context.Context) (<-chan Snapshot, error) {
	ch := make(chan Snapshot, 1)
	s.mu.Lock()
	ch <- s.snap
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.subs {
			if c == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// publish replaces any unread value in a 1-buffered channel with snap.
func publish(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
