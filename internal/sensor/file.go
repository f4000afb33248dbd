package sensor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zulandar/fleetsync/internal/policy"
)

// FileSource watches a JSON state file written by the platform bridge:
//
//	{"network": {"connected": true, "type": "wifi", "metered": false, "validated": true},
//	 "power": {"battery_pct": 80, "charging": false, "power_save": false}}
//
// The directory is watched rather than the file so atomic replace-by-rename
// is picked up.
type FileSource struct {
	Path string
	// Prober, when set, overrides the bridge's validated flag.
	Prober Prober
	// ProbeInterval re-reads and re-probes periodically; zero disables it.
	ProbeInterval time.Duration
}

func (s *FileSource) Watch(ctx context.Context) (<-chan Snapshot, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("sensor: create watcher: %w", err)
	}
	path := filepath.Clean(s.Path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("sensor: watch %s: %w", filepath.Dir(path), err)
	}

	out := make(chan Snapshot, 1)
	go s.loop(ctx, w, path, out)
	return out, nil
}

func (s *FileSource) loop(ctx context.Context, w *fsnotify.Watcher, path string, out chan Snapshot) {
	defer close(out)
	defer w.Close()

	var (
		last Snapshot
		sent bool
	)
	emit := func() {
		snap, err := ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				// Usually a half-written file; the next write event retries.
				log.Printf("sensor: %v", err)
			}
			return
		}
		snap = Validate(ctx, snap, s.Prober)
		if sent && snap == last {
			return
		}
		last, sent = snap, true
		publish(out, snap)
	}

	var tick <-chan time.Time
	if s.ProbeInterval > 0 {
		t := time.NewTicker(s.ProbeInterval)
		defer t.Stop()
		tick = t.C
	}

	emit()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				emit()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Printf("sensor: watch %s: %v", path, err)
		case <-tick:
			emit()
		}
	}
}

// ProbeSource infers connectivity from reachability alone, for hosts with
// no platform bridge. Battery is reported as unknown.
type ProbeSource struct {
	Prober   Prober
	Interval time.Duration
}

func (s *ProbeSource) Watch(ctx context.Context) (<-chan Snapshot, error) {
	if s.Prober == nil {
		return nil, fmt.Errorf("sensor: probe source requires a prober")
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		t := time.NewTicker(interval)
		defer t.Stop()

		var (
			last Snapshot
			sent bool
		)
		for {
			snap := Probe(ctx, s.Prober)
			if !sent || snap != last {
				last, sent = snap, true
				publish(out, snap)
			}

			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return out, nil
}

// Probe takes one reading by reachability alone: a validated link of
// unknown class when the server answers, offline otherwise.
func Probe(ctx context.Context, prober Prober) Snapshot {
	snap := Validate(ctx, Snapshot{
		Network: policy.NetworkState{Connected: true, Type: policy.NetworkOther},
		Power:   policy.PowerState{BatteryPct: -1},
	}, prober)
	if !snap.Network.Validated {
		snap.Network = policy.NetworkState{}
	}
	return snap
}
