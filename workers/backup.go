// Package workers runs background maintenance for the agent. The backup
// worker snapshots the sqlite store and the badger cache on an interval.
//
// The worker is a single goroutine owning all state; callers talk to it
// exclusively through command messages, so there are no shared flags to
// poll. Pausing is cooperative: a pause request during an in-flight
// snapshot parks the caller until the snapshot drains.
package workers

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gliderlab/coagent/pkg/kv"
	"github.com/gliderlab/coagent/storage"
)

// State of the backup worker
type State int

const (
	StateRunning State = iota
	StatePausing // pause requested, snapshot still in flight
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePausing:
		return "pausing"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}

// Config for the backup worker
type Config struct {
	Store    *storage.Storage
	Cache    *kv.KV
	Dir      string        // destination directory for snapshots
	Interval time.Duration // 0 disables the timer (manual BackupNow only)
	Keep     int           // snapshots to retain per kind (0: keep all)
}

type command struct {
	kind  string // "pause", "resume", "backup", "state"
	done  chan error
	state chan State
}

// Worker owns the backup loop
type Worker struct {
	cfg     Config
	cmds    chan command
	stopCh  chan struct{}
	stopped chan struct{}

	// snapshot implementation, replaceable in tests
	backupFn func() error

	// incremental badger backup watermark, loop-goroutine only
	sinceVersion uint64
}

// New creates a backup worker; call Start to run it.
func New(cfg Config) *Worker {
	w := &Worker{
		cfg:     cfg,
		cmds:    make(chan command),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	w.backupFn = w.doBackup
	return w
}

// Start launches the worker loop
func (w *Worker) Start() {
	go w.run()
	log.Printf("[OK] backup worker started (interval: %v, dir: %s)", w.cfg.Interval, w.cfg.Dir)
}

// Stop shuts the worker down, waiting for an in-flight snapshot
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stopped
}

// Pause transitions the worker to Paused and returns once no snapshot
// is in flight. The caller must Resume afterwards.
func (w *Worker) Pause(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case w.cmds <- command{kind: "pause", done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return fmt.Errorf("backup worker stopped")
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume returns the worker to Running
func (w *Worker) Resume() {
	select {
	case w.cmds <- command{kind: "resume"}:
	case <-w.stopped:
	}
}

// BackupNow requests an immediate snapshot and waits for it
func (w *Worker) BackupNow() error {
	done := make(chan error, 1)
	select {
	case w.cmds <- command{kind: "backup", done: done}:
	case <-w.stopped:
		return fmt.Errorf("backup worker stopped")
	}
	return <-done
}

// State reports the worker's current state
func (w *Worker) State() State {
	reply := make(chan State, 1)
	select {
	case w.cmds <- command{kind: "state", state: reply}:
		return <-reply
	case <-w.stopped:
		return StatePaused
	}
}

func (w *Worker) run() {
	defer close(w.stopped)

	var tick <-chan time.Time
	if w.cfg.Interval > 0 {
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	state := StateRunning
	snapshotDone := make(chan error, 1)
	inFlight := false

	// pause callers parked until the in-flight snapshot drains
	var pauseWaiters []chan error
	// manual backup callers waiting on the current snapshot
	var backupWaiters []chan error

	startSnapshot := func() {
		inFlight = true
		go func() { snapshotDone <- w.backupFn() }()
	}

	for {
		select {
		case <-w.stopCh:
			if inFlight {
				<-snapshotDone
			}
			return

		case err := <-snapshotDone:
			inFlight = false
			if err != nil {
				log.Printf("[ERROR] backup failed: %v", err)
			}
			for _, c := range backupWaiters {
				c <- err
			}
			backupWaiters = nil
			if state == StatePausing {
				state = StatePaused
				for _, c := range pauseWaiters {
					c <- nil
				}
				pauseWaiters = nil
			}

		case <-tick:
			if state == StateRunning && !inFlight {
				startSnapshot()
			}

		case cmd := <-w.cmds:
			switch cmd.kind {
			case "pause":
				switch {
				case state == StatePaused:
					cmd.done <- nil
				case inFlight:
					state = StatePausing
					pauseWaiters = append(pauseWaiters, cmd.done)
				default:
					state = StatePaused
					cmd.done <- nil
				}
			case "resume":
				if state == StatePaused || state == StatePausing {
					state = StateRunning
				}
			case "backup":
				if state != StateRunning {
					cmd.done <- fmt.Errorf("backup worker is %s", state)
					continue
				}
				backupWaiters = append(backupWaiters, cmd.done)
				if !inFlight {
					startSnapshot()
				}
			case "state":
				cmd.state <- state
			}
		}
	}
}

// doBackup writes one sqlite snapshot and one badger snapshot
func (w *Worker) doBackup() error {
	if err := os.MkdirAll(w.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	stamp := time.Now().Format("20060102-150405")

	if w.cfg.Store != nil {
		dest := filepath.Join(w.cfg.Dir, fmt.Sprintf("agent-%s.db", stamp))
		if err := w.cfg.Store.BackupTo(dest); err != nil {
			return err
		}
	}

	if w.cfg.Cache != nil {
		dest := filepath.Join(w.cfg.Dir, fmt.Sprintf("kv-%s.badger", stamp))
		f, err := os.Create(dest)
		if err != nil {
			return fmt.Errorf("create kv backup: %w", err)
		}
		version, err := w.cfg.Cache.Backup(f, w.sinceVersion)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
			return fmt.Errorf("kv backup: %w", err)
		}
		w.sinceVersion = version
	}

	w.prune()
	return nil
}

// prune removes old snapshots beyond the retention count
func (w *Worker) prune() {
	if w.cfg.Keep <= 0 {
		return
	}
	for _, pattern := range []string{"agent-*.db", "kv-*.badger"} {
		matches, err := filepath.Glob(filepath.Join(w.cfg.Dir, pattern))
		if err != nil || len(matches) <= w.cfg.Keep {
			continue
		}
		// Glob results are sorted; timestamped names sort oldest first
		for _, old := range matches[:len(matches)-w.cfg.Keep] {
			if err := os.Remove(old); err != nil {
				log.Printf("[WARN] prune failed for %s: %v", old, err)
			}
		}
	}
}
