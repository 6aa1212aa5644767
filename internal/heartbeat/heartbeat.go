// Package heartbeat lets other cadre commands tell whether a serving process
// is alive and what its worker pool is doing.
package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dohr-michael/cadre/internal/actors"
)

// DefaultInterval is how often Beat refreshes the file.
const DefaultInterval = 15 * time.Second

// Status is the liveness of the serving process.
type Status string

const (
	// StatusAlive means the file is fresh.
	StatusAlive Status = "alive"
	// StatusStale means the file is old but its process still exists.
	StatusStale Status = "stale"
	// StatusDead means no file, or a file left behind by a gone process.
	StatusDead Status = "dead"
)

// Heartbeat is the content of the heartbeat file.
type Heartbeat struct {
	PID       int             `json:"pid"`
	StartedAt time.Time       `json:"started_at"`
	Timestamp time.Time       `json:"timestamp"`
	Pool      actors.Snapshot `json:"pool"`
}

// Uptime is how long the process had been serving at the last beat.
func (hb *Heartbeat) Uptime() time.Duration {
	return hb.Timestamp.Sub(hb.StartedAt).Truncate(time.Second)
}

// Beat writes the heartbeat at path right away and every interval until ctx
// ends, then removes the file. sample, if set, is called on every beat.
func Beat(ctx context.Context, path string, interval time.Duration, sample func() actors.Snapshot) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	hb := Heartbeat{PID: os.Getpid(), StartedAt: time.Now()}

	tick := time.NewTicker(interval)
	defer tick.Stop()
	defer os.Remove(path)

	for {
		hb.Timestamp = time.Now()
		if sample != nil {
			hb.Pool = sample()
		}
		if err := store(path, &hb); err != nil {
			slog.Warn("heartbeat", "path", path, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func store(path string, hb *Heartbeat) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Check reads the heartbeat at path. A beat older than maxAge is stale while
// its process lives and dead once it is gone.
func Check(path string, maxAge time.Duration) (Status, *Heartbeat, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return StatusDead, nil, nil
	}
	if err != nil {
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	hb := new(Heartbeat)
	if err := json.Unmarshal(data, hb); err != nil {
		return StatusDead, nil, fmt.Errorf("decode heartbeat %s: %w", path, err)
	}
	switch {
	case time.Since(hb.Timestamp) <= maxAge:
		return StatusAlive, hb, nil
	case processExists(hb.PID):
		return StatusStale, hb, nil
	default:
		return StatusDead, hb, nil
	}
}

// processExists probes pid with signal 0.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
