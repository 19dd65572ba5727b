package util

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Per-remote receive counters
// ──────────────────────────────────────────────────────────────────────────────

// RemoteStats counts media received from one remote participant.
type RemoteStats struct {
	Packets atomic.Int64
	Bytes   atomic.Int64
	Tracks  atomic.Int64
}

func (s *RemoteStats) AddPacket(n int) {
	s.Packets.Add(1)
	s.Bytes.Add(int64(n))
}

// StatsTable maps remote participant ids to their counters. It is shared by
// the view sink (writers) and the reporter (reader).
type StatsTable struct {
	mu      sync.Mutex
	remotes map[string]*RemoteStats
}

// NewStatsTable creates an empty table.
func NewStatsTable() *StatsTable {
	return &StatsTable{remotes: make(map[string]*RemoteStats)}
}

// Get returns the counters for remoteID, creating them on first use.
func (t *StatsTable) Get(remoteID string) *RemoteStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.remotes[remoteID]
	if !ok {
		s = &RemoteStats{}
		t.remotes[remoteID] = s
	}
	return s
}

// Remove drops the counters for remoteID.
func (t *StatsTable) Remove(remoteID string) {
	t.mu.Lock()
	delete(t.remotes, remoteID)
	t.mu.Unlock()
}

// Snapshot returns the current byte counts keyed by remote id.
func (t *StatsTable) Snapshot() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int64, len(t.remotes))
	for id, s := range t.remotes {
		out[id] = s.Bytes.Load()
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs the receive rate of every
// remote once per interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, table *StatsTable, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := make(map[string]int64)
		for {
			select {
			case <-ticker.C:
				cur := table.Snapshot()
				ids := make([]string, 0, len(cur))
				for id := range cur {
					ids = append(ids, id)
				}
				sort.Strings(ids)

				for _, id := range ids {
					rate := float64(cur[id]-prev[id]) / interval.Seconds()
					pterm.DefaultLogger.Info(formatStats(id, rate, cur[id]))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a fixed-width (8 chars) string,
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB".
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one remote's receive line.
func formatStats(remoteID string, rate float64, total int64) string {
	return fmt.Sprintf("[%08x] In: %s/s | Total: %s",
		ShortID(remoteID),
		formatBytes(rate),
		formatBytes(float64(total)),
	)
}
