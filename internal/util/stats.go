package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/media counter.
var Stats = &stats{}

type stats struct {
	FramesIn      atomic.Int64 // control frames parsed from the signaling stream
	FramesOut     atomic.Int64 // control frames written to the signaling stream
	FramesDropped atomic.Int64 // malformed, unknown or oversized frames
	ConnsRefused  atomic.Int64 // inbound signaling connections refused while busy
	BytesSent     atomic.Int64 // media bytes written to local tracks
	BytesRecv     atomic.Int64 // media bytes read from remote tracks
}

func (s *stats) AddFrameIn()   { s.FramesIn.Add(1) }
func (s *stats) AddFrameOut()  { s.FramesOut.Add(1) }
func (s *stats) AddDropped()   { s.FramesDropped.Add(1) }
func (s *stats) AddRefused()   { s.ConnsRefused.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// reportInterval is how often StartStatsReporter samples the counters.
const reportInterval = 10 * time.Second

// StartStatsReporter launches a goroutine that logs media throughput and
// signaling activity every 10 seconds. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()

		var prevSent, prevRecv, prevFrames, prevDropped int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				frames := Stats.FramesIn.Load() + Stats.FramesOut.Load()
				dropped := Stats.FramesDropped.Load()

				outS := float64(sent-prevSent) / reportInterval.Seconds()
				inS := float64(recv-prevRecv) / reportInterval.Seconds()
				nFrames := frames - prevFrames
				nDropped := dropped - prevDropped

				if nFrames > 0 || nDropped > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, nFrames, nDropped))
				}

				prevSent = sent
				prevRecv = recv
				prevFrames = frames
				prevDropped = dropped

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, frames, dropped int64) string {
	return fmt.Sprintf("Media In: %s/s | Out: %s/s | Signaling: %2d frames, %2d dropped",
		formatBytes(inS),
		formatBytes(outS),
		frames,
		dropped,
	)
}
