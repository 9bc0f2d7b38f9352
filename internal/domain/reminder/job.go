// Package reminder runs the periodic reminder sweeps: a daily digest of
// today's appointments and a frequent poll for due medicine reminders.
package reminder

import (
	"context"
	"time"

	"github.com/medbook/medbook/internal/platform/metrics"
)

// loop ticks once immediately and then every interval until ctx is done.
func loop(ctx context.Context, interval time.Duration, tick func(ctx context.Context, now time.Time)) {
	tick(ctx, time.Now())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tick(ctx, now)
		}
	}
}

func observe(job string, start time.Time, outcome string) {
	metrics.ReminderRuns.WithLabelValues(job, outcome).Inc()
	if outcome != "skipped" {
		metrics.ReminderDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
	}
}
