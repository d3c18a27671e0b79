package util

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
)

// Counter is one named monotonic value in a stats snapshot.
type Counter struct {
	Name  string
	Value uint64
}

// StartStatsReporter launches a goroutine that logs how much each counter
// grew over the last interval. Quiet intervals are not logged. It stops when
// ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration, snapshot func() []Counter) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := make(map[string]uint64)
		for {
			select {
			case <-ticker.C:
				cur := snapshot()
				if line, changed := formatDeltas(cur, prev); changed {
					pterm.DefaultLogger.Info(line)
				}
				for _, c := range cur {
					prev[c.Name] = c.Value
				}

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatDeltas renders "name: +delta" pairs for every counter, and reports
// whether any of them moved since prev.
func formatDeltas(cur []Counter, prev map[string]uint64) (string, bool) {
	parts := make([]string, 0, len(cur))
	changed := false
	for _, c := range cur {
		d := c.Value - prev[c.Name]
		if d > 0 {
			changed = true
		}
		parts = append(parts, fmt.Sprintf("%s: +%d", c.Name, d))
	}
	return strings.Join(parts, " | "), changed
}
