package driven

import "time"

// Tick outcomes reported to RefreshMetrics.
const (
	TickOK     = "ok"
	TickFailed = "failed"
	TickPruned = "pruned"
)

// RefreshMetrics records refresh scheduler activity.
type RefreshMetrics interface {
	// ObserveTick records one tick with its outcome and compute latency.
	ObserveTick(outcome string, latency time.Duration)

	// RetryScheduled records a backoff retry after a failed tick.
	RetryScheduled()

	// SetTracked reports the number of accounts currently scheduled.
	SetTracked(n int)
}
