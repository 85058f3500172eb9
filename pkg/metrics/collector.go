package metrics

import "time"

// StatsProvider is implemented by pkg/ledger.Ledger; kept as a narrow
// interface here so pkg/metrics never imports pkg/ledger (whose
// dependencies pkg/operation and pkg/store import pkg/metrics).
type StatsProvider interface {
	// OperationCountsByStatus returns the number of locally-known
	// operations grouped by their current status string.
	OperationCountsByStatus() map[string]int
}

// Collector periodically polls a StatsProvider and republishes the result
// as OperationsTotal gauge values.
type Collector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a Collector that polls provider every interval. A
// non-positive interval defaults to 15s.
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{provider: provider, interval: interval, stopCh: make(chan struct{})}
}

// Start begins collecting in a background goroutine.
func (c *Collector) Start() {
	go func() {
		c.collect()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := c.provider.OperationCountsByStatus()
	for _, status := range []string{"running", "cleanup", "completed", "failed"} {
		OperationsTotal.WithLabelValues(status).Set(float64(counts[status]))
	}
}
