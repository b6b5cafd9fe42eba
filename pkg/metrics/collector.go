package metrics

import (
	"time"

	"github.com/cuemby/modelsteward/pkg/types"
)

// Snapshotter is the narrow read-only view a Collector polls. The Model
// Steward's catalog satisfies this without metrics needing to import it
// back.
type Snapshotter interface {
	Summary() types.ModelSummary
}

// Collector periodically samples catalog and concurrency state into the
// gauges that counters alone cannot express (current entry counts, held
// permits, EWMA throughput).
type Collector struct {
	source Snapshotter
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over source.
func NewCollector(source Snapshotter) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic sampling.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	summary := c.source.Summary()

	counts := make(map[types.ModelStatus]int)
	for _, entry := range summary.Items {
		counts[entry.Status]++
	}
	for _, status := range []types.ModelStatus{
		types.ModelStatusAvailable,
		types.ModelStatusQueued,
		types.ModelStatusDownloading,
		types.ModelStatusCoalesced,
		types.ModelStatusCanceled,
		types.ModelStatusError,
	} {
		CatalogEntriesTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}

	ConcurrencyConfigured.Set(float64(summary.Concurrency.ConfiguredMax))
	ConcurrencyHeld.Set(float64(summary.Concurrency.HeldPermits))
	ThroughputEWMAMbps.Set(summary.Metrics.EWMAMbps)
}
