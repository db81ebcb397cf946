package metrics

import (
	"time"

	"github.com/cuemby/warden/pkg/backend"
)

// Collector polls pkg/backend on a tick and republishes its counters as
// gauges.
type Collector struct {
	backend *backend.Backend
	stopCh  chan struct{}
}

// NewCollector creates a metrics collector over backend.
func NewCollector(be *backend.Backend) *Collector {
	return &Collector{backend: be, stopCh: make(chan struct{})}
}

// Start begins collecting metrics every 15 seconds.
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
	entries, cacheStats, err := c.backend.Stats()
	if err != nil {
		return
	}
	EntriesTotal.Set(float64(entries))
	EntryCacheSize.Set(float64(cacheStats.EntryCount))
	IDLCacheSize.Set(float64(cacheStats.IDLCount))
}
