package metrics

import (
	"time"
)

// DefaultCollectInterval is how often the collector polls its source
const DefaultCollectInterval = 15 * time.Second

// Source exposes the broker state the collector turns into gauges
type Source interface {
	Endpoints() int
	BindingCounts() (repliers, listeners int)
	Outstanding() int
}

// Collector collects metrics from the broker
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(src Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{
		source:   src,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	EndpointsOpen.Set(float64(c.source.Endpoints()))

	repliers, listeners := c.source.BindingCounts()
	Bindings.WithLabelValues("replier").Set(float64(repliers))
	Bindings.WithLabelValues("listener").Set(float64(listeners))

	OutstandingRequests.Set(float64(c.source.Outstanding()))
}
