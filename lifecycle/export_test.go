package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsForTest exposes the controller collectors.
func (c *Controller) MetricsForTest() (
	spawned, stopped, failures prometheus.Counter,
	live prometheus.Gauge,
) {
	return c.metrics.spawned,
		c.metrics.stopped,
		c.metrics.failures,
		c.metrics.live
}
