package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

type fakeSource struct {
	endpoints, repliers, listeners, outstanding int
}

func (f fakeSource) Endpoints() int { return f.endpoints }
func (f fakeSource) BindingCounts() (repliers, listeners int) { return f.repliers, f.listeners }
func (f fakeSource) Outstanding() int { return f.outstanding }

func TestCollectorSetsGauges(t *testing.T) {
	c := NewCollector(fakeSource{endpoints: 4, repliers: 2, listeners: 7, outstanding: 3}, time.Hour)
	c.collect()

	assert.Equal(t, 4.0, gaugeValue(t, EndpointsOpen))
	assert.Equal(t, 2.0, gaugeValue(t, Bindings.WithLabelValues("replier")))
	assert.Equal(t, 7.0, gaugeValue(t, Bindings.WithLabelValues("listener")))
	assert.Equal(t, 3.0, gaugeValue(t, OutstandingRequests))
}

func TestCollectorDefaultInterval(t *testing.T) {
	c := NewCollector(fakeSource{}, 0)
	assert.Equal(t, DefaultCollectInterval, c.interval)

	c.Start()
	c.Stop()
}
