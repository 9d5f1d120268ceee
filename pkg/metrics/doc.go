/*
Package metrics exposes kbus Prometheus metrics and component health.

Metrics are registered with the default registry at init and served by
Handler on the admin HTTP server's /metrics route.

Counters are updated inline by the broker and bridges:

	kbus_messages_sent_total{kind}       messages accepted by Send
	kbus_copies_delivered_total          copies enqueued on endpoint queues
	kbus_copies_dropped_total{reason}    copies not delivered
	kbus_synthetic_messages_total{event} broker-generated statuses
	kbus_send_duration_seconds           routing and enqueue time
	kbus_bridge_frames_total{direction}  frames over bridge links

Gauges describing broker state (open endpoints, bindings by role,
outstanding requests) are polled by a Collector rather than maintained on
every change:

	c := metrics.NewCollector(broker, metrics.DefaultCollectInterval)
	c.Start()
	defer c.Stop()

# Health

Components register themselves with RegisterComponent and update their
state with UpdateComponent. HealthHandler reports every component,
ReadyHandler fails while any critical component is unhealthy, and
LivenessHandler only reports that the process is serving. kbusd marks the
broker critical, and the bridge too when one is configured.
*/
package metrics
