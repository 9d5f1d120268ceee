/*
Package api serves kbusd's admin HTTP endpoints: health, readiness,
liveness, Prometheus metrics, and JSON views of the broker's bindings and
counters.

# Endpoints

	GET /health     overall health, 503 only when unhealthy
	GET /ready      200 once every critical component is healthy
	GET /live       200 while the process can answer HTTP
	GET /metrics    Prometheus exposition
	GET /bindings   every binding in bind order
	GET /stats      endpoint, binding and outstanding request counts

Every endpoint except /metrics answers other methods with 405.

# Usage

	hs := api.NewHealthServer(b)
	go func() {
		if err := hs.Start("127.0.0.1:9090"); err != nil {
			errCh <- err
		}
	}()
	defer hs.Shutdown(ctx)

Start and Serve return nil after Shutdown. GetHandler exposes the mux for
tests and for embedding under another server.

The server reads through the Introspector interface, which *broker.Broker
implements, and never changes broker state. Health and readiness come from
the component registry in pkg/metrics.
*/
package api
