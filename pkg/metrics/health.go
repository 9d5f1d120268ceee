package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// State is the overall status reported by the health endpoints
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded" // a non-critical component is down
	StateUnhealthy State = "unhealthy"
	StateReady     State = "ready"
	StateNotReady  State = "not_ready"
)

// ComponentStatus is one component as reported over HTTP
type ComponentStatus struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical,omitempty"`
	Message  string `json:"message,omitempty"`
	// Since is when Healthy last changed
	Since time.Time `json:"since"`
}

// HealthStatus is the body of /health and /ready
type HealthStatus struct {
	Status     State                      `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentStatus `json:"components,omitempty"`
	Message    string                     `json:"message,omitempty"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
}

type registry struct {
	mu         sync.RWMutex
	components map[string]ComponentStatus
	critical   map[string]bool
	startTime  time.Time
	version    string
}

var healthChecker = newHealthChecker()

func newHealthChecker() *registry {
	return &registry{
		components: make(map[string]ComponentStatus),
		critical:   map[string]bool{"broker": true},
		startTime:  time.Now(),
	}
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// SetCriticalComponents replaces the components readiness waits for.
// The broker is critical by default; kbusd adds "bridge" when one is
// configured.
func SetCriticalComponents(names ...string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.critical = make(map[string]bool, len(names))
	for _, name := range names {
		healthChecker.critical[name] = true
	}
}

// RegisterComponent records the state of a component, adding it if new
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	now := time.Now()
	prev, ok := healthChecker.components[name]
	since := now
	if ok && prev.Healthy == healthy {
		since = prev.Since
	}
	healthChecker.components[name] = ComponentStatus{
		Healthy: healthy,
		Message: message,
		Since:   since,
	}
}

// UpdateComponent is RegisterComponent for a component already known
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

func (r *registry) snapshot() map[string]ComponentStatus {
	out := make(map[string]ComponentStatus, len(r.components))
	for name, c := range r.components {
		c.Critical = r.critical[name]
		out[name] = c
	}
	return out
}

func (r *registry) status(s State, message string, components map[string]ComponentStatus) HealthStatus {
	return HealthStatus{
		Status:     s,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    r.version,
		Uptime:     time.Since(r.startTime).Round(time.Second).String(),
	}
}

// GetHealth reports unhealthy when a critical component is down and
// degraded when only non-critical ones are
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	components := healthChecker.snapshot()
	state := StateHealthy
	for _, c := range components {
		switch {
		case c.Healthy:
		case c.Critical:
			state = StateUnhealthy
		case state == StateHealthy:
			state = StateDegraded
		}
	}
	return healthChecker.status(state, "", components)
}

// GetReadiness reports ready once every critical component is registered
// and healthy
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	names := make([]string, 0, len(healthChecker.critical))
	for name := range healthChecker.critical {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]ComponentStatus, len(names))
	state, message := StateReady, ""
	for _, name := range names {
		c, ok := healthChecker.components[name]
		c.Critical = true
		components[name] = c
		if ok && c.Healthy {
			continue
		}
		if state == StateReady {
			state = StateNotReady
			message = "waiting for " + name
		}
	}
	return healthChecker.status(state, message, components)
}

func writeStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// HealthHandler serves /health. Degraded still answers 200.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status == StateUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, health)
	}
}

// ReadyHandler serves /ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		code := http.StatusOK
		if readiness.Status != StateReady {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, readiness)
	}
}

// LivenessHandler answers 200 while the process can serve HTTP at all
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthChecker.mu.RLock()
		uptime := time.Since(healthChecker.startTime).Round(time.Second)
		healthChecker.mu.RUnlock()

		writeStatus(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": uptime.String(),
		})
	}
}
