// Package servicectl implements the engine lifecycle controller for the
// Covenantrix shell: locating the backend artifact, launching and supervising
// its process, probing it for readiness and driving the connection state
// machine the UI observes.
package servicectl

import "fmt"

// Endpoint is the fixed loopback endpoint the engine serves on. It is built
// once from configuration and never changes for the process lifetime.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NewEndpoint returns the endpoint value for the given host and port.
func NewEndpoint(host string, port int) Endpoint {
	return Endpoint{Host: host, Port: port}
}

// BaseURL returns the http base URL for the endpoint.
func (e Endpoint) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", e.Host, e.Port)
}

// HealthURL returns the liveness URL probed for readiness.
func (e Endpoint) HealthURL() string {
	return e.BaseURL() + "/health"
}

// Addr returns the host:port dial address.
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}
