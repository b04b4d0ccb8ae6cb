package config

import "time"

// Config holds the service's fixed settings. Nothing is read from the
// environment, files or flags.
type Config struct {
	Server  ServerConfig
	Tracing TracingConfig
	Logging LogConfig
}

// ServerConfig holds HTTP listener and lifecycle settings.
type ServerConfig struct {
	Addr          string
	PollInterval  time.Duration
	ShutdownGrace time.Duration
}

// TracingConfig holds span export settings and the service identity.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	TracerName     string
	CollectorURL   string
}

// LogConfig holds log export settings.
type LogConfig struct {
	ServiceName  string
	CollectorURL string
	Console      bool
}

const (
	ServiceName    = "recommendations"
	ServiceVersion = "1.0.0"

	collectorBaseURL = "http://odigos-gateway.odigos-system:4318"
)

// Default returns the configuration the service runs with.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          "0.0.0.0:8081",
			PollInterval:  100 * time.Millisecond,
			ShutdownGrace: 2 * time.Second,
		},
		Tracing: TracingConfig{
			ServiceName:    ServiceName,
			ServiceVersion: ServiceVersion,
			TracerName:     "recommendations/middleware",
			CollectorURL:   collectorBaseURL + "/v1/traces",
		},
		Logging: LogConfig{
			ServiceName:  ServiceName,
			CollectorURL: collectorBaseURL + "/v1/logs",
		},
	}
}
