// Package config loads the gateway's runtime configuration from the
// environment via os.Getenv, rather than introducing a file-based
// config layer.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable the gateway recognizes at boot.
type Config struct {
	MinIdleWorkers   int
	MaxTotalWorkers  int
	WorkerIdleTimeout time.Duration
	RecyclingInterval time.Duration
	ExecutionTimeout time.Duration
	ProxyMargin      time.Duration
	HealthTimeout    time.Duration
	ProbeInterval    time.Duration
	CreateRetries    int

	WorkerImage string
	NetworkName string
	CPUCores    float64
	MemoryMB    int64
	DiskMB      int64

	ManagedLabel string

	AuthToken     string
	AuthTokenFile string

	Port string
}

// ProxyTimeout is the sandbox's own execution budget plus a margin for
// network and scheduling overhead. The proxy does not read it: a
// forwarded execute call is bounded only by its request context.
func (c Config) ProxyTimeout() time.Duration {
	return c.ExecutionTimeout + c.ProxyMargin
}

// Default returns the gateway's out-of-the-box configuration.
func Default() Config {
	return Config{
		MinIdleWorkers:    5,
		MaxTotalWorkers:   30,
		WorkerIdleTimeout: time.Hour,
		RecyclingInterval: 5 * time.Minute,
		ExecutionTimeout:  10 * time.Second,
		ProxyMargin:       20 * time.Second,
		HealthTimeout:     30 * time.Second,
		ProbeInterval:     500 * time.Millisecond,
		CreateRetries:     3,
		WorkerImage:       "warden-sandbox:latest",
		NetworkName:       "warden-internal",
		CPUCores:          1.0,
		MemoryMB:          512,
		DiskMB:            1024,
		ManagedLabel:      "managed-by=code-interpreter-gateway",
		AuthTokenFile:     "./warden-token",
		Port:              "8080",
	}
}

// LoadFromEnv overlays WARDEN_* environment variables onto the
// defaults and resolves the auth token, generating and persisting one
// on first boot if none is configured.
func LoadFromEnv() (Config, error) {
	c := Default()

	getInt(&c.MinIdleWorkers, "WARDEN_MIN_IDLE_WORKERS")
	getInt(&c.MaxTotalWorkers, "WARDEN_MAX_TOTAL_WORKERS")
	getInt(&c.CreateRetries, "WARDEN_CREATE_RETRIES")
	getInt64(&c.MemoryMB, "WARDEN_MEMORY_MB")
	getInt64(&c.DiskMB, "WARDEN_DISK_MB")
	getFloat(&c.CPUCores, "WARDEN_CPU_CORES")
	getDuration(&c.WorkerIdleTimeout, "WARDEN_WORKER_IDLE_TIMEOUT")
	getDuration(&c.RecyclingInterval, "WARDEN_RECYCLING_INTERVAL")
	getDuration(&c.ExecutionTimeout, "WARDEN_EXECUTION_TIMEOUT")
	getDuration(&c.ProxyMargin, "WARDEN_PROXY_MARGIN")
	getDuration(&c.HealthTimeout, "WARDEN_HEALTH_TIMEOUT")
	getDuration(&c.ProbeInterval, "WARDEN_PROBE_INTERVAL")
	getString(&c.WorkerImage, "WARDEN_WORKER_IMAGE")
	getString(&c.NetworkName, "WARDEN_NETWORK_NAME")
	getString(&c.AuthToken, "WARDEN_AUTH_TOKEN")
	getString(&c.AuthTokenFile, "WARDEN_AUTH_TOKEN_FILE")
	getString(&c.Port, "PORT")

	if c.ProxyMargin <= 0 {
		c.ProxyMargin = 20 * time.Second
	}

	token, err := resolveToken(c.AuthToken, c.AuthTokenFile)
	if err != nil {
		return Config{}, fmt.Errorf("resolve auth token: %w", err)
	}
	c.AuthToken = token

	return c, nil
}

// resolveToken returns explicit first, else reads the token file, else
// generates a fresh one and persists it — the only state this process
// keeps across a restart.
func resolveToken(explicit, path string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if data, err := os.ReadFile(path); err == nil {
		tok := strings.TrimSpace(string(data))
		if tok != "" {
			return tok, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	tok := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(tok+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("persist auth token: %w", err)
	}
	return tok, nil
}

func getString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func getInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func getInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func getFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = n
		}
	}
}

func getDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
