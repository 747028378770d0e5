package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// NetworkConfig models network.json: the ledger parameters the service runs
// against.
type NetworkConfig struct {
	GatewayURL           string `json:"gatewayUrl"`
	BaseFee              string `json:"baseFee"`
	StartingReserve      string `json:"startingReserve"`
	ValidityWindowSecs   int    `json:"validityWindowSeconds"`
	RPCTimeoutMs         int    `json:"rpcTimeoutMs"`
	IdempotencyWindowSec int    `json:"idempotencyWindowSeconds"`
	Retry                struct {
		MaxAttempts      int `json:"maxAttempts"`
		InitialBackoffMs int `json:"initialBackoffMs"`
		MaxBackoffMs     int `json:"maxBackoffMs"`
	} `json:"retry"`
}

type ServiceConfig struct {
	HTTPPort             int
	HMACSecret           string
	HMACClockSkew        time.Duration
	IdempotencyWindow    time.Duration
	IdempotencyStorePath string
	PostgresDSN          string
	DLQPath              string
	// SignerMnemonic seeds the local keyring. Empty means the service runs
	// against the in-memory ledger with generated keys.
	SignerMnemonic string
}

type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// AppConfig ties together network parameters and service knobs.
type AppConfig struct {
	Network NetworkConfig
	Service ServiceConfig
	Retry   RetryConfig
}

const defaultNetworkPath = "network.json"

// Load aggregates configuration from disk and environment. A missing
// network.json falls back to defaults suitable for the in-memory ledger.
func Load() (*AppConfig, error) {
	networkPath := envOr("NETWORK_PATH", defaultNetworkPath)

	network, err := loadNetwork(networkPath)
	if err != nil {
		return nil, fmt.Errorf("load network config: %w", err)
	}
	if v := envOr("LEDGER_GATEWAY_URL", ""); v != "" {
		network.GatewayURL = v
	}
	if network.BaseFee == "" {
		network.BaseFee = "0.0000100"
	}
	if network.StartingReserve == "" {
		network.StartingReserve = "2.0000000"
	}
	if network.ValidityWindowSecs <= 0 {
		network.ValidityWindowSecs = 300
	}
	if network.IdempotencyWindowSec <= 0 {
		network.IdempotencyWindowSec = 300
	}
	if network.RPCTimeoutMs <= 0 {
		network.RPCTimeoutMs = 15000
	}

	service := ServiceConfig{
		HTTPPort:             envOrInt("API_HTTP_PORT", 3000),
		HMACSecret:           envOr("HMAC_SECRET", ""),
		HMACClockSkew:        time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		IdempotencyWindow:    time.Duration(network.IdempotencyWindowSec) * time.Second,
		IdempotencyStorePath: envOr("IDEMPOTENCY_STORE_PATH", filepath.Join(os.TempDir(), "rentrails-idem.json")),
		PostgresDSN:          envOr("POSTGRES_DSN", ""),
		DLQPath:              envOr("DLQ_PATH", ""),
		SignerMnemonic:       envOr("SIGNER_MNEMONIC", ""),
	}

	retry := RetryConfig{
		MaxAttempts:    network.Retry.MaxAttempts,
		InitialBackoff: time.Duration(network.Retry.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(network.Retry.MaxBackoffMs) * time.Millisecond,
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = 500 * time.Millisecond
	}

	return &AppConfig{
		Network: *network,
		Service: service,
		Retry:   retry,
	}, nil
}

func loadNetwork(path string) (*NetworkConfig, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &NetworkConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg NetworkConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
