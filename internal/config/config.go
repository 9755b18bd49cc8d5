// Package config loads the chunking core's tunables from environment
// variables, mirroring the defaults of the original chunking/config.py
// module this system was distilled from.
package config

import (
	"os"
	"strconv"

	"github.com/decentralis-net/decentralis-core/internal/errs"
)

// Config holds every environment-tunable parameter used by the codec,
// chunking manager, replication manager, and tracker client.
type Config struct {
	// Reed-Solomon / LRC
	RSK          int
	RSM          int
	LRCGroupSize int

	// Chunk sizing
	ChunkSizeBytes int64

	// Retention
	RetentionDays int

	// Peer selection / replication
	MinPeerReliability           float64
	ReplicationRetryDelaySeconds int
	MaxReplicationRetries        int
	PeerLossThresholdIntervals   int

	// Network
	RPCTimeoutSeconds        int
	KeepaliveIntervalSeconds int

	// KDF
	PBKDF2Iterations int

	Debug bool
}

// Default returns the configuration's default values, unmodified by the
// environment — used as the base before applying overrides.
func Default() Config {
	return Config{
		RSK:                          6,
		RSM:                          4,
		LRCGroupSize:                 2,
		ChunkSizeBytes:               10 * 1024 * 1024,
		RetentionDays:                30,
		MinPeerReliability:           0.5,
		ReplicationRetryDelaySeconds: 60,
		MaxReplicationRetries:        3,
		PeerLossThresholdIntervals:   3,
		RPCTimeoutSeconds:            30,
		KeepaliveIntervalSeconds:     15,
		PBKDF2Iterations:             200_000,
		Debug:                        false,
	}
}

// Load returns the Default configuration overridden by any
// DECENTRALIS_* environment variables that are set.
func Load() Config {
	cfg := Default()

	cfg.RSK = envInt("DECENTRALIS_RS_K", cfg.RSK)
	cfg.RSM = envInt("DECENTRALIS_RS_M", cfg.RSM)
	if mb := envInt("DECENTRALIS_CHUNK_SIZE_MB", -1); mb > 0 {
		cfg.ChunkSizeBytes = int64(mb) * 1024 * 1024
	}
	cfg.RetentionDays = envInt("DECENTRALIS_RETENTION_DAYS", cfg.RetentionDays)
	cfg.Debug = envBool("DECENTRALIS_DEBUG", cfg.Debug)

	return cfg
}

// Validate enforces the GF(2^8) limit and the minimum shard counts spec.md
// §3 requires: k >= 1, m >= 0, k+m <= 255.
func (c Config) Validate() error {
	if c.RSK < 1 {
		return errs.New(errs.Configuration, "config.Validate", "k must be >= 1")
	}
	if c.RSM < 0 {
		return errs.New(errs.Configuration, "config.Validate", "m must be >= 0")
	}
	if c.RSK+c.RSM > 255 {
		return errs.New(errs.Configuration, "config.Validate", "k+m must not exceed 255 (GF(2^8) limit)")
	}
	return nil
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
