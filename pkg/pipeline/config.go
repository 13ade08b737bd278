package pipeline

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/batchgraph/internal/util"
	"github.com/OFFIS-RIT/batchgraph/pkg/batching"
	"github.com/OFFIS-RIT/batchgraph/pkg/dfg"
)

type Config struct {
	// Gap is the pause that ends a batch.
	Gap              time.Duration
	ResourceEdgeMode dfg.ResourceEdgeMode
	// DeriveEventDF computes and stores event level relations from the events
	// instead of reading precomputed ones.
	DeriveEventDF       bool
	ConsolidateParallel int
	MaxRetries          int
	RetryBackoff        time.Duration
	WriteChunkSize      int
	LeaseTTL            time.Duration
}

func DefaultConfig() Config {
	return Config{
		Gap:                 batching.DefaultGap,
		ResourceEdgeMode:    dfg.ModeTransitions,
		ConsolidateParallel: 1,
		MaxRetries:          3,
		RetryBackoff:        200 * time.Millisecond,
		WriteChunkSize:      1000,
		LeaseTTL:            5 * time.Minute,
	}
}

func ConfigFromEnv() (Config, error) {
	def := DefaultConfig()
	mode, err := dfg.ParseResourceEdgeMode(util.GetEnvString("RESOURCE_EDGE_MODE", string(def.ResourceEdgeMode)))
	if err != nil {
		return Config{}, fmt.Errorf("invalid RESOURCE_EDGE_MODE: %w", err)
	}

	cfg := Config{
		Gap:                 util.GetEnvDuration("BATCH_GAP", def.Gap),
		ResourceEdgeMode:    mode,
		DeriveEventDF:       util.GetEnvBool("DERIVE_EVENT_DF", false),
		ConsolidateParallel: util.GetEnvInt("CONSOLIDATE_PARALLEL", def.ConsolidateParallel),
		MaxRetries:          util.GetEnvInt("REPO_MAX_RETRIES", def.MaxRetries),
		RetryBackoff:        util.GetEnvDuration("REPO_RETRY_BACKOFF", def.RetryBackoff),
		WriteChunkSize:      util.GetEnvInt("WRITE_CHUNK_SIZE", def.WriteChunkSize),
		LeaseTTL:            util.GetEnvDuration("LEASE_TTL", def.LeaseTTL),
	}
	return cfg.normalize(), nil
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.Gap <= 0 {
		c.Gap = def.Gap
	}
	if c.ResourceEdgeMode == "" {
		c.ResourceEdgeMode = def.ResourceEdgeMode
	}
	if c.ConsolidateParallel <= 0 {
		c.ConsolidateParallel = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.WriteChunkSize <= 0 {
		c.WriteChunkSize = def.WriteChunkSize
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = def.LeaseTTL
	}
	return c
}
