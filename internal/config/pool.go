package config

import "time"

// PoolConfig bounds the durable backend's connection pool.
type PoolConfig struct {
	MinConnections    int
	MaxConnections    int
	ConnectionTimeout time.Duration

	// Adaptive scaling
	ScaleUpThreshold   float64 // fraction of pool in-use that triggers growth
	ScaleDownThreshold float64 // fraction of pool idle that triggers shrink
	ScaleCooldown      time.Duration
	ScaleIncrement     int

	// Prepared statement cache
	MaxPreparedPerConnection int

	// Keep-alive
	EnableKeepAlive  bool
	KeepAliveInterval time.Duration
	StaleThreshold    time.Duration
}

// DefaultPoolConfig mirrors memory-storage-turso's pool defaults
// (original_source/memory-storage-turso/src/pool).
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		MinConnections:           2,
		MaxConnections:           10,
		ConnectionTimeout:        10 * time.Second,
		ScaleUpThreshold:         0.8,
		ScaleDownThreshold:       0.2,
		ScaleCooldown:            30 * time.Second,
		ScaleIncrement:           2,
		MaxPreparedPerConnection: 64,
		EnableKeepAlive:          true,
		KeepAliveInterval:        30 * time.Second,
		StaleThreshold:           5 * time.Minute,
	}
}

// RetrievalConfig tunes the hierarchical retriever and MMR diversity pass.
type RetrievalConfig struct {
	MaxClustersToSearch  int
	TemporalBiasWeight   float64
	MMRLambda            float64
	QueryCacheMaxSize    int
	QueryCacheTTL        time.Duration
}

// DefaultRetrievalConfig mirrors spec.md §4.7's documented defaults.
func DefaultRetrievalConfig() *RetrievalConfig {
	return &RetrievalConfig{
		MaxClustersToSearch: 5,
		TemporalBiasWeight:  0.2,
		MMRLambda:           0.7,
		QueryCacheMaxSize:   500,
		QueryCacheTTL:       10 * time.Minute,
	}
}

// DBSCANConfig configures the anomaly detector.
type DBSCANConfig struct {
	Eps             float64
	MinSamples      int
	AdaptiveEps     bool
	MinClusterSize  int
	FeatureWeights  DBSCANFeatureWeights
}

// DBSCANFeatureWeights weights each engineered feature dimension.
type DBSCANFeatureWeights struct {
	Context   float64
	StepCount float64
	Duration  float64
	Outcome   float64
	TaskType  float64
}

// DefaultDBSCANConfig mirrors spec.md §4.5's default shape.
func DefaultDBSCANConfig() *DBSCANConfig {
	return &DBSCANConfig{
		Eps:            0.5,
		MinSamples:     3,
		AdaptiveEps:    true,
		MinClusterSize: 2,
		FeatureWeights: DBSCANFeatureWeights{
			Context:   1.0,
			StepCount: 0.8,
			Duration:  0.8,
			Outcome:   1.2,
			TaskType:  1.0,
		},
	}
}

// PersistenceConfig selects and validates the durable backend's
// connection string and cache sizes.
type PersistenceConfig struct {
	DurableURL       string
	AuthToken        string
	EmbeddedCachePath string
	LRUMaxSize       int
	LRUDefaultTTL    time.Duration
	LRUCleanupInterval time.Duration
	LRUBackgroundCleanup bool
	CompressionThresholdBytes int
}

// DefaultPersistenceConfig uses an in-memory durable store and a
// temp-file embedded cache, suitable for tests and local runs.
func DefaultPersistenceConfig() *PersistenceConfig {
	return &PersistenceConfig{
		DurableURL:                ":memory:",
		AuthToken:                 "",
		EmbeddedCachePath:         "./data/cache.bin",
		LRUMaxSize:                1000,
		LRUDefaultTTL:             time.Hour,
		LRUCleanupInterval:        time.Minute,
		LRUBackgroundCleanup:      true,
		CompressionThresholdBytes: 1024,
	}
}
