package config

import "time"

// CacheConfig controls the availability response cache. With Enabled false
// or no Redis client every request reaches the allocator.
type CacheConfig struct {
	Enabled      bool
	TTL          time.Duration
	Prefix       string
	MaxBodyBytes int
	// MaxQuantity bounds the qty values cached per section and date, and
	// so the keys an invalidation has to delete.
	MaxQuantity int
}

// LoadCacheConfig builds the availability cache settings. Seat counts move
// quickly during an on-sale, so the default TTL is two seconds.
func LoadCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		TTL:          envDur("CACHE_TTL", 2*time.Second),
		Prefix:       envStr("CACHE_PREFIX", "avail"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 16<<10),
		MaxQuantity:  envInt("CACHE_MAX_QUANTITY", 20),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Second
	}
	if cfg.MaxQuantity < 1 {
		cfg.MaxQuantity = 1
	}
	return cfg
}
