package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/ppiankov/medfuse/internal/model"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

const keyPrefix = "medfuse:v1:"

// CacheKey builds a namespaced key from its parts. The parts are hashed so
// keys stay short and safe as file names.
func CacheKey(namespace string, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return keyPrefix + namespace + ":" + hex.EncodeToString(hash[:])
}

// New builds the cache described by cfg: memory first, then Redis when an
// address is set, otherwise disk when a directory is set. Returns nil when
// caching is disabled.
func New(cfg model.CacheConfig) Cache {
	if !cfg.Enabled {
		return nil
	}

	layers := []Cache{NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)}
	switch {
	case cfg.RedisAddr != "":
		layers = append(layers, NewRedisCache(cfg.RedisAddr, cfg.DiskTTL))
		slog.Debug("cache layers configured", "layers", "memory,redis", "addr", cfg.RedisAddr)
	case cfg.Dir != "":
		layers = append(layers, NewDiskCache(cfg.Dir, cfg.DiskTTL))
		slog.Debug("cache layers configured", "layers", "memory,disk", "dir", cfg.Dir)
	}

	if len(layers) == 1 {
		return layers[0]
	}
	return NewLayeredCache(layers...)
}
