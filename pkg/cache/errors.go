package cache

import (
	"net/http"

	"github.com/tokmz/pushgate/pkg/errors"
)

// 预定义错误
var (
	ErrCacheNotFound      = errors.New("cache_not_found", "cache key not found", http.StatusNotFound)
	ErrCacheExpired       = errors.New("cache_expired", "cache key expired", http.StatusNotFound)
	ErrCacheConnection    = errors.New("cache_connection", "cache connection failed")
	ErrCacheSerialization = errors.New("cache_serialization", "cache serialization failed")
	ErrCacheInvalidConfig = errors.New("cache_invalid_config", "cache invalid config")
	ErrCacheOperation     = errors.New("cache_operation", "cache operation failed")
)
