// Package config loads settings for the cache, the batch scheduler,
// observability and health checks from a YAML file and the environment.
//
// Environment variables take precedence over the file. They use the
// MODELOPS_ prefix and the setting path with dots replaced by underscores:
//
//	MODELOPS_CACHE_MAX_ITEMS=1000
//	MODELOPS_BATCH_BATCH_TIME_WINDOW=50ms
//	MODELOPS_OBSERVE_LOGGING_LEVEL=debug
//
// Durations are written as Go duration strings ("200ms", "24h").
package config
