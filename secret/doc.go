// Package secret resolves secret references in configuration values, such
// as the password of the Redis server holding cache snapshots.
//
// A value is first expanded strictly against the environment (see
// ExpandEnvStrict). Any "secretref:<provider>:<ref>" in the result is then
// replaced by what the named Provider returns:
//
//	secretref:env:REDIS_PASSWORD
//	secretref:file:/run/secrets/redis-password
//	redis://:secretref:env:REDIS_PASSWORD@cache:6379/0
package secret
