package keys

import (
	"crypto/md5"
	"fmt"
	"strings"
)

const (
	// PfxLock prefixes the single-writer lock of an aggregate
	PfxLock = "lock"
	// PfxIdempotency prefixes stored responses of idempotent requests
	PfxIdempotency = "idempotency"
)

// MD5 hashes the data with md5
func MD5(data string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(data)))
}

// CustomKey is used to join the customized key by componets with specified delimiter
func CustomKey(delimiter string, components ...string) string {
	return strings.Join(components, delimiter)
}

// RedisKey is used to join the redis key by componets
func RedisKey(components ...string) string {
	return CustomKey(":", components...)
}

// LockKey is the lock key of an aggregate, kind is e.g. "bidcard"
func LockKey(kind, id string) string {
	return RedisKey(PfxLock, kind, id)
}

// IdempotencyKey hashes the caller supplied key together with its scope so
// the same header value from two actors never collides
func IdempotencyKey(actor, method, path, key string) string {
	return RedisKey(PfxIdempotency, MD5(CustomKey("|", actor, method, path, key)))
}

// GetPrefix extracts the first one or two components of a key for metric tags
func GetPrefix(key string) string {
	s := strings.Split(key, ":")
	if len(s) > 2 {
		return strings.Join(s[:2], ":")
	} else if len(s) > 1 {
		return s[0]
	}
	return ""
}
