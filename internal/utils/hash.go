package utils

import "hash/fnv"

// Fingerprint is a stable 64-bit FNV-1a hash of s.
func Fingerprint(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// TenantLockKey is the Postgres advisory lock key that serializes routing
// decisions for one tenant across processes.
func TenantLockKey(tenantID string) int64 {
	return int64(Fingerprint("tenant:" + tenantID))
}
