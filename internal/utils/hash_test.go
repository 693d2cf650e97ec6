package utils

import "testing"

func TestTenantLockKeyIsStablePerTenant(t *testing.T) {
	if TenantLockKey("t1") != TenantLockKey("t1") {
		t.Fatalf("expected the same key for the same tenant")
	}
	if TenantLockKey("t1") == TenantLockKey("t2") {
		t.Fatalf("expected different keys for different tenants")
	}
	if TenantLockKey("t1") != int64(Fingerprint("tenant:t1")) {
		t.Fatalf("expected key derived from the tenant fingerprint")
	}
}
