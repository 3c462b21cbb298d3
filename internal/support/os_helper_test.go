package support

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("PRIVACYSPACE_TEST_ENV", "value")
	if got := GetEnv("PRIVACYSPACE_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("GetEnv returned %s, want value", got)
	}

	if got := GetEnv("PRIVACYSPACE_TEST_ENV_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv returned %s, want fallback", got)
	}
}

func TestGetEnvTyped(t *testing.T) {
	t.Setenv("PRIVACYSPACE_TEST_INT", " 42 ")
	t.Setenv("PRIVACYSPACE_TEST_BAD_INT", "many")
	t.Setenv("PRIVACYSPACE_TEST_BOOL", "true")
	t.Setenv("PRIVACYSPACE_TEST_DURATION", "90s")
	t.Setenv("PRIVACYSPACE_TEST_BAD_DURATION", "-5s")

	if got := GetEnvInt("PRIVACYSPACE_TEST_INT", 1); got != 42 {
		t.Fatalf("GetEnvInt returned %d, want 42", got)
	}
	if got := GetEnvInt("PRIVACYSPACE_TEST_BAD_INT", 7); got != 7 {
		t.Fatalf("GetEnvInt returned %d, want fallback 7", got)
	}
	if !GetEnvBool("PRIVACYSPACE_TEST_BOOL", false) {
		t.Fatal("GetEnvBool returned false, want true")
	}
	if got := GetEnvDuration("PRIVACYSPACE_TEST_DURATION", time.Second); got != 90*time.Second {
		t.Fatalf("GetEnvDuration returned %s, want 90s", got)
	}
	if got := GetEnvDuration("PRIVACYSPACE_TEST_BAD_DURATION", time.Second); got != time.Second {
		t.Fatalf("GetEnvDuration returned %s, want fallback", got)
	}
}

func TestShardIndex(t *testing.T) {
	for _, key := range []string{"domain:a.example", "ip:203.0.113.9", ""} {
		first := ShardIndex(key, 64)
		if first < 0 || first >= 64 {
			t.Fatalf("ShardIndex(%q) = %d, out of range", key, first)
		}
		if ShardIndex(key, 64) != first {
			t.Fatalf("ShardIndex(%q) not deterministic", key)
		}
	}
	if ShardIndex("anything", 1) != 0 {
		t.Fatal("single shard must always be 0")
	}
}

func TestHashIdentifierDeterministic(t *testing.T) {
	if HashIdentifier("input") != HashIdentifier("input") {
		t.Fatal("HashIdentifier returned different values for the same input")
	}
	if HashIdentifier("input") == HashIdentifier("different") {
		t.Fatal("HashIdentifier returned same value for different inputs")
	}
	if len(HashIdentifier("x")) != 64 {
		t.Fatal("HashIdentifier should return hex sha256")
	}
}
