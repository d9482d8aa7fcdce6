package domain

import "testing"

func TestCooldownRecordFailureExponentialBackoff(t *testing.T) {
	var c cooldownCell
	base := int64(30_000)
	now := int64(1_000_000)

	want := []int64{30_000, 60_000, 120_000}
	for i, w := range want {
		until, failures := c.RecordFailure(now, base, DefaultMaxBackoffPow)
		if failures != int32(i+1) {
			t.Fatalf("failure %d: expected consecutive_failures %d, got %d", i, i+1, failures)
		}
		if got := until - now; got != w {
			t.Fatalf("failure %d: expected cooldown delta %d, got %d", i, w, got)
		}
	}
}

func TestCooldownRecordFailureCapsAtMaxBackoffPow(t *testing.T) {
	var c cooldownCell
	base := int64(5_000)
	now := int64(0)
	maxPow := 2 // caps multiplier at 4x

	for i := 0; i < 5; i++ {
		c.RecordFailure(now, base, maxPow)
	}
	until, failures := c.Load()
	if failures != 5 {
		t.Fatalf("expected 5 consecutive failures, got %d", failures)
	}
	if until != base*4 {
		t.Fatalf("expected capped cooldown of %d, got %d", base*4, until)
	}
}

func TestCooldownRecordSuccessResets(t *testing.T) {
	var c cooldownCell
	c.RecordFailure(0, 1000, DefaultMaxBackoffPow)
	c.RecordFailure(0, 1000, DefaultMaxBackoffPow)

	c.RecordSuccess()

	until, failures := c.Load()
	if until != 0 || failures != 0 {
		t.Fatalf("expected reset cooldown, got until=%d failures=%d", until, failures)
	}
	if !c.Available(0) {
		t.Fatal("expected cooldown to be available immediately after reset")
	}
}

func TestCooldownAvailable(t *testing.T) {
	var c cooldownCell
	c.RecordFailure(1_000, 5_000, DefaultMaxBackoffPow)

	if c.Available(1_000) {
		t.Fatal("expected unavailable immediately after failure")
	}
	if !c.Available(6_000) {
		t.Fatal("expected available once cooldown deadline passes")
	}
}
