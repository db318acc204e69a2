package eventbus

import "testing"

func TestMatchesExact(t *testing.T) {
	if !Matches([]string{"health.degraded"}, TypeHealthDegraded) {
		t.Fatal("expected exact match")
	}
	if Matches([]string{"health.failing"}, TypeHealthDegraded) {
		t.Fatal("expected no match for distinct exact pattern")
	}
}

func TestMatchesPrefixWildcard(t *testing.T) {
	if !Matches([]string{"health.*"}, TypeHealthDegraded) {
		t.Fatal("expected health.* to match health.degraded")
	}
	if Matches([]string{"health.*"}, Type("healthy")) {
		t.Fatal("expected health.* to not match healthy (no dot boundary)")
	}
}

func TestMatchesFullWildcard(t *testing.T) {
	if !Matches([]string{"*"}, TypeWorkOrderSucceeded) {
		t.Fatal("expected * to match any event type")
	}
}

func TestMatchesAnyPatternInList(t *testing.T) {
	patterns := []string{"agent.*", "workorder.succeeded"}
	if !Matches(patterns, TypeWorkOrderSucceeded) {
		t.Fatal("expected match against second pattern in list")
	}
	if Matches(patterns, TypeWorkOrderFailed) {
		t.Fatal("expected no match for workorder.failed")
	}
}
