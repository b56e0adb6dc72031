package main

import "testing"

func TestEnvOr(t *testing.T) {
	t.Setenv("STREAMD_TEST_KEY", "set")
	if got := envOr("STREAMD_TEST_KEY", "def"); got != "set" {
		t.Fatalf("envOr=%q", got)
	}
	if got := envOr("STREAMD_TEST_KEY_MISSING", "def"); got != "def" {
		t.Fatalf("envOr=%q", got)
	}
}
