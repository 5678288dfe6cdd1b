package main

import (
	"os"
	"testing"
)

func TestCurrentEnvTabIDUnset(t *testing.T) {
	os.Unsetenv("TAB_ID")
	if _, ok := currentEnvTabID(); ok {
		t.Fatal("expected no tab id when TAB_ID is unset")
	}
}

func TestCurrentEnvTabIDParsesValid(t *testing.T) {
	t.Setenv("TAB_ID", "42")
	id, ok := currentEnvTabID()
	if !ok {
		t.Fatal("expected TAB_ID to parse")
	}
	if id != 42 {
		t.Fatalf("expected id 42, got %v", id)
	}
}

func TestCurrentEnvTabIDRejectsGarbage(t *testing.T) {
	t.Setenv("TAB_ID", "not-a-number")
	if _, ok := currentEnvTabID(); ok {
		t.Fatal("expected garbage TAB_ID to be rejected")
	}
}
