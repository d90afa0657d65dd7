package config

import (
	"strings"
	"testing"
)

func TestDiffSerialized(t *testing.T) {
	oldData := []byte("window:\n  seconds: 5\n")
	newData := []byte("window:\n  seconds: 900\n")

	diff := DiffSerialized(oldData, newData)
	if diff == "" {
		t.Fatalf("expected diff, got empty string")
	}
	if !strings.Contains(diff, "seconds: 5") {
		t.Fatalf("expected diff to contain original line, got %s", diff)
	}
	if !strings.Contains(diff, "seconds: 900") {
		t.Fatalf("expected diff to contain updated line, got %s", diff)
	}
}

func TestDiffSerializedIgnoresTrailingWhitespace(t *testing.T) {
	if diff := DiffSerialized([]byte("a: 1\r\nb: 2\n"), []byte("a: 1  \nb: 2")); diff != "" {
		t.Fatalf("expected no diff, got %s", diff)
	}
}
