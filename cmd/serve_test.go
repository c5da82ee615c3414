package cmd

import (
	"context"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "abc1234", "2026-08-29")

	defer setArgs("engram", "version")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(version): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "engram 1.2.3") {
		t.Errorf("expected version string: %q", out)
	}
	if !strings.Contains(out, "commit: abc1234") {
		t.Errorf("expected commit: %q", out)
	}
}

func TestStatusCommand(t *testing.T) {
	t.Setenv("ENGRAM_DATA_DIR", t.TempDir())

	store, _, err := openStore()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(context.Background(), "sess", "core", "identity", "hello", 100, ""); err != nil {
		t.Fatal(err)
	}
	store.Close()

	defer setArgs("engram", "status")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(status): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Paths: 1", "Contents: 1", "Pending Snapshots: 1", "Domains: core"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q: %q", want, out)
		}
	}
}
