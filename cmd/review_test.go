package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/mnemohq/engram/internal/memory"
)

// seedSession writes a create and an update under one session in the test
// data directory.
func seedSession(t *testing.T, session string) {
	t.Helper()

	store, _, err := openStore()
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.Create(ctx, session, "core", "identity", "v1", 100, ""); err != nil {
		t.Fatalf("seed create: %v", err)
	}
	if _, err := store.Update(ctx, session, "core://identity", memory.UpdateRequest{Mode: memory.ModeAppend, New: "v2"}); err != nil {
		t.Fatalf("seed update: %v", err)
	}
}

func TestReviewSessions(t *testing.T) {
	t.Setenv("ENGRAM_DATA_DIR", t.TempDir())
	seedSession(t, "agent_run_1")

	defer setArgs("engram", "review", "sessions")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(review sessions): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "agent_run_1") {
		t.Errorf("expected session listed: %q", out)
	}
	if !strings.Contains(out, "2 pending") {
		t.Errorf("expected pending count: %q", out)
	}
}

func TestReviewSessions_Empty(t *testing.T) {
	t.Setenv("ENGRAM_DATA_DIR", t.TempDir())

	defer setArgs("engram", "review", "sessions")()
	out, _ := captureStdout(func() { Execute() })
	if !strings.Contains(out, "No pending sessions") {
		t.Errorf("expected empty notice: %q", out)
	}
}

func TestReviewDiff(t *testing.T) {
	t.Setenv("ENGRAM_DATA_DIR", t.TempDir())
	seedSession(t, "agent_run_1")

	defer setArgs("engram", "review", "diff", "agent_run_1", "core://identity")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(review diff): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "core://identity") {
		t.Errorf("diff should name the resource: %q", out)
	}
	if !strings.Contains(out, "rollback = delete") {
		t.Errorf("earliest snapshot is the create; expected its summary: %q", out)
	}
}

func TestReviewApproveSession(t *testing.T) {
	t.Setenv("ENGRAM_DATA_DIR", t.TempDir())
	seedSession(t, "agent_run_1")

	defer setArgs("engram", "review", "approve-session", "agent_run_1")()
	out, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(approve-session): %v", e)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Approved 2 snapshot(s)") {
		t.Errorf("unexpected output: %q", out)
	}

	store, _, err := openStore()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	sessions, err := store.ListSessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no pending sessions, got %v", sessions)
	}
}

func TestReviewRollback(t *testing.T) {
	t.Setenv("ENGRAM_DATA_DIR", t.TempDir())
	seedSession(t, "agent_run_1")

	store, _, err := openStore()
	if err != nil {
		t.Fatal(err)
	}
	snaps, err := store.ListSessionSnapshots(context.Background(), "agent_run_1")
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	// Roll back the update (the second snapshot).
	defer setArgs("engram", "review", "rollback", snaps[1].ID)()
	if _, err := captureStdout(func() {
		if e := Execute(); e != nil {
			t.Fatalf("Execute(rollback): %v", e)
		}
	}); err != nil {
		t.Fatal(err)
	}

	store, _, err = openStore()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	node, err := store.Resolve(context.Background(), "core://identity")
	if err != nil {
		t.Fatal(err)
	}
	if node.Body != "v1" {
		t.Errorf("expected body restored to v1, got %q", node.Body)
	}
}
