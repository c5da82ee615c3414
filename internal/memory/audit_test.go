package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func pendingFor(t *testing.T, store *Store, session string) []Snapshot {
	t.Helper()
	snaps, err := store.ListSessionSnapshots(context.Background(), session)
	if err != nil {
		t.Fatalf("ListSessionSnapshots failed: %v", err)
	}
	return snaps
}

func TestSnapshot_OnePerMutation(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	mustCreate(t, store, "s1", "core", "x", "A")
	if _, err := store.Update(ctx, "s1", "core://x", UpdateRequest{Mode: ModeAppend, New: "B"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddAlias(ctx, "s1", "core://x", "projects", "x-link", 100, ""); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "s1", "projects://x-link"); err != nil {
		t.Fatal(err)
	}

	snaps := pendingFor(t, store, "s1")
	if len(snaps) != 4 {
		t.Fatalf("expected 4 snapshots, got %d", len(snaps))
	}
	wantOps := []string{OpCreate, OpModifyContent, OpCreateAlias, OpDelete}
	for i, want := range wantOps {
		if snaps[i].OperationType != want {
			t.Errorf("snapshot %d: expected %s, got %s", i, want, snaps[i].OperationType)
		}
	}
}

func TestListSessions(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	mustCreate(t, store, "s1", "core", "a", "1")
	mustCreate(t, store, "s2", "core", "b", "2")
	mustCreate(t, store, "s2", "core", "c", "3")

	sessions, err := store.ListSessions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	// Most recent activity first.
	if sessions[0].SessionID != "s2" || sessions[0].PendingCount != 2 {
		t.Errorf("unexpected session ordering: %+v", sessions)
	}
	for _, sess := range sessions {
		if sess.StartedAt.IsZero() || sess.LastActivity.IsZero() {
			t.Errorf("session %s: timestamps not populated: %+v", sess.SessionID, sess)
		}
		if sess.LastActivity.Before(sess.StartedAt) {
			t.Errorf("session %s: lastActivity precedes startedAt", sess.SessionID)
		}
	}
}

// =============================================================================
// Diff Tests
// =============================================================================

func TestDiff_AfterAppend(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	mustCreate(t, store, "s1", "core", "x", "A")
	if _, err := store.Update(ctx, "s2", "core://x", UpdateRequest{Mode: ModeAppend, New: "B"}); err != nil {
		t.Fatal(err)
	}

	diff, err := store.DiffResource(ctx, "s2", "core://x")
	if err != nil {
		t.Fatalf("DiffResource failed: %v", err)
	}
	if diff.CurrentBody != "A\nB" {
		t.Errorf("expected current body A\\nB, got %q", diff.CurrentBody)
	}
	if diff.PriorBody != "A" {
		t.Errorf("expected prior body A, got %q", diff.PriorBody)
	}
	if !diff.HasChanges {
		t.Error("expected hasChanges")
	}
	if !strings.Contains(diff.UnifiedDiff, "+B") {
		t.Errorf("unified diff missing +B: %q", diff.UnifiedDiff)
	}
	if !strings.Contains(diff.Summary, "+") || !strings.Contains(diff.Summary, "lines") {
		t.Errorf("unexpected summary: %q", diff.Summary)
	}
}

func TestDiff_CreateAndDeleteSummaries(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	mustCreate(t, store, "s1", "core", "x", "line1\nline2")

	diff, err := store.DiffResource(ctx, "s1", "core://x")
	if err != nil {
		t.Fatal(err)
	}
	if diff.Summary != "Created: +2 lines (rollback = delete)" {
		t.Errorf("unexpected create summary: %q", diff.Summary)
	}

	if err := store.Delete(ctx, "s2", "core://x"); err != nil {
		t.Fatal(err)
	}
	diff, err = store.DiffResource(ctx, "s2", "core://x")
	if err != nil {
		t.Fatal(err)
	}
	if diff.Summary != "Deleted (rollback = restore)" {
		t.Errorf("unexpected delete summary: %q", diff.Summary)
	}
}

func TestDiff_DeleteShowsPriorBody(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	mustCreate(t, store, "s1", "core", "x", "line1\nline2")
	if err := store.Delete(ctx, "s2", "core://x"); err != nil {
		t.Fatal(err)
	}

	diff, err := store.DiffResource(ctx, "s2", "core://x")
	if err != nil {
		t.Fatal(err)
	}
	if diff.PriorBody != "line1\nline2" {
		t.Errorf("expected pre-delete body, got %q", diff.PriorBody)
	}
	if diff.CurrentBody != "" {
		t.Errorf("expected empty current body, got %q", diff.CurrentBody)
	}
	if !diff.HasChanges {
		t.Error("a delete must report hasChanges")
	}
	if !strings.Contains(diff.UnifiedDiff, "-line1") {
		t.Errorf("unified diff missing removed lines: %q", diff.UnifiedDiff)
	}
}

func TestDiff_MetadataOnlyUpdate(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := store.Create(ctx, "s1", "core", "x", "A", 100, "always"); err != nil {
		t.Fatal(err)
	}
	pri := 5
	if _, err := store.Update(ctx, "s2", "core://x", UpdateRequest{Priority: &pri}); err != nil {
		t.Fatal(err)
	}

	diff, err := store.DiffResource(ctx, "s2", "core://x")
	if err != nil {
		t.Fatal(err)
	}
	if !diff.HasChanges {
		t.Error("a metadata change must report hasChanges")
	}
	if diff.UnifiedDiff != "" {
		t.Errorf("unchanged body must not produce a unified diff: %q", diff.UnifiedDiff)
	}
	if !strings.Contains(diff.Summary, "priority 100 -> 5") {
		t.Errorf("summary missing priority change: %q", diff.Summary)
	}
}

func TestDiff_NoPendingSnapshot(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.DiffResource(context.Background(), "nope", "core://x")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// =============================================================================
// Approve Tests
// =============================================================================

func TestApprove_DiscardsSnapshotKeepsState(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	mustCreate(t, store, "s1", "core", "x", "A")
	snaps := pendingFor(t, store, "s1")

	if err := store.Approve(ctx, snaps[0].ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if len(pendingFor(t, store, "s1")) != 0 {
		t.Error("expected no pending snapshots after approval")
	}

	node, err := store.Resolve(ctx, "core://x")
	if err != nil || node.Body != "A" {
		t.Errorf("approval must not change data: %v %q", err, node.Body)
	}
}

func TestApprove_NonPending(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	err := store.Approve(ctx, "does-not-exist")
	if !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation, got %v", err)
	}

	mustCreate(t, store, "s1", "core", "x", "A")
	snaps := pendingFor(t, store, "s1")
	if err := store.Approve(ctx, snaps[0].ID); err != nil {
		t.Fatal(err)
	}
	// Second approval of the same snapshot.
	if err := store.Approve(ctx, snaps[0].ID); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation on re-approval, got %v", err)
	}
}

func TestApproveSession_Bulk(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	mustCreate(t, store, "s1", "core", "a", "1")
	mustCreate(t, store, "s1", "core", "b", "2")
	mustCreate(t, store, "s2", "core", "c", "3")

	n, err := store.ApproveSession(ctx, "s1")
	if err != nil {
		t.Fatalf("ApproveSession failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 approvals, got %d", n)
	}
	if len(pendingFor(t, store, "s1")) != 0 {
		t.Error("s1 should have no pending snapshots")
	}
	if len(pendingFor(t, store, "s2")) != 1 {
		t.Error("s2 must be untouched")
	}
}

// =============================================================================
// Rollback Tests
// =============================================================================

func TestRollback_Create(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	p := mustCreate(t, store, "s1", "core", "x", "A")
	snaps := pendingFor(t, store, "s1")

	if err := store.Rollback(ctx, snaps[0].ID); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if _, err := store.Resolve(ctx, "core://x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected path gone, got %v", err)
	}
	if _, err := store.GetContent(ctx, p.ContentID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected produced content gone, got %v", err)
	}
}

func TestRollback_CreateAliasKeepsContent(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	p := mustCreate(t, store, "s1", "core", "x", "A")
	if _, err := store.AddAlias(ctx, "s2", "core://x", "projects", "x-link", 100, ""); err != nil {
		t.Fatal(err)
	}

	snaps := pendingFor(t, store, "s2")
	if err := store.Rollback(ctx, snaps[0].ID); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if _, err := store.Resolve(ctx, "projects://x-link"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected alias gone, got %v", err)
	}
	// The shared content and its original path survive.
	if node, err := store.Resolve(ctx, "core://x"); err != nil || node.ContentID != p.ContentID {
		t.Errorf("original path must be intact: %v", err)
	}
}

func TestRollback_Delete(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	p, err := store.Create(ctx, "s1", "core", "x", "A", 7, "sometimes")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "s2", "core://x"); err != nil {
		t.Fatal(err)
	}

	snaps := pendingFor(t, store, "s2")
	if err := store.Rollback(ctx, snaps[0].ID); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	node, err := store.Resolve(ctx, "core://x")
	if err != nil {
		t.Fatalf("expected path restored: %v", err)
	}
	if node.ContentID != p.ContentID {
		t.Errorf("restored path must point at the original content")
	}
	if node.Priority != 7 || node.Disclosure != "sometimes" {
		t.Errorf("metadata not restored: %+v", node)
	}
}

func TestRollback_ModifyContentRestoresExactly(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	p, err := store.Create(ctx, "s1", "core", "x", "A", 7, "orig")
	if err != nil {
		t.Fatal(err)
	}

	pri := 99
	disc := "changed"
	result, err := store.Update(ctx, "s2", "core://x", UpdateRequest{
		Mode: ModeAppend, New: "B", Priority: &pri, Disclosure: &disc,
	})
	if err != nil {
		t.Fatal(err)
	}

	snaps := pendingFor(t, store, "s2")
	if len(snaps) != 1 {
		t.Fatalf("expected a single snapshot for the combined update, got %d", len(snaps))
	}
	if err := store.Rollback(ctx, snaps[0].ID); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	node, err := store.Resolve(ctx, "core://x")
	if err != nil {
		t.Fatal(err)
	}
	if node.ContentID != p.ContentID {
		t.Errorf("contentId not restored: %s != %s", node.ContentID, p.ContentID)
	}
	if node.Body != "A" {
		t.Errorf("body not restored: %q", node.Body)
	}
	if node.Priority != 7 || node.Disclosure != "orig" {
		t.Errorf("metadata not restored: %+v", node)
	}
	if len(pendingFor(t, store, "s2")) != 0 {
		t.Error("no pending snapshot may remain for the resource")
	}

	// The superseding content stays in place for the classifier.
	if _, err := store.GetContent(ctx, result.NewContentID); err != nil {
		t.Errorf("superseding content must survive rollback: %v", err)
	}
}

func TestRollback_ModifyRepointsAliases(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	p := mustCreate(t, store, "s1", "core", "x", "A")
	if _, err := store.AddAlias(ctx, "s1", "core://x", "projects", "x-link", 100, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Update(ctx, "s2", "core://x", UpdateRequest{Mode: ModeAppend, New: "B"}); err != nil {
		t.Fatal(err)
	}

	snaps := pendingFor(t, store, "s2")
	if err := store.Rollback(ctx, snaps[0].ID); err != nil {
		t.Fatal(err)
	}

	alias, err := store.getPath(ctx, "projects", "x-link")
	if err != nil {
		t.Fatal(err)
	}
	if alias.ContentID != p.ContentID {
		t.Errorf("alias not repointed back: %s != %s", alias.ContentID, p.ContentID)
	}
}

func TestRollback_SecondOfTwoEditsRestoresFirst(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	mustCreate(t, store, "s0", "core", "x", "base")
	first, err := store.Update(ctx, "s1", "core://x", UpdateRequest{Mode: ModeAppend, New: "first"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Update(ctx, "s2", "core://x", UpdateRequest{Mode: ModeAppend, New: "second"}); err != nil {
		t.Fatal(err)
	}

	snaps := pendingFor(t, store, "s2")
	if err := store.Rollback(ctx, snaps[0].ID); err != nil {
		t.Fatal(err)
	}

	node, err := store.Resolve(ctx, "core://x")
	if err != nil {
		t.Fatal(err)
	}
	if node.Body != "base\nfirst" {
		t.Errorf("rolling back the second edit must restore the first's result, got %q", node.Body)
	}
	if node.ContentID != first.NewContentID {
		t.Errorf("expected first edit's content id, got %s", node.ContentID)
	}
}

func TestRollback_NonPending(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	err := store.Rollback(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("expected ErrInvalidOperation, got %v", err)
	}
}
