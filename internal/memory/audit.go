package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

// SessionSummary is an overview row for the session list.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	PendingCount int       `json:"pending_count"`
	StartedAt    time.Time `json:"started_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Diff compares a snapshot's prior state with the current state of its
// resource.
type Diff struct {
	ResourceID    string `json:"resource_id"`
	OperationType string `json:"operation_type"`
	PriorBody     string `json:"prior_body"`
	CurrentBody   string `json:"current_body"`
	HasChanges    bool   `json:"has_changes"`
	UnifiedDiff   string `json:"unified_diff,omitempty"`
	Summary       string `json:"summary"`
}

// ListSessions returns every session with pending snapshots, most recent
// activity first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MIN(snapshot_time), MAX(snapshot_time)
		FROM snapshots WHERE status = ?
		GROUP BY session_id ORDER BY MAX(snapshot_time) DESC
	`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()
	sessions := []SessionSummary{}
	for rows.Next() {
		var sess SessionSummary
		// MIN/MAX strip the column's DATETIME decltype, so the driver hands
		// the aggregates back as strings.
		var started, last string
		if err := rows.Scan(&sess.SessionID, &sess.PendingCount, &started, &last); err != nil {
			return nil, err
		}
		if sess.StartedAt, err = parseSnapshotTime(started); err != nil {
			return nil, err
		}
		if sess.LastActivity, err = parseSnapshotTime(last); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// parseSnapshotTime decodes a snapshot_time value that came back as text.
func parseSnapshotTime(s string) (time.Time, error) {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable snapshot time %q", s)
}

// ListSessionSnapshots returns a session's pending snapshots in mutation
// order.
func (s *Store) ListSessionSnapshots(ctx context.Context, sessionID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, resource_type, resource_id, operation_type, prior_state, status, snapshot_time
		FROM snapshots WHERE session_id = ? AND status = ?
		ORDER BY snapshot_time, rowid
	`, sessionID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()
	snapshots := []Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *snap)
	}
	return snapshots, rows.Err()
}

// GetSnapshot returns a snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, resource_type, resource_id, operation_type, prior_state, status, snapshot_time
		FROM snapshots WHERE id = ?
	`, snapshotID)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot %s: %w", snapshotID, ErrNotFound)
	}
	return snap, err
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snap Snapshot
	var stateJSON string
	if err := row.Scan(&snap.ID, &snap.SessionID, &snap.ResourceType, &snap.ResourceID, &snap.OperationType, &stateJSON, &snap.Status, &snap.SnapshotTime); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &snap.PriorState); err != nil {
		return nil, fmt.Errorf("corrupt prior state in snapshot %s: %w", snap.ID, err)
	}
	return &snap, nil
}

// DiffResource compares the earliest pending snapshot of a resource within a
// session against the resource's current state.
func (s *Store) DiffResource(ctx context.Context, sessionID, resourceID string) (*Diff, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, resource_type, resource_id, operation_type, prior_state, status, snapshot_time
		FROM snapshots WHERE session_id = ? AND resource_id = ? AND status = ?
		ORDER BY snapshot_time, rowid LIMIT 1
	`, sessionID, resourceID, StatusPending)
	snap, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no pending snapshot for %s in session %s: %w", resourceID, sessionID, ErrNotFound)
		}
		return nil, err
	}
	return s.diffSnapshot(ctx, snap)
}

// DiffSnapshot compares a snapshot against the current state of its resource.
func (s *Store) DiffSnapshot(ctx context.Context, snapshotID string) (*Diff, error) {
	snap, err := s.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	return s.diffSnapshot(ctx, snap)
}

func (s *Store) diffSnapshot(ctx context.Context, snap *Snapshot) (*Diff, error) {
	d := &Diff{
		ResourceID:    snap.ResourceID,
		OperationType: snap.OperationType,
		PriorBody:     snap.PriorState.Body,
	}
	// Delete snapshots record the path state but not the body. The content
	// row outlives the path, so recover the pre-delete body from the
	// recorded content id.
	if d.PriorBody == "" && snap.PriorState.Path != nil && snap.PriorState.Path.ContentID != "" {
		if content, err := s.GetContent(ctx, snap.PriorState.Path.ContentID); err == nil {
			d.PriorBody = content.Body
		}
	}

	var current *Path
	if parsed, err := ParseURI(snap.ResourceID); err == nil {
		if p, err := s.getPath(ctx, parsed.Domain, parsed.Path); err == nil {
			current = p
			content, err := s.GetContent(ctx, p.ContentID)
			if err != nil {
				return nil, err
			}
			d.CurrentBody = content.Body
		}
	}

	metaChanged := false
	if prior := snap.PriorState.Path; prior != nil && current != nil {
		metaChanged = prior.Priority != current.Priority || prior.Disclosure != current.Disclosure
	}
	d.HasChanges = d.PriorBody != d.CurrentBody || metaChanged || snap.OperationType == OpDelete
	if d.PriorBody != d.CurrentBody {
		ud, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(d.PriorBody),
			B:        difflib.SplitLines(d.CurrentBody),
			FromFile: "prior",
			ToFile:   "current",
			Context:  3,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to render diff: %w", err)
		}
		d.UnifiedDiff = ud
	}
	d.Summary = diffSummary(snap, current, d)
	return d, nil
}

func diffSummary(snap *Snapshot, current *Path, d *Diff) string {
	switch snap.OperationType {
	case OpCreate, OpCreateAlias:
		lines := countLines(d.CurrentBody)
		return fmt.Sprintf("Created: +%d lines (rollback = delete)", lines)
	case OpDelete:
		return "Deleted (rollback = restore)"
	}

	added, removed := 0, 0
	for _, line := range strings.Split(d.UnifiedDiff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	summary := fmt.Sprintf("+%d / -%d lines", added, removed)

	if prior := snap.PriorState.Path; prior != nil && current != nil {
		if prior.Priority != current.Priority {
			summary += fmt.Sprintf("; priority %d -> %d", prior.Priority, current.Priority)
		}
		if prior.Disclosure != current.Disclosure {
			summary += "; disclosure changed"
		}
	}
	return summary
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// Approve accepts a pending snapshot: the current state becomes permanent and
// the snapshot row is discarded. No data changes.
func (s *Store) Approve(ctx context.Context, snapshotID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE id = ? AND status = ?
	`, snapshotID, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to approve snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("snapshot %s is not pending: %w", snapshotID, ErrInvalidOperation)
	}
	return nil
}

// ApproveSession approves every pending snapshot of a session in one
// transaction and reports how many were integrated.
func (s *Store) ApproveSession(ctx context.Context, sessionID string) (int, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM snapshots WHERE session_id = ? AND status = ?
	`, sessionID, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to approve session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit session approval: %w", err)
	}
	return int(n), nil
}

// Rollback restores a snapshot's resource to its prior state and discards the
// snapshot, all in one transaction.
func (s *Store) Rollback(ctx context.Context, snapshotID string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, session_id, resource_type, resource_id, operation_type, prior_state, status, snapshot_time
		FROM snapshots WHERE id = ? AND status = ?
	`, snapshotID, StatusPending)
	snap, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("snapshot %s is not pending: %w", snapshotID, ErrInvalidOperation)
		}
		return err
	}

	switch snap.OperationType {
	case OpCreate:
		err = rollbackCreateTx(ctx, tx, snap, true)
	case OpCreateAlias:
		err = rollbackCreateTx(ctx, tx, snap, false)
	case OpDelete:
		err = rollbackDeleteTx(ctx, tx, snap)
	case OpModifyContent, OpModifyMeta:
		err = rollbackModifyTx(ctx, tx, snap)
	default:
		err = fmt.Errorf("unknown operation type %q: %w", snap.OperationType, ErrInvalidOperation)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, snap.ID); err != nil {
		return fmt.Errorf("failed to discard snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback: %w", err)
	}
	return nil
}

// rollbackCreateTx undoes create and createAlias by deleting the path the
// mutation produced. For create, the content is removed too once nothing
// references it. A path already gone means the state matches the prior state.
func rollbackCreateTx(ctx context.Context, tx *sql.Tx, snap *Snapshot, dropContent bool) error {
	parsed, err := ParseURI(snap.ResourceID)
	if err != nil {
		return err
	}
	p, err := getPathTx(ctx, tx, parsed.Domain, parsed.Path)
	if err != nil {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM paths WHERE id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to remove path: %w", err)
	}
	if !dropContent {
		return nil
	}

	var refs int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM paths WHERE content_id = ?`, p.ContentID).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return nil
	}

	// Repair the version chain before removing the unreferenced content.
	c, err := getContentTx(ctx, tx, p.ContentID)
	if err != nil {
		return err
	}
	var successor interface{}
	if c.SupersededBy != "" {
		successor = c.SupersededBy
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE contents SET superseded_by = ? WHERE superseded_by = ?
	`, successor, c.ID); err != nil {
		return fmt.Errorf("failed to repair chain: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM contents WHERE id = ?`, c.ID); err != nil {
		return fmt.Errorf("failed to remove content: %w", err)
	}
	return nil
}

// rollbackDeleteTx recreates the removed path at its original content id.
func rollbackDeleteTx(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	prior := snap.PriorState.Path
	if prior == nil {
		return fmt.Errorf("snapshot %s has no prior path state: %w", snap.ID, ErrInvalidOperation)
	}
	if _, err := getPathTx(ctx, tx, prior.Domain, prior.Path); err == nil {
		return fmt.Errorf("%s://%s exists again: %w", prior.Domain, prior.Path, ErrConflict)
	}
	if _, err := getContentTx(ctx, tx, prior.ContentID); err != nil {
		return fmt.Errorf("original content was purged: %w", err)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO paths (id, domain, path, content_id, priority, disclosure, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, prior.PathID, prior.Domain, prior.Path, prior.ContentID, prior.Priority, prior.Disclosure, prior.CreatedAt, time.Now())
	if err != nil {
		return fmt.Errorf("failed to restore path: %w", err)
	}
	return nil
}

// rollbackModifyTx repoints the resource's paths back at the prior content
// and restores the addressed path's metadata. The superseding content stays
// in place; the classifier will report it as unreachable.
func rollbackModifyTx(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	prior := snap.PriorState.Path
	if prior == nil {
		return fmt.Errorf("snapshot %s has no prior path state: %w", snap.ID, ErrInvalidOperation)
	}
	if _, err := getContentTx(ctx, tx, prior.ContentID); err != nil {
		return fmt.Errorf("prior content was purged: %w", err)
	}

	now := time.Now()
	p, err := getPathTx(ctx, tx, prior.Domain, prior.Path)
	if err != nil {
		// The path was deleted after the modification; restore it whole.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO paths (id, domain, path, content_id, priority, disclosure, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, prior.PathID, prior.Domain, prior.Path, prior.ContentID, prior.Priority, prior.Disclosure, prior.CreatedAt, now)
		if err != nil {
			return fmt.Errorf("failed to restore path: %w", err)
		}
		return nil
	}

	// Aliases were repointed together with the addressed path; bring them
	// all back.
	if p.ContentID != prior.ContentID {
		if _, err := tx.ExecContext(ctx, `
			UPDATE paths SET content_id = ?, updated_at = ? WHERE content_id = ?
		`, prior.ContentID, now, p.ContentID); err != nil {
			return fmt.Errorf("failed to repoint paths: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE paths SET priority = ?, disclosure = ?, updated_at = ? WHERE id = ?
	`, prior.Priority, prior.Disclosure, now, p.ID); err != nil {
		return fmt.Errorf("failed to restore path metadata: %w", err)
	}
	return nil
}
