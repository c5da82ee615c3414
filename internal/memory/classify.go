package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Classification kinds for unreachable content.
const (
	KindDeprecated = "deprecated"
	KindOrphaned   = "orphaned"
)

// maxChainHops bounds the superseded-by walk. Chains never cycle when the
// invariants hold; the bound turns a corrupted chain into a flag instead of
// a hang.
const maxChainHops = 50

// UnreachableContent is a content row no path references, classified as
// deprecated (superseded by a newer version) or orphaned (no successor).
type UnreachableContent struct {
	Content
	Kind string `json:"kind"`
	// MigrationTarget holds the URIs of the nearest successor that still has
	// a live path. Empty when the whole chain is unreachable.
	MigrationTarget []string `json:"migration_target,omitempty"`
	// ChainContinues is set when the immediate successor also has zero paths.
	ChainContinues bool `json:"chain_continues,omitempty"`
}

// ClassifyUnreachable scans for content with zero referencing paths and
// partitions it into deprecated and orphaned. The result may be stale
// immediately after return; it feeds a maintenance view, not an invariant.
func (s *Store) ClassifyUnreachable(ctx context.Context) ([]UnreachableContent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.body, c.superseded_by, c.created_at
		FROM contents c
		WHERE NOT EXISTS (SELECT 1 FROM paths p WHERE p.content_id = c.id)
		ORDER BY c.created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("classification scan failed: %w", err)
	}
	defer rows.Close()

	var unreachable []UnreachableContent
	for rows.Next() {
		var u UnreachableContent
		var superseded sql.NullString
		if err := rows.Scan(&u.ID, &u.Body, &superseded, &u.CreatedAt); err != nil {
			return nil, err
		}
		if superseded.Valid && superseded.String != "" {
			u.SupersededBy = superseded.String
			u.Kind = KindDeprecated
		} else {
			u.Kind = KindOrphaned
		}
		unreachable = append(unreachable, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range unreachable {
		if unreachable[i].Kind != KindDeprecated {
			continue
		}
		target, continues, err := s.liveHead(ctx, unreachable[i].SupersededBy)
		if err != nil {
			return nil, err
		}
		unreachable[i].MigrationTarget = target
		unreachable[i].ChainContinues = continues
	}
	return unreachable, nil
}

// ClassifyContent classifies a single unreachable content row by id. It
// errors with ErrConflict when the content is still referenced by a path.
func (s *Store) ClassifyContent(ctx context.Context, contentID string) (*UnreachableContent, error) {
	c, err := s.GetContent(ctx, contentID)
	if err != nil {
		return nil, err
	}

	var refs int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM paths WHERE content_id = ?`, contentID).Scan(&refs); err != nil {
		return nil, fmt.Errorf("failed to count references: %w", err)
	}
	if refs > 0 {
		return nil, fmt.Errorf("content %s is referenced by %d path(s): %w", contentID, refs, ErrConflict)
	}

	u := &UnreachableContent{Content: *c, Kind: KindOrphaned}
	if c.SupersededBy != "" {
		u.Kind = KindDeprecated
		target, continues, err := s.liveHead(ctx, c.SupersededBy)
		if err != nil {
			return nil, err
		}
		u.MigrationTarget = target
		u.ChainContinues = continues
	}
	return u, nil
}

// liveHead follows the superseded-by chain from a content id to the first
// version that still has a path, returning that version's URIs. The second
// return reports whether the walk had to pass unreachable intermediates.
func (s *Store) liveHead(ctx context.Context, contentID string) ([]string, bool, error) {
	continues := false
	id := contentID
	for hop := 0; hop < maxChainHops && id != ""; hop++ {
		uris, err := s.urisOfContent(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if len(uris) > 0 {
			return uris, continues, nil
		}
		continues = true

		var next sql.NullString
		err = s.db.QueryRowContext(ctx, `SELECT superseded_by FROM contents WHERE id = ?`, id).Scan(&next)
		if err == sql.ErrNoRows {
			return nil, continues, nil
		}
		if err != nil {
			return nil, false, err
		}
		if !next.Valid {
			return nil, continues, nil
		}
		id = next.String
	}
	return nil, continues, nil
}

func (s *Store) urisOfContent(ctx context.Context, contentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, path FROM paths WHERE content_id = ? ORDER BY domain, path
	`, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list paths of content: %w", err)
	}
	defer rows.Close()
	var uris []string
	for rows.Next() {
		var d, p string
		if err := rows.Scan(&d, &p); err != nil {
			return nil, err
		}
		uris = append(uris, d+"://"+p)
	}
	return uris, rows.Err()
}

// Purge permanently deletes unreachable content rows. It is the only
// operation with no snapshot and no rollback: confirm must be set, every id
// is re-verified unreachable inside the transaction, and the version chain
// is repaired around each removed row. All-or-nothing across the batch.
func (s *Store) Purge(ctx context.Context, ids []string, confirm bool) error {
	if !confirm {
		return fmt.Errorf("purge of %d content rows: %w", len(ids), ErrConfirmationRequired)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no content ids given: %w", ErrInvalidOperation)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		c, err := getContentTx(ctx, tx, id)
		if err != nil {
			return err
		}

		// A racing create or rollback may have made the content reachable
		// again since the maintenance view was rendered.
		var refs int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM paths WHERE content_id = ?`, id).Scan(&refs); err != nil {
			return fmt.Errorf("failed to count references: %w", err)
		}
		if refs > 0 {
			return fmt.Errorf("content %s is referenced by %d path(s): %w", id, refs, ErrConflict)
		}

		// Repair the chain: predecessors of the removed version point at its
		// successor, so A -> B -> C survives a purge of B as A -> C.
		var successor interface{}
		if c.SupersededBy != "" {
			successor = c.SupersededBy
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE contents SET superseded_by = ? WHERE superseded_by = ?
		`, successor, id); err != nil {
			return fmt.Errorf("failed to repair chain around %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM contents WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to purge content %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}
	return nil
}

// FormatMigration renders a classified row's migration hint for maintenance
// views.
func (u UnreachableContent) FormatMigration() string {
	if u.Kind != KindDeprecated {
		return ""
	}
	if len(u.MigrationTarget) == 0 {
		return "superseded, no live successor"
	}
	hint := "superseded by " + strings.Join(u.MigrationTarget, ", ")
	if u.ChainContinues {
		hint += " (via unreachable intermediates)"
	}
	return hint
}
