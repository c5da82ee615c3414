package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Update modes.
const (
	ModePatch  = "patch"
	ModeAppend = "append"
)

// UpdateRequest describes an update call. Mode may be empty for a
// metadata-only change; Priority and Disclosure are applied only when
// non-nil, and only to the addressed path.
type UpdateRequest struct {
	Mode       string
	Old        string // patch mode: fragment to replace, matched strictly once
	New        string // patch replacement or append fragment
	Priority   *int
	Disclosure *string
}

// UpdateResult reports the outcome of an update.
type UpdateResult struct {
	Path         *Path
	NewContentID string // empty when only metadata changed
	BodyChanged  bool
}

// Create stores a new content blob and a path addressing it. The parent path
// must already exist when the path is nested.
func (s *Store) Create(ctx context.Context, sessionID, domain, path, body string, priority int, disclosure string) (*Path, error) {
	path = strings.Trim(path, "/")
	if path == "" || body == "" {
		return nil, fmt.Errorf("path and body are required: %w", ErrInvalidOperation)
	}
	if err := s.checkWritableDomain(domain); err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	uri := domain + "://" + path
	if _, err := getPathTx(ctx, tx, domain, path); err == nil {
		return nil, fmt.Errorf("%s already exists: %w", uri, ErrConflict)
	}
	if err := requireParentTx(ctx, tx, domain, path); err != nil {
		return nil, err
	}

	now := time.Now()
	contentID := generateID()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO contents (id, body, superseded_by, created_at) VALUES (?, ?, NULL, ?)
	`, contentID, body, now); err != nil {
		return nil, fmt.Errorf("failed to store content: %w", err)
	}

	p := &Path{
		ID:         generateID(),
		Domain:     domain,
		Path:       path,
		ContentID:  contentID,
		Priority:   priority,
		Disclosure: disclosure,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO paths (id, domain, path, content_id, priority, disclosure, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Domain, p.Path, p.ContentID, p.Priority, p.Disclosure, p.CreatedAt, p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to store path: %w", err)
	}

	if _, err := insertSnapshotTx(ctx, tx, sessionID, ResourcePath, uri, OpCreate, PriorState{}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit create: %w", err)
	}
	return p, nil
}

// AddAlias adds a second path addressing an existing URI's content. The alias
// carries its own priority and disclosure.
func (s *Store) AddAlias(ctx context.Context, sessionID, sourceURI, domain, path string, priority int, disclosure string) (*Path, error) {
	src, err := ParseURI(sourceURI)
	if err != nil {
		return nil, err
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("alias path is required: %w", ErrInvalidOperation)
	}
	if err := s.checkWritableDomain(domain); err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	source, err := getPathTx(ctx, tx, src.Domain, src.Path)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", sourceURI, err)
	}

	uri := domain + "://" + path
	if _, err := getPathTx(ctx, tx, domain, path); err == nil {
		return nil, fmt.Errorf("%s already exists: %w", uri, ErrConflict)
	}
	if err := requireParentTx(ctx, tx, domain, path); err != nil {
		return nil, err
	}

	now := time.Now()
	p := &Path{
		ID:         generateID(),
		Domain:     domain,
		Path:       path,
		ContentID:  source.ContentID,
		Priority:   priority,
		Disclosure: disclosure,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO paths (id, domain, path, content_id, priority, disclosure, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Domain, p.Path, p.ContentID, p.Priority, p.Disclosure, p.CreatedAt, p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to store alias: %w", err)
	}

	if _, err := insertSnapshotTx(ctx, tx, sessionID, ResourcePath, uri, OpCreateAlias, PriorState{}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit alias: %w", err)
	}
	return p, nil
}

// Update revises the content or metadata behind a URI. A body change creates
// a new content row, marks the old one superseded, and repoints every alias;
// the old body stays recoverable through the snapshot.
func (s *Store) Update(ctx context.Context, sessionID, uri string, req UpdateRequest) (*UpdateResult, error) {
	parsed, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if req.Mode == "" && req.Priority == nil && req.Disclosure == nil {
		return nil, fmt.Errorf("update carries no changes: %w", ErrInvalidOperation)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := getPathTx(ctx, tx, parsed.Domain, parsed.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	current, err := getContentTx(ctx, tx, p.ContentID)
	if err != nil {
		return nil, err
	}

	newBody := current.Body
	switch req.Mode {
	case "":
		// metadata-only
	case ModePatch:
		if req.Old == "" {
			return nil, fmt.Errorf("patch fragment is empty: %w", ErrPatchNotFound)
		}
		switch strings.Count(current.Body, req.Old) {
		case 0:
			return nil, fmt.Errorf("fragment not in %s: %w", uri, ErrPatchNotFound)
		case 1:
			newBody = strings.Replace(current.Body, req.Old, req.New, 1)
		default:
			return nil, fmt.Errorf("fragment occurs more than once in %s: %w", uri, ErrAmbiguousMatch)
		}
	case ModeAppend:
		if req.New == "" {
			return nil, fmt.Errorf("append fragment is empty: %w", ErrInvalidOperation)
		}
		newBody = current.Body + "\n" + req.New
	default:
		return nil, fmt.Errorf("unknown update mode %q: %w", req.Mode, ErrInvalidOperation)
	}

	bodyChanged := newBody != current.Body
	opType := OpModifyMeta
	resourceType := ResourcePath
	if bodyChanged {
		opType = OpModifyContent
		resourceType = ResourceContent
	}

	prior := PriorState{Path: pathState(p), Body: current.Body}
	if _, err := insertSnapshotTx(ctx, tx, sessionID, resourceType, uri, opType, prior); err != nil {
		return nil, err
	}

	now := time.Now()
	result := &UpdateResult{BodyChanged: bodyChanged}

	if bodyChanged {
		newContentID := generateID()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO contents (id, body, superseded_by, created_at) VALUES (?, ?, NULL, ?)
		`, newContentID, newBody, now); err != nil {
			return nil, fmt.Errorf("failed to store revision: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE contents SET superseded_by = ? WHERE id = ?
		`, newContentID, current.ID); err != nil {
			return nil, fmt.Errorf("failed to mark superseded: %w", err)
		}
		// Aliases follow the revision.
		if _, err := tx.ExecContext(ctx, `
			UPDATE paths SET content_id = ?, updated_at = ? WHERE content_id = ?
		`, newContentID, now, current.ID); err != nil {
			return nil, fmt.Errorf("failed to repoint paths: %w", err)
		}
		p.ContentID = newContentID
		result.NewContentID = newContentID
	}

	if req.Priority != nil {
		p.Priority = *req.Priority
	}
	if req.Disclosure != nil {
		p.Disclosure = *req.Disclosure
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE paths SET priority = ?, disclosure = ?, updated_at = ? WHERE id = ?
	`, p.Priority, p.Disclosure, now, p.ID); err != nil {
		return nil, fmt.Errorf("failed to update path: %w", err)
	}
	p.UpdatedAt = now
	result.Path = p

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}
	return result, nil
}

// Delete removes a path. The content it referenced persists; whether it is
// still reachable shows up in the snapshot's list of remaining paths. Paths
// with children cannot be deleted.
func (s *Store) Delete(ctx context.Context, sessionID, uri string) error {
	parsed, err := ParseURI(uri)
	if err != nil {
		return err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := getPathTx(ctx, tx, parsed.Domain, parsed.Path)
	if err != nil {
		return fmt.Errorf("%s: %w", uri, err)
	}

	children, err := childSampleTx(ctx, tx, p.Domain, p.Path, 5)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("%s has child paths (%s): %w", uri, strings.Join(children, ", "), ErrConflict)
	}

	var others []string
	rows, err := tx.QueryContext(ctx, `
		SELECT domain, path FROM paths WHERE content_id = ? AND id != ? ORDER BY domain, path
	`, p.ContentID, p.ID)
	if err != nil {
		return fmt.Errorf("failed to list references: %w", err)
	}
	for rows.Next() {
		var domain, path string
		if err := rows.Scan(&domain, &path); err != nil {
			rows.Close()
			return err
		}
		others = append(others, domain+"://"+path)
	}
	rows.Close()

	prior := PriorState{Path: pathState(p), OtherPaths: others}
	if _, err := insertSnapshotTx(ctx, tx, sessionID, ResourcePath, uri, OpDelete, prior); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM paths WHERE id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to delete path: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// requireParentTx enforces that nested paths hang off an existing parent.
func requireParentTx(ctx context.Context, tx *sql.Tx, domain, path string) error {
	parent := ParsedURI{Domain: domain, Path: path}.ParentPath()
	if parent == "" {
		return nil
	}
	if _, err := getPathTx(ctx, tx, domain, parent); err != nil {
		return fmt.Errorf("parent %s://%s does not exist: %w", domain, parent, ErrNotFound)
	}
	return nil
}

// childSampleTx returns up to limit child URIs under a path.
func childSampleTx(ctx context.Context, tx *sql.Tx, domain, path string, limit int) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT domain, path FROM paths
		WHERE domain = ? AND path LIKE ? ESCAPE '\'
		ORDER BY path LIMIT ?
	`, domain, escapeLike(path)+"/%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to check children: %w", err)
	}
	defer rows.Close()
	var children []string
	for rows.Next() {
		var d, p string
		if err := rows.Scan(&d, &p); err != nil {
			return nil, err
		}
		children = append(children, d+"://"+p)
	}
	return children, rows.Err()
}
