package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ChildRef is a shallow reference to a path one segment below a node.
type ChildRef struct {
	URI        string    `json:"uri"`
	Priority   int       `json:"priority"`
	Disclosure string    `json:"disclosure,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Node is the resolved view of a URI: its body and metadata, the paths one
// segment below it, and the aliases sharing its content. Virtual marks a
// prefix that has children but no path of its own.
type Node struct {
	URI        string     `json:"uri"`
	ContentID  string     `json:"content_id,omitempty"`
	Body       string     `json:"body"`
	Priority   int        `json:"priority"`
	Disclosure string     `json:"disclosure,omitempty"`
	Virtual    bool       `json:"virtual,omitempty"`
	Children   []ChildRef `json:"children"`
	Aliases    []string   `json:"aliases"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at,omitempty"`
}

// Resolve answers a read for any URI, including the synthetic system ones.
func (s *Store) Resolve(ctx context.Context, uri string) (*Node, error) {
	parsed, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if parsed.Domain == SystemDomain {
		return s.resolveSystem(ctx, parsed.Path)
	}

	node := &Node{URI: parsed.String(), Children: []ChildRef{}, Aliases: []string{}}

	p, err := s.getPath(ctx, parsed.Domain, parsed.Path)
	if err == nil {
		content, err := s.GetContent(ctx, p.ContentID)
		if err != nil {
			return nil, err
		}
		node.ContentID = p.ContentID
		node.Body = content.Body
		node.Priority = p.Priority
		node.Disclosure = p.Disclosure
		node.CreatedAt = p.CreatedAt
		node.UpdatedAt = p.UpdatedAt

		aliases, err := s.aliasesOf(ctx, p)
		if err != nil {
			return nil, err
		}
		node.Aliases = aliases
	} else {
		node.Virtual = true
	}

	children, err := s.childRefs(ctx, parsed.Domain, parsed.Path)
	if err != nil {
		return nil, err
	}
	node.Children = children

	if node.Virtual && len(children) == 0 {
		return nil, fmt.Errorf("%s: %w", uri, ErrNotFound)
	}
	return node, nil
}

// getPath looks a path up outside a transaction.
func (s *Store) getPath(ctx context.Context, domain, path string) (*Path, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, path, content_id, priority, disclosure, created_at, updated_at
		FROM paths WHERE domain = ? AND path = ?
	`, domain, path)
	return scanPath(row)
}

// aliasesOf lists the other URIs addressing the same content.
func (s *Store) aliasesOf(ctx context.Context, p *Path) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, path FROM paths WHERE content_id = ? AND id != ? ORDER BY domain, path
	`, p.ContentID, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()
	aliases := []string{}
	for rows.Next() {
		var domain, path string
		if err := rows.Scan(&domain, &path); err != nil {
			return nil, err
		}
		aliases = append(aliases, domain+"://"+path)
	}
	return aliases, rows.Err()
}

// childRefs lists paths exactly one segment below the given prefix. An empty
// prefix lists the domain's top-level paths.
func (s *Store) childRefs(ctx context.Context, domain, prefix string) ([]ChildRef, error) {
	var query string
	var args []interface{}
	if prefix == "" {
		query = `
			SELECT domain, path, priority, disclosure, updated_at FROM paths
			WHERE domain = ? AND path NOT LIKE '%/%'
			ORDER BY path
		`
		args = []interface{}{domain}
	} else {
		query = `
			SELECT domain, path, priority, disclosure, updated_at FROM paths
			WHERE domain = ? AND path LIKE ? ESCAPE '\' AND path NOT LIKE ? ESCAPE '\'
			ORDER BY path
		`
		esc := escapeLike(prefix)
		args = []interface{}{domain, esc + "/%", esc + "/%/%"}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()
	children := []ChildRef{}
	for rows.Next() {
		var c ChildRef
		var d, p string
		if err := rows.Scan(&d, &p, &c.Priority, &c.Disclosure, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.URI = d + "://" + p
		children = append(children, c)
	}
	return children, rows.Err()
}

// resolveSystem handles the synthetic system:// URIs.
func (s *Store) resolveSystem(ctx context.Context, path string) (*Node, error) {
	switch {
	case path == "boot":
		return s.resolveBoot(ctx)
	case path == "index":
		return s.resolveIndex(ctx)
	case path == "recent":
		return s.resolveRecent(ctx, s.recentLimit)
	case strings.HasPrefix(path, "recent/"):
		n, err := strconv.Atoi(strings.TrimPrefix(path, "recent/"))
		if err != nil {
			return nil, fmt.Errorf("system://%s: %w", path, ErrNotFound)
		}
		if n < 1 {
			n = 1
		}
		if n > 100 {
			n = 100
		}
		return s.resolveRecent(ctx, n)
	default:
		return nil, fmt.Errorf("system://%s: %w", path, ErrNotFound)
	}
}

// resolveBoot concatenates the configured boot set in ascending priority
// order. Missing URIs are skipped.
func (s *Store) resolveBoot(ctx context.Context) (*Node, error) {
	type section struct {
		uri      string
		priority int
		body     string
	}
	var sections []section
	for _, uri := range s.bootURIs {
		parsed, err := ParseURI(uri)
		if err != nil {
			continue
		}
		p, err := s.getPath(ctx, parsed.Domain, parsed.Path)
		if err != nil {
			continue
		}
		content, err := s.GetContent(ctx, p.ContentID)
		if err != nil {
			continue
		}
		sections = append(sections, section{uri: uri, priority: p.Priority, body: content.Body})
	}
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].priority < sections[j].priority })

	var b strings.Builder
	for i, sec := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n%s", sec.uri, sec.body)
	}
	return &Node{
		URI:      "system://boot",
		Body:     b.String(),
		Virtual:  true,
		Children: []ChildRef{},
		Aliases:  []string{},
	}, nil
}

// resolveIndex lists every path, grouped by domain then lexicographic path.
func (s *Store) resolveIndex(ctx context.Context) (*Node, error) {
	paths, err := s.ListPaths(ctx, "")
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	children := []ChildRef{}
	lastDomain := ""
	for _, p := range paths {
		if p.Domain != lastDomain {
			if lastDomain != "" {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "# %s\n", p.Domain)
			lastDomain = p.Domain
		}
		fmt.Fprintf(&b, "- %s (priority %d)\n", p.URI(), p.Priority)
		children = append(children, ChildRef{URI: p.URI(), Priority: p.Priority, Disclosure: p.Disclosure, UpdatedAt: p.UpdatedAt})
	}
	return &Node{
		URI:      "system://index",
		Body:     b.String(),
		Virtual:  true,
		Children: children,
		Aliases:  []string{},
	}, nil
}

// resolveRecent lists the n most recently touched paths, newest first.
func (s *Store) resolveRecent(ctx context.Context, n int) (*Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, path, priority, disclosure, updated_at FROM paths
		ORDER BY updated_at DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent paths: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	children := []ChildRef{}
	for rows.Next() {
		var c ChildRef
		var d, p string
		if err := rows.Scan(&d, &p, &c.Priority, &c.Disclosure, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.URI = d + "://" + p
		children = append(children, c)
		fmt.Fprintf(&b, "- %s (updated %s)\n", c.URI, c.UpdatedAt.Format(time.RFC3339))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &Node{
		URI:      "system://recent",
		Body:     b.String(),
		Virtual:  true,
		Children: children,
		Aliases:  []string{},
	}, nil
}

// ListPaths returns paths ordered by domain then path. An empty domain lists
// everything.
func (s *Store) ListPaths(ctx context.Context, domain string) ([]Path, error) {
	query := `
		SELECT id, domain, path, content_id, priority, disclosure, created_at, updated_at
		FROM paths ORDER BY domain, path
	`
	args := []interface{}{}
	if domain != "" {
		query = `
			SELECT id, domain, path, content_id, priority, disclosure, created_at, updated_at
			FROM paths WHERE domain = ? ORDER BY path
		`
		args = append(args, domain)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list paths: %w", err)
	}
	defer rows.Close()
	var paths []Path
	for rows.Next() {
		var p Path
		if err := rows.Scan(&p.ID, &p.Domain, &p.Path, &p.ContentID, &p.Priority, &p.Disclosure, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
