package memory

import (
	"fmt"
	"strings"
)

// SystemDomain is the built-in read-only namespace for synthetic URIs.
const SystemDomain = "system"

// ParsedURI is the split form of an address like "core://projects/engram".
type ParsedURI struct {
	Domain string
	Path   string
}

// String reassembles the URI.
func (u ParsedURI) String() string {
	return u.Domain + "://" + u.Path
}

// Segments returns the path split on "/". Empty for a bare domain URI.
func (u ParsedURI) Segments() []string {
	if u.Path == "" {
		return nil
	}
	return strings.Split(u.Path, "/")
}

// ParentPath returns the path one segment up, or "" when the path is
// top-level.
func (u ParsedURI) ParentPath() string {
	idx := strings.LastIndex(u.Path, "/")
	if idx < 0 {
		return ""
	}
	return u.Path[:idx]
}

// ParseURI splits a "domain://path" address. The path may be empty
// (bare domain), but the scheme separator is mandatory.
func ParseURI(uri string) (ParsedURI, error) {
	domain, path, ok := strings.Cut(uri, "://")
	if !ok || domain == "" {
		return ParsedURI{}, fmt.Errorf("malformed uri %q: %w", uri, ErrNotFound)
	}
	path = strings.Trim(path, "/")
	return ParsedURI{Domain: domain, Path: path}, nil
}

// checkWritableDomain validates a domain against the allow-list. The system
// domain is always known but never writable.
func (s *Store) checkWritableDomain(domain string) error {
	if domain == SystemDomain {
		return fmt.Errorf("domain %q is reserved: %w", domain, ErrUnknownDomain)
	}
	for _, d := range s.domains {
		if d == domain {
			return nil
		}
	}
	return fmt.Errorf("domain %q not in allow-list: %w", domain, ErrUnknownDomain)
}
