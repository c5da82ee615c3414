package memory

import "errors"

// Sentinel errors returned by store operations. Callers match them with
// errors.Is; wrapped messages carry the offending URI or id.
var (
	// ErrNotFound is returned when a URI, content id, or snapshot does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a path already exists at the target URI,
	// or when a delete is blocked by child paths.
	ErrConflict = errors.New("conflict")

	// ErrUnknownDomain is returned when a write targets a domain outside the
	// configured allow-list, or the reserved system domain.
	ErrUnknownDomain = errors.New("unknown domain")

	// ErrPatchNotFound is returned when a patch's old fragment does not occur
	// in the current body.
	ErrPatchNotFound = errors.New("patch target not found")

	// ErrAmbiguousMatch is returned when a patch's old fragment occurs more
	// than once in the current body.
	ErrAmbiguousMatch = errors.New("ambiguous patch target")

	// ErrInvalidOperation is returned for approve/rollback on a missing or
	// non-pending snapshot, and for malformed mutation requests.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrConfirmationRequired is returned when an irreversible purge is
	// requested without the explicit confirmation flag.
	ErrConfirmationRequired = errors.New("irreversible action requires confirmation")

	// ErrServiceUnavailable is returned when the underlying database cannot
	// be reached. It is the only retryable error in the taxonomy.
	ErrServiceUnavailable = errors.New("storage unavailable")
)
