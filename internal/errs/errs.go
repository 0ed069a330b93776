// Package errs collects the error kinds the learner distinguishes between,
// so callers can branch on failure class instead of parsing messages.
package errs

import "errors"

// ErrNotFound is returned when a lookup (a conditions set, a stored delay)
// has no matching row. Callers branch on it; it is not logged as a failure.
var ErrNotFound = errors.New("not found")

// ErrIncompatibleMerge is returned by EventSequence.Merge when the two
// sequences are not structurally equal. A programmer error: it always
// surfaces to the caller rather than being swallowed.
var ErrIncompatibleMerge = errors.New("incompatible event sequences")

// ErrEmptyStream is returned when a group has no events to learn from.
// The caller skips the group and continues with the next one.
var ErrEmptyStream = errors.New("no events for group")

// ErrNonConvergent is returned by the delay calibrator when no stable
// threshold was found within its fixed cap on search iterations.
var ErrNonConvergent = errors.New("delay calibration did not converge")

// ConfigError wraps a failure loading or parsing the configuration file.
// Fatal at startup.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return "config error (" + e.Path + "): " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CatalogError wraps a failure loading or parsing the item catalog.
// Fatal at startup.
type CatalogError struct {
	Path string
	Err  error
}

func (e *CatalogError) Error() string {
	return "catalog error (" + e.Path + "): " + e.Err.Error()
}

func (e *CatalogError) Unwrap() error { return e.Err }

// DatabaseError wraps a storage failure (connect, query, schema). Connect
// failures are fatal; write/query failures are logged by the caller and the
// run continues on a best-effort basis.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return "database error (" + e.Op + "): " + e.Err.Error()
}

func (e *DatabaseError) Unwrap() error { return e.Err }
