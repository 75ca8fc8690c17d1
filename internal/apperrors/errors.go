// Package apperrors categorizes failures the way the HTTP boundary and the
// background orchestrator need to treat them differently: a policy error is
// surfaced to the client verbatim, a persistence error is logged and
// swallowed, a fatal error fails the whole scrape.
package apperrors

import "fmt"

// PolicyError represents a condition the client must be told about directly,
// e.g. pool exhaustion or invalid input. The HTTP boundary maps it to 4xx.
type PolicyError struct {
	Op  string
	Err error
}

func (e *PolicyError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PolicyError) Unwrap() error { return e.Err }

// NewPolicy wraps err as a PolicyError attributed to op.
func NewPolicy(op string, err error) error { return &PolicyError{Op: op, Err: err} }

// PersistenceError represents a storage failure that must never escape a
// background task: the scrape's extracted results remain valid regardless.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistence wraps err as a PersistenceError attributed to op.
func NewPersistence(op string, err error) error { return &PersistenceError{Op: op, Err: err} }

// FatalScrapeError represents a top-level failure that aborts one scrape:
// initial navigation failure, session acquisition failure, search results
// that never appear.
type FatalScrapeError struct {
	Op  string
	Err error
}

func (e *FatalScrapeError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *FatalScrapeError) Unwrap() error { return e.Err }

// NewFatal wraps err as a FatalScrapeError attributed to op.
func NewFatal(op string, err error) error { return &FatalScrapeError{Op: op, Err: err} }

// Truncate shortens a message to n runes for display, appending an ellipsis
// when it was cut. Used for the 50-char display form of a fatal error.
func Truncate(msg string, n int) string {
	r := []rune(msg)
	if len(r) <= n {
		return msg
	}
	return string(r[:n]) + "..."
}
