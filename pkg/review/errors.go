package review

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide whether to retry, skip,
// degrade or abort.
type Kind string

const (
	// KindTransport covers an unreachable or rate-limited remote source.
	KindTransport Kind = "transport"
	// KindValidation covers malformed app ids and raw records.
	KindValidation Kind = "validation"
	// KindEnrichment covers classifier and extractor failures.
	KindEnrichment Kind = "enrichment"
	// KindPersistence covers store failures.
	KindPersistence Kind = "persistence"
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// TransportError wraps err as a transport failure.
func TransportError(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// ValidationError builds a validation failure from a message.
func ValidationError(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

// EnrichmentError wraps err as an enrichment failure.
func EnrichmentError(op string, err error) error {
	return &Error{Kind: KindEnrichment, Op: op, Err: err}
}

// PersistenceError wraps err as a persistence failure.
func PersistenceError(op string, err error) error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}
