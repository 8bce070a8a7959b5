// Package errors defines the single error taxonomy surfaced at the
// boundary of the memory engine. Every public operation in
// internal/engine returns either nil or a *Error from this package.
package errors

import (
	stderrors "errors"
	"fmt"
)

// As is a re-export of the standard library's errors.As so callers in
// this package and its users don't need a second import alias.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Is is a re-export of the standard library's errors.Is.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// Kind tags a class of failure. See spec.md §6/§7 for the full
// taxonomy and the recoverability split.
type Kind string

const (
	KindStorage            Kind = "storage"
	KindLearning            Kind = "learning"
	KindNotFound            Kind = "not_found"
	KindPattern             Kind = "pattern"
	KindSerialization       Kind = "serialization"
	KindInvalidInput        Kind = "invalid_input"
	KindInvalidState        Kind = "invalid_state"
	KindSecurity            Kind = "security"
	KindValidationFailed    Kind = "validation_failed"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindRateLimitExceeded   Kind = "rate_limit_exceeded"
	KindIO                  Kind = "io"
	KindConfiguration       Kind = "configuration"
	KindEmbedding           Kind = "embedding"
	KindRelationship        Kind = "relationship"
	KindCache               Kind = "cache"
	KindExecutionTimeout    Kind = "execution_timeout"
	KindCircuitBreakerOpen  Kind = "circuit_breaker_open"
)

// recoverable mirrors Error::is_recoverable in memory-core/src/error/mod.rs.
var recoverable = map[Kind]bool{
	KindStorage:           true,
	KindExecutionTimeout:  true,
	KindCircuitBreakerOpen: true,
	KindRateLimitExceeded: true,
	KindIO:                true,
	KindEmbedding:         true,
}

// Error is the boundary error type. ID carries an episode/pattern/
// heuristic/relationship identifier when one is relevant, so callers
// see it without parsing the message.
type Error struct {
	Kind    Kind
	Message string
	ID      string
	Err     error
}

func (e *Error) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: %s (id=%s)", e.Kind, e.Message, e.ID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRecoverable reports whether retrying the failed operation with
// backoff is appropriate. Relationship and Cache errors are handled
// specially because only some of their sub-cases are retryable.
func (e *Error) IsRecoverable() bool {
	switch e.Kind {
	case KindRelationship:
		return e.relationshipRecoverable()
	case KindCache:
		return e.cacheRecoverable()
	default:
		return recoverable[e.Kind]
	}
}

func (e *Error) relationshipRecoverable() bool {
	if e.Err == nil {
		return false
	}
	var relErr *RelationshipError
	if As(e.Err, &relErr) {
		return relErr.Kind == RelValidationFailed
	}
	return false
}

func (e *Error) cacheRecoverable() bool {
	if e.Err == nil {
		return false
	}
	var cacheErr *CacheError
	if As(e.Err, &cacheErr) {
		return cacheErr.Kind == CacheEvictionFailed || cacheErr.Kind == CacheSerializationFailed
	}
	return false
}

// New builds a boundary error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a boundary error of the given kind around a lower-level
// cause, e.g. a sql.DB error or an os error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithID attaches an identifier (episode/pattern/heuristic ID) and
// returns the same error for chaining.
func (e *Error) WithID(id string) *Error {
	e.ID = id
	return e
}

// NotFound is a convenience constructor for the common id-not-found case.
func NotFound(kind string, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", kind), ID: id}
}
