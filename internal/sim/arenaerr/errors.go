// Package arenaerr defines the typed failures returned by the arena engine.
//
// Every rejected action surfaces exactly one *Error. Callers branch on the
// Code (or its Kind) instead of on message text.
package arenaerr

import (
	"errors"
	"fmt"
)

// Kind groups codes into the four failure families of the engine plus
// malformed requests.
type Kind string

const (
	KindUnknown      Kind = "UNKNOWN"
	KindNotFound     Kind = "NOT_FOUND"
	KindInvalidState Kind = "INVALID_STATE"
	KindPrecondition Kind = "PRECONDITION_FAILED"
	KindLedger       Kind = "LEDGER_FAILURE"
	KindBadRequest   Kind = "BAD_REQUEST"
)

// Code is a machine-readable failure code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Lookups.
	CodeMonsterNotFound  Code = "MONSTER_NOT_FOUND"
	CodePlayerNotFound   Code = "PLAYER_NOT_FOUND"
	CodeNoSnapshot       Code = "NO_SNAPSHOT"
	CodeIndexOutOfRange  Code = "INDEX_OUT_OF_RANGE"
	CodeDuplicateMonster Code = "DUPLICATE_MONSTER"

	// Lifecycle.
	CodeAlreadyOnline Code = "ALREADY_ONLINE"
	CodeNotOnline     Code = "NOT_ONLINE"

	// Rules.
	CodeNoUnsecuredAsset Code = "NO_UNSECURED_ASSET"
	CodeOutsideSafeZone  Code = "OUTSIDE_SAFE_ZONE"
	CodeOutOfRange       Code = "OUT_OF_RANGE"
	CodeSelfSteal        Code = "SELF_STEAL"
	CodeOutOfBounds      Code = "OUT_OF_BOUNDS"

	// Custody.
	CodeLedgerFailure Code = "LEDGER_FAILURE"

	// Requests.
	CodeBadAction Code = "BAD_ACTION"
)

// Kind maps a code to its family.
func (c Code) Kind() Kind {
	switch c {
	case CodeMonsterNotFound, CodePlayerNotFound, CodeNoSnapshot, CodeIndexOutOfRange:
		return KindNotFound
	case CodeAlreadyOnline, CodeNotOnline, CodeDuplicateMonster:
		return KindInvalidState
	case CodeNoUnsecuredAsset, CodeOutsideSafeZone, CodeOutOfRange, CodeSelfSteal, CodeOutOfBounds:
		return KindPrecondition
	case CodeLedgerFailure:
		return KindLedger
	case CodeBadAction:
		return KindBadRequest
	default:
		return KindUnknown
	}
}

// Error is the engine's failure type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error carrying the same code, so the package-level
// sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is.
var (
	ErrMonsterNotFound  = &Error{Code: CodeMonsterNotFound}
	ErrPlayerNotFound   = &Error{Code: CodePlayerNotFound}
	ErrNoSnapshot       = &Error{Code: CodeNoSnapshot}
	ErrIndexOutOfRange  = &Error{Code: CodeIndexOutOfRange}
	ErrAlreadyOnline    = &Error{Code: CodeAlreadyOnline}
	ErrNotOnline        = &Error{Code: CodeNotOnline}
	ErrNoUnsecuredAsset = &Error{Code: CodeNoUnsecuredAsset}
	ErrOutsideSafeZone  = &Error{Code: CodeOutsideSafeZone}
	ErrOutOfRange       = &Error{Code: CodeOutOfRange}
	ErrLedgerFailure    = &Error{Code: CodeLedgerFailure}
)

// CodeOf extracts the code from err, or CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// KindOf extracts the kind from err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return CodeOf(err).Kind()
}
