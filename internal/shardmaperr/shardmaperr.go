// Package shardmaperr implements the error sum type used across this
// module: a Category tag plus a specific Code, carrying the operation id
// and phase so recovery can discriminate which in-flight operation an
// error belongs to.
package shardmaperr

import (
	"fmt"
)

// Category groups error Codes by the subsystem that raised them.
type Category int

const (
	CategoryShardMap Category = iota
	CategoryShardMapManager
	CategoryRecovery
	CategoryGeneral
)

func (c Category) String() string {
	switch c {
	case CategoryShardMap:
		return "ShardMap"
	case CategoryShardMapManager:
		return "ShardMapManager"
	case CategoryRecovery:
		return "Recovery"
	case CategoryGeneral:
		return "General"
	default:
		return "Unknown"
	}
}

type Code int

const (
	CodeShardMapExists Code = iota
	CodeShardMapDoesNotExist
	CodeShardExists
	CodeShardDoesNotExist
	CodeShardVersionMismatch
	CodeShardHasMappings
	CodeMappingRangeAlreadyMapped
	CodeMappingDoesNotExist
	CodeMappingNotFoundForKey
	CodeMappingIsOffline
	CodeMappingLockMismatch
	CodeMappingRangesNotAdjacent
	CodeStaleVersion
	CodeStaleCache
	CodeStorageOperationFailure
	CodeStorageUnreachable
	CodeInvalidArgument
	CodeCanceled
)

var codeNames = [...]string{
	"ShardMapExists", "ShardMapDoesNotExist", "ShardExists", "ShardDoesNotExist",
	"ShardVersionMismatch", "ShardHasMappings", "MappingRangeAlreadyMapped",
	"MappingDoesNotExist", "MappingNotFoundForKey", "MappingIsOffline",
	"MappingLockMismatch", "MappingRangesNotAdjacent", "StaleVersion",
	"StaleCache", "StorageOperationFailure", "StorageUnreachable",
	"InvalidArgument", "Canceled",
}

func (c Code) String() string {
	if int(c) < 0 || int(c) >= len(codeNames) {
		return "Unknown"
	}
	return codeNames[c]
}

// Transient codes are the only ones pkg/retry will retry automatically.
func (c Code) Transient() bool {
	return c == CodeStorageOperationFailure || c == CodeStorageUnreachable
}

// Error is this module's sum-type error value.
type Error struct {
	Category    Category
	Code        Code
	Message     string
	OperationID string
	Phase       string
	Err         error
}

func (e *Error) Error() string {
	base := fmt.Sprintf("%s/%s: %s", e.Category, e.Code, e.Message)
	if e.OperationID != "" {
		base = fmt.Sprintf("%s [op=%s phase=%s]", base, e.OperationID, e.Phase)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", base, e.Err)
	}
	return base
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Transient() bool { return e.Code.Transient() }

func New(cat Category, code Code, message string) *Error {
	return &Error{Category: cat, Code: code, Message: message}
}

func Wrap(err error, cat Category, code Code, message string) *Error {
	return &Error{Category: cat, Code: code, Message: message, Err: err}
}

// WithOperation annotates e with the operation id and phase it failed in,
// returning e for chaining.
func (e *Error) WithOperation(operationID, phase string) *Error {
	e.OperationID = operationID
	e.Phase = phase
	return e
}

// As reports whether err is (or wraps) a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var target *Error
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	type unwrapper interface{ Unwrap() error }
	for u, ok := err.(unwrapper); ok; u, ok = err.(unwrapper) {
		err = u.Unwrap()
		if e, ok := err.(*Error); ok {
			target = e
			return target, true
		}
	}
	return nil, false
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}
