// Package errcode renders the system's error taxonomy (§6): strings of the
// form "<PREFIX>-<CODE><N>" carrying a JSON-able details map, generalized
// from the teacher's pkg/utils.Wrap helper into a typed, code-carrying error.
package errcode

import (
	"errors"
	"fmt"
)

// Code is one member of the closed error taxonomy.
type Code string

const (
	HashMismatch        Code = "OBJ-HASH1"
	MalformedMicrodata  Code = "OBJ-PARSE1"
	TypeMismatch        Code = "OBJ-TYPE1"
	ValueOutOfRange     Code = "OBJ-RANGE1"
	BadHash             Code = "OBJ-HASH2"
	RejectedType        Code = "OBJ-REJECT1"
	ChildConsistency    Code = "SYN-CHILD1"
	RecipeUnknown       Code = "REC-UNKNOWN1"
	RecipeInvalid       Code = "REC-INVALID1"
	RecipeExists        Code = "REC-EXISTS1"
	AlgorithmTypeMismatch Code = "CRDT-TYPE1"
	CorruptObject       Code = "CRDT-CORRUPT1"
	NoCommonHistory     Code = "VG-NOCOMMON1"
	ProtocolMismatch    Code = "CHUM-PROTO1"
	AccessDenied        Code = "CHUM-ACCESS1"
	PeerUnknownService  Code = "CHUM-SVC1"
	PeerClosed          Code = "CHUM-CLOSED1"
	Internal            Code = "SYS-INTERNAL1"
)

// Error is a code-carrying error with an optional details map, rendered as
// "<PREFIX>-<CODE><N>: <message>".
type Error struct {
	code    Code
	message string
	details map[string]any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

func (e *Error) Code() Code                 { return e.code }
func (e *Error) Details() map[string]any    { return e.details }
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}
func (e *Error) Unwrap() error { return e.cause }

// Wrap attaches code and message context to an existing error, mirroring the
// teacher's utils.Wrap but carrying a taxonomy code. Returns nil if err is
// nil.
func Wrap(code Code, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, message: message, cause: err}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.code == code {
			return true
		}
		err = e.cause
	}
	return false
}
