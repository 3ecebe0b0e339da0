package config

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by *Error. Match them with errors.Is.
var (
	ErrTemplateNotFound      = errors.New("template not found")
	ErrTemplateType          = errors.New("template reference must be a string or a list of strings")
	ErrTemplateCycle         = errors.New("template references itself")
	ErrSubstitutionCycle     = errors.New("placeholder cycle")
	ErrSubstitutionLimit     = errors.New("placeholder substitution did not converge")
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")
	ErrMissingField          = errors.New("missing required field")
	ErrInvalidValue          = errors.New("invalid value")
	ErrPathConflict          = errors.New("path is both a value and a section")
)

// Error is a configuration failure. It is always fatal and raised before any
// database I/O takes place.
type Error struct {
	Key string // dotted path or file the error refers to, may be empty
	Err error
	Msg string
}

func (e *Error) Error() string {
	var s string
	switch {
	case e.Key != "" && e.Msg != "":
		s = fmt.Sprintf("config: %s: %v: %s", e.Key, e.Err, e.Msg)
	case e.Key != "":
		s = fmt.Sprintf("config: %s: %v", e.Key, e.Err)
	case e.Msg != "":
		s = fmt.Sprintf("config: %v: %s", e.Err, e.Msg)
	default:
		s = fmt.Sprintf("config: %v", e.Err)
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(key string, cause error, format string, args ...any) *Error {
	e := &Error{Key: key, Err: cause}
	if format != "" {
		e.Msg = fmt.Sprintf(format, args...)
	}
	return e
}
