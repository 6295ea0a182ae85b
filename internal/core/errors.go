package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindConnect       ErrorKind = "connect"
	KindParse         ErrorKind = "parse"
	KindWrite         ErrorKind = "write"
	KindDelivery      ErrorKind = "delivery"
	KindValidation    ErrorKind = "validation"
	KindEvaluation    ErrorKind = "evaluation"
)

// Error is a classified failure. Op names the component or operation
// that produced it, e.g. "sink kafka://b:9092/t" or "action filter".
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func ConfigError(op string, format string, args ...any) error {
	return newError(KindConfiguration, op, fmt.Errorf(format, args...))
}

func ConnectError(op string, err error) error { return newError(KindConnect, op, err) }
func ParseError(op string, err error) error   { return newError(KindParse, op, err) }
func WriteError(op string, err error) error   { return newError(KindWrite, op, err) }

func DeliveryError(op string, err error) error { return newError(KindDelivery, op, err) }

func ValidationError(op string, err error) error { return newError(KindValidation, op, err) }

func EvaluationError(op string, err error) error { return newError(KindEvaluation, op, err) }

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsFatal reports whether err always terminates a run, independent of the
// configured policies.
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	if !ok {
		return false
	}
	switch k {
	case KindConfiguration, KindConnect, KindParse:
		return true
	}
	return false
}
