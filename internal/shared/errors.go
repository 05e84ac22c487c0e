package shared

import (
	"errors"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindUsage         ErrorKind = "usage"
	KindPackageFormat ErrorKind = "package-format"
	KindBuild         ErrorKind = "build"
	KindResolution    ErrorKind = "resolution"
	KindNetwork       ErrorKind = "network"
)

// KindError tags an errbuilder error with the failure class callers
// branch on. The wrapped error keeps its code for exit status mapping.
type KindError struct {
	Kind ErrorKind
	Log  string
	Err  error
}

func (e *KindError) Error() string {
	return e.Err.Error()
}

func (e *KindError) Unwrap() error {
	return e.Err
}

func ConfigurationError(msg string, cause error) error {
	return newKindError(KindConfiguration, errbuilder.CodeInvalidArgument, msg, cause)
}

func UsageError(msg string) error {
	return newKindError(KindUsage, errbuilder.CodeInvalidArgument, msg, nil)
}

func PackageFormatError(msg string, cause error) error {
	return newKindError(KindPackageFormat, errbuilder.CodeFailedPrecondition, msg, cause)
}

func ResolutionError(msg string, cause error) error {
	return newKindError(KindResolution, errbuilder.CodeNotFound, msg, cause)
}

func NetworkError(msg string, cause error) error {
	return newKindError(KindNetwork, errbuilder.CodeInternal, msg, cause)
}

// BuildError keeps the captured build log verbatim on the error.
func BuildError(msg string, log []byte, cause error) error {
	err := newKindError(KindBuild, errbuilder.CodeInternal, msg, CommandError(log, cause))
	err.Log = string(log)
	return err
}

// KindOf returns the kind of the first KindError in err's chain.
func KindOf(err error) ErrorKind {
	var kindErr *KindError
	if errors.As(err, &kindErr) {
		return kindErr.Kind
	}
	return ""
}

func newKindError(kind ErrorKind, code errbuilder.ErrCode, msg string, cause error) *KindError {
	builder := errbuilder.New().
		WithCode(code).
		WithMsg(msg)
	if cause != nil {
		builder = builder.WithCause(cause)
	}
	return &KindError{Kind: kind, Err: builder}
}
