package bridge

import (
	"fmt"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.lakehouse.dev/core/tamerr"
)

// SQLSTATE codes of translated errors.
const (
	CodeFeatureNotSupported pq.ErrorCode = "0A000"
	CodeIOError             pq.ErrorCode = "58030"
	CodeInvalidParameter    pq.ErrorCode = "22023"
	CodeInternalError       pq.ErrorCode = "XX000"
)

// ToHostError translates |err| into the host's error signaling convention.
// Errors which are already a *pq.Error pass through unchanged. Every
// translated error has severity ERROR, which aborts the host's current
// (sub)transaction.
func ToHostError(err error) *pq.Error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr
	}
	var out = &pq.Error{Severity: "ERROR", Message: err.Error(), Code: CodeInternalError}

	var (
		unsupported  *tamerr.UnsupportedOperation
		resourceIO   *tamerr.ResourceIOError
		validation   *tamerr.ValidationError
		inconsistent *tamerr.InconsistentStateError
	)
	switch {
	case errors.As(err, &unsupported):
		out.Code = CodeFeatureNotSupported
	case errors.As(err, &resourceIO):
		out.Code = CodeIOError
		out.Detail = fmt.Sprintf("resource %s", resourceIO.Location)
	case errors.As(err, &validation):
		out.Code = CodeInvalidParameter
		if validation.Option != "" {
			out.Detail = fmt.Sprintf("option %s", validation.Option)
		}
	case errors.As(err, &inconsistent):
		out.Code = CodeInternalError
	}
	return out
}

// translate returns nil or the translated *pq.Error of |err|, as an error.
func translate(err error) error {
	if err == nil {
		return nil
	}
	return ToHostError(err)
}

// guard invokes |fn|, translating its error and recovering a panic of
// engine code into an InconsistentStateError.
func guard(engine string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ToHostError(tamerr.NewInconsistentState("", "panic in access method %q: %v", engine, r))
		}
	}()
	return translate(fn())
}
