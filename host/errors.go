package host

import (
	"fmt"

	"github.com/lib/pq"
	"go.lakehouse.dev/core/bridge"
)

// SQLSTATE codes raised by the Host itself.
const (
	CodeActiveTransaction   pq.ErrorCode = "25001"
	CodeNoActiveTransaction pq.ErrorCode = "25P01"
	CodeInFailedTransaction pq.ErrorCode = "25P02"
	CodeInvalidSavepoint    pq.ErrorCode = "3B001"
	CodeUndefinedTable      pq.ErrorCode = "42P01"
	CodeDuplicateTable      pq.ErrorCode = "42P07"
	CodeUndefinedObject     pq.ErrorCode = "42704"
	CodeDuplicateObject     pq.ErrorCode = "42710"
	CodeReservedName        pq.ErrorCode = "42939"
	CodeObjectNotInPrereq   pq.ErrorCode = "55000"
	CodeInvalidParameter    pq.ErrorCode = bridge.CodeInvalidParameter
)

func hostError(code pq.ErrorCode, format string, args ...interface{}) *pq.Error {
	return &pq.Error{Severity: "ERROR", Code: code, Message: fmt.Sprintf(format, args...)}
}

var errInFailedTransaction = hostError(CodeInFailedTransaction,
	"current transaction is aborted, commands ignored until end of transaction block")

// Code returns the SQLSTATE of |err|, or "" if |err| is nil.
func Code(err error) pq.ErrorCode {
	if err == nil {
		return ""
	}
	return bridge.ToHostError(err).Code
}

// toHostError returns |err| as a *pq.Error, or nil.
func toHostError(err error) error {
	if err == nil {
		return nil
	}
	return bridge.ToHostError(err)
}
