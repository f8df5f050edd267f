// pkg/uprotocol/status.go
// Package uprotocol holds the uProtocol data model consumed by the uplink
// transport: URIs and their long textual form, message attributes with a
// binary codec, payloads, messages, and the status/error taxonomy.  The
// package is deliberately free of transport concerns so that other carriers
// can reuse it unchanged.
package uprotocol

import "fmt"

// UCode enumerates status codes.  Values mirror the canonical gRPC code
// space so that statuses can cross process boundaries without translation.
type UCode int32

const (
	UCodeOk                 UCode = 0
	UCodeCancelled          UCode = 1
	UCodeUnknown            UCode = 2
	UCodeInvalidArgument    UCode = 3
	UCodeDeadlineExceeded   UCode = 4
	UCodeNotFound           UCode = 5
	UCodeAlreadyExists      UCode = 6
	UCodePermissionDenied   UCode = 7
	UCodeResourceExhausted  UCode = 8
	UCodeFailedPrecondition UCode = 9
	UCodeAborted            UCode = 10
	UCodeOutOfRange         UCode = 11
	UCodeUnimplemented      UCode = 12
	UCodeInternal           UCode = 13
	UCodeUnavailable        UCode = 14
	UCodeDataLoss           UCode = 15
	UCodeUnauthenticated    UCode = 16
)

// String returns the SCREAMING_SNAKE name used in logs and wire statuses.
func (c UCode) String() string {
	switch c {
	case UCodeOk:
		return "OK"
	case UCodeCancelled:
		return "CANCELLED"
	case UCodeUnknown:
		return "UNKNOWN"
	case UCodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case UCodeDeadlineExceeded:
		return "DEADLINE_EXCEEDED"
	case UCodeNotFound:
		return "NOT_FOUND"
	case UCodeAlreadyExists:
		return "ALREADY_EXISTS"
	case UCodePermissionDenied:
		return "PERMISSION_DENIED"
	case UCodeResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case UCodeFailedPrecondition:
		return "FAILED_PRECONDITION"
	case UCodeAborted:
		return "ABORTED"
	case UCodeOutOfRange:
		return "OUT_OF_RANGE"
	case UCodeUnimplemented:
		return "UNIMPLEMENTED"
	case UCodeInternal:
		return "INTERNAL"
	case UCodeUnavailable:
		return "UNAVAILABLE"
	case UCodeDataLoss:
		return "DATA_LOSS"
	case UCodeUnauthenticated:
		return "UNAUTHENTICATED"
	default:
		return fmt.Sprintf("UCODE(%d)", int32(c))
	}
}

// UStatus is the outcome type of every transport operation.  A nil *UStatus
// means success; a non-nil value carries a code and a short human-readable
// message.  UStatus implements error so callers can treat it uniformly.
type UStatus struct {
	Code    UCode
	Message string
}

func (s *UStatus) Error() string {
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}

// FailWithCode builds a failed status with the given code and message.
func FailWithCode(code UCode, msg string) *UStatus {
	return &UStatus{Code: code, Message: msg}
}

// Fail is shorthand for an UNKNOWN failure.
func Fail(msg string) *UStatus { return FailWithCode(UCodeUnknown, msg) }

// IsFailed reports whether s represents a failure.
func (s *UStatus) IsFailed() bool { return s != nil && s.Code != UCodeOk }

// CodeOf extracts the UCode from an arbitrary error.  Non-UStatus errors map
// to UNKNOWN; nil maps to OK.
func CodeOf(err error) UCode {
	if err == nil {
		return UCodeOk
	}
	if st, ok := err.(*UStatus); ok {
		return st.Code
	}
	return UCodeUnknown
}
