// pkg/uprotocol/rpc.go
// Error taxonomy for the RPC client surface.  InvokeMethod does not speak
// UStatus; it reports through RpcError so callers can distinguish mapper
// failures from transport statuses.
package uprotocol

import "fmt"

// RpcErrorKind classifies an RpcError.
type RpcErrorKind int

const (
	RpcUnexpectedError RpcErrorKind = iota
	RpcInvalidPayload
	RpcProtobufError
	RpcUnknownType
)

func (k RpcErrorKind) String() string {
	switch k {
	case RpcInvalidPayload:
		return "Invalid payload"
	case RpcProtobufError:
		return "Protobuf error"
	case RpcUnknownType:
		return "Unknown type"
	default:
		return "Unexpected error"
	}
}

// RpcError is the error type returned by the RPC client operations.
type RpcError struct {
	Kind   RpcErrorKind
	Reason string
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Unexpected builds an RpcError of kind UnexpectedError.
func Unexpected(reason string) *RpcError {
	return &RpcError{Kind: RpcUnexpectedError, Reason: reason}
}

// InvalidPayload builds an RpcError of kind InvalidPayload.
func InvalidPayload(reason string) *RpcError {
	return &RpcError{Kind: RpcInvalidPayload, Reason: reason}
}

// ProtobufErr builds an RpcError of kind ProtobufError.
func ProtobufErr(reason string) *RpcError {
	return &RpcError{Kind: RpcProtobufError, Reason: reason}
}
