// pkg/uprotocol/uri.go
// uProtocol URI data model plus the "long" textual serializer and the
// validators required by the transport layer.  The long form is
//
//	[//authority]/entity/version/resource[.instance][#message]
//
// where an absent version renders as an empty segment and trailing empty
// segments are trimmed.  Local URIs (no authority) start with a single
// leading slash.
package uprotocol

import (
	"strconv"
	"strings"
)

// UAuthority names the device or domain a URI is anchored to.  An empty
// authority means the URI is local.
type UAuthority struct {
	Name string
}

// UEntity identifies a software entity (an application or service).
type UEntity struct {
	Name         string
	VersionMajor *uint32
	ID           *uint32
}

// UResource identifies what the entity exposes under the URI: a resource
// name, an optional instance, and an optional message/type discriminator.
// RPC methods use the reserved resource name "rpc" with the method name as
// instance.
type UResource struct {
	Name     string
	Instance string
	Message  string
	ID       *uint32
}

// UUri is a structured uProtocol address.
type UUri struct {
	Authority *UAuthority
	Entity    *UEntity
	Resource  *UResource
}

const rpcResourceName = "rpc"

// ForRpcRequest builds the resource part of an RPC method URI.
func ForRpcRequest(method string) *UResource {
	return &UResource{Name: rpcResourceName, Instance: method}
}

// ForRpcResponse builds the resource part of an RPC response URI.
func ForRpcResponse() *UResource {
	return &UResource{Name: rpcResourceName, Instance: "response"}
}

// LongForm serializes u into the long textual representation.  An empty URI
// serializes to the empty string.
func LongForm(u UUri) string {
	var sb strings.Builder

	if u.Authority != nil && u.Authority.Name != "" {
		sb.WriteString("//")
		sb.WriteString(u.Authority.Name)
	}

	if u.Entity == nil || u.Entity.Name == "" {
		return sb.String()
	}
	sb.WriteByte('/')
	sb.WriteString(u.Entity.Name)

	version := ""
	if u.Entity.VersionMajor != nil {
		version = strconv.FormatUint(uint64(*u.Entity.VersionMajor), 10)
	}

	resource := ""
	if u.Resource != nil && u.Resource.Name != "" {
		resource = u.Resource.Name
		if u.Resource.Instance != "" {
			resource += "." + u.Resource.Instance
		}
		if u.Resource.Message != "" {
			resource += "#" + u.Resource.Message
		}
	}

	// Trailing empty segments are trimmed: "/entity" not "/entity//".
	if version == "" && resource == "" {
		return sb.String()
	}
	sb.WriteByte('/')
	sb.WriteString(version)
	if resource == "" {
		return sb.String()
	}
	sb.WriteByte('/')
	sb.WriteString(resource)
	return sb.String()
}

// Validate checks that u is a well-formed uProtocol URI: it must at least
// name an entity.
func Validate(u UUri) *UStatus {
	if u.Entity == nil || u.Entity.Name == "" {
		return FailWithCode(UCodeInvalidArgument, "Uri is missing uSoftware Entity name")
	}
	return nil
}

// ValidateRpcMethod checks that u addresses an RPC method: a valid URI whose
// resource is "rpc" with a non-empty method instance.
func ValidateRpcMethod(u UUri) *UStatus {
	if st := Validate(u); st != nil {
		return st
	}
	if u.Resource == nil || u.Resource.Name != rpcResourceName || u.Resource.Instance == "" {
		return FailWithCode(UCodeInvalidArgument, "Invalid RPC method uri")
	}
	return nil
}

// ValidateRpcResponse checks that u addresses an RPC response endpoint.
func ValidateRpcResponse(u UUri) *UStatus {
	if st := Validate(u); st != nil {
		return st
	}
	if u.Resource == nil || u.Resource.Name != rpcResourceName || u.Resource.Instance != "response" {
		return FailWithCode(UCodeInvalidArgument, "Invalid RPC response uri")
	}
	return nil
}

// Equal reports whether two URIs have the same long form.  Numeric IDs are
// not part of the long form and are not compared.
func Equal(a, b UUri) bool { return LongForm(a) == LongForm(b) }
