// pkg/uprotocol/attributes.go
// Message attributes and their binary codec.  Attributes travel alongside
// every payload; on the wire they are protobuf-encoded by hand with the
// protowire package so that the codec stays an exact, dependency-light
// inverse pair: Unmarshal(Marshal(a)) == a for every valid a.
//
// Field numbers are part of the wire contract and must not be renumbered:
//
//	1 id          (UUID message)
//	2 type        (varint)
//	3 sink        (string, long-form URI)
//	4 priority    (varint)
//	5 ttl         (varint, optional)
//	6 permission_level (varint, optional)
//	7 commstatus  (varint, optional)
//	8 reqid       (UUID message, optional)
//	9 token       (string, optional)
//	10 traceparent (string, optional)
//
// UUID submessage: 1 msb (fixed64), 2 lsb (fixed64).
package uprotocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// UMessageType discriminates the four uProtocol message kinds.
type UMessageType int32

const (
	UMessageTypeUnspecified UMessageType = 0
	UMessageTypePublish     UMessageType = 1
	UMessageTypeRequest     UMessageType = 2
	UMessageTypeResponse    UMessageType = 3
)

func (t UMessageType) String() string {
	switch t {
	case UMessageTypePublish:
		return "pub.v1"
	case UMessageTypeRequest:
		return "req.v1"
	case UMessageTypeResponse:
		return "res.v1"
	default:
		return "unspec.v1"
	}
}

// UPriority is the QoS classification of a message (CS0 lowest .. CS6
// highest).  The transport carries but does not interpret it.
type UPriority int32

const (
	UPriorityUnspecified UPriority = 0
	UPriorityCS0         UPriority = 1
	UPriorityCS1         UPriority = 2
	UPriorityCS2         UPriority = 3
	UPriorityCS3         UPriority = 4
	UPriorityCS4         UPriority = 5
	UPriorityCS5         UPriority = 6
	UPriorityCS6         UPriority = 7
)

// UUID is the uProtocol 128-bit identifier split into two 64-bit halves.
type UUID struct {
	Msb uint64
	Lsb uint64
}

// String renders the canonical "<msb-decimal>:<lsb-decimal>" form used to
// key pending RPC requests.  The rendering is injective.
func (u UUID) String() string {
	return fmt.Sprintf("%d:%d", u.Msb, u.Lsb)
}

// UAttributes carries per-message metadata.  Pointer fields are optional.
type UAttributes struct {
	ID              *UUID
	Type            UMessageType
	Sink            string
	Priority        UPriority
	TTL             *int32
	PermissionLevel *int32
	CommStatus      *int32
	ReqID           *UUID
	Token           *string
	Traceparent     *string
}

// ---------------------------------------------------------------------------
// Builder
// ---------------------------------------------------------------------------

// AttributesBuilder assembles UAttributes the way the upstream SDK does.
// Obtain one from PublishAttributes, RequestAttributes or ResponseAttributes
// and finish with Build.
type AttributesBuilder struct {
	a UAttributes
}

// PublishAttributes starts attributes for a publish message.
func PublishAttributes(p UPriority) *AttributesBuilder {
	return &AttributesBuilder{a: UAttributes{Type: UMessageTypePublish, Priority: p}}
}

// RequestAttributes starts attributes for an RPC request with the given
// time-to-live in milliseconds.
func RequestAttributes(p UPriority, ttl int32) *AttributesBuilder {
	return &AttributesBuilder{a: UAttributes{Type: UMessageTypeRequest, Priority: p, TTL: &ttl}}
}

// ResponseAttributes starts attributes for an RPC response correlated to
// reqid.
func ResponseAttributes(p UPriority, reqid UUID) *AttributesBuilder {
	return &AttributesBuilder{a: UAttributes{Type: UMessageTypeResponse, Priority: p, ReqID: &reqid}}
}

// WithID sets the message id.
func (b *AttributesBuilder) WithID(id UUID) *AttributesBuilder {
	b.a.ID = &id
	return b
}

// WithReqID sets the request correlation id.
func (b *AttributesBuilder) WithReqID(id UUID) *AttributesBuilder {
	b.a.ReqID = &id
	return b
}

// WithSink sets the destination URI in long form.
func (b *AttributesBuilder) WithSink(sink UUri) *AttributesBuilder {
	b.a.Sink = LongForm(sink)
	return b
}

// WithTTL overrides the time-to-live in milliseconds.
func (b *AttributesBuilder) WithTTL(ttl int32) *AttributesBuilder {
	b.a.TTL = &ttl
	return b
}

// WithToken sets the bearer token attribute.
func (b *AttributesBuilder) WithToken(tok string) *AttributesBuilder {
	b.a.Token = &tok
	return b
}

// Build returns the assembled attributes.
func (b *AttributesBuilder) Build() UAttributes { return b.a }

// ---------------------------------------------------------------------------
// Codec
// ---------------------------------------------------------------------------

const (
	fieldID          = 1
	fieldType        = 2
	fieldSink        = 3
	fieldPriority    = 4
	fieldTTL         = 5
	fieldPermission  = 6
	fieldCommStatus  = 7
	fieldReqID       = 8
	fieldToken       = 9
	fieldTraceparent = 10

	uuidFieldMsb = 1
	uuidFieldLsb = 2
)

func appendUUID(b []byte, u UUID) []byte {
	b = protowire.AppendTag(b, uuidFieldMsb, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, u.Msb)
	b = protowire.AppendTag(b, uuidFieldLsb, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, u.Lsb)
	return b
}

func parseUUID(b []byte) (UUID, error) {
	var u UUID
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return u, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.Fixed64Type {
			return u, fmt.Errorf("uuid: unexpected wire type %d", typ)
		}
		v, n := protowire.ConsumeFixed64(b)
		if n < 0 {
			return u, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case uuidFieldMsb:
			u.Msb = v
		case uuidFieldLsb:
			u.Lsb = v
		}
	}
	return u, nil
}

// Marshal encodes a into its protobuf wire form.
func (a UAttributes) Marshal() []byte {
	var b []byte
	if a.ID != nil {
		b = protowire.AppendTag(b, fieldID, protowire.BytesType)
		b = protowire.AppendBytes(b, appendUUID(nil, *a.ID))
	}
	if a.Type != UMessageTypeUnspecified {
		b = protowire.AppendTag(b, fieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Type))
	}
	if a.Sink != "" {
		b = protowire.AppendTag(b, fieldSink, protowire.BytesType)
		b = protowire.AppendString(b, a.Sink)
	}
	if a.Priority != UPriorityUnspecified {
		b = protowire.AppendTag(b, fieldPriority, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Priority))
	}
	if a.TTL != nil {
		b = protowire.AppendTag(b, fieldTTL, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(*a.TTL)))
	}
	if a.PermissionLevel != nil {
		b = protowire.AppendTag(b, fieldPermission, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(*a.PermissionLevel)))
	}
	if a.CommStatus != nil {
		b = protowire.AppendTag(b, fieldCommStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(*a.CommStatus)))
	}
	if a.ReqID != nil {
		b = protowire.AppendTag(b, fieldReqID, protowire.BytesType)
		b = protowire.AppendBytes(b, appendUUID(nil, *a.ReqID))
	}
	if a.Token != nil {
		b = protowire.AppendTag(b, fieldToken, protowire.BytesType)
		b = protowire.AppendString(b, *a.Token)
	}
	if a.Traceparent != nil {
		b = protowire.AppendTag(b, fieldTraceparent, protowire.BytesType)
		b = protowire.AppendString(b, *a.Traceparent)
	}
	return b
}

// UnmarshalAttributes decodes the protobuf wire form produced by Marshal.
// Unknown fields are skipped so the codec tolerates forward-compatible
// additions.
func UnmarshalAttributes(b []byte) (UAttributes, error) {
	var a UAttributes
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return a, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldID, fieldReqID:
			if typ != protowire.BytesType {
				return a, fmt.Errorf("uattributes: field %d: unexpected wire type %d", num, typ)
			}
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return a, protowire.ParseError(n)
			}
			b = b[n:]
			id, err := parseUUID(raw)
			if err != nil {
				return a, err
			}
			if num == fieldID {
				a.ID = &id
			} else {
				a.ReqID = &id
			}
		case fieldType, fieldPriority, fieldTTL, fieldPermission, fieldCommStatus:
			if typ != protowire.VarintType {
				return a, fmt.Errorf("uattributes: field %d: unexpected wire type %d", num, typ)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return a, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldType:
				a.Type = UMessageType(int32(v))
			case fieldPriority:
				a.Priority = UPriority(int32(v))
			case fieldTTL:
				ttl := int32(uint32(v))
				a.TTL = &ttl
			case fieldPermission:
				lvl := int32(uint32(v))
				a.PermissionLevel = &lvl
			case fieldCommStatus:
				cs := int32(uint32(v))
				a.CommStatus = &cs
			}
		case fieldSink, fieldToken, fieldTraceparent:
			if typ != protowire.BytesType {
				return a, fmt.Errorf("uattributes: field %d: unexpected wire type %d", num, typ)
			}
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return a, protowire.ParseError(n)
			}
			b = b[n:]
			s := string(raw)
			switch num {
			case fieldSink:
				a.Sink = s
			case fieldToken:
				a.Token = &s
			case fieldTraceparent:
				a.Traceparent = &s
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return a, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return a, nil
}
