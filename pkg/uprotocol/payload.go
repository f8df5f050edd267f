// pkg/uprotocol/payload.go
// Payload model.  A payload is a format discriminator plus data that is
// either an inline byte value, a shared-memory reference, or absent.  The
// uplink transport only carries inline values; references exist in the model
// so callers get a typed rejection instead of silent corruption.
package uprotocol

// UPayloadFormat enumerates the serialization of payload bytes.
type UPayloadFormat int32

const (
	UPayloadFormatUnspecified         UPayloadFormat = 0
	UPayloadFormatProtobufWrappedAny  UPayloadFormat = 1
	UPayloadFormatProtobuf            UPayloadFormat = 2
	UPayloadFormatJSON                UPayloadFormat = 3
	UPayloadFormatSomeIP              UPayloadFormat = 4
	UPayloadFormatSomeIPTLV           UPayloadFormat = 5
	UPayloadFormatRaw                 UPayloadFormat = 6
	UPayloadFormatText                UPayloadFormat = 7
)

// Data is the closed set of payload data representations.
type Data interface{ isData() }

// Value is an inline byte payload.
type Value []byte

func (Value) isData() {}

// Reference is a shared-memory payload handle.  The transport rejects it.
type Reference uint64

func (Reference) isData() {}

// UPayload couples data with its format.  A nil Data means no payload.
type UPayload struct {
	Format UPayloadFormat
	Length *int32
	Data   Data
}

// TextPayload builds an inline text payload, the common case in examples
// and tests.
func TextPayload(s string) UPayload {
	zero := int32(0)
	return UPayload{
		Format: UPayloadFormatText,
		Length: &zero,
		Data:   Value([]byte(s)),
	}
}

// ValueBytes returns the inline bytes, or false when the payload carries no
// inline value.
func (p UPayload) ValueBytes() ([]byte, bool) {
	v, ok := p.Data.(Value)
	if !ok {
		return nil, false
	}
	return []byte(v), true
}
