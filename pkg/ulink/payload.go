// pkg/ulink/payload.go
// Conversion between uProtocol payloads and substrate values.  Outbound, the
// payload bytes become the value and the decimal payload format becomes the
// AppCustom encoding suffix; inbound, the suffix parses back into the format
// and the contiguous value bytes become the payload data.
package ulink

import (
	"strconv"

	"github.com/Voskan/uplink/pkg/uprotocol"
	"github.com/Voskan/uplink/pkg/zenoh"
)

// payloadEncoding renders the format discriminator as the encoding suffix.
func payloadEncoding(p uprotocol.UPayload) zenoh.Encoding {
	return zenoh.Encoding{Prefix: zenoh.EncodingAppCustom}.
		WithSuffix(strconv.FormatInt(int64(p.Format), 10))
}

// payloadFromValue rebuilds a payload from an inbound substrate value.
func payloadFromValue(v zenoh.Value) (uprotocol.UPayload, error) {
	format, err := strconv.ParseInt(v.Encoding.Suffix, 10, 32)
	if err != nil {
		return uprotocol.UPayload{}, uprotocol.FailWithCode(uprotocol.UCodeInternal, "Unable to get payload encoding")
	}
	zero := int32(0)
	return uprotocol.UPayload{
		Format: uprotocol.UPayloadFormat(int32(format)),
		Length: &zero,
		Data:   uprotocol.Value(append([]byte(nil), v.Payload...)),
	}, nil
}
