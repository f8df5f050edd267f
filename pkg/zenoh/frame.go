// pkg/zenoh/frame.go
// Wire envelope spoken between remote sessions and the uplink router.  One
// WebSocket binary message carries exactly one msgpack-encoded Frame.  The
// envelope is deliberately flat so that the router can route without
// understanding payload semantics.
package zenoh

import "github.com/hashicorp/go-msgpack/codec"

// Op discriminates frame purpose.
type Op uint8

const (
	OpPut         Op = 1 // client→router: route a sample
	OpSubscribe   Op = 2 // client→router: declare subscriber (ID = handle id)
	OpUnsubscribe Op = 3 // client→router: undeclare subscriber
	OpQueryable   Op = 4 // client→router: declare queryable (ID = handle id)
	OpUnqueryable Op = 5 // client→router: undeclare queryable
	OpQuery       Op = 6 // both: a get in flight (Corr = correlation id)
	OpReply       Op = 7 // both: one answer to a query
	OpSample      Op = 8 // router→client: delivery to a subscriber (ID = handle id)
)

// Frame is the routed unit.  Which fields are meaningful depends on Op:
// ID addresses a handle on the receiving side, Corr correlates a query with
// its replies across hops.
type Frame struct {
	Op         Op
	ID         uint64
	Corr       uint64
	Key        string
	Payload    []byte
	Prefix     uint8
	Suffix     string
	HasValue   bool
	Attachment map[string][]byte
	Error      string
}

var frameHandle codec.MsgpackHandle

// EncodeFrame marshals f into a msgpack byte slice.
func EncodeFrame(f *Frame) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, &frameHandle).Encode(f); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeFrame unmarshals one msgpack frame.
func DecodeFrame(b []byte) (*Frame, error) {
	var f Frame
	if err := codec.NewDecoderBytes(b, &frameHandle).Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// sampleFrame converts a routed sample into its wire form.
func sampleFrame(op Op, id, corr uint64, s Sample) *Frame {
	return &Frame{
		Op:         op,
		ID:         id,
		Corr:       corr,
		Key:        s.Key,
		Payload:    s.Value.Payload,
		Prefix:     uint8(s.Value.Encoding.Prefix),
		Suffix:     s.Value.Encoding.Suffix,
		HasValue:   true,
		Attachment: s.Attachment,
	}
}

// frameSample is the inverse of sampleFrame.
func frameSample(f *Frame) Sample {
	return Sample{
		Key: f.Key,
		Value: Value{
			Payload:  f.Payload,
			Encoding: Encoding{Prefix: EncodingPrefix(f.Prefix), Suffix: f.Suffix},
		},
		Attachment: Attachment(f.Attachment),
	}
}
