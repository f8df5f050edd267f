package ulink

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Voskan/uplink/pkg/uprotocol"
	"github.com/Voskan/uplink/pkg/zenoh"
)

func newTestLink(t *testing.T) *Link {
	t.Helper()
	link, err := New(zenoh.DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = link.Close() })
	return link
}

// seqRand returns a deterministic random source yielding 0, 1, 2, ...
func seqRand(vals ...uint64) func() uint64 {
	var mu sync.Mutex
	var next uint64
	i := 0
	return func() uint64 {
		mu.Lock()
		defer mu.Unlock()
		if i < len(vals) {
			v := vals[i]
			i++
			return v
		}
		v := next + uint64(len(vals))
		next++
		return v
	}
}

func methodURI() uprotocol.UUri {
	return uprotocol.UUri{
		Entity:   &uprotocol.UEntity{Name: "test_rpc.app", VersionMajor: u32(1)},
		Resource: uprotocol.ForRpcRequest("SimpleTest"),
	}
}

func noopListener(*uprotocol.UMessage, error) {}

func statusOf(t *testing.T, err error) *uprotocol.UStatus {
	t.Helper()
	st, ok := err.(*uprotocol.UStatus)
	if !ok {
		t.Fatalf("error %v (%T) is not a *UStatus", err, err)
	}
	return st
}

func TestRegisterUnregisterListener(t *testing.T) {
	link := newTestLink(t)
	link.randU64 = seqRand()

	token, err := link.RegisterListener(doorTopic(), noopListener)
	if err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}
	want := `body.access/1/door.front_left\3Door_0`
	if token != want {
		t.Errorf("token = %q, want %q", token, want)
	}

	if err := link.UnregisterListener(doorTopic(), token); err != nil {
		t.Fatalf("UnregisterListener: %v", err)
	}

	err = link.UnregisterListener(doorTopic(), token)
	st := statusOf(t, err)
	if st.Code != uprotocol.UCodeInvalidArgument || st.Message != "Listener doesn't exist" {
		t.Errorf("second unregister = %v, want InvalidArgument Listener doesn't exist", st)
	}
}

func TestRpcListenerToken(t *testing.T) {
	link := newTestLink(t)
	link.randU64 = seqRand()

	token, err := link.RegisterRpcListener(methodURI(), noopListener)
	if err != nil {
		t.Fatalf("RegisterRpcListener: %v", err)
	}
	want := `test_rpc.app/1/rpc.SimpleTest_0`
	if token != want {
		t.Errorf("token = %q, want %q", token, want)
	}
	if err := link.UnregisterRpcListener(methodURI(), token); err != nil {
		t.Fatalf("UnregisterRpcListener: %v", err)
	}
}

func TestTokenMintingRetriesOnCollision(t *testing.T) {
	link := newTestLink(t)
	// 0 is drawn twice: the second registration must retry and land on 1.
	link.randU64 = seqRand(0, 0, 1)

	t1, err := link.RegisterListener(doorTopic(), noopListener)
	if err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}
	t2, err := link.RegisterListener(doorTopic(), noopListener)
	if err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}
	if t1 == t2 {
		t.Errorf("tokens collide: %q", t1)
	}
}

func TestPubSubEndToEnd(t *testing.T) {
	subscriber := newTestLink(t)
	publisher := newTestLink(t)
	topic := doorTopic()

	msgCh := make(chan *uprotocol.UMessage, 1)
	token, err := subscriber.RegisterListener(topic, func(msg *uprotocol.UMessage, err error) {
		if err != nil {
			t.Errorf("delivery error: %v", err)
			return
		}
		msgCh <- msg
	})
	if err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}
	defer func() { _ = subscriber.UnregisterListener(topic, token) }()

	attributes := uprotocol.PublishAttributes(uprotocol.UPriorityCS4).
		WithID(uprotocol.UUID{Msb: 11, Lsb: 22}).
		Build()
	payload := uprotocol.TextPayload("Hello World!")
	if err := publisher.Send(context.Background(), topic, payload, attributes); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-msgCh:
		if got := uprotocol.LongForm(*msg.Source); got != uprotocol.LongForm(topic) {
			t.Errorf("source = %q, want %q", got, uprotocol.LongForm(topic))
		}
		data, ok := msg.Payload.ValueBytes()
		if !ok || string(data) != "Hello World!" {
			t.Errorf("payload = %q (%v)", data, ok)
		}
		if msg.Payload.Format != uprotocol.UPayloadFormatText {
			t.Errorf("format = %v, want Text", msg.Payload.Format)
		}
		if !reflect.DeepEqual(*msg.Attributes, attributes) {
			t.Errorf("attributes mismatch\n got: %+v\nwant: %+v", *msg.Attributes, attributes)
		}
	case <-time.After(1000 * time.Millisecond):
		t.Fatal("no delivery within 1s")
	}
}

func TestRpcEndToEnd(t *testing.T) {
	server := newTestLink(t)
	client := newTestLink(t)
	method := methodURI()

	token, err := server.RegisterRpcListener(method, func(msg *uprotocol.UMessage, err error) {
		if err != nil {
			t.Errorf("server callback error: %v", err)
			return
		}
		data, ok := msg.Payload.ValueBytes()
		if !ok || string(data) != "This is the client data" {
			t.Errorf("server saw payload %q (%v)", data, ok)
		}
		// Reply from an application goroutine, never from the substrate
		// callback itself.
		go func() {
			attributes := *msg.Attributes
			attributes.Type = uprotocol.UMessageTypeResponse
			reply := uprotocol.TextPayload("This is the server data")
			if err := server.Send(context.Background(), *msg.Source, reply, attributes); err != nil {
				t.Errorf("reply Send: %v", err)
			}
		}()
	})
	if err != nil {
		t.Fatalf("RegisterRpcListener: %v", err)
	}
	defer func() { _ = server.UnregisterRpcListener(method, token) }()

	attributes := uprotocol.RequestAttributes(uprotocol.UPriorityCS4, 100).
		WithID(uprotocol.UUID{Msb: 1, Lsb: 1}).
		WithReqID(uprotocol.UUID{Msb: 0x0000000000018000, Lsb: 0x8000000000000000}).
		Build()
	result, err := client.InvokeMethod(context.Background(), method,
		uprotocol.TextPayload("This is the client data"), attributes)
	if err != nil {
		t.Fatalf("InvokeMethod: %v", err)
	}
	data, ok := result.ValueBytes()
	if !ok || string(data) != "This is the server data" {
		t.Errorf("result payload = %q (%v)", data, ok)
	}
}

func TestMalformedSampleDelivsErrorAndRecovers(t *testing.T) {
	link := newTestLink(t)
	topic := doorTopic()

	errCh := make(chan error, 1)
	msgCh := make(chan *uprotocol.UMessage, 1)
	token, err := link.RegisterListener(topic, func(msg *uprotocol.UMessage, err error) {
		if err != nil {
			errCh <- err
			return
		}
		msgCh <- msg
	})
	if err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}
	defer func() { _ = link.UnregisterListener(topic, token) }()

	// Inject a raw sample without the uattributes attachment.
	raw, err := zenoh.Open(zenoh.DefaultConfig())
	if err != nil {
		t.Fatalf("Open raw session: %v", err)
	}
	defer raw.Close()
	key, _ := uriToKey(topic)
	if err := raw.Put(context.Background(), key, []byte("x"), zenoh.PutOptions{
		Encoding: zenoh.Encoding{Prefix: zenoh.EncodingAppCustom, Suffix: "7"},
	}); err != nil {
		t.Fatalf("raw Put: %v", err)
	}

	select {
	case derr := <-errCh:
		st := statusOf(t, derr)
		if st.Code != uprotocol.UCodeInternal || st.Message != "Unable to get attachment" {
			t.Errorf("decode error = %v, want Internal Unable to get attachment", st)
		}
	case <-time.After(time.Second):
		t.Fatal("no error delivery within 1s")
	}

	// A well-formed publish afterwards still arrives.
	publisher := newTestLink(t)
	attributes := uprotocol.PublishAttributes(uprotocol.UPriorityCS4).Build()
	if err := publisher.Send(context.Background(), topic, uprotocol.TextPayload("ok"), attributes); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case msg := <-msgCh:
		if data, _ := msg.Payload.ValueBytes(); string(data) != "ok" {
			t.Errorf("payload = %q, want ok", data)
		}
	case <-time.After(time.Second):
		t.Fatal("no recovery delivery within 1s")
	}
}

func TestSendRejectsWrongMessageType(t *testing.T) {
	link := newTestLink(t)
	attributes := uprotocol.RequestAttributes(uprotocol.UPriorityCS4, 100).Build()
	err := link.Send(context.Background(), doorTopic(), uprotocol.TextPayload("x"), attributes)
	st := statusOf(t, err)
	if st.Code != uprotocol.UCodeInvalidArgument || st.Message != "Wrong Message type in UAttributes" {
		t.Errorf("Send(request) = %v", st)
	}
}

func TestSendRejectsInvalidTopic(t *testing.T) {
	link := newTestLink(t)
	attributes := uprotocol.PublishAttributes(uprotocol.UPriorityCS4).Build()
	err := link.Send(context.Background(), uprotocol.UUri{}, uprotocol.TextPayload("x"), attributes)
	st := statusOf(t, err)
	if st.Code != uprotocol.UCodeInvalidArgument || st.Message != "Invalid topic" {
		t.Errorf("Send(bad topic) = %v", st)
	}
}

func TestSendRejectsReferencePayload(t *testing.T) {
	link := newTestLink(t)
	attributes := uprotocol.PublishAttributes(uprotocol.UPriorityCS4).Build()
	payload := uprotocol.UPayload{
		Format: uprotocol.UPayloadFormatRaw,
		Data:   uprotocol.Reference(0xdeadbeef),
	}
	err := link.Send(context.Background(), doorTopic(), payload, attributes)
	st := statusOf(t, err)
	if st.Code != uprotocol.UCodeInvalidArgument || st.Message != "Invalid data" {
		t.Errorf("Send(reference payload) = %v", st)
	}
}

func TestSendResponseWithoutPendingRequest(t *testing.T) {
	link := newTestLink(t)
	attributes := uprotocol.ResponseAttributes(uprotocol.UPriorityCS4, uprotocol.UUID{Msb: 1, Lsb: 2}).Build()
	err := link.Send(context.Background(), methodURI(), uprotocol.TextPayload("x"), attributes)
	st := statusOf(t, err)
	if st.Code != uprotocol.UCodeInvalidArgument || st.Message != "No matching request" {
		t.Errorf("Send(orphan response) = %v", st)
	}
}

func TestSendResponseSurvivesFailedAttempt(t *testing.T) {
	server := newTestLink(t)
	client := newTestLink(t)
	method := methodURI()

	msgCh := make(chan *uprotocol.UMessage, 1)
	token, err := server.RegisterRpcListener(method, func(msg *uprotocol.UMessage, err error) {
		if err != nil {
			t.Errorf("server callback error: %v", err)
			return
		}
		msgCh <- msg
	})
	if err != nil {
		t.Fatalf("RegisterRpcListener: %v", err)
	}
	defer func() { _ = server.UnregisterRpcListener(method, token) }()

	attributes := uprotocol.RequestAttributes(uprotocol.UPriorityCS4, 100).
		WithReqID(uprotocol.UUID{Msb: 77, Lsb: 88}).
		Build()
	resultCh := make(chan uprotocol.UPayload, 1)
	go func() {
		result, err := client.InvokeMethod(context.Background(), method,
			uprotocol.TextPayload("ping"), attributes)
		if err != nil {
			t.Errorf("InvokeMethod: %v", err)
			return
		}
		resultCh <- result
	}()

	var msg *uprotocol.UMessage
	select {
	case msg = <-msgCh:
	case <-time.After(time.Second):
		t.Fatal("server never observed the request")
	}

	respAttrs := *msg.Attributes
	respAttrs.Type = uprotocol.UMessageTypeResponse

	// A failed reply attempt must not consume the pending request.
	bad := uprotocol.UPayload{Format: uprotocol.UPayloadFormatRaw, Data: uprotocol.Reference(1)}
	err = server.Send(context.Background(), *msg.Source, bad, respAttrs)
	st := statusOf(t, err)
	if st.Message != "Invalid data" {
		t.Fatalf("Send(bad response) = %v, want Invalid data", st)
	}

	if err := server.Send(context.Background(), *msg.Source, uprotocol.TextPayload("pong"), respAttrs); err != nil {
		t.Fatalf("Send(retry) = %v", err)
	}
	select {
	case result := <-resultCh:
		if data, _ := result.ValueBytes(); string(data) != "pong" {
			t.Errorf("result = %q, want pong", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never received the retried reply")
	}
}

func TestInvokeMethodRejectsReferencePayload(t *testing.T) {
	link := newTestLink(t)
	attributes := uprotocol.RequestAttributes(uprotocol.UPriorityCS4, 100).Build()
	payload := uprotocol.UPayload{Data: uprotocol.Reference(1)}
	_, err := link.InvokeMethod(context.Background(), methodURI(), payload, attributes)
	rpcErr, ok := err.(*uprotocol.RpcError)
	if !ok || rpcErr.Kind != uprotocol.RpcInvalidPayload || rpcErr.Reason != "Wrong UPayload" {
		t.Errorf("InvokeMethod(reference) = %v", err)
	}
}

func TestInvokeMethodTimesOutWithoutServer(t *testing.T) {
	link := newTestLink(t)
	// Method nobody serves: the intrinsic 1000 ms timeout expires.
	uri := uprotocol.UUri{
		Entity:   &uprotocol.UEntity{Name: "test_rpc.nobody", VersionMajor: u32(1)},
		Resource: uprotocol.ForRpcRequest("missing"),
	}
	attributes := uprotocol.RequestAttributes(uprotocol.UPriorityCS4, 100).
		WithReqID(uprotocol.UUID{Msb: 5, Lsb: 6}).
		Build()

	start := time.Now()
	_, err := link.InvokeMethod(context.Background(), uri, uprotocol.TextPayload("x"), attributes)
	rpcErr, ok := err.(*uprotocol.RpcError)
	if !ok || rpcErr.Reason != "Error while receiving Zenoh reply" {
		t.Fatalf("InvokeMethod = %v, want receive error", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond || elapsed > 3*time.Second {
		t.Errorf("timeout after %v, want ~1s", elapsed)
	}
}

func TestRpcRequestWithoutReqid(t *testing.T) {
	server := newTestLink(t)
	method := methodURI()

	errCh := make(chan error, 1)
	token, err := server.RegisterRpcListener(method, func(msg *uprotocol.UMessage, err error) {
		if err != nil {
			errCh <- err
		}
	})
	if err != nil {
		t.Fatalf("RegisterRpcListener: %v", err)
	}
	defer func() { _ = server.UnregisterRpcListener(method, token) }()

	// Attributes deliberately missing the reqid.
	attributes := uprotocol.RequestAttributes(uprotocol.UPriorityCS4, 100).Build()
	client := newTestLink(t)
	_, _ = client.InvokeMethod(context.Background(), method, uprotocol.TextPayload("x"), attributes)

	select {
	case derr := <-errCh:
		st := statusOf(t, derr)
		if st.Message != "The request is without reqid in UAttributes" {
			t.Errorf("server error = %v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the malformed request")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	subscriber := newTestLink(t)
	publisher := newTestLink(t)
	topic := uprotocol.UUri{
		Entity:   &uprotocol.UEntity{Name: "close.test", VersionMajor: u32(1)},
		Resource: &uprotocol.UResource{Name: "door"},
	}

	delivered := make(chan struct{}, 8)
	if _, err := subscriber.RegisterListener(topic, func(*uprotocol.UMessage, error) {
		delivered <- struct{}{}
	}); err != nil {
		t.Fatalf("RegisterListener: %v", err)
	}
	if err := subscriber.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	attributes := uprotocol.PublishAttributes(uprotocol.UPriorityCS4).Build()
	if err := publisher.Send(context.Background(), topic, uprotocol.TextPayload("x"), attributes); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case <-delivered:
		t.Error("listener delivered after Close")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAuthenticateUnimplemented(t *testing.T) {
	link := newTestLink(t)
	err := link.Authenticate(uprotocol.UEntity{Name: "body.access"}, []byte("tok"))
	st := statusOf(t, err)
	if st.Code != uprotocol.UCodeUnimplemented {
		t.Errorf("Authenticate = %v, want UNIMPLEMENTED", st)
	}
}
