package router

import (
	"context"
	"strings"
	"testing"
	"time"

	"net/http"
	"net/http/httptest"

	"github.com/Voskan/uplink/pkg/zenoh"
)

// startRouter serves the router over httptest and returns a ws:// endpoint.
func startRouter(t *testing.T, cfg Config) string {
	t.Helper()
	s := New(cfg)
	ts := httptest.NewServer(http.HandlerFunc(s.handleWebSocket))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialSession(t *testing.T, endpoint string) zenoh.Session {
	t.Helper()
	sess, err := zenoh.Open(zenoh.Config{Mode: "ws", Endpoint: endpoint, ConnectTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Open ws session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestRouterPubSub(t *testing.T) {
	endpoint := startRouter(t, DefaultConfig())
	pub := dialSession(t, endpoint)
	sub := dialSession(t, endpoint)

	got := make(chan zenoh.Sample, 1)
	handle, err := sub.DeclareSubscriber("router/topic", func(s zenoh.Sample) { got <- s })
	if err != nil {
		t.Fatalf("DeclareSubscriber: %v", err)
	}
	defer handle.Undeclare()

	// The subscribe frame races the put over two connections; give the
	// router a moment to register the handle.
	time.Sleep(50 * time.Millisecond)

	att := zenoh.Attachment{"uattributes": []byte{1, 2, 3}}
	enc := zenoh.Encoding{Prefix: zenoh.EncodingAppCustom, Suffix: "7"}
	if err := pub.Put(context.Background(), "router/topic", []byte("payload"), zenoh.PutOptions{Encoding: enc, Attachment: att}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	select {
	case s := <-got:
		if s.Key != "router/topic" || string(s.Value.Payload) != "payload" {
			t.Errorf("sample = %+v", s)
		}
		if s.Value.Encoding.Suffix != "7" {
			t.Errorf("suffix = %q, want 7", s.Value.Encoding.Suffix)
		}
		if v, ok := s.Attachment.Get("uattributes"); !ok || len(v) != 3 {
			t.Errorf("attachment = %+v", s.Attachment)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery within 2s")
	}
}

func TestRouterQueryReply(t *testing.T) {
	endpoint := startRouter(t, DefaultConfig())
	server := dialSession(t, endpoint)
	client := dialSession(t, endpoint)

	handle, err := server.DeclareQueryable("router/rpc", func(q *zenoh.Query) {
		if q.Value == nil || string(q.Value.Payload) != "ping" {
			t.Errorf("query = %+v", q.Value)
		}
		if err := q.Reply(zenoh.Sample{
			Key:   q.Key,
			Value: zenoh.Value{Payload: []byte("pong"), Encoding: zenoh.Encoding{Prefix: zenoh.EncodingAppCustom, Suffix: "7"}},
		}); err != nil {
			t.Errorf("Reply: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("DeclareQueryable: %v", err)
	}
	defer handle.Undeclare()

	time.Sleep(50 * time.Millisecond)

	v := zenoh.Value{Payload: []byte("ping")}
	replies, err := client.Get(context.Background(), "router/rpc", zenoh.GetOptions{Value: &v, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	select {
	case reply, ok := <-replies:
		if !ok {
			t.Fatal("reply channel closed without replies")
		}
		if reply.Err != nil || string(reply.Sample.Value.Payload) != "pong" {
			t.Errorf("reply = %+v", reply)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reply within 3s")
	}
}

func TestRouterReplaysRetainedSamples(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetentionDur = time.Minute
	endpoint := startRouter(t, cfg)

	pub := dialSession(t, endpoint)
	if err := pub.Put(context.Background(), "router/retained", []byte("old"), zenoh.PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	// Late subscriber still sees the retained sample.
	sub := dialSession(t, endpoint)
	got := make(chan zenoh.Sample, 1)
	handle, err := sub.DeclareSubscriber("router/retained", func(s zenoh.Sample) { got <- s })
	if err != nil {
		t.Fatalf("DeclareSubscriber: %v", err)
	}
	defer handle.Undeclare()

	select {
	case s := <-got:
		if string(s.Value.Payload) != "old" {
			t.Errorf("replayed payload = %q, want old", s.Value.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no replay within 2s")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	f := &zenoh.Frame{
		Op:         zenoh.OpQuery,
		ID:         3,
		Corr:       9,
		Key:        "a/b",
		Payload:    []byte{1, 2},
		Prefix:     uint8(zenoh.EncodingAppCustom),
		Suffix:     "7",
		HasValue:   true,
		Attachment: map[string][]byte{"uattributes": {4}},
	}
	raw, err := zenoh.EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	got, err := zenoh.DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.Op != f.Op || got.ID != f.ID || got.Corr != f.Corr || got.Key != f.Key ||
		string(got.Payload) != string(f.Payload) || got.Suffix != f.Suffix || !got.HasValue {
		t.Errorf("frame mismatch: %+v", got)
	}
}
