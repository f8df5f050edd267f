package zenoh

import (
	"context"
	"testing"
	"time"
)

func openTestSession(t *testing.T) Session {
	t.Helper()
	s, err := Open(DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInprocPutReachesSubscriber(t *testing.T) {
	pub := openTestSession(t)
	sub := openTestSession(t)

	got := make(chan Sample, 1)
	handle, err := sub.DeclareSubscriber("inproc/put", func(s Sample) { got <- s })
	if err != nil {
		t.Fatalf("DeclareSubscriber: %v", err)
	}
	defer handle.Undeclare()

	att := Attachment{"meta": []byte{1, 2}}
	enc := Encoding{Prefix: EncodingAppCustom, Suffix: "7"}
	if err := pub.Put(context.Background(), "inproc/put", []byte("hi"), PutOptions{Encoding: enc, Attachment: att}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	select {
	case s := <-got:
		if s.Key != "inproc/put" || string(s.Value.Payload) != "hi" {
			t.Errorf("sample = %+v", s)
		}
		if s.Value.Encoding != enc {
			t.Errorf("encoding = %+v, want %+v", s.Value.Encoding, enc)
		}
		if v, ok := s.Attachment.Get("meta"); !ok || len(v) != 2 {
			t.Errorf("attachment = %+v", s.Attachment)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery within 1s")
	}
}

func TestInprocDeliveryOrderPerKey(t *testing.T) {
	pub := openTestSession(t)
	sub := openTestSession(t)

	got := make(chan string, 16)
	handle, err := sub.DeclareSubscriber("inproc/order", func(s Sample) { got <- string(s.Value.Payload) })
	if err != nil {
		t.Fatalf("DeclareSubscriber: %v", err)
	}
	defer handle.Undeclare()

	want := []string{"a", "b", "c", "d"}
	for _, p := range want {
		if err := pub.Put(context.Background(), "inproc/order", []byte(p), PutOptions{}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	for _, w := range want {
		select {
		case g := <-got:
			if g != w {
				t.Fatalf("out of order: got %q, want %q", g, w)
			}
		case <-time.After(time.Second):
			t.Fatal("delivery stalled")
		}
	}
}

func TestInprocQueryReply(t *testing.T) {
	server := openTestSession(t)
	client := openTestSession(t)

	handle, err := server.DeclareQueryable("inproc/query", func(q *Query) {
		if q.Value == nil || string(q.Value.Payload) != "ping" {
			t.Errorf("query value = %+v", q.Value)
		}
		if err := q.Reply(Sample{Key: q.Key, Value: Value{Payload: []byte("pong")}}); err != nil {
			t.Errorf("Reply: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("DeclareQueryable: %v", err)
	}
	defer handle.Undeclare()

	v := Value{Payload: []byte("ping")}
	replies, err := client.Get(context.Background(), "inproc/query", GetOptions{Value: &v, Timeout: time.Second})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	reply, ok := <-replies
	if !ok {
		t.Fatal("reply channel closed without replies")
	}
	if reply.Err != nil || string(reply.Sample.Value.Payload) != "pong" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestInprocGetTimesOutWithoutQueryable(t *testing.T) {
	client := openTestSession(t)
	replies, err := client.Get(context.Background(), "inproc/nobody", GetOptions{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	select {
	case _, ok := <-replies:
		if ok {
			t.Error("unexpected reply")
		}
	case <-time.After(time.Second):
		t.Fatal("channel never closed")
	}
}

func TestInprocLateReplyAfterTimeout(t *testing.T) {
	server := openTestSession(t)
	client := openTestSession(t)

	queries := make(chan *Query, 1)
	handle, err := server.DeclareQueryable("inproc/late", func(q *Query) { queries <- q })
	if err != nil {
		t.Fatalf("DeclareQueryable: %v", err)
	}
	defer handle.Undeclare()

	replies, err := client.Get(context.Background(), "inproc/late", GetOptions{Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	q := <-queries
	for range replies {
		// drain until the timeout closes the channel
	}
	if err := q.Reply(Sample{Key: q.Key}); err != ErrQueryFinalized {
		t.Errorf("late Reply = %v, want ErrQueryFinalized", err)
	}
}

func TestInprocUndeclareStopsDelivery(t *testing.T) {
	pub := openTestSession(t)
	sub := openTestSession(t)

	got := make(chan Sample, 8)
	handle, err := sub.DeclareSubscriber("inproc/undeclare", func(s Sample) { got <- s })
	if err != nil {
		t.Fatalf("DeclareSubscriber: %v", err)
	}
	handle.Undeclare()
	handle.Undeclare() // idempotent

	if err := pub.Put(context.Background(), "inproc/undeclare", []byte("x"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	select {
	case <-got:
		t.Error("delivered after Undeclare")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInprocClosedSessionRejectsOps(t *testing.T) {
	s, err := Open(DefaultConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Put(context.Background(), "k", nil, PutOptions{}); err == nil {
		t.Error("Put on closed session = nil error")
	}
	if _, err := s.DeclareSubscriber("k", func(Sample) {}); err == nil {
		t.Error("DeclareSubscriber on closed session = nil error")
	}
}
