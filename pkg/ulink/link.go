// pkg/ulink/link.go
// Package ulink projects the uProtocol transport contract (send,
// register_listener, unregister_listener, invoke_method plus the server-side
// rpc listener pair) onto a Zenoh-style pub/sub + query substrate.
//
// A Link owns one substrate session and three registries: live subscriber
// handles keyed by listener token, live queryable handles keyed by listener
// token, and pending inbound queries keyed by request id.  Registries are
// mutated both from application goroutines and from substrate callback
// goroutines; each map operation holds its mutex briefly and no lock is held
// across a substrate call or a user callback.
package ulink

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Voskan/uplink/internal/logging"
	"github.com/Voskan/uplink/internal/metrics"
	spanlink "github.com/Voskan/uplink/pkg/otel"
	"github.com/Voskan/uplink/pkg/uprotocol"
	"github.com/Voskan/uplink/pkg/zenoh"
)

// attachmentKey is the attachment entry carrying the encoded attributes of
// every message on the wire.
const attachmentKey = "uattributes"

// invokeTimeout bounds every InvokeMethod round trip.
const invokeTimeout = 1000 * time.Millisecond

// Listener receives deliveries for a registered topic.  On a decodable
// sample msg is non-nil and err is nil; when an inbound sample cannot be
// decoded the failure is delivered as err and the sample is dropped.
// Listeners run on substrate-owned goroutines and must not block
// indefinitely.
type Listener func(msg *uprotocol.UMessage, err error)

// Link is the transport adapter.  Create one with New; it stays usable until
// Close.
type Link struct {
	session zenoh.Session
	tracer  trace.Tracer
	randU64 func() uint64

	subsMu      sync.Mutex
	subscribers map[string]*zenoh.Subscriber

	qablsMu    sync.Mutex
	queryables map[string]*zenoh.Queryable

	pendingMu sync.Mutex
	pending   map[string]*zenoh.Query
}

// New opens a substrate session from cfg and returns a ready Link.
func New(cfg zenoh.Config) (*Link, error) {
	session, err := zenoh.Open(cfg)
	if err != nil {
		logging.Sugar().Errorw("open session", "err", err)
		return nil, uprotocol.FailWithCode(uprotocol.UCodeInternal, "Unable to open Zenoh session")
	}
	return &Link{
		session:     session,
		tracer:      otel.Tracer("github.com/Voskan/uplink/pkg/ulink"),
		randU64:     rand.Uint64,
		subscribers: make(map[string]*zenoh.Subscriber),
		queryables:  make(map[string]*zenoh.Queryable),
		pending:     make(map[string]*zenoh.Query),
	}, nil
}

// Close undeclares every live listener, drops pending queries, and closes
// the substrate session.  Listeners registered through this Link receive
// nothing published after Close returns; samples or queries already queued
// for a listener's dispatch goroutine at that moment are still delivered.
func (l *Link) Close() error {
	l.subsMu.Lock()
	subs := l.subscribers
	l.subscribers = make(map[string]*zenoh.Subscriber)
	l.subsMu.Unlock()
	for _, sub := range subs {
		sub.Undeclare()
	}

	l.qablsMu.Lock()
	qabls := l.queryables
	l.queryables = make(map[string]*zenoh.Queryable)
	l.qablsMu.Unlock()
	for _, qa := range qabls {
		qa.Undeclare()
	}

	l.pendingMu.Lock()
	l.pending = make(map[string]*zenoh.Query)
	l.pendingMu.Unlock()

	return l.session.Close()
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

// Send transmits a message over the topic URI.  Publish messages are routed
// to subscribers; Response messages complete the pending query identified by
// attributes.reqid.  Request messages are rejected: initiating an RPC is
// InvokeMethod's job.
func (l *Link) Send(ctx context.Context, topic uprotocol.UUri, payload uprotocol.UPayload, attributes uprotocol.UAttributes) error {
	ctx, span := l.tracer.Start(ctx, "ulink.Send",
		trace.WithAttributes(attribute.String("uplink.type", attributes.Type.String())))
	defer span.End()

	if st := uprotocol.Validate(topic); st != nil {
		return uprotocol.FailWithCode(uprotocol.UCodeInvalidArgument, "Invalid topic")
	}
	switch attributes.Type {
	case uprotocol.UMessageTypePublish:
		return l.sendPublish(ctx, topic, payload, attributes)
	case uprotocol.UMessageTypeResponse:
		return l.sendResponse(topic, payload, attributes)
	default:
		return uprotocol.FailWithCode(uprotocol.UCodeInvalidArgument, "Wrong Message type in UAttributes")
	}
}

func (l *Link) sendPublish(ctx context.Context, topic uprotocol.UUri, payload uprotocol.UPayload, attributes uprotocol.UAttributes) error {
	key, err := uriToKey(topic)
	if err != nil {
		return err
	}
	data, ok := payload.ValueBytes()
	if !ok {
		return uprotocol.FailWithCode(uprotocol.UCodeInvalidArgument, "Invalid data")
	}
	att := zenoh.Attachment{attachmentKey: attributes.Marshal()}
	if err := l.session.Put(ctx, key, data, zenoh.PutOptions{
		Encoding:   payloadEncoding(payload),
		Attachment: att,
	}); err != nil {
		logging.Sugar().Warnw("put", "key", key, "err", err)
		return uprotocol.FailWithCode(uprotocol.UCodeInternal, "Unable to send with Zenoh")
	}
	metrics.MessagesSent.Inc()
	return nil
}

func (l *Link) sendResponse(topic uprotocol.UUri, payload uprotocol.UPayload, attributes uprotocol.UAttributes) error {
	if attributes.ReqID == nil {
		return uprotocol.FailWithCode(uprotocol.UCodeInvalidArgument, "No matching request")
	}
	key, err := uriToKey(topic)
	if err != nil {
		return err
	}
	data, ok := payload.ValueBytes()
	if !ok {
		return uprotocol.FailWithCode(uprotocol.UCodeInvalidArgument, "Invalid data")
	}

	rid := attributes.ReqID.String()
	l.pendingMu.Lock()
	query, ok := l.pending[rid]
	l.pendingMu.Unlock()
	if !ok {
		return uprotocol.FailWithCode(uprotocol.UCodeInvalidArgument, "No matching request")
	}

	sample := zenoh.Sample{
		Key:        key,
		Value:      zenoh.Value{Payload: data, Encoding: payloadEncoding(payload)},
		Attachment: zenoh.Attachment{attachmentKey: attributes.Marshal()},
	}
	if err := query.Reply(sample); err != nil {
		logging.Sugar().Warnw("reply", "key", key, "err", err)
		return uprotocol.FailWithCode(uprotocol.UCodeInternal, "Unable to reply with Zenoh")
	}

	// The entry is consumed only once the reply went out; a failed Send
	// leaves it in place so the application can retry.
	l.pendingMu.Lock()
	if l.pending[rid] == query {
		delete(l.pending, rid)
	}
	l.pendingMu.Unlock()

	metrics.MessagesSent.Inc()
	return nil
}

// ---------------------------------------------------------------------------
// Pub/sub listeners
// ---------------------------------------------------------------------------

// RegisterListener subscribes cb to the topic URI and returns the opaque
// token required to unregister it.
func (l *Link) RegisterListener(topic uprotocol.UUri, cb Listener) (string, error) {
	if st := uprotocol.Validate(topic); st != nil {
		return "", uprotocol.FailWithCode(uprotocol.UCodeInvalidArgument, "Invalid topic")
	}
	key, err := uriToKey(topic)
	if err != nil {
		return "", err
	}

	source := topic
	sub, err := l.session.DeclareSubscriber(key, func(sample zenoh.Sample) {
		_, span := spanlink.StartCallbackSpan(l.tracer, "ulink.deliver", sample.Key)
		defer span.End()

		msg, derr := decodeSample(source, sample)
		if derr != nil {
			span.RecordError(derr)
			metrics.DecodeFailures.Inc()
			logging.Sugar().Warnw("drop sample", "key", sample.Key, "err", derr)
			cb(nil, derr)
			return
		}
		metrics.MessagesReceived.Inc()
		cb(msg, nil)
	})
	if err != nil {
		logging.Sugar().Warnw("declare subscriber", "key", key, "err", err)
		return "", uprotocol.FailWithCode(uprotocol.UCodeInternal, "Unable to register callback with Zenoh")
	}

	l.subsMu.Lock()
	token := l.mintToken(key, func(t string) bool { _, exists := l.subscribers[t]; return exists })
	l.subscribers[token] = sub
	l.subsMu.Unlock()
	return token, nil
}

// UnregisterListener removes the subscription identified by token.  The
// topic is validated for well-formedness; the token alone locates the entry.
// A second unregister with the same token fails.
func (l *Link) UnregisterListener(topic uprotocol.UUri, token string) error {
	if st := uprotocol.Validate(topic); st != nil {
		return uprotocol.FailWithCode(uprotocol.UCodeInvalidArgument, "Invalid topic")
	}
	l.subsMu.Lock()
	sub, ok := l.subscribers[token]
	if ok {
		delete(l.subscribers, token)
	}
	l.subsMu.Unlock()
	if !ok {
		return uprotocol.FailWithCode(uprotocol.UCodeInvalidArgument, "Listener doesn't exist")
	}
	sub.Undeclare()
	return nil
}

// decodeSample turns an inbound substrate sample into a UMessage: attachment
// → uattributes entry → attribute decode → encoding suffix.  Any failure
// aborts the sample.
func decodeSample(topic uprotocol.UUri, s zenoh.Sample) (*uprotocol.UMessage, error) {
	if s.Attachment == nil {
		return nil, uprotocol.FailWithCode(uprotocol.UCodeInternal, "Unable to get attachment")
	}
	raw, ok := s.Attachment.Get(attachmentKey)
	if !ok {
		return nil, uprotocol.FailWithCode(uprotocol.UCodeInternal, "Unable to get uattributes")
	}
	attrs, err := uprotocol.UnmarshalAttributes(raw)
	if err != nil {
		return nil, uprotocol.FailWithCode(uprotocol.UCodeInternal, "Unable to decode attribute")
	}
	payload, err := payloadFromValue(s.Value)
	if err != nil {
		return nil, err
	}
	source := topic
	return &uprotocol.UMessage{
		Source:     &source,
		Attributes: &attrs,
		Payload:    &payload,
	}, nil
}

// mintToken draws random hex suffixes until the token is unique within the
// registry probed by exists.  Callers hold the registry lock.
func (l *Link) mintToken(key string, exists func(string) bool) string {
	for {
		token := key + "_" + strconv.FormatUint(l.randU64(), 16)
		if !exists(token) {
			return token
		}
	}
}

// ---------------------------------------------------------------------------
// RPC server side
// ---------------------------------------------------------------------------

// RegisterRpcListener declares a queryable on the method URI.  Each inbound
// query is decoded, stashed under its request id, and delivered to cb; the
// application answers by calling Send with Response attributes carrying the
// same request id.
func (l *Link) RegisterRpcListener(method uprotocol.UUri, cb Listener) (string, error) {
	if st := uprotocol.Validate(method); st != nil {
		return "", uprotocol.FailWithCode(uprotocol.UCodeInvalidArgument, "Invalid topic")
	}
	key, err := uriToKey(method)
	if err != nil {
		return "", err
	}

	source := method
	qa, err := l.session.DeclareQueryable(key, func(q *zenoh.Query) {
		l.handleQuery(source, q, cb)
	})
	if err != nil {
		logging.Sugar().Warnw("declare queryable", "key", key, "err", err)
		return "", uprotocol.FailWithCode(uprotocol.UCodeInternal, "Unable to register callback with Zenoh")
	}

	l.qablsMu.Lock()
	token := l.mintToken(key, func(t string) bool { _, exists := l.queryables[t]; return exists })
	l.queryables[token] = qa
	l.qablsMu.Unlock()
	return token, nil
}

// UnregisterRpcListener removes the queryable identified by token.
func (l *Link) UnregisterRpcListener(method uprotocol.UUri, token string) error {
	if st := uprotocol.Validate(method); st != nil {
		return uprotocol.FailWithCode(uprotocol.UCodeInvalidArgument, "Invalid topic")
	}
	l.qablsMu.Lock()
	qa, ok := l.queryables[token]
	if ok {
		delete(l.queryables, token)
	}
	l.qablsMu.Unlock()
	if !ok {
		return uprotocol.FailWithCode(uprotocol.UCodeInvalidArgument, "Listener doesn't exist")
	}
	qa.Undeclare()
	return nil
}

func (l *Link) handleQuery(source uprotocol.UUri, q *zenoh.Query, cb Listener) {
	_, span := spanlink.StartCallbackSpan(l.tracer, "ulink.serve", q.Key)
	defer span.End()

	if q.Attachment == nil {
		metrics.DecodeFailures.Inc()
		cb(nil, uprotocol.FailWithCode(uprotocol.UCodeInternal, "Unable to get attachment"))
		return
	}
	raw, ok := q.Attachment.Get(attachmentKey)
	if !ok {
		metrics.DecodeFailures.Inc()
		cb(nil, uprotocol.FailWithCode(uprotocol.UCodeInternal, "Unable to get uattributes"))
		return
	}
	attrs, err := uprotocol.UnmarshalAttributes(raw)
	if err != nil {
		metrics.DecodeFailures.Inc()
		cb(nil, uprotocol.FailWithCode(uprotocol.UCodeInternal, "Unable to decode attribute"))
		return
	}

	var payload uprotocol.UPayload
	if q.Value != nil {
		payload, err = payloadFromValue(*q.Value)
		if err != nil {
			metrics.DecodeFailures.Inc()
			cb(nil, err)
			return
		}
	} else {
		payload = uprotocol.UPayload{Format: uprotocol.UPayloadFormatUnspecified}
	}

	if attrs.ReqID == nil {
		cb(nil, uprotocol.FailWithCode(uprotocol.UCodeInternal, "The request is without reqid in UAttributes"))
		return
	}
	rid := attrs.ReqID.String()

	l.pendingMu.Lock()
	if _, dup := l.pending[rid]; dup {
		// Concurrent duplicate reqid: last writer wins.
		logging.Logger().Warn("overwriting pending request", zap.String("reqid", rid))
	}
	l.pending[rid] = q
	l.pendingMu.Unlock()

	metrics.MessagesReceived.Inc()
	src := source
	cb(&uprotocol.UMessage{Source: &src, Attributes: &attrs, Payload: &payload}, nil)
}

// ---------------------------------------------------------------------------
// RPC client side
// ---------------------------------------------------------------------------

// InvokeMethod issues one request to the method URI and returns the payload
// of the first reply.  Later replies are discarded; the round trip is bounded
// by a fixed 1000 ms timeout.
func (l *Link) InvokeMethod(ctx context.Context, method uprotocol.UUri, payload uprotocol.UPayload, attributes uprotocol.UAttributes) (uprotocol.UPayload, error) {
	ctx, span := l.tracer.Start(ctx, "ulink.InvokeMethod")
	defer span.End()

	if st := uprotocol.Validate(method); st != nil {
		return uprotocol.UPayload{}, uprotocol.Unexpected("Wrong UUri")
	}
	key, err := uriToKey(method)
	if err != nil {
		return uprotocol.UPayload{}, uprotocol.Unexpected("Wrong UUri")
	}
	data, ok := payload.ValueBytes()
	if !ok {
		return uprotocol.UPayload{}, uprotocol.InvalidPayload("Wrong UPayload")
	}

	value := zenoh.Value{Payload: data, Encoding: payloadEncoding(payload)}
	replies, err := l.session.Get(ctx, key, zenoh.GetOptions{
		Value:      &value,
		Attachment: zenoh.Attachment{attachmentKey: attributes.Marshal()},
		Target:     zenoh.BestMatching,
		Timeout:    invokeTimeout,
	})
	if err != nil {
		span.RecordError(err)
		metrics.RpcFailures.Inc()
		return uprotocol.UPayload{}, uprotocol.Unexpected("Error while sending Zenoh query")
	}
	metrics.RpcRequests.Inc()

	reply, ok := <-replies
	if !ok {
		metrics.RpcFailures.Inc()
		return uprotocol.UPayload{}, uprotocol.Unexpected("Error while receiving Zenoh reply")
	}
	if reply.Err != nil {
		span.RecordError(reply.Err)
		metrics.RpcFailures.Inc()
		return uprotocol.UPayload{}, uprotocol.Unexpected("Error while parsing Zenoh reply")
	}
	result, err := payloadFromValue(reply.Sample.Value)
	if err != nil {
		metrics.RpcFailures.Inc()
		return uprotocol.UPayload{}, uprotocol.Unexpected("Error while parsing Zenoh encoding")
	}
	return result, nil
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// Authenticate is part of the transport contract but intentionally not
// implemented by this adapter.
func (l *Link) Authenticate(entity uprotocol.UEntity, token []byte) error {
	return uprotocol.FailWithCode(uprotocol.UCodeUnimplemented, "Not implemented")
}
