// pkg/zenoh/remote.go
// WebSocket carrier: a client session that attaches to an uplink router and
// speaks msgpack frames (see frame.go).  The session maintains a persistent
// connection and performs automatic reconnect with jittered exponential
// back-off; subscriptions and queryables are re-declared after a reconnect,
// while gets that were in flight fail with a carrier-level error.
package zenoh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Voskan/uplink/internal/logging"
)

type remoteSub struct {
	key string
	ch  chan Sample
}

type remoteQabl struct {
	key string
	ch  chan *Query
}

type remoteSession struct {
	cfg Config

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu     sync.Mutex
	closed bool
	nextID uint64
	subs   map[uint64]*remoteSub
	qabls  map[uint64]*remoteQabl
	gets   map[uint64]*getState

	closing chan struct{}
}

func openRemote(cfg Config) (Session, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("zenoh: ws carrier requires an endpoint")
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 64
	}
	s := &remoteSession{
		cfg:     cfg,
		subs:    make(map[uint64]*remoteSub),
		qabls:   make(map[uint64]*remoteQabl),
		gets:    make(map[uint64]*getState),
		closing: make(chan struct{}),
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	go s.readLoop()
	return s, nil
}

// connect dials the router and installs the new connection.
func (s *remoteSession) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("zenoh: dial %s: %w", s.cfg.Endpoint, err)
	}
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()
	return nil
}

func (s *remoteSession) writeFrame(f *Frame) error {
	raw, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return errors.New("zenoh: not connected")
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, raw)
}

// readLoop reads frames until the session closes, reconnecting on transport
// errors with the configured back-off policy.
func (s *remoteSession) readLoop() {
	for {
		s.writeMu.Lock()
		conn := s.conn
		s.writeMu.Unlock()
		if conn == nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
			}
			if !s.reconnect() {
				return
			}
			continue
		}
		f, err := DecodeFrame(raw)
		if err != nil {
			logging.Sugar().Warnw("bad frame from router", "err", err)
			continue
		}
		s.dispatch(f)
	}
}

func (s *remoteSession) dispatch(f *Frame) {
	switch f.Op {
	case OpSample:
		s.mu.Lock()
		sub := s.subs[f.ID]
		s.mu.Unlock()
		if sub == nil {
			return
		}
		select {
		case sub.ch <- frameSample(f):
		default:
			logging.Logger().Debug("dropping sample to slow subscriber", zap.String("key", f.Key))
		}
	case OpQuery:
		s.mu.Lock()
		qa := s.qabls[f.ID]
		s.mu.Unlock()
		if qa == nil {
			return
		}
		corr := f.Corr
		q := &Query{
			Key:        f.Key,
			Attachment: Attachment(f.Attachment),
		}
		if f.HasValue {
			v := Value{Payload: f.Payload, Encoding: Encoding{Prefix: EncodingPrefix(f.Prefix), Suffix: f.Suffix}}
			q.Value = &v
		}
		q.send = func(r Reply) error {
			if r.Err != nil {
				return s.writeFrame(&Frame{Op: OpReply, Corr: corr, Error: r.Err.Error()})
			}
			return s.writeFrame(sampleFrame(OpReply, 0, corr, r.Sample))
		}
		select {
		case qa.ch <- q:
		default:
			logging.Logger().Debug("dropping query to slow queryable", zap.String("key", f.Key))
		}
	case OpReply:
		s.mu.Lock()
		st := s.gets[f.Corr]
		s.mu.Unlock()
		if st == nil {
			return
		}
		if f.Error != "" {
			_ = st.push(Reply{Err: errors.New(f.Error)})
			return
		}
		_ = st.push(Reply{Sample: frameSample(f)})
	}
}

// reconnect redials the router and re-declares every live handle.  Returns
// false when the session is closing or the back-off policy gives up.
func (s *remoteSession) reconnect() bool {
	s.failPendingGets(errors.New("zenoh: connection lost"))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = time.Minute
	for {
		next := bo.NextBackOff()
		if next == backoff.Stop {
			logging.Sugar().Warnw("router unreachable, giving up", "endpoint", s.cfg.Endpoint)
			return false
		}
		select {
		case <-time.After(next):
		case <-s.closing:
			return false
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.connect(ctx)
		cancel()
		if err != nil {
			continue
		}
		if err := s.redeclare(); err != nil {
			logging.Sugar().Warnw("re-declare after reconnect", "err", err)
			continue
		}
		logging.Sugar().Infow("reconnected to router", "endpoint", s.cfg.Endpoint)
		return true
	}
}

func (s *remoteSession) redeclare() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if err := s.writeFrame(&Frame{Op: OpSubscribe, ID: id, Key: sub.key}); err != nil {
			return err
		}
	}
	for id, qa := range s.qabls {
		if err := s.writeFrame(&Frame{Op: OpQueryable, ID: id, Key: qa.key}); err != nil {
			return err
		}
	}
	return nil
}

func (s *remoteSession) failPendingGets(err error) {
	s.mu.Lock()
	gets := s.gets
	s.gets = make(map[uint64]*getState)
	s.mu.Unlock()
	for _, st := range gets {
		_ = st.push(Reply{Err: err})
		st.finalize()
	}
}

func (s *remoteSession) mint() uint64 {
	s.nextID++
	return s.nextID
}

func (s *remoteSession) Put(ctx context.Context, key string, payload []byte, opts PutOptions) error {
	if err := s.alive(); err != nil {
		return err
	}
	return s.writeFrame(&Frame{
		Op:         OpPut,
		Key:        key,
		Payload:    payload,
		Prefix:     uint8(opts.Encoding.Prefix),
		Suffix:     opts.Encoding.Suffix,
		HasValue:   true,
		Attachment: opts.Attachment,
	})
}

func (s *remoteSession) Get(ctx context.Context, key string, opts GetOptions) (<-chan Reply, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultGetTimeout
	}

	st := &getState{replies: make(chan Reply, 16)}
	s.mu.Lock()
	id := s.mint()
	s.gets[id] = st
	s.mu.Unlock()

	f := &Frame{Op: OpQuery, Corr: id, Key: key, Attachment: opts.Attachment}
	if opts.Value != nil {
		f.Payload = opts.Value.Payload
		f.Prefix = uint8(opts.Value.Encoding.Prefix)
		f.Suffix = opts.Value.Encoding.Suffix
		f.HasValue = true
	}
	if err := s.writeFrame(f); err != nil {
		s.mu.Lock()
		delete(s.gets, id)
		s.mu.Unlock()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(timeout):
		case <-s.closing:
		}
		s.mu.Lock()
		delete(s.gets, id)
		s.mu.Unlock()
		st.finalize()
	}()
	return st.replies, nil
}

func (s *remoteSession) DeclareSubscriber(key string, cb func(Sample)) (*Subscriber, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	rs := &remoteSub{key: key, ch: make(chan Sample, s.cfg.QueueLen)}
	go func() {
		for sample := range rs.ch {
			cb(sample)
		}
	}()

	s.mu.Lock()
	id := s.mint()
	s.subs[id] = rs
	s.mu.Unlock()

	if err := s.writeFrame(&Frame{Op: OpSubscribe, ID: id, Key: key}); err != nil {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		close(rs.ch)
		return nil, err
	}

	sub := &Subscriber{key: key}
	sub.undeclare = func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(rs.ch)
		}
		s.mu.Unlock()
		_ = s.writeFrame(&Frame{Op: OpUnsubscribe, ID: id})
	}
	return sub, nil
}

func (s *remoteSession) DeclareQueryable(key string, cb func(*Query)) (*Queryable, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	rq := &remoteQabl{key: key, ch: make(chan *Query, s.cfg.QueueLen)}
	go func() {
		for q := range rq.ch {
			cb(q)
		}
	}()

	s.mu.Lock()
	id := s.mint()
	s.qabls[id] = rq
	s.mu.Unlock()

	if err := s.writeFrame(&Frame{Op: OpQueryable, ID: id, Key: key}); err != nil {
		s.mu.Lock()
		delete(s.qabls, id)
		s.mu.Unlock()
		close(rq.ch)
		return nil, err
	}

	qa := &Queryable{key: key}
	qa.undeclare = func() {
		s.mu.Lock()
		if _, ok := s.qabls[id]; ok {
			delete(s.qabls, id)
			close(rq.ch)
		}
		s.mu.Unlock()
		_ = s.writeFrame(&Frame{Op: OpUnqueryable, ID: id})
	}
	return qa, nil
}

func (s *remoteSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	qabls := s.qabls
	s.subs = make(map[uint64]*remoteSub)
	s.qabls = make(map[uint64]*remoteQabl)
	s.mu.Unlock()

	close(s.closing)
	s.failPendingGets(errSessionClosed)
	for _, sub := range subs {
		close(sub.ch)
	}
	for _, qa := range qabls {
		close(qa.ch)
	}

	s.writeMu.Lock()
	conn := s.conn
	s.conn = nil
	s.writeMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *remoteSession) alive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	return nil
}
