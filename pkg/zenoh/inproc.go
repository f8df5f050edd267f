// pkg/zenoh/inproc.go
// In-process carrier: a process-wide hub that routes puts to exact-key
// subscribers and gets to exact-key queryables.  Every inproc session opened
// in the process attaches to the same hub, so two sessions reach each other
// the way two peers on a local Zenoh network would.
//
// Callbacks are driven by one dispatch goroutine per handle fed through a
// buffered channel: delivery order per key is preserved per handle while
// distinct handles fire concurrently.  Slow consumers are skipped rather
// than allowed to block the hub.
package zenoh

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Voskan/uplink/internal/logging"
)

type subEntry struct {
	ch chan Sample
}

type qablEntry struct {
	ch chan *Query
}

type hub struct {
	mu    sync.RWMutex
	subs  map[string]map[*subEntry]struct{}
	qabls map[string]map[*qablEntry]struct{}
}

func newHub() *hub {
	return &hub{
		subs:  make(map[string]map[*subEntry]struct{}),
		qabls: make(map[string]map[*qablEntry]struct{}),
	}
}

// sharedHub is the fabric every inproc session joins.
var sharedHub = newHub()

func (h *hub) addSub(key string, e *subEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*subEntry]struct{})
		h.subs[key] = set
	}
	set[e] = struct{}{}
}

func (h *hub) removeSub(key string, e *subEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[key]; ok {
		delete(set, e)
		if len(set) == 0 {
			delete(h.subs, key)
		}
	}
}

func (h *hub) addQueryable(key string, e *qablEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.qabls[key]
	if !ok {
		set = make(map[*qablEntry]struct{})
		h.qabls[key] = set
	}
	set[e] = struct{}{}
}

func (h *hub) removeQueryable(key string, e *qablEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.qabls[key]; ok {
		delete(set, e)
		if len(set) == 0 {
			delete(h.qabls, key)
		}
	}
}

// route fans a sample out to every subscriber on its key.  Sends are
// non-blocking: a full dispatch queue drops the sample for that subscriber
// only.  Channel closes happen under the write lock, so sending under the
// read lock cannot race them.
func (h *hub) route(s Sample) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for e := range h.subs[s.Key] {
		select {
		case e.ch <- s:
		default:
			logging.Logger().Debug("dropping sample to slow subscriber", zap.String("key", s.Key))
		}
	}
}

// query hands q to every queryable on its key and reports how many accepted
// it.
func (h *hub) query(q *Query) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for e := range h.qabls[q.Key] {
		select {
		case e.ch <- q:
			n++
		default:
			logging.Logger().Debug("dropping query to slow queryable", zap.String("key", q.Key))
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

var errSessionClosed = errors.New("zenoh: session closed")

type inprocSession struct {
	h     *hub
	queue int

	mu     sync.Mutex
	closed bool
	subs   map[*Subscriber]struct{}
	qabls  map[*Queryable]struct{}
}

func openInproc(cfg Config) (Session, error) {
	queue := cfg.QueueLen
	if queue <= 0 {
		queue = 64
	}
	return &inprocSession{
		h:     sharedHub,
		queue: queue,
		subs:  make(map[*Subscriber]struct{}),
		qabls: make(map[*Queryable]struct{}),
	}, nil
}

func (s *inprocSession) Put(ctx context.Context, key string, payload []byte, opts PutOptions) error {
	if err := s.alive(); err != nil {
		return err
	}
	s.h.route(Sample{
		Key:        key,
		Value:      Value{Payload: payload, Encoding: opts.Encoding},
		Attachment: opts.Attachment,
	})
	return nil
}

// getState guards the reply channel of one get so that late replies after
// finalization neither block nor panic.
type getState struct {
	mu      sync.Mutex
	replies chan Reply
	closed  bool
}

func (g *getState) push(r Reply) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrQueryFinalized
	}
	select {
	case g.replies <- r:
		return nil
	default:
		return errors.New("zenoh: reply buffer full")
	}
}

func (g *getState) finalize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		close(g.replies)
	}
}

func (s *inprocSession) Get(ctx context.Context, key string, opts GetOptions) (<-chan Reply, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultGetTimeout
	}

	st := &getState{replies: make(chan Reply, 16)}
	q := &Query{
		Key:        key,
		Value:      opts.Value,
		Attachment: opts.Attachment,
		send:       st.push,
	}
	s.h.query(q)

	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(timeout):
		}
		q.finalize()
		st.finalize()
	}()
	return st.replies, nil
}

func (s *inprocSession) DeclareSubscriber(key string, cb func(Sample)) (*Subscriber, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	e := &subEntry{ch: make(chan Sample, s.queue)}
	go func() {
		for sample := range e.ch {
			cb(sample)
		}
	}()
	s.h.addSub(key, e)

	sub := &Subscriber{key: key}
	sub.undeclare = func() {
		s.h.removeSub(key, e)
		close(e.ch)
		s.forgetSubscriber(sub)
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub, nil
}

func (s *inprocSession) DeclareQueryable(key string, cb func(*Query)) (*Queryable, error) {
	if err := s.alive(); err != nil {
		return nil, err
	}
	e := &qablEntry{ch: make(chan *Query, s.queue)}
	go func() {
		for q := range e.ch {
			cb(q)
		}
	}()
	s.h.addQueryable(key, e)

	qa := &Queryable{key: key}
	qa.undeclare = func() {
		s.h.removeQueryable(key, e)
		close(e.ch)
		s.forgetQueryable(qa)
	}
	s.mu.Lock()
	s.qabls[qa] = struct{}{}
	s.mu.Unlock()
	return qa, nil
}

func (s *inprocSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*Subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	qabls := make([]*Queryable, 0, len(s.qabls))
	for qa := range s.qabls {
		qabls = append(qabls, qa)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Undeclare()
	}
	for _, qa := range qabls {
		qa.Undeclare()
	}
	return nil
}

func (s *inprocSession) alive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	return nil
}

func (s *inprocSession) forgetSubscriber(sub *Subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

func (s *inprocSession) forgetQueryable(qa *Queryable) {
	s.mu.Lock()
	delete(s.qabls, qa)
	s.mu.Unlock()
}
