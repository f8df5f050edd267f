// internal/router/server.go
// Package router implements the standalone fan-out hub for the WebSocket
// substrate carrier.  Attached sessions declare subscribers and queryables
// by key; the router routes put frames to matching subscribers, forwards
// query frames to matching queryables, and routes replies back to the
// querying connection.  Retention and metrics are delegated to pluggable
// components in sibling packages.
package router

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Voskan/uplink/internal/logging"
	"github.com/Voskan/uplink/internal/metrics"
	"github.com/Voskan/uplink/internal/router/retention"
	"github.com/Voskan/uplink/pkg/zenoh"
)

// pendingTTL bounds how long a forwarded query stays routable.  Client gets
// run on a much shorter timeout; the headroom covers slow queryables.
const pendingTTL = 30 * time.Second

// Config parameterises a router Server.
type Config struct {
	ListenAddr    string        // host:port to bind, e.g. ":7447"
	EnableMetrics bool          // expose /metrics
	RetentionDur  time.Duration // 0 disables replay to late subscribers
	RedisAddr     string        // non-empty selects the Redis retention store
	MaxClients    int           // soft cap for attached sessions
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// subRef addresses one declared handle: the connection it lives on and the
// handle id the client chose.
type subRef struct {
	c  *conn
	id uint64
}

// pendingQuery remembers where a forwarded query came from so replies can be
// routed back.
type pendingQuery struct {
	origin *conn
	corr   uint64
	timer  *time.Timer
}

// Server is the routing hub.  Construct via New.
type Server struct {
	cfg   Config
	store retention.Store // nil when retention is disabled

	mu      sync.RWMutex
	conns   map[*conn]struct{}
	subs    map[string]map[subRef]struct{}
	qabls   map[string]map[subRef]struct{}
	pending map[uint64]pendingQuery
	nextRid uint64
}

// New returns a ready-to-serve router.  The caller must invoke
// ListenAndServe.
func New(cfg Config) *Server {
	var store retention.Store
	if cfg.RetentionDur > 0 {
		if cfg.RedisAddr != "" {
			store = retention.NewRedis(newRedisClient(cfg.RedisAddr), cfg.RetentionDur, 10)
		} else {
			store = retention.NewInMem(cfg.RetentionDur)
		}
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		conns:   make(map[*conn]struct{}),
		subs:    make(map[string]map[subRef]struct{}),
		qabls:   make(map[string]map[subRef]struct{}),
		pending: make(map[uint64]pendingQuery),
	}
}

// handleFrame processes one frame read from c.
func (s *Server) handleFrame(c *conn, f *zenoh.Frame) {
	metrics.RouterFrames.Inc()
	switch f.Op {
	case zenoh.OpSubscribe:
		s.addHandle(s.subs, c, f.ID, f.Key, c.subIDs)
		s.replay(c, f.ID, f.Key)
	case zenoh.OpUnsubscribe:
		s.removeHandle(s.subs, c, f.ID, c.subIDs)
	case zenoh.OpQueryable:
		s.addHandle(s.qabls, c, f.ID, f.Key, c.qablIDs)
	case zenoh.OpUnqueryable:
		s.removeHandle(s.qabls, c, f.ID, c.qablIDs)
	case zenoh.OpPut:
		s.routePut(f)
	case zenoh.OpQuery:
		s.routeQuery(c, f)
	case zenoh.OpReply:
		s.routeReply(f)
	default:
		logging.Logger().Debug("unknown frame op", zap.Uint8("op", uint8(f.Op)))
	}
}

func (s *Server) addHandle(reg map[string]map[subRef]struct{}, c *conn, id uint64, key string, ids map[uint64]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := reg[key]
	if !ok {
		set = make(map[subRef]struct{})
		reg[key] = set
	}
	set[subRef{c: c, id: id}] = struct{}{}
	ids[id] = key
}

func (s *Server) removeHandle(reg map[string]map[subRef]struct{}, c *conn, id uint64, ids map[uint64]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := ids[id]
	if !ok {
		return
	}
	delete(ids, id)
	if set, ok := reg[key]; ok {
		delete(set, subRef{c: c, id: id})
		if len(set) == 0 {
			delete(reg, key)
		}
	}
}

// routePut fans a put out to every subscriber on its key and writes it to
// the retention store.
func (s *Server) routePut(f *zenoh.Frame) {
	if s.store != nil {
		stored := *f
		stored.Op = zenoh.OpSample
		stored.ID = 0
		if raw, err := zenoh.EncodeFrame(&stored); err == nil {
			_ = s.store.Write(retention.Entry{Key: f.Key, Data: raw})
		}
	}

	s.mu.RLock()
	refs := make([]subRef, 0, len(s.subs[f.Key]))
	for ref := range s.subs[f.Key] {
		refs = append(refs, ref)
	}
	s.mu.RUnlock()

	for _, ref := range refs {
		out := *f
		out.Op = zenoh.OpSample
		out.ID = ref.id
		if err := ref.c.writeFrame(&out); err != nil {
			logging.Logger().Debug("drop sample to dead subscriber", zap.String("key", f.Key))
		}
	}
}

// replay streams retained samples matching key to a freshly-declared
// subscriber.
func (s *Server) replay(c *conn, id uint64, key string) {
	if s.store == nil {
		return
	}
	for _, e := range s.store.ReadAll() {
		if e.Key != key {
			continue
		}
		f, err := zenoh.DecodeFrame(e.Data)
		if err != nil {
			continue
		}
		f.ID = id
		if err := c.writeFrame(f); err != nil {
			return
		}
	}
}

// routeQuery forwards a get to every queryable on its key, recording the
// origin under a router-minted correlation id so replies find their way
// back.
func (s *Server) routeQuery(c *conn, f *zenoh.Frame) {
	s.mu.Lock()
	s.nextRid++
	rid := s.nextRid
	refs := make([]subRef, 0, len(s.qabls[f.Key]))
	for ref := range s.qabls[f.Key] {
		refs = append(refs, ref)
	}
	if len(refs) > 0 {
		p := pendingQuery{origin: c, corr: f.Corr}
		p.timer = time.AfterFunc(pendingTTL, func() { s.expirePending(rid) })
		s.pending[rid] = p
	}
	s.mu.Unlock()

	// No queryable: stay silent, the querier times out like on an empty
	// Zenoh network.
	for _, ref := range refs {
		out := *f
		out.ID = ref.id
		out.Corr = rid
		if err := ref.c.writeFrame(&out); err != nil {
			logging.Logger().Debug("drop query to dead queryable", zap.String("key", f.Key))
		}
	}
}

// routeReply sends a reply back to the connection that issued the query.
// The pending entry survives until its TTL so that several queryables can
// all answer.
func (s *Server) routeReply(f *zenoh.Frame) {
	s.mu.RLock()
	p, ok := s.pending[f.Corr]
	s.mu.RUnlock()
	if !ok {
		return
	}
	out := *f
	out.Corr = p.corr
	if err := p.origin.writeFrame(&out); err != nil {
		logging.Logger().Debug("drop reply to dead querier", zap.Uint64("corr", p.corr))
	}
}

func (s *Server) expirePending(rid uint64) {
	s.mu.Lock()
	delete(s.pending, rid)
	s.mu.Unlock()
}

// dropConn unregisters every handle and pending query attached to c.
func (s *Server) dropConn(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
	for id, key := range c.subIDs {
		if set, ok := s.subs[key]; ok {
			delete(set, subRef{c: c, id: id})
			if len(set) == 0 {
				delete(s.subs, key)
			}
		}
	}
	for id, key := range c.qablIDs {
		if set, ok := s.qabls[key]; ok {
			delete(set, subRef{c: c, id: id})
			if len(set) == 0 {
				delete(s.qabls, key)
			}
		}
	}
	for rid, p := range s.pending {
		if p.origin == c {
			p.timer.Stop()
			delete(s.pending, rid)
		}
	}
}
