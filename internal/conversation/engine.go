package conversation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/storageagent/internal/entities"
	"github.com/antoniostano/storageagent/internal/intent"
)

const (
	DefaultTTL             = 15 * time.Minute
	defaultJanitorInterval = 30 * time.Second
)

// TurnEvent describes one processed turn. It is delivered to the turn hook
// after the session lock is released.
type TurnEvent struct {
	SessionID   string
	CallerPhone string
	Turn        int
	Intent      intent.Intent
	Confidence  float64
	Entities    []entities.Entity
	Prompt      string
	Latency     time.Duration
	At          time.Time
	LookupErr   error
}

// EvictReason says why a context left the registry.
type EvictReason string

const (
	EvictIdle  EvictReason = "idle"
	EvictEnded EvictReason = "ended"
)

type Option func(*Engine)

// WithTTL sets how long a context may sit idle before the janitor evicts it.
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithTurnHook(hook func(TurnEvent)) Option {
	return func(e *Engine) { e.onTurn = hook }
}

func WithEvictHook(hook func(Context, EvictReason)) Option {
	return func(e *Engine) { e.onEvict = hook }
}

type session struct {
	mu     sync.Mutex
	ctx    *Context
	closed bool
}

// Engine owns every live conversation. Turns for one session run one at a
// time; turns for different sessions never wait on each other.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*session

	responders Registry
	units      UnitLookup
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger
	onTurn     func(TurnEvent)
	onEvict    func(Context, EvictReason)
}

func NewEngine(responders Registry, units UnitLookup, opts ...Option) *Engine {
	if responders == nil {
		responders = DefaultRegistry()
	}
	e := &Engine{
		sessions:   make(map[string]*session),
		responders: responders,
		units:      units,
		ttl:        DefaultTTL,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("conversation")
	return e
}

func (e *Engine) TTL() time.Duration { return e.ttl }

// lockSession returns the live session for id, created on first contact,
// with its mutex held. A session evicted between lookup and lock is
// replaced by a fresh one.
func (e *Engine) lockSession(id string) *session {
	for {
		s := e.getOrCreate(id)
		s.mu.Lock()
		if !s.closed {
			return s
		}
		s.mu.Unlock()
	}
}

func (e *Engine) getOrCreate(id string) *session {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if ok {
		return s
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[id]; ok {
		return s
	}
	s = &session{ctx: newContext(id, e.now())}
	e.sessions[id] = s
	e.logger.Debug("conversation started", zap.String("call_sid", id))
	return s
}

// GetOrCreateContext returns a snapshot of the context for id, creating it
// if this is the first contact.
func (e *Engine) GetOrCreateContext(id string) Context {
	s := e.lockSession(id)
	defer s.mu.Unlock()
	return s.ctx.Snapshot()
}

// Lookup returns a snapshot without creating anything.
func (e *Engine) Lookup(id string) (Context, bool) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return Context{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Context{}, false
	}
	return s.ctx.Snapshot(), true
}

// ProcessIntent applies one turn and returns the prompt to speak next.
func (e *Engine) ProcessIntent(ctx context.Context, id string, in intent.Intent, confidence float64, ents []entities.Entity) string {
	start := time.Now()
	if !in.Valid() {
		in = intent.Unknown
	}

	ev := e.applyTurn(ctx, id, in, ents)
	ev.Confidence = confidence
	ev.Latency = time.Since(start)
	if ev.LookupErr != nil {
		e.logger.Warn("unit lookup failed, answered with fallback script",
			zap.String("call_sid", id),
			zap.String("intent", in.String()),
			zap.Error(ev.LookupErr),
		)
	}
	e.logger.Debug("turn processed",
		zap.String("call_sid", id),
		zap.Int("turn", ev.Turn),
		zap.String("intent", in.String()),
		zap.Float64("confidence", confidence),
		zap.Duration("latency", ev.Latency),
	)
	if e.onTurn != nil {
		e.onTurn(ev)
	}
	return ev.Prompt
}

// applyTurn mutates the context and runs the responder under the session
// lock.
func (e *Engine) applyTurn(ctx context.Context, id string, in intent.Intent, ents []entities.Entity) TurnEvent {
	s := e.lockSession(id)
	defer s.mu.Unlock()

	now := e.now()
	s.ctx.updateIntent(in, now)
	for _, ent := range ents {
		s.ctx.addEntity(ent, now)
	}

	reply := e.respond(ctx, s.ctx, in)
	for k, v := range reply.Preferences {
		s.ctx.setPreference(k, v, e.now())
	}
	return TurnEvent{
		SessionID:   id,
		CallerPhone: s.ctx.CallerPhone,
		Turn:        s.ctx.TurnCount,
		Intent:      in,
		Entities:    append([]entities.Entity(nil), ents...),
		Prompt:      reply.Text,
		At:          now,
		LookupErr:   reply.LookupErr,
	}
}

// respond runs the responder for in. A panicking responder is answered
// with the apology script and the call carries on.
func (e *Engine) respond(ctx context.Context, c *Context, in intent.Intent) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("responder panicked",
				zap.String("call_sid", c.SessionID),
				zap.String("intent", in.String()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			reply = Reply{Text: scriptApology}
		}
	}()
	return e.responders.responderFor(in)(ctx, c, e.units)
}

// SetCallerPhone attaches the caller's number once it is known.
func (e *Engine) SetCallerPhone(id, phone string) {
	if phone == "" {
		return
	}
	s := e.lockSession(id)
	defer s.mu.Unlock()
	if s.ctx.CallerPhone == phone {
		return
	}
	s.ctx.CallerPhone = phone
	s.ctx.LastUpdate = e.now()
}

// End removes the context for a finished call and returns its final state.
func (e *Engine) End(id string) (Context, bool) {
	e.mu.Lock()
	s, ok := e.sessions[id]
	if ok {
		delete(e.sessions, id)
	}
	e.mu.Unlock()
	if !ok {
		return Context{}, false
	}

	s.mu.Lock()
	s.closed = true
	final := s.ctx.Snapshot()
	s.mu.Unlock()

	e.logger.Debug("conversation ended", zap.String("call_sid", id), zap.Int("turns", final.TurnCount))
	if e.onEvict != nil {
		e.onEvict(final, EvictEnded)
	}
	return final, true
}

func (e *Engine) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// StartJanitor evicts idle contexts every interval until ctx is cancelled.
func (e *Engine) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.evictIdle()
			}
		}
	}()
}

// evictIdle drops contexts whose last update is older than the TTL. A
// session in the middle of a turn is busy, not idle, and is skipped.
func (e *Engine) evictIdle() int {
	now := e.now()
	var evicted []Context

	e.mu.Lock()
	for id, s := range e.sessions {
		if !s.mu.TryLock() {
			continue
		}
		if now.Sub(s.ctx.LastUpdate) >= e.ttl {
			s.closed = true
			evicted = append(evicted, s.ctx.Snapshot())
			delete(e.sessions, id)
		}
		s.mu.Unlock()
	}
	hook := e.onEvict
	e.mu.Unlock()

	for _, c := range evicted {
		e.logger.Info("evicted idle conversation",
			zap.String("call_sid", c.SessionID),
			zap.Int("turns", c.TurnCount),
			zap.Time("last_update", c.LastUpdate),
		)
		if hook != nil {
			hook(c, EvictIdle)
		}
	}
	return len(evicted)
}
