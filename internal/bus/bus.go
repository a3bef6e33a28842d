// Package bus implements the in-process event bus: emit/subscribe pub-sub
// plus a request/response channel keyed by correlation id. Grounded on the
// teacher's ticker-driven background-loop idiom (queue.Scheduler,
// worker.Heartbeat) for the stale-request GC loop, and on the
// topic-subscription-map shape of GoCodeAlone-modular's MemoryEventBus.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dean0x/claudine-sub000/internal/errs"
)

// EventType names a tagged event variant. The bus itself is payload-type
// agnostic; each handler knows how to type-assert the payload for the
// events it subscribed to.
type EventType string

// Handler processes one event delivery. A non-nil error on an Emit fan-out
// is aggregated into the bus error returned to the emitter.
type Handler func(ctx context.Context, payload any) error

// Config holds the bus's listener caps and timing knobs, sourced from
// internal/config.
type Config struct {
	MaxListenersPerEvent int
	MaxTotalSubscriptions int
	DefaultRequestTimeout time.Duration
	GCInterval            time.Duration
	StaleRequestAge        time.Duration
}

// DefaultConfig matches spec defaults: 100 listeners/event, 1000 total subs,
// 5s request timeout, 30s GC tick, 60s stale-request age.
func DefaultConfig() Config {
	return Config{
		MaxListenersPerEvent:  100,
		MaxTotalSubscriptions: 1000,
		DefaultRequestTimeout: 5 * time.Second,
		GCInterval:            30 * time.Second,
		StaleRequestAge:       60 * time.Second,
	}
}

type subscription struct {
	id      string
	evtType EventType
	handler Handler
}

type pendingRequest struct {
	createdAt time.Time
	resultCh  chan requestResult
	resolved  bool
}

type requestResult struct {
	value any
	err   error
}

// Bus is the supervisor's single in-process event bus instance.
type Bus struct {
	cfg Config
	log zerolog.Logger

	mu            sync.RWMutex
	subsByType    map[EventType][]*subscription
	subsByID      map[string]*subscription
	totalSubCount int

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	gcTicker *time.Ticker
	gcStop   chan struct{}
	gcDone   chan struct{}

	disposed bool
}

// New builds a Bus and starts its background GC loop.
func New(cfg Config, log zerolog.Logger) *Bus {
	b := &Bus{
		cfg:        cfg,
		log:        log,
		subsByType: make(map[EventType][]*subscription),
		subsByID:   make(map[string]*subscription),
		pending:    make(map[string]*pendingRequest),
		gcStop:     make(chan struct{}),
		gcDone:     make(chan struct{}),
	}
	b.gcTicker = time.NewTicker(cfg.GCInterval)
	go b.gcLoop()
	return b
}

func (b *Bus) gcLoop() {
	defer close(b.gcDone)
	for {
		select {
		case <-b.gcStop:
			return
		case now := <-b.gcTicker.C:
			b.sweepStaleRequests(now)
		}
	}
}

func (b *Bus) sweepStaleRequests(now time.Time) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	for id, req := range b.pending {
		if now.Sub(req.createdAt) > b.cfg.StaleRequestAge {
			delete(b.pending, id)
			b.log.Warn().Str("correlationId", id).Dur("age", now.Sub(req.createdAt)).Msg("dropping stale pending request")
		}
	}
}

// Subscribe registers handler for evtType and returns a subscription id for
// later Unsubscribe. Enforces the per-event and total listener caps.
func (b *Bus) Subscribe(evtType EventType, handler Handler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.totalSubCount >= b.cfg.MaxTotalSubscriptions {
		return "", errs.New(errs.ResourceLimitExceeded, "total subscription cap reached")
	}
	existing := b.subsByType[evtType]
	if len(existing) >= b.cfg.MaxListenersPerEvent {
		return "", errs.New(errs.ResourceLimitExceeded, "per-event listener cap reached")
	}
	if len(existing)+1 == b.cfg.MaxListenersPerEvent {
		b.log.Warn().Str("eventType", string(evtType)).Msg("approaching per-event listener cap")
	}

	sub := &subscription{id: uuid.NewString(), evtType: evtType, handler: handler}
	b.subsByType[evtType] = append(existing, sub)
	b.subsByID[sub.id] = sub
	b.totalSubCount++
	return sub.id, nil
}

// Unsubscribe removes a previously registered subscription.
func (b *Bus) Unsubscribe(subID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subsByID[subID]
	if !ok {
		return errs.New(errs.InvalidOperation, "unknown subscription id")
	}
	delete(b.subsByID, subID)
	b.totalSubCount--

	list := b.subsByType[sub.evtType]
	for i, s := range list {
		if s.id == subID {
			b.subsByType[sub.evtType] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

// Emit delivers payload to every subscriber of evtType concurrently and
// waits for all to settle. A single failed handler causes Emit to return a
// bus error aggregating every handler's cause.
func (b *Bus) Emit(ctx context.Context, evtType EventType, payload any) error {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subsByType[evtType]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(subs))
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			if err := b.invoke(ctx, s.handler, payload); err != nil {
				errCh <- fmt.Errorf("handler %s: %w", s.id, err)
			}
		}(sub)
	}
	wg.Wait()
	close(errCh)

	var causes []error
	for err := range errCh {
		causes = append(causes, err)
	}
	if len(causes) == 0 {
		return nil
	}
	return errs.Wrap(errs.SystemError, fmt.Sprintf("%d of %d handlers failed for %s", len(causes), len(subs), evtType), errors.Join(causes...))
}

func (b *Bus) invoke(ctx context.Context, handler Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, payload)
}

// Request invokes the first subscriber of evtType and blocks until it calls
// Respond/RespondError with the same correlation id, or timeout elapses.
// Exactly one handler runs (request/response is not a fan-out).
func (b *Bus) Request(ctx context.Context, evtType EventType, payload any, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = b.cfg.DefaultRequestTimeout
	}

	b.mu.RLock()
	subs := b.subsByType[evtType]
	var first *subscription
	if len(subs) > 0 {
		first = subs[0]
	}
	b.mu.RUnlock()

	if first == nil {
		return nil, errs.New(errs.SystemError, fmt.Sprintf("no handler registered for %s", evtType))
	}

	correlationID := uuid.NewString()
	req := &pendingRequest{createdAt: time.Now(), resultCh: make(chan requestResult, 1)}

	b.pendingMu.Lock()
	b.pending[correlationID] = req
	b.pendingMu.Unlock()

	envelope := RequestEnvelope{CorrelationID: correlationID, Payload: payload}
	go func() {
		if err := b.invoke(ctx, first.handler, envelope); err != nil {
			b.RespondError(correlationID, err)
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-req.resultCh:
		return res.value, res.err
	case <-timer.C:
		b.pendingMu.Lock()
		delete(b.pending, correlationID)
		b.pendingMu.Unlock()
		return nil, errs.New(errs.SystemError, fmt.Sprintf("request %s timed out after %s", evtType, timeout))
	case <-ctx.Done():
		b.pendingMu.Lock()
		delete(b.pending, correlationID)
		b.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

// RequestEnvelope is what a Request-style handler receives instead of the
// raw payload, so it knows which correlation id to Respond to.
type RequestEnvelope struct {
	CorrelationID string
	Payload       any
}

// Respond resolves a pending Request with a success value. Double-resolve
// and resolve-after-timeout are silently ignored.
func (b *Bus) Respond(correlationID string, value any) {
	b.resolve(correlationID, requestResult{value: value})
}

// RespondError resolves a pending Request with a failure.
func (b *Bus) RespondError(correlationID string, err error) {
	b.resolve(correlationID, requestResult{err: err})
}

func (b *Bus) resolve(correlationID string, res requestResult) {
	b.pendingMu.Lock()
	req, ok := b.pending[correlationID]
	if !ok || req.resolved {
		b.pendingMu.Unlock()
		return
	}
	req.resolved = true
	delete(b.pending, correlationID)
	b.pendingMu.Unlock()

	select {
	case req.resultCh <- res:
	default:
	}
}

// Dispose clears all handlers, cancels pending requests, and stops the GC
// ticker. Safe to call once; subsequent calls are no-ops.
func (b *Bus) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	b.subsByType = make(map[EventType][]*subscription)
	b.subsByID = make(map[string]*subscription)
	b.totalSubCount = 0
	b.mu.Unlock()

	b.gcTicker.Stop()
	close(b.gcStop)
	<-b.gcDone

	b.pendingMu.Lock()
	for id, req := range b.pending {
		select {
		case req.resultCh <- requestResult{err: errs.New(errs.SystemError, "bus disposed")}:
		default:
		}
		delete(b.pending, id)
	}
	b.pendingMu.Unlock()
}
