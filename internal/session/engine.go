// Package session is the session state machine: a fixed set of guarded
// reactive rules coordinating the OAuth dance and the article fetch purely
// through the persisted slot store.
//
// CRITICAL: all slot mutations happen in the single-writer Run loop
// goroutine. External surfaces (HTTP handlers) submit triggers with
// Dispatch or Enqueue and otherwise only read.
//
// Every external trigger runs to quiescence: the triggered rule fires,
// its slot writes produce follow-on slot-change triggers, and those are
// drained - each against a fresh snapshot - before the next external
// trigger is taken. Guards therefore decide from state values alone, never
// from assumed execution order, and at most one rule advances the chain
// per meaningful state transition.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fedifaves/internal/feed"
	"fedifaves/internal/masto"
	"fedifaves/internal/secret"
	"fedifaves/internal/state"
)

// Remote is the slice of the instance client the rules need.
// *masto.Client satisfies it; tests use a stub.
type Remote interface {
	RegisterApp(ctx context.Context, instance, appName string, scopes []string, redirectURI string) (masto.Credentials, error)
	AuthorizeURL(instance string, creds masto.Credentials, redirectURI string, scopes []string) string
	ExchangeCode(ctx context.Context, instance string, creds masto.Credentials, code, redirectURI string, scopes []string) (string, error)
}

// ErrStopped is returned by Dispatch after the engine shut down.
var ErrStopped = errors.New("session: engine stopped")

// Config identifies this deployment to remote instances and the browser.
type Config struct {
	// AppName is the client name sent during app registration.
	AppName string
	// Scopes requested during registration and authorization.
	Scopes []string
	// BasePath is the UI's base path, e.g. "/dash/fedifaves/".
	BasePath string
	// PublicURL is the externally reachable origin, no trailing slash,
	// e.g. "http://localhost:8080".
	PublicURL string
}

// RedirectURI is the fixed OAuth callback: base path plus "auth".
func (c Config) RedirectURI() string {
	return c.PublicURL + c.BasePath + "auth"
}

// Engine owns the rule set and the single-writer trigger loop.
type Engine struct {
	store  *state.Store
	codec  *secret.Codec
	remote Remote
	feed   *feed.Engine

	queue   *triggerQueue
	clock   *Clock
	flowGen FlowTokenGenerator
	rules   []rule

	appName     string
	scopes      []string
	basePath    string
	redirectURI string

	onCacheUpdated func(state.ArticleCache)
}

// Option configures an Engine.
type Option func(*Engine)

// WithFlowGenerator overrides the flow token generator, for tests.
func WithFlowGenerator(gen FlowTokenGenerator) Option {
	return func(e *Engine) { e.flowGen = gen }
}

// WithCacheUpdated installs a hook called whenever the article cache slot
// changes, with the new cache. A cleared slot delivers an empty cache.
func WithCacheUpdated(fn func(state.ArticleCache)) Option {
	return func(e *Engine) { e.onCacheUpdated = fn }
}

// New creates an Engine. The rules are fixed at construction, in
// declaration order.
func New(store *state.Store, codec *secret.Codec, remote Remote, feedEngine *feed.Engine, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		codec:       codec,
		remote:      remote,
		feed:        feedEngine,
		queue:       newTriggerQueue(),
		clock:       NewClock(),
		flowGen:     UUIDv7Generator{},
		appName:     cfg.AppName,
		scopes:      cfg.Scopes,
		basePath:    cfg.BasePath,
		redirectURI: cfg.RedirectURI(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rules = e.buildRules()
	return e
}

// Run starts the single-writer trigger loop. Blocks until the context is
// cancelled or Stop is called. Must be called from exactly one goroutine.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("session engine starting")

	for {
		env, ok := e.queue.TryDequeue()
		if ok {
			result := e.processTrigger(ctx, env.trigger)
			if result.err != nil {
				slog.Error("trigger processing failed",
					"kind", env.trigger.Kind.String(),
					"flow", env.trigger.FlowToken,
					"seq", env.trigger.Seq,
					"error", result.err,
				)
			}
			if env.reply != nil {
				env.reply <- result
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("session engine stopping: context cancelled")
			e.queue.Close()
			e.drainReplies()
			return ctx.Err()
		case <-e.queue.Wait():
			// The signal coalesces and TryDequeue consumes envelopes
			// without consuming tokens, so a wake-up with an empty queue
			// can be stale. Only a closed queue ends the loop.
			if e.queue.Closed() && e.queue.Len() == 0 {
				slog.Info("session engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the engine; Run returns once the queue drains.
func (e *Engine) Stop() {
	e.queue.Close()
}

// drainReplies unblocks dispatchers that enqueued before shutdown.
func (e *Engine) drainReplies() {
	for {
		env, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		if env.reply != nil {
			env.reply <- dispatchResult{err: ErrStopped}
		}
	}
}

// Dispatch submits a trigger and waits for it - and the whole rule cascade
// it causes - to finish, returning the accumulated browser effects.
// Safe from any goroutine.
func (e *Engine) Dispatch(ctx context.Context, t Trigger) (Effects, error) {
	e.stamp(&t)
	env := envelope{trigger: t, reply: make(chan dispatchResult, 1)}
	if !e.queue.Enqueue(env) {
		return Effects{}, ErrStopped
	}
	select {
	case <-ctx.Done():
		return Effects{}, ctx.Err()
	case result := <-env.reply:
		return result.effects, result.err
	}
}

// Enqueue submits a trigger without waiting for it. Returns false after
// shutdown.
func (e *Engine) Enqueue(t Trigger) bool {
	e.stamp(&t)
	return e.queue.Enqueue(envelope{trigger: t})
}

func (e *Engine) stamp(t *Trigger) {
	if t.FlowToken == "" {
		t.FlowToken = e.flowGen.Generate()
	}
	if t.Seq == 0 {
		t.Seq = e.clock.Next()
	}
}

// processTrigger runs one external trigger plus the follow-on slot-change
// triggers it generates, in FIFO order, each against a fresh snapshot.
// CRITICAL: called only from the Run goroutine.
func (e *Engine) processTrigger(ctx context.Context, external Trigger) dispatchResult {
	var effects Effects

	pending := []Trigger{external}
	for len(pending) > 0 {
		t := pending[0]
		pending = pending[1:]

		followOns, eff, err := e.evaluate(ctx, t)
		if eff.Navigate != "" {
			effects.Navigate = eff.Navigate
		}
		if err != nil {
			if errors.Is(err, secret.ErrDecode) {
				// A secret that no longer decodes means the key rotated or
				// storage corrupted: the session is invalid. Reset to the
				// logout-equivalent state and land on the pre-auth UI.
				slog.Warn("stored secret no longer decodes, resetting session",
					"flow", t.FlowToken, "error", err)
				if resetErr := e.store.Apply(ctx, state.Change{Clear: state.Slots}); resetErr != nil {
					return dispatchResult{effects: effects, err: resetErr}
				}
				effects.Navigate = e.basePath
			}
			return dispatchResult{effects: effects, err: err}
		}
		pending = append(pending, followOns...)
	}
	return dispatchResult{effects: effects}
}

// evaluate checks every rule against one trigger. Rules run in declaration
// order; a rule's Change is applied only after its guard passes a second
// time against a snapshot taken just before the write, so a rule started
// under stale state writes nothing.
func (e *Engine) evaluate(ctx context.Context, t Trigger) ([]Trigger, Effects, error) {
	var (
		followOns []Trigger
		effects   Effects
	)

	for i := range e.rules {
		r := &e.rules[i]
		if !r.when(t) {
			continue
		}

		snap, err := e.store.Snapshot(ctx)
		if err != nil {
			return followOns, effects, &RuleError{Rule: r.name, FlowToken: t.FlowToken, Err: err}
		}
		if !r.guard(snap, t) {
			slog.Debug("rule guard not satisfied",
				"rule", r.name, "phase", PhaseOf(snap).String(), "flow", t.FlowToken)
			continue
		}

		slog.Debug("rule firing",
			"rule", r.name, "phase", PhaseOf(snap).String(),
			"kind", t.Kind.String(), "flow", t.FlowToken, "seq", t.Seq)

		change, eff, err := r.apply(ctx, snap, t)
		if err != nil {
			return followOns, effects, &RuleError{Rule: r.name, FlowToken: t.FlowToken, Err: err}
		}
		if eff.Navigate != "" {
			effects.Navigate = eff.Navigate
		}
		if change.Empty() {
			continue
		}

		// Guard re-check on a fresh snapshot before any state-mutating
		// side effect: prefer writing nothing over writing stale state.
		fresh, err := e.store.Snapshot(ctx)
		if err != nil {
			return followOns, effects, &RuleError{Rule: r.name, FlowToken: t.FlowToken, Err: err}
		}
		if !r.guard(fresh, t) {
			slog.Debug("state moved during rule execution, discarding writes",
				"rule", r.name, "flow", t.FlowToken)
			continue
		}
		if err := e.store.Apply(ctx, change); err != nil {
			return followOns, effects, &RuleError{Rule: r.name, FlowToken: t.FlowToken, Err: fmt.Errorf("apply change: %w", err)}
		}

		for _, slot := range change.Changed(fresh) {
			slog.Info("slot changed",
				"rule", r.name, "slot", string(slot), "flow", t.FlowToken)
			followOns = append(followOns, Trigger{
				Kind:      TriggerSlotChanged,
				Slot:      slot,
				FlowToken: t.FlowToken, // inherited, never regenerated
				Seq:       e.clock.Next(),
			})
		}
	}
	return followOns, effects, nil
}

// Clock returns the engine's logical clock, for tests and introspection.
func (e *Engine) Clock() *Clock {
	return e.clock
}

// QueueLen returns the number of pending triggers.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}
