// Package router turns a notification request into per-(contact, channel)
// units, decides each unit's regulation, and dispatches it to direct delivery,
// the suppression engine or the digest engine.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"notifyrelay/internal/audit"
	"notifyrelay/internal/clock"
	"notifyrelay/internal/digest"
	"notifyrelay/internal/directory"
	"notifyrelay/internal/eventbus"
	"notifyrelay/internal/notify"
	"notifyrelay/internal/policy"
	"notifyrelay/internal/suppress"
	logx "notifyrelay/pkg/logx"
)

// Config holds the defaults applied when a message leaves a value unset.
type Config struct {
	SuppressionWindow time.Duration
	DigestWindow      time.Duration
	DigestHead        int
	DigestTail        int
	// Concurrency bounds in-flight units per request.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.SuppressionWindow <= 0 {
		c.SuppressionWindow = 60 * time.Minute
	}
	if c.DigestWindow <= 0 {
		c.DigestWindow = 30 * time.Minute
	}
	if c.DigestHead < 0 {
		c.DigestHead = 0
	}
	if c.DigestTail < 0 {
		c.DigestTail = 0
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 16
	}
	return c
}

// DefaultConfig is used by New when the caller passes the zero Config.
var DefaultConfig = Config{DigestHead: digest.DefaultKeep, DigestTail: digest.DefaultKeep}

// Resolver decides the per-channel regulation of a contact.
type Resolver interface {
	Resolve(c notify.Contact, sev notify.Severity, now time.Time) policy.Decision
}

// Dispatcher sends content over a channel; channel.Registry implements it.
type Dispatcher interface {
	Send(ctx context.Context, ch notify.Channel, address string, c notify.Content) error
}

// Observer receives metrics callbacks.
type Observer interface {
	ObserveOutcome(o notify.Outcome)
	ObserveRequest(err error)
	ObserveDigest(total int, err error)
}

type Deps struct {
	Directory directory.Directory
	Policy    Resolver
	Senders   Dispatcher
	Audit     audit.Sink
	Bus       eventbus.Bus
	Observer  Observer
	Clock     clock.Clock
	Log       logx.Logger

	// Ledger and MaxSuppressionEntries configure the suppression engine.
	Ledger                suppress.Ledger
	MaxSuppressionEntries int
}

type Router struct {
	mu  sync.RWMutex
	cfg Config

	dir     directory.Directory
	policy  Resolver
	senders Dispatcher
	audit   audit.Sink
	bus     eventbus.Bus
	obs     Observer
	clk     clock.Clock
	log     logx.Logger

	suppress *suppress.Engine
	digest   *digest.Engine
}

func New(cfg Config, deps Deps) (*Router, error) {
	if deps.Directory == nil || deps.Policy == nil || deps.Senders == nil {
		return nil, errors.New("router: directory, policy and senders are required")
	}
	r := &Router{
		dir:     deps.Directory,
		policy:  deps.Policy,
		senders: deps.Senders,
		audit:   deps.Audit,
		bus:     deps.Bus,
		obs:     deps.Observer,
		clk:     clock.OrReal(deps.Clock),
		log:     deps.Log.With(logx.String("comp", "router")),
	}
	if r.audit == nil {
		r.audit = audit.Nop{}
	}
	if r.bus == nil {
		r.bus = eventbus.Nop()
	}
	if r.obs == nil {
		r.obs = nopObserver{}
	}
	r.suppress = suppress.New(r.deliver, suppress.Options{
		Clock:      r.clk,
		Ledger:     deps.Ledger,
		MaxEntries: deps.MaxSuppressionEntries,
		Log:        deps.Log,
	})
	r.digest = digest.New(r.emitDigest, digest.Options{Clock: r.clk, Log: deps.Log})
	r.Apply(cfg)
	return r, nil
}

// Apply swaps the defaults. Open windows keep the parameters they were opened with.
func (r *Router) Apply(cfg Config) {
	if cfg == (Config{}) {
		cfg = DefaultConfig
	}
	cfg = cfg.withDefaults()
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Router) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *Router) Suppression() *suppress.Engine { return r.suppress }
func (r *Router) Digests() *digest.Engine       { return r.digest }

// Sweep emits closed digests and reaps expired suppression windows.
func (r *Router) Sweep(ctx context.Context) (digests, reaped int) {
	digests = r.digest.Sweep(ctx)
	reaped = r.suppress.Reap(r.clk.Now())
	return digests, reaped
}

// Flush emits every open digest. Call once on shutdown.
func (r *Router) Flush(ctx context.Context) int { return r.digest.Flush(ctx) }

type nopObserver struct{}

func (nopObserver) ObserveOutcome(notify.Outcome) {}
func (nopObserver) ObserveRequest(error)          {}
func (nopObserver) ObserveDigest(int, error)      {}

func newID() string { return uuid.NewString() }

func newGroup(limit int) *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(limit)
	return g
}

func wrapReason(err error, reason string) error {
	if reason == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, reason)
}
