// Package host bridges the gate to a game host whose world state may only
// be touched from a single tick thread. Gate operations run on their own
// goroutines; their outcomes queue up until the tick loop drains them.
package host

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/logingate/internal/model"
	"github.com/mcoot/logingate/internal/services/gate"
)

// Operations reported in a Result
const (
	OpConnect  = "connect"
	OpLogin    = "login"
	OpRegister = "register"
	OpLogout   = "logout"
	OpTouch    = "touch"
	OpDemote   = "demote"
)

// Result is a finished operation waiting for the tick thread
type Result struct {
	Op        string
	Principal model.Principal
	Decision  model.Decision
	Err       error
}

// Config holds dispatcher settings
type Config struct {
	// QueueSize is the number of results buffered for the tick thread
	QueueSize int
	// OpTimeout bounds a whole operation including hashing
	OpTimeout time.Duration
}

// DefaultConfig returns default dispatcher configuration
func DefaultConfig() Config {
	return Config{
		QueueSize: 1024,
		OpTimeout: 10 * time.Second,
	}
}

type task struct {
	principal model.Principal
	cancel    context.CancelFunc
	discarded bool
}

// Dispatcher runs gate operations off the tick thread
type Dispatcher struct {
	gate    *gate.Gate
	cfg     Config
	logger  *slog.Logger
	results chan Result

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	tasks map[*task]struct{}
}

// New creates a Dispatcher and subscribes it to the gate's demotions
func New(g *gate.Gate, cfg Config, logger *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		gate:    g,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "host")),
		results: make(chan Result, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[*task]struct{}),
	}
	g.AddDemoteHandler(func(principal model.Principal, decision model.Decision) {
		d.deliver(Result{Op: OpDemote, Principal: principal, Decision: decision})
	})
	return d
}

// Connect starts OnConnect for a new player connection
func (d *Dispatcher) Connect(principal model.Principal, address string) {
	d.spawn(OpConnect, principal, func(ctx context.Context) (model.Decision, error) {
		return d.gate.OnConnect(ctx, principal, address)
	})
}

// Login starts a credential check
func (d *Dispatcher) Login(principal model.Principal, address, credential string) {
	d.spawn(OpLogin, principal, func(ctx context.Context) (model.Decision, error) {
		return d.gate.AttemptLogin(ctx, principal, address, credential)
	})
}

// Register starts account creation. A successful registration still
// reports login-required: it never authenticates.
func (d *Dispatcher) Register(principal model.Principal, credential string) {
	d.spawn(OpRegister, principal, func(ctx context.Context) (model.Decision, error) {
		if err := d.gate.Register(ctx, principal, credential); err != nil {
			return model.Deny(model.ReasonFor(err)), err
		}
		return model.Deny(model.ReasonLoginRequired), nil
	})
}

// Logout starts a logout
func (d *Dispatcher) Logout(principal model.Principal) {
	d.spawn(OpLogout, principal, func(ctx context.Context) (model.Decision, error) {
		if err := d.gate.Logout(ctx, principal); err != nil {
			return model.Deny(model.ReasonFor(err)), err
		}
		return model.Deny(model.ReasonLoginRequired), nil
	})
}

// Touch starts a lease refresh for player activity
func (d *Dispatcher) Touch(principal model.Principal) {
	d.spawn(OpTouch, principal, func(ctx context.Context) (model.Decision, error) {
		return d.gate.Touch(ctx, principal)
	})
}

// Disconnect abandons every in-flight operation for principal and drops
// its connection. Abandoned operations report nothing.
func (d *Dispatcher) Disconnect(principal model.Principal) {
	d.mu.Lock()
	for t := range d.tasks {
		if t.principal == principal {
			t.discarded = true
			t.cancel()
		}
	}
	d.mu.Unlock()
	d.gate.Disconnect(principal)
}

// IsAuthorized is safe to call from the tick thread; it never blocks on I/O
func (d *Dispatcher) IsAuthorized(principal model.Principal) bool {
	return d.gate.IsAuthorized(principal)
}

// Results exposes the queue for hosts that prefer to select on it
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// Drain applies every queued result without blocking. Call it once per
// tick. Returns the number of results applied.
func (d *Dispatcher) Drain(apply func(Result)) int {
	n := 0
	for {
		select {
		case res := <-d.results:
			apply(res)
			n++
		default:
			return n
		}
	}
}

// Close cancels outstanding operations and waits for them to finish
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) spawn(op string, principal model.Principal, fn func(ctx context.Context) (model.Decision, error)) {
	d.mu.Lock()
	if d.ctx.Err() != nil {
		d.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.OpTimeout)
	t := &task{principal: principal, cancel: cancel}
	d.tasks[t] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer cancel()

		decision, err := fn(ctx)

		d.mu.Lock()
		delete(d.tasks, t)
		discarded := t.discarded
		d.mu.Unlock()
		if discarded {
			d.logger.Debug("discarding result for closed connection",
				slog.String("op", op),
				slog.String("principal", string(principal)))
			return
		}
		d.deliver(Result{Op: op, Principal: principal, Decision: decision, Err: err})
	}()
}

// deliver queues res, giving up only when the dispatcher is closing
func (d *Dispatcher) deliver(res Result) {
	select {
	case d.results <- res:
	case <-d.ctx.Done():
	}
}
