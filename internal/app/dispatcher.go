package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MikeHennessy/suntrack/internal/domain"
	"github.com/MikeHennessy/suntrack/internal/ports"
	"github.com/MikeHennessy/suntrack/pkg/log"
)

// DefaultQueueSize is the number of moves that may wait behind the one in flight.
const DefaultQueueSize = 16

const subscriberBuffer = 8

type moveRequest struct {
	ctx   context.Context
	id    domain.ActuatorID
	delta float64
	reply chan moveReply
}

type moveReply struct {
	result domain.MoveResult
	err    error
}

// Dispatcher funnels moves from any number of callers through one worker,
// so at most one Move touches the bus at a time and moves run in arrival
// order. Confirmed moves are fanned out to subscribers.
type Dispatcher struct {
	mover     ports.Mover
	logger    log.Logger
	lifecycle *Lifecycle
	queueSize int

	// sendMu keeps enqueues and the closing of quit apart, so nothing lands
	// in the queue after the worker drained it.
	sendMu sync.RWMutex

	mu     sync.Mutex
	queue  chan moveRequest
	quit   chan struct{}
	subs   map[int]chan domain.MoveResult
	nextID int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize sets the queue depth.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithEventEmitter observes dispatcher lifecycle changes.
func WithEventEmitter(e EventEmitter) DispatcherOption {
	return func(d *Dispatcher) { d.lifecycle.eventEmitter = e }
}

// NewDispatcher wraps mover, normally a *link.Link.
func NewDispatcher(mover ports.Mover, logger log.Logger, opts ...DispatcherOption) *Dispatcher {
	logger = log.OrNoop(logger)
	d := &Dispatcher{
		mover:     mover,
		logger:    logger,
		lifecycle: NewLifecycle(logger, nil),
		queueSize: DefaultQueueSize,
		subs:      make(map[int]chan domain.MoveResult),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the lifecycle state.
func (d *Dispatcher) State() State {
	return d.lifecycle.State()
}

// Start launches the worker. The worker outlives ctx; use Stop or Run to
// end it.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := d.lifecycle.TransitionTo(StateStarting, "start requested"); err != nil {
		return err
	}

	queue := make(chan moveRequest, d.queueSize)
	quit := make(chan struct{})
	d.mu.Lock()
	d.queue = queue
	d.quit = quit
	d.mu.Unlock()

	d.lifecycle.Go(func() { d.work(queue, quit) })
	return d.lifecycle.TransitionTo(StateRunning, "worker started")
}

// Stop waits for the in-flight move, fails queued ones with
// domain.ErrNotRunning and stops the worker.
func (d *Dispatcher) Stop() error {
	if err := d.lifecycle.TransitionTo(StateStopping, "stop requested"); err != nil {
		return err
	}
	d.sendMu.Lock()
	d.mu.Lock()
	close(d.quit)
	d.mu.Unlock()
	d.sendMu.Unlock()

	err := d.lifecycle.WaitWithTimeout(ShutdownTimeout)
	if err != nil {
		_ = d.lifecycle.TransitionTo(StateCrashed, err.Error())
		return err
	}
	return d.lifecycle.TransitionTo(StateStopped, "worker exited")
}

// Run starts the dispatcher, blocks until ctx is done, then stops it.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return d.Stop()
}

// Move implements ports.Mover. The request waits in the queue under ctx;
// once the worker picks it up the caller waits for the outcome.
func (d *Dispatcher) Move(ctx context.Context, id domain.ActuatorID, deltaMM float64) (domain.MoveResult, error) {
	req := moveRequest{ctx: ctx, id: id, delta: deltaMM, reply: make(chan moveReply, 1)}
	result := domain.MoveResult{Command: domain.MoveCommand{Actuator: id, DeltaMM: deltaMM}}

	d.mu.Lock()
	if !d.lifecycle.Running() {
		d.mu.Unlock()
		return result, domain.ErrNotRunning
	}
	queue, quit := d.queue, d.quit
	d.mu.Unlock()

	d.sendMu.RLock()
	select {
	case <-quit:
		d.sendMu.RUnlock()
		return result, domain.ErrNotRunning
	default:
	}
	select {
	case queue <- req:
		d.sendMu.RUnlock()
	case <-ctx.Done():
		d.sendMu.RUnlock()
		return result, fmt.Errorf("queue move: %w", ctx.Err())
	}

	rep := <-req.reply
	return rep.result, rep.err
}

func (d *Dispatcher) work(queue chan moveRequest, quit chan struct{}) {
	for {
		select {
		case <-quit:
			d.drain(queue)
			return
		case req := <-queue:
			res, err := d.mover.Move(req.ctx, req.id, req.delta)
			req.reply <- moveReply{result: res, err: err}
			if err == nil {
				d.publish(res)
			}
		}
	}
}

func (d *Dispatcher) drain(queue chan moveRequest) {
	for {
		select {
		case req := <-queue:
			req.reply <- moveReply{
				result: domain.MoveResult{Command: domain.MoveCommand{Actuator: req.id, DeltaMM: req.delta}},
				err:    domain.ErrNotRunning,
			}
		default:
			return
		}
	}
}

// Subscribe implements ports.MoveFeed. A slow subscriber misses results
// rather than blocking the worker.
func (d *Dispatcher) Subscribe() (<-chan domain.MoveResult, func()) {
	ch := make(chan domain.MoveResult, subscriberBuffer)
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = ch
	d.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
			close(ch)
		})
	}
}

func (d *Dispatcher) publish(res domain.MoveResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ch := range d.subs {
		select {
		case ch <- res:
		default:
			d.logger.Warn("move feed subscriber lagging, result dropped",
				log.Int("subscriber", id),
				log.Uint8("actuator", uint8(res.Command.Actuator)),
			)
		}
	}
}

// IsUnavailable reports whether err means the dispatcher refused the move.
func IsUnavailable(err error) bool {
	return errors.Is(err, domain.ErrNotRunning)
}
