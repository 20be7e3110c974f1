package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/skobkin/xaescope/internal/bus"
	"github.com/skobkin/xaescope/internal/command"
	"github.com/skobkin/xaescope/internal/device"
	"github.com/skobkin/xaescope/internal/events"
)

// ErrStopped is returned by Submit once the run queue has shut down.
var ErrStopped = errors.New("dispatcher stopped")

const (
	defaultQueueCapacity = 64
	defaultCaptureTTL    = time.Minute
	lastCaptureKey       = "last"
)

// Result is delivered exactly once per submitted action.
type Result struct {
	SessionID  string
	Command    command.Command
	Capture    []byte
	Captured   bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r Result) Outcome() events.Outcome {
	switch {
	case r.Err == nil:
		return events.OutcomeOK
	case r.Captured:
		return events.OutcomeDegraded
	default:
		return events.OutcomeFailed
	}
}

// Capture is the most recent read-back, kept by the dispatcher for a limited time.
type Capture struct {
	SessionID string
	Data      []byte
	At        time.Time
}

type Options struct {
	QueueCapacity int
	CaptureTTL    time.Duration
}

type job struct {
	sessionID string
	cmd       command.Command
	seq       device.Sequence
	result    chan Result
}

// Dispatcher owns the device. Sequences submitted from any session are
// executed one at a time, in submission order, by a single goroutine.
type Dispatcher struct {
	logger   *slog.Logger
	invoker  device.Invoker
	bus      bus.MessageBus
	queue    chan job
	captures *ttlcache.Cache[string, Capture]

	busy    atomic.Bool
	pending atomic.Int64

	// submitMu lets the consumer wait out in-flight Submit calls before the
	// final drain, so every accepted job gets a Result.
	submitMu sync.RWMutex
	stopped  bool
	stopping chan struct{}
	done     chan struct{}
}

func New(logger *slog.Logger, b bus.MessageBus, inv device.Invoker, opts Options) *Dispatcher {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = defaultQueueCapacity
	}
	if opts.CaptureTTL <= 0 {
		opts.CaptureTTL = defaultCaptureTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		logger:  logger,
		invoker: inv,
		bus:     b,
		queue:   make(chan job, opts.QueueCapacity),
		captures: ttlcache.New[string, Capture](
			ttlcache.WithTTL[string, Capture](opts.CaptureTTL),
			ttlcache.WithDisableTouchOnHit[string, Capture](),
		),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the queue consumer until ctx is canceled. Sequences already
// running are not interrupted by session disconnects, only by ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Submit translates cmd and appends it to the run queue. The returned channel
// receives one Result and is then closed.
func (d *Dispatcher) Submit(ctx context.Context, sessionID string, cmd command.Command) (<-chan Result, error) {
	j := job{
		sessionID: sessionID,
		cmd:       cmd,
		seq:       command.Translate(cmd),
		result:    make(chan Result, 1),
	}

	d.submitMu.RLock()
	defer d.submitMu.RUnlock()
	if d.stopped {
		return nil, ErrStopped
	}

	d.pending.Add(1)
	select {
	case <-d.stopping:
		d.pending.Add(-1)
		return nil, ErrStopped
	case <-ctx.Done():
		d.pending.Add(-1)
		return nil, ctx.Err()
	case d.queue <- j:
		return j.result, nil
	}
}

// Wait blocks until the consumer has exited and every queued job was answered.
func (d *Dispatcher) Wait() {
	<-d.done
}

// Busy reports whether a sequence is executing right now.
func (d *Dispatcher) Busy() bool {
	return d.busy.Load()
}

// QueueDepth is the number of submitted sequences not yet started.
func (d *Dispatcher) QueueDepth() int {
	return int(d.pending.Load())
}

// LastCapture returns the most recent capture while it is still fresh.
func (d *Dispatcher) LastCapture() (Capture, bool) {
	item := d.captures.Get(lastCaptureKey)
	if item == nil {
		return Capture{}, false
	}

	return item.Value(), true
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)
	for {
		if ctx.Err() != nil {
			d.stop()
			return
		}
		select {
		case <-ctx.Done():
			d.stop()
			return
		case j := <-d.queue:
			d.pending.Add(-1)
			res := d.execute(ctx, j)
			j.result <- res
			close(j.result)
			d.publishCompleted(j, res)
		}
	}
}

// stop refuses new submissions and answers every job still queued with ErrStopped.
func (d *Dispatcher) stop() {
	close(d.stopping)
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.stopped = true

	dropped := 0
	for {
		select {
		case j := <-d.queue:
			d.pending.Add(-1)
			now := time.Now()
			j.result <- Result{SessionID: j.sessionID, Command: j.cmd, Err: ErrStopped, StartedAt: now, FinishedAt: now}
			close(j.result)
			dropped++
		default:
			d.logger.Info("dispatcher stopped", "unstarted", dropped)
			return
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, j job) (res Result) {
	res = Result{SessionID: j.sessionID, Command: j.cmd, StartedAt: time.Now()}
	d.setBusy(true, j.sessionID)
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("device sequence panicked", "session", j.sessionID, "panic", p)
			res.Err = errors.Join(res.Err, fmt.Errorf("device sequence panicked: %v", p))
		}
		res.FinishedAt = time.Now()
		d.setBusy(false, j.sessionID)
	}()

	logger := d.logger.With("session", j.sessionID, "command", j.cmd.Text())
	logger.Debug("sequence started", "ops", len(j.seq))

	var (
		errs         []error
		configFailed bool
	)
	for _, op := range j.seq {
		if op.Phase == device.PhaseConfigure && configFailed {
			logger.Debug("skipping configure op after failure", "op", op.String())
			continue
		}

		out, err := d.invoker.Invoke(ctx, op)
		if err != nil {
			errs = append(errs, err)
			if op.Phase == device.PhaseConfigure {
				configFailed = true
			}
			continue
		}
		if op.Result == device.ResultCapture {
			res.Capture = out
			res.Captured = true
		}
	}
	res.Err = errors.Join(errs...)

	if res.Captured {
		d.captures.Set(lastCaptureKey, Capture{SessionID: j.sessionID, Data: res.Capture, At: time.Now()}, ttlcache.DefaultTTL)
	}
	logger.Info("sequence finished", "outcome", res.Outcome(), "capture_len", len(res.Capture), "elapsed", time.Since(res.StartedAt), "error", res.Err)

	return res
}

func (d *Dispatcher) setBusy(busy bool, sessionID string) {
	d.busy.Store(busy)
	if d.bus == nil {
		return
	}

	state := events.DeviceStateReady
	if busy {
		state = events.DeviceStateBusy
	}
	d.bus.TryPublish(events.TopicDeviceStatus, events.DeviceStatus{
		State:      state,
		SessionID:  sessionID,
		QueueDepth: d.QueueDepth(),
		Timestamp:  time.Now(),
	})
}

func (d *Dispatcher) publishCompleted(j job, res Result) {
	if d.bus == nil {
		return
	}

	completed := events.ActionCompleted{
		SessionID:  j.sessionID,
		Command:    j.cmd.Text(),
		Kind:       command.KindOf(j.cmd),
		Ops:        len(j.seq),
		Outcome:    res.Outcome(),
		CaptureLen: len(res.Capture),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Err != nil {
		completed.Err = res.Err.Error()
	}
	d.bus.Publish(events.TopicActionCompleted, completed)
}
