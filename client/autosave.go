package client

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/clubhub/core"
	"github.com/trezcool/clubhub/core/quiz"
)

const (
	DefaultBackoffBase = 250 * time.Millisecond
	DefaultBackoffMax  = 8 * time.Second
)

// ErrQueueStopped is returned for edits made after the queue stopped.
var ErrQueueStopped = errors.New("autosave stopped")

type saveFunc func(ctx context.Context, r quiz.Responses) (quiz.Ack, error)

// Autosave coalesces answer edits per question and pushes them to the server.
// Transient failures are retried with exponential backoff and a permanent
// failure (the attempt is no longer ONGOING) stops the queue.
type Autosave struct {
	save   saveFunc
	logger core.Logger
	base   time.Duration
	max    time.Duration
	onAck  func(quiz.Ack)
	onStop func(error)

	mu      sync.Mutex
	pending quiz.Responses
	stopped bool
	err     error

	sending chan struct{} // one batch in flight
	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

func newAutosave(save saveFunc, logger core.Logger, base, max time.Duration) *Autosave {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if max < base {
		max = base
	}
	return &Autosave{
		save:    save,
		logger:  logger,
		base:    base,
		max:     max,
		pending: quiz.Responses{},
		sending: make(chan struct{}, 1),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// start runs the worker until ctx is done or the queue stops.
func (a *Autosave) start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	go func() {
		defer close(a.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.wake:
			}
			if err := a.drain(ctx); err != nil && !IsTransient(err) && ctx.Err() == nil {
				return
			}
		}
	}()
}

// Put queues the values of question qid. Later edits of the same question replace earlier unsent ones.
func (a *Autosave) Put(qid string, values []string) error {
	a.mu.Lock()
	if a.stopped {
		err := a.err
		a.mu.Unlock()
		if err != nil {
			return err
		}
		return ErrQueueStopped
	}
	if values == nil {
		values = []string{}
	}
	a.pending[qid] = values
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns a copy of the unsent edits.
func (a *Autosave) Pending() quiz.Responses {
	a.mu.Lock()
	defer a.mu.Unlock()
	return overlay(quiz.Responses{}, a.pending)
}

// Err returns the error that stopped the queue.
func (a *Autosave) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Flush sends every pending edit, retrying until ctx is done.
func (a *Autosave) Flush(ctx context.Context) error {
	return a.drain(ctx)
}

// Stop halts the worker. Unsent edits are kept for inspection but never sent.
func (a *Autosave) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
}

func (a *Autosave) drain(ctx context.Context) error {
	select {
	case a.sending <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-a.sending }()

	delay := a.base
	for {
		a.mu.Lock()
		if a.stopped {
			err := a.err
			a.mu.Unlock()
			if err != nil {
				return err
			}
			return ErrQueueStopped
		}
		batch := a.pending
		if len(batch) == 0 {
			a.mu.Unlock()
			return nil
		}
		a.pending = quiz.Responses{}
		a.mu.Unlock()

		ack, err := a.save(ctx, batch)
		if err == nil {
			delay = a.base
			if a.onAck != nil {
				a.onAck(ack)
			}
			continue
		}

		// put the batch back under any newer edits
		a.mu.Lock()
		a.pending = overlay(batch, a.pending)
		a.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsTransient(err) {
			a.logger.Warn("autosave stopped", err)
			a.mu.Lock()
			a.stopped = true
			a.err = err
			a.mu.Unlock()
			if a.onStop != nil {
				a.onStop(err)
			}
			return err
		}

		a.logger.Debug("autosave failed, retrying", err, map[string]interface{}{"delay": delay.String()})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > a.max {
			delay = a.max
		}
	}
}

// overlay copies src over dst, keeping empty lists: they clear the question server side.
func overlay(dst, src quiz.Responses) quiz.Responses {
	for qid, vals := range src {
		dst[qid] = vals
	}
	return dst
}
