// Package supervisor runs named goroutines tied to a shared context, with
// panic recovery and graceful waiting. Firing dispatch and the long-running
// service loops all go through it so one panicking callback can never take
// the process down.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	logx "remindbot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log logx.Logger

	active   int64
	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	errOnce  sync.Once
	firstErr atomic.Value // error
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Active returns the number of goroutines currently running. Best-effort,
// for logging only.
func (s *Supervisor) Active() int64 { return atomic.LoadInt64(&s.active) }

// Err returns the first error any goroutine returned or panicked with.
func (s *Supervisor) Err() error {
	if v := s.firstErr.Load(); v != nil {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

// Go starts fn under the supervisor. A panic is recovered, logged with its
// stack, and recorded as the supervisor's first error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("goroutine panicked",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
				s.setErr(fmt.Errorf("panic in %s: %v", name, r))
			}
		}()

		if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("goroutine failed", logx.String("name", name), logx.Err(err))
			s.setErr(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

// Go0 is Go for functions without an error result.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Cancel cancels the supervisor context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Stop cancels the context and waits for all goroutines, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until all goroutines exited or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}
