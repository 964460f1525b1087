package workflow

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Control errors returned from blocking waits.
var (
	// ErrCanceled indicates the run was canceled while waiting.
	ErrCanceled = errors.New("run canceled")
	// ErrConfigTimeout indicates no corrected configuration arrived within
	// the waiting window.
	ErrConfigTimeout = errors.New("timed out waiting for configuration update")
)

// Controller carries the operator signals for a run: pause, resume, cancel,
// and update_config. All signals are idempotent and safe from any goroutine.
// The engine observes them at phase boundaries and while waiting on config.
type Controller struct {
	// paused indicates whether the run is paused.
	paused bool
	// canceled indicates whether the run has been canceled.
	canceled bool
	// pendingConfig holds an unconsumed update_config path.
	pendingConfig string
	// done is closed on the first Cancel so context-driven work can
	// observe cancellation without polling.
	done chan struct{}
	// mu protects all fields.
	mu sync.RWMutex
	// cond signals waiters when any field changes.
	cond *sync.Cond
}

// NewController creates a Controller with no signals set.
func NewController() *Controller {
	c := &Controller{done: make(chan struct{})}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Pause pauses the run at the next phase boundary. The in-flight phase is
// never interrupted.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		log.Printf("[workflow] pause requested, run will hold at the next phase boundary")
	}
}

// Resume clears a pause and wakes the run loop.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		log.Printf("[workflow] resume requested")
		c.cond.Broadcast()
	}
}

// Cancel marks the run canceled and unblocks every waiter. Cancel wins over
// any other pending signal.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.canceled {
		c.canceled = true
		close(c.done)
		log.Printf("[workflow] cancel requested")
		c.cond.Broadcast()
	}
}

// Done returns a channel that is closed once the run is canceled.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// UpdateConfig records a corrected configuration path for the run loop to
// consume. A second call before consumption replaces the first.
func (c *Controller) UpdateConfig(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingConfig = path
	log.Printf("[workflow] configuration update queued: %s", path)
	c.cond.Broadcast()
}

// IsPaused returns whether a pause is requested.
func (c *Controller) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// IsCanceled returns whether the run has been canceled.
func (c *Controller) IsCanceled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.canceled
}

// WaitIfPaused blocks while paused. It returns ErrCanceled if the run is
// canceled and the context error if ctx ends first.
func (c *Controller) WaitIfPaused(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused && !c.canceled {
		stop := c.wakeOnContext(ctx)
		defer stop()
		for c.paused && !c.canceled {
			c.cond.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
	if c.canceled {
		return ErrCanceled
	}
	return nil
}

// AwaitConfig blocks until an update_config signal arrives and returns its
// path, consuming the pending value. It returns ErrConfigTimeout after the
// window elapses and ErrCanceled on cancel.
func (c *Controller) AwaitConfig(ctx context.Context, window time.Duration) (string, error) {
	deadline := time.Now().Add(window)
	timer := time.AfterFunc(window, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	stop := c.wakeOnContext(ctx)
	defer stop()

	for {
		if c.canceled {
			return "", ErrCanceled
		}
		if c.pendingConfig != "" {
			path := c.pendingConfig
			c.pendingConfig = ""
			return path, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !time.Now().Before(deadline) {
			return "", ErrConfigTimeout
		}
		c.cond.Wait()
	}
}

// wakeOnContext broadcasts the condition when ctx ends so waiters can
// observe the context error. The caller must hold c.mu and call the
// returned stop function before releasing interest.
func (c *Controller) wakeOnContext(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-done:
		}
	}()
	return func() { close(done) }
}
