package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"voxchat/internal/domain"
	"voxchat/internal/ports"
)

// ErrDispatchInFlight is returned when Dispatch is called while a previous
// call has not settled. Single-flight policy: the second call is rejected,
// never queued and never raced against the first.
var ErrDispatchInFlight = errors.New("a request is already in flight")

// Dispatcher owns the single outstanding backend call. Responses whose
// originating request is no longer current (the dispatcher was invalidated,
// e.g. by a disconnect) are discarded, never delivered.
type Dispatcher struct {
	backend ports.BackendClient
	timeout time.Duration
	logger  *log.Logger

	mu       sync.Mutex
	inFlight bool
	gen      uint64
	settled  chan struct{}
}

func NewDispatcher(backend ports.BackendClient, timeout time.Duration, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{backend: backend, timeout: timeout, logger: logger}
}

// Dispatch starts one outbound call and delivers the classified reply to
// deliver on a worker goroutine. Errors from the backend never surface here;
// they arrive as classified Reply values.
func (d *Dispatcher) Dispatch(message string, history []domain.Message, deliver func(domain.Reply)) error {
	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		return ErrDispatchInFlight
	}
	d.inFlight = true
	d.gen++
	gen := d.gen
	settled := make(chan struct{})
	d.settled = settled
	d.mu.Unlock()

	go func() {
		ctx := context.Background()
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}

		reply := d.backend.SendMessage(ctx, message, history)

		d.mu.Lock()
		current := gen == d.gen
		d.inFlight = false
		d.mu.Unlock()
		close(settled)

		if !current {
			d.logger.Debug("discarding stale backend reply", "status", reply.Status)
			return
		}
		deliver(reply)
	}()

	return nil
}

// Invalidate marks any outstanding call stale so its reply is discarded on
// completion.
func (d *Dispatcher) Invalidate() {
	d.mu.Lock()
	d.gen++
	d.mu.Unlock()
}

// WaitSettled blocks until the outstanding call (if any) completes, up to
// timeout. It reports whether the dispatcher is idle.
func (d *Dispatcher) WaitSettled(timeout time.Duration) bool {
	d.mu.Lock()
	if !d.inFlight {
		d.mu.Unlock()
		return true
	}
	settled := d.settled
	d.mu.Unlock()

	select {
	case <-settled:
		return true
	case <-time.After(timeout):
		return false
	}
}

// InFlight reports whether a call is outstanding.
func (d *Dispatcher) InFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}
