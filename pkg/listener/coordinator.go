package listener

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/ajitpratap0/wsrm-go/pkg/logging"
	"github.com/ajitpratap0/wsrm-go/pkg/observability"
	"github.com/ajitpratap0/wsrm-go/pkg/protocol"
	"github.com/ajitpratap0/wsrm-go/pkg/transport"
)

// coordinator decides who shuts the shared inner listener down. The
// listener close path and the last session to leave race for it; the
// decision and the claim happen in one critical section, so the inner
// listener is closed or aborted exactly once.
type coordinator struct {
	mu    *sync.Mutex
	table *sessionTable
	inner transport.Listener

	clock   clock.Clock
	logger  logging.Logger
	metrics observability.ListenerMetrics

	// guarded by mu
	refCount int
	closed   bool
	claimed  bool
}

// sessionAdded counts a session inserted into the table. Requires the lock.
func (c *coordinator) sessionAdded() {
	assertLocked(c.mu)
	c.refCount++
}

// removeLocked drops a session and reports whether the caller now owns the
// inner listener shutdown
func (c *coordinator) removeLocked(inputID, outputID protocol.SequenceID) bool {
	if c.table.remove(inputID, outputID) {
		c.refCount--
	}
	return c.claimLocked()
}

// claimLocked takes the shutdown obligation if the listener is closed, no
// session is left and nobody took it before
func (c *coordinator) claimLocked() bool {
	if c.closed && c.refCount == 0 && !c.claimed {
		c.claimed = true
		return true
	}
	return false
}

// onSessionAbort removes a session. The last session of a closed listener
// aborts the inner listener.
func (c *coordinator) onSessionAbort(inputID, outputID protocol.SequenceID) {
	c.mu.Lock()
	owner := c.removeLocked(inputID, outputID)
	c.mu.Unlock()

	if owner {
		c.logger.Debug("Last session aborted, aborting inner listener", logging.SequenceID(inputID.String()))
		c.abortInner()
	}
}

// onSessionGracefulClose removes a session. The last session of a closed
// listener closes the inner listener before it leaves the table.
func (c *coordinator) onSessionGracefulClose(ctx context.Context, inputID, outputID protocol.SequenceID) error {
	c.mu.Lock()
	if c.closed && !c.claimed && c.table.isLastSession(inputID) {
		c.claimed = true
		c.mu.Unlock()

		err := c.closeInner(ctx)

		c.mu.Lock()
		if c.table.remove(inputID, outputID) {
			c.refCount--
		}
		c.mu.Unlock()
		return err
	}
	owner := c.removeLocked(inputID, outputID)
	c.mu.Unlock()

	if owner {
		return c.closeInner(ctx)
	}
	return nil
}

// onListenerClose marks the listener closed. Without live sessions the
// inner listener is closed now; otherwise the last session inherits the
// obligation. It reports whether the inner listener was shut down.
func (c *coordinator) onListenerClose(ctx context.Context) (bool, error) {
	c.mu.Lock()
	c.closed = true
	owner := c.claimLocked()
	c.mu.Unlock()

	if !owner {
		return false, nil
	}
	return true, c.closeInner(ctx)
}

// onListenerAbort marks the listener closed and aborts the inner listener
// when no session remains. Live sessions cascade through their own aborts.
func (c *coordinator) onListenerAbort() bool {
	c.mu.Lock()
	c.closed = true
	owner := c.claimLocked()
	c.mu.Unlock()

	if owner {
		c.abortInner()
	}
	return owner
}

// forceAbort claims the inner listener regardless of live sessions. A
// faulted listener uses it after faulting every session.
func (c *coordinator) forceAbort() {
	c.mu.Lock()
	c.closed = true
	owner := !c.claimed
	c.claimed = true
	c.mu.Unlock()

	if owner {
		c.abortInner()
	}
}

// isClosed reports whether the listener close path has run
func (c *coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// closeInner closes the inner listener within ctx. A failed graceful close
// is followed by an abort.
func (c *coordinator) closeInner(ctx context.Context) error {
	start := c.clock.Now()
	err := c.inner.Close(ctx)
	if err != nil {
		c.inner.Abort()
		err = multierr.Append(err, ctx.Err())
		c.logger.WithError(err).Warn("Inner listener close failed, aborted", logging.String("addr", c.inner.Addr()))
	} else {
		c.logger.Info("Inner listener closed", logging.String("addr", c.inner.Addr()))
	}
	c.metrics.InnerClosed(c.clock.Since(start), err)
	return err
}

func (c *coordinator) abortInner() {
	c.inner.Abort()
	c.logger.Info("Inner listener aborted", logging.String("addr", c.inner.Addr()))
}

// isClaimed reports whether the inner listener has been shut down or is
// being shut down
func (c *coordinator) isClaimed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.claimed
}
