package navilink

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Correlator matches responses to outstanding requests by session id.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Resolve is called from the dispatcher while Await blocks a caller.
type Correlator struct {
	clock clock.Clock

	mu      sync.Mutex
	pending map[string]*pendingRequest
	lastID  int64
}

type pendingRequest struct {
	mac  string
	done chan struct{}
	once sync.Once
}

// NewCorrelator creates an empty correlator using clk for ids and timeouts.
func NewCorrelator(clk clock.Clock) *Correlator {
	if clk == nil {
		clk = clock.New()
	}
	return &Correlator{
		clock:   clk,
		pending: make(map[string]*pendingRequest),
	}
}

// NextID returns a millisecond epoch session id, strictly greater than the
// previous one so that ids never repeat within the process.
func (c *Correlator) NextID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.clock.Now().UnixMilli()
	if id <= c.lastID {
		id = c.lastID + 1
	}
	c.lastID = id
	return strconv.FormatInt(id, 10)
}

// Begin registers a pending request for id, remembering which gateway it
// targets so responses without a MAC can still be routed.
func (c *Correlator) Begin(id, mac string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	c.pending[id] = &pendingRequest{mac: mac, done: make(chan struct{})}
	return nil
}

// Resolve completes the pending request for id. Unknown ids are ignored.
func (c *Correlator) Resolve(id string) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.once.Do(func() { close(p.done) })
	return true
}

// MACFor returns the gateway recorded for a pending id.
func (c *Correlator) MACFor(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return "", false
	}
	return p.mac, true
}

// Cancel drops a pending request without resolving it.
func (c *Correlator) Cancel(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Pending returns the number of outstanding requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Await blocks until id is resolved, the timeout elapses or ctx is done.
// The entry is removed on every exit path. Awaiting an id that was never
// registered returns immediately.
//
// Returns:
//   - nil when the response arrived
//   - ErrResponseTimeout on timeout
//   - ctx.Err() wrapped when the context ended first
func (c *Correlator) Await(ctx context.Context, id string, timeout time.Duration) error {
	c.mu.Lock()
	p, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	defer c.Cancel(id)

	timer := c.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: session %s after %v", ErrResponseTimeout, id, timeout)
	case <-ctx.Done():
		return fmt.Errorf("awaiting session %s: %w", id, ctx.Err())
	}
}
