package navilink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Link defaults.
const (
	DefaultPollingInterval = 15 * time.Second
	DefaultBackoff         = 15 * time.Second

	maxConsecutivePollFailures = 3
	stalenessMultiplier        = 4
	minPollTick                = 100 * time.Millisecond
	inboundQueueSize           = 256
)

// LinkOptions configures a Link.
type LinkOptions struct {
	// Gateways are the monitored gateways sharing this transport.
	Gateways []DeviceDescriptor

	// UserSeq is the account's user sequence, part of every topic.
	UserSeq string

	// Credentials returns the current IoT credentials. Called on every connect.
	Credentials func() Credentials

	// Refresh renews Credentials before a reconnect. Optional.
	Refresh func(ctx context.Context) error

	// Dial opens the MQTT transport.
	Dial TransportFactory

	// PollingInterval is the poll period and the response timeout.
	PollingInterval time.Duration

	// Backoff is the pause between a lost epoch and the next connect attempt.
	Backoff time.Duration

	// SubscribeAllTopics adds the Legacy trend and schedule topics.
	SubscribeAllTopics bool

	// IsDisabled reports whether background polling is off for a device id.
	IsDisabled func(id string) bool

	Registry *Registry
	Clock    clock.Clock
	Logger   Logger
	Observer Observer
}

// LinkStatus is a point-in-time view of the connection state.
type LinkStatus struct {
	Connected    bool      `json:"connected"`
	ClientID     string    `json:"client_id"`
	LastPoll     time.Time `json:"last_poll"`
	LastData     time.Time `json:"last_data"`
	PollFailures int       `json:"poll_failures"`
	Pending      int       `json:"pending_requests"`
	Gateways     int       `json:"gateways"`
	Sessions     int       `json:"sessions"`
}

// route is what one subscribed filter carries and which gateways
// subscribed to it.
type route struct {
	kind RouteKind
	macs []string
}

func (r *route) has(mac string) bool {
	for _, m := range r.macs {
		if m == mac {
			return true
		}
	}
	return false
}

type inboundMessage struct {
	filter  string
	topic   string
	payload []byte
}

// Link is the single MQTT session shared by every monitored gateway of an
// account. It owns the connect, poll, watchdog and reconnect state machine.
//
// Thread Safety:
//   - Transport publish and subscribe are serialized by clientMu; awaiting a
//     response happens outside it.
//   - Inbound messages are applied by one dispatcher goroutine.
type Link struct {
	opts       LinkOptions
	interval   time.Duration
	backoff    time.Duration
	correlator *Correlator
	registry   *Registry
	clock      clock.Clock
	logger     Logger
	observer   Observer

	gateways map[string]*gateway
	order    []*gateway

	clientMu  sync.Mutex
	transport Transport
	busy      atomic.Bool

	stateMu   sync.RWMutex
	connected bool
	clientID  string
	lastPoll  time.Time
	lastData  time.Time
	failures  int
	routes    map[string]*route

	shuttingDown atomic.Bool
	offline      chan struct{}
	inbound      chan inboundMessage

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewLink creates a Link for the given gateways. It does not connect.
func NewLink(opts LinkOptions) (*Link, error) {
	if len(opts.Gateways) == 0 {
		return nil, ErrNoDevicesFound
	}
	if opts.Dial == nil {
		return nil, errors.New("navilink: link requires a transport factory")
	}
	if opts.Credentials == nil {
		return nil, errors.New("navilink: link requires a credentials source")
	}
	if opts.PollingInterval <= 0 {
		opts.PollingInterval = DefaultPollingInterval
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	logger := loggerOrNop(opts.Logger)
	if opts.Registry == nil {
		opts.Registry = NewRegistry(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Link{
		opts:       opts,
		interval:   opts.PollingInterval,
		backoff:    opts.Backoff,
		correlator: NewCorrelator(opts.Clock),
		registry:   opts.Registry,
		clock:      opts.Clock,
		logger:     logger,
		observer:   opts.Observer,
		gateways:   make(map[string]*gateway, len(opts.Gateways)),
		routes:     make(map[string]*route),
		offline:    make(chan struct{}, 1),
		inbound:    make(chan inboundMessage, inboundQueueSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, desc := range opts.Gateways {
		if _, dup := l.gateways[desc.MAC]; dup {
			continue
		}
		gw := newGateway(l, desc)
		l.gateways[desc.MAC] = gw
		l.order = append(l.order, gw)
	}
	return l, nil
}

// Start connects and, once the first epoch is established, runs the
// poll/watchdog/reconnect loop in the background.
//
// Fatal connect errors (see IsFatal) are returned without retrying; any
// other failure is retried after the backoff until it succeeds, ctx ends
// or Disconnect is called. A failed Start leaves the link stopped.
func (l *Link) Start(ctx context.Context) error {
	l.wg.Add(1)
	go l.dispatch()

	startCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(l.ctx, cancel)
	defer stop()

	if err := l.connectWithRetry(startCtx, true); err != nil {
		l.Disconnect()
		return err
	}

	l.wg.Add(1)
	go l.run()
	return nil
}

// Disconnect stops the link. The shutdown flag is set before the transport
// closes so the resulting connection-lost signal is not treated as a fault.
// Safe to call more than once.
func (l *Link) Disconnect() {
	l.stopOnce.Do(func() {
		l.shuttingDown.Store(true)
		l.cancel()
		close(l.done)
		l.closeTransport()
		l.wg.Wait()

		l.stateMu.Lock()
		wasConnected := l.connected
		l.connected = false
		l.stateMu.Unlock()
		if wasConnected {
			l.observer.LinkConnected(false)
			l.notifyAll()
		}
		l.logger.Info("navilink link stopped", "gateways", len(l.order))
	})
}

// IsConnected reports whether the current epoch is established.
func (l *Link) IsConnected() bool {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	return l.connected
}

// Status returns a snapshot of the connection state.
func (l *Link) Status() LinkStatus {
	l.stateMu.RLock()
	st := LinkStatus{
		Connected:    l.connected,
		ClientID:     l.clientID,
		LastPoll:     l.lastPoll,
		LastData:     l.lastData,
		PollFailures: l.failures,
		Gateways:     len(l.order),
	}
	l.stateMu.RUnlock()
	st.Pending = l.correlator.Pending()
	st.Sessions = len(l.Sessions())
	return st
}

// Sessions returns every device session, ordered by gateway then channel.
func (l *Link) Sessions() []*DeviceSession {
	var list []*DeviceSession
	for _, gw := range l.order {
		list = append(list, gw.sessionList()...)
	}
	return list
}

// connectWithRetry runs the connect sequence until it succeeds. On the
// initial start fatal errors are returned. After that only an account
// rejection during the credential refresh stops the link; every other
// error is retried.
func (l *Link) connectWithRetry(ctx context.Context, initial bool) error {
	for attempt := 0; ; attempt++ {
		err := l.refreshCredentials(ctx, initial, attempt)
		if err == nil {
			err = l.connect(ctx)
		}
		if err == nil {
			return nil
		}
		l.closeTransport()

		if l.shuttingDown.Load() {
			return ErrShuttingDown
		}
		if ctx.Err() != nil {
			return fmt.Errorf("connecting: %w", ctx.Err())
		}
		if initial && IsFatal(err) {
			l.logger.Error("navilink connect failed", "error", err)
			return err
		}
		if !initial && errors.Is(err, ErrAuth) {
			l.logger.Error("navilink credential refresh rejected, link stopped", "error", err)
			l.observer.Reconnecting(err)
			return err
		}

		l.logger.Warn("navilink connect failed, retrying",
			"error", err,
			"attempt", attempt+1,
			"backoff", l.backoff)
		l.observer.Reconnecting(err)
		if !l.sleep(ctx, l.backoff) {
			if l.shuttingDown.Load() {
				return ErrShuttingDown
			}
			return fmt.Errorf("connecting: %w", ctx.Err())
		}
	}
}

// refreshCredentials re-logs in before every attempt except the very first.
func (l *Link) refreshCredentials(ctx context.Context, initial bool, attempt int) error {
	if l.opts.Refresh == nil || (initial && attempt == 0) {
		return nil
	}
	if err := l.opts.Refresh(ctx); err != nil {
		return fmt.Errorf("refreshing credentials: %w", err)
	}
	return nil
}

// connect runs one connect sequence and marks the epoch connected.
func (l *Link) connect(ctx context.Context) error {
	creds := l.opts.Credentials()
	if !creds.Complete() {
		return ErrMissingCredentials
	}

	clientID := uuid.NewString()
	routes := make(map[string]*route)
	var filters []string
	for _, gw := range l.order {
		d := newDialect(gw.desc, l.opts.UserSeq, clientID, l.logger, l.opts.SubscribeAllTopics)
		gw.setDialect(d)
		for _, sub := range d.Subscriptions() {
			r, ok := routes[sub.Filter]
			if !ok {
				r = &route{kind: sub.Route}
				routes[sub.Filter] = r
				filters = append(filters, sub.Filter)
			}
			if !r.has(gw.desc.MAC) {
				r.macs = append(r.macs, gw.desc.MAC)
			}
		}
	}

	// One will per MQTT connection: the first monitored gateway's.
	will := l.order[0].currentDialect().LastWill()
	willPayload, err := will.Envelope.Marshal()
	if err != nil {
		return err
	}

	l.drainOffline()
	transport, err := l.opts.Dial(ctx, TransportConfig{
		ClientID:         clientID,
		Credentials:      creds,
		WillTopic:        will.Topic,
		WillPayload:      willPayload,
		OnConnectionLost: l.connectionLost,
	})
	if err != nil {
		return fmt.Errorf("opening transport: %w", err)
	}

	l.stateMu.Lock()
	l.clientID = clientID
	l.routes = routes
	l.stateMu.Unlock()
	l.clientMu.Lock()
	l.transport = transport
	l.clientMu.Unlock()

	for _, filter := range filters {
		if err := l.subscribe(filter); err != nil {
			return err
		}
	}
	l.logger.Debug("navilink topics subscribed", "client_id", clientID, "filters", len(filters))

	for _, gw := range l.order {
		if gw.sessionCount() > 0 {
			continue
		}
		for _, msg := range gw.currentDialect().Handshake(gw) {
			if err := l.publishAndAwait(ctx, gw.desc.MAC, msg); err != nil {
				return fmt.Errorf("handshake with %s: %w", gw.desc.MAC, err)
			}
		}
		if gw.sessionCount() == 0 {
			return fmt.Errorf("%w: gateway %s", ErrNoChannelInformation, gw.desc.MAC)
		}
	}

	if err := l.poll(ctx); err != nil {
		return fmt.Errorf("initial status poll: %w", err)
	}

	now := l.clock.Now()
	l.stateMu.Lock()
	l.connected = true
	l.lastPoll = now
	l.lastData = now
	l.failures = 0
	l.stateMu.Unlock()

	l.observer.LinkConnected(true)
	l.notifyAll()
	l.logger.Info("navilink connected",
		"client_id", clientID,
		"gateways", len(l.order),
		"sessions", len(l.Sessions()))
	return nil
}

// run is the steady-state loop: serve an epoch, back off, reconnect.
func (l *Link) run() {
	defer l.wg.Done()
	for {
		err := l.serve(l.ctx)
		if l.shuttingDown.Load() {
			return
		}
		l.logger.Warn("navilink connection reset, reconnecting",
			"error", err,
			"backoff", l.backoff)
		l.resetEpoch()
		l.observer.Reconnecting(err)

		if !l.sleep(l.ctx, l.backoff) {
			return
		}
		if err := l.connectWithRetry(l.ctx, false); err != nil {
			return
		}
	}
}

// serve races the poll loop against the watchdog. Whichever fails first
// cancels the other.
func (l *Link) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.pollLoop(gctx) })
	g.Go(func() error { return l.watchdog(gctx) })
	return g.Wait()
}

// pollLoop polls every interval, correcting for the time the previous
// poll took, and raises ErrStaleConnection when data stops arriving.
func (l *Link) pollLoop(ctx context.Context) error {
	var took time.Duration
	for l.IsConnected() && !l.shuttingDown.Load() {
		wait := minPollTick
		if took < l.interval {
			wait = l.interval - took
		}
		if !l.sleep(ctx, wait) {
			return ctx.Err()
		}

		if l.isStale(l.clock.Now()) {
			l.logger.Warn("navilink connection stale, no data received recently")
			return fmt.Errorf("%w: no data within %v", ErrStaleConnection, l.interval*stalenessMultiplier)
		}

		start := l.clock.Now()
		if err := l.pollTick(ctx); err != nil {
			return err
		}
		took = l.clock.Since(start)
	}
	if l.shuttingDown.Load() {
		return nil
	}
	return ErrPollingStopped
}

// pollTick runs one background poll.
func (l *Link) pollTick(ctx context.Context) error {
	if l.busy.Load() {
		l.logger.Debug("navilink poll skipped, transport busy")
		l.touchPoll(false)
		return nil
	}
	if l.allDisabled() {
		l.logger.Debug("navilink poll skipped, every device disabled")
		l.touchPoll(true)
		return nil
	}

	err := l.poll(ctx)
	l.touchPoll(false)
	l.observer.PollCompleted(err == nil)
	if err != nil {
		l.logger.Debug("navilink poll failed", "error", err)
	}
	return l.recordPollResult(err == nil)
}

// poll sends and awaits every status request of every gateway.
func (l *Link) poll(ctx context.Context) error {
	for _, gw := range l.order {
		d := gw.currentDialect()
		if d == nil {
			continue
		}
		for _, msg := range d.PollRequests(gw, l.isDisabled) {
			if err := l.publishAndAwait(ctx, gw.desc.MAC, msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordPollResult updates the consecutive failure counter.
func (l *Link) recordPollResult(ok bool) error {
	l.stateMu.Lock()
	prev := l.failures
	if ok {
		l.failures = 0
	} else {
		l.failures++
	}
	failures := l.failures
	l.stateMu.Unlock()

	if ok {
		if prev > 0 {
			l.logger.Debug("navilink poll recovered", "previous_failures", prev)
		}
		return nil
	}
	l.logger.Warn("navilink poll failed",
		"consecutive_failures", failures,
		"max", maxConsecutivePollFailures)
	if failures >= maxConsecutivePollFailures {
		return fmt.Errorf("%w: %d consecutive poll failures", ErrStaleConnection, failures)
	}
	return nil
}

// isStale reports whether no data has arrived for longer than
// stalenessMultiplier polling intervals.
func (l *Link) isStale(now time.Time) bool {
	l.stateMu.RLock()
	last := l.lastData
	l.stateMu.RUnlock()
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > l.interval*stalenessMultiplier
}

// touchPoll stamps the last poll time, and the last data time when a
// tick is skipped on purpose.
func (l *Link) touchPoll(data bool) {
	now := l.clock.Now()
	l.stateMu.Lock()
	l.lastPoll = now
	if data {
		l.lastData = now
	}
	l.stateMu.Unlock()
}

func (l *Link) markData() {
	now := l.clock.Now()
	l.stateMu.Lock()
	l.lastData = now
	l.stateMu.Unlock()
}

// watchdog blocks until the transport reports the connection lost.
func (l *Link) watchdog(ctx context.Context) error {
	select {
	case <-l.offline:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resetEpoch clears the per-connection state after an epoch ends.
func (l *Link) resetEpoch() {
	l.stateMu.Lock()
	l.connected = false
	l.failures = 0
	l.lastData = time.Time{}
	l.stateMu.Unlock()
	l.closeTransport()
	l.observer.LinkConnected(false)
	l.notifyAll()
}

// sendCommand publishes a control envelope, awaits its response, then
// refreshes the affected state.
func (l *Link) sendCommand(ctx context.Context, mac string, cmd Command) error {
	if !l.IsConnected() {
		return ErrNotConnected
	}
	gw, ok := l.gateways[mac]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, mac)
	}
	d := gw.currentDialect()
	msg, err := d.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	if err := l.publishAndAwait(ctx, mac, msg); err != nil {
		return err
	}
	for _, refresh := range d.RefreshRequests(gw, cmd.Channel) {
		if err := l.publishAndAwait(ctx, mac, refresh); err != nil {
			return fmt.Errorf("refreshing after %s: %w", cmd.Kind, err)
		}
	}
	return nil
}

// publishAndAwait stamps a fresh session id, publishes under the
// transport lock and waits for the response outside it.
func (l *Link) publishAndAwait(ctx context.Context, mac string, msg Message) error {
	id := l.correlator.NextID()
	env := msg.Envelope
	env.SessionID = id
	payload, err := env.Marshal()
	if err != nil {
		return err
	}
	if err := l.correlator.Begin(id, mac); err != nil {
		return err
	}

	if err := l.publish(msg.Topic, payload); err != nil {
		l.correlator.Cancel(id)
		return err
	}
	return l.correlator.Await(ctx, id, l.interval)
}

func (l *Link) publish(topic string, payload []byte) error {
	l.clientMu.Lock()
	defer l.clientMu.Unlock()
	if l.transport == nil {
		return ErrNotConnected
	}
	l.busy.Store(true)
	defer l.busy.Store(false)
	if err := l.transport.Publish(topic, payload); err != nil {
		l.dropConnection(err)
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (l *Link) subscribe(filter string) error {
	l.clientMu.Lock()
	defer l.clientMu.Unlock()
	if l.transport == nil {
		return ErrNotConnected
	}
	err := l.transport.Subscribe(filter, func(topic string, payload []byte) {
		l.enqueue(filter, topic, payload)
	})
	if err != nil {
		l.dropConnection(err)
		return fmt.Errorf("subscribing to %s: %w", filter, err)
	}
	return nil
}

// dropConnection ends the epoch after a transport error.
func (l *Link) dropConnection(err error) {
	l.logger.Warn("navilink transport error, dropping connection", "error", err)
	l.signalOffline()
}

func (l *Link) closeTransport() {
	l.clientMu.Lock()
	t := l.transport
	l.transport = nil
	l.clientMu.Unlock()
	if t != nil {
		t.Close()
	}
}

// connectionLost is the transport's connection-lost callback.
func (l *Link) connectionLost(err error) {
	if l.shuttingDown.Load() {
		return
	}
	l.logger.Warn("navilink transport offline", "error", err)
	l.stateMu.Lock()
	l.connected = false
	l.stateMu.Unlock()
	l.signalOffline()
}

func (l *Link) signalOffline() {
	select {
	case l.offline <- struct{}{}:
	default:
	}
}

func (l *Link) drainOffline() {
	select {
	case <-l.offline:
	default:
	}
}

// enqueue hands an inbound message to the dispatcher. It never blocks the
// transport goroutine.
func (l *Link) enqueue(filter, topic string, payload []byte) {
	m := inboundMessage{filter: filter, topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case l.inbound <- m:
	case <-l.done:
	default:
		l.logger.Warn("navilink inbound queue full, message dropped", "topic", topic)
	}
}

func (l *Link) dispatch() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case m := <-l.inbound:
			l.handleInbound(m)
		}
	}
}

// handleInbound applies one message to its gateway, then completes the
// pending request so the waiter observes the new state.
func (l *Link) handleInbound(m inboundMessage) {
	in, err := ParseInbound(m.topic, m.payload)
	if err != nil {
		l.logger.Warn("navilink inbound message undecodable", "topic", m.topic, "error", err)
		return
	}

	l.stateMu.RLock()
	r := l.routes[m.filter]
	l.stateMu.RUnlock()
	if r == nil {
		l.logger.Debug("navilink message on unknown filter", "filter", m.filter, "topic", m.topic)
		return
	}

	gw := l.resolveGateway(r, in)
	if gw == nil {
		l.logger.Debug("navilink message dropped, no target gateway", "topic", m.topic)
		return
	}
	d := gw.currentDialect()
	if d == nil {
		return
	}

	changed := d.Apply(l.ctx, gw, r.kind, in)
	l.observer.MessageReceived(r.kind.String())
	if r.kind.resolves() {
		l.markData()
		l.correlator.Resolve(in.SessionID)
	}
	for _, s := range changed {
		l.notify(s)
	}
}

// resolveGateway picks the gateway a message belongs to: the MAC in the
// payload, the MAC recorded for its session id, or the only gateway
// subscribed to the filter.
func (l *Link) resolveGateway(r *route, in *Inbound) *gateway {
	if mac := in.MAC(); mac != "" && r.has(mac) {
		if gw, ok := l.gateways[mac]; ok {
			return gw
		}
	}
	if in.SessionID != "" {
		if mac, ok := l.correlator.MACFor(in.SessionID); ok && r.has(mac) {
			return l.gateways[mac]
		}
	}
	if len(r.macs) == 1 {
		return l.gateways[r.macs[0]]
	}
	return nil
}

func (l *Link) isDisabled(id string) bool {
	return l.opts.IsDisabled != nil && l.opts.IsDisabled(id)
}

// allDisabled reports whether every session has polling turned off.
func (l *Link) allDisabled() bool {
	sessions := l.Sessions()
	if len(sessions) == 0 {
		return false
	}
	for _, s := range sessions {
		if !l.isDisabled(s.ID()) {
			return false
		}
	}
	return true
}

func (l *Link) notify(s *DeviceSession) {
	l.registry.Notify(s.ID())
}

func (l *Link) notifyAll() {
	for _, s := range l.Sessions() {
		l.notify(s)
	}
}

// sleep waits for d on the link clock. Returns false if ctx ended first.
func (l *Link) sleep(ctx context.Context, d time.Duration) bool {
	timer := l.clock.Timer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
