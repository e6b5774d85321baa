package navilink

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/benbjohnson/clock"
)

// Account is the account-server surface the coordinator needs.
// Implemented by *AccountClient.
type Account interface {
	SignIn(ctx context.Context, userID, password string) (*Session, error)
	ListDevices(ctx context.Context, accessToken, userID string) ([]DeviceDescriptor, error)
}

// PreferenceStore persists the per-device polling opt-out.
type PreferenceStore interface {
	LoadDisabled(ctx context.Context) ([]string, error)
	SaveDisabled(ctx context.Context, deviceID string, disabled bool) error
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Account  Account
	Username string
	Password string

	// PollingInterval of zero makes Start a credential check only.
	PollingInterval time.Duration

	// MonitoredMACs limits the shared link to these gateways. Empty means all.
	MonitoredMACs []string

	SubscribeAllTopics bool
	Backoff            time.Duration
	Dial               TransportFactory
	Preferences        PreferenceStore
	Registry           *Registry
	Clock              clock.Clock
	Logger             Logger
	Observer           Observer
}

// Coordinator owns the account: login, discovery, the shared Link and the
// polling opt-out set.
type Coordinator struct {
	opts     CoordinatorOptions
	registry *Registry
	logger   Logger

	mu          sync.RWMutex
	session     *Session
	descriptors []DeviceDescriptor
	byMAC       map[string]DeviceDescriptor
	link        *Link

	disabledMu sync.RWMutex
	disabled   map[string]bool
}

// NewCoordinator creates a coordinator. Nothing is contacted until Start.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Account == nil {
		return nil, fmt.Errorf("navilink: coordinator requires an account client")
	}
	if opts.Username == "" || opts.Password == "" {
		return nil, fmt.Errorf("navilink: username and password are required")
	}
	logger := loggerOrNop(opts.Logger)
	if opts.Registry == nil {
		opts.Registry = NewRegistry(logger)
	}
	return &Coordinator{
		opts:     opts,
		registry: opts.Registry,
		logger:   logger,
		disabled: make(map[string]bool),
	}, nil
}

// Login signs in, stores the token bundle and rediscovers devices.
func (c *Coordinator) Login(ctx context.Context) ([]DeviceDescriptor, error) {
	session, err := c.opts.Account.SignIn(ctx, c.opts.Username, c.opts.Password)
	if err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	c.logger.Debug("navilink signed in", "user_seq", session.UserSeq)

	return c.DiscoverDevices(ctx)
}

// DiscoverDevices fetches the device list with the current access token.
func (c *Coordinator) DiscoverDevices(ctx context.Context) ([]DeviceDescriptor, error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return nil, ErrMissingCredentials
	}

	devices, err := c.opts.Account.ListDevices(ctx, session.Token.AccessToken, c.opts.Username)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	byMAC := make(map[string]DeviceDescriptor, len(devices))
	for _, d := range devices {
		key := normalizeMAC(d.MAC)
		if _, dup := byMAC[key]; !dup {
			byMAC[key] = d
		}
	}
	c.mu.Lock()
	c.descriptors = devices
	c.byMAC = byMAC
	c.mu.Unlock()
	c.logger.Info("navilink devices discovered", "count", len(devices))
	return devices, nil
}

// Start logs in and, unless the polling interval is zero, connects the
// shared link for the monitored gateways.
//
// Returns ErrNoDevicesFound when discovery is empty or no device session
// exists after connecting, and ErrAlreadyStarted while a previous link
// is still running. Fatal connect errors are returned unchanged.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.running() {
		return ErrAlreadyStarted
	}
	devices, err := c.Login(ctx)
	if err != nil {
		return err
	}
	if c.opts.PollingInterval <= 0 {
		c.logger.Info("navilink polling disabled, credentials validated")
		return nil
	}
	if len(devices) == 0 {
		return ErrNoDevicesFound
	}

	monitored := c.monitored(devices)
	if len(monitored) == 0 {
		return fmt.Errorf("%w: none of the monitored gateways are on the account", ErrNoDevicesFound)
	}
	c.loadPreferences(ctx)

	c.mu.RLock()
	userSeq := c.session.UserSeq
	c.mu.RUnlock()

	link, err := NewLink(LinkOptions{
		Gateways:           monitored,
		UserSeq:            userSeq,
		Credentials:        c.credentials,
		Refresh:            c.refresh,
		Dial:               c.opts.Dial,
		PollingInterval:    c.opts.PollingInterval,
		Backoff:            c.opts.Backoff,
		SubscribeAllTopics: c.opts.SubscribeAllTopics,
		IsDisabled:         c.IsPollingDisabled,
		Registry:           c.registry,
		Clock:              c.opts.Clock,
		Logger:             c.logger,
		Observer:           c.opts.Observer,
	})
	if err != nil {
		return err
	}
	if err := link.Start(ctx); err != nil {
		return err
	}
	if len(link.Sessions()) == 0 {
		link.Disconnect()
		return ErrNoDevicesFound
	}

	c.mu.Lock()
	if c.link != nil {
		c.mu.Unlock()
		link.Disconnect()
		return ErrAlreadyStarted
	}
	c.link = link
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.link != nil
}

// Disconnect stops the link. Safe to call more than once.
func (c *Coordinator) Disconnect() {
	c.mu.Lock()
	link := c.link
	c.link = nil
	c.mu.Unlock()
	if link != nil {
		link.Disconnect()
	}
}

// Registry returns the device registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Descriptors returns the gateways from the last discovery.
func (c *Coordinator) Descriptors() []DeviceDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]DeviceDescriptor(nil), c.descriptors...)
}

// Descriptor looks up a discovered gateway by MAC. Case and separators
// are ignored, so "04:78:63:32:FC:A0" finds "04786332fca0".
func (c *Coordinator) Descriptor(mac string) (DeviceDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byMAC[normalizeMAC(mac)]
	return d, ok
}

// Device returns the current session for a device id.
func (c *Coordinator) Device(id string) (*DeviceSession, error) {
	d, ok := c.registry.Device(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return d, nil
}

// Status returns the link state, or a zero status before Start.
func (c *Coordinator) Status() LinkStatus {
	c.mu.RLock()
	link := c.link
	c.mu.RUnlock()
	if link == nil {
		return LinkStatus{}
	}
	return link.Status()
}

// HealthCheck reports whether the link is connected.
func (c *Coordinator) HealthCheck(_ context.Context) error {
	c.mu.RLock()
	link := c.link
	c.mu.RUnlock()
	if link == nil || !link.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsPollingDisabled reports whether background polling is off for id.
func (c *Coordinator) IsPollingDisabled(id string) bool {
	c.disabledMu.RLock()
	defer c.disabledMu.RUnlock()
	return c.disabled[id]
}

// SetPollingDisabled toggles background polling for one device and
// persists the choice when a PreferenceStore is configured.
func (c *Coordinator) SetPollingDisabled(ctx context.Context, id string, disabled bool) error {
	c.disabledMu.Lock()
	if disabled {
		c.disabled[id] = true
	} else {
		delete(c.disabled, id)
	}
	c.disabledMu.Unlock()
	c.logger.Debug("navilink polling preference changed", "device_id", id, "disabled", disabled)

	if c.opts.Preferences == nil {
		return nil
	}
	if err := c.opts.Preferences.SaveDisabled(ctx, id, disabled); err != nil {
		return fmt.Errorf("saving polling preference: %w", err)
	}
	return nil
}

// SetDisabledDevices replaces the whole opt-out set.
func (c *Coordinator) SetDisabledDevices(ids []string) {
	next := make(map[string]bool, len(ids))
	for _, id := range ids {
		next[id] = true
	}
	c.disabledMu.Lock()
	c.disabled = next
	c.disabledMu.Unlock()
}

// DisabledDevices returns the opt-out set, sorted.
func (c *Coordinator) DisabledDevices() []string {
	c.disabledMu.RLock()
	ids := make([]string, 0, len(c.disabled))
	for id := range c.disabled {
		ids = append(ids, id)
	}
	c.disabledMu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) loadPreferences(ctx context.Context) {
	if c.opts.Preferences == nil {
		return
	}
	ids, err := c.opts.Preferences.LoadDisabled(ctx)
	if err != nil {
		c.logger.Warn("loading polling preferences failed", "error", err)
		return
	}
	c.SetDisabledDevices(ids)
}

// monitored filters devices to the configured MAC subset, keeping
// discovery order and dropping duplicates.
func (c *Coordinator) monitored(devices []DeviceDescriptor) []DeviceDescriptor {
	want := make(map[string]bool, len(c.opts.MonitoredMACs))
	for _, mac := range c.opts.MonitoredMACs {
		want[normalizeMAC(mac)] = true
	}
	seen := make(map[string]bool, len(devices))
	var out []DeviceDescriptor
	for _, d := range devices {
		if seen[d.MAC] {
			continue
		}
		if len(want) > 0 && !want[normalizeMAC(d.MAC)] {
			continue
		}
		seen[d.MAC] = true
		out = append(out, d)
	}
	return out
}

// normalizeMAC lowercases a MAC address and drops its separators.
func normalizeMAC(mac string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', '.':
			return -1
		}
		return unicode.ToLower(r)
	}, strings.TrimSpace(mac))
}

func (c *Coordinator) credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return Credentials{}
	}
	return c.session.Token.Credentials()
}

func (c *Coordinator) refresh(ctx context.Context) error {
	_, err := c.Login(ctx)
	return err
}
