package navilink

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DeviceDescriptor is a gateway as returned by discovery. It is replaced
// wholesale on every discovery and never mutated.
type DeviceDescriptor struct {
	MAC             string `json:"mac"`
	Name            string `json:"name"`
	DeviceType      int    `json:"device_type"`
	HomeSeq         string `json:"home_seq"`
	AdditionalValue string `json:"additional_value"`
}

// Dialect returns the wire dialect the gateway speaks.
func (d DeviceDescriptor) Dialect() DialectKind {
	return DialectFor(d.DeviceType)
}

// deviceState is the dialect-specific half of a DeviceSession.
type deviceState interface {
	celsius() bool
	encodeTemperature(t float64) int
	supports(kind CommandKind) error
	fill(s *Snapshot)
}

// DeviceSession is one controllable water heater: a Legacy channel or an
// MGPP unit. Sessions are recreated when a gateway is handshaken again;
// callers that need to follow a device across reconnects look it up by ID
// in the Registry.
//
// Thread Safety:
//   - State is written only by the link's dispatcher and read under mu.
//   - Command methods are safe to call from any goroutine.
type DeviceSession struct {
	id      string
	name    string
	channel int
	desc    DeviceDescriptor
	link    *Link

	mu        sync.RWMutex
	state     deviceState
	updatedAt time.Time

	awaiting atomic.Bool
}

func newDeviceSession(l *Link, desc DeviceDescriptor, channel int, state deviceState) *DeviceSession {
	d := &DeviceSession{
		desc:    desc,
		channel: channel,
		link:    l,
		state:   state,
	}
	if desc.Dialect() == DialectMGPP {
		d.id = desc.MAC
		d.name = desc.Name
	} else {
		d.id = fmt.Sprintf("%s_%d", desc.MAC, channel)
		d.name = fmt.Sprintf("%s CH%d", desc.Name, channel)
	}
	return d
}

// ID returns the stable device identifier: the MAC for MGPP units,
// MAC_channel for Legacy channels.
func (d *DeviceSession) ID() string { return d.id }

// Name returns the display name.
func (d *DeviceSession) Name() string { return d.name }

// MAC returns the gateway MAC address.
func (d *DeviceSession) MAC() string { return d.desc.MAC }

// Channel returns the channel number behind the gateway.
func (d *DeviceSession) Channel() int { return d.channel }

// Dialect returns the wire dialect of the gateway.
func (d *DeviceSession) Dialect() DialectKind { return d.desc.Dialect() }

// Available reports whether the gateway's link is connected.
func (d *DeviceSession) Available() bool {
	return d.link != nil && d.link.IsConnected()
}

// Awaiting reports whether a command is in flight.
func (d *DeviceSession) Awaiting() bool { return d.awaiting.Load() }

// IsCelsius reports whether setpoints are expressed in Celsius.
func (d *DeviceSession) IsCelsius() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.celsius()
}

// Snapshot is a read-only copy of a device's decoded state.
type Snapshot struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	MAC                string    `json:"mac"`
	Channel            int       `json:"channel"`
	Dialect            string    `json:"dialect"`
	Available          bool      `json:"available"`
	Celsius            bool      `json:"celsius"`
	PowerOn            bool      `json:"power_on"`
	CurrentTemperature float64   `json:"current_temperature"`
	TargetTemperature  float64   `json:"target_temperature"`
	MinTemperature     float64   `json:"min_temperature"`
	MaxTemperature     float64   `json:"max_temperature"`
	OperationMode      string    `json:"operation_mode,omitempty"`
	HotButton          bool      `json:"hot_button"`
	SupportsHotButton  bool      `json:"supports_hot_button"`
	ErrorMessage       string    `json:"error_message,omitempty"`
	Summary            string    `json:"summary"`
	UpdatedAt          time.Time `json:"updated_at"`

	LegacyInfo  *LegacyChannelInfo   `json:"legacy_info,omitempty"`
	Legacy      *LegacyChannelStatus `json:"legacy,omitempty"`
	Features    *MGPPFeatures        `json:"features,omitempty"`
	MGPP        *MGPPStatus          `json:"mgpp,omitempty"`
	Reservation json.RawMessage      `json:"reservation,omitempty"`
}

// Snapshot returns the current decoded state.
func (d *DeviceSession) Snapshot() Snapshot {
	s := Snapshot{
		ID:        d.id,
		Name:      d.name,
		MAC:       d.desc.MAC,
		Channel:   d.channel,
		Dialect:   d.desc.Dialect().String(),
		Available: d.Available(),
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	s.Celsius = d.state.celsius()
	s.UpdatedAt = d.updatedAt
	d.state.fill(&s)
	return s
}

// SetPowerState turns the heater on or off.
func (d *DeviceSession) SetPowerState(ctx context.Context, on bool) error {
	return d.command(ctx, func() Command {
		return Command{Kind: CommandPower, Channel: d.channel, On: on}
	})
}

// SetTemperature sets the target temperature in the device's native unit.
// Celsius devices travel as half degrees, Fahrenheit devices as whole degrees.
func (d *DeviceSession) SetTemperature(ctx context.Context, temp float64) error {
	return d.command(ctx, func() Command {
		d.mu.RLock()
		raw := d.state.encodeTemperature(temp)
		d.mu.RUnlock()
		return Command{Kind: CommandTemperature, Channel: d.channel, Value: raw}
	})
}

// SetOperationMode selects the MGPP operating mode. days is used for
// vacation mode; zero means the length from the unit's last status.
func (d *DeviceSession) SetOperationMode(ctx context.Context, mode OperationMode, days int) error {
	return d.command(ctx, func() Command {
		n := days
		if n <= 0 {
			d.mu.RLock()
			if st, ok := d.state.(*mgppState); ok {
				n = st.vacationDays()
			}
			d.mu.RUnlock()
		}
		return Command{Kind: CommandOperationMode, Channel: d.channel, Value: int(mode), Days: n}
	})
}

// SetAntiLegionella enables or disables the periodic anti-legionella cycle.
func (d *DeviceSession) SetAntiLegionella(ctx context.Context, on bool) error {
	return d.command(ctx, func() Command {
		return Command{Kind: CommandAntiLegionella, Channel: d.channel, On: on}
	})
}

// SetFreezeProtection enables or disables freeze protection.
func (d *DeviceSession) SetFreezeProtection(ctx context.Context, on bool) error {
	return d.command(ctx, func() Command {
		return Command{Kind: CommandFreezeProtection, Channel: d.channel, On: on}
	})
}

// SetRecircHotButton presses or releases the recirculation hot button.
func (d *DeviceSession) SetRecircHotButton(ctx context.Context, on bool) error {
	return d.command(ctx, func() Command {
		return Command{Kind: CommandRecircHotButton, Channel: d.channel, On: on}
	})
}

// command runs one control round trip. A call made while another command
// is awaiting its response is dropped.
func (d *DeviceSession) command(ctx context.Context, build func() Command) error {
	if !d.awaiting.CompareAndSwap(false, true) {
		d.link.logger.Debug("command dropped, previous command still in flight", "device_id", d.id)
		return nil
	}
	defer d.awaiting.Store(false)

	cmd := build()
	d.mu.RLock()
	err := d.state.supports(cmd.Kind)
	d.mu.RUnlock()
	if err != nil {
		return err
	}

	err = d.link.sendCommand(ctx, d.desc.MAC, cmd)
	d.link.observer.CommandCompleted(cmd.Kind.String(), err)
	if err != nil {
		d.link.logger.Warn("command failed", "device_id", d.id, "command", cmd.Kind.String(), "error", err)
		return fmt.Errorf("%s on %s: %w", cmd.Kind, d.id, err)
	}
	d.link.notify(d)
	return nil
}

// update mutates state under the write lock and stamps the update time.
func (d *DeviceSession) update(fn func(st deviceState)) {
	d.mu.Lock()
	fn(d.state)
	d.updatedAt = d.link.clock.Now()
	d.mu.Unlock()
}

// sortSessions orders sessions by channel.
func sortSessions(list []*DeviceSession) {
	sort.Slice(list, func(i, j int) bool { return list[i].channel < list[j].channel })
}
