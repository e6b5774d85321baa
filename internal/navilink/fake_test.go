package navilink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

var testCredentials = Credentials{AccessKeyID: "AKID", SecretKey: "secret", SessionToken: "token"}

// fakeHeater is the cloud-side state of one gateway.
type fakeHeater struct {
	mgpp         bool
	celsius      bool
	channels     int
	onDemandUse  int
	power        bool
	setting      int
	hot          bool
	vacationDays int
}

type fakeReply struct {
	topic string
	body  map[string]any
}

type fakePublish struct {
	topic string
	env   Envelope
}

// fakeCloud answers requests the way the NaviLink backend does, for every
// transport it dials.
type fakeCloud struct {
	mu           sync.Mutex
	heaters      map[string]*fakeHeater
	published    []fakePublish
	transports   []*fakeTransport
	dials        []TransportConfig
	omitMAC      bool
	silent       bool
	holdControls bool
	held         []fakeReply
	dialErr      error
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{heaters: make(map[string]*fakeHeater)}
}

func (c *fakeCloud) addLegacy(mac string, channels int, celsius bool, onDemandUse int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heaters[mac] = &fakeHeater{channels: channels, celsius: celsius, onDemandUse: onDemandUse, power: true, setting: 120}
}

func (c *fakeCloud) addMGPP(mac string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heaters[mac] = &fakeHeater{mgpp: true, power: true, setting: 100}
}

func (c *fakeCloud) dial(_ context.Context, cfg TransportConfig) (Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dials = append(c.dials, cfg)
	if c.dialErr != nil {
		return nil, c.dialErr
	}
	t := &fakeTransport{cloud: c, cfg: cfg, handlers: make(map[string]func(string, []byte))}
	c.transports = append(c.transports, t)
	return t, nil
}

func (c *fakeCloud) dialCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dials)
}

func (c *fakeCloud) lastTransport() *fakeTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.transports) == 0 {
		return nil
	}
	return c.transports[len(c.transports)-1]
}

// publishedCommands returns published envelopes with the given command id.
func (c *fakeCloud) publishedCommands(command int) []fakePublish {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []fakePublish
	for _, p := range c.published {
		if p.env.Request != nil && p.env.Request.Command == command {
			out = append(out, p)
		}
	}
	return out
}

func (c *fakeCloud) publishCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

// release delivers every held control reply.
func (c *fakeCloud) release(t *fakeTransport) {
	c.mu.Lock()
	held := c.held
	c.held = nil
	c.holdControls = false
	c.mu.Unlock()
	for _, r := range held {
		t.deliver(r)
	}
}

// respond mutates heater state for controls and builds the replies.
func (c *fakeCloud) respond(env Envelope) []fakeReply {
	req := env.Request
	if req == nil || c.silent {
		return nil
	}
	h, ok := c.heaters[req.MacAddress]
	if !ok {
		return nil
	}

	if env.ProtocolVersion == protocolMGPP {
		switch req.Command {
		case mgppCmdDID:
			return []fakeReply{c.reply(env, map[string]any{
				"feature": map[string]any{"dhwTemperatureMin": 70, "dhwTemperatureMax": 130, "recirculationUse": 2},
			})}
		case mgppCmdReservationRead:
			return []fakeReply{c.reply(env, map[string]any{"reservation": map[string]any{"reservationUse": 1}})}
		case mgppCmdPowerOn:
			h.power = true
		case mgppCmdPowerOff:
			h.power = false
		case mgppCmdTemperature:
			h.setting = req.Param[0]
		}
		return []fakeReply{c.reply(env, c.mgppStatus(h))}
	}

	switch req.Command {
	case legacyCmdChannelInfo:
		list := make([]map[string]any, 0, h.channels)
		for ch := 1; ch <= h.channels; ch++ {
			tempType := 2
			if h.celsius {
				tempType = 1
			}
			list = append(list, map[string]any{
				"channelNumber": ch,
				"channel": map[string]any{
					"temperatureType": tempType,
					"unitCount":       1,
					"setupDHWTempMin": 100,
					"setupDHWTempMax": 140,
					"onDemandUse":     h.onDemandUse,
				},
			})
		}
		return []fakeReply{c.reply(env, map[string]any{"channelInfo": map[string]any{"channelList": list}})}
	case legacyCmdChannelStatus:
		return []fakeReply{c.reply(env, c.legacyStatus(h, req.Status.ChannelNumber))}
	case legacyCmdPower:
		h.power = req.Control.Param[0] == legacyOn
	case legacyCmdTemperature:
		h.setting = req.Control.Param[0]
	case legacyCmdOnDemand:
		h.hot = req.Control.Param[0] == legacyOn
	default:
		return nil
	}
	return []fakeReply{c.reply(env, c.legacyStatus(h, req.Control.ChannelNumber))}
}

func (c *fakeCloud) legacyStatus(h *fakeHeater, channel int) map[string]any {
	return map[string]any{
		"channelStatus": map[string]any{
			"channelNumber": channel,
			"channel": map[string]any{
				"powerStatus":     legacyOnOff(h.power),
				"onDemandUseFlag": legacyOnOff(h.hot),
				"DHWSettingTemp":  h.setting,
				"unitType":        1,
				"unitCount":       1,
				"unitInfo": map[string]any{
					"unitStatusList": []map[string]any{{"currentOutletTemp": h.setting - 2}},
				},
			},
		},
	}
}

func (c *fakeCloud) mgppStatus(h *fakeHeater) map[string]any {
	power := 0
	if h.power {
		power = 1
	}
	return map[string]any{
		"status": map[string]any{
			"powerStatus":           power,
			"dhwTemperature":        h.setting - 4,
			"dhwTemperatureSetting": h.setting,
			"dhwOperationSetting":   int(ModeEco),
			"vacationDaySetting":    h.vacationDays,
		},
	}
}

func (c *fakeCloud) reply(env Envelope, response map[string]any) fakeReply {
	if !c.omitMAC {
		response["macAddress"] = env.Request.MacAddress
	}
	return fakeReply{
		topic: env.ResponseTopic,
		body: map[string]any{
			"clientID":  env.ClientID,
			"sessionID": env.SessionID,
			"response":  response,
		},
	}
}

// fakeTransport is one dialed connection to the fake cloud.
type fakeTransport struct {
	cloud *fakeCloud
	cfg   TransportConfig

	mu         sync.Mutex
	handlers   map[string]func(string, []byte)
	subscribed []string
	closed     bool
	publishErr error
}

func (t *fakeTransport) Publish(topic string, payload []byte) error {
	t.mu.Lock()
	err := t.publishErr
	t.mu.Unlock()
	if err != nil {
		return err
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}

	c := t.cloud
	c.mu.Lock()
	c.published = append(c.published, fakePublish{topic: topic, env: env})
	replies := c.respond(env)
	isControl := strings.HasSuffix(topic, "control") || strings.HasSuffix(topic, "ctrl")
	if c.holdControls && isControl {
		c.held = append(c.held, replies...)
		replies = nil
	}
	c.mu.Unlock()

	for _, r := range replies {
		t.deliver(r)
	}
	return nil
}

func (t *fakeTransport) Subscribe(filter string, handler func(string, []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[filter] = handler
	t.subscribed = append(t.subscribed, filter)
	return nil
}

func (t *fakeTransport) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) subscriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.subscribed...)
}

// deliver routes a reply to every handler whose filter matches.
func (t *fakeTransport) deliver(r fakeReply) {
	payload, err := json.Marshal(r.body)
	if err != nil {
		panic(err)
	}
	t.inject(r.topic, payload)
}

func (t *fakeTransport) inject(topic string, payload []byte) {
	t.mu.Lock()
	var targets []func(string, []byte)
	for filter, h := range t.handlers {
		if topicMatches(filter, topic) {
			targets = append(targets, h)
		}
	}
	t.mu.Unlock()
	for _, h := range targets {
		h(topic, payload)
	}
}

// lose simulates the broker dropping the connection.
func (t *fakeTransport) lose() {
	t.cfg.OnConnectionLost(errors.New("connection reset by peer"))
}

func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	if len(fp) != len(tp) {
		return false
	}
	for i := range fp {
		if fp[i] != "+" && fp[i] != tp[i] {
			return false
		}
	}
	return true
}

// recordingObserver keeps every reconnect cause along with the number of
// requests still awaiting a reply at that moment.
type recordingObserver struct {
	nopObserver
	pending func() int

	mu        sync.Mutex
	causes    []error
	pendingAt []int
}

func (o *recordingObserver) Reconnecting(cause error) {
	n := 0
	if o.pending != nil {
		n = o.pending()
	}
	o.mu.Lock()
	o.causes = append(o.causes, cause)
	o.pendingAt = append(o.pendingAt, n)
	o.mu.Unlock()
}

func (o *recordingObserver) reconnects() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.causes)
}

// cause returns the pending count seen with the i-th reconnect and its cause.
func (o *recordingObserver) cause(i int) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pendingAt[i], o.causes[i]
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func legacyDescriptor(mac string) DeviceDescriptor {
	return DeviceDescriptor{MAC: mac, Name: "Garage", DeviceType: 1, HomeSeq: "77", AdditionalValue: "av"}
}

func mgppDescriptor(mac string) DeviceDescriptor {
	return DeviceDescriptor{MAC: mac, Name: "Heat Pump", DeviceType: MGPPDeviceType, HomeSeq: "77", AdditionalValue: "av"}
}
