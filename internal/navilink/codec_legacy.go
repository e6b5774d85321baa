package navilink

import "fmt"

// Legacy command identifiers.
const (
	legacyCmdChannelInfo   = 16777217
	legacyCmdChannelStatus = 16777220
	legacyCmdPower         = 33554433
	legacyCmdTemperature   = 33554435
	legacyCmdOnDemand      = 33554437
)

// Legacy on/off parameter values.
const (
	legacyOn  = 1
	legacyOff = 2
)

// legacyCodec builds Legacy envelopes for one gateway.
type legacyCodec struct {
	desc     DeviceDescriptor
	clientID string
}

func (c legacyCodec) envelope(command int, reqTopic, resTopic string) Envelope {
	return Envelope{
		ClientID:        c.clientID,
		ProtocolVersion: protocolLegacy,
		Request: &RequestBody{
			AdditionalValue: c.desc.AdditionalValue,
			Command:         command,
			DeviceType:      c.desc.DeviceType,
			MacAddress:      c.desc.MAC,
		},
		RequestTopic:  reqTopic,
		ResponseTopic: resTopic,
	}
}

func (c legacyCodec) channelInfo(t LegacyTopics) Message {
	return Message{
		Topic:    t.Start(),
		Envelope: c.envelope(legacyCmdChannelInfo, t.Start(), t.ChannelInfoRes()),
	}
}

func (c legacyCodec) channelStatus(t LegacyTopics, channel, unitCount int) Message {
	env := c.envelope(legacyCmdChannelStatus, t.ChannelStatusReq(), t.ChannelStatusRes())
	env.Request.Status = &LegacyStatusRange{
		ChannelNumber:   channel,
		UnitNumberEnd:   unitCount,
		UnitNumberStart: 1,
	}
	return Message{Topic: t.ChannelStatusReq(), Envelope: env}
}

func (c legacyCodec) control(t LegacyTopics, command, channel int, mode string, param int) Message {
	env := c.envelope(command, t.Control(), t.ChannelStatusRes())
	env.Request.Control = &LegacyControl{
		ChannelNumber: channel,
		Mode:          mode,
		Param:         []int{param},
	}
	return Message{Topic: t.Control(), Envelope: env}
}

func (c legacyCodec) lastWill(t LegacyTopics) Message {
	return Message{
		Topic:    t.AppConnection(),
		Envelope: lastWillEnvelope(c.desc, c.clientID, t.AppConnection()),
	}
}

func (c legacyCodec) encode(t LegacyTopics, cmd Command) (Message, error) {
	switch cmd.Kind {
	case CommandPower:
		return c.control(t, legacyCmdPower, cmd.Channel, "power", legacyOnOff(cmd.On)), nil
	case CommandTemperature:
		return c.control(t, legacyCmdTemperature, cmd.Channel, "DHWTemperature", cmd.Value), nil
	case CommandRecircHotButton:
		return c.control(t, legacyCmdOnDemand, cmd.Channel, "onDemand", legacyOnOff(cmd.On)), nil
	default:
		return Message{}, fmt.Errorf("%w: %s on legacy gateway", ErrUnsupported, cmd.Kind)
	}
}

func legacyOnOff(on bool) int {
	if on {
		return legacyOn
	}
	return legacyOff
}

// lastWillEnvelope is the app-connection disconnect event. Both dialects
// send it with protocol version 1.
func lastWillEnvelope(desc DeviceDescriptor, clientID, topic string) Envelope {
	return Envelope{
		ClientID: clientID,
		Event: &EventBody{
			AdditionalValue: desc.AdditionalValue,
			Connection:      ConnectionEvent{OS: "A", Status: 0},
			DeviceType:      desc.DeviceType,
			MacAddress:      desc.MAC,
		},
		ProtocolVersion: protocolLegacy,
		RequestTopic:    topic,
	}
}
