package navilink

import "fmt"

// MGPP command identifiers.
const (
	mgppCmdDID               = 16777217
	mgppCmdStatus            = 16777219
	mgppCmdReservationRead   = 16777222
	mgppCmdPowerOff          = 33554433
	mgppCmdPowerOn           = 33554434
	mgppCmdOperationMode     = 33554437
	mgppCmdRecircHotButton   = 33554444
	mgppCmdFreezeProtection  = 33554451
	mgppCmdTemperature       = 33554464
	mgppCmdAntiLegionellaOff = 33554471
	mgppCmdAntiLegionellaOn  = 33554472
	mgppAntiLegionellaPeriod = 7
	mgppFlagOn               = 2
	mgppFlagOff              = 1
)

// mgppCodec builds MGPP envelopes for one gateway.
type mgppCodec struct {
	desc     DeviceDescriptor
	clientID string
}

func (c mgppCodec) envelope(command int, reqTopic, resTopic string) Envelope {
	return Envelope{
		ClientID:        c.clientID,
		ProtocolVersion: protocolMGPP,
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

func (c mgppCodec) did(t MGPPTopics) Message {
	return Message{Topic: t.StDID(), Envelope: c.envelope(mgppCmdDID, t.StDID(), t.ResDID())}
}

func (c mgppCodec) status(t MGPPTopics) Message {
	return Message{Topic: t.St(), Envelope: c.envelope(mgppCmdStatus, t.St(), t.Res())}
}

func (c mgppCodec) reservationRead(t MGPPTopics) Message {
	return Message{
		Topic:    t.StRsvRead(),
		Envelope: c.envelope(mgppCmdReservationRead, t.StRsvRead(), t.ResRsvRead()),
	}
}

func (c mgppCodec) control(t MGPPTopics, command int, mode string, param ...int) Message {
	env := c.envelope(command, t.Control(), t.Res())
	if param == nil {
		param = []int{}
	}
	env.Request.MGPPControl = &MGPPControl{Mode: mode, Param: param}
	return Message{Topic: t.Control(), Envelope: env}
}

func (c mgppCodec) lastWill(t MGPPTopics) Message {
	return Message{
		Topic:    t.AppConnection(),
		Envelope: lastWillEnvelope(c.desc, c.clientID, t.AppConnection()),
	}
}

func (c mgppCodec) encode(t MGPPTopics, cmd Command) (Message, error) {
	switch cmd.Kind {
	case CommandPower:
		if cmd.On {
			return c.control(t, mgppCmdPowerOn, "power-on"), nil
		}
		return c.control(t, mgppCmdPowerOff, "power-off"), nil
	case CommandTemperature:
		return c.control(t, mgppCmdTemperature, "dhw-temperature", cmd.Value), nil
	case CommandOperationMode:
		if OperationMode(cmd.Value) == ModeVacation {
			days := cmd.Days
			if days <= 0 {
				days = DefaultVacationDays
			}
			return c.control(t, mgppCmdOperationMode, "dhw-mode", cmd.Value, days), nil
		}
		return c.control(t, mgppCmdOperationMode, "dhw-mode", cmd.Value), nil
	case CommandAntiLegionella:
		if cmd.On {
			return c.control(t, mgppCmdAntiLegionellaOn, "anti-leg-on", mgppAntiLegionellaPeriod), nil
		}
		return c.control(t, mgppCmdAntiLegionellaOff, "anti-leg-off"), nil
	case CommandFreezeProtection:
		return c.control(t, mgppCmdFreezeProtection, "freeze-protection", mgppFlag(cmd.On)), nil
	case CommandRecircHotButton:
		return c.control(t, mgppCmdRecircHotButton, "recirc-hotbtn", mgppFlag(cmd.On)), nil
	default:
		return Message{}, fmt.Errorf("%w: %s", ErrUnsupported, cmd.Kind)
	}
}

func mgppFlag(on bool) int {
	if on {
		return mgppFlagOn
	}
	return mgppFlagOff
}
