package navilink

import (
	"encoding/json"
	"fmt"
)

// Protocol versions carried in the envelope.
const (
	protocolLegacy = 1
	protocolMGPP   = 2
)

// Envelope is the JSON object every outbound message is wrapped in.
// Field order matches the order the cloud emits.
type Envelope struct {
	ClientID        string       `json:"clientID"`
	Event           *EventBody   `json:"event,omitempty"`
	ProtocolVersion int          `json:"protocolVersion"`
	Request         *RequestBody `json:"request,omitempty"`
	RequestTopic    string       `json:"requestTopic"`
	ResponseTopic   string       `json:"responseTopic,omitempty"`
	SessionID       string       `json:"sessionID"`
}

// RequestBody is the request object. Legacy controls nest under control;
// MGPP controls are flattened through the embedded *MGPPControl.
type RequestBody struct {
	AdditionalValue string         `json:"additionalValue"`
	Command         int            `json:"command"`
	Control         *LegacyControl `json:"control,omitempty"`
	DeviceType      int            `json:"deviceType"`
	MacAddress      string         `json:"macAddress"`
	*MGPPControl
	Status *LegacyStatusRange `json:"status,omitempty"`
}

// LegacyControl is the nested Legacy control object.
type LegacyControl struct {
	ChannelNumber int    `json:"channelNumber"`
	Mode          string `json:"mode"`
	Param         []int  `json:"param"`
}

// LegacyStatusRange selects the channel and units of a Legacy status request.
type LegacyStatusRange struct {
	ChannelNumber   int `json:"channelNumber"`
	UnitNumberEnd   int `json:"unitNumberEnd"`
	UnitNumberStart int `json:"unitNumberStart"`
}

// MGPPControl holds the flat MGPP control fields.
type MGPPControl struct {
	Mode     string `json:"mode"`
	Param    []int  `json:"param"`
	ParamStr string `json:"paramStr"`
}

// EventBody is the event object of the last-will message.
type EventBody struct {
	AdditionalValue string          `json:"additionalValue"`
	Connection      ConnectionEvent `json:"connection"`
	DeviceType      int             `json:"deviceType"`
	MacAddress      string          `json:"macAddress"`
}

// ConnectionEvent reports the app's connection status.
type ConnectionEvent struct {
	OS     string `json:"os"`
	Status int    `json:"status"`
}

// Marshal encodes the envelope as compact JSON.
func (e Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return b, nil
}

// Inbound is a decoded inbound envelope. Bodies stay raw until a handler
// for the route decodes them.
type Inbound struct {
	Topic     string
	ClientID  string
	SessionID string
	Request   fields
	Response  fields
	Event     fields
	Raw       json.RawMessage
}

type inboundWire struct {
	ClientID  FlexString      `json:"clientID"`
	SessionID FlexString      `json:"sessionID"`
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response"`
	Event     json.RawMessage `json:"event"`
}

// ParseInbound decodes an inbound payload.
func ParseInbound(topic string, payload []byte) (*Inbound, error) {
	var w inboundWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("decoding inbound on %s: %w", topic, err)
	}
	return &Inbound{
		Topic:     topic,
		ClientID:  string(w.ClientID),
		SessionID: string(w.SessionID),
		Request:   decodeFields(w.Request),
		Response:  decodeFields(w.Response),
		Event:     decodeFields(w.Event),
		Raw:       append(json.RawMessage(nil), payload...),
	}, nil
}

// MAC returns the MAC address carried in the payload, if any.
// Response, request and event bodies are checked in that order.
func (in *Inbound) MAC() string {
	for _, body := range []fields{in.Response, in.Request, in.Event} {
		if mac := body.str("macAddress"); mac != "" {
			return mac
		}
	}
	return ""
}

// DecodeCommand extracts the logical (mode, params) pair from an outbound
// control envelope of either dialect.
func DecodeCommand(env Envelope) (string, []int, error) {
	if env.Request == nil {
		return "", nil, fmt.Errorf("envelope has no request")
	}
	if env.Request.Control != nil {
		return env.Request.Control.Mode, env.Request.Control.Param, nil
	}
	if env.Request.MGPPControl != nil {
		return env.Request.Mode, env.Request.Param, nil
	}
	return "", nil, fmt.Errorf("request %d carries no control", env.Request.Command)
}
