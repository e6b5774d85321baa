package navilink

import "context"

// DialectKind identifies the wire protocol a gateway speaks.
type DialectKind int

const (
	// DialectLegacy is the original channel/unit protocol (protocol version 1).
	DialectLegacy DialectKind = iota
	// DialectMGPP is the heat-pump protocol (protocol version 2).
	DialectMGPP
)

// MGPPDeviceType is the only device-type code that speaks MGPP.
const MGPPDeviceType = 52

// DialectFor maps a device-type code to its dialect. Every code other than
// MGPPDeviceType is Legacy.
func DialectFor(deviceType int) DialectKind {
	if deviceType == MGPPDeviceType {
		return DialectMGPP
	}
	return DialectLegacy
}

// String returns the lower-case dialect name.
func (k DialectKind) String() string {
	if k == DialectMGPP {
		return "mgpp"
	}
	return "legacy"
}

// RouteKind tags what an inbound topic carries, so the dispatcher can pick
// a handler without inspecting topic strings.
type RouteKind int

const (
	RouteOther RouteKind = iota
	RouteChannelInfo
	RouteChannelStatus
	RouteControlFail
	RouteConnection
	RouteDisconnect
	RouteWeeklySchedule
	RouteTrend
	RouteMGPPDID
	RouteMGPPStatus
	RouteMGPPReservation
)

// resolves reports whether messages on this route complete a pending request.
func (r RouteKind) resolves() bool {
	switch r {
	case RouteChannelInfo, RouteChannelStatus, RouteMGPPDID, RouteMGPPStatus, RouteMGPPReservation:
		return true
	default:
		return false
	}
}

// String returns a short label used in logs and metrics.
func (r RouteKind) String() string {
	switch r {
	case RouteChannelInfo:
		return "channel_info"
	case RouteChannelStatus:
		return "channel_status"
	case RouteControlFail:
		return "control_fail"
	case RouteConnection:
		return "connection"
	case RouteDisconnect:
		return "disconnect"
	case RouteWeeklySchedule:
		return "weekly_schedule"
	case RouteTrend:
		return "trend"
	case RouteMGPPDID:
		return "did"
	case RouteMGPPStatus:
		return "status"
	case RouteMGPPReservation:
		return "reservation"
	default:
		return "other"
	}
}

// Subscription is one topic filter a dialect needs and what it carries.
type Subscription struct {
	Filter string
	Route  RouteKind
}

// Message is an outbound envelope and the topic it is published on.
type Message struct {
	Topic    string
	Envelope Envelope
}

// Dialect is the Codec and Topics pair for one gateway, chosen once per
// connection from its DialectKind.
type Dialect interface {
	Kind() DialectKind

	// Subscriptions lists every filter this gateway needs.
	Subscriptions() []Subscription

	// LastWill is the app-connection disconnect event for this gateway.
	LastWill() Message

	// Handshake creates placeholder sessions where the dialect requires
	// them and returns the requests to await before polling.
	Handshake(gw *gateway) []Message

	// PollRequests returns the status requests for every non-disabled session.
	PollRequests(gw *gateway, disabled func(id string) bool) []Message

	// RefreshRequests returns the requests issued after a command on a channel.
	RefreshRequests(gw *gateway, channel int) []Message

	// EncodeCommand builds the control envelope for a command.
	EncodeCommand(cmd Command) (Message, error)

	// Apply folds an inbound message into gateway state and returns the
	// sessions whose state changed.
	Apply(ctx context.Context, gw *gateway, route RouteKind, in *Inbound) []*DeviceSession
}

// newDialect builds the dialect for a descriptor and connection identity.
func newDialect(desc DeviceDescriptor, userSeq, clientID string, log Logger, allTopics bool) Dialect {
	if DialectFor(desc.DeviceType) == DialectMGPP {
		return &mgppDialect{
			topics: newMGPPTopics(desc, userSeq, clientID),
			codec:  mgppCodec{desc: desc, clientID: clientID},
			logger: log,
		}
	}
	return &legacyDialect{
		topics:    newLegacyTopics(desc, userSeq, clientID),
		codec:     legacyCodec{desc: desc, clientID: clientID},
		logger:    log,
		allTopics: allTopics,
	}
}
