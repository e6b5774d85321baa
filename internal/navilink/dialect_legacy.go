package navilink

import (
	"context"
	"encoding/json"
)

// legacyDialect implements Dialect for channel/unit gateways.
type legacyDialect struct {
	topics    LegacyTopics
	codec     legacyCodec
	logger    Logger
	allTopics bool
}

func (d *legacyDialect) Kind() DialectKind { return DialectLegacy }

func (d *legacyDialect) Subscriptions() []Subscription {
	t := d.topics
	subs := []Subscription{
		{Filter: t.ChannelInfoSub(), Route: RouteOther},
		{Filter: t.ChannelInfoRes(), Route: RouteChannelInfo},
		{Filter: t.ControlFail(), Route: RouteControlFail},
		{Filter: t.ChannelStatusSub(), Route: RouteOther},
		{Filter: t.ChannelStatusRes(), Route: RouteChannelStatus},
		{Filter: t.Connection(), Route: RouteConnection},
		{Filter: t.Disconnect(), Route: RouteDisconnect},
	}
	if !d.allTopics {
		return subs
	}
	for _, name := range legacyReports {
		route := RouteTrend
		if name == "weeklyschedule" {
			route = RouteWeeklySchedule
		}
		subs = append(subs,
			Subscription{Filter: t.ReportSub(name), Route: RouteOther},
			Subscription{Filter: t.ReportRes(name), Route: route},
		)
	}
	return subs
}

func (d *legacyDialect) LastWill() Message { return d.codec.lastWill(d.topics) }

// Handshake asks for the channel list; sessions are created when it arrives.
func (d *legacyDialect) Handshake(_ *gateway) []Message {
	return []Message{d.codec.channelInfo(d.topics)}
}

func (d *legacyDialect) PollRequests(gw *gateway, disabled func(id string) bool) []Message {
	var msgs []Message
	for _, s := range gw.sessionList() {
		if disabled(s.ID()) {
			continue
		}
		msgs = append(msgs, d.statusRequest(s))
	}
	return msgs
}

func (d *legacyDialect) RefreshRequests(gw *gateway, channel int) []Message {
	s := gw.session(channel)
	if s == nil {
		return nil
	}
	return []Message{d.statusRequest(s)}
}

func (d *legacyDialect) statusRequest(s *DeviceSession) Message {
	unitCount := 1
	s.mu.RLock()
	if st, ok := s.state.(*legacyState); ok && st.info.UnitCount > 0 {
		unitCount = st.info.UnitCount
	}
	s.mu.RUnlock()
	return d.codec.channelStatus(d.topics, s.channel, unitCount)
}

func (d *legacyDialect) EncodeCommand(cmd Command) (Message, error) {
	return d.codec.encode(d.topics, cmd)
}

func (d *legacyDialect) Apply(_ context.Context, gw *gateway, route RouteKind, in *Inbound) []*DeviceSession {
	switch route {
	case RouteChannelInfo:
		return d.applyChannelInfo(gw, in)
	case RouteChannelStatus:
		return d.applyChannelStatus(gw, in)
	default:
		logEvent(d.logger, gw.desc.MAC, route, in)
		return nil
	}
}

// applyChannelInfo rebuilds every session of the gateway from the channel list.
func (d *legacyDialect) applyChannelInfo(gw *gateway, in *Inbound) []*DeviceSession {
	var list []json.RawMessage
	if err := json.Unmarshal(in.Response.object("channelInfo")["channelList"], &list); err != nil {
		d.logger.Warn("channel info without channel list", "mac", gw.desc.MAC, "error", err)
		return nil
	}
	sessions := make([]*DeviceSession, 0, len(list))
	for _, item := range list {
		entry := decodeFields(item)
		channel := entry.integer("channelNumber", 0)
		info := decodeLegacyChannelInfo(channel, entry["channel"])
		sessions = append(sessions, newDeviceSession(gw.link, gw.desc, channel, &legacyState{info: info}))
	}
	gw.replaceSessions(sessions)
	d.logger.Info("legacy channels discovered", "mac", gw.desc.MAC, "channels", len(sessions))
	return sessions
}

func (d *legacyDialect) applyChannelStatus(gw *gateway, in *Inbound) []*DeviceSession {
	cs := in.Response.object("channelStatus")
	channel := cs.integer("channelNumber", 0)
	s := gw.session(channel)
	if s == nil {
		d.logger.Debug("status for unknown channel", "mac", gw.desc.MAC, "channel", channel)
		return nil
	}
	s.update(func(st deviceState) {
		ls, ok := st.(*legacyState)
		if !ok {
			return
		}
		ls.applyStatus(DecodeLegacyChannelStatus(cs["channel"], ls.info.TemperatureType))
	})
	return []*DeviceSession{s}
}

// logEvent handles the informational routes shared by both dialects.
func logEvent(log Logger, mac string, route RouteKind, in *Inbound) {
	switch route {
	case RouteControlFail:
		code := in.Response.integer("failCode", 0)
		if code == 2 {
			log.Error("control interval exceeded, command rejected by platform", "mac", mac)
			return
		}
		log.Warn("control failure", "mac", mac, "fail_code", code)
	case RouteConnection:
		if in.Event.object("connection").integer("status", 0) <= 0 {
			log.Warn("device connection status indicates disconnect", "mac", mac)
			return
		}
		log.Debug("device connection event", "mac", mac)
	case RouteDisconnect:
		log.Warn("disconnect broadcast received, device session dropped", "mac", mac)
	case RouteWeeklySchedule, RouteTrend:
		log.Info("report received", "mac", mac, "route", route.String(), "payload", string(in.Raw))
	default:
		log.Debug("unhandled message", "mac", mac, "topic", in.Topic, "payload", string(in.Raw))
	}
}
