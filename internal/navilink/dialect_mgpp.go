package navilink

import "context"

// mgppDialect implements Dialect for MGPP heat-pump gateways.
type mgppDialect struct {
	topics MGPPTopics
	codec  mgppCodec
	logger Logger
}

func (d *mgppDialect) Kind() DialectKind { return DialectMGPP }

func (d *mgppDialect) Subscriptions() []Subscription {
	t := d.topics
	return []Subscription{
		{Filter: t.Default(), Route: RouteOther},
		{Filter: t.ResDID(), Route: RouteMGPPDID},
		{Filter: t.Res(), Route: RouteMGPPStatus},
		{Filter: t.ResRsvRead(), Route: RouteMGPPReservation},
		{Filter: t.ControlFail(), Route: RouteControlFail},
		{Filter: t.AppConnection(), Route: RouteConnection},
		{Filter: t.Connection(), Route: RouteConnection},
		{Filter: t.Disconnect(), Route: RouteDisconnect},
	}
}

func (d *mgppDialect) LastWill() Message { return d.codec.lastWill(d.topics) }

// Handshake creates the single channel-1 session, then asks for the
// feature set, the status and the reservation table.
func (d *mgppDialect) Handshake(gw *gateway) []Message {
	if gw.sessionCount() == 0 {
		gw.addSession(newDeviceSession(gw.link, gw.desc, mgppChannelNumber, newMGPPState()))
	}
	return []Message{d.codec.did(d.topics), d.codec.status(d.topics), d.codec.reservationRead(d.topics)}
}

func (d *mgppDialect) PollRequests(gw *gateway, disabled func(id string) bool) []Message {
	s := gw.first()
	if s == nil || disabled(s.ID()) {
		return nil
	}
	return d.refresh()
}

func (d *mgppDialect) RefreshRequests(_ *gateway, _ int) []Message {
	return d.refresh()
}

func (d *mgppDialect) refresh() []Message {
	return []Message{d.codec.status(d.topics), d.codec.reservationRead(d.topics)}
}

func (d *mgppDialect) EncodeCommand(cmd Command) (Message, error) {
	return d.codec.encode(d.topics, cmd)
}

func (d *mgppDialect) Apply(_ context.Context, gw *gateway, route RouteKind, in *Inbound) []*DeviceSession {
	var apply func(st *mgppState)
	switch route {
	case RouteMGPPDID:
		features := DecodeMGPPFeatures(in.Response["feature"])
		apply = func(st *mgppState) {
			st.features = features
			st.hasFeatures = true
			st.raw[rawDID] = in.Raw
		}
	case RouteMGPPStatus:
		status := DecodeMGPPStatus(in.Response["status"])
		apply = func(st *mgppState) {
			st.status = status
			st.raw[rawStatus] = in.Raw
		}
	case RouteMGPPReservation:
		apply = func(st *mgppState) {
			st.raw[rawReservation] = in.Raw
		}
	default:
		logEvent(d.logger, gw.desc.MAC, route, in)
		return nil
	}

	s := gw.first()
	if s == nil {
		d.logger.Debug("mgpp response before session exists", "mac", gw.desc.MAC, "route", route.String())
		return nil
	}
	s.update(func(st deviceState) {
		if ms, ok := st.(*mgppState); ok {
			apply(ms)
		}
	})
	return []*DeviceSession{s}
}
