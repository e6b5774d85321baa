package navilink

import "sync"

// gateway is the per-MAC state inside a Link: its descriptor, the dialect
// chosen at connect time and its device sessions keyed by channel.
type gateway struct {
	desc DeviceDescriptor
	link *Link

	mu       sync.RWMutex
	dialect  Dialect
	sessions map[int]*DeviceSession
}

func newGateway(l *Link, desc DeviceDescriptor) *gateway {
	return &gateway{
		desc:     desc,
		link:     l,
		sessions: make(map[int]*DeviceSession),
	}
}

func (g *gateway) setDialect(d Dialect) {
	g.mu.Lock()
	g.dialect = d
	g.mu.Unlock()
}

func (g *gateway) currentDialect() Dialect {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dialect
}

func (g *gateway) session(channel int) *DeviceSession {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sessions[channel]
}

// first returns the lowest-numbered session, or nil.
func (g *gateway) first() *DeviceSession {
	list := g.sessionList()
	if len(list) == 0 {
		return nil
	}
	return list[0]
}

func (g *gateway) sessionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

func (g *gateway) sessionList() []*DeviceSession {
	g.mu.RLock()
	list := make([]*DeviceSession, 0, len(g.sessions))
	for _, s := range g.sessions {
		list = append(list, s)
	}
	g.mu.RUnlock()
	sortSessions(list)
	return list
}

// replaceSessions swaps the whole session set and rebinds the registry.
func (g *gateway) replaceSessions(list []*DeviceSession) {
	next := make(map[int]*DeviceSession, len(list))
	for _, s := range list {
		next[s.channel] = s
	}
	g.mu.Lock()
	prev := g.sessions
	g.sessions = next
	g.mu.Unlock()
	for ch, s := range prev {
		if _, kept := next[ch]; !kept {
			g.link.registry.unbind(s.ID())
		}
	}
	for _, s := range list {
		g.link.registry.bind(s)
	}
}

// addSession adds one session unless the channel is already populated.
func (g *gateway) addSession(s *DeviceSession) *DeviceSession {
	g.mu.Lock()
	if existing, ok := g.sessions[s.channel]; ok {
		g.mu.Unlock()
		return existing
	}
	g.sessions[s.channel] = s
	g.mu.Unlock()
	g.link.registry.bind(s)
	return s
}
