package navilink

import (
	"sort"
	"sync"
)

// UpdateHandler receives the current session for a device id whenever its
// state or availability changes.
type UpdateHandler func(*DeviceSession)

// Registry maps stable device ids to the current DeviceSession and fans
// out change notifications. Subscribers register against an id, so a
// reconnect that recreates the session does not orphan them.
type Registry struct {
	mu          sync.RWMutex
	devices     map[string]*DeviceSession
	handlers    map[string]map[uint64]UpdateHandler
	allHandlers map[uint64]UpdateHandler
	nextID      uint64
	logger      Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger Logger) *Registry {
	return &Registry{
		devices:     make(map[string]*DeviceSession),
		handlers:    make(map[string]map[uint64]UpdateHandler),
		allHandlers: make(map[uint64]UpdateHandler),
		logger:      loggerOrNop(logger),
	}
}

// Device returns the current session for id.
func (r *Registry) Device(id string) (*DeviceSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	return d, ok
}

// Devices returns every session ordered by id.
func (r *Registry) Devices() []*DeviceSession {
	r.mu.RLock()
	list := make([]*DeviceSession, 0, len(r.devices))
	for _, d := range r.devices {
		list = append(list, d)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Subscribe registers a handler for one device id. The id does not need
// to exist yet. Returns an unsubscribe function.
func (r *Registry) Subscribe(id string, handler UpdateHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.nextID
	r.nextID++
	if r.handlers[id] == nil {
		r.handlers[id] = make(map[uint64]UpdateHandler)
	}
	r.handlers[id][key] = handler
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers[id], key)
		if len(r.handlers[id]) == 0 {
			delete(r.handlers, id)
		}
	}
}

// SubscribeAll registers a handler for every device. Returns an
// unsubscribe function.
func (r *Registry) SubscribeAll(handler UpdateHandler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.nextID
	r.nextID++
	r.allHandlers[key] = handler
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.allHandlers, key)
	}
}

// Notify calls every handler for id with the current session.
// Handlers run synchronously; a panicking handler is recovered.
func (r *Registry) Notify(id string) {
	r.mu.RLock()
	d, ok := r.devices[id]
	handlers := make([]UpdateHandler, 0, len(r.handlers[id])+len(r.allHandlers))
	for _, h := range r.handlers[id] {
		handlers = append(handlers, h)
	}
	for _, h := range r.allHandlers {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()
	if !ok {
		return
	}

	for _, h := range handlers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("device update handler panic", "device_id", id, "panic", rec)
				}
			}()
			h(d)
		}()
	}
}

func (r *Registry) bind(d *DeviceSession) {
	r.mu.Lock()
	r.devices[d.id] = d
	r.mu.Unlock()
}

func (r *Registry) unbind(id string) {
	r.mu.Lock()
	delete(r.devices, id)
	r.mu.Unlock()
}
