package devhandler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ehrlich-b/go-devhandler/internal/logging"
	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// Introspector is an optional diagnostics hook notified as handlers come and go.
type Introspector interface {
	AddHandler(h DeviceHandler) error
	RemoveHandler(h DeviceHandler)
}

// Registry maps device types to handlers. It is filled at startup, read on
// every attach and cleared at shutdown.
type Registry struct {
	mu           sync.RWMutex
	byType       map[scsi.DeviceType]DeviceHandler
	byName       map[string]DeviceHandler
	introspector Introspector
}

// NewRegistry creates an empty registry; introspector may be nil
func NewRegistry(introspector Introspector) *Registry {
	return &Registry{
		byType:       make(map[scsi.DeviceType]DeviceHandler),
		byName:       make(map[string]DeviceHandler),
		introspector: introspector,
	}
}

// DefaultRegistry is the process-wide registry
var DefaultRegistry = NewRegistry(nil)

// SetIntrospector installs the diagnostics hook for later registrations
func (r *Registry) SetIntrospector(in Introspector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.introspector = in
}

// Register adds h. A nil handler, a taken type or name, or a failing
// introspection hook is a RegistrationFailed error and leaves the registry
// unchanged.
func (r *Registry) Register(h DeviceHandler) error {
	if h == nil {
		return NewError("register", ErrCodeRegistrationFailed, "nil handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byType[h.Type()]; ok {
		return NewError("register", ErrCodeRegistrationFailed,
			fmt.Sprintf("device type %s already handled by %s", h.Type(), prev.Name()))
	}
	if _, ok := r.byName[h.Name()]; ok {
		return NewError("register", ErrCodeRegistrationFailed,
			fmt.Sprintf("handler %s already registered", h.Name()))
	}

	r.byType[h.Type()] = h
	r.byName[h.Name()] = h

	if r.introspector != nil {
		if err := r.introspector.AddHandler(h); err != nil {
			delete(r.byType, h.Type())
			delete(r.byName, h.Name())
			return &Error{Op: "register", Code: ErrCodeRegistrationFailed,
				Msg: "introspection hook failed for " + h.Name(), Inner: err}
		}
	}

	logging.Default().WithHandler(h.Name()).Info("Registered device handler", "type", h.Type().String())
	return nil
}

// Unregister removes h; unknown handlers are ignored
func (r *Registry) Unregister(h DeviceHandler) {
	if h == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byName[h.Name()]
	if !ok || cur != h {
		return
	}
	delete(r.byName, h.Name())
	if r.byType[h.Type()] == h {
		delete(r.byType, h.Type())
	}
	if r.introspector != nil {
		r.introspector.RemoveHandler(h)
	}
	logging.Default().WithHandler(h.Name()).Info("Unregistered device handler")
}

// Lookup returns the handler for a device type
func (r *Registry) Lookup(t scsi.DeviceType) (DeviceHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byType[t]
	return h, ok
}

// LookupName returns the handler registered under name
func (r *Registry) LookupName(name string) (DeviceHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	return h, ok
}

// Handlers returns the registered handlers sorted by name
func (r *Registry) Handlers() []DeviceHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DeviceHandler, 0, len(r.byName))
	for _, h := range r.byName {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Reset unregisters every handler
func (r *Registry) Reset() {
	for _, h := range r.Handlers() {
		r.Unregister(h)
	}
}

// Register adds h to DefaultRegistry
func Register(h DeviceHandler) error {
	return DefaultRegistry.Register(h)
}

// Unregister removes h from DefaultRegistry
func Unregister(h DeviceHandler) {
	DefaultRegistry.Unregister(h)
}
