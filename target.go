package devhandler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ehrlich-b/go-devhandler/internal/logging"
	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// attachment tracks one device attached through a Target
type attachment struct {
	dev     *Device
	handler DeviceHandler

	mu        sync.Mutex
	detaching bool
	inflight  sync.WaitGroup
}

// enter registers an in-flight command; false once detach has begun
func (a *attachment) enter() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detaching {
		return false
	}
	a.inflight.Add(1)
	return true
}

// Target routes devices to handlers and brackets every command with Parse
// and Done. Attach precedes any command for a device, and Detach waits for
// the last outstanding command before the handler releases its record.
type Target struct {
	registry *Registry
	observer Observer
	logger   *logging.Logger

	mu      sync.Mutex
	devices map[string]*attachment
}

// NewTarget creates a dispatcher over registry (DefaultRegistry if nil)
func NewTarget(registry *Registry, options *Options) *Target {
	if registry == nil {
		registry = DefaultRegistry
	}
	if options == nil {
		options = &Options{}
	}
	t := &Target{
		registry: registry,
		observer: options.Observer,
		logger:   options.Logger,
		devices:  make(map[string]*attachment),
	}
	if t.observer == nil {
		t.observer = NoOpObserver{}
	}
	if t.logger == nil {
		t.logger = logging.Default()
	}
	return t
}

// Attach hands dev to the handler registered for its type
func (t *Target) Attach(ctx context.Context, dev *Device) error {
	if dev == nil || dev.Name == "" {
		return NewError("attach", ErrCodeInvalidParameters, "device must have a name")
	}
	h, ok := t.registry.Lookup(dev.Type)
	if !ok {
		return NewDeviceError("attach", dev.Name, ErrCodeNoHandler, "no handler for "+dev.Type.String())
	}

	// Reserve the name so a concurrent attach of the same device fails fast.
	a := &attachment{dev: dev, handler: h, detaching: true}
	t.mu.Lock()
	if _, exists := t.devices[dev.Name]; exists {
		t.mu.Unlock()
		return NewDeviceError("attach", dev.Name, ErrCodeInvalidParameters, "device already attached")
	}
	t.devices[dev.Name] = a
	t.mu.Unlock()

	if err := h.Attach(ctx, dev); err != nil {
		t.mu.Lock()
		delete(t.devices, dev.Name)
		t.mu.Unlock()
		t.logger.WithDevice(dev.Name).WithError(err).Error("Attach failed", "handler", h.Name())
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.devices[dev.Name] != a {
		// Detached while the handler was still attaching.
		h.Detach(dev)
		return NewDeviceError("attach", dev.Name, ErrCodeDeviceNotAttached, "device detached during attach")
	}
	a.mu.Lock()
	a.detaching = false
	a.mu.Unlock()
	return nil
}

// Execute runs cmd against the named device: Parse, the transport, then Done.
// A transport failure is returned; a non-GOOD status is left in cmd.
func (t *Target) Execute(ctx context.Context, name string, cmd *Command) error {
	t.mu.Lock()
	a, ok := t.devices[name]
	t.mu.Unlock()
	if !ok || !a.enter() {
		return NewDeviceError("execute", name, ErrCodeDeviceNotAttached, "device not attached")
	}
	defer a.inflight.Done()

	start := time.Now()
	cmd.Device = a.dev
	a.handler.Parse(cmd)

	if cmd.Sense == nil {
		cmd.Sense = make([]byte, SenseBufferSize)
	}
	resp, err := a.dev.Executor.Execute(ctx, &Request{
		CDB:       cmd.CDB,
		Direction: cmd.Direction,
		Buffer:    cmd.Buffer,
		Sense:     cmd.Sense,
		Timeout:   cmd.Timeout,
		Retries:   cmd.Retries,
	})
	cmd.Err = err
	cmd.Status = resp.Status
	cmd.SenseLen = resp.SenseLen
	cmd.Resid = resp.Resid

	a.handler.Done(cmd)

	var moved uint64
	if cmd.Direction == scsi.DataRead || cmd.Direction == scsi.DataWrite {
		moved = uint64(len(cmd.Transferred()))
	}
	t.observer.ObserveCommand(a.handler.Name(), cmd.Direction, moved,
		uint64(time.Since(start).Nanoseconds()), cmd.Good())

	if err != nil {
		e := WrapError("execute", err)
		e.Device = name
		return e
	}
	return nil
}

// Detach stops new commands for the named device, waits for in-flight ones
// and releases the handler's record. Unknown names are ignored.
func (t *Target) Detach(name string) {
	t.mu.Lock()
	a, ok := t.devices[name]
	if ok {
		delete(t.devices, name)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	a.mu.Lock()
	a.detaching = true
	a.mu.Unlock()
	a.inflight.Wait()

	a.handler.Detach(a.dev)
}

// Device returns the attached device with the given name
func (t *Target) Device(name string) (*Device, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.devices[name]
	if !ok {
		return nil, false
	}
	return a.dev, true
}

// Devices returns the names of attached devices in sorted order
func (t *Target) Devices() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.devices))
	for name := range t.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close detaches every device
func (t *Target) Close() {
	for _, name := range t.Devices() {
		t.Detach(name)
	}
}
