package devhandler

import (
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// Device is the framework's handle for one logical unit.
type Device struct {
	// ID identifies this handle for its lifetime
	ID uuid.UUID

	// Name is the host-visible name (e.g., "sg3", "sr0")
	Name string

	// Type is the peripheral device type reported by the unit
	Type scsi.DeviceType

	// LUN and SCSILevel address the unit; pre-SCSI-3 devices expect the LUN in the CDB
	LUN       uint8
	SCSILevel scsi.Level

	// Executor issues commands to the unit
	Executor Executor

	mu      sync.RWMutex
	private *Params
	handler string
	control ControlParams
}

// NewDevice creates a device handle with a fresh identity
func NewDevice(name string, typ scsi.DeviceType, exec Executor) *Device {
	return &Device{
		ID:        uuid.NewV1(),
		Name:      name,
		Type:      typ,
		SCSILevel: scsi.LevelSPC3,
		Executor:  exec,
		control:   DefaultControlParams(),
	}
}

// Private returns the handler record while the device is attached
func (d *Device) Private() (*Params, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.private, d.private != nil
}

// Handler returns the name of the handler the device is attached to
func (d *Device) Handler() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handler
}

// Control returns the control mode parameters learned at attach
func (d *Device) Control() ControlParams {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.control
}

// SetControl records control mode parameters; used by parameter syncers
func (d *Device) SetControl(c ControlParams) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.control = c
}

// attach hands ownership of p to the device
func (d *Device) attach(p *Params, handler string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.private != nil {
		return NewDeviceError("attach", d.Name, ErrCodeInvalidParameters,
			"device already attached to "+d.handler)
	}
	d.private = p
	d.handler = handler
	return nil
}

// detach takes the record back from handler; nil if the device is not
// attached to it
func (d *Device) detach(handler string) *Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handler != handler {
		return nil
	}
	p := d.private
	d.private = nil
	d.handler = ""
	return p
}

// DeviceInfo contains information about an attached device
type DeviceInfo struct {
	ID         string
	Name       string
	Type       string
	LUN        uint8
	Handler    string
	Attached   bool
	BlockShift int
	BlockSize  uint32
	State      string
}

// Info returns a summary of the device
func (d *Device) Info() DeviceInfo {
	info := DeviceInfo{
		ID:      d.ID.String(),
		Name:    d.Name,
		Type:    d.Type.String(),
		LUN:     d.LUN,
		Handler: d.Handler(),
	}
	if p, ok := d.Private(); ok {
		info.Attached = true
		info.BlockShift = p.BlockShift()
		info.BlockSize = p.BlockSize()
		info.State = p.State().String()
	}
	return info
}
