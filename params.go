package devhandler

import (
	"fmt"
	"sync/atomic"

	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// RecordState is the logical state of a device's private record.
type RecordState int

const (
	// RecordDefault means the handler's default block shift is in effect.
	RecordDefault RecordState = iota
	// RecordProbed means the shift was learned from the device.
	RecordProbed
)

func (s RecordState) String() string {
	switch s {
	case RecordDefault:
		return "default"
	case RecordProbed:
		return "probed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Params is the handler-private record attached to a device. It holds the
// block shift consulted by Parse and revised by Done.
//
// Only the completion path writes after attach, and detach never overlaps a
// command, so plain loads would do; the fields are atomic so the race
// detector agrees.
type Params struct {
	defaultShift int
	shift        atomic.Int32
	probed       atomic.Bool
}

func newParams(defaultShift int) *Params {
	p := &Params{defaultShift: defaultShift}
	p.shift.Store(int32(defaultShift))
	return p
}

// BlockShift returns the current exponent; the sector size is 1 << BlockShift.
func (p *Params) BlockShift() int {
	return int(p.shift.Load())
}

// BlockSize returns the current sector size in bytes.
func (p *Params) BlockSize() uint32 {
	return scsi.BlockSize(p.BlockShift())
}

// DefaultShift returns the exponent installed when nothing better is known.
func (p *Params) DefaultShift() int {
	return p.defaultShift
}

// State reports whether the shift came from the device.
func (p *Params) State() RecordState {
	if p.probed.Load() {
		return RecordProbed
	}
	return RecordDefault
}

// Set stores a shift learned from the device.
func (p *Params) Set(shift int) {
	p.shift.Store(int32(shift))
	p.probed.Store(true)
}

// Reset restores the default shift.
func (p *Params) Reset() {
	p.shift.Store(int32(p.defaultShift))
	p.probed.Store(false)
}

// Adjust applies a revised shift from a completion. Zero carries no
// information and restores the default.
func (p *Params) Adjust(shift int) ShiftChange {
	if shift == 0 {
		p.Reset()
		return ShiftReset
	}
	p.Set(shift)
	return ShiftUpdated
}
