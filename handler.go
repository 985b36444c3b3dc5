// Package devhandler provides pluggable SCSI device handlers that negotiate a
// device's block size at attach and keep it current as commands complete.
package devhandler

import (
	"context"

	"github.com/ehrlich-b/go-devhandler/internal/constants"
	"github.com/ehrlich-b/go-devhandler/internal/logging"
	"github.com/ehrlich-b/go-devhandler/internal/probe"
	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// DeviceHandler is the contract every media handler implements.
//
// The caller guarantees Attach happens before any Parse or Done for a
// device and Detach after the last one; Target enforces this.
type DeviceHandler interface {
	// Name identifies the handler (e.g., "dev_cdrom")
	Name() string

	// Type is the peripheral device type the handler accepts
	Type() scsi.DeviceType

	// Attach prepares a device; only fatal conditions are returned
	Attach(ctx context.Context, dev *Device) error

	// Detach releases what Attach allocated; safe to call more than once
	Detach(dev *Device)

	// Parse annotates a command before it is dispatched
	Parse(cmd *Command)

	// Done updates handler state after a command completes
	Done(cmd *Command)
}

// Media describes one family of devices served by a BlockHandler.
type Media struct {
	Name         string
	Type         scsi.DeviceType
	DefaultShift int
	Sequential   bool

	query probe.Query
}

// Built-in media families
var (
	CDROM = Media{
		Name:         "dev_cdrom",
		Type:         scsi.TypeROM,
		DefaultShift: constants.DefaultCDROMBlockShift,
		query:        probe.ReadCapacity10,
	}
	Disk = Media{
		Name:         "dev_disk",
		Type:         scsi.TypeDisk,
		DefaultShift: constants.DefaultDiskBlockShift,
		query:        probe.ReadCapacity10,
	}
	MODisk = Media{
		Name:         "dev_modisk",
		Type:         scsi.TypeMOD,
		DefaultShift: constants.DefaultMODiskBlockShift,
		query:        probe.ReadCapacity10,
	}
	Tape = Media{
		Name:         "dev_tape",
		Type:         scsi.TypeTape,
		DefaultShift: constants.DefaultTapeBlockShift,
		Sequential:   true,
		query:        probe.ModeSenseBlockDescriptor,
	}
)

// AllMedia lists the built-in media families
func AllMedia() []Media {
	return []Media{CDROM, Disk, MODisk, Tape}
}

// Options contains optional collaborators for a handler
type Options struct {
	// Logger for handler messages (if nil, uses the default logger)
	Logger *Logger

	// Observer for metrics collection (if nil, uses no-op observer)
	Observer Observer

	// Allocator for device records and scratch buffers (if nil, uses pooled buffers)
	Allocator Allocator

	// Syncer runs after the probe (if nil, reads the control mode page)
	Syncer ParameterSyncer

	// Classifier decides which sense data is a unit attention (if nil, uses fixed/descriptor parsing)
	Classifier SenseClassifier
}

// BlockHandler implements DeviceHandler for block-addressed and sequential media.
type BlockHandler struct {
	media      Media
	params     HandlerParams
	alloc      Allocator
	syncer     ParameterSyncer
	classifier SenseClassifier
	observer   Observer
	logger     *logging.Logger
}

// NewBlockHandler creates a handler for media
func NewBlockHandler(media Media, params HandlerParams, options *Options) (*BlockHandler, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if options == nil {
		options = &Options{}
	}

	h := &BlockHandler{
		media:      media,
		params:     params,
		alloc:      options.Allocator,
		syncer:     options.Syncer,
		classifier: options.Classifier,
		observer:   options.Observer,
		logger:     options.Logger,
	}
	if h.logger == nil {
		h.logger = logging.Default()
	}
	h.logger = h.logger.WithHandler(media.Name)
	if h.alloc == nil {
		h.alloc = DefaultAllocator()
	}
	if h.classifier == nil {
		h.classifier = scsi.Classifier{}
	}
	if h.observer == nil {
		h.observer = NoOpObserver{}
	}
	if h.syncer == nil {
		s := NewControlModeSyncer(params, h.logger)
		s.Classifier = h.classifier
		h.syncer = s
	}
	return h, nil
}

// NewCDROMHandler creates the optical media handler
func NewCDROMHandler(params HandlerParams, options *Options) (*BlockHandler, error) {
	return NewBlockHandler(CDROM, params, options)
}

// Name implements DeviceHandler
func (h *BlockHandler) Name() string { return h.media.Name }

// Type implements DeviceHandler
func (h *BlockHandler) Type() scsi.DeviceType { return h.media.Type }

// Media returns the media family served by the handler
func (h *BlockHandler) Media() Media { return h.media }

// Attach checks the device type, probes the block size and synchronizes
// device parameters. A failed probe falls back to the default shift; only a
// type mismatch, an allocation failure or a failed sync is returned.
func (h *BlockHandler) Attach(ctx context.Context, dev *Device) (err error) {
	defer func() { h.observer.ObserveAttach(h.media.Name, err == nil) }()

	if dev == nil {
		return NewError("attach", ErrCodeInvalidParameters, "nil device")
	}
	log := h.logger.WithDevice(dev.Name)

	if dev.Type != h.media.Type {
		return NewDeviceError("attach", dev.Name, ErrCodeDeviceTypeMismatch,
			"expected "+h.media.Type.String()+", got "+dev.Type.String())
	}
	if dev.Executor == nil {
		return NewDeviceError("attach", dev.Name, ErrCodeDeviceTypeMismatch, "device has no executor")
	}
	if _, ok := dev.Private(); ok {
		return NewDeviceError("attach", dev.Name, ErrCodeInvalidParameters, "device already attached to "+dev.Handler())
	}

	rec, err := h.alloc.NewParams(h.media.DefaultShift)
	if err != nil {
		return newDeviceErrorf("attach", dev.Name, ErrCodeAllocationFailure, err, "failed to allocate device record")
	}
	attached := false
	defer func() {
		if !attached {
			h.alloc.FreeParams(rec)
		}
	}()

	buf, err := h.alloc.GetBuffer(h.params.ResponseBufferSize)
	if err != nil {
		return newDeviceErrorf("attach", dev.Name, ErrCodeAllocationFailure, err, "failed to allocate response buffer")
	}
	defer h.alloc.PutBuffer(buf)

	prober := probe.New(probe.Config{
		MaxAttempts:      h.params.MaxProbeAttempts,
		Timeout:          h.params.ProbeTimeout,
		TransportRetries: h.params.ProbeTransportRetries,
	}, dev.Executor, h.classifier, h.logger)

	res := prober.Run(ctx, probe.Target{Name: dev.Name, LUN: dev.LUN, Level: dev.SCSILevel},
		h.media.query, buf, h.media.DefaultShift)
	h.observer.ObserveProbe(h.media.Name, res.Attempts, res.FellBack, uint64(res.Duration.Nanoseconds()))

	if res.FellBack || res.SectorSize == 0 {
		rec.Reset()
	} else {
		rec.Set(res.BlockShift)
	}

	if err := h.syncer.Sync(ctx, dev); err != nil {
		return newDeviceErrorf("attach", dev.Name, ErrCodeDeviceParameterSyncFailed, err,
			"failed to synchronize device parameters")
	}

	if err := dev.attach(rec, h.media.Name); err != nil {
		return err
	}
	attached = true

	log.Info("Attached device", "block_shift", rec.BlockShift(), "block_size", rec.BlockSize(),
		"state", rec.State().String(), "attempts", res.Attempts, "probe_time", res.Duration.String())
	return nil
}

// Detach implements DeviceHandler
func (h *BlockHandler) Detach(dev *Device) {
	if dev == nil {
		return
	}
	rec := dev.detach(h.media.Name)
	if rec == nil {
		return
	}
	h.alloc.FreeParams(rec)
	h.observer.ObserveDetach(h.media.Name)
	h.logger.WithDevice(dev.Name).Info("Detached device")
}

// Parse implements DeviceHandler
func (h *BlockHandler) Parse(cmd *Command) {
	shift := h.media.DefaultShift
	if cmd.Device != nil {
		if rec, ok := cmd.Device.Private(); ok {
			shift = rec.BlockShift()
		}
	}

	GenericParse(cmd, shift, h.media.Sequential)
	cmd.Retries = h.params.PassthroughRetries

	h.observer.ObserveParse(h.media.Name)
	h.logger.WithCommand(cmd.Opcode(), scsi.OpcodeName(cmd.Opcode())).Debug("Parsed command",
		"direction", cmd.Direction.String(), "data_length", cmd.DataLength, "block_shift", shift)
}

// Done implements DeviceHandler
func (h *BlockHandler) Done(cmd *Command) {
	change := ShiftUnchanged
	GenericDone(cmd, func(c *Command, shift int) {
		change = h.Adjust(c.Device, shift)
	})
	h.observer.ObserveDone(h.media.Name, change)
}

// Adjust applies a revised block shift to an attached device. Zero restores
// the default shift.
func (h *BlockHandler) Adjust(dev *Device, shift int) ShiftChange {
	if dev == nil {
		return ShiftUnchanged
	}
	rec, ok := dev.Private()
	if !ok {
		return ShiftUnchanged
	}
	change := rec.Adjust(shift)
	h.logger.WithDevice(dev.Name).Debug("Block shift adjusted", "block_shift", rec.BlockShift(),
		"state", rec.State().String())
	return change
}

// RegisterMediaHandlers creates and registers a handler for every built-in
// media family. On failure the handlers registered so far are removed.
func RegisterMediaHandlers(r *Registry, params HandlerParams, options *Options) ([]*BlockHandler, error) {
	var handlers []*BlockHandler
	for _, m := range AllMedia() {
		h, err := NewBlockHandler(m, params, options)
		if err == nil {
			err = r.Register(h)
		}
		if err != nil {
			for _, done := range handlers {
				r.Unregister(done)
			}
			return nil, err
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}
