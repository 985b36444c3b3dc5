package devhandler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ehrlich-b/go-devhandler/internal/bufpool"
	"github.com/ehrlich-b/go-devhandler/internal/constants"
	"github.com/ehrlich-b/go-devhandler/internal/logging"
	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// ControlParams are the fields of the control mode page the framework
// needs to emulate task management and error reporting.
type ControlParams struct {
	TST    byte // task set type
	QAM    byte // queue algorithm modifier
	QErr   byte // queue error management
	SWP    bool // software write protect
	TAS    bool // task aborted status
	DSense bool // descriptor format sense data
}

// DefaultControlParams are used when a device does not report a control page
func DefaultControlParams() ControlParams {
	return ControlParams{}
}

// parseControlPage decodes a control mode page (page code 0x0a)
func parseControlPage(page []byte) (ControlParams, error) {
	if len(page) < 6 {
		return ControlParams{}, fmt.Errorf("control mode page too short: %d bytes", len(page))
	}
	return ControlParams{
		TST:    page[2] >> 5,
		DSense: page[2]&0x04 != 0,
		QAM:    page[3] >> 4,
		QErr:   (page[3] >> 1) & 0x03,
		SWP:    page[4]&0x08 != 0,
		TAS:    page[5]&0x40 != 0,
	}, nil
}

// ParameterSyncer reads device parameters once the block shift is known.
// An error fails the attach.
type ParameterSyncer interface {
	Sync(ctx context.Context, dev *Device) error
}

// ControlModeSyncer reads the control mode page with MODE SENSE(6) and
// stores it on the device. Devices that reject the page get defaults.
type ControlModeSyncer struct {
	MaxAttempts int
	Timeout     time.Duration
	Retries     int
	Classifier  SenseClassifier
	Logger      *logging.Logger
}

// NewControlModeSyncer returns a syncer bounded by params
func NewControlModeSyncer(params HandlerParams, logger *logging.Logger) *ControlModeSyncer {
	return &ControlModeSyncer{
		MaxAttempts: params.MaxProbeAttempts,
		Timeout:     params.ProbeTimeout,
		Retries:     params.ProbeTransportRetries,
		Classifier:  scsi.Classifier{},
		Logger:      logger,
	}
}

// controlPageAllocLen covers the mode header plus the 12 byte control page
const controlPageAllocLen = 4 + 12

// Sync implements ParameterSyncer
func (s *ControlModeSyncer) Sync(ctx context.Context, dev *Device) error {
	if dev.Executor == nil {
		return errors.New("device has no executor")
	}
	log := s.Logger
	if log == nil {
		log = logging.Nop()
	}
	log = log.WithDevice(dev.Name)
	classifier := s.Classifier
	if classifier == nil {
		classifier = scsi.Classifier{}
	}
	attempts := s.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	buf := bufpool.Get(constants.ResponseBufferSize)
	defer bufpool.Put(buf)
	sense := make([]byte, constants.SenseBufferSize)
	cdb := scsi.ModeSense6CDB(dev.LUN, dev.SCSILevel, scsi.ModePageControl, true, controlPageAllocLen)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		clear(buf)
		clear(sense)

		resp, err := s.execute(ctx, dev, cdb, buf, sense)
		if err != nil {
			return fmt.Errorf("mode sense control page: %w", err)
		}

		if resp.Status == scsi.StatusGood {
			n := len(buf) - resp.Resid
			if n < 0 || n > len(buf) {
				n = len(buf)
			}
			page, ok := scsi.ModeSense6Page(buf[:n], scsi.ModePageControl)
			if !ok {
				log.Warn("Device returned no control mode page, using defaults")
				dev.SetControl(DefaultControlParams())
				return nil
			}
			ctrl, err := parseControlPage(page)
			if err != nil {
				return err
			}
			dev.SetControl(ctrl)
			log.Debug("Control mode page read", "tst", ctrl.TST, "qam", ctrl.QAM,
				"qerr", ctrl.QErr, "swp", ctrl.SWP, "tas", ctrl.TAS, "d_sense", ctrl.DSense)
			return nil
		}

		sd := sense
		if resp.SenseLen > 0 && resp.SenseLen < len(sense) {
			sd = sense[:resp.SenseLen]
		}
		lastErr = scsi.NewStatusError(resp.Status, sd)
		switch {
		case classifier.Match(sd, scsi.IllegalRequest):
			log.Info("Device does not support control mode page, using defaults")
			dev.SetControl(DefaultControlParams())
			return nil
		case classifier.Match(sd, scsi.UnitAttention):
			log.Debug("Mode sense hit unit attention, retrying", "attempt", attempt)
			continue
		default:
			return fmt.Errorf("mode sense control page: %w", lastErr)
		}
	}
	return fmt.Errorf("mode sense control page: unit attention after %d attempts: %w", attempts, lastErr)
}

func (s *ControlModeSyncer) execute(ctx context.Context, dev *Device, cdb, buf, sense []byte) (Response, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	return dev.Executor.Execute(ctx, &Request{
		CDB:       cdb,
		Direction: scsi.DataRead,
		Buffer:    buf,
		Sense:     sense,
		Timeout:   s.Timeout,
		Retries:   s.Retries,
	})
}

// NoopSyncer accepts every device without talking to it
type NoopSyncer struct{}

// Sync implements ParameterSyncer
func (NoopSyncer) Sync(context.Context, *Device) error { return nil }
