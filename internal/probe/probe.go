// Package probe runs the bounded-retry block size query issued when a device
// is attached.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ehrlich-b/go-devhandler/internal/constants"
	"github.com/ehrlich-b/go-devhandler/internal/interfaces"
	"github.com/ehrlich-b/go-devhandler/internal/logging"
	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// ErrRetriesExhausted is wrapped into Result.Err when every attempt ended in
// a unit attention.
var ErrRetriesExhausted = errors.New("unit attention retries exhausted")

// Outcome classifies a single query attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomeHard
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeHard:
		return "hard"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Config bounds the probe loop.
type Config struct {
	// MaxAttempts is the total number of attempts made while unit attentions persist.
	MaxAttempts int

	// Timeout bounds a single attempt. Zero leaves only the parent context.
	Timeout time.Duration

	// TransportRetries is forwarded to the executor with each attempt.
	TransportRetries int
}

// DefaultConfig returns the stock probe bounds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      constants.DefaultUARetries,
		Timeout:          constants.DefaultProbeTimeout,
		TransportRetries: constants.DefaultProbeTransportRetries,
	}
}

// Target addresses the logical unit being probed.
type Target struct {
	Name  string
	LUN   uint8
	Level scsi.Level
}

// Query describes the command used to learn the sector size and how to read
// the answer. SectorSize returns 0 when the response carries no size.
type Query struct {
	Name       string
	CDB        func(lun uint8, level scsi.Level) []byte
	SectorSize func(resp []byte) (uint32, error)
}

// ReadCapacity10 asks direct-access and optical devices for their block length.
var ReadCapacity10 = Query{
	Name: "READ CAPACITY(10)",
	CDB:  scsi.ReadCapacity10CDB,
	SectorSize: func(resp []byte) (uint32, error) {
		_, blockLen, err := scsi.ParseReadCapacity10(resp)
		return blockLen, err
	},
}

// modeSenseAllocLen covers the mode parameter header plus one block descriptor.
const modeSenseAllocLen = 12

// ModeSenseBlockDescriptor reads the block length from the MODE SENSE(6) block
// descriptor. Tapes in variable-block mode report 0.
var ModeSenseBlockDescriptor = Query{
	Name: "MODE SENSE(6)",
	CDB: func(lun uint8, level scsi.Level) []byte {
		return scsi.ModeSense6CDB(lun, level, 0, false, modeSenseAllocLen)
	},
	SectorSize: func(resp []byte) (uint32, error) {
		size, ok := scsi.ModeSense6BlockLength(resp)
		if !ok {
			return 0, nil
		}
		return size, nil
	},
}

// Result is the outcome of a complete probe run.
type Result struct {
	// BlockShift is the negotiated exponent, the default when FellBack is set.
	BlockShift int

	// SectorSize is the size reported by the device, 0 if none was read.
	SectorSize uint32

	Attempts int
	Outcome  Outcome

	// FellBack reports that the default shift was installed because the
	// query never succeeded.
	FellBack bool

	// Err is the cause of the fallback, nil on success.
	Err error

	Duration time.Duration
}

// Retries returns the number of attempts after the first.
func (r Result) Retries() int {
	if r.Attempts == 0 {
		return 0
	}
	return r.Attempts - 1
}

// Prober issues a Query until it succeeds, fails hard, or runs out of attempts.
type Prober struct {
	cfg        Config
	exec       interfaces.Executor
	classifier interfaces.SenseClassifier
	logger     *logging.Logger
}

// New creates a Prober. A nil classifier uses scsi.Classifier, a nil logger
// discards output.
func New(cfg Config, exec interfaces.Executor, classifier interfaces.SenseClassifier, logger *logging.Logger) *Prober {
	if classifier == nil {
		classifier = scsi.Classifier{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Prober{cfg: cfg, exec: exec, classifier: classifier, logger: logger}
}

// Run probes the target and never fails: when the query cannot be completed
// the result carries defaultShift with FellBack set. buf receives the
// response and is cleared before each attempt.
func (p *Prober) Run(ctx context.Context, target Target, q Query, buf []byte, defaultShift int) Result {
	start := time.Now()
	log := p.logger.WithDevice(target.Name)
	sense := make([]byte, constants.SenseBufferSize)
	cdb := q.CDB(target.LUN, target.Level)

	res := Result{BlockShift: defaultShift}
	for {
		res.Attempts++
		clear(buf)
		clear(sense)

		log.Debug("Doing capacity query", "query", q.Name, "attempt", res.Attempts)
		res.Outcome, res.Err = p.attempt(ctx, cdb, buf, sense)
		if res.Outcome != OutcomeTransient {
			break
		}
		if res.Attempts >= p.cfg.MaxAttempts {
			res.Err = fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, res.Attempts, res.Err)
			break
		}
		if err := ctx.Err(); err != nil {
			res.Outcome = OutcomeHard
			res.Err = err
			break
		}
		log.Debug("Capacity query hit unit attention, retrying", "attempt", res.Attempts, "cause", res.Err)
	}

	if res.Outcome == OutcomeSuccess {
		size, err := q.SectorSize(buf)
		if err != nil {
			res.Outcome = OutcomeHard
			res.Err = err
		} else {
			res.SectorSize = size
			if size != 0 {
				res.BlockShift = scsi.CalcBlockShift(size)
				if !scsi.IsPowerOfTwo(size) {
					log.Warn("Sector size is not a power of two, rounding down",
						"sector_size", size, "block_size", scsi.BlockSize(res.BlockShift))
				}
				if res.BlockShift < constants.MinBlockShift {
					log.Warn("Sector size is smaller than 512 bytes", "sector_size", size)
				}
			}
		}
	}

	if res.Outcome != OutcomeSuccess {
		res.FellBack = true
		res.BlockShift = defaultShift
		log.Warn("Capacity query failed, using default block size",
			"query", q.Name, "attempts", res.Attempts, "block_shift", defaultShift, "cause", res.Err)
	}

	res.Duration = time.Since(start)
	log.Debug("Capacity query done", "sector_size", res.SectorSize, "block_shift", res.BlockShift,
		"attempts", res.Attempts, "fell_back", res.FellBack)
	return res
}

// attempt runs one query under its own timeout.
func (p *Prober) attempt(ctx context.Context, cdb, buf, sense []byte) (Outcome, error) {
	actx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	resp, err := p.exec.Execute(actx, &interfaces.Request{
		CDB:       cdb,
		Direction: scsi.DataRead,
		Buffer:    buf,
		Sense:     sense,
		Timeout:   p.cfg.Timeout,
		Retries:   p.cfg.TransportRetries,
	})
	if err != nil {
		// The attempt's own deadline expired while the caller is still waiting.
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return OutcomeTransient, err
		}
		return OutcomeHard, err
	}
	if resp.Status == scsi.StatusGood {
		return OutcomeSuccess, nil
	}

	sd := sense
	if resp.SenseLen > 0 && resp.SenseLen < len(sense) {
		sd = sense[:resp.SenseLen]
	}
	serr := scsi.NewStatusError(resp.Status, sd)
	if resp.Status == scsi.StatusCheckCondition && p.classifier.Match(sd, scsi.UnitAttention) {
		return OutcomeTransient, serr
	}
	return OutcomeHard, serr
}
