package interfaces

import (
	"context"
	"time"

	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// Request is a single command handed to an Executor.
type Request struct {
	// CDB is the command descriptor block.
	CDB []byte

	// Direction of the data phase; Buffer is read into or written from.
	Direction scsi.DataDirection
	Buffer    []byte

	// Sense receives sense data when the command ends in CHECK CONDITION.
	Sense []byte

	// Timeout bounds one execution. Executors should also honor ctx.
	Timeout time.Duration

	// Retries is the number of transport level retries the executor may perform.
	Retries int
}

// Response reports the outcome of a command that reached the device.
type Response struct {
	// Status is the SAM status byte.
	Status byte

	// SenseLen is the number of valid bytes written into Request.Sense.
	SenseLen int

	// Resid is the number of requested data bytes that were not transferred.
	Resid int
}

// Executor issues commands to a device and waits for their completion.
//
// A non-nil error means the command did not complete at the transport level
// (timeouts, host or driver errors); the Response is then meaningless.
// A completed command with a non-GOOD status is not an error.
type Executor interface {
	Execute(ctx context.Context, req *Request) (Response, error)
}

// SenseClassifier decides whether sense data matches a condition.
type SenseClassifier interface {
	Match(sense []byte, want scsi.Match) bool
}
