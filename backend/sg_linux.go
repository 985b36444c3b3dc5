//go:build linux

package backend

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-devhandler/internal/interfaces"
	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

const (
	sgIO               = 0x2285
	sgGetVersionNumber = 0x2282

	sgDxferNone      = -1
	sgDxferToDev     = -2
	sgDxferFromDev   = -3
	sgDxferToFromDev = -4

	sgInfoOKMask = 0x1

	// driver_status carries DRIVER_SENSE whenever sense data was returned
	driverSense = 0x08

	// used when neither the request nor the context bound the command
	defaultSGTimeout = 60 * time.Second
)

// sgIoHdr mirrors sg_io_hdr_t from <scsi/sg.h>
type sgIoHdr struct {
	interfaceID    int32
	dxferDirection int32
	cmdLen         uint8
	mxSbLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         uintptr
	cmdp           uintptr
	sbp            uintptr
	timeout        uint32 // milliseconds
	flags          uint32
	packID         int32
	usrPtr         uintptr
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

// TransportError reports a command the host adapter or driver failed
type TransportError struct {
	HostStatus   uint16
	DriverStatus uint16
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sg transport failure: host status 0x%02x, driver status 0x%02x",
		e.HostStatus, e.DriverStatus)
}

// SG issues commands to a Linux SCSI generic node (/dev/sgN or a block
// device that accepts SG_IO).
//
// The ioctl cannot be interrupted, so ctx only bounds the command through
// its deadline, which becomes the SG_IO timeout.
type SG struct {
	path string
	fd   int
}

// OpenSG opens a SCSI generic device
func OpenSG(path string) (*SG, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var version int32
	if err := ioctl(fd, sgGetVersionNumber, unsafe.Pointer(&version)); err != nil || version < 30000 {
		unix.Close(fd)
		return nil, fmt.Errorf("%s is not a SCSI generic device (sg version %d)", path, version)
	}
	return &SG{path: path, fd: fd}, nil
}

// Path returns the device node
func (s *SG) Path() string {
	return s.path
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func sgDirection(d scsi.DataDirection) int32 {
	switch d {
	case scsi.DataWrite:
		return sgDxferToDev
	case scsi.DataRead:
		return sgDxferFromDev
	case scsi.DataBidirectional:
		return sgDxferToFromDev
	}
	return sgDxferNone
}

func sgTimeout(ctx context.Context, req *interfaces.Request) time.Duration {
	timeout := req.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		timeout = defaultSGTimeout
	}
	return timeout
}

// Execute implements interfaces.Executor. Transport failures are retried
// up to req.Retries times.
func (s *SG) Execute(ctx context.Context, req *interfaces.Request) (interfaces.Response, error) {
	if len(req.CDB) == 0 || len(req.CDB) > 255 {
		return interfaces.Response{}, fmt.Errorf("invalid CDB length %d", len(req.CDB))
	}

	var lastErr error
	for attempt := 0; attempt <= req.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return interfaces.Response{}, err
		}
		resp, err := s.execute(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		var te *TransportError
		if !errors.As(err, &te) && !errors.Is(err, unix.EINTR) && !errors.Is(err, unix.EAGAIN) {
			break
		}
	}
	return interfaces.Response{}, lastErr
}

func (s *SG) execute(ctx context.Context, req *interfaces.Request) (interfaces.Response, error) {
	timeout := sgTimeout(ctx, req)
	hdr := sgIoHdr{
		interfaceID:    'S',
		dxferDirection: sgDirection(req.Direction),
		cmdLen:         uint8(len(req.CDB)),
		timeout:        uint32(timeout.Milliseconds()),
	}
	hdr.cmdp = uintptr(unsafe.Pointer(&req.CDB[0]))
	if len(req.Sense) > 0 {
		hdr.mxSbLen = uint8(min(len(req.Sense), 255))
		hdr.sbp = uintptr(unsafe.Pointer(&req.Sense[0]))
	}
	if len(req.Buffer) > 0 && hdr.dxferDirection != sgDxferNone {
		hdr.dxferLen = uint32(len(req.Buffer))
		hdr.dxferp = uintptr(unsafe.Pointer(&req.Buffer[0]))
	}

	err := ioctl(s.fd, sgIO, unsafe.Pointer(&hdr))
	runtime.KeepAlive(req)
	if err != nil {
		if errors.Is(err, unix.ETIMEDOUT) {
			return interfaces.Response{}, context.DeadlineExceeded
		}
		return interfaces.Response{}, fmt.Errorf("SG_IO on %s: %w", s.path, err)
	}

	if hdr.info&sgInfoOKMask != 0 && (hdr.hostStatus != 0 || hdr.driverStatus&^driverSense != 0) {
		return interfaces.Response{}, &TransportError{HostStatus: hdr.hostStatus, DriverStatus: hdr.driverStatus}
	}
	return interfaces.Response{
		Status:   hdr.status,
		SenseLen: int(hdr.sbLenWr),
		Resid:    int(hdr.resid),
	}, nil
}

// Close closes the device node
func (s *SG) Close() error {
	return unix.Close(s.fd)
}

var _ interfaces.Executor = (*SG)(nil)
