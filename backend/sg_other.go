//go:build !linux

package backend

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ehrlich-b/go-devhandler/internal/interfaces"
)

// SG is only available on Linux
type SG struct {
	path string
}

// OpenSG fails on platforms without SG_IO
func OpenSG(path string) (*SG, error) {
	return nil, fmt.Errorf("SCSI generic devices are not supported on %s", runtime.GOOS)
}

// Path returns the device node
func (s *SG) Path() string {
	return s.path
}

// Execute implements interfaces.Executor
func (s *SG) Execute(context.Context, *interfaces.Request) (interfaces.Response, error) {
	return interfaces.Response{}, fmt.Errorf("SCSI generic devices are not supported on %s", runtime.GOOS)
}

// Close implements io.Closer
func (s *SG) Close() error {
	return nil
}

var _ interfaces.Executor = (*SG)(nil)
