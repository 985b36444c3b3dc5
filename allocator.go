package devhandler

import (
	"fmt"

	"github.com/ehrlich-b/go-devhandler/internal/bufpool"
)

// Allocator provides the per-attach resources: the device record and the
// scratch buffer for the capacity query.
type Allocator interface {
	NewParams(defaultShift int) (*Params, error)
	FreeParams(p *Params)
	GetBuffer(size int) ([]byte, error)
	PutBuffer(buf []byte)
}

// poolAllocator hands out buffers from the shared size-bucketed pools.
type poolAllocator struct{}

// DefaultAllocator returns the allocator used when none is configured.
func DefaultAllocator() Allocator {
	return poolAllocator{}
}

func (poolAllocator) NewParams(defaultShift int) (*Params, error) {
	return newParams(defaultShift), nil
}

func (poolAllocator) FreeParams(*Params) {}

func (poolAllocator) GetBuffer(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}
	return bufpool.Get(size), nil
}

func (poolAllocator) PutBuffer(buf []byte) {
	bufpool.Put(buf)
}
