// Package backend provides executors that carry SCSI commands to a logical unit
package backend

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-devhandler/internal/interfaces"
	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// Geometry describes an emulated logical unit
type Geometry struct {
	Type      scsi.DeviceType
	BlockSize uint32
	Blocks    uint64

	// Vendor, Product and Revision are reported by INQUIRY.
	Vendor   string
	Product  string
	Revision string

	// ControlPage is returned for MODE SENSE page 0x0a. Nil means the page
	// is not supported.
	ControlPage []byte
}

// DefaultControlPage is a control mode page with every field at zero
func DefaultControlPage() []byte {
	page := make([]byte, 12)
	page[0] = scsi.ModePageControl
	page[1] = 0x0a
	return page
}

type fault struct {
	key       byte
	asc       scsi.ASC
	remaining int // negative means forever
}

// Memory emulates a SCSI logical unit backed by RAM. It answers the
// commands the device handlers issue and can inject unit attentions and
// other check conditions.
type Memory struct {
	mu   sync.RWMutex
	data []byte
	geo  Geometry

	// tape position in bytes
	pos int64

	pendingUA int
	uaASC     scsi.ASC
	faults    map[byte]*fault
	calls     map[byte]int
}

// NewMemory creates an emulated unit with the given geometry
func NewMemory(geo Geometry) (*Memory, error) {
	if geo.BlockSize == 0 && geo.Type != scsi.TypeTape {
		return nil, fmt.Errorf("block size must be set for %s", geo.Type)
	}
	size := uint64(geo.BlockSize) * geo.Blocks
	if geo.BlockSize == 0 {
		// variable-block tape; Blocks counts bytes
		size = geo.Blocks
	}
	if size > 1<<34 {
		return nil, fmt.Errorf("emulated media too large: %d bytes", size)
	}
	if geo.Vendor == "" {
		geo.Vendor = "GODEVH"
	}
	if geo.Product == "" {
		geo.Product = "EMULATED " + geo.Type.String()
	}
	if geo.Revision == "" {
		geo.Revision = "0001"
	}
	return &Memory{
		data:   make([]byte, size),
		geo:    geo,
		faults: make(map[byte]*fault),
		calls:  make(map[byte]int),
	}, nil
}

// NewCDROM creates an emulated CD-ROM with 2048 byte sectors
func NewCDROM(blocks uint64) *Memory {
	m, _ := NewMemory(Geometry{Type: scsi.TypeROM, BlockSize: 2048, Blocks: blocks})
	return m
}

// Geometry returns the current geometry
func (m *Memory) Geometry() Geometry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.geo
}

// InjectUnitAttention makes the next n commands fail with UNIT ATTENTION,
// POWER ON OR RESET. A negative n reports it forever.
func (m *Memory) InjectUnitAttention(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingUA = n
	m.uaASC = scsi.AscPowerOnReset
}

// InjectError makes the next n executions of op fail with CHECK CONDITION
// and the given sense. A negative n fails forever; zero clears the fault.
func (m *Memory) InjectError(op byte, key byte, asc scsi.ASC, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n == 0 {
		delete(m.faults, op)
		return
	}
	m.faults[op] = &fault{key: key, asc: asc, remaining: n}
}

// ChangeMedia swaps in media with a new block size. The contents are
// cleared and the next command reports CAPACITY DATA HAS CHANGED.
func (m *Memory) ChangeMedia(blockSize uint32, blocks uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.geo.BlockSize = blockSize
	m.geo.Blocks = blocks
	m.data = make([]byte, uint64(blockSize)*blocks)
	m.pos = 0
	m.pendingUA = 1
	m.uaASC = scsi.AscCapacityDataChanged
}

// Calls returns how many times op was executed
func (m *Memory) Calls(op byte) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// Execute implements interfaces.Executor
func (m *Memory) Execute(ctx context.Context, req *interfaces.Request) (interfaces.Response, error) {
	if err := ctx.Err(); err != nil {
		return interfaces.Response{}, err
	}
	if len(req.CDB) == 0 {
		return interfaces.Response{}, fmt.Errorf("empty CDB")
	}
	op := req.CDB[0]

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++

	// INQUIRY and REQUEST SENSE never report a pending unit attention
	if m.pendingUA != 0 && op != scsi.Inquiry && op != scsi.RequestSense {
		if m.pendingUA > 0 {
			m.pendingUA--
		}
		return checkCondition(req, scsi.SenseUnitAttention, m.uaASC), nil
	}
	if f, ok := m.faults[op]; ok {
		if f.remaining > 0 {
			f.remaining--
			if f.remaining == 0 {
				delete(m.faults, op)
			}
		}
		return checkCondition(req, f.key, f.asc), nil
	}

	switch op {
	case scsi.TestUnitReady, scsi.StartStop, scsi.SynchronizeCache:
		return good(req, 0), nil
	case scsi.Inquiry:
		return m.inquiry(req), nil
	case scsi.ReadCapacity10:
		if m.geo.Type == scsi.TypeTape {
			break
		}
		return m.readCapacity10(req), nil
	case scsi.ServiceActionIn16:
		if m.geo.Type == scsi.TypeTape || len(req.CDB) < 16 || req.CDB[1]&0x1f != scsi.SaiReadCapacity16 {
			break
		}
		return m.readCapacity16(req), nil
	case scsi.ModeSense6:
		return m.modeSense6(req), nil
	}

	if m.geo.Type == scsi.TypeTape {
		if rw, ok := scsi.DecodeSequentialRW(req.CDB); ok {
			return m.sequentialRW(req, rw), nil
		}
	} else if rw, ok := scsi.DecodeRW(req.CDB); ok {
		return m.blockRW(req, rw), nil
	}
	return checkCondition(req, scsi.SenseIllegalRequest, scsi.AscInvalidOpCode), nil
}

func good(req *interfaces.Request, n int) interfaces.Response {
	return interfaces.Response{Status: scsi.StatusGood, Resid: len(req.Buffer) - n}
}

func checkCondition(req *interfaces.Request, key byte, asc scsi.ASC) interfaces.Response {
	n := copy(req.Sense, scsi.BuildSense(key, asc))
	return interfaces.Response{Status: scsi.StatusCheckCondition, SenseLen: n, Resid: len(req.Buffer)}
}

// reply copies data into the request buffer, truncated to the allocation length
func reply(req *interfaces.Request, data []byte, allocLen int) interfaces.Response {
	if allocLen < len(data) {
		data = data[:allocLen]
	}
	return good(req, copy(req.Buffer, data))
}

func padded(s string, n int) []byte {
	return []byte(fmt.Sprintf("%-*.*s", n, n, s))
}

func (m *Memory) inquiry(req *interfaces.Request) interfaces.Response {
	if len(req.CDB) < 6 {
		return checkCondition(req, scsi.SenseIllegalRequest, scsi.AscInvalidFieldInCdb)
	}
	resp := make([]byte, 36)
	resp[0] = byte(m.geo.Type)
	if m.geo.Type == scsi.TypeROM || m.geo.Type == scsi.TypeMOD {
		resp[1] = 0x80 // removable
	}
	resp[2] = 0x05 // SPC-3
	resp[3] = 0x02
	resp[4] = byte(len(resp) - 5)
	copy(resp[8:16], padded(m.geo.Vendor, 8))
	copy(resp[16:32], padded(m.geo.Product, 16))
	copy(resp[32:36], padded(m.geo.Revision, 4))
	return reply(req, resp, int(binary.BigEndian.Uint16(req.CDB[3:5])))
}

func (m *Memory) lastLBA() uint64 {
	if m.geo.Blocks == 0 {
		return 0
	}
	return m.geo.Blocks - 1
}

func (m *Memory) readCapacity10(req *interfaces.Request) interfaces.Response {
	resp := make([]byte, 8)
	last := m.lastLBA()
	if last > 0xffffffff {
		last = 0xffffffff
	}
	scsi.PutReadCapacity10(resp, uint32(last), m.geo.BlockSize)
	return reply(req, resp, len(resp))
}

func (m *Memory) readCapacity16(req *interfaces.Request) interfaces.Response {
	resp := make([]byte, 32)
	binary.BigEndian.PutUint64(resp[0:8], m.lastLBA())
	binary.BigEndian.PutUint32(resp[8:12], m.geo.BlockSize)
	return reply(req, resp, int(binary.BigEndian.Uint32(req.CDB[10:14])))
}

func (m *Memory) modeSense6(req *interfaces.Request) interfaces.Response {
	if len(req.CDB) < 6 {
		return checkCondition(req, scsi.SenseIllegalRequest, scsi.AscInvalidFieldInCdb)
	}
	dbd := req.CDB[1]&0x08 != 0
	page := req.CDB[2] & 0x3f

	resp := make([]byte, 4, 4+8+len(m.geo.ControlPage))
	if !dbd {
		resp[3] = 8
		desc := make([]byte, 8)
		blocks := m.geo.Blocks
		if blocks > 0xffffff {
			blocks = 0xffffff
		}
		desc[1], desc[2], desc[3] = byte(blocks>>16), byte(blocks>>8), byte(blocks)
		desc[5], desc[6], desc[7] = byte(m.geo.BlockSize>>16), byte(m.geo.BlockSize>>8), byte(m.geo.BlockSize)
		resp = append(resp, desc...)
	}

	switch page {
	case 0:
		// block descriptor only
	case scsi.ModePageControl, 0x3f:
		if m.geo.ControlPage == nil {
			if page == 0x3f {
				break
			}
			return checkCondition(req, scsi.SenseIllegalRequest, scsi.AscInvalidFieldInCdb)
		}
		resp = append(resp, m.geo.ControlPage...)
	default:
		return checkCondition(req, scsi.SenseIllegalRequest, scsi.AscInvalidFieldInCdb)
	}
	resp[0] = byte(len(resp) - 1)
	return reply(req, resp, int(req.CDB[4]))
}

func (m *Memory) blockRW(req *interfaces.Request, rw scsi.RW) interfaces.Response {
	if rw.LBA+uint64(rw.Blocks) > m.geo.Blocks {
		return checkCondition(req, scsi.SenseIllegalRequest, scsi.AscLbaOutOfRange)
	}
	if rw.Direction == scsi.DataNone {
		return good(req, 0)
	}

	off := rw.LBA * uint64(m.geo.BlockSize)
	length := uint64(rw.Blocks) * uint64(m.geo.BlockSize)
	if uint64(len(req.Buffer)) < length {
		length = uint64(len(req.Buffer))
	}

	var n int
	if rw.Direction == scsi.DataRead {
		n = copy(req.Buffer[:length], m.data[off:off+length])
	} else {
		n = copy(m.data[off:off+length], req.Buffer[:length])
	}
	return good(req, n)
}

func (m *Memory) sequentialRW(req *interfaces.Request, rw scsi.SequentialRW) interfaces.Response {
	length := int64(rw.Length)
	if rw.Fixed {
		if m.geo.BlockSize == 0 {
			return checkCondition(req, scsi.SenseIllegalRequest, scsi.AscInvalidFieldInCdb)
		}
		length *= int64(m.geo.BlockSize)
	}
	if int64(len(req.Buffer)) < length {
		length = int64(len(req.Buffer))
	}
	if m.pos+length > int64(len(m.data)) {
		if rw.Direction == scsi.DataRead {
			return checkCondition(req, scsi.SenseBlankCheck, scsi.AscNoAdditionalSense)
		}
		return checkCondition(req, scsi.SenseMediumError, scsi.AscNoAdditionalSense)
	}

	var n int
	if rw.Direction == scsi.DataRead {
		n = copy(req.Buffer[:length], m.data[m.pos:m.pos+length])
	} else {
		n = copy(m.data[m.pos:m.pos+length], req.Buffer[:length])
	}
	m.pos += int64(n)
	return good(req, n)
}

// ReadAt reads the media directly, bypassing the SCSI layer
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := int64(len(m.data))
	if off >= size {
		return 0, nil
	}

	// Calculate how much we can actually read
	available := size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	n := copy(p, m.data[off:off+int64(len(p))])
	return n, nil
}

// WriteAt writes the media directly, bypassing the SCSI layer
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := int64(len(m.data))
	if off >= size {
		return 0, fmt.Errorf("write beyond end of media")
	}

	available := size - off
	if int64(len(p)) > available {
		p = p[:available]
	}

	n := copy(m.data[off:off+int64(len(p))], p)
	return n, nil
}

// Size returns the media size in bytes
func (m *Memory) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

// Rewind moves a tape back to the beginning of media
func (m *Memory) Rewind() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = 0
}

// Close releases the media
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Clear the data to help with GC
	m.data = nil
	return nil
}

// Stats returns a summary of the emulated unit
func (m *Memory) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	commands := 0
	for _, n := range m.calls {
		commands += n
	}
	return map[string]interface{}{
		"type":       m.geo.Type.String(),
		"block_size": m.geo.BlockSize,
		"blocks":     m.geo.Blocks,
		"size":       len(m.data),
		"commands":   commands,
	}
}

// Compile-time interface checks
var _ interfaces.Executor = (*Memory)(nil)
