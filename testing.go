package devhandler

import (
	"context"
	"errors"
	"sync"

	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// MockStep produces one scripted reply for MockExecutor.
type MockStep func(ctx context.Context, req *Request) (Response, error)

// MockExecutor provides a scripted Executor for testing.
// Replies are scripted per opcode; the last step of a script repeats.
// Unscripted opcodes fail with ILLEGAL REQUEST, INVALID COMMAND OPERATION CODE.
type MockExecutor struct {
	mu      sync.Mutex
	scripts map[byte][]MockStep
	calls   map[byte]int
	total   int
}

// NewMockExecutor creates an executor with no scripts
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		scripts: make(map[byte][]MockStep),
		calls:   make(map[byte]int),
	}
}

// On scripts the replies for an opcode and returns the executor for chaining
func (m *MockExecutor) On(op byte, steps ...MockStep) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[op] = steps
	return m
}

// Execute implements Executor
func (m *MockExecutor) Execute(ctx context.Context, req *Request) (Response, error) {
	if len(req.CDB) == 0 {
		return Response{}, errors.New("empty CDB")
	}
	op := req.CDB[0]

	m.mu.Lock()
	n := m.calls[op]
	m.calls[op]++
	m.total++
	script := m.scripts[op]
	m.mu.Unlock()

	if len(script) == 0 {
		return ReplyCheckCondition(scsi.SenseIllegalRequest, scsi.AscInvalidOpCode)(ctx, req)
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n](ctx, req)
}

// Calls returns how many times op was executed
func (m *MockExecutor) Calls(op byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of commands executed
func (m *MockExecutor) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Reset clears call counters, keeping scripts
func (m *MockExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[byte]int)
	m.total = 0
}

// ReplyGood completes with GOOD status and no data
func ReplyGood() MockStep {
	return func(context.Context, *Request) (Response, error) {
		return Response{Status: scsi.StatusGood, Resid: 0}, nil
	}
}

// ReplyData completes with GOOD status after copying data into the buffer
func ReplyData(data []byte) MockStep {
	return func(_ context.Context, req *Request) (Response, error) {
		n := copy(req.Buffer, data)
		return Response{Status: scsi.StatusGood, Resid: len(req.Buffer) - n}, nil
	}
}

// ReplyCapacity answers READ CAPACITY(10)
func ReplyCapacity(lastLBA, blockLen uint32) MockStep {
	return func(_ context.Context, req *Request) (Response, error) {
		n := scsi.PutReadCapacity10(req.Buffer, lastLBA, blockLen)
		return Response{Status: scsi.StatusGood, Resid: len(req.Buffer) - n}, nil
	}
}

// ReplyCheckCondition completes with CHECK CONDITION and fixed format sense
func ReplyCheckCondition(key byte, asc scsi.ASC) MockStep {
	return func(_ context.Context, req *Request) (Response, error) {
		n := copy(req.Sense, scsi.BuildSense(key, asc))
		return Response{Status: scsi.StatusCheckCondition, SenseLen: n, Resid: len(req.Buffer)}, nil
	}
}

// ReplyUnitAttention reports a power on or reset unit attention
func ReplyUnitAttention() MockStep {
	return ReplyCheckCondition(scsi.SenseUnitAttention, scsi.AscPowerOnReset)
}

// ReplyError fails at the transport level
func ReplyError(err error) MockStep {
	return func(context.Context, *Request) (Response, error) {
		return Response{}, err
	}
}

// ReplyHang blocks until the request's context ends
func ReplyHang() MockStep {
	return func(ctx context.Context, _ *Request) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}
}

// CountingAllocator wraps the default allocator and counts every allocation.
// FailParams and FailBuffer make the next allocations of that kind fail.
type CountingAllocator struct {
	mu         sync.Mutex
	inner      Allocator
	params     int
	paramsFree int
	bufs       int
	bufsFree   int

	FailParams bool
	FailBuffer bool
}

// NewCountingAllocator creates a counting allocator
func NewCountingAllocator() *CountingAllocator {
	return &CountingAllocator{inner: DefaultAllocator()}
}

// ErrInjectedAllocation is returned by CountingAllocator when failing on purpose
var ErrInjectedAllocation = errors.New("injected allocation failure")

func (c *CountingAllocator) NewParams(defaultShift int) (*Params, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailParams {
		return nil, ErrInjectedAllocation
	}
	c.params++
	return c.inner.NewParams(defaultShift)
}

func (c *CountingAllocator) FreeParams(p *Params) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paramsFree++
	c.inner.FreeParams(p)
}

func (c *CountingAllocator) GetBuffer(size int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailBuffer {
		return nil, ErrInjectedAllocation
	}
	c.bufs++
	return c.inner.GetBuffer(size)
}

func (c *CountingAllocator) PutBuffer(buf []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bufsFree++
	c.inner.PutBuffer(buf)
}

// Allocations returns the number of successful allocations of either kind
func (c *CountingAllocator) Allocations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params + c.bufs
}

// Outstanding returns allocations not yet released, as records and buffers
func (c *CountingAllocator) Outstanding() (records, buffers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params - c.paramsFree, c.bufs - c.bufsFree
}

// MockSyncer is a ParameterSyncer that records calls and returns Err
type MockSyncer struct {
	mu    sync.Mutex
	calls int
	Err   error
}

// Sync implements ParameterSyncer
func (s *MockSyncer) Sync(context.Context, *Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.Err
}

// Calls returns the number of Sync calls
func (s *MockSyncer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Compile-time interface checks
var (
	_ Executor        = (*MockExecutor)(nil)
	_ Allocator       = (*CountingAllocator)(nil)
	_ ParameterSyncer = (*MockSyncer)(nil)
)
