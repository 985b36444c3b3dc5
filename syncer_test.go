package devhandler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-devhandler/internal/logging"
	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// controlPageResponse is a MODE SENSE(6) reply with no block descriptor and
// one control mode page: TST=1, D_SENSE, QAM=1, QErr=1, SWP, TAS.
func controlPageResponse() []byte {
	return []byte{
		15, 0, 0, 0,
		0x0a, 0x0a, 0x24, 0x12, 0x08, 0x40, 0, 0, 0, 0, 0, 0,
	}
}

func newSyncer() *ControlModeSyncer {
	return NewControlModeSyncer(DefaultParams(), logging.Nop())
}

func TestControlModeSyncerReadsPage(t *testing.T) {
	exec := NewMockExecutor().On(scsi.ModeSense6, ReplyData(controlPageResponse()))
	dev := NewDevice("sr0", scsi.TypeROM, exec)

	require.NoError(t, newSyncer().Sync(context.Background(), dev))

	assert.Equal(t, ControlParams{TST: 1, QAM: 1, QErr: 1, SWP: true, TAS: true, DSense: true}, dev.Control())
	assert.Equal(t, 1, exec.Calls(scsi.ModeSense6))
}

func TestControlModeSyncerIllegalRequestUsesDefaults(t *testing.T) {
	// Unscripted opcodes fail with ILLEGAL REQUEST
	exec := NewMockExecutor()
	dev := NewDevice("sr0", scsi.TypeROM, exec)
	dev.SetControl(ControlParams{TST: 3})

	require.NoError(t, newSyncer().Sync(context.Background(), dev))
	assert.Equal(t, DefaultControlParams(), dev.Control())
}

func TestControlModeSyncerMissingPage(t *testing.T) {
	exec := NewMockExecutor().On(scsi.ModeSense6, ReplyData([]byte{3, 0, 0, 0}))
	dev := NewDevice("sr0", scsi.TypeROM, exec)

	require.NoError(t, newSyncer().Sync(context.Background(), dev))
	assert.Equal(t, DefaultControlParams(), dev.Control())
}

func TestControlModeSyncerRetriesUnitAttention(t *testing.T) {
	exec := NewMockExecutor().On(scsi.ModeSense6,
		ReplyUnitAttention(),
		ReplyData(controlPageResponse()))
	dev := NewDevice("sr0", scsi.TypeROM, exec)

	require.NoError(t, newSyncer().Sync(context.Background(), dev))
	assert.Equal(t, 2, exec.Calls(scsi.ModeSense6))
	assert.True(t, dev.Control().SWP)
}

func TestControlModeSyncerUnitAttentionExhausted(t *testing.T) {
	exec := NewMockExecutor().On(scsi.ModeSense6, ReplyUnitAttention())
	dev := NewDevice("sr0", scsi.TypeROM, exec)

	err := newSyncer().Sync(context.Background(), dev)
	require.Error(t, err)
	assert.Equal(t, DefaultUARetries, exec.Calls(scsi.ModeSense6))

	var se *scsi.StatusError
	assert.ErrorAs(t, err, &se)
}

func TestControlModeSyncerHardFailure(t *testing.T) {
	exec := NewMockExecutor().On(scsi.ModeSense6, ReplyCheckCondition(scsi.SenseHardwareError, scsi.AscInternalTargetFail))
	dev := NewDevice("sr0", scsi.TypeROM, exec)

	err := newSyncer().Sync(context.Background(), dev)
	require.Error(t, err)
	assert.Equal(t, 1, exec.Calls(scsi.ModeSense6))
}

func TestControlModeSyncerTransportError(t *testing.T) {
	boom := errors.New("bus reset")
	exec := NewMockExecutor().On(scsi.ModeSense6, ReplyError(boom))
	dev := NewDevice("sr0", scsi.TypeROM, exec)

	err := newSyncer().Sync(context.Background(), dev)
	assert.ErrorIs(t, err, boom)
}

func TestSyncFailureFailsAttach(t *testing.T) {
	f := newFixture(t, CDROM, nil)
	f.exec.On(scsi.ReadCapacity10, ReplyCapacity(100, 2048))
	f.exec.On(scsi.ModeSense6, ReplyCheckCondition(scsi.SenseMediumError, scsi.AscReadError))

	err := f.handler.Attach(context.Background(), f.dev)
	assert.ErrorIs(t, err, ErrDeviceParameterSyncFailed)
	f.requireReleased(t)
}

func TestParseControlPageShort(t *testing.T) {
	_, err := parseControlPage([]byte{0x0a, 0x02, 0, 0})
	assert.Error(t, err)
}
