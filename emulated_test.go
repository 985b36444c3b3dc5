package devhandler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	devhandler "github.com/ehrlich-b/go-devhandler"
	"github.com/ehrlich-b/go-devhandler/backend"
	"github.com/ehrlich-b/go-devhandler/internal/logging"
	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

func newEmulatedTarget(t *testing.T, m *devhandler.Metrics) *devhandler.Target {
	t.Helper()
	opts := &devhandler.Options{Logger: logging.Nop(), Observer: devhandler.NewMetricsObserver(m)}
	r := devhandler.NewRegistry(nil)
	_, err := devhandler.RegisterMediaHandlers(r, devhandler.DefaultParams(), opts)
	require.NoError(t, err)
	return devhandler.NewTarget(r, opts)
}

func TestEmulatedCDROMAfterReset(t *testing.T) {
	m := devhandler.NewMetrics()
	tgt := newEmulatedTarget(t, m)
	defer tgt.Close()

	unit := backend.NewCDROM(1000)
	unit.InjectUnitAttention(1)
	dev := devhandler.NewDevice("sr0", scsi.TypeROM, unit)

	require.NoError(t, tgt.Attach(context.Background(), dev))

	rec, ok := dev.Private()
	require.True(t, ok)
	assert.Equal(t, 11, rec.BlockShift())
	assert.Equal(t, devhandler.RecordProbed, rec.State())
	assert.Equal(t, 2, unit.Calls(scsi.ReadCapacity10))
	assert.Equal(t, uint64(1), m.Snapshot().UnitAttentionRetries)
}

func TestEmulatedPersistentUnitAttention(t *testing.T) {
	tgt := newEmulatedTarget(t, devhandler.NewMetrics())
	defer tgt.Close()

	unit := backend.NewCDROM(1000)
	unit.InjectUnitAttention(devhandler.DefaultUARetries)
	dev := devhandler.NewDevice("sr0", scsi.TypeROM, unit)

	require.NoError(t, tgt.Attach(context.Background(), dev))

	rec, _ := dev.Private()
	assert.Equal(t, devhandler.DefaultCDROMBlockShift, rec.BlockShift())
	assert.Equal(t, devhandler.RecordDefault, rec.State())
	assert.Equal(t, devhandler.DefaultUARetries, unit.Calls(scsi.ReadCapacity10))
}

func TestEmulatedDiskReadWrite(t *testing.T) {
	tgt := newEmulatedTarget(t, devhandler.NewMetrics())
	defer tgt.Close()

	unit, err := backend.NewMemory(backend.Geometry{
		Type:        scsi.TypeDisk,
		BlockSize:   4096,
		Blocks:      256,
		ControlPage: backend.DefaultControlPage(),
	})
	require.NoError(t, err)
	dev := devhandler.NewDevice("sda", scsi.TypeDisk, unit)
	require.NoError(t, tgt.Attach(context.Background(), dev))

	rec, _ := dev.Private()
	require.Equal(t, 12, rec.BlockShift())

	data := make([]byte, 8192)
	copy(data, "block five")
	write := &devhandler.Command{CDB: []byte{scsi.Write10, 0, 0, 0, 0, 5, 0, 0, 2, 0}, Buffer: data}
	require.NoError(t, tgt.Execute(context.Background(), "sda", write))
	require.True(t, write.Good())
	assert.Equal(t, 8192, write.DataLength)

	buf := make([]byte, 4096)
	read := &devhandler.Command{CDB: []byte{scsi.Read10, 0, 0, 0, 0, 5, 0, 0, 1, 0}, Buffer: buf}
	require.NoError(t, tgt.Execute(context.Background(), "sda", read))
	assert.Equal(t, "block five", string(read.Transferred()[:10]))
}

func TestEmulatedMediaChange(t *testing.T) {
	tgt := newEmulatedTarget(t, devhandler.NewMetrics())
	defer tgt.Close()

	unit := backend.NewCDROM(1000)
	dev := devhandler.NewDevice("sr0", scsi.TypeROM, unit)
	require.NoError(t, tgt.Attach(context.Background(), dev))

	unit.ChangeMedia(512, 4000)

	// The first command after the change reports the unit attention
	rc := &devhandler.Command{CDB: scsi.ReadCapacity10CDB(0, scsi.LevelSPC3), Buffer: make([]byte, 8)}
	require.NoError(t, tgt.Execute(context.Background(), "sr0", rc))
	assert.Equal(t, scsi.StatusCheckCondition, rc.Status)

	rec, _ := dev.Private()
	assert.Equal(t, 11, rec.BlockShift())

	// A good READ CAPACITY revises the block size
	rc = &devhandler.Command{CDB: scsi.ReadCapacity10CDB(0, scsi.LevelSPC3), Buffer: make([]byte, 8)}
	require.NoError(t, tgt.Execute(context.Background(), "sr0", rc))
	assert.Equal(t, 9, rec.BlockShift())

	read := &devhandler.Command{CDB: []byte{scsi.Read10, 0, 0, 0, 0, 0, 0, 0, 4, 0}, Buffer: make([]byte, 2048)}
	require.NoError(t, tgt.Execute(context.Background(), "sr0", read))
	assert.Equal(t, 2048, read.DataLength)
}

func TestEmulatedTapeBlockDescriptor(t *testing.T) {
	tgt := newEmulatedTarget(t, devhandler.NewMetrics())
	defer tgt.Close()

	unit, err := backend.NewMemory(backend.Geometry{Type: scsi.TypeTape, BlockSize: 1024, Blocks: 64})
	require.NoError(t, err)
	dev := devhandler.NewDevice("st0", scsi.TypeTape, unit)
	require.NoError(t, tgt.Attach(context.Background(), dev))

	rec, _ := dev.Private()
	assert.Equal(t, 10, rec.BlockShift())
	assert.Equal(t, 0, unit.Calls(scsi.ReadCapacity10))
}

func TestEmulatedPreSCSI3LUN(t *testing.T) {
	tgt := newEmulatedTarget(t, devhandler.NewMetrics())
	defer tgt.Close()

	unit := backend.NewCDROM(100)
	dev := devhandler.NewDevice("sr1", scsi.TypeROM, unit)
	dev.LUN = 1
	dev.SCSILevel = scsi.Level2
	require.NoError(t, tgt.Attach(context.Background(), dev))

	info := dev.Info()
	assert.True(t, info.Attached)
	assert.Equal(t, uint32(2048), info.BlockSize)
}
