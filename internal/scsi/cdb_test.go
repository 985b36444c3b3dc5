package scsi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCapacity10CDB(t *testing.T) {
	cdb := ReadCapacity10CDB(3, Level2)
	require.Len(t, cdb, 10)
	assert.Equal(t, ReadCapacity10, cdb[0])
	assert.Equal(t, byte(0x60), cdb[1], "SCSI-2 devices carry the LUN in byte 1")

	cdb = ReadCapacity10CDB(3, LevelSPC3)
	assert.Equal(t, byte(0x00), cdb[1])
}

func TestModeSense6CDB(t *testing.T) {
	cdb := ModeSense6CDB(0, LevelSPC3, ModePageControl, true, 0xff)
	assert.Equal(t, []byte{ModeSense6, 0x08, 0x0a, 0x00, 0xff, 0x00}, cdb)
}

func TestReadCapacityRoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	require.Equal(t, 8, PutReadCapacity10(buf, 1000, 2048))

	lba, bl, err := ParseReadCapacity10(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), lba)
	assert.Equal(t, uint32(2048), bl)

	_, _, err = ParseReadCapacity10(buf[:7])
	assert.Error(t, err)
}

func TestModeSense6BlockLength(t *testing.T) {
	resp := []byte{
		11, 0, 0, 8, // header, one block descriptor
		0, 0, 0, 0, 0, 0x00, 0x04, 0x00, // block length 1024
	}
	bl, ok := ModeSense6BlockLength(resp)
	require.True(t, ok)
	assert.Equal(t, uint32(1024), bl)

	_, ok = ModeSense6BlockLength([]byte{3, 0, 0, 0})
	assert.False(t, ok, "no block descriptor")
}

func TestModeSense6Page(t *testing.T) {
	resp := []byte{
		4 + 8 + 12 - 1, 0, 0, 8,
		0, 0, 0, 0, 0, 0, 0x02, 0x00,
		0x0a, 10, 0x44, 0x10, 0x08, 0x40, 0, 0, 0, 0, 0, 0,
	}
	page, ok := ModeSense6Page(resp, ModePageControl)
	require.True(t, ok)
	assert.Len(t, page, 12)
	assert.Equal(t, byte(0x44), page[2])

	_, ok = ModeSense6Page(resp, 0x08)
	assert.False(t, ok)
}

func TestDecodeRW(t *testing.T) {
	tests := []struct {
		name string
		cdb  []byte
		want RW
	}{
		{"read6", []byte{Read6, 0x01, 0x02, 0x03, 0x00, 0}, RW{LBA: 0x010203, Blocks: 256, Direction: DataRead}},
		{"write10", []byte{Write10, 0, 0, 0, 0x10, 0x00, 0, 0x00, 0x08, 0}, RW{LBA: 0x1000, Blocks: 8, Direction: DataWrite}},
		{"read12", []byte{Read12, 0, 0, 0, 0, 0x01, 0, 0, 0x01, 0x00, 0, 0}, RW{LBA: 1, Blocks: 256, Direction: DataRead}},
		{"read16", []byte{Read16, 0, 0, 0, 0, 0, 0, 0, 0, 0x20, 0, 0, 0, 0x04, 0, 0}, RW{LBA: 0x20, Blocks: 4, Direction: DataRead}},
		{"verify10", []byte{Verify10, 0, 0, 0, 0, 0x05, 0, 0, 0x01, 0}, RW{LBA: 5, Blocks: 1, Direction: DataNone}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeRW(tt.cdb)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := DecodeRW([]byte{Read10, 0, 0})
	assert.False(t, ok, "truncated CDB")
	_, ok = DecodeRW([]byte{Inquiry, 0, 0, 0, 36, 0})
	assert.False(t, ok)
}

func TestDecodeSequentialRW(t *testing.T) {
	rw, ok := DecodeSequentialRW([]byte{Read6, 0x01, 0x00, 0x00, 0x04, 0})
	require.True(t, ok)
	assert.True(t, rw.Fixed)
	assert.Equal(t, uint32(4), rw.Length)
	assert.Equal(t, DataRead, rw.Direction)

	rw, ok = DecodeSequentialRW([]byte{Write6, 0x00, 0x00, 0x10, 0x00, 0})
	require.True(t, ok)
	assert.False(t, rw.Fixed)
	assert.Equal(t, uint32(4096), rw.Length)
}

func TestParseDeviceType(t *testing.T) {
	dt, err := ParseDeviceType("cdrom")
	require.NoError(t, err)
	assert.Equal(t, TypeROM, dt)
	assert.Equal(t, "cdrom", dt.String())

	_, err = ParseDeviceType("printer")
	assert.Error(t, err)
}
