package scsi

import (
	"encoding/binary"
	"fmt"
)

// Mode page codes
const (
	ModePageControl  byte = 0x0a
	ModePageAllPages byte = 0x3f
)

// CDBLength returns the CDB length implied by the opcode's group code,
// or 0 for vendor specific and variable length groups.
func CDBLength(op byte) int {
	switch op >> 5 {
	case 0:
		return 6
	case 1, 2:
		return 10
	case 4:
		return 16
	case 5:
		return 12
	}
	return 0
}

// lunBits encodes the LUN in CDB byte 1 for devices that predate SCSI-3.
func lunBits(lun uint8, level Level) byte {
	if level <= Level2 {
		return (lun << 5) & 0xe0
	}
	return 0
}

// ReadCapacity10CDB builds a READ CAPACITY(10) command.
func ReadCapacity10CDB(lun uint8, level Level) []byte {
	cdb := make([]byte, 10)
	cdb[0] = ReadCapacity10
	cdb[1] = lunBits(lun, level)
	return cdb
}

// ModeSense6CDB builds a MODE SENSE(6) command for the current values of page.
// When dbd is set the device is asked to omit block descriptors.
func ModeSense6CDB(lun uint8, level Level, page byte, dbd bool, allocLen byte) []byte {
	cdb := make([]byte, 6)
	cdb[0] = ModeSense6
	cdb[1] = lunBits(lun, level)
	if dbd {
		cdb[1] |= 0x08
	}
	cdb[2] = page & 0x3f
	cdb[4] = allocLen
	return cdb
}

// ParseReadCapacity10 decodes the 8 byte READ CAPACITY(10) parameter data.
func ParseReadCapacity10(resp []byte) (lastLBA uint32, blockLen uint32, err error) {
	if len(resp) < 8 {
		return 0, 0, fmt.Errorf("read capacity(10) response too short: %d bytes", len(resp))
	}
	return binary.BigEndian.Uint32(resp[0:4]), binary.BigEndian.Uint32(resp[4:8]), nil
}

// ParseReadCapacity16 decodes the leading 12 bytes of READ CAPACITY(16) parameter data.
func ParseReadCapacity16(resp []byte) (lastLBA uint64, blockLen uint32, err error) {
	if len(resp) < 12 {
		return 0, 0, fmt.Errorf("read capacity(16) response too short: %d bytes", len(resp))
	}
	return binary.BigEndian.Uint64(resp[0:8]), binary.BigEndian.Uint32(resp[8:12]), nil
}

// PutReadCapacity10 encodes READ CAPACITY(10) parameter data into buf.
func PutReadCapacity10(buf []byte, lastLBA, blockLen uint32) int {
	if len(buf) < 8 {
		return 0
	}
	binary.BigEndian.PutUint32(buf[0:4], lastLBA)
	binary.BigEndian.PutUint32(buf[4:8], blockLen)
	return 8
}

// ModeSense6BlockLength extracts the block length from the first block
// descriptor of a MODE SENSE(6) response.
func ModeSense6BlockLength(resp []byte) (uint32, bool) {
	if len(resp) < 4 {
		return 0, false
	}
	bdl := int(resp[3])
	if bdl < 8 || len(resp) < 4+8 {
		return 0, false
	}
	d := resp[4:12]
	return uint32(d[5])<<16 | uint32(d[6])<<8 | uint32(d[7]), true
}

// ModeSense6Page locates page in a MODE SENSE(6) response and returns its bytes,
// header included.
func ModeSense6Page(resp []byte, page byte) ([]byte, bool) {
	if len(resp) < 4 {
		return nil, false
	}
	end := int(resp[0]) + 1
	if end > len(resp) {
		end = len(resp)
	}
	off := 4 + int(resp[3])
	for off+2 <= end {
		code := resp[off] & 0x3f
		plen := int(resp[off+1]) + 2
		if off+plen > end {
			return nil, false
		}
		if code == page {
			return resp[off : off+plen], true
		}
		off += plen
	}
	return nil, false
}

// RW is a decoded block READ/WRITE/VERIFY command.
type RW struct {
	LBA       uint64
	Blocks    uint32
	Direction DataDirection
}

// DecodeRW decodes direct-access read, write and verify commands.
func DecodeRW(cdb []byte) (RW, bool) {
	if len(cdb) == 0 || len(cdb) < CDBLength(cdb[0]) {
		return RW{}, false
	}

	var rw RW
	switch cdb[0] {
	case Read6, Write6:
		rw.LBA = uint64(cdb[1]&0x1f)<<16 | uint64(cdb[2])<<8 | uint64(cdb[3])
		rw.Blocks = uint32(cdb[4])
		if rw.Blocks == 0 {
			rw.Blocks = 256
		}
	case Read10, Write10, Verify10:
		rw.LBA = uint64(binary.BigEndian.Uint32(cdb[2:6]))
		rw.Blocks = uint32(binary.BigEndian.Uint16(cdb[7:9]))
	case Read12, Write12, Verify12:
		rw.LBA = uint64(binary.BigEndian.Uint32(cdb[2:6]))
		rw.Blocks = binary.BigEndian.Uint32(cdb[6:10])
	case Read16, Write16, Verify16:
		rw.LBA = binary.BigEndian.Uint64(cdb[2:10])
		rw.Blocks = binary.BigEndian.Uint32(cdb[10:14])
	default:
		return RW{}, false
	}

	switch cdb[0] {
	case Read6, Read10, Read12, Read16:
		rw.Direction = DataRead
	case Write6, Write10, Write12, Write16:
		rw.Direction = DataWrite
	default:
		rw.Direction = DataNone
	}
	return rw, true
}

// SequentialRW is a decoded sequential-access READ(6)/WRITE(6).
type SequentialRW struct {
	Length    uint32
	Fixed     bool
	Direction DataDirection
}

// DecodeSequentialRW decodes tape READ(6) and WRITE(6). With Fixed set the
// length counts blocks, otherwise bytes.
func DecodeSequentialRW(cdb []byte) (SequentialRW, bool) {
	if len(cdb) < 6 {
		return SequentialRW{}, false
	}
	var rw SequentialRW
	switch cdb[0] {
	case Read6:
		rw.Direction = DataRead
	case Write6:
		rw.Direction = DataWrite
	default:
		return SequentialRW{}, false
	}
	rw.Fixed = cdb[1]&0x01 != 0
	rw.Length = uint32(cdb[2])<<16 | uint32(cdb[3])<<8 | uint32(cdb[4])
	return rw, true
}
