package scsi

import "math/bits"

// CalcBlockShift converts a sector size in bytes to a block shift.
// Sizes that are not a power of two are rounded down to the nearest one.
// A zero size yields zero, which callers treat as "no information".
func CalcBlockShift(sectorSize uint32) int {
	if sectorSize == 0 {
		return 0
	}
	return bits.Len32(sectorSize) - 1
}

// IsPowerOfTwo reports whether size is an exact power of two.
func IsPowerOfTwo(size uint32) bool {
	return size != 0 && size&(size-1) == 0
}

// BlockSize returns the sector size for a block shift.
func BlockSize(shift int) uint32 {
	if shift < 0 || shift > 31 {
		return 0
	}
	return 1 << uint(shift)
}
