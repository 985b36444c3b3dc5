package devhandler

import (
	"encoding/binary"
	"time"

	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// Command is one SCSI command travelling through a handler.
type Command struct {
	Device *Device
	CDB    []byte

	// Buffer holds the data phase; Sense receives sense data.
	Buffer []byte
	Sense  []byte

	// Set by Parse
	Direction  scsi.DataDirection
	LBA        uint64
	Blocks     uint32
	DataLength int
	BlockShift int
	Retries    int
	Timeout    time.Duration

	// Set on completion
	Status   byte
	SenseLen int
	Resid    int
	Err      error
}

// Opcode returns the operation code, 0 for an empty CDB
func (c *Command) Opcode() byte {
	if len(c.CDB) == 0 {
		return 0
	}
	return c.CDB[0]
}

// Transferred returns the data bytes actually moved
func (c *Command) Transferred() []byte {
	n := len(c.Buffer) - c.Resid
	switch {
	case n < 0:
		n = 0
	case n > len(c.Buffer):
		n = len(c.Buffer)
	}
	return c.Buffer[:n]
}

// Good reports a command that completed with GOOD status
func (c *Command) Good() bool {
	return c.Err == nil && c.Status == scsi.StatusGood
}

// GenericParse fills in the transfer direction and expected data length
// using the given block shift. Sequential devices decode READ(6)/WRITE(6)
// with the tape fixed-block bit. Unknown opcodes keep the caller's direction.
func GenericParse(cmd *Command, shift int, sequential bool) {
	cmd.BlockShift = shift
	cdb := cmd.CDB
	if len(cdb) == 0 {
		return
	}

	if sequential {
		if rw, ok := scsi.DecodeSequentialRW(cdb); ok {
			cmd.Direction = rw.Direction
			cmd.Blocks = 0
			cmd.DataLength = int(rw.Length)
			if rw.Fixed {
				cmd.Blocks = rw.Length
				cmd.DataLength = int(rw.Length) << shift
			}
			return
		}
	} else if rw, ok := scsi.DecodeRW(cdb); ok {
		cmd.Direction = rw.Direction
		cmd.LBA = rw.LBA
		cmd.Blocks = rw.Blocks
		cmd.DataLength = int(rw.Blocks) << shift
		if rw.Direction == scsi.DataNone {
			cmd.DataLength = 0
		}
		return
	}

	switch cdb[0] {
	case scsi.TestUnitReady, scsi.StartStop, scsi.SynchronizeCache:
		cmd.Direction = scsi.DataNone
		cmd.DataLength = 0
	case scsi.ReadCapacity10:
		cmd.Direction = scsi.DataRead
		cmd.DataLength = 8
	case scsi.RequestSense, scsi.ModeSense6:
		if len(cdb) >= 6 {
			cmd.Direction = scsi.DataRead
			cmd.DataLength = int(cdb[4])
		}
	case scsi.Inquiry:
		if len(cdb) >= 6 {
			cmd.Direction = scsi.DataRead
			cmd.DataLength = int(binary.BigEndian.Uint16(cdb[3:5]))
		}
	case scsi.ReadToc, scsi.ModeSense10:
		if len(cdb) >= 10 {
			cmd.Direction = scsi.DataRead
			cmd.DataLength = int(binary.BigEndian.Uint16(cdb[7:9]))
		}
	case scsi.ServiceActionIn16:
		if len(cdb) >= 16 {
			cmd.Direction = scsi.DataRead
			cmd.DataLength = int(binary.BigEndian.Uint32(cdb[10:14]))
		}
	case scsi.ReportLuns:
		if len(cdb) >= 12 {
			cmd.Direction = scsi.DataRead
			cmd.DataLength = int(binary.BigEndian.Uint32(cdb[6:10]))
		}
	}
}

// RevisedShift extracts a block shift from a good completion that reports
// the device's block length. A reported length of 0 yields shift 0.
func RevisedShift(cmd *Command) (int, bool) {
	if !cmd.Good() || len(cmd.CDB) == 0 {
		return 0, false
	}
	resp := cmd.Transferred()

	switch cmd.CDB[0] {
	case scsi.ReadCapacity10:
		_, blockLen, err := scsi.ParseReadCapacity10(resp)
		if err != nil {
			return 0, false
		}
		return scsi.CalcBlockShift(blockLen), true
	case scsi.ServiceActionIn16:
		if cmd.CDB[1]&0x1f != scsi.SaiReadCapacity16 {
			return 0, false
		}
		_, blockLen, err := scsi.ParseReadCapacity16(resp)
		if err != nil {
			return 0, false
		}
		return scsi.CalcBlockShift(blockLen), true
	case scsi.ModeSense6:
		// DBD set means no block descriptor was asked for
		if len(cmd.CDB) < 2 || cmd.CDB[1]&0x08 != 0 {
			return 0, false
		}
		blockLen, ok := scsi.ModeSense6BlockLength(resp)
		if !ok {
			return 0, false
		}
		return scsi.CalcBlockShift(blockLen), true
	}
	return 0, false
}

// GenericDone forwards a revised block shift to set when the completion
// carries one. Other completions are left alone.
func GenericDone(cmd *Command, set func(cmd *Command, shift int)) {
	if shift, ok := RevisedShift(cmd); ok && set != nil {
		set(cmd, shift)
	}
}
