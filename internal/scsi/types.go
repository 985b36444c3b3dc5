// Package scsi holds the SCSI definitions shared by the device handlers:
// opcodes, device types, status codes, sense data and CDB helpers.
package scsi

import "fmt"

// Opcodes used by the handlers and the emulated media.
const (
	TestUnitReady     byte = 0x00
	RequestSense      byte = 0x03
	Read6             byte = 0x08
	Write6            byte = 0x0a
	Inquiry           byte = 0x12
	ModeSense6        byte = 0x1a
	StartStop         byte = 0x1b
	ReadCapacity10    byte = 0x25
	Read10            byte = 0x28
	Write10           byte = 0x2a
	Verify10          byte = 0x2f
	SynchronizeCache  byte = 0x35
	ReadToc           byte = 0x43
	ModeSense10       byte = 0x5a
	Read16            byte = 0x88
	Write16           byte = 0x8a
	Verify16          byte = 0x8f
	ServiceActionIn16 byte = 0x9e
	ReportLuns        byte = 0xa0
	Read12            byte = 0xa8
	Write12           byte = 0xaa
	Verify12          byte = 0xaf
)

// SaiReadCapacity16 is the SERVICE ACTION IN(16) action for READ CAPACITY(16)
const SaiReadCapacity16 byte = 0x10

// DeviceType is the peripheral device type reported by INQUIRY.
type DeviceType byte

const (
	TypeDisk    DeviceType = 0x00
	TypeTape    DeviceType = 0x01
	TypeROM     DeviceType = 0x05
	TypeMOD     DeviceType = 0x07
	TypeUnknown DeviceType = 0x1f
)

func (t DeviceType) String() string {
	switch t {
	case TypeDisk:
		return "disk"
	case TypeTape:
		return "tape"
	case TypeROM:
		return "cdrom"
	case TypeMOD:
		return "modisk"
	case TypeUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("type(0x%02x)", byte(t))
	}
}

// ParseDeviceType maps a configuration name to a device type.
func ParseDeviceType(name string) (DeviceType, error) {
	switch name {
	case "disk":
		return TypeDisk, nil
	case "tape":
		return TypeTape, nil
	case "cdrom", "rom":
		return TypeROM, nil
	case "modisk", "mod":
		return TypeMOD, nil
	}
	return TypeUnknown, fmt.Errorf("unknown device type %q", name)
}

// Level is the SCSI standard version reported by a device.
type Level int

const (
	LevelUnknown Level = iota
	Level1
	Level2
	Level3
	LevelSPC2
	LevelSPC3
)

// DataDirection of a command's data phase.
type DataDirection int

const (
	DataNone DataDirection = iota
	DataWrite
	DataRead
	DataBidirectional
)

func (d DataDirection) String() string {
	switch d {
	case DataNone:
		return "none"
	case DataWrite:
		return "write"
	case DataRead:
		return "read"
	case DataBidirectional:
		return "bidi"
	}
	return "invalid"
}

// SAM status codes
const (
	StatusGood                byte = 0x00
	StatusCheckCondition      byte = 0x02
	StatusBusy                byte = 0x08
	StatusReservationConflict byte = 0x18
	StatusTaskSetFull         byte = 0x28
	StatusTaskAborted         byte = 0x40
)

// OpcodeName returns a printable name for the opcodes this package knows about.
func OpcodeName(op byte) string {
	names := map[byte]string{
		TestUnitReady:     "TestUnitReady",
		RequestSense:      "RequestSense",
		Read6:             "Read6",
		Write6:            "Write6",
		Inquiry:           "Inquiry",
		ModeSense6:        "ModeSense6",
		StartStop:         "StartStop",
		ReadCapacity10:    "ReadCapacity10",
		Read10:            "Read10",
		Write10:           "Write10",
		Verify10:          "Verify10",
		SynchronizeCache:  "SynchronizeCache",
		ReadToc:           "ReadToc",
		ModeSense10:       "ModeSense10",
		Read16:            "Read16",
		Write16:           "Write16",
		Verify16:          "Verify16",
		ServiceActionIn16: "ServiceActionIn16",
		ReportLuns:        "ReportLuns",
		Read12:            "Read12",
		Write12:           "Write12",
		Verify12:          "Verify12",
	}
	if name, ok := names[op]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", op)
}
