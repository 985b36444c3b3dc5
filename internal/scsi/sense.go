package scsi

import "fmt"

// Sense keys
const (
	SenseNoSense        byte = 0x00
	SenseRecoveredError byte = 0x01
	SenseNotReady       byte = 0x02
	SenseMediumError    byte = 0x03
	SenseHardwareError  byte = 0x04
	SenseIllegalRequest byte = 0x05
	SenseUnitAttention  byte = 0x06
	SenseDataProtect    byte = 0x07
	SenseBlankCheck     byte = 0x08
	SenseAbortedCommand byte = 0x0b
)

// ASC is an additional sense code with its qualifier in the low byte.
type ASC uint16

const (
	AscNoAdditionalSense    ASC = 0x0000
	AscBecomingReady        ASC = 0x0401
	AscReadError            ASC = 0x1100
	AscInvalidOpCode        ASC = 0x2000
	AscLbaOutOfRange        ASC = 0x2100
	AscInvalidFieldInCdb    ASC = 0x2400
	AscLunNotSupported      ASC = 0x2500
	AscPowerOnReset         ASC = 0x2900
	AscParametersChanged    ASC = 0x2a00
	AscCapacityDataChanged  ASC = 0x2a09
	AscMediumMayHaveChanged ASC = 0x2800
	AscMediumNotPresent     ASC = 0x3a00
	AscInternalTargetFail   ASC = 0x4400
)

// Code returns the additional sense code byte.
func (a ASC) Code() byte { return byte(a >> 8) }

// Qualifier returns the additional sense code qualifier byte.
func (a ASC) Qualifier() byte { return byte(a) }

// Response codes
const (
	senseFixedCurrent      byte = 0x70
	senseFixedDeferred     byte = 0x71
	senseDescriptorCurrent byte = 0x72
	senseDescriptorDefer   byte = 0x73
)

// Sense is the decoded part of a sense buffer the handlers care about.
type Sense struct {
	Key        byte
	ASC        byte
	ASCQ       byte
	Deferred   bool
	Descriptor bool
}

// ParseSense decodes fixed or descriptor format sense data. It reports false
// when the buffer does not carry a recognizable response code.
func ParseSense(buf []byte) (Sense, bool) {
	if len(buf) < 1 {
		return Sense{}, false
	}

	var s Sense
	switch buf[0] & 0x7f {
	case senseFixedCurrent, senseFixedDeferred:
		if len(buf) < 3 {
			return Sense{}, false
		}
		s.Deferred = buf[0]&0x7f == senseFixedDeferred
		s.Key = buf[2] & 0x0f
		if len(buf) >= 14 {
			s.ASC = buf[12]
			s.ASCQ = buf[13]
		}
	case senseDescriptorCurrent, senseDescriptorDefer:
		if len(buf) < 4 {
			return Sense{}, false
		}
		s.Descriptor = true
		s.Deferred = buf[0]&0x7f == senseDescriptorDefer
		s.Key = buf[1] & 0x0f
		s.ASC = buf[2]
		s.ASCQ = buf[3]
	default:
		return Sense{}, false
	}
	return s, true
}

// MatchMask selects which fields of a Match are compared.
type MatchMask uint8

const (
	MatchKey MatchMask = 1 << iota
	MatchASC
	MatchASCQ
)

// Match describes a sense condition.
type Match struct {
	Mask MatchMask
	Key  byte
	ASC  byte
	ASCQ byte
}

// UnitAttention matches any unit attention regardless of ASC/ASCQ.
var UnitAttention = Match{Mask: MatchKey, Key: SenseUnitAttention}

// IllegalRequest matches any illegal request regardless of ASC/ASCQ.
var IllegalRequest = Match{Mask: MatchKey, Key: SenseIllegalRequest}

// Analyze reports whether buf holds valid sense data that satisfies m.
func Analyze(buf []byte, m Match) bool {
	s, ok := ParseSense(buf)
	if !ok {
		return false
	}
	if m.Mask&MatchKey != 0 && s.Key != m.Key {
		return false
	}
	if m.Mask&MatchASC != 0 && s.ASC != m.ASC {
		return false
	}
	if m.Mask&MatchASCQ != 0 && s.ASCQ != m.ASCQ {
		return false
	}
	return true
}

// IsUnitAttention reports whether buf carries a unit attention condition.
func IsUnitAttention(buf []byte) bool {
	return Analyze(buf, UnitAttention)
}

// Classifier is the default sense classifier.
type Classifier struct{}

// Match implements the sense classifier contract.
func (Classifier) Match(sense []byte, want Match) bool {
	return Analyze(sense, want)
}

// BuildSense returns 18 bytes of current, fixed format sense data.
func BuildSense(key byte, asc ASC) []byte {
	buf := make([]byte, 18)
	buf[0] = senseFixedCurrent
	buf[2] = key & 0x0f
	// additional sense length
	buf[7] = 10
	buf[12] = asc.Code()
	buf[13] = asc.Qualifier()
	return buf
}

// StatusError describes a command that completed with a non-GOOD status.
type StatusError struct {
	Status   byte
	Sense    Sense
	HasSense bool
}

// NewStatusError decodes sense into a StatusError.
func NewStatusError(status byte, sense []byte) *StatusError {
	s, ok := ParseSense(sense)
	return &StatusError{Status: status, Sense: s, HasSense: ok}
}

func (e *StatusError) Error() string {
	if !e.HasSense {
		return fmt.Sprintf("scsi status 0x%02x", e.Status)
	}
	return fmt.Sprintf("scsi status 0x%02x, sense key 0x%x asc 0x%02x ascq 0x%02x",
		e.Status, e.Sense.Key, e.Sense.ASC, e.Sense.ASCQ)
}
