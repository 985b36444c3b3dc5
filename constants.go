package devhandler

import "github.com/ehrlich-b/go-devhandler/internal/constants"

// Re-export constants for public API
const (
	DefaultCDROMBlockShift       = constants.DefaultCDROMBlockShift
	DefaultDiskBlockShift        = constants.DefaultDiskBlockShift
	DefaultMODiskBlockShift      = constants.DefaultMODiskBlockShift
	DefaultTapeBlockShift        = constants.DefaultTapeBlockShift
	DefaultUARetries             = constants.DefaultUARetries
	DefaultProbeTimeout          = constants.DefaultProbeTimeout
	DefaultProbeTransportRetries = constants.DefaultProbeTransportRetries
	DefaultPassthroughRetries    = constants.DefaultPassthroughRetries
	ResponseBufferSize           = constants.ResponseBufferSize
	SenseBufferSize              = constants.SenseBufferSize
)
