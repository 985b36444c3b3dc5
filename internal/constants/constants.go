package constants

import "time"

// Default block shifts per media family. Sector size is 1 << shift bytes.
const (
	// DefaultCDROMBlockShift is the conventional optical sector size (2048 bytes)
	DefaultCDROMBlockShift = 11

	// DefaultDiskBlockShift is the conventional direct-access sector size (512 bytes)
	DefaultDiskBlockShift = 9

	// DefaultMODiskBlockShift is the conventional magneto-optical sector size (1024 bytes)
	DefaultMODiskBlockShift = 10

	// DefaultTapeBlockShift is used when a tape reports variable-block mode
	DefaultTapeBlockShift = 9

	// MinBlockShift is the smallest shift a probe is expected to report (512 bytes)
	MinBlockShift = 9
)

// Capacity probe defaults
const (
	// DefaultUARetries bounds the capacity-query attempts while unit attentions are pending
	DefaultUARetries = 3

	// DefaultProbeTimeout is the per-attempt timeout for the capacity query
	DefaultProbeTimeout = 60 * time.Second

	// DefaultProbeTransportRetries is handed to the transport for each probe attempt
	DefaultProbeTransportRetries = 3

	// DefaultPassthroughRetries is the transport retry count stamped on every parsed command
	DefaultPassthroughRetries = 0
)

// Memory allocation constants
const (
	// ResponseBufferSize is the scratch buffer size for the capacity query response
	ResponseBufferSize = 512

	// MinResponseBufferSize is the smallest buffer that holds a READ CAPACITY(10) reply
	MinResponseBufferSize = 8

	// SenseBufferSize matches the host sense buffer size (SCSI_SENSE_BUFFERSIZE)
	SenseBufferSize = 96
)
