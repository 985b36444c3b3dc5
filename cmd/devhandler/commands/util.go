package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	devhandler "github.com/ehrlich-b/go-devhandler"
	"github.com/ehrlich-b/go-devhandler/backend"
	"github.com/ehrlich-b/go-devhandler/internal/config"
)

// openDevice opens the unit described by dc and wraps it in a device handle.
// The returned closer releases the unit after the device is detached.
func openDevice(dc config.DeviceConfig) (*devhandler.Device, io.Closer, error) {
	typ, err := dc.DeviceType()
	if err != nil {
		return nil, nil, err
	}

	var (
		exec devhandler.Executor
		unit io.Closer
	)
	switch {
	case dc.Path != "":
		sg, err := backend.OpenSG(dc.Path)
		if err != nil {
			return nil, nil, err
		}
		exec, unit = sg, sg
	case dc.Emulated != nil:
		geo := backend.Geometry{
			Type:      typ,
			BlockSize: dc.Emulated.BlockSize,
			Blocks:    dc.Emulated.Blocks,
		}
		if dc.Emulated.ControlPage {
			geo.ControlPage = backend.DefaultControlPage()
		}
		mem, err := backend.NewMemory(geo)
		if err != nil {
			return nil, nil, err
		}
		if dc.Emulated.UnitAttentions != 0 {
			mem.InjectUnitAttention(dc.Emulated.UnitAttentions)
		}
		exec, unit = mem, mem
	default:
		return nil, nil, fmt.Errorf("device %s: no path or emulated geometry", dc.Name)
	}

	dev := devhandler.NewDevice(dc.Name, typ, exec)
	dev.LUN = dc.LUN
	dev.SCSILevel = dc.Level()
	return dev, unit, nil
}

// printDevice writes a one-device summary
func printDevice(w io.Writer, info devhandler.DeviceInfo) {
	fmt.Fprintf(w, "Device:     %s (%s, LUN %d)\n", info.Name, info.Type, info.LUN)
	fmt.Fprintf(w, "ID:         %s\n", info.ID)
	if !info.Attached {
		fmt.Fprintf(w, "Attached:   no\n")
		return
	}
	fmt.Fprintf(w, "Handler:    %s\n", info.Handler)
	fmt.Fprintf(w, "Block size: %d (shift %d)\n", info.BlockSize, info.BlockShift)
	fmt.Fprintf(w, "State:      %s\n", info.State)
}

// parseSize parses a size string like "64M", "1G", "512K"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	numStr := s
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	if num < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
