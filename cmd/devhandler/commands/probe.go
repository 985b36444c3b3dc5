package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	devhandler "github.com/ehrlich-b/go-devhandler"
	"github.com/ehrlich-b/go-devhandler/internal/config"
	"github.com/ehrlich-b/go-devhandler/internal/logging"
	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

var (
	probePath           string
	probeName           string
	probeType           string
	probeBlockSize      uint32
	probeSize           string
	probeUnitAttentions int
	probeControlPage    bool
	probeLUN            uint8
	probeSCSILevel      int
	probeAttempts       int
	probeTimeout        time.Duration
	probeVerify         bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Attach one unit, report its block size and detach",
	Long: `Attach a single unit to the handler for its device type, print the
negotiated block size and detach again.

Without --path the unit is emulated in memory.

Examples:
  # Probe a real CD-ROM through the SCSI generic driver (needs root)
  devhandler probe --path /dev/sg1 --type cdrom

  # Emulated CD-ROM that reports two unit attentions after power on
  devhandler probe --type cdrom --size 64M --unit-attentions 2

  # Persistent unit attention exhausts the retries and falls back
  devhandler probe --type cdrom --unit-attentions -1`,
	RunE: runProbe,
}

func init() {
	f := probeCmd.Flags()
	f.StringVar(&probePath, "path", "", "SCSI generic node (e.g. /dev/sg0); emulated when empty")
	f.StringVar(&probeName, "name", "", "Device name (default: base name of --path, or emu0)")
	f.StringVarP(&probeType, "type", "t", "cdrom", "Device type (cdrom|disk|tape|modisk)")
	f.Uint32Var(&probeBlockSize, "block-size", 0, "Emulated block size (default: per device type)")
	f.StringVar(&probeSize, "size", "64M", "Emulated media size (e.g. 64M, 1G)")
	f.IntVar(&probeUnitAttentions, "unit-attentions", 0, "Unit attentions the emulated unit reports first (-1: forever)")
	f.BoolVar(&probeControlPage, "control-page", false, "Emulated unit answers MODE SENSE for the control page")
	f.Uint8Var(&probeLUN, "lun", 0, "Logical unit number")
	f.IntVar(&probeSCSILevel, "scsi-level", 0, "SCSI level; 2 or lower puts the LUN in the CDB (default: SPC-3)")
	f.IntVar(&probeAttempts, "attempts", 0, "Capacity query attempts (overrides handler.max_probe_attempts)")
	f.DurationVar(&probeTimeout, "timeout", 0, "Per-attempt timeout (overrides handler.probe_timeout)")
	f.BoolVar(&probeVerify, "verify", false, "Issue READ CAPACITY(10) through the handler after attach")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if probeAttempts > 0 {
		cfg.Handler.MaxProbeAttempts = probeAttempts
	}
	if probeTimeout > 0 {
		cfg.Handler.ProbeTimeout = probeTimeout
	}

	dc := probeDeviceConfig()
	cfg.Devices = []config.DeviceConfig{dc}
	config.ApplyDefaults(cfg)
	if e := cfg.Devices[0].Emulated; e != nil {
		size, err := parseSize(probeSize)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", probeSize, err)
		}
		e.Blocks = uint64(size)
		if e.BlockSize != 0 {
			e.Blocks /= uint64(e.BlockSize)
		}
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	dc = cfg.Devices[0]

	logger, closer, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()
	logging.SetDefault(logger)

	metrics := devhandler.NewMetrics()
	options := &devhandler.Options{
		Logger:   logger,
		Observer: devhandler.NewMetricsObserver(metrics),
	}
	registry := devhandler.NewRegistry(nil)
	if _, err := devhandler.RegisterMediaHandlers(registry, cfg.Handler, options); err != nil {
		return err
	}
	defer registry.Reset()
	target := devhandler.NewTarget(registry, options)

	dev, unit, err := openDevice(dc)
	if err != nil {
		return err
	}
	defer unit.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := target.Attach(ctx, dev); err != nil {
		return err
	}
	defer target.Detach(dev.Name)

	printDevice(os.Stdout, dev.Info())
	snap := metrics.Snapshot()
	fmt.Printf("Attempts:   %d (fallbacks %d, probe took %s)\n",
		snap.ProbeAttempts, snap.ProbeFallbacks, time.Duration(snap.AvgProbeLatencyNs))

	if probeVerify {
		return verifyCapacity(ctx, target, dev)
	}
	return nil
}

// verifyCapacity sends READ CAPACITY(10) through the target so the handler
// sees the reply on completion
func verifyCapacity(ctx context.Context, target *devhandler.Target, dev *devhandler.Device) error {
	c := &devhandler.Command{
		CDB:    scsi.ReadCapacity10CDB(dev.LUN, dev.SCSILevel),
		Buffer: make([]byte, 8),
	}
	if err := target.Execute(ctx, dev.Name, c); err != nil {
		return err
	}
	if !c.Good() {
		fmt.Printf("Verify:     status 0x%02x\n", c.Status)
		return nil
	}

	lastLBA, blockLen, err := scsi.ParseReadCapacity10(c.Transferred())
	if err != nil {
		return err
	}
	info := dev.Info()
	fmt.Printf("Verify:     %d blocks of %d bytes (%s), handler block size %d\n",
		uint64(lastLBA)+1, blockLen, formatSize(int64(uint64(lastLBA)+1)*int64(blockLen)), info.BlockSize)
	return nil
}

func probeDeviceConfig() config.DeviceConfig {
	dc := config.DeviceConfig{
		Name:      probeName,
		Type:      probeType,
		Path:      probePath,
		LUN:       probeLUN,
		SCSILevel: probeSCSILevel,
	}
	if dc.Name == "" {
		dc.Name = "emu0"
		if probePath != "" {
			dc.Name = filepath.Base(probePath)
		}
	}
	if probePath == "" {
		dc.Emulated = &config.EmulatedConfig{
			BlockSize:      probeBlockSize,
			UnitAttentions: probeUnitAttentions,
			ControlPage:    probeControlPage,
		}
	}
	return dc
}
