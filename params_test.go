package devhandler

import (
	"sync"
	"testing"
)

func TestParamsDefaults(t *testing.T) {
	p := newParams(11)
	if p.BlockShift() != 11 {
		t.Errorf("Expected shift 11, got %d", p.BlockShift())
	}
	if p.BlockSize() != 2048 {
		t.Errorf("Expected block size 2048, got %d", p.BlockSize())
	}
	if p.State() != RecordDefault {
		t.Errorf("Expected default state, got %s", p.State())
	}
}

func TestParamsAdjust(t *testing.T) {
	p := newParams(11)

	if change := p.Adjust(12); change != ShiftUpdated {
		t.Errorf("Expected ShiftUpdated, got %v", change)
	}
	if p.BlockShift() != 12 || p.State() != RecordProbed {
		t.Errorf("Expected probed shift 12, got %d (%s)", p.BlockShift(), p.State())
	}

	if change := p.Adjust(0); change != ShiftReset {
		t.Errorf("Expected ShiftReset, got %v", change)
	}
	if p.BlockShift() != 11 || p.State() != RecordDefault {
		t.Errorf("Expected default shift 11, got %d (%s)", p.BlockShift(), p.State())
	}

	// Resetting twice is harmless
	p.Adjust(0)
	if p.BlockShift() != 11 {
		t.Errorf("Expected shift 11, got %d", p.BlockShift())
	}
}

func TestParamsConcurrentReaders(t *testing.T) {
	p := newParams(11)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if s := p.BlockShift(); s != 11 && s != 9 {
					t.Errorf("Unexpected shift %d", s)
					return
				}
			}
		}()
	}
	for j := 0; j < 1000; j++ {
		p.Adjust(9)
		p.Adjust(0)
	}
	wg.Wait()
}

func TestRecordStateString(t *testing.T) {
	if RecordDefault.String() != "default" || RecordProbed.String() != "probed" {
		t.Error("Unexpected record state names")
	}
	if RecordState(7).String() != "state(7)" {
		t.Errorf("Unexpected name for unknown state: %s", RecordState(7))
	}
}

func TestDeviceInfo(t *testing.T) {
	dev := NewDevice("sr0", 0x05, NewMockExecutor())
	info := dev.Info()
	if info.Attached {
		t.Error("Expected detached device")
	}
	if info.Type != "cdrom" || info.ID == "" {
		t.Errorf("Unexpected info: %+v", info)
	}

	if err := dev.attach(newParams(11), "dev_cdrom"); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	info = dev.Info()
	if !info.Attached || info.BlockSize != 2048 || info.Handler != "dev_cdrom" {
		t.Errorf("Unexpected info: %+v", info)
	}

	if err := dev.attach(newParams(11), "dev_cdrom"); !IsCode(err, ErrCodeInvalidParameters) {
		t.Errorf("Expected invalid parameters on second attach, got %v", err)
	}
	if p := dev.detach("dev_disk"); p != nil {
		t.Error("Detach by another handler returned the record")
	}
	if p := dev.detach("dev_cdrom"); p == nil {
		t.Error("Detach returned no record")
	}
}
