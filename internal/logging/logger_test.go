package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer, level LogLevel, format string) *Logger {
	return NewLogger(&Config{
		Level:   level,
		Format:  format,
		Output:  buf,
		Sync:    true,
		NoColor: true,
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{
			name:   "default config",
			config: nil,
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
				Sync:   true,
			},
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
				Sync:   true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithDevice(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug, "text")

	deviceLogger := logger.WithDevice("cdrom0")
	deviceLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "device=cdrom0") {
		t.Errorf("Expected device=cdrom0 in output, got: %s", output)
	}

	buf.Reset()
	handlerLogger := deviceLogger.WithHandler("dev_cdrom")
	handlerLogger.Info("handler message")

	output = buf.String()
	if !strings.Contains(output, "device=cdrom0") {
		t.Errorf("Expected device=cdrom0 in handler logger output, got: %s", output)
	}
	if !strings.Contains(output, "handler=dev_cdrom") {
		t.Errorf("Expected handler=dev_cdrom in output, got: %s", output)
	}
}

func TestLoggerWithCommand(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug, "text")

	logger.WithCommand(0x25, "ReadCapacity10").Debug("parsing command")

	output := buf.String()
	if !strings.Contains(output, "opcode=37") {
		t.Errorf("Expected opcode=37 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=ReadCapacity10") {
		t.Errorf("Expected op=ReadCapacity10 in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug, "text")

	testErr := errors.New("test error")
	logger.WithError(testErr).Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "test error") {
		t.Errorf("Expected 'test error' in output, got: %s", output)
	}
}

func TestLoggerKeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelDebug, "json")

	logger.Warn("capacity query failed", "attempts", 3, "block_shift", 11, "dangling")

	output := buf.String()
	for _, want := range []string{`"attempts":3`, `"block_shift":11`, `"level":"warn"`} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %s in output, got: %s", want, output)
		}
	}
	if strings.Contains(output, "dangling") {
		t.Errorf("Odd trailing key should be dropped, got: %s", output)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf, LevelWarn, "text")

	logger.Debug("debug message")
	logger.Info("info message")
	if buf.Len() != 0 {
		t.Errorf("Expected no output below warn level, got: %s", buf.String())
	}

	logger.Warnf("warn %d", 1)
	if !strings.Contains(buf.String(), "warn 1") {
		t.Errorf("Expected warn output, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"Warn", LevelWarn, false},
		{"ERROR", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	original := Default()
	defer SetDefault(original)

	SetDefault(newTestLogger(&buf, LevelInfo, "text"))
	Info("global message", "key", "value")

	if !strings.Contains(buf.String(), "global message") {
		t.Errorf("Expected global message in output, got: %s", buf.String())
	}
}

func TestAsyncWriterClose(t *testing.T) {
	var buf bytes.Buffer
	aw := newAsyncWriter(&buf, 4)

	if _, err := aw.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	aw.Close()

	if buf.String() != "hello" {
		t.Errorf("Expected flushed output after Close, got %q", buf.String())
	}
	if _, err := aw.Write([]byte("late")); err == nil {
		t.Error("Expected error writing after Close")
	}
}
