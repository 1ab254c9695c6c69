package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_BasicLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Output: &buf})

	log.Debug("dbg", String("k", "v"))
	log.Info("info", Int("n", 42))
	log.Warn("warn", Bool("ok", true))
	log.Error("err", Error(nil))

	out := buf.String()
	// Expect all levels present (debug is the lowest configured)
	for _, s := range []string{"[DEBUG] dbg k=v", "[INFO] info n=42", "[WARN] warn ok=true", "[ERROR] err error=nil"} {
		if !strings.Contains(out, s) {
			t.Fatalf("expected output to contain %q, got: %s", s, out)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Debug("dbg")
	log.Info("info")
	log.Warn("warn")

	out := buf.String()
	if strings.Contains(out, "dbg") || strings.Contains(out, "[INFO]") {
		t.Fatalf("expected debug/info suppressed at warn level, got: %s", out)
	}
	if !strings.Contains(out, "[WARN] warn") {
		t.Fatalf("expected warn message in output, got: %s", out)
	}
}

func TestLogger_WithComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: "info", Output: &buf})
	comp := base.WithComponent("session")

	comp.Info("started")

	out := buf.String()
	if !strings.Contains(out, "[session]") {
		t.Fatalf("expected component prefix in output, got: %s", out)
	}
	if !strings.Contains(out, "[INFO] started") {
		t.Fatalf("expected info message in output, got: %s", out)
	}
}

func TestLogger_HexFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Output: &buf})

	log.Debug("frame", Uint16("opcode", 0x00B4), Byte("status", 0x00), Hex("seed", []byte{0x1B, 0x9B}))

	out := buf.String()
	for _, s := range []string{"opcode=0x00B4", "status=0x00", "seed=1b9b"} {
		if !strings.Contains(out, s) {
			t.Fatalf("expected output to contain %q, got: %s", s, out)
		}
	}
}
