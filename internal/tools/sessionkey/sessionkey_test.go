package sessionkey

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("session-key", pflag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 32 {
		t.Fatalf("bytes = %d, want 32", cfg.Bytes)
	}
}

func TestParseConfigOverride(t *testing.T) {
	fs := pflag.NewFlagSet("session-key", pflag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"--bytes", "48"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 48 {
		t.Fatalf("bytes = %d, want 48", cfg.Bytes)
	}
}

func TestRunRejectsInvalidBytes(t *testing.T) {
	for _, n := range []int{0, -1, 8} {
		if err := Run(Config{Bytes: n}, &bytes.Buffer{}, bytes.NewReader(nil)); err == nil {
			t.Fatalf("expected error for %d bytes", n)
		}
	}
}

func TestRunWritesHex(t *testing.T) {
	buf := &bytes.Buffer{}
	reader := bytes.NewReader(bytes.Repeat([]byte{0x0a}, 16))
	if err := Run(Config{Bytes: 16}, buf, reader); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "PARLEY_SESSION_SECRET=" + strings.Repeat("0a", 16)
	if got := strings.TrimSpace(buf.String()); got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestRunNilOutput(t *testing.T) {
	if err := Run(Config{Bytes: 32}, nil, nil); err == nil {
		t.Fatal("expected error for nil output")
	}
}

func TestRunDefaultReader(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Run(Config{Bytes: 32}, buf, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := strings.TrimSpace(buf.String())
	const prefix = "PARLEY_SESSION_SECRET="
	if !strings.HasPrefix(got, prefix) {
		t.Fatalf("output = %q, want prefix %q", got, prefix)
	}
	if n := len(strings.TrimPrefix(got, prefix)); n != 64 {
		t.Fatalf("hex length = %d, want 64", n)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, fmt.Errorf("read error") }

func TestRunReaderError(t *testing.T) {
	if err := Run(Config{Bytes: 32}, &bytes.Buffer{}, errReader{}); err == nil {
		t.Fatal("expected error from reader")
	}
}
