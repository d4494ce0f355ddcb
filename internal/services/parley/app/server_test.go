package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	platformgrpc "github.com/louisbranch/parley/internal/platform/grpc"
	"github.com/louisbranch/parley/internal/services/auth/session"
	"github.com/louisbranch/parley/internal/storage/sqlstore"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		HTTPAddr:   "127.0.0.1:0",
		HealthPort: 0,
		DBDriver:   "sqlite",
		DBDSN:      filepath.Join(t.TempDir(), "parley.db"),
		Session: session.Config{
			Secret: []byte(strings.Repeat("s", session.MinSecretLength)),
			TTL:    time.Hour,
			Issuer: "parley-test",
		},
		BcryptCost: 4,
	}
}

func TestNormalizeDriver(t *testing.T) {
	tests := map[string]string{
		"":           sqlstore.DriverSQLite,
		"SQLite":     sqlstore.DriverSQLite,
		"postgres":   sqlstore.DriverPostgres,
		" pgx ":      sqlstore.DriverPostgres,
		"postgresql": sqlstore.DriverPostgres,
	}
	for input, want := range tests {
		got, err := normalizeDriver(input)
		if err != nil {
			t.Fatalf("normalizeDriver(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("normalizeDriver(%q) = %q, want %q", input, got, want)
		}
	}
	if _, err := normalizeDriver("mysql"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNewRejectsWeakSessionSecret(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Secret = []byte("short")
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error for short session secret")
	}
}

func TestNewRejectsInvalidStorageDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("data"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	cfg := testConfig(t)
	cfg.DBDSN = filepath.Join(file, "parley.db")
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error for invalid storage dir")
	}
}

func TestServeAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := New(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx)
	}()

	healthAddr := fmt.Sprintf("127.0.0.1:%d", server.HealthPort())
	probeCtx, probeCancel := context.WithTimeout(ctx, 5*time.Second)
	defer probeCancel()
	for {
		err := platformgrpc.Probe(probeCtx, healthAddr, HealthService)
		if err == nil {
			break
		}
		if probeCtx.Err() != nil {
			t.Fatalf("health never reported serving: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := http.Get("http://" + server.HTTPAddr() + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
