package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"go.sia.tech/minty/config"
	"go.uber.org/zap/zaptest"
	"lukechampine.com/frand"
)

func TestParseMeta(t *testing.T) {
	meta, err := parseMeta([]string{"artist=someone", "edition=1=of=10"})
	if err != nil {
		t.Fatal(err)
	} else if meta["artist"] != "someone" {
		t.Fatalf("unexpected artist %q", meta["artist"])
	} else if meta["edition"] != "1=of=10" {
		t.Fatalf("unexpected edition %q", meta["edition"])
	}

	if meta, err := parseMeta(nil); err != nil || meta != nil {
		t.Fatalf("expected nil metadata, got %v %v", meta, err)
	}
	if _, err := parseMeta([]string{"novalue"}); err == nil {
		t.Fatal("expected error for missing value")
	} else if _, err := parseMeta([]string{"=value"}); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	env := "MINTY_PINNING_ENDPOINT=https://pins.example.com\nMINTY_PINNING_ACCESSTOKEN=env:PINATA_JWT\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0600); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override existing variables
	for _, k := range []string{"MINTY_PINNING_NAME", "MINTY_PINNING_ENDPOINT", "MINTY_PINNING_ACCESSTOKEN"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg = config.Config{
		Pinning: []config.PinningService{
			{Name: "pinata", Endpoint: "https://api.pinata.cloud/psa", AccessToken: "abc"},
		},
	}
	if err := loadEnv(dir); err != nil {
		t.Fatal(err)
	} else if len(cfg.Pinning) != 2 {
		t.Fatalf("expected 2 services, got %d", len(cfg.Pinning))
	} else if svc := cfg.Pinning[0]; svc.Name != "default" || svc.Endpoint != "https://pins.example.com" || svc.AccessToken != "env:PINATA_JWT" {
		t.Fatalf("unexpected service %+v", svc)
	}

	// a matching name overrides the configured service
	t.Setenv("MINTY_PINNING_NAME", "pinata")
	t.Setenv("MINTY_PINNING_ENDPOINT", "")
	t.Setenv("MINTY_PINNING_ACCESSTOKEN", "xyz")
	cfg = config.Config{
		Pinning: []config.PinningService{
			{Name: "pinata", Endpoint: "https://api.pinata.cloud/psa", AccessToken: "abc"},
		},
	}
	if err := loadEnv(t.TempDir()); err != nil {
		t.Fatal(err)
	} else if len(cfg.Pinning) != 1 {
		t.Fatalf("expected 1 service, got %d", len(cfg.Pinning))
	} else if svc := cfg.Pinning[0]; svc.Endpoint != "https://api.pinata.cloud/psa" || svc.AccessToken != "xyz" {
		t.Fatalf("unexpected service %+v", svc)
	}
}

func TestNewPinners(t *testing.T) {
	c := config.Config{
		DefaultService: "beta",
		Pinning: []config.PinningService{
			{Name: "alpha", Endpoint: "https://alpha.example.com", AccessToken: "a"},
			{Name: "beta", Endpoint: "https://beta.example.com", AccessToken: "b"},
		},
	}
	pinners, err := newPinners(c, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if names := pinners.Names(); len(names) != 2 || names[0] != "beta" {
		t.Fatalf("expected beta to be the default, got %v", names)
	}
	if coordinator, err := pinners.Get(""); err != nil {
		t.Fatal(err)
	} else if coordinator.Service() != "beta" {
		t.Fatalf("expected beta, got %q", coordinator.Service())
	}
	// config slice is not reordered
	if c.Pinning[0].Name != "alpha" {
		t.Fatal("config was modified")
	}

	c.DefaultService = "gamma"
	if _, err := newPinners(c, nil, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected error for unknown default service")
	}

	c.DefaultService = ""
	c.Pinning = append(c.Pinning, config.PinningService{Name: "alpha", Endpoint: "https://alpha.example.com", AccessToken: "a"})
	if _, err := newPinners(c, nil, zaptest.NewLogger(t)); err == nil {
		t.Fatal("expected error for duplicate service")
	}
}

func TestWriteOutput(t *testing.T) {
	data := frand.Bytes(1024)
	path := filepath.Join(t.TempDir(), "out.bin")

	n, err := writeOutput(path, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	} else if n != int64(len(data)) {
		t.Fatalf("expected %d bytes, got %d", len(data), n)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	} else if !bytes.Equal(buf, data) {
		t.Fatal("output does not match")
	}

	if _, err := writeOutput(filepath.Join(t.TempDir(), "missing", "out.bin"), bytes.NewReader(data)); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
