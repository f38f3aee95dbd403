package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRunCerts(t *testing.T) {
	dir := t.TempDir()
	certsDir, certsAgent, certsDays, certsHosts = dir, "web-01", 30, []string{"hub.internal"}

	var out bytes.Buffer
	certsCmd.SetOut(&out)
	if err := runCerts(certsCmd, nil); err != nil {
		t.Fatalf("runCerts() error = %v", err)
	}

	for _, name := range []string{"ca.crt", "ca.key", "server.crt", "server.key", "web-01.crt", "web-01.key"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}

	ca, err := os.ReadFile(filepath.Join(dir, "ca.crt"))
	if err != nil {
		t.Fatalf("read CA: %v", err)
	}

	// A second run reuses the existing CA.
	if err := runCerts(certsCmd, nil); err != nil {
		t.Fatalf("second runCerts() error = %v", err)
	}
	again, err := os.ReadFile(filepath.Join(dir, "ca.crt"))
	if err != nil {
		t.Fatalf("read CA: %v", err)
	}
	if !bytes.Equal(ca, again) {
		t.Error("CA was regenerated on the second run")
	}
}
