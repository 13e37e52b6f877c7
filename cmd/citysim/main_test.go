package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSimulateThenInspect(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "city.json.zst")
	cfgPath := filepath.Join(dir, "citysim.yaml")
	if err := os.WriteFile(cfgPath, []byte("city:\n  forest:\n    threshold: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	err := app.Run(context.Background(), []string{
		"citysim", "--config", cfgPath, "--seed", "9", "--size", "10", "--log-level", "warn",
		"simulate", "-n", "300", "--starter", "-o", out,
	})
	if err != nil {
		t.Fatal(err)
	}
	simulated := buf.String()
	if !strings.Contains(simulated, "Year 1 Month 1, tick 300") {
		t.Fatalf("simulate output:\n%s", simulated)
	}

	buf.Reset()
	app = newApp()
	app.Writer = &buf
	if err := app.Run(context.Background(), []string{"citysim", "inspect", out}); err != nil {
		t.Fatal(err)
	}
	inspected := buf.String()
	// Same stats block, followed by the map.
	if !strings.HasPrefix(inspected, simulated) {
		t.Fatalf("inspect stats differ:\n%s\nvs\n%s", inspected, simulated)
	}
	if !strings.Contains(inspected, "##########") {
		t.Fatalf("map missing the starter road:\n%s", inspected)
	}
}

func TestInspectNeedsFile(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	if err := app.Run(context.Background(), []string{"citysim", "inspect"}); err == nil {
		t.Fatal("expected error without a file")
	}
}
