package js

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsh04/ai-trader-sub000/internal/strategy"
)

const thresholdModule = `
module.exports = {
  metadata: {
    name: "threshold",
    description: "long while the close trades at or above a limit"
  },
  create: function (env) {
    return {
      generate: function (input) {
        var closes = input.columns.close;
        var limit = input.params.limit || 0;
        var entries = [];
        var exits = [];
        var spread = [];
        for (var i = 0; i < closes.length; i++) {
          entries.push(closes[i] >= limit);
          exits.push(i > 0 && closes[i] < limit);
          spread.push(closes[i] - limit);
        }
        return { entries: entries, exits: exits, columns: { Spread: spread } };
      }
    };
  }
};
`

func writeModule(t *testing.T, dir, filename, source string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(source), 0o600); err != nil {
		t.Fatalf("write module: %v", err)
	}
}

func loadModule(t *testing.T, dir, name string) *Module {
	t.Helper()
	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if err := loader.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	module, err := loader.Get(name)
	if err != nil {
		t.Fatalf("Get %s: %v", name, err)
	}
	return module
}

func testFrame(t *testing.T, closes []float64) *strategy.Frame {
	t.Helper()
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	index := make([]time.Time, len(closes))
	for i := range index {
		index[i] = base.AddDate(0, 0, i)
	}
	frame := strategy.NewFrame(index)
	if err := frame.SetNumeric(strategy.ColClose, closes); err != nil {
		t.Fatalf("SetNumeric: %v", err)
	}
	return frame
}

func TestLoaderRefreshAndList(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "threshold.js", thresholdModule)

	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if err := loader.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	modules := loader.List()
	if len(modules) != 1 {
		t.Fatalf("expected 1 module, got %d", len(modules))
	}
	if modules[0].Name != "threshold" {
		t.Fatalf("expected module name threshold, got %s", modules[0].Name)
	}
	if modules[0].Hash == "" {
		t.Fatalf("expected hash to be populated")
	}
	if _, err := loader.Get("missing"); err != ErrModuleNotFound {
		t.Fatalf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestLoaderRejectsMissingMetadata(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "broken.js", `module.exports = { create: function () { return {}; } };`)

	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	if err := loader.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh to fail on missing metadata")
	}
}

func TestGeneratorProducesEventColumns(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "threshold.js", thresholdModule)
	module := loadModule(t, dir, "threshold")

	gen, err := NewGenerator(module, nil)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if gen.Name() != "threshold" {
		t.Fatalf("expected generator name threshold, got %s", gen.Name())
	}

	frame := testFrame(t, []float64{1, 5, 10, 3})
	out, err := gen.Generate(frame, map[string]any{"limit": 5})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	entries, ok := out.Bool(strategy.ColLongEntry)
	if !ok {
		t.Fatalf("expected long_entry column")
	}
	want := []bool{false, true, true, false}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("entry %d: expected %v, got %v", i, want[i], entries[i])
		}
	}

	exits, ok := out.Bool(strategy.ColLongExit)
	if !ok {
		t.Fatalf("expected long_exit column")
	}
	if !exits[3] {
		t.Fatalf("expected exit on bar 3")
	}

	spread, ok := out.Numeric(strategy.Column("spread"))
	if !ok {
		t.Fatalf("expected lowercased spread column")
	}
	if spread[2] != 5 {
		t.Fatalf("expected spread 5 on bar 2, got %v", spread[2])
	}

	atr, ok := out.Numeric(strategy.ColATR)
	if !ok {
		t.Fatalf("expected atr backfill")
	}
	if len(atr) != 4 || !math.IsNaN(atr[0]) {
		t.Fatalf("expected NaN warmup atr, got %v", atr)
	}

	if _, mutated := frame.Bool(strategy.ColLongEntry); mutated {
		t.Fatalf("input frame must stay untouched")
	}
}

func TestGeneratorHonorsVelocityGate(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "threshold.js", thresholdModule)
	module := loadModule(t, dir, "threshold")

	gen, err := NewGenerator(module, nil)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	frame := testFrame(t, []float64{10, 10, 10})
	if err := frame.SetNumeric(strategy.ColProbVelocity, []float64{-1, -1, -1}); err != nil {
		t.Fatalf("SetNumeric: %v", err)
	}
	out, err := gen.Generate(frame, map[string]any{"limit": 5})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	entries, _ := out.Bool(strategy.ColLongEntry)
	for i, fired := range entries {
		if fired {
			t.Fatalf("expected gate to suppress entry %d", i)
		}
	}
}

func TestGeneratorRejectsLengthMismatch(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "short.js", `
module.exports = {
  metadata: { name: "short" },
  create: function () {
    return { generate: function () { return { entries: [true] }; } };
  }
};
`)
	module := loadModule(t, dir, "short")

	gen, err := NewGenerator(module, nil)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if _, err := gen.Generate(testFrame(t, []float64{1, 2, 3}), nil); err == nil {
		t.Fatalf("expected length mismatch error")
	}
}

func TestGeneratorRequiresCreateExport(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "nocreate.js", `module.exports = { metadata: { name: "nocreate" } };`)
	module := loadModule(t, dir, "nocreate")

	if _, err := NewGenerator(module, nil); err == nil {
		t.Fatalf("expected error for missing create export")
	}
}

func TestRegisterAll(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "threshold.js", thresholdModule)

	loader, err := NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	registry := strategy.NewRegistry()
	if err := RegisterAll(context.Background(), loader, registry, nil); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	gen, err := registry.Lookup("threshold")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	out, err := gen.Generate(testFrame(t, []float64{1, 9}), map[string]any{"limit": 5})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	entries, _ := out.Bool(strategy.ColLongEntry)
	if entries[0] || !entries[1] {
		t.Fatalf("unexpected entries %v", entries)
	}
}
