package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/dit/internal/dit"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(context.Background(), append([]string{"dit", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestRunReportsEveryBlock(t *testing.T) {
	out, err := runApp(t, "run", "--n-embd", "32", "--head-size", "8", "--blocks", "2",
		"--tokens", "4", "--ctx-tokens", "3", "--json")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var report runReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if report.RunID == "" || len(report.Blocks) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	for _, b := range report.Blocks {
		if shapeString(b.Shape) != "2x4x32" {
			t.Fatalf("block output shape %v", b.Shape)
		}
	}
	if shapeString(report.Prompt.Shape) != "2x3x32" {
		t.Fatalf("prompt output shape %v", report.Prompt.Shape)
	}
}

func TestRunTableWithMoEAndHalfWeights(t *testing.T) {
	out, err := runApp(t, "run", "--moe", "--experts", "4", "--weight-dtype", "bf16", "--tokens", "8")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"input", "block.0", "block.3", "prompt"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in table:\n%s", want, out)
		}
	}
}

func TestRunRejectsBadDType(t *testing.T) {
	if _, err := runApp(t, "run", "--weight-dtype", "int4"); err == nil {
		t.Fatal("expected dtype error")
	}
}

func TestRunRejectsIndivisibleHeads(t *testing.T) {
	_, err := runApp(t, "run", "--n-embd", "100", "--head-size", "7")
	if !errors.Is(err, dit.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRouteTable(t *testing.T) {
	out, err := runApp(t, "route", "--experts", "4", "--capacity", "1", "--tokens", "8")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !strings.Contains(out, "capacity 2 of 8 tokens") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestRouteJSON(t *testing.T) {
	out, err := runApp(t, "route", "--experts", "2", "--capacity", "1", "--tokens", "6", "--batch", "2", "--json")
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	var stats dit.RoutingStats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Capacity != 3 || stats.Tokens != 12 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestInspectFilter(t *testing.T) {
	out, err := runApp(t, "inspect", "--blocks", "3", "--filter", "mlp.fc3", "--json")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var report inspectReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(report.Params) != 6 { // weight and bias for each of 3 blocks
		t.Fatalf("got %d params: %+v", len(report.Params), report.Params)
	}
	for _, p := range report.Params {
		if !strings.Contains(p.Name, "mlp.fc3") {
			t.Fatalf("filter leaked %q", p.Name)
		}
	}
	if len(report.WeightInitStd) != 3 || report.WeightInitStd[2] != dit.WeightInitStd(true, 2, 3) {
		t.Fatalf("unexpected init stds %v", report.WeightInitStd)
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := runApp(t, "version", "--json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, `"version"`) || !strings.Contains(out, `"go_version"`) {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestResolveBlockConfigLayers(t *testing.T) {
	var fileCfg Config
	if err := yaml.Unmarshal([]byte("block:\n  num_blocks: 6\n  use_moe: true\nseed: 9\n"), &fileCfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if fileCfg.Seed == nil || *fileCfg.Seed != 9 {
		t.Fatalf("seed not parsed: %+v", fileCfg)
	}

	path := filepath.Join(t.TempDir(), "block.yaml")
	if err := os.WriteFile(path, []byte("n_embd: 48\nhead_size: 12\npooled_caption_n_embd: 48\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	bf := blockFlags{numBlocks: 3}
	isSet := func(name string) bool { return name == "blocks" }
	cfg, err := resolveBlockConfig(fileCfg, path, &bf, isSet)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.NEmbd != 48 || cfg.HeadSize != 12 {
		t.Fatalf("block file not applied: %+v", cfg)
	}
	if !cfg.UseMoE {
		t.Fatal("config file block section not applied")
	}
	if cfg.NumBlocks != 3 {
		t.Fatalf("flag should win over config file, got %d blocks", cfg.NumBlocks)
	}
	if cfg.MLPHiddenMult != dit.DefaultBlockConfig().MLPHiddenMult {
		t.Fatal("unset fields should keep defaults")
	}
}

func TestResolveBlockConfigMissingFile(t *testing.T) {
	_, err := resolveBlockConfig(Config{}, filepath.Join(t.TempDir(), "nope.yaml"), &blockFlags{}, func(string) bool { return false })
	if err == nil {
		t.Fatal("expected error for missing block config")
	}
}
