package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/aurora/jit"
	"github.com/chazu/aurora/native"
	"github.com/chazu/aurora/telemetry"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "bench"

[source]
file = "src/main.au"
entry = "main"

[jit]
call-threshold = 10
time-threshold-us = 250
retry-backoff-calls = 5
snapshot = ".aurora/jit.snap"
compress-snapshot = false

[optimizer]
inline-max-instructions = 16
inline-max-blocks = 2

[native]
fallback = "stub"

[log]
verbosity = 2
file = "aurora.log"

[server]
addr = ":9000"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Project.Name != "bench" {
		t.Errorf("project name = %q, want bench", m.Project.Name)
	}
	if m.SourcePath() != filepath.Join(m.Dir, "src", "main.au") || m.Source.Entry != "main" {
		t.Errorf("source = %q %q", m.SourcePath(), m.Source.Entry)
	}
	if m.JIT.CallThreshold != 10 || m.JIT.TimeThresholdUs != 250 || m.JIT.RetryBackoffCalls != 5 {
		t.Errorf("jit = %+v", m.JIT)
	}
	if !m.JIT.Enabled {
		t.Error("jit.enabled lost its default")
	}
	if m.JIT.CompressSnapshot {
		t.Error("compress-snapshot = true, want false")
	}
	if m.SnapshotPath() != filepath.Join(m.Dir, ".aurora", "jit.snap") {
		t.Errorf("snapshot path = %q", m.SnapshotPath())
	}
	if m.Optimizer.InlineMaxInstructions != 16 || m.Optimizer.InlineMaxBlocks != 2 {
		t.Errorf("optimizer = %+v", m.Optimizer)
	}
	if m.Native.Fallback != "stub" || !m.Native.Enabled {
		t.Errorf("native = %+v", m.Native)
	}
	if p := m.LogPath(); p == nil || *p != filepath.Join(m.Dir, "aurora.log") || m.Log.Verbosity != 2 {
		t.Errorf("log = %+v", m.Log)
	}
	if m.Server.Addr != ":9000" {
		t.Errorf("server addr = %q", m.Server.Addr)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)
	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	d := Default()
	if m.JIT != d.JIT || m.Optimizer != d.Optimizer || m.Native != d.Native || m.Server != d.Server {
		t.Errorf("defaults not kept: %+v", m)
	}
	if m.JIT.CallThreshold != jit.DefaultCallThreshold {
		t.Errorf("call threshold = %d", m.JIT.CallThreshold)
	}
	if m.LogPath() != nil || m.SnapshotPath() != "" {
		t.Error("unset paths resolved")
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"unknown key": "[jit]\nthreshold = 3\n",
		"fallback":    "[native]\nfallback = \"crash\"\n",
		"threshold":   "[jit]\ncall-threshold = 0\n",
		"syntax":      "[jit\n",
		"negative":    "[optimizer]\ninline-max-blocks = -1\n",
	}
	for name, content := range cases {
		dir := t.TempDir()
		writeManifest(t, dir, content)
		if _, err := Load(dir); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[project]\nname = \"found-project\"\n")

	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no aurora.toml exists")
	}
}

func jitStats(calls uint64) telemetry.FunctionStats {
	return telemetry.FunctionStats{Name: "f", TotalCalls: calls}
}

func TestOptions(t *testing.T) {
	m := Default()
	m.JIT.CallThreshold = 7
	mgr := jit.New(nil, m.JITOptions()...)
	if mgr.ShouldCompile(jitStats(6)) || !mgr.ShouldCompile(jitStats(7)) {
		t.Error("threshold not applied")
	}

	m.Native.Fallback = "stub"
	opts, err := m.ExecutorOptions()
	if err != nil {
		t.Fatal(err)
	}
	exec, err := native.NewExecutor(opts...)
	if err != nil {
		t.Fatal(err)
	}
	defer exec.Close()
	if exec.Policy() != native.FallbackStub {
		t.Errorf("policy = %s", exec.Policy())
	}

	m.Native.Fallback = "bogus"
	if _, err := m.ExecutorOptions(); err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Errorf("err = %v", err)
	}
}
