// Package manifest handles aurora.toml runtime configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/aurora/interp"
	"github.com/chazu/aurora/jit"
	"github.com/chazu/aurora/native"
	"github.com/chazu/aurora/optimizer"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "aurora.toml"

// Manifest represents an aurora.toml configuration.
type Manifest struct {
	Project   Project         `toml:"project"`
	Source    Source          `toml:"source"`
	JIT       JITConfig       `toml:"jit"`
	Optimizer OptimizerConfig `toml:"optimizer"`
	Native    NativeConfig    `toml:"native"`
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`

	// Dir is the directory containing the aurora.toml file (set at load time).
	Dir string `toml:"-"`
}

type Project struct {
	Name string `toml:"name"`
}

// Source names the program to run.
type Source struct {
	File  string `toml:"file"`
	Entry string `toml:"entry"`
}

// JITConfig controls hot-path promotion.
type JITConfig struct {
	Enabled           bool   `toml:"enabled"`
	CallThreshold     uint64 `toml:"call-threshold"`
	TimeThresholdUs   uint64 `toml:"time-threshold-us"`
	RetryBackoffCalls uint64 `toml:"retry-backoff-calls"`
	// Snapshot is loaded at startup and saved at exit when set.
	Snapshot         string `toml:"snapshot"`
	CompressSnapshot bool   `toml:"compress-snapshot"`
}

type OptimizerConfig struct {
	InlineMaxInstructions int `toml:"inline-max-instructions"`
	InlineMaxBlocks       int `toml:"inline-max-blocks"`
}

type NativeConfig struct {
	Enabled bool `toml:"enabled"`
	// Fallback is "interpret" or "stub".
	Fallback string `toml:"fallback"`
}

type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the configuration used when no aurora.toml exists.
func Default() *Manifest {
	return &Manifest{
		JIT: JITConfig{
			Enabled:           true,
			CallThreshold:     jit.DefaultCallThreshold,
			TimeThresholdUs:   jit.DefaultTimeThresholdUs,
			RetryBackoffCalls: interp.DefaultRetryBackoffCalls,
			CompressSnapshot:  true,
		},
		Optimizer: OptimizerConfig{
			InlineMaxInstructions: optimizer.DefaultInlineMaxInstructions,
			InlineMaxBlocks:       optimizer.DefaultInlineMaxBlocks,
		},
		Native: NativeConfig{Enabled: true, Fallback: "interpret"},
		Server: ServerConfig{Addr: "localhost:7433"},
	}
}

// Load parses the aurora.toml file in dir over the defaults.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find an aurora.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks value ranges and enumerations.
func (m *Manifest) Validate() error {
	var errs []error
	if m.JIT.CallThreshold == 0 {
		errs = append(errs, errors.New("jit.call-threshold must be positive"))
	}
	if m.Optimizer.InlineMaxInstructions < 0 || m.Optimizer.InlineMaxBlocks < 0 {
		errs = append(errs, errors.New("optimizer inline limits must not be negative"))
	}
	if _, err := native.ParseFallbackPolicy(m.Native.Fallback); err != nil {
		errs = append(errs, fmt.Errorf("native.fallback: %w", err))
	}
	if m.Log.Verbosity < -4 {
		errs = append(errs, errors.New("log.verbosity must be -4 or more"))
	}
	return errors.Join(errs...)
}

// resolve makes p absolute relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}

func (m *Manifest) SourcePath() string { return m.resolve(m.Source.File) }

func (m *Manifest) SnapshotPath() string { return m.resolve(m.JIT.Snapshot) }

// LogPath returns nil when logging goes to stderr.
func (m *Manifest) LogPath() *string {
	if m.Log.File == "" {
		return nil
	}
	p := m.resolve(m.Log.File)
	return &p
}

// JITOptions translates the configuration into jit manager options.
func (m *Manifest) JITOptions() []jit.Option {
	return []jit.Option{
		jit.WithThresholds(m.JIT.CallThreshold, m.JIT.TimeThresholdUs),
		jit.WithOptimizerOptions(optimizer.WithInlineLimits(m.Optimizer.InlineMaxInstructions, m.Optimizer.InlineMaxBlocks)),
		jit.WithSnapshotCompression(m.JIT.CompressSnapshot),
	}
}

// ExecutorOptions translates the configuration into native executor options.
func (m *Manifest) ExecutorOptions() ([]native.ExecutorOption, error) {
	policy, err := native.ParseFallbackPolicy(m.Native.Fallback)
	if err != nil {
		return nil, err
	}
	return []native.ExecutorOption{native.WithFallbackPolicy(policy)}, nil
}
