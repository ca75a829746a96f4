package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/chazu/aurora/compiler"
	"github.com/chazu/aurora/interp"
	"github.com/chazu/aurora/ir"
	"github.com/chazu/aurora/jit"
	"github.com/chazu/aurora/manifest"
	"github.com/chazu/aurora/native"
	"github.com/chazu/aurora/optimizer"
	"github.com/chazu/aurora/server"
	"github.com/chazu/aurora/telemetry"
	"github.com/chazu/aurora/value"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("aurora")

type options struct {
	configPath string
	verbose    bool
	dumpIR     bool
	dumpLLVM   bool
	entry      string
	calls      int
	precompile bool
	serve      bool
	addr       string
	aotDir     string
	snapshot   string
	file       string
	entryArgs  []string
	stdout     io.Writer
}

func loadConfig(path string) (*manifest.Manifest, error) {
	if path != "" {
		if strings.HasSuffix(path, ".toml") {
			path = filepath.Dir(path)
		}
		return manifest.Load(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(wd)
	if err != nil || m != nil {
		return m, err
	}
	return manifest.Default(), nil
}

func run(ctx context.Context, opts options) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	verbosity := cfg.Log.Verbosity
	if opts.verbose && verbosity < 2 {
		verbosity = 2
	}
	commonlog.Configure(verbosity, cfg.LogPath())

	file := opts.file
	if file == "" {
		file = cfg.SourcePath()
	}
	if file == "" {
		return errors.New("no source file given")
	}
	entry := opts.entry
	if entry == "" {
		entry = cfg.Source.Entry
	}

	src, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	prog, err := compiler.Parse(string(src))
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	sema := compiler.NewSemanticAnalyzer()
	sema.AnalyzeProgram(prog)
	for _, msg := range sema.Messages() {
		log.Warningf("%s: %s", file, msg)
	}
	if errs := sema.Errors(); len(errs) > 0 {
		return fmt.Errorf("%s: %s", file, strings.Join(errs, "; "))
	}

	if opts.dumpIR || opts.dumpLLVM {
		if err := dump(opts, cfg, prog); err != nil {
			return err
		}
	}

	execOpts, err := cfg.ExecutorOptions()
	if err != nil {
		return err
	}
	exec, err := native.NewExecutor(execOpts...)
	if err != nil {
		return err
	}
	defer exec.Close()
	exec.SetEnabled(cfg.Native.Enabled)

	mgr := jit.New(nil, cfg.JITOptions()...)
	snapshot := opts.snapshot
	if snapshot == "" {
		snapshot = cfg.SnapshotPath()
	}
	if snapshot != "" {
		if err := restoreSnapshot(mgr, exec, snapshot, prog.Functions()); err != nil {
			return err
		}
	}

	in, err := interp.New(prog, interp.WithOutput(opts.stdout))
	if err != nil {
		return err
	}
	tel := telemetry.NewCollector()
	var dispatchJIT *jit.Manager
	if cfg.JIT.Enabled {
		dispatchJIT = mgr
	}
	d := interp.NewDispatcher(in, dispatchJIT, exec, tel, interp.WithRetryBackoff(cfg.JIT.RetryBackoffCalls))

	if opts.precompile && dispatchJIT != nil {
		if err := d.Precompile(ctx); err != nil {
			log.Warningf("precompile: %s", err)
		}
	}

	result, err := d.Run()
	if err != nil {
		return err
	}
	if entry != "" {
		args := parseArgs(opts.entryArgs)
		for i := 0; i < opts.calls; i++ {
			if result, err = d.Call(entry, args); err != nil {
				return err
			}
		}
	}
	if !result.IsNil() {
		fmt.Fprintln(opts.stdout, result)
	}

	if opts.verbose {
		report(opts.stdout, d)
	}

	if opts.aotDir != "" {
		pkg := packageName(opts.aotDir)
		if err := mgr.WriteAOTPackage(opts.aotDir, pkg); err != nil {
			return err
		}
		log.Infof("wrote package %s to %s", pkg, opts.aotDir)
	}
	if snapshot != "" {
		if err := mgr.SaveSnapshotFile(snapshot); err != nil {
			return err
		}
		log.Infof("saved %d compiled functions to %s", mgr.Cache().Len(), snapshot)
	}

	if opts.serve {
		addr := opts.addr
		if addr == "" {
			addr = cfg.Server.Addr
		}
		return server.New(mgr, exec).ListenAndServe(ctx, addr)
	}
	return nil
}

func restoreSnapshot(mgr *jit.Manager, exec *native.Executor, path string, decls []*compiler.FunctionDecl) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	n, err := mgr.LoadSnapshotFile(path)
	if err != nil {
		return err
	}
	if stale := mgr.DropStale(decls); stale > 0 {
		log.Infof("%d functions in %s are out of date", stale, path)
	}
	restored, err := mgr.Restore(exec)
	if err != nil {
		log.Warningf("snapshot %s: %s", path, err)
	}
	log.Infof("restored %d of %d functions from %s", restored, n, path)
	return nil
}

// dump prints every function the way the JIT compiles it: lowered with
// the rest of the program as helpers, optimized, then pruned to itself.
// Functions outside the native subset are listed with the reason.
func dump(opts options, cfg *manifest.Manifest, prog *compiler.Program) error {
	opt := optimizer.New(optimizer.WithInlineLimits(cfg.Optimizer.InlineMaxInstructions, cfg.Optimizer.InlineMaxBlocks))
	all := prog.Functions()
	for _, decl := range all {
		mod, err := compiler.NewCompiler(decl.Name).CompileDecl(decl, all...)
		if err != nil {
			fmt.Fprintf(opts.stdout, "; %s: %s\n", decl.Name, err)
			continue
		}
		rep, err := opt.Optimize(mod)
		if err != nil {
			return err
		}
		mod.Functions = []*ir.Function{mod.Function(decl.Name)}
		if opts.dumpIR {
			fmt.Fprintf(opts.stdout, "; %s\n", rep)
			fmt.Fprint(opts.stdout, mod.String())
		}
		if opts.dumpLLVM {
			text, err := native.GenerateLLVM(mod)
			if err != nil {
				fmt.Fprintf(opts.stdout, "; %s: %s\n", decl.Name, err)
				continue
			}
			fmt.Fprint(opts.stdout, text)
		}
	}
	return nil
}

// parseArgs reads each argument as an int, float or bool, else a string.
func parseArgs(args []string) []value.Value {
	vals := make([]value.Value, len(args))
	for i, a := range args {
		switch {
		case a == "true" || a == "false":
			vals[i] = value.Bool(a == "true")
		default:
			if n, err := strconv.ParseInt(a, 10, 64); err == nil {
				vals[i] = value.Int(n)
			} else if f, err := strconv.ParseFloat(a, 64); err == nil {
				vals[i] = value.Float(f)
			} else {
				vals[i] = value.String(a)
			}
		}
	}
	return vals
}

// packageName derives a Go package name from a directory.
func packageName(dir string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(filepath.Base(filepath.Clean(dir))) {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if b.Len() == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "aot"
	}
	return b.String()
}

func report(w io.Writer, d *interp.Dispatcher) {
	st := d.Stats()
	fmt.Fprintf(w, "calls: %d interpreted, %d native; %d compiled, %d failed\n",
		st.Interpreted, st.Native, st.Compilations, st.CompileFailures)

	sum := d.Telemetry().Summary()
	if sum.TotalFunctions > 0 {
		fmt.Fprintf(w, "most called: %s, slowest: %s\n", sum.MostCalled, sum.Hottest)
	}

	all := d.Executor().AllStats()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ns := all[name]
		fmt.Fprintf(w, "native %s: %d runs, avg %dus, compiled in %s\n",
			name, ns.ExecutionCount, ns.AvgExecutionTimeUs, ns.CompileTime)
	}
}
