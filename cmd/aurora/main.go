// Aurora CLI - runs a program under the adaptive compiler
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	configPath := flag.String("config", "", "Path to aurora.toml or its directory (default: search upward from the working directory)")
	verbose := flag.Bool("v", false, "Verbose output (debug logging and statistics)")
	dumpIR := flag.Bool("dump-ir", false, "Print the optimized IR of every function")
	dumpLLVM := flag.Bool("dump-llvm", false, "Print the LLVM IR of every function")
	entry := flag.String("entry", "", "Function to call after the top-level statements run")
	calls := flag.Int("calls", 1, "Number of times to call the entry function")
	precompile := flag.Bool("precompile", false, "Compile every function before running")
	serveMode := flag.Bool("serve", false, "Serve the JIT introspection service after running")
	addr := flag.String("addr", "", "Introspection service address (default from config)")
	aotDir := flag.String("aot-dir", "", "Write compiled functions as a Go package into this directory")
	snapshot := flag.String("snapshot", "", "Load compiled functions from and save them to this file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: aurora [options] [file] [entry args...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a program, compiling hot functions to native code.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  aurora prog.au                         # Run top-level statements\n")
		fmt.Fprintf(os.Stderr, "  aurora -entry fib -calls 200 prog.au 20 # Call fib(20) 200 times\n")
		fmt.Fprintf(os.Stderr, "  aurora -dump-ir -dump-llvm prog.au     # Show generated code\n")
		fmt.Fprintf(os.Stderr, "  aurora -precompile -aot-dir gen prog.au # Export Go source\n")
		fmt.Fprintf(os.Stderr, "  aurora -serve -addr :7433 prog.au      # Inspect the JIT over gRPC/Connect\n")
	}
	flag.Parse()

	opts := options{
		configPath: *configPath,
		verbose:    *verbose,
		dumpIR:     *dumpIR,
		dumpLLVM:   *dumpLLVM,
		entry:      *entry,
		calls:      *calls,
		precompile: *precompile,
		serve:      *serveMode,
		addr:       *addr,
		aotDir:     *aotDir,
		snapshot:   *snapshot,
		stdout:     os.Stdout,
	}
	if args := flag.Args(); len(args) > 0 {
		opts.file = args[0]
		opts.entryArgs = args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
