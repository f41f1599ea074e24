package maincmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mna/mainer"

	"github.com/mna/lotus/lang/image"
	"github.com/mna/lotus/lang/loader"
	"github.com/mna/lotus/lang/machine"
)

// defaultModuleExt is appended to a bare module name with no extension of
// its own, so "count" resolves to "count.lbc".
const defaultModuleExt = ".lbc"

func resolveModulePath(path string) string {
	if filepath.Ext(path) == "" {
		return path + defaultModuleExt
	}
	return path
}

// Run loads and executes each module named in args, in order, stopping at
// the first error.
func (c *Cmd) Run(_ context.Context, stdio mainer.Stdio, args []string) error {
	total := time.Duration(0)
	for _, path := range args {
		elapsed, err := c.runOne(stdio, resolveModulePath(path))
		total += elapsed
		if err != nil {
			return err
		}
	}
	if c.Timing && len(args) > 1 {
		fmt.Fprintf(stdio.Stdout, "-- Total elapsed: %s\n", total)
	}
	return nil
}

func (c *Cmd) runOne(stdio mainer.Stdio, path string) (time.Duration, error) {
	loadStart := time.Now()
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return 0, err
	}
	defer f.Close()

	prog, err := loader.Load(f)
	loadElapsed := time.Since(loadStart)
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return loadElapsed, err
	}

	if c.Stats {
		writeModuleStats(stdio.Stdout, path, prog)
		return loadElapsed, nil
	}

	interp := &machine.Interpreter{
		Program:  prog,
		Stdout:   stdio.Stdout,
		Stderr:   stdio.Stderr,
		Trace:    c.Trace,
		MaxSteps: uint64(c.MaxSteps),
	}

	execStart := time.Now()
	runErr := interp.Execute()
	execElapsed := time.Since(execStart)

	if c.CountOps {
		if err := interp.WriteOpcodeReport(stdio.Stdout); err != nil {
			fmt.Fprintln(stdio.Stderr, err)
			return loadElapsed + execElapsed, err
		}
	}
	if c.Timing {
		fmt.Fprintf(stdio.Stdout, "-- %s: load %s, execute %s\n", path, loadElapsed, execElapsed)
	}

	if runErr != nil {
		fmt.Fprintln(stdio.Stderr, runErr)
	}
	return loadElapsed + execElapsed, runErr
}

// writeModuleStats prints the module-info summary requested by --stats,
// in place of executing the module: constant and function counts, the main
// function index, and the total bytecode size across all functions.
func writeModuleStats(w io.Writer, path string, prog *image.Program) {
	var codeSize int
	for _, fn := range prog.Functions {
		codeSize += len(fn.Code)
	}
	fmt.Fprintf(w, "-- %s\n", path)
	fmt.Fprintf(w, "   Constants: %d\n", len(prog.Constants))
	fmt.Fprintf(w, "   Functions: %d\n", len(prog.Functions))
	fmt.Fprintf(w, "   Main function index: %d\n", prog.MainIndex)
	fmt.Fprintf(w, "   Total code size: %d\n", codeSize)
}
