package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/lotus/lang/dasm"
	"github.com/mna/lotus/lang/loader"
)

// Dasm loads and disassembles each module named in args, in order, stopping
// at the first error.
func (c *Cmd) Dasm(_ context.Context, stdio mainer.Stdio, args []string) error {
	for _, path := range args {
		if err := c.dasmOne(stdio, resolveModulePath(path)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cmd) dasmOne(stdio mainer.Stdio, path string) error {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}
	defer f.Close()

	prog, err := loader.Load(f)
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}

	out, err := dasm.Dasm(prog)
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}
	_, err = stdio.Stdout.Write(out)
	return err
}
