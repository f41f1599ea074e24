package machine

import (
	"fmt"
	"io"
	"sort"

	"github.com/mna/lotus/lang/bytecode"
)

type opHits struct {
	op   bytecode.Opcode
	hits uint64
}

// WriteOpcodeReport writes the total instruction count followed by a
// per-opcode breakdown, most-executed first, matching the layout produced
// by the --count-ops flag.
func (interp *Interpreter) WriteOpcodeReport(w io.Writer) error {
	var total uint64
	hits := make([]opHits, 0, bytecode.NumOpcodes-1)
	for op := 1; op < bytecode.NumOpcodes; op++ {
		total += interp.opCounts[op]
		hits = append(hits, opHits{op: bytecode.Opcode(op), hits: interp.opCounts[op]})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].hits > hits[j].hits })

	if _, err := fmt.Fprintf(w, "-- Executed opcode count: %d\n", total); err != nil {
		return err
	}
	for _, h := range hits {
		if _, err := fmt.Fprintf(w, "%-12s%d\n", h.op, h.hits); err != nil {
			return err
		}
	}
	return nil
}
