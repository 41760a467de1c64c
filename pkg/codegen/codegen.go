// Package codegen turns optimized LIR into RV32IM assembly. Per function it
// runs instruction selection over virtual registers, folds known constants
// into immediate forms, sweeps dead constant loads, allocates registers by a
// linear scan with spilling onto the tp stack, and finally lays out the
// activation record.
package codegen

import (
	"github.com/fmistri/minicc/pkg/lir"
	"github.com/fmistri/minicc/pkg/riscv"
)

// spillStackBytes is the size of the reserved spill region addressed
// through tp.
const spillStackBytes = 16384

// Generate compiles a whole LIR program to assembly.
func Generate(prog *lir.Program) *riscv.Program {
	out := &riscv.Program{SpillStackSize: spillStackBytes}

	for idx, fn := range prog.Functions {
		sel := newSelector(idx)
		sel.selectFunction(fn)

		code := foldImmediates(sel.code)
		code = removeDeadConstants(code)

		asmFn := &riscv.Function{Name: fn.Name, Code: code}
		res := allocate(asmFn)
		frameLayout(asmFn, sel.slots, res, fn.Name == "init")

		out.Globals = append(out.Globals, sel.globals...)
		out.Functions = append(out.Functions, asmFn)
	}
	return out
}
