package codegen

import "github.com/fmistri/minicc/pkg/riscv"

// liveness computes, for every instruction index, the set of virtual
// registers live immediately after it. The CFG is derived from labels and
// branches on the linear instruction list and the dataflow is iterated to a
// fixed point.
type liveness struct {
	liveOut []map[riscv.Reg]bool
}

// blockBoundaries splits code into basic blocks. A block starts at index 0,
// at every label, and after every branch.
func blockBoundaries(code []riscv.Instr) []int {
	var starts []int
	startSet := map[int]bool{0: true}
	for i, in := range code {
		switch in.Op {
		case riscv.LABEL:
			startSet[i] = true
		case riscv.BEQ, riscv.BNE, riscv.BLT, riscv.BGE, riscv.BLTU, riscv.BGEU, riscv.J, riscv.JALR:
			if i+1 < len(code) {
				startSet[i+1] = true
			}
		}
	}
	for i := range code {
		if startSet[i] {
			starts = append(starts, i)
		}
	}
	return starts
}

func computeLiveness(code []riscv.Instr) *liveness {
	n := len(code)
	result := &liveness{liveOut: make([]map[riscv.Reg]bool, n)}
	if n == 0 {
		return result
	}

	starts := blockBoundaries(code)
	blockOf := make([]int, n)
	for b, start := range starts {
		end := n
		if b+1 < len(starts) {
			end = starts[b+1]
		}
		for i := start; i < end; i++ {
			blockOf[i] = b
		}
	}
	blockEnd := func(b int) int {
		if b+1 < len(starts) {
			return starts[b+1]
		}
		return n
	}

	labelBlock := make(map[int]int)
	for i, in := range code {
		if in.Op == riscv.LABEL {
			labelBlock[in.Label] = blockOf[i]
		}
	}

	// successors of each block
	succs := make([][]int, len(starts))
	for b := range starts {
		last := blockEnd(b) - 1
		in := code[last]
		switch in.Op {
		case riscv.J:
			if t, ok := labelBlock[in.Label]; ok {
				succs[b] = append(succs[b], t)
			}
		case riscv.BEQ, riscv.BNE, riscv.BLT, riscv.BGE, riscv.BLTU, riscv.BGEU:
			if t, ok := labelBlock[in.Label]; ok {
				succs[b] = append(succs[b], t)
			}
			if b+1 < len(starts) {
				succs[b] = append(succs[b], b+1)
			}
		case riscv.JALR:
			// function return: no successors
		default:
			if b+1 < len(starts) {
				succs[b] = append(succs[b], b+1)
			}
		}
	}

	// Per-block use/def over virtual registers.
	use := make([]map[riscv.Reg]bool, len(starts))
	def := make([]map[riscv.Reg]bool, len(starts))
	for b, start := range starts {
		use[b] = make(map[riscv.Reg]bool)
		def[b] = make(map[riscv.Reg]bool)
		for i := start; i < blockEnd(b); i++ {
			for _, r := range code[i].Uses() {
				if r.Virtual() && !def[b][r] {
					use[b][r] = true
				}
			}
			if d := code[i].Defs(); d.Virtual() {
				def[b][d] = true
			}
		}
	}

	liveIn := make([]map[riscv.Reg]bool, len(starts))
	liveOutB := make([]map[riscv.Reg]bool, len(starts))
	for b := range starts {
		liveIn[b] = make(map[riscv.Reg]bool)
		liveOutB[b] = make(map[riscv.Reg]bool)
	}

	for changed := true; changed; {
		changed = false
		for b := len(starts) - 1; b >= 0; b-- {
			for _, s := range succs[b] {
				for r := range liveIn[s] {
					if !liveOutB[b][r] {
						liveOutB[b][r] = true
						changed = true
					}
				}
			}
			for r := range liveOutB[b] {
				if !def[b][r] && !liveIn[b][r] {
					liveIn[b][r] = true
					changed = true
				}
			}
			for r := range use[b] {
				if !liveIn[b][r] {
					liveIn[b][r] = true
					changed = true
				}
			}
		}
	}

	// Back-propagate within each block to get per-instruction LIVE-OUT.
	for b, start := range starts {
		live := make(map[riscv.Reg]bool, len(liveOutB[b]))
		for r := range liveOutB[b] {
			live[r] = true
		}
		for i := blockEnd(b) - 1; i >= start; i-- {
			result.liveOut[i] = copySet(live)
			if d := code[i].Defs(); d.Virtual() {
				delete(live, d)
			}
			for _, r := range code[i].Uses() {
				if r.Virtual() {
					live[r] = true
				}
			}
		}
	}
	return result
}

func copySet(s map[riscv.Reg]bool) map[riscv.Reg]bool {
	out := make(map[riscv.Reg]bool, len(s))
	for r := range s {
		out[r] = true
	}
	return out
}
