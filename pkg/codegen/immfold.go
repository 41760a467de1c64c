package codegen

import "github.com/fmistri/minicc/pkg/riscv"

// immForm maps register-register opcodes to their immediate forms, for
// folding a known-constant second operand.
var immForm = map[riscv.Op]riscv.Op{
	riscv.ADD:  riscv.ADDI,
	riscv.AND:  riscv.ANDI,
	riscv.OR:   riscv.ORI,
	riscv.XOR:  riscv.XORI,
	riscv.SLL:  riscv.SLLI,
	riscv.SRL:  riscv.SRLI,
	riscv.SRA:  riscv.SRAI,
	riscv.SLT:  riscv.SLTI,
	riscv.SLTU: riscv.SLTIU,
}

// commutative marks the opcodes whose operands may swap so that the constant
// lands in the immediate slot.
var commutative = map[riscv.Op]bool{
	riscv.ADD: true,
	riscv.AND: true,
	riscv.OR:  true,
	riscv.XOR: true,
}

// foldImmediates tracks virtual registers holding known constants and
// rewrites register-register instructions into their immediate forms. The
// defining constant loads stay behind; removeDeadConstants sweeps the ones
// that lost their last reader.
func foldImmediates(code []riscv.Instr) []riscv.Instr {
	known := make(map[riscv.Reg]int32)

	for i := range code {
		in := &code[i]

		// A constant feeding a shift must fit the 5-bit shift amount; any
		// other foldable op takes a 12-bit immediate.
		if form, ok := immForm[in.Op]; ok && in.Src2.Virtual() {
			if c, ok := known[in.Src2]; ok && foldable(in.Op, c) {
				in.Op = form
				in.Imm = c
				in.Src2 = riscv.None
			} else if c, ok := known[in.Src1]; ok && commutative[in.Op] && foldable(in.Op, c) && in.Src1.Virtual() {
				in.Op = form
				in.Src1 = in.Src2
				in.Imm = c
				in.Src2 = riscv.None
			}
		} else if in.Op == riscv.SUB && in.Src2.Virtual() {
			if c, ok := known[in.Src2]; ok && fitsImm12(-c) {
				in.Op = riscv.ADDI
				in.Imm = -c
				in.Src2 = riscv.None
			}
		}

		// Update the constant table from the (possibly rewritten)
		// instruction.
		if dst := in.Defs(); dst.Virtual() {
			switch {
			case in.Op == riscv.ADDI && in.Src1 == riscv.X0:
				known[dst] = in.Imm
			case in.Op == riscv.LUI:
				known[dst] = in.Imm << 12
			case in.Op == riscv.ADDI && in.Src1 == dst:
				if c, ok := known[dst]; ok {
					known[dst] = c + in.Imm
				}
			default:
				delete(known, dst)
			}
		}
	}
	return code
}

func foldable(op riscv.Op, c int32) bool {
	switch op {
	case riscv.SLL, riscv.SRL, riscv.SRA:
		return c >= 0 && c < 32
	}
	return fitsImm12(c)
}

// removeDeadConstants drops constant loads whose destination virtual is
// never read. It runs after folding, while registers are still virtual, and
// iterates because a removed load can orphan the low half of a lui+addi
// pair.
func removeDeadConstants(code []riscv.Instr) []riscv.Instr {
	for {
		used := make(map[riscv.Reg]bool)
		for _, in := range code {
			for _, r := range in.Uses() {
				// A self-referencing definition (addi v, v, lo) does not
				// keep its own register alive.
				if r.Virtual() && r != in.Defs() {
					used[r] = true
				}
			}
		}

		removed := false
		out := code[:0]
		for _, in := range code {
			dead := false
			if dst := in.Defs(); dst.Virtual() && !used[dst] {
				switch {
				case in.Op == riscv.ADDI && in.Src1 == riscv.X0,
					in.Op == riscv.LUI,
					in.Op == riscv.ADDI && in.Src1 == dst,
					in.Op == riscv.LA:
					dead = true
				}
			}
			if dead {
				removed = true
				continue
			}
			out = append(out, in)
		}
		code = out
		if !removed {
			return code
		}
	}
}
