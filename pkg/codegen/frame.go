package codegen

import (
	"sort"

	"github.com/fmistri/minicc/pkg/riscv"
)

// frameLayout computes the activation record and materializes the prologue,
// the epilogues and the frame-slot addresses. Layout, descending from the
// frame pointer (which holds the caller's stack pointer):
//
//	fp-4            ra
//	fp-8            caller's s0
//	fp-8-4k         saved callee-saved registers
//	below           scalar locals, grouped by size (4, then 2, then 1)
//
// The stack pointer drops by the 16-byte-aligned frame size; runtime-sized
// arrays push it further down at their allocation sites, which is why every
// frame access is fp-relative and the epilogue restores sp from fp.
func frameLayout(fn *riscv.Function, slots map[int]slotInfo, res allocResult, isInit bool) {
	savedBytes := 4 * len(res.usedCalleeSaved)

	// Assign slot offsets, largest stride first so that everything stays
	// naturally aligned.
	offsets := make(map[int]int32)
	running := 8 + savedBytes
	for _, size := range []int{4, 2, 1} {
		for _, slot := range slotsBySize(slots, size) {
			running += size
			offsets[slot] = int32(running)
		}
	}
	frame := int32(alignUp(running, 16))

	var prologue []riscv.Instr
	emit := func(i riscv.Instr) { prologue = append(prologue, i) }

	if fitsImm12(frame) {
		emit(riscv.Instr{Op: riscv.ADDI, Dest: riscv.SP, Src1: riscv.SP, Imm: -frame})
		emit(riscv.Instr{Op: riscv.SW, Src1: riscv.SP, Src2: riscv.RA, Imm: frame - 4})
		emit(riscv.Instr{Op: riscv.SW, Src1: riscv.SP, Src2: riscv.FP, Imm: frame - 8})
		emit(riscv.Instr{Op: riscv.ADDI, Dest: riscv.FP, Src1: riscv.SP, Imm: frame})
	} else {
		// Large frame: stage the future frame pointer in s10.
		loadConstInto(&prologue, riscv.S10, frame)
		emit(riscv.Instr{Op: riscv.SUB, Dest: riscv.SP, Src1: riscv.SP, Src2: riscv.S10})
		emit(riscv.Instr{Op: riscv.ADD, Dest: riscv.S10, Src1: riscv.SP, Src2: riscv.S10})
		emit(riscv.Instr{Op: riscv.SW, Src1: riscv.S10, Src2: riscv.RA, Imm: -4})
		emit(riscv.Instr{Op: riscv.SW, Src1: riscv.S10, Src2: riscv.FP, Imm: -8})
		emit(riscv.Instr{Op: riscv.ADDI, Dest: riscv.FP, Src1: riscv.S10, Imm: 0})
	}
	for k, reg := range res.usedCalleeSaved {
		emit(riscv.Instr{Op: riscv.SW, Src1: riscv.FP, Src2: reg, Imm: int32(-(12 + 4*k))})
	}
	if isInit {
		// The program entry owns the spill stack; point tp at its top.
		emit(riscv.Instr{Op: riscv.LA, Dest: riscv.TP, Symbol: riscv.SpillStackSymbol + "_top"})
	}
	if res.spillBytes > 0 {
		emit(riscv.Instr{Op: riscv.ADDI, Dest: riscv.TP, Src1: riscv.TP, Imm: int32(-res.spillBytes)})
	}

	var epilogue []riscv.Instr
	for k, reg := range res.usedCalleeSaved {
		epilogue = append(epilogue, riscv.Instr{Op: riscv.LW, Dest: reg, Src1: riscv.FP, Imm: int32(-(12 + 4*k))})
	}
	if res.spillBytes > 0 {
		epilogue = append(epilogue, riscv.Instr{Op: riscv.ADDI, Dest: riscv.TP, Src1: riscv.TP, Imm: int32(res.spillBytes)})
	}
	epilogue = append(epilogue,
		riscv.Instr{Op: riscv.LW, Dest: riscv.RA, Src1: riscv.FP, Imm: -4},
		riscv.Instr{Op: riscv.ADDI, Dest: riscv.SP, Src1: riscv.FP, Imm: 0},
		riscv.Instr{Op: riscv.LW, Dest: riscv.FP, Src1: riscv.SP, Imm: -8},
	)

	var out []riscv.Instr
	out = append(out, prologue...)
	for _, in := range fn.Code {
		switch in.Op {
		case riscv.FRAMEADDR:
			off := offsets[in.Slot]
			if fitsImm12(-off) {
				out = append(out, riscv.Instr{Op: riscv.ADDI, Dest: in.Dest, Src1: riscv.FP, Imm: -off, FnID: in.FnID})
			} else {
				loadConstInto(&out, in.Dest, -off)
				out = append(out, riscv.Instr{Op: riscv.ADD, Dest: in.Dest, Src1: riscv.FP, Src2: in.Dest, FnID: in.FnID})
			}
		case riscv.EPILOGUE:
			out = append(out, epilogue...)
		default:
			out = append(out, in)
		}
	}
	fn.Code = out
}

// slotsBySize returns the slot keys of one size, in allocation order.
func slotsBySize(slots map[int]slotInfo, size int) []int {
	var out []int
	for slot, info := range slots {
		if info.size == size {
			out = append(out, slot)
		}
	}
	sort.Ints(out)
	return out
}

// loadConstInto appends the li expansion for a constant that may not fit an
// immediate.
func loadConstInto(code *[]riscv.Instr, dst riscv.Reg, value int32) {
	if fitsImm12(value) {
		*code = append(*code, riscv.Instr{Op: riscv.ADDI, Dest: dst, Src1: riscv.X0, Imm: value})
		return
	}
	hi := (value + 0x800) >> 12
	lo := value - (hi << 12)
	*code = append(*code, riscv.Instr{Op: riscv.LUI, Dest: dst, Imm: hi})
	if lo != 0 {
		*code = append(*code, riscv.Instr{Op: riscv.ADDI, Dest: dst, Src1: dst, Imm: lo})
	}
}
