package codegen

import (
	"github.com/fmistri/minicc/pkg/lir"
	"github.com/fmistri/minicc/pkg/riscv"
	"github.com/fmistri/minicc/pkg/types"
)

// slotInfo describes one scalar frame slot, keyed by the Alloc destination.
type slotInfo struct {
	size int
}

// selector translates one LIR function into RV32IM instructions over the
// same virtual register numbering.
type selector struct {
	fnID    int
	code    []riscv.Instr
	slots   map[int]slotInfo
	globals []riscv.Global
}

func newSelector(fnID int) *selector {
	return &selector{fnID: fnID, slots: make(map[int]slotInfo)}
}

func (s *selector) emit(i riscv.Instr) {
	i.FnID = s.fnID
	s.code = append(s.code, i)
}

func vreg(r lir.Reg) riscv.Reg { return riscv.Reg(r) }

// selectFunction lowers fn. Parameters arrive per the calling convention:
// the first eight in a0..a7, the rest in the caller's outgoing stack area,
// which sits exactly at the callee's frame pointer.
func (s *selector) selectFunction(fn *lir.Function) {
	for i := range fn.Params {
		dst := vreg(lir.Reg(i + 1))
		if i < 8 {
			s.emit(riscv.Instr{Op: riscv.ADDI, Dest: dst, Src1: riscv.ArgReg(i), Imm: 0})
		} else {
			s.emit(riscv.Instr{Op: riscv.LW, Dest: dst, Src1: riscv.FP, Imm: int32(4 * (i - 8))})
		}
	}

	for _, instr := range fn.Code {
		s.selectInstr(instr)
	}
}

func (s *selector) selectInstr(instr lir.Instr) {
	switch in := instr.(type) {
	case lir.Alloc:
		s.selectAlloc(in)
	case lir.Return:
		if in.Src != lir.NoReg {
			s.emit(riscv.Instr{Op: riscv.ADDI, Dest: riscv.A0, Src1: vreg(in.Src), Imm: 0})
		}
		s.emit(riscv.Instr{Op: riscv.EPILOGUE})
		s.emit(riscv.Instr{Op: riscv.JALR, Src1: riscv.RA})
	case lir.MovC:
		s.loadConst(vreg(in.Dst), int32(in.Value))
	case lir.Cast:
		s.selectCast(in)
	case lir.Store:
		s.emit(riscv.Instr{Op: storeOp(in.Type), Src1: vreg(in.Addr), Src2: vreg(in.Val), Imm: 0})
	case lir.LoadA:
		s.emit(riscv.Instr{Op: riscv.LA, Dest: vreg(in.Dst), Symbol: in.Symbol})
	case lir.LoadR:
		s.emit(riscv.Instr{Op: loadOp(in.Type), Dest: vreg(in.Dst), Src1: vreg(in.Addr), Imm: 0})
	case lir.Label:
		s.emit(riscv.Instr{Op: riscv.LABEL, Label: in.ID})
	case lir.Call:
		s.selectCall(in)
	case lir.Branch:
		s.selectBranch(in)
	case lir.Binary:
		s.selectBinary(in)
	case lir.Unary:
		s.selectUnary(in)
	}
}

// loadConst materializes a 32-bit constant: a single addi when it fits the
// 12-bit immediate, otherwise the canonical lui+addi pair.
func (s *selector) loadConst(dst riscv.Reg, value int32) {
	if fitsImm12(value) {
		s.emit(riscv.Instr{Op: riscv.ADDI, Dest: dst, Src1: riscv.X0, Imm: value})
		return
	}
	hi := (value + 0x800) >> 12
	lo := value - (hi << 12)
	s.emit(riscv.Instr{Op: riscv.LUI, Dest: dst, Imm: hi})
	if lo != 0 {
		s.emit(riscv.Instr{Op: riscv.ADDI, Dest: dst, Src1: dst, Imm: lo})
	}
}

func fitsImm12(v int32) bool { return v >= -2048 && v <= 2047 }

func (s *selector) selectAlloc(in lir.Alloc) {
	dst := vreg(in.Dst)
	switch {
	case in.Global:
		align := in.Size
		if align > 4 || in.SizeReg != lir.NoReg || align == 0 {
			align = 4
		}
		s.globals = append(s.globals, riscv.Global{Name: in.Symbol, Size: in.Size, Align: align})
		s.emit(riscv.Instr{Op: riscv.LA, Dest: dst, Symbol: in.Symbol})
	case in.SizeReg != lir.NoReg:
		// Runtime-sized array: carve it from the stack, keeping sp aligned.
		s.emit(riscv.Instr{Op: riscv.SUB, Dest: riscv.SP, Src1: riscv.SP, Src2: vreg(in.SizeReg)})
		s.emit(riscv.Instr{Op: riscv.ANDI, Dest: riscv.SP, Src1: riscv.SP, Imm: -16})
		s.emit(riscv.Instr{Op: riscv.ADDI, Dest: dst, Src1: riscv.SP, Imm: 0})
	default:
		s.slots[int(in.Dst)] = slotInfo{size: in.Size}
		s.emit(riscv.Instr{Op: riscv.FRAMEADDR, Dest: dst, Slot: int(in.Dst)})
	}
	if in.Init != lir.NoReg {
		s.emit(riscv.Instr{Op: storeOp(in.Type), Src1: dst, Src2: vreg(in.Init), Imm: 0})
	}
}

// selectCast narrows or extends between integer widths. Registers hold every
// value in its canonical 32-bit extension (sign- or zero-extended per its
// type), so a cast is a move whenever the source extension is already
// canonical for the destination; otherwise it truncates and re-extends.
func (s *selector) selectCast(in lir.Cast) {
	dst, src := vreg(in.Dst), vreg(in.Src)
	size := in.DstType.Size()
	srcSize := in.SrcType.Size()

	widensCleanly := srcSize <= size && (!in.SrcType.Signed() || in.DstType.Signed())
	if in.DstType.IsPointer() || size >= 4 || widensCleanly {
		s.emit(riscv.Instr{Op: riscv.ADDI, Dest: dst, Src1: src, Imm: 0})
		return
	}
	bits := int32(32 - 8*size)
	if in.DstType.Signed() {
		s.emit(riscv.Instr{Op: riscv.SLLI, Dest: dst, Src1: src, Imm: bits})
		s.emit(riscv.Instr{Op: riscv.SRAI, Dest: dst, Src1: dst, Imm: bits})
		return
	}
	if size == 1 {
		s.emit(riscv.Instr{Op: riscv.ANDI, Dest: dst, Src1: src, Imm: 0xff})
		return
	}
	s.emit(riscv.Instr{Op: riscv.SLLI, Dest: dst, Src1: src, Imm: bits})
	s.emit(riscv.Instr{Op: riscv.SRLI, Dest: dst, Src1: dst, Imm: bits})
}

// selectCall moves arguments into a0..a7, spills the overflow onto the
// stack, jumps, and copies the result out of a0.
func (s *selector) selectCall(in lir.Call) {
	extra := 0
	if len(in.Args) > 8 {
		extra = len(in.Args) - 8
	}
	outBytes := int32(alignUp(4*extra, 16))
	if extra > 0 {
		s.emit(riscv.Instr{Op: riscv.ADDI, Dest: riscv.SP, Src1: riscv.SP, Imm: -outBytes})
		for i := 8; i < len(in.Args); i++ {
			s.emit(riscv.Instr{Op: riscv.SW, Src1: riscv.SP, Src2: vreg(in.Args[i]), Imm: int32(4 * (i - 8))})
		}
	}
	for i := 0; i < len(in.Args) && i < 8; i++ {
		s.emit(riscv.Instr{Op: riscv.ADDI, Dest: riscv.ArgReg(i), Src1: vreg(in.Args[i]), Imm: 0})
	}
	s.emit(riscv.Instr{Op: riscv.JAL, Symbol: in.Name})
	if extra > 0 {
		s.emit(riscv.Instr{Op: riscv.ADDI, Dest: riscv.SP, Src1: riscv.SP, Imm: outBytes})
	}
	if in.Dst != lir.NoReg {
		s.emit(riscv.Instr{Op: riscv.ADDI, Dest: vreg(in.Dst), Src1: riscv.A0, Imm: 0})
	}
}

func (s *selector) selectBranch(in lir.Branch) {
	unsigned := !in.Type.Signed()
	src1, src2 := vreg(in.Src1), vreg(in.Src2)

	pick := func(signedOp, unsignedOp riscv.Op) riscv.Op {
		if unsigned {
			return unsignedOp
		}
		return signedOp
	}

	switch in.Cond {
	case lir.Always:
		s.emit(riscv.Instr{Op: riscv.J, Label: in.Target})
	case lir.Eq:
		s.emit(riscv.Instr{Op: riscv.BEQ, Src1: src1, Src2: src2, Label: in.Target})
	case lir.Ne:
		s.emit(riscv.Instr{Op: riscv.BNE, Src1: src1, Src2: src2, Label: in.Target})
	case lir.Lt:
		s.emit(riscv.Instr{Op: pick(riscv.BLT, riscv.BLTU), Src1: src1, Src2: src2, Label: in.Target})
	case lir.Ge:
		s.emit(riscv.Instr{Op: pick(riscv.BGE, riscv.BGEU), Src1: src1, Src2: src2, Label: in.Target})
	case lir.Gt:
		s.emit(riscv.Instr{Op: pick(riscv.BLT, riscv.BLTU), Src1: src2, Src2: src1, Label: in.Target})
	case lir.Le:
		s.emit(riscv.Instr{Op: pick(riscv.BGE, riscv.BGEU), Src1: src2, Src2: src1, Label: in.Target})
	case lir.Set:
		s.emit(riscv.Instr{Op: riscv.BNE, Src1: src1, Src2: riscv.X0, Label: in.Target})
	case lir.Nset:
		s.emit(riscv.Instr{Op: riscv.BEQ, Src1: src1, Src2: riscv.X0, Label: in.Target})
	}
}

func (s *selector) selectBinary(in lir.Binary) {
	dst, src1, src2 := vreg(in.Dst), vreg(in.Src1), vreg(in.Src2)
	unsigned := !in.Type.Signed()

	pick := func(signedOp, unsignedOp riscv.Op) riscv.Op {
		if unsigned {
			return unsignedOp
		}
		return signedOp
	}

	switch in.Op {
	case lir.Add:
		s.emit(riscv.Instr{Op: riscv.ADD, Dest: dst, Src1: src1, Src2: src2})
	case lir.Sub:
		s.emit(riscv.Instr{Op: riscv.SUB, Dest: dst, Src1: src1, Src2: src2})
	case lir.Mul:
		s.emit(riscv.Instr{Op: riscv.MUL, Dest: dst, Src1: src1, Src2: src2})
	case lir.Div:
		s.emit(riscv.Instr{Op: pick(riscv.DIV, riscv.DIVU), Dest: dst, Src1: src1, Src2: src2})
	case lir.Rem:
		s.emit(riscv.Instr{Op: pick(riscv.REM, riscv.REMU), Dest: dst, Src1: src1, Src2: src2})
	case lir.And:
		s.emit(riscv.Instr{Op: riscv.AND, Dest: dst, Src1: src1, Src2: src2})
	case lir.Or:
		s.emit(riscv.Instr{Op: riscv.OR, Dest: dst, Src1: src1, Src2: src2})
	case lir.Xor:
		s.emit(riscv.Instr{Op: riscv.XOR, Dest: dst, Src1: src1, Src2: src2})
	case lir.Shl:
		s.emit(riscv.Instr{Op: riscv.SLL, Dest: dst, Src1: src1, Src2: src2})
	case lir.Shr:
		s.emit(riscv.Instr{Op: pick(riscv.SRA, riscv.SRL), Dest: dst, Src1: src1, Src2: src2})
	case lir.Slt:
		s.emit(riscv.Instr{Op: pick(riscv.SLT, riscv.SLTU), Dest: dst, Src1: src1, Src2: src2})
	case lir.Sgt:
		s.emit(riscv.Instr{Op: pick(riscv.SLT, riscv.SLTU), Dest: dst, Src1: src2, Src2: src1})
	case lir.Sle:
		// a <= b  ==  !(b < a)
		s.emit(riscv.Instr{Op: pick(riscv.SLT, riscv.SLTU), Dest: dst, Src1: src2, Src2: src1})
		s.emit(riscv.Instr{Op: riscv.XORI, Dest: dst, Src1: dst, Imm: 1})
	case lir.Sge:
		s.emit(riscv.Instr{Op: pick(riscv.SLT, riscv.SLTU), Dest: dst, Src1: src1, Src2: src2})
		s.emit(riscv.Instr{Op: riscv.XORI, Dest: dst, Src1: dst, Imm: 1})
	case lir.Seq:
		s.emit(riscv.Instr{Op: riscv.XOR, Dest: dst, Src1: src1, Src2: src2})
		s.emit(riscv.Instr{Op: riscv.SLTIU, Dest: dst, Src1: dst, Imm: 1})
	case lir.Sne:
		s.emit(riscv.Instr{Op: riscv.XOR, Dest: dst, Src1: src1, Src2: src2})
		s.emit(riscv.Instr{Op: riscv.SLTU, Dest: dst, Src1: riscv.X0, Src2: dst})
	}
}

func (s *selector) selectUnary(in lir.Unary) {
	dst, src := vreg(in.Dst), vreg(in.Src)
	switch in.Op {
	case lir.Neg:
		s.emit(riscv.Instr{Op: riscv.SUB, Dest: dst, Src1: riscv.X0, Src2: src})
	case lir.Not:
		s.emit(riscv.Instr{Op: riscv.SLTIU, Dest: dst, Src1: src, Imm: 1})
	case lir.Comp:
		s.emit(riscv.Instr{Op: riscv.XORI, Dest: dst, Src1: src, Imm: -1})
	}
}

func loadOp(t types.Type) riscv.Op {
	switch t.Size() {
	case 1:
		if t.Signed() {
			return riscv.LB
		}
		return riscv.LBU
	case 2:
		if t.Signed() {
			return riscv.LH
		}
		return riscv.LHU
	}
	return riscv.LW
}

func storeOp(t types.Type) riscv.Op {
	switch t.Size() {
	case 1:
		return riscv.SB
	case 2:
		return riscv.SH
	}
	return riscv.SW
}

func alignUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return n + align - n%align
}
