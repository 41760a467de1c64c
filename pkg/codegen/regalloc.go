package codegen

import "github.com/fmistri/minicc/pkg/riscv"

// allocatable is the physical pool handed to virtuals, in preference order.
// s10 and s11 stay out: they materialize spilled operands.
var allocatable = []riscv.Reg{
	riscv.T0, riscv.T1, riscv.T2, riscv.T3, riscv.T4, riscv.T5, riscv.T6,
	riscv.S1, riscv.S2, riscv.S3, riscv.S4, riscv.S5, riscv.S6, riscv.S7,
	riscv.S8, riscv.S9,
}

var calleeSaved = []riscv.Reg{
	riscv.S1, riscv.S2, riscv.S3, riscv.S4, riscv.S5, riscv.S6, riscv.S7,
	riscv.S8, riscv.S9,
}

var callerSaved = map[riscv.Reg]bool{
	riscv.T0: true, riscv.T1: true, riscv.T2: true, riscv.T3: true,
	riscv.T4: true, riscv.T5: true, riscv.T6: true,
}

// allocResult reports what the allocator did to a function.
type allocResult struct {
	// usedCalleeSaved lists the s-registers handed out, for the prologue to
	// save and the epilogue to restore.
	usedCalleeSaved []riscv.Reg
	// spillBytes is the size of the function's spill area on the tp stack.
	spillBytes int
}

// allocator rewrites virtual registers to physical ones in a single forward
// walk over the instruction list. A virtual either keeps one physical
// register for its whole life or lives on the tp spill stack, with its
// operands passing through the s10/s11 scratch registers. The assignment is
// fixed at the first definition so that every use — including uses reached
// again through loop back edges — reads a consistent location. A virtual
// whose live range stays inside one straight-line region may still be
// evicted mid-range: all its remaining uses follow the spill in program
// order.
type allocator struct {
	code    []riscv.Instr
	liveOut []map[riscv.Reg]bool

	// crossesJoin marks virtuals live at a label: their register state must
	// stay consistent across control-flow joins, so they are never evicted.
	crossesJoin map[riscv.Reg]bool

	regOf  map[riscv.Reg]riscv.Reg // virtual -> physical
	slotOf map[riscv.Reg]int       // virtual -> spill slot index
	holds  map[riscv.Reg]riscv.Reg // physical -> virtual
	free   []riscv.Reg

	nextSlot int
	used     map[riscv.Reg]bool
	out      []riscv.Instr
}

func allocate(fn *riscv.Function) allocResult {
	lv := computeLiveness(fn.Code)
	a := &allocator{
		code:        fn.Code,
		liveOut:     lv.liveOut,
		crossesJoin: make(map[riscv.Reg]bool),
		regOf:       make(map[riscv.Reg]riscv.Reg),
		slotOf:      make(map[riscv.Reg]int),
		holds:       make(map[riscv.Reg]riscv.Reg),
		free:        append([]riscv.Reg{}, allocatable...),
		used:        make(map[riscv.Reg]bool),
	}
	for i, in := range fn.Code {
		if in.Op == riscv.LABEL {
			for r := range lv.liveOut[i] {
				a.crossesJoin[r] = true
			}
		}
	}
	a.run()
	fn.Code = a.out

	var saved []riscv.Reg
	for _, r := range calleeSaved {
		if a.used[r] {
			saved = append(saved, r)
		}
	}
	return allocResult{usedCalleeSaved: saved, spillBytes: alignUp(4*a.nextSlot, 16)}
}

func (a *allocator) emit(i riscv.Instr) {
	a.out = append(a.out, i)
}

// spillSlot hands out a new slot on the tp stack.
func (a *allocator) spillSlot() int {
	s := a.nextSlot
	a.nextSlot++
	return s
}

// takeFree pops a free physical register. When the pool is exhausted it
// evicts a resident virtual confined to the current straight-line region;
// if every resident crosses a join, it gives up and returns None, which
// makes the caller put the new virtual on the spill stack instead.
func (a *allocator) takeFree(keep map[riscv.Reg]bool) riscv.Reg {
	if len(a.free) > 0 {
		phys := a.free[0]
		a.free = a.free[1:]
		a.used[phys] = true
		return phys
	}

	for _, phys := range allocatable {
		victim, ok := a.holds[phys]
		if !ok || keep[phys] || a.crossesJoin[victim] {
			continue
		}
		slot := a.spillSlot()
		a.emit(riscv.Instr{Op: riscv.SW, Src1: riscv.TP, Src2: phys, Imm: int32(4 * slot)})
		a.slotOf[victim] = slot
		delete(a.regOf, victim)
		delete(a.holds, phys)
		return phys
	}
	return riscv.None
}

// freeDead releases physical registers whose virtuals are dead after
// instruction i.
func (a *allocator) freeDead(i int) {
	live := a.liveOut[i]
	for phys, virt := range a.holds {
		if !live[virt] {
			delete(a.holds, phys)
			delete(a.regOf, virt)
			a.free = append(a.free, phys)
		}
	}
	for virt := range a.slotOf {
		if !live[virt] {
			delete(a.slotOf, virt)
		}
	}
}

// sourceReg returns a physical register holding the virtual's value,
// reloading it into the given scratch register when it lives on the spill
// stack.
func (a *allocator) sourceReg(virt riscv.Reg, scratch riscv.Reg) riscv.Reg {
	if !virt.Virtual() {
		return virt
	}
	if phys, ok := a.regOf[virt]; ok {
		return phys
	}
	if slot, ok := a.slotOf[virt]; ok {
		a.emit(riscv.Instr{Op: riscv.LW, Dest: scratch, Src1: riscv.TP, Imm: int32(4 * slot)})
		return scratch
	}
	// Only dead code reads an undefined virtual; zero keeps it harmless.
	return riscv.X0
}

// run performs the allocation walk.
func (a *allocator) run() {
	for i := range a.code {
		in := a.code[i]

		// The callee is free to clobber t-registers; preserve residents
		// that live across the call by saving around it. The register
		// assignment itself stays fixed.
		var restores []riscv.Instr
		if in.Op == riscv.JAL {
			live := a.liveOut[i]
			for _, phys := range allocatable {
				virt, ok := a.holds[phys]
				if !ok || !callerSaved[phys] || !live[virt] {
					continue
				}
				slot := a.spillSlot()
				a.emit(riscv.Instr{Op: riscv.SW, Src1: riscv.TP, Src2: phys, Imm: int32(4 * slot), FnID: in.FnID})
				restores = append(restores, riscv.Instr{Op: riscv.LW, Dest: phys, Src1: riscv.TP, Imm: int32(4 * slot), FnID: in.FnID})
			}
		}

		keep := make(map[riscv.Reg]bool)

		// Rewrite sources first; two spilled sources use the two scratches.
		if in.Src1.Virtual() {
			in.Src1 = a.sourceReg(in.Src1, riscv.S10)
		}
		if in.Src2.Virtual() {
			in.Src2 = a.sourceReg(in.Src2, riscv.S11)
		}
		keep[in.Src1] = true
		keep[in.Src2] = true

		// Then the destination.
		writeBack := -1
		if dst := in.Defs(); dst.Virtual() {
			if phys, ok := a.regOf[dst]; ok {
				in.Dest = phys
			} else if slot, ok := a.slotOf[dst]; ok {
				in.Dest = riscv.S10
				writeBack = slot
			} else if phys := a.takeFree(keep); phys != riscv.None {
				a.regOf[dst] = phys
				a.holds[phys] = dst
				in.Dest = phys
			} else {
				// Pool exhausted by join-crossing values: the new virtual
				// lives on the spill stack.
				slot := a.spillSlot()
				a.slotOf[dst] = slot
				in.Dest = riscv.S10
				writeBack = slot
			}
		}

		a.emit(in)
		if writeBack >= 0 {
			a.emit(riscv.Instr{Op: riscv.SW, Src1: riscv.TP, Src2: riscv.S10, Imm: int32(4 * writeBack), FnID: in.FnID})
		}
		for _, r := range restores {
			a.emit(r)
		}
		a.freeDead(i)
	}
}
