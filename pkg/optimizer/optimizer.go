// Package optimizer runs the LIR cleanup passes: dead-code removal and
// control-flow removal. Both passes preserve observable behavior and are
// iterated until neither changes anything.
package optimizer

import "github.com/fmistri/minicc/pkg/lir"

// Optimize runs the passes over every function until a fixed point.
// The synthetic init function is left untouched: its global allocations
// define data-section symbols and must not be pruned.
func Optimize(prog *lir.Program) *lir.Program {
	for {
		changed := false
		for _, fn := range prog.Functions {
			if fn.Name == "init" {
				continue
			}
			if deadCodeRemoval(fn) {
				changed = true
			}
			if controlFlowRemoval(fn) {
				changed = true
			}
		}
		if !changed {
			return prog
		}
	}
}

// deadCodeRemoval drops instructions whose results are never needed.
// A reverse walk collects the set of needed registers: side-effectful
// instructions (stores through unknown pointers, calls, returns, branches,
// labels) seed the set, and any instruction defining a needed register adds
// its sources. The walk repeats until the set stops growing.
func deadCodeRemoval(fn *lir.Function) bool {
	code := fn.Code

	localAllocs := make(map[lir.Reg]bool)
	for _, instr := range code {
		if alloc, ok := instr.(lir.Alloc); ok {
			localAllocs[alloc.Dst] = true
		}
	}

	needed := make(map[lir.Reg]bool)
	critical := make([]bool, len(code))

	markNeeded := func(rs []lir.Reg) bool {
		added := false
		for _, r := range rs {
			if !needed[r] {
				needed[r] = true
				added = true
			}
		}
		return added
	}

	for {
		added := false
		for i := len(code) - 1; i >= 0; i-- {
			if critical[i] {
				continue
			}
			instr := code[i]

			switch in := instr.(type) {
			case lir.Store:
				// Stores to unknown addresses are observable; stores to a
				// local cell matter only while the cell is still read.
				if !localAllocs[in.Addr] || needed[in.Addr] {
					critical[i] = true
					markNeeded(in.Sources())
					added = true
				}
			case lir.Return, lir.Call, lir.Branch, lir.Label:
				critical[i] = true
				markNeeded(instr.Sources())
				added = true
			default:
				if dst := instr.Dest(); dst != lir.NoReg && needed[dst] {
					critical[i] = true
					markNeeded(instr.Sources())
					added = true
				}
			}
		}
		if !added {
			break
		}
	}

	var out []lir.Instr
	for i, instr := range code {
		if critical[i] {
			out = append(out, instr)
		}
	}
	if len(out) == len(code) {
		return false
	}
	fn.Code = out
	return true
}

// controlFlowRemoval prunes trivial control flow:
//   - a branch whose target label follows immediately (only labels between)
//     is removed together with the label when it has no other predecessor,
//   - instructions that no control path reaches are dropped,
//   - labels no branch targets anymore are dropped.
func controlFlowRemoval(fn *lir.Function) bool {
	changed := removeBranchToNext(fn)
	if removeUnreachable(fn) {
		changed = true
	}
	if removeUnreferencedLabels(fn) {
		changed = true
	}
	return changed
}

// removeUnreferencedLabels drops labels that no surviving branch targets.
func removeUnreferencedLabels(fn *lir.Function) bool {
	refs := labelRefCounts(fn.Code)
	remove := make([]bool, len(fn.Code))
	for i, instr := range fn.Code {
		if label, ok := instr.(lir.Label); ok && refs[label.ID] == 0 {
			remove[i] = true
		}
	}
	return filterRemoved(fn, remove)
}

// removeBranchToNext drops branches that jump over nothing.
func removeBranchToNext(fn *lir.Function) bool {
	code := fn.Code
	remove := make([]bool, len(code))

	refs := labelRefCounts(code)

	for i := len(code) - 1; i >= 0; i-- {
		branch, ok := code[i].(lir.Branch)
		if !ok || remove[i] {
			continue
		}
		for j := i + 1; j < len(code); j++ {
			label, ok := code[j].(lir.Label)
			if !ok {
				break
			}
			if label.ID == branch.Target {
				remove[i] = true
				if refs[label.ID] == 1 {
					remove[j] = true
				}
				break
			}
		}
	}

	return filterRemoved(fn, remove)
}

// removeUnreachable walks the instruction list from the entry, following
// fall-through and branch targets, and drops everything never visited.
func removeUnreachable(fn *lir.Function) bool {
	code := fn.Code
	if len(code) == 0 {
		return false
	}

	labelIndex := make(map[int]int)
	for i, instr := range code {
		if label, ok := instr.(lir.Label); ok {
			labelIndex[label.ID] = i
		}
	}

	reachable := make([]bool, len(code))
	worklist := []int{0}
	for len(worklist) > 0 {
		i := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for i < len(code) && !reachable[i] {
			reachable[i] = true
			switch in := code[i].(type) {
			case lir.Branch:
				if target, ok := labelIndex[in.Target]; ok && !reachable[target] {
					worklist = append(worklist, target)
				}
				if in.Cond == lir.Always {
					i = len(code) // stop fall-through
					continue
				}
			case lir.Return:
				i = len(code)
				continue
			}
			i++
		}
	}

	remove := make([]bool, len(code))
	for i := range code {
		remove[i] = !reachable[i]
	}
	return filterRemoved(fn, remove)
}

func labelRefCounts(code []lir.Instr) map[int]int {
	refs := make(map[int]int)
	for _, instr := range code {
		if branch, ok := instr.(lir.Branch); ok {
			refs[branch.Target]++
		}
	}
	return refs
}

func filterRemoved(fn *lir.Function, remove []bool) bool {
	var out []lir.Instr
	for i, instr := range fn.Code {
		if !remove[i] {
			out = append(out, instr)
		}
	}
	if len(out) == len(fn.Code) {
		return false
	}
	fn.Code = out
	return true
}
