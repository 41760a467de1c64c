// Package lirgen lowers the typed AST to LIR. The lowering walks the tree in
// evaluation order and folds three levels of local optimization into the
// translation itself: at level 0 every read goes through the stack and every
// constant gets a fresh register; levels 1 and 2 enable the variable,
// constant and binary-operation caches within linear regions.
package lirgen

import (
	"github.com/fmistri/minicc/pkg/ast"
	"github.com/fmistri/minicc/pkg/lir"
	"github.com/fmistri/minicc/pkg/symtab"
	"github.com/fmistri/minicc/pkg/types"
)

// Generator holds the lowering state for one program.
type Generator struct {
	opt int

	curReg   lir.Reg
	curLabel int

	// addrOf maps a symbol to the register holding its address (the Alloc
	// destination for locals, never invalidated within a function).
	addrOf map[*symtab.Symbol]lir.Reg
	// valueOf maps a symbol to a register known to hold its current value.
	valueOf map[*symtab.Symbol]lir.Reg
	// constOf maps a (type, value) pair to a register holding that constant.
	constOf map[constKey]lir.Reg
	// binCache remembers already-computed binary operations.
	binCache []binEntry

	isGlobal bool
	// Inside a conditionally-executed region every variable-cache entry that
	// is added must be dropped again when the region ends.
	invalidating  bool
	toInvalidate  []*symtab.Symbol
	breakLabel    int
	continueLabel int
}

type constKey struct {
	typ   types.Type
	value uint32
}

type binEntry struct {
	op         lir.BinOp
	dst        lir.Reg
	src1, src2 lir.Reg
}

// New creates a generator for the requested optimization level.
func New(opt int) *Generator {
	return &Generator{
		opt:     opt,
		addrOf:  make(map[*symtab.Symbol]lir.Reg),
		valueOf: make(map[*symtab.Symbol]lir.Reg),
		constOf: make(map[constKey]lir.Reg),
	}
}

func (g *Generator) newReg() lir.Reg {
	g.curReg++
	return g.curReg
}

func (g *Generator) newLabel() int {
	g.curLabel++
	return g.curLabel
}

// reset drops all per-function state before lowering the next function.
func (g *Generator) reset() {
	g.curReg = 0
	g.curLabel = 0
	g.addrOf = make(map[*symtab.Symbol]lir.Reg)
	g.valueOf = make(map[*symtab.Symbol]lir.Reg)
	g.constOf = make(map[constKey]lir.Reg)
	g.binCache = g.binCache[:0]
	g.invalidating = false
	g.toInvalidate = nil
}

// --- caches ---

func (g *Generator) cachedValue(sym *symtab.Symbol) (lir.Reg, bool) {
	if g.opt == 0 {
		return lir.NoReg, false
	}
	r, ok := g.valueOf[sym]
	return r, ok
}

func (g *Generator) cacheValue(sym *symtab.Symbol, r lir.Reg) {
	if g.opt == 0 {
		return
	}
	if g.invalidating {
		g.toInvalidate = append(g.toInvalidate, sym)
	}
	g.valueOf[sym] = r
}

// dropValues empties the variable cache; called when a store may alias any
// local, and at loop heads.
func (g *Generator) dropValues() {
	for sym := range g.valueOf {
		delete(g.valueOf, sym)
	}
}

func (g *Generator) cachedConst(typ types.Type, value uint32) (lir.Reg, bool) {
	if g.opt == 0 {
		return lir.NoReg, false
	}
	r, ok := g.constOf[constKey{typ.WithoutConst(), value}]
	return r, ok
}

func (g *Generator) cacheConst(typ types.Type, value uint32, r lir.Reg) {
	if g.opt == 0 {
		return
	}
	g.constOf[constKey{typ.WithoutConst(), value}] = r
}

func (g *Generator) cachedBinary(op lir.BinOp, src1, src2 lir.Reg) (lir.Reg, bool) {
	if g.opt == 0 {
		return lir.NoReg, false
	}
	if op.Commutative() && src2 < src1 {
		src1, src2 = src2, src1
	}
	for _, e := range g.binCache {
		if e.op == op && e.src1 == src1 && e.src2 == src2 {
			return e.dst, true
		}
	}
	return lir.NoReg, false
}

func (g *Generator) cacheBinary(op lir.BinOp, dst, src1, src2 lir.Reg) {
	if g.opt == 0 {
		return
	}
	if op.Commutative() && src2 < src1 {
		src1, src2 = src2, src1
	}
	g.binCache = append(g.binCache, binEntry{op: op, dst: dst, src1: src1, src2: src2})
}

// snapshot captures the cache state at the entry of a conditionally-executed
// region. Entries created inside the region must not survive past its end,
// because the region may not run.
type snapshot struct {
	invalidating bool
	toInvalidate []*symtab.Symbol
	constOf      map[constKey]lir.Reg
	binLen       int
}

func (g *Generator) beginBranch() snapshot {
	s := snapshot{
		invalidating: g.invalidating,
		toInvalidate: g.toInvalidate,
		constOf:      make(map[constKey]lir.Reg, len(g.constOf)),
		binLen:       len(g.binCache),
	}
	for k, v := range g.constOf {
		s.constOf[k] = v
	}
	g.invalidating = true
	g.toInvalidate = nil
	return s
}

func (g *Generator) endBranch(s snapshot) {
	for _, sym := range g.toInvalidate {
		delete(g.valueOf, sym)
	}
	g.invalidating = s.invalidating
	g.toInvalidate = s.toInvalidate
	g.constOf = s.constOf
	if s.binLen < len(g.binCache) {
		g.binCache = g.binCache[:s.binLen]
	}
}

// --- program lowering ---

// Generate lowers a whole program. User functions are lowered first, each
// from a clean slate; global declarations are then gathered into the
// synthetic `init` function, which calls main and parks.
func (g *Generator) Generate(prog *ast.Program) *lir.Program {
	out := &lir.Program{}

	var fns []*lir.Function
	for _, decl := range prog.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Body == nil {
			continue
		}
		fns = append(fns, g.lowerFunction(fn))
		g.reset()
	}

	g.isGlobal = true
	var initCode []lir.Instr
	for _, decl := range prog.Decls {
		switch d := decl.(type) {
		case *ast.VarDecl:
			code, _ := g.lowerStmt(d)
			initCode = append(initCode, code...)
		case *ast.ArrayDecl:
			code, _ := g.lowerStmt(d)
			initCode = append(initCode, code...)
		}
	}
	g.isGlobal = false

	initCode = append(initCode, lir.Call{Name: "main", Type: types.Of(types.U32), Dst: lir.NoReg})
	initCode = append(initCode, lir.Label{ID: 0})
	initCode = append(initCode, lir.Branch{Cond: lir.Always, Target: 0})

	out.Functions = append(out.Functions, &lir.Function{Name: "init", Ret: types.Of(types.Void), Code: initCode})
	out.Functions = append(out.Functions, fns...)
	return out
}

// lowerFunction lowers one function body. Parameters arrive in v1..vN; their
// stack cells are allocated right away so that their addresses exist.
func (g *Generator) lowerFunction(fn *ast.FuncDecl) *lir.Function {
	out := &lir.Function{Name: fn.Name, Ret: fn.Ret}

	n := len(fn.Params)
	for i, param := range fn.Params {
		out.Params = append(out.Params, param.Typ)
		valueReg := lir.Reg(i + 1)
		addrReg := lir.Reg(i + 1 + n)
		out.Code = append(out.Code, lir.Alloc{
			Type: param.Typ,
			Dst:  addrReg,
			Init: valueReg,
			Size: param.Typ.Size(),
		})
		g.addrOf[param.Sym] = addrReg
		g.cacheValue(param.Sym, valueReg)
	}
	g.curReg = lir.Reg(2 * n)

	body, _ := g.lowerStmt(fn.Body)
	out.Code = append(out.Code, body...)

	// A void function may fall off the end; give it an explicit return.
	if fn.Ret.IsVoid() {
		if len(out.Code) == 0 {
			out.Code = append(out.Code, lir.Return{Type: fn.Ret})
		} else if _, ok := out.Code[len(out.Code)-1].(lir.Return); !ok {
			out.Code = append(out.Code, lir.Return{Type: fn.Ret})
		}
	}
	return out
}
