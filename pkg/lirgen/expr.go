package lirgen

import (
	"github.com/fmistri/minicc/pkg/ast"
	"github.com/fmistri/minicc/pkg/lir"
	"github.com/fmistri/minicc/pkg/types"
)

// binOps maps AST binary operators to LIR operations.
var binOps = map[ast.BinaryOp]lir.BinOp{
	ast.OpAdd: lir.Add,
	ast.OpSub: lir.Sub,
	ast.OpMul: lir.Mul,
	ast.OpDiv: lir.Div,
	ast.OpMod: lir.Rem,
	ast.OpAnd: lir.And,
	ast.OpOr:  lir.Or,
	ast.OpXor: lir.Xor,
	ast.OpShl: lir.Shl,
	ast.OpShr: lir.Shr,
	ast.OpLt:  lir.Slt,
	ast.OpGt:  lir.Sgt,
	ast.OpLe:  lir.Sle,
	ast.OpGe:  lir.Sge,
	ast.OpEq:  lir.Seq,
	ast.OpNe:  lir.Sne,
}

// binCond returns the branch condition matching a comparison operator.
func binCond(op ast.BinaryOp) (lir.Cond, bool) {
	return binOps[op].BranchCond()
}

// lowerExpr lowers an expression. When getAddress is set and the expression
// is an lvalue, the result register holds its address instead of its value.
func (g *Generator) lowerExpr(expr ast.Expr, getAddress bool) ([]lir.Instr, lir.Reg) {
	switch e := expr.(type) {
	case *ast.IntLit:
		return g.materializeConst(e.Type(), e.Value)
	case *ast.CharLit:
		reg := g.newReg()
		return []lir.Instr{lir.MovC{Type: e.Type(), Dst: reg, Value: e.Value}}, reg
	case *ast.Ident:
		return g.lowerIdent(e, getAddress)
	case *ast.Unary:
		return g.lowerUnary(e, getAddress)
	case *ast.Binary:
		return g.lowerBinary(e)
	case *ast.Assign:
		return g.lowerAssign(e, getAddress)
	case *ast.Cast:
		return g.lowerCast(e)
	case *ast.Index:
		return g.lowerIndex(e, getAddress)
	case *ast.Call:
		return g.lowerCall(e)
	}
	panic("lirgen: expression cannot be lowered")
}

// materializeConst returns a register holding the constant, reusing a cached
// one at opt >= 1.
func (g *Generator) materializeConst(typ types.Type, value uint32) ([]lir.Instr, lir.Reg) {
	if reg, ok := g.cachedConst(typ, value); ok {
		return nil, reg
	}
	reg := g.newReg()
	g.cacheConst(typ, value, reg)
	return []lir.Instr{lir.MovC{Type: typ.WithoutConst(), Dst: reg, Value: value}}, reg
}

// binary emits (or reuses) a binary operation and returns its result register.
func (g *Generator) binary(op lir.BinOp, typ types.Type, src1, src2 lir.Reg, code *[]lir.Instr) lir.Reg {
	if reg, ok := g.cachedBinary(op, src1, src2); ok {
		return reg
	}
	reg := g.newReg()
	g.cacheBinary(op, reg, src1, src2)
	*code = append(*code, lir.Binary{Op: op, Type: typ.WithoutConst(), Dst: reg, Src1: src1, Src2: src2})
	return reg
}

// addressOf returns a register holding the address of the symbol's cell:
// the Alloc destination for locals, a LoadA of the data symbol for globals.
func (g *Generator) addressOf(e *ast.Ident, code *[]lir.Instr) lir.Reg {
	if reg, ok := g.addrOf[e.Sym]; ok {
		return reg
	}
	reg := g.newReg()
	*code = append(*code, lir.LoadA{
		Type:   types.PointerTo(e.Sym.Type),
		Dst:    reg,
		Symbol: e.Name,
	})
	return reg
}

func (g *Generator) lowerIdent(e *ast.Ident, getAddress bool) ([]lir.Instr, lir.Reg) {
	var code []lir.Instr
	addr := g.addressOf(e, &code)

	// An array name evaluates to its base address.
	if getAddress || e.Sym.IsArray {
		return code, addr
	}

	if reg, ok := g.cachedValue(e.Sym); ok {
		return code, reg
	}
	reg := g.newReg()
	code = append(code, lir.LoadR{Type: e.Type(), Dst: reg, Addr: addr})
	g.cacheValue(e.Sym, reg)
	return code, reg
}

func (g *Generator) lowerUnary(e *ast.Unary, getAddress bool) ([]lir.Instr, lir.Reg) {
	switch e.Op {
	case ast.OpAddr:
		return g.lowerExpr(e.X, true)
	case ast.OpPlus:
		return g.lowerExpr(e.X, getAddress)
	case ast.OpDeref:
		// The address of *p is the value of p.
		code, addr := g.lowerExpr(e.X, false)
		if getAddress {
			return code, addr
		}
		reg := g.newReg()
		code = append(code, lir.LoadR{Type: e.Type(), Dst: reg, Addr: addr})
		return code, reg
	}

	ops := map[ast.UnaryOp]lir.UnOp{
		ast.OpNeg:    lir.Neg,
		ast.OpNot:    lir.Not,
		ast.OpBitNot: lir.Comp,
	}
	code, src := g.lowerExpr(e.X, false)
	reg := g.newReg()
	code = append(code, lir.Unary{Type: e.Type(), Op: ops[e.Op], Dst: reg, Src: src})
	return code, reg
}

func (g *Generator) lowerBinary(e *ast.Binary) ([]lir.Instr, lir.Reg) {
	lcode, lreg := g.lowerExpr(e.Left, false)
	rcode, rreg := g.lowerExpr(e.Right, false)
	code := append(lcode, rcode...)

	op := binOps[e.Op]

	// Pointer +/- integer scales the integer operand by the pointee size.
	if e.Type().IsPointer() && (e.Op == ast.OpAdd || e.Op == ast.OpSub) {
		elemSize := e.Type().Deref().Size()
		if e.Left.Type().IsPointer() && e.Right.Type().IsInteger() {
			rreg = g.scaleIndex(rreg, e.Right.Type(), elemSize, &code)
		} else if e.Right.Type().IsPointer() && e.Left.Type().IsInteger() {
			lreg = g.scaleIndex(lreg, e.Left.Type(), elemSize, &code)
		}
	}

	reg := g.binary(op, e.Type(), lreg, rreg, &code)
	return code, reg
}

// scaleIndex multiplies an index register by a power-of-two element size.
func (g *Generator) scaleIndex(idx lir.Reg, idxType types.Type, elemSize int, code *[]lir.Instr) lir.Reg {
	if elemSize == 1 {
		return idx
	}
	c, shift := g.materializeConst(idxType, uint32(log2(elemSize)))
	*code = append(*code, c...)
	return g.binary(lir.Shl, idxType, idx, shift, code)
}

func (g *Generator) lowerAssign(e *ast.Assign, getAddress bool) ([]lir.Instr, lir.Reg) {
	code, addrReg := g.lowerExpr(e.Target, true)
	valCode, valReg := g.lowerExpr(e.Value, false)
	code = append(code, valCode...)
	code = append(code, lir.Store{Type: e.Type(), Addr: addrReg, Val: valReg})

	// A store through a simple variable just refreshes its cache entry; any
	// other target may alias anything, so the whole cache goes.
	if ident, ok := e.Target.(*ast.Ident); ok {
		if g.invalidating {
			g.toInvalidate = append(g.toInvalidate, ident.Sym)
		}
		if g.opt > 0 {
			g.valueOf[ident.Sym] = valReg
		}
	} else {
		g.dropValues()
	}

	if getAddress {
		return code, addrReg
	}
	return code, valReg
}

func (g *Generator) lowerCast(e *ast.Cast) ([]lir.Instr, lir.Reg) {
	code, src := g.lowerExpr(e.X, false)

	// Pointer targets reinterpret the bits; no instruction needed.
	if e.To.IsPointer() {
		return code, src
	}

	reg := g.newReg()
	code = append(code, lir.Cast{
		DstType: e.To.WithoutConst(),
		SrcType: e.X.Type().WithoutConst(),
		Dst:     reg,
		Src:     src,
	})
	return code, reg
}

func (g *Generator) lowerIndex(e *ast.Index, getAddress bool) ([]lir.Instr, lir.Reg) {
	code, base := g.lowerExpr(e.Arr, false)
	idxCode, idx := g.lowerExpr(e.Idx, false)
	code = append(code, idxCode...)

	ptrType := types.PointerTo(e.Type())
	offset := g.scaleIndex(idx, e.Idx.Type(), e.Type().Size(), &code)
	addr := g.binary(lir.Add, ptrType, base, offset, &code)

	if getAddress {
		return code, addr
	}
	reg := g.newReg()
	code = append(code, lir.LoadR{Type: e.Type(), Dst: reg, Addr: addr})
	return code, reg
}

func (g *Generator) lowerCall(e *ast.Call) ([]lir.Instr, lir.Reg) {
	var code []lir.Instr
	var args []lir.Reg
	for _, arg := range e.Args {
		c, reg := g.lowerExpr(arg, false)
		code = append(code, c...)
		args = append(args, reg)
	}

	dst := lir.NoReg
	if !e.Type().IsVoid() {
		dst = g.newReg()
	}
	code = append(code, lir.Call{Name: e.Name, Type: e.Type(), Args: args, Dst: dst})

	// The callee may write through any pointer it can reach, including the
	// caller's locals whose addresses escaped; cached variable values cannot
	// be trusted past the call.
	g.dropValues()

	return code, dst
}
