package lirgen

import (
	"github.com/fmistri/minicc/pkg/ast"
	"github.com/fmistri/minicc/pkg/lir"
)

// lowerStmt lowers one statement and returns the produced instructions.
// The second return value is the result register when the statement has one
// (declarations yield their Alloc address).
func (g *Generator) lowerStmt(stmt ast.Stmt) ([]lir.Instr, lir.Reg) {
	switch s := stmt.(type) {
	case *ast.Block:
		var code []lir.Instr
		for _, inner := range s.Stmts {
			c, _ := g.lowerStmt(inner)
			code = append(code, c...)
		}
		return code, lir.NoReg
	case *ast.ExprStmt:
		if s.X == nil {
			return nil, lir.NoReg
		}
		return g.lowerExpr(s.X, false)
	case *ast.VarDecl:
		return g.lowerVarDecl(s)
	case *ast.ArrayDecl:
		return g.lowerArrayDecl(s)
	case *ast.Return:
		return g.lowerReturn(s)
	case *ast.Break:
		return []lir.Instr{lir.Branch{Cond: lir.Always, Target: g.breakLabel}}, lir.NoReg
	case *ast.Continue:
		return []lir.Instr{lir.Branch{Cond: lir.Always, Target: g.continueLabel}}, lir.NoReg
	case *ast.If:
		return g.lowerIf(s)
	case *ast.While:
		return g.lowerWhile(s)
	case *ast.For:
		return g.lowerFor(s)
	}
	panic("lirgen: statement cannot be lowered")
}

func (g *Generator) lowerVarDecl(s *ast.VarDecl) ([]lir.Instr, lir.Reg) {
	var code []lir.Instr
	initReg := lir.NoReg
	if s.Init != nil {
		var c []lir.Instr
		c, initReg = g.lowerExpr(s.Init, false)
		code = append(code, c...)
		g.cacheValue(s.Sym, initReg)
	}
	addrReg := g.newReg()
	code = append(code, lir.Alloc{
		Type:   s.Typ,
		Dst:    addrReg,
		Init:   initReg,
		Global: g.isGlobal,
		Symbol: globalSymbolName(g.isGlobal, s.Name),
		Size:   s.Typ.Size(),
	})
	g.addrOf[s.Sym] = addrReg
	return code, addrReg
}

func (g *Generator) lowerArrayDecl(s *ast.ArrayDecl) ([]lir.Instr, lir.Reg) {
	elemSize := s.Typ.Size()

	// A global array needs a statically-sized data cell; the parser has
	// already required a literal size.
	if g.isGlobal {
		var total int
		if lit, ok := s.Size.(*ast.IntLit); ok {
			total = int(lit.Value) * elemSize
		}
		addrReg := g.newReg()
		code := []lir.Instr{lir.Alloc{
			Type:   s.Typ,
			Dst:    addrReg,
			Global: true,
			Symbol: globalSymbolName(true, s.Name),
			Size:   total,
		}}
		g.addrOf[s.Sym] = addrReg
		return code, addrReg
	}

	// Local arrays are carved from the stack at runtime: compute the byte
	// count, then allocate.
	code, sizeReg := g.lowerExpr(s.Size, false)
	byteReg := sizeReg
	if elemSize != 1 {
		var c []lir.Instr
		var shiftReg lir.Reg
		c, shiftReg = g.materializeConst(s.Size.Type(), uint32(log2(elemSize)))
		code = append(code, c...)
		byteReg = g.binary(lir.Shl, s.Size.Type(), sizeReg, shiftReg, &code)
	}
	addrReg := g.newReg()
	code = append(code, lir.Alloc{
		Type:    s.Typ,
		Dst:     addrReg,
		Size:    elemSize,
		SizeReg: byteReg,
	})
	g.addrOf[s.Sym] = addrReg
	return code, addrReg
}

func (g *Generator) lowerReturn(s *ast.Return) ([]lir.Instr, lir.Reg) {
	if s.X == nil {
		return []lir.Instr{lir.Return{}}, lir.NoReg
	}
	code, reg := g.lowerExpr(s.X, false)
	code = append(code, lir.Return{Type: s.X.Type(), Src: reg})
	return code, lir.NoReg
}

// lowerCondBranch lowers a condition so that control jumps to target when the
// condition is FALSE. At opt >= 1 a relational comparison feeding the branch
// is fused into a single conditional branch.
func (g *Generator) lowerCondBranch(cond ast.Expr, target int) []lir.Instr {
	if g.opt > 0 {
		if bin, ok := cond.(*ast.Binary); ok && bin.Op.IsComparison() {
			lcode, lreg := g.lowerExpr(bin.Left, false)
			rcode, rreg := g.lowerExpr(bin.Right, false)
			code := append(lcode, rcode...)
			branchCond, _ := binCond(bin.Op)
			code = append(code, lir.Branch{
				Cond:   branchCond.Opposite(),
				Type:   bin.Left.Type(),
				Src1:   lreg,
				Src2:   rreg,
				Target: target,
			})
			return code
		}
	}
	code, reg := g.lowerExpr(cond, false)
	code = append(code, lir.Branch{
		Cond:   lir.Nset,
		Type:   cond.Type(),
		Src1:   reg,
		Target: target,
	})
	return code
}

func (g *Generator) lowerIf(s *ast.If) ([]lir.Instr, lir.Reg) {
	endLabel := g.newLabel()
	elseLabel := endLabel
	if s.Else != nil {
		elseLabel = g.newLabel()
	}

	code := g.lowerCondBranch(s.Cond, elseLabel)

	snap := g.beginBranch()
	thenCode, _ := g.lowerStmt(s.Then)
	code = append(code, thenCode...)
	g.endBranch(snap)

	if s.Else != nil {
		snap := g.beginBranch()
		code = append(code, lir.Branch{Cond: lir.Always, Target: endLabel})
		code = append(code, lir.Label{ID: elseLabel})
		elseCode, _ := g.lowerStmt(s.Else)
		code = append(code, elseCode...)
		g.endBranch(snap)
	}
	code = append(code, lir.Label{ID: endLabel})
	return code, lir.NoReg
}

func (g *Generator) lowerWhile(s *ast.While) ([]lir.Instr, lir.Reg) {
	snap := g.beginBranch()
	g.dropValues()

	startLabel := g.newLabel()
	endLabel := g.newLabel()

	code := []lir.Instr{lir.Label{ID: startLabel}}
	code = append(code, g.lowerCondBranch(s.Cond, endLabel)...)

	savedBreak, savedContinue := g.breakLabel, g.continueLabel
	g.breakLabel, g.continueLabel = endLabel, startLabel
	body, _ := g.lowerStmt(s.Body)
	g.breakLabel, g.continueLabel = savedBreak, savedContinue

	code = append(code, body...)
	code = append(code, lir.Branch{Cond: lir.Always, Target: startLabel})
	code = append(code, lir.Label{ID: endLabel})

	g.endBranch(snap)
	return code, lir.NoReg
}

func (g *Generator) lowerFor(s *ast.For) ([]lir.Instr, lir.Reg) {
	var code []lir.Instr
	if s.Init != nil {
		c, _ := g.lowerStmt(s.Init)
		code = append(code, c...)
	}

	snap := g.beginBranch()
	g.dropValues()

	startLabel := g.newLabel()
	stepLabel := g.newLabel()
	endLabel := g.newLabel()

	code = append(code, lir.Label{ID: startLabel})
	if s.Cond != nil {
		code = append(code, g.lowerCondBranch(s.Cond, endLabel)...)
	}

	savedBreak, savedContinue := g.breakLabel, g.continueLabel
	g.breakLabel, g.continueLabel = endLabel, stepLabel
	body, _ := g.lowerStmt(s.Body)
	g.breakLabel, g.continueLabel = savedBreak, savedContinue

	code = append(code, body...)
	code = append(code, lir.Label{ID: stepLabel})
	if s.Step != nil {
		c, _ := g.lowerExpr(s.Step, false)
		code = append(code, c...)
	}
	code = append(code, lir.Branch{Cond: lir.Always, Target: startLabel})
	code = append(code, lir.Label{ID: endLabel})

	g.endBranch(snap)
	return code, lir.NoReg
}

func globalSymbolName(isGlobal bool, name string) string {
	if isGlobal {
		return name
	}
	return ""
}

func log2(n int) int {
	r := 0
	for n > 1 {
		n >>= 1
		r++
	}
	return r
}
