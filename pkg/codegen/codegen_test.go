package codegen

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/fmistri/minicc/pkg/lexer"
	"github.com/fmistri/minicc/pkg/lirgen"
	"github.com/fmistri/minicc/pkg/optimizer"
	"github.com/fmistri/minicc/pkg/parser"
	"github.com/fmistri/minicc/pkg/riscv"
)

func compile(t *testing.T, src string, opt int) *riscv.Program {
	t.Helper()
	l := lexer.New(src)
	p := parser.New(l)
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	ir := lirgen.New(opt).Generate(program)
	if opt > 1 {
		ir = optimizer.Optimize(ir)
	}
	return Generate(ir)
}

func findFunction(t *testing.T, prog *riscv.Program, name string) *riscv.Function {
	t.Helper()
	for _, fn := range prog.Functions {
		if fn.Name == name {
			return fn
		}
	}
	t.Fatalf("function %s not found", name)
	return nil
}

func printProgram(prog *riscv.Program) string {
	var buf bytes.Buffer
	riscv.NewPrinter(&buf).PrintProgram(prog)
	return buf.String()
}

// After allocation no virtual register may remain anywhere.
func assertAllocated(t *testing.T, fn *riscv.Function) {
	t.Helper()
	for _, in := range fn.Code {
		for _, r := range []riscv.Reg{in.Dest, in.Src1, in.Src2} {
			if r.Virtual() {
				t.Fatalf("%s: virtual register %s survived allocation: %s",
					fn.Name, r, riscv.InstrString(in))
			}
		}
	}
}

// return C must land C in a0.
func TestReturnConstant(t *testing.T) {
	for _, opt := range []int{0, 2} {
		prog := compile(t, "u32 main() { return 42; }", opt)
		main := findFunction(t, prog, "main")
		assertAllocated(t, main)

		text := printProgram(prog)
		if !strings.Contains(text, "addi\tt0, x0, 42") {
			t.Errorf("opt %d: expected the constant 42 to materialize:\n%s", opt, text)
		}
		if !strings.Contains(text, "addi\ta0, t0, 0") {
			t.Errorf("opt %d: expected the result to move into a0:\n%s", opt, text)
		}
		if !strings.Contains(text, "jalr\tx0, ra, 0") {
			t.Errorf("opt %d: expected a return:\n%s", opt, text)
		}
	}
}

// Wide constants need the lui+addi pair.
func TestWideConstant(t *testing.T) {
	prog := compile(t, "u32 main() { return 0x12345678; }", 0)
	text := printProgram(prog)
	if !strings.Contains(text, "lui\t") {
		t.Errorf("expected lui for a wide constant:\n%s", text)
	}
}

// A constant operand folds into the immediate form and the li disappears.
func TestImmediateFolding(t *testing.T) {
	src := `
u32 main() {
  u32 x = 5;
  u32 y = x + 3;
  return y;
}
`
	prog := compile(t, src, 1)
	main := findFunction(t, prog, "main")
	assertAllocated(t, main)

	foldedAdd := false
	looseAdd := false
	for _, in := range main.Code {
		if in.Op == riscv.ADDI && in.Imm == 3 {
			foldedAdd = true
		}
		if in.Op == riscv.ADD {
			looseAdd = true
		}
	}
	if !foldedAdd {
		t.Error("expected x + 3 to fold into addi")
	}
	if looseAdd {
		t.Error("expected no register-register add to remain")
	}

	// The li of 3 lost its only reader and must be swept.
	count := 0
	for _, in := range main.Code {
		if in.Op == riscv.ADDI && in.Src1 == riscv.X0 && in.Imm == 3 {
			count++
		}
	}
	if count != 0 {
		t.Errorf("dead li 3 survived cleanup (%d occurrences)", count)
	}
}

// Typed loads and stores pick the right width and extension.
func TestTypedMemoryAccess(t *testing.T) {
	src := `
u32 main() {
  u8 c = 'a';
  i16 h = 5;
  u8* pc = &c;
  i16* ph = &h;
  u8 x = *pc;
  i16 y = *ph;
  return 0;
}
`
	prog := compile(t, src, 0)
	text := printProgram(prog)

	for _, want := range []string{"sb\t", "sh\t", "lbu\t", "lh\t"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output:\n%s", want, text)
		}
	}
}

// Branch synthesis: signed and unsigned comparisons pick matching branches.
func TestBranchSignedness(t *testing.T) {
	src := `
u32 main() {
  i32 a = 1;
  i32 b = 2;
  if (a < b) { return 1; }
  u32 c = 1;
  u32 d = 2;
  if (c < d) { return 2; }
  return 0;
}
`
	prog := compile(t, src, 1)
	text := printProgram(prog)

	if !strings.Contains(text, "bge\t") {
		t.Errorf("expected a signed bge for the i32 comparison:\n%s", text)
	}
	if !strings.Contains(text, "bgeu\t") {
		t.Errorf("expected an unsigned bgeu for the u32 comparison:\n%s", text)
	}
}

// Register pressure beyond the pool must spill through tp.
func TestSpilling(t *testing.T) {
	// A deeply right-nested sum keeps one addend alive per nesting level.
	var sb strings.Builder
	sb.WriteString("u32 main() {\n")
	n := 24
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, "  u32 a%d = %d;\n", i, i)
	}
	sb.WriteString("  u32 s = ")
	for i := 1; i < n; i++ {
		fmt.Fprintf(&sb, "a%d + (", i)
	}
	fmt.Fprintf(&sb, "a%d", n)
	sb.WriteString(strings.Repeat(")", n-1))
	sb.WriteString(";\n  return s;\n}\n")

	prog := compile(t, sb.String(), 1)
	main := findFunction(t, prog, "main")
	assertAllocated(t, main)

	spillStores, spillLoads := 0, 0
	for _, in := range main.Code {
		if in.Src1 == riscv.TP {
			switch in.Op {
			case riscv.SW:
				spillStores++
			case riscv.LW:
				spillLoads++
			}
		}
	}
	if spillStores == 0 || spillLoads == 0 {
		t.Errorf("expected spill traffic through tp, got %d stores / %d loads",
			spillStores, spillLoads)
	}
}

// Calls move arguments into a0..a7 and read the result from a0.
func TestCallConvention(t *testing.T) {
	src := `
u32 add(u32 a, u32 b) { return a + b; }
u32 main() { return add(1, 2); }
`
	prog := compile(t, src, 0)
	text := printProgram(prog)

	if !strings.Contains(text, "jal\tra, add") {
		t.Errorf("expected a call to add:\n%s", text)
	}
	if !strings.Contains(text, "addi\ta0, ") || !strings.Contains(text, "addi\ta1, ") {
		t.Errorf("expected argument moves into a0/a1:\n%s", text)
	}
}

// More than eight arguments overflow onto the stack.
func TestOverflowArguments(t *testing.T) {
	src := `
u32 many(u32 a, u32 b, u32 c, u32 d, u32 e, u32 f, u32 g, u32 h, u32 i, u32 j) {
  return a + j;
}
u32 main() { return many(1, 2, 3, 4, 5, 6, 7, 8, 9, 10); }
`
	prog := compile(t, src, 0)
	many := findFunction(t, prog, "many")
	assertAllocated(t, many)

	// The callee reads the ninth and tenth arguments from its frame pointer.
	fpLoads := 0
	for _, in := range many.Code {
		if in.Op == riscv.LW && in.Src1 == riscv.FP && in.Imm >= 0 {
			fpLoads++
		}
	}
	if fpLoads < 2 {
		t.Errorf("expected the callee to load two overflow arguments, got %d", fpLoads)
	}

	// The caller stores them above its outgoing stack pointer.
	main := findFunction(t, prog, "main")
	spStores := 0
	for _, in := range main.Code {
		if in.Op == riscv.SW && in.Src1 == riscv.SP {
			spStores++
		}
	}
	if spStores < 2 {
		t.Errorf("expected two overflow argument stores, got %d", spStores)
	}
}

// The prologue carves an aligned frame and the epilogue mirrors it.
func TestFrameLayout(t *testing.T) {
	src := `
u32 main() {
  u32 a = 1;
  u32 b = 2;
  return a + b;
}
`
	prog := compile(t, src, 0)
	main := findFunction(t, prog, "main")

	first := main.Code[0]
	if first.Op != riscv.ADDI || first.Dest != riscv.SP || first.Src1 != riscv.SP {
		t.Fatalf("prologue must open with an sp adjustment, got %s", riscv.InstrString(first))
	}
	if -first.Imm%16 != 0 {
		t.Errorf("frame size %d is not 16-byte aligned", -first.Imm)
	}

	text := printProgram(prog)
	if !strings.Contains(text, "sw\tra, ") {
		t.Errorf("prologue must save ra:\n%s", text)
	}
	if !strings.Contains(text, "lw\tra, -4(s0)") {
		t.Errorf("epilogue must restore ra:\n%s", text)
	}
}

// Globals become data-section definitions addressed via la.
func TestGlobalData(t *testing.T) {
	src := `
u32 counter = 3;
u32 table[8];
u32 main() { return counter; }
`
	prog := compile(t, src, 0)

	var counter, table *riscv.Global
	for i := range prog.Globals {
		switch prog.Globals[i].Name {
		case "counter":
			counter = &prog.Globals[i]
		case "table":
			table = &prog.Globals[i]
		}
	}
	if counter == nil || counter.Size != 4 {
		t.Fatalf("expected a 4-byte counter global, got %+v", counter)
	}
	if table == nil || table.Size != 32 {
		t.Fatalf("expected a 32-byte table global, got %+v", table)
	}

	text := printProgram(prog)
	if !strings.Contains(text, "la\t") {
		t.Errorf("expected la for global addressing:\n%s", text)
	}
	if !strings.Contains(text, ".zero\t32") {
		t.Errorf("expected table storage in the data section:\n%s", text)
	}
}

// The init function points tp at the spill stack before anything can spill.
func TestSpillStackSetup(t *testing.T) {
	prog := compile(t, "u32 main() { return 0; }", 0)
	init := findFunction(t, prog, "init")

	found := false
	for _, in := range init.Code {
		if in.Op == riscv.LA && in.Dest == riscv.TP {
			found = true
		}
	}
	if !found {
		t.Error("init must load the spill stack top into tp")
	}

	text := printProgram(prog)
	if !strings.Contains(text, riscv.SpillStackSymbol) {
		t.Errorf("expected the spill stack region in the output:\n%s", text)
	}
}
