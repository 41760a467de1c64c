package optimizer

import (
	"testing"

	"github.com/fmistri/minicc/pkg/lexer"
	"github.com/fmistri/minicc/pkg/lir"
	"github.com/fmistri/minicc/pkg/lirgen"
	"github.com/fmistri/minicc/pkg/parser"
)

func generate(t *testing.T, src string, opt int) *lir.Program {
	t.Helper()
	l := lexer.New(src)
	p := parser.New(l)
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	return lirgen.New(opt).Generate(program)
}

func findFunction(t *testing.T, prog *lir.Program, name string) *lir.Function {
	t.Helper()
	for _, fn := range prog.Functions {
		if fn.Name == name {
			return fn
		}
	}
	t.Fatalf("function %s not found", name)
	return nil
}

// Statements after a return are unreachable and must be pruned.
func TestUnreachableAfterReturn(t *testing.T) {
	src := `
u32 main() {
  return 1;
  return 2;
}
`
	prog := Optimize(generate(t, src, 2))
	main := findFunction(t, prog, "main")

	returns := 0
	for _, instr := range main.Code {
		if _, ok := instr.(lir.Return); ok {
			returns++
		}
	}
	if returns != 1 {
		t.Errorf("expected exactly one Return after optimization, got %d", returns)
	}
}

// A value computed but never used disappears.
func TestDeadComputationRemoved(t *testing.T) {
	src := `
u32 main() {
  u32 unused = 3 * 14;
  return 0;
}
`
	prog := Optimize(generate(t, src, 2))
	main := findFunction(t, prog, "main")

	for _, instr := range main.Code {
		if bin, ok := instr.(lir.Binary); ok && bin.Op == lir.Mul {
			t.Error("dead multiplication survived optimization")
		}
	}
}

// Stores to locals that are still read must survive.
func TestLiveStoreSurvives(t *testing.T) {
	src := `
u32 flip(u32* p) {
  *p = 1;
  return 0;
}
u32 main() {
  u32 x = 0;
  flip(&x);
  return x;
}
`
	prog := Optimize(generate(t, src, 2))
	flip := findFunction(t, prog, "flip")

	stores := 0
	for _, instr := range flip.Code {
		if _, ok := instr.(lir.Store); ok {
			stores++
		}
	}
	if stores == 0 {
		t.Error("store through a pointer parameter must survive")
	}
}

// Running the dead-code pass twice yields what one run yields.
func TestDeadCodeIdempotent(t *testing.T) {
	src := `
u32 main() {
  u32 a = 1;
  u32 b = a + 2;
  u32 c = b * 3;
  return b;
}
`
	prog := generate(t, src, 2)
	once := Optimize(prog)
	main := findFunction(t, once, "main")
	lenOnce := len(main.Code)

	twice := Optimize(once)
	if got := len(findFunction(t, twice, "main").Code); got != lenOnce {
		t.Errorf("optimizer is not idempotent: %d then %d instructions", lenOnce, got)
	}
}

// A branch to the label that immediately follows collapses.
func TestBranchToNextCollapses(t *testing.T) {
	src := `
u32 main() {
  u32 x = 1;
  if (x == 1) {}
  return x;
}
`
	prog := Optimize(generate(t, src, 2))
	main := findFunction(t, prog, "main")

	for _, instr := range main.Code {
		if _, ok := instr.(lir.Branch); ok {
			t.Error("branch over an empty block must collapse")
		}
	}
}

// Every surviving branch still targets a label that survived optimization.
func TestNoOrphanBranchTargets(t *testing.T) {
	src := `
u32 main() {
  u32 s = 0;
  for (u32 i = 0; i < 4; i = i + 1) {
    if (i == 2) { continue; }
    s = s + i;
  }
  return s;
}
`
	prog := Optimize(generate(t, src, 2))
	main := findFunction(t, prog, "main")

	labels := make(map[int]bool)
	for _, instr := range main.Code {
		if l, ok := instr.(lir.Label); ok {
			labels[l.ID] = true
		}
	}
	for _, instr := range main.Code {
		if br, ok := instr.(lir.Branch); ok && !labels[br.Target] {
			t.Errorf("branch targets removed label %d", br.Target)
		}
	}
}

// The init function is exempt: its global allocations define data symbols.
func TestInitIsNotOptimized(t *testing.T) {
	src := `
u32 counter = 3;
u32 main() { return counter; }
`
	prog := generate(t, src, 2)
	before := len(findFunction(t, prog, "init").Code)
	after := len(findFunction(t, Optimize(prog), "init").Code)
	if before != after {
		t.Errorf("init changed from %d to %d instructions", before, after)
	}
}
