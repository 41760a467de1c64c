package riscv

import (
	"bytes"
	"strings"
	"testing"
)

func TestInstrString(t *testing.T) {
	tests := []struct {
		instr Instr
		want  string
	}{
		{Instr{Op: ADDI, Dest: A0, Src1: X0, Imm: 42}, "\taddi\ta0, x0, 42\n"},
		{Instr{Op: ADD, Dest: T0, Src1: T1, Src2: T2}, "\tadd\tt0, t1, t2\n"},
		{Instr{Op: LW, Dest: T0, Src1: FP, Imm: -4}, "\tlw\tt0, -4(s0)\n"},
		{Instr{Op: SW, Src1: SP, Src2: RA, Imm: 12}, "\tsw\tra, 12(sp)\n"},
		{Instr{Op: BEQ, Src1: T0, Src2: X0, Label: 3, FnID: 1}, "\tbeq\tt0, x0, L_1_3\n"},
		{Instr{Op: J, Label: 2, FnID: 1}, "\tjal\tx0, L_1_2\n"},
		{Instr{Op: JAL, Symbol: "main"}, "\tjal\tra, main\n"},
		{Instr{Op: JALR, Src1: RA}, "\tjalr\tx0, ra, 0\n"},
		{Instr{Op: LA, Dest: TP, Symbol: "counter"}, "\tla\ttp, counter\n"},
		{Instr{Op: LABEL, Label: 5, FnID: 2}, "L_2_5:\n"},
		{Instr{Op: LUI, Dest: T1, Imm: 74565}, "\tlui\tt1, 74565\n"},
	}
	for _, tc := range tests {
		if got := InstrString(tc.instr); got != tc.want {
			t.Errorf("InstrString(%+v) = %q, want %q", tc.instr, got, tc.want)
		}
	}
}

func TestVirtualRegisterNames(t *testing.T) {
	if got := Reg(7).String(); got != "v7" {
		t.Errorf("virtual register name = %q, want v7", got)
	}
	if !Reg(7).Virtual() || T0.Virtual() {
		t.Error("virtual/physical classification wrong")
	}
}

func TestPrintProgram(t *testing.T) {
	prog := &Program{
		Globals: []Global{{Name: "counter", Size: 4, Align: 4}},
		Functions: []*Function{{
			Name: "main",
			Code: []Instr{
				{Op: ADDI, Dest: A0, Src1: X0, Imm: 0},
				{Op: JALR, Src1: RA},
			},
		}},
		SpillStackSize: 64,
	}

	var buf bytes.Buffer
	NewPrinter(&buf).PrintProgram(prog)
	out := buf.String()

	for _, want := range []string{
		"\t.data\n",
		"counter:\n\t.zero\t4\n",
		SpillStackSymbol + ":\n\t.zero\t64\n",
		SpillStackSymbol + "_top:\n",
		"\t.text\n",
		"main:\n",
		"\taddi\ta0, x0, 0\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
