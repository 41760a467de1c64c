package lir

import (
	"fmt"
	"io"
	"strings"
)

// Printer outputs LIR in a readable format, used by the --print-lir flag.
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new LIR printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintProgram prints every function of the program
func (p *Printer) PrintProgram(prog *Program) {
	for _, fn := range prog.Functions {
		p.PrintFunction(fn)
	}
}

// PrintFunction prints one function with its instruction list
func (p *Printer) PrintFunction(fn *Function) {
	fmt.Fprintf(p.w, "\nfunction<%s> %s (", fn.Ret, fn.Name)
	for i, param := range fn.Params {
		if i > 0 {
			fmt.Fprint(p.w, ", ")
		}
		fmt.Fprintf(p.w, "v%d<%s>", i+1, param)
	}
	fmt.Fprintln(p.w, ") {")
	for _, instr := range fn.Code {
		fmt.Fprint(p.w, p.instrString(instr))
	}
	fmt.Fprintln(p.w, "}")
}

func (p *Printer) instrString(instr Instr) string {
	switch i := instr.(type) {
	case Alloc:
		var sb strings.Builder
		fmt.Fprintf(&sb, "\tv%d = alloc<%s> ", i.Dst, i.Type)
		if i.Init != NoReg {
			fmt.Fprintf(&sb, "v%d ", i.Init)
		}
		if i.SizeReg != NoReg {
			fmt.Fprintf(&sb, "[v%d] ", i.SizeReg)
		} else {
			fmt.Fprintf(&sb, "[%d] ", i.Size)
		}
		if i.Global {
			fmt.Fprintf(&sb, "!global @%s", i.Symbol)
		}
		sb.WriteByte('\n')
		return sb.String()
	case Return:
		if i.Src != NoReg {
			return fmt.Sprintf("\treturn<%s> v%d\n", i.Type, i.Src)
		}
		return "\treturn\n"
	case MovC:
		return fmt.Sprintf("\tv%d = <%s> $%d\n", i.Dst, i.Type, i.Value)
	case Cast:
		return fmt.Sprintf("\tv%d = <%s><%s> v%d\n", i.Dst, i.DstType, i.SrcType, i.Src)
	case Store:
		return fmt.Sprintf("\tstore<%s> v%d, v%d\n", i.Type, i.Addr, i.Val)
	case LoadA:
		return fmt.Sprintf("\tv%d = load<%s> @%s\n", i.Dst, i.Type, i.Symbol)
	case LoadR:
		return fmt.Sprintf("\tv%d = load<%s> v%d\n", i.Dst, i.Type, i.Addr)
	case Label:
		return fmt.Sprintf("\n\t%%L_%d:\n", i.ID)
	case Call:
		var sb strings.Builder
		if i.Dst != NoReg {
			fmt.Fprintf(&sb, "\tv%d = call<%s> %s(", i.Dst, i.Type, i.Name)
		} else {
			fmt.Fprintf(&sb, "\tcall %s(", i.Name)
		}
		for n, arg := range i.Args {
			if n > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "v%d", arg)
		}
		sb.WriteString(")\n")
		return sb.String()
	case Branch:
		switch i.Cond {
		case Always:
			return fmt.Sprintf("\tj %%L_%d\n", i.Target)
		case Set, Nset:
			return fmt.Sprintf("\tj%s<%s> v%d %%L_%d\n", i.Cond, i.Type, i.Src1, i.Target)
		default:
			return fmt.Sprintf("\tj%s<%s> v%d, v%d %%L_%d\n", i.Cond, i.Type, i.Src1, i.Src2, i.Target)
		}
	case Binary:
		return fmt.Sprintf("\tv%d = %s <%s> v%d, v%d\n", i.Dst, i.Op, i.Type, i.Src1, i.Src2)
	case Unary:
		return fmt.Sprintf("\tv%d = %s<%s> v%d\n", i.Dst, i.Op, i.Type, i.Src)
	}
	return fmt.Sprintf("\t/* unknown instruction %T */\n", instr)
}
