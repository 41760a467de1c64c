package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fmistri/minicc/pkg/ast"
	"github.com/fmistri/minicc/pkg/codegen"
	"github.com/fmistri/minicc/pkg/lexer"
	"github.com/fmistri/minicc/pkg/lir"
	"github.com/fmistri/minicc/pkg/lirgen"
	"github.com/fmistri/minicc/pkg/optimizer"
	"github.com/fmistri/minicc/pkg/parser"
	"github.com/fmistri/minicc/pkg/riscv"
)

var version = "0.1.0"

var (
	fileName string
	optLevel int
	printAST bool
	printLIR bool
	arch     string
	output   string
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "minicc",
		Short: "minicc compiles a small C-like language to RV32IM assembly",
		Long: `minicc is a whole-program compiler for a small statically-typed
C-like language. It parses and type-checks the source, lowers it to a
linear IR with local optimizations, and emits RV32IM assembly following
the RISC-V calling convention.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return compile(out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Flags().StringVar(&fileName, "file-name", "", "path of the file to compile")
	rootCmd.Flags().IntVar(&optLevel, "opt", 0, "optimization level (0, 1 or 2)")
	rootCmd.Flags().BoolVar(&printAST, "print-ast", false, "show the result of parsing")
	rootCmd.Flags().BoolVar(&printLIR, "print-lir", false, "show the LIR after optimization")
	rootCmd.Flags().StringVar(&arch, "arch", "rv32im", "target architecture")
	rootCmd.Flags().StringVarP(&output, "output", "o", "", "write assembly to a file instead of stdout")
	rootCmd.MarkFlagRequired("file-name")

	return rootCmd
}

func compile(out, errOut io.Writer) error {
	if optLevel < 0 || optLevel > 2 {
		fmt.Fprintf(errOut, "minicc: invalid optimization level %d\n", optLevel)
		return fmt.Errorf("invalid --opt value")
	}
	if arch != "rv32im" {
		fmt.Fprintf(errOut, "minicc: unsupported architecture %q\n", arch)
		return fmt.Errorf("unsupported --arch value")
	}

	content, err := os.ReadFile(fileName)
	if err != nil {
		fmt.Fprintf(errOut, "minicc: error reading %s: %v\n", fileName, err)
		return err
	}

	l := lexer.New(string(content))
	p := parser.New(l)
	program := p.ParseProgram()

	if errs := p.Errors(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(errOut, "%s: %s\n", fileName, e)
		}
		return fmt.Errorf("compilation failed with %d errors", len(errs))
	}

	if printAST {
		ast.NewPrinter(out).PrintProgram(program)
	}

	ir := lirgen.New(optLevel).Generate(program)
	if optLevel > 1 {
		ir = optimizer.Optimize(ir)
	}

	if printLIR {
		lir.NewPrinter(out).PrintProgram(ir)
	}

	asm := codegen.Generate(ir)

	asmOut := out
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			fmt.Fprintf(errOut, "minicc: error creating %s: %v\n", output, err)
			return err
		}
		defer f.Close()
		asmOut = f
	}
	riscv.NewPrinter(asmOut).PrintProgram(asm)
	return nil
}
