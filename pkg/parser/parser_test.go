package parser

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/fmistri/minicc/pkg/ast"
	"github.com/fmistri/minicc/pkg/lexer"
)

// TestSpec represents a test case from parse.yaml
type TestSpec struct {
	Name  string `yaml:"name"`
	Input string `yaml:"input"`
	Dump  string `yaml:"dump"`
}

// ErrorSpec represents an expected-diagnostic case from parse.yaml
type ErrorSpec struct {
	Name  string `yaml:"name"`
	Input string `yaml:"input"`
	Want  string `yaml:"want"`
}

// TestFile represents the parse.yaml file structure
type TestFile struct {
	Tests  []TestSpec  `yaml:"tests"`
	Errors []ErrorSpec `yaml:"errors"`
}

func loadTestFile(t *testing.T) TestFile {
	t.Helper()
	data, err := os.ReadFile("testdata/parse.yaml")
	if err != nil {
		t.Fatalf("failed to read parse.yaml: %v", err)
	}
	var testFile TestFile
	if err := yaml.Unmarshal(data, &testFile); err != nil {
		t.Fatalf("failed to parse parse.yaml: %v", err)
	}
	return testFile
}

func TestParseYAML(t *testing.T) {
	testFile := loadTestFile(t)

	for _, tc := range testFile.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			l := lexer.New(tc.Input)
			p := New(l)
			program := p.ParseProgram()

			if errs := p.Errors(); len(errs) > 0 {
				t.Fatalf("parser errors: %v", errs)
			}

			var buf bytes.Buffer
			ast.NewPrinter(&buf).PrintProgram(program)
			if got := buf.String(); got != tc.Dump {
				t.Errorf("AST dump mismatch.\ngot:\n%s\nwant:\n%s", got, tc.Dump)
			}
		})
	}
}

func TestSemanticErrorsYAML(t *testing.T) {
	testFile := loadTestFile(t)

	for _, tc := range testFile.Errors {
		t.Run(tc.Name, func(t *testing.T) {
			l := lexer.New(tc.Input)
			p := New(l)
			p.ParseProgram()

			errs := p.Errors()
			if tc.Want == "" {
				if len(errs) > 0 {
					t.Fatalf("expected no errors, got %v", errs)
				}
				return
			}
			for _, e := range errs {
				if strings.Contains(e, tc.Want) {
					return
				}
			}
			t.Fatalf("expected an error containing %q, got %v", tc.Want, errs)
		})
	}
}

func TestErrorsCarryPosition(t *testing.T) {
	input := "u32 main() {\n  u32 x = y;\n  return 0;\n}\n"
	l := lexer.New(input)
	p := New(l)
	p.ParseProgram()

	errs := p.Errors()
	if len(errs) == 0 {
		t.Fatal("expected a diagnostic for undeclared y")
	}
	if !strings.Contains(errs[0], "line 2") {
		t.Errorf("diagnostic should point at line 2: %q", errs[0])
	}
}

func TestRedefinitionOfFunction(t *testing.T) {
	input := `
u32 f() { return 1; }
u32 f() { return 2; }
u32 main() { return 0; }
`
	l := lexer.New(input)
	p := New(l)
	p.ParseProgram()

	found := false
	for _, e := range p.Errors() {
		if strings.Contains(e, "redefinition of function 'f'") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected redefinition error, got %v", p.Errors())
	}
}

func TestConflictingPrototype(t *testing.T) {
	input := `
u32 f(u32 x);
i32 f(u32 x) { return 0; }
u32 main() { return 0; }
`
	l := lexer.New(input)
	p := New(l)
	p.ParseProgram()

	found := false
	for _, e := range p.Errors() {
		if strings.Contains(e, "conflicting declaration of function 'f'") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected conflicting declaration error, got %v", p.Errors())
	}
}

// Expressions that follow the typing rules (address-of, dereference,
// comparison, unary minus) are accepted without diagnostics.
func TestExpressionTypes(t *testing.T) {
	input := `
u32 main() {
  u32 a = 1;
  u32* p = &a;
  u32 b = *p;
  u32 c = (a < b);
  i32 d = -(5);
  return c;
}
`
	l := lexer.New(input)
	p := New(l)
	p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
}
