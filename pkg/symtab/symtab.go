// Package symtab implements the scope-stack symbol table used during parsing
// and semantic analysis.
package symtab

import (
	"github.com/agnivade/levenshtein"

	"github.com/fmistri/minicc/pkg/types"
)

// StorageClass says where a symbol's value lives.
type StorageClass int

const (
	Global StorageClass = iota
	Local
	Parameter
	Function
)

func (s StorageClass) String() string {
	names := []string{"global", "local", "parameter", "function"}
	if int(s) < len(names) {
		return names[s]
	}
	return "?"
}

// Symbol is a named entity: a variable, a parameter, an array or a function.
type Symbol struct {
	Name    string
	Storage StorageClass
	Type    types.Type // value type; return type for functions
	IsArray bool
	// Function signature, set when Storage == Function
	Params  []types.Type
	Defined bool // a body has been seen (functions only)
}

// Table is a stack of scopes. The bottom scope is the global one.
type Table struct {
	scopes []map[string]*Symbol
}

// New creates a table with the global scope already open.
func New() *Table {
	t := &Table{}
	t.Push()
	return t
}

// Push opens a new innermost scope.
func (t *Table) Push() {
	t.scopes = append(t.scopes, make(map[string]*Symbol))
}

// Pop closes the innermost scope. The global scope cannot be removed.
func (t *Table) Pop() {
	if len(t.scopes) == 1 {
		panic("symtab: cannot remove the global scope")
	}
	t.scopes = t.scopes[:len(t.scopes)-1]
}

// Define adds a symbol to the innermost scope. It returns false if the same
// name is already declared in that scope (shadowing an outer scope is fine,
// redeclaring within the scope is not).
func (t *Table) Define(sym *Symbol) bool {
	scope := t.scopes[len(t.scopes)-1]
	if _, ok := scope[sym.Name]; ok {
		return false
	}
	scope[sym.Name] = sym
	return true
}

// Resolve finds a symbol by name, innermost scope first.
func (t *Table) Resolve(name string) (*Symbol, bool) {
	for i := len(t.scopes) - 1; i >= 0; i-- {
		if sym, ok := t.scopes[i][name]; ok {
			return sym, true
		}
	}
	return nil, false
}

// Suggest returns the declared name closest to the given one, for
// did-you-mean diagnostics. Empty if nothing is declared.
func (t *Table) Suggest(name string) string {
	closest := ""
	best := int(^uint(0) >> 1)
	for _, scope := range t.scopes {
		for candidate := range scope {
			if d := levenshtein.ComputeDistance(candidate, name); d < best {
				closest = candidate
				best = d
			}
		}
	}
	return closest
}
