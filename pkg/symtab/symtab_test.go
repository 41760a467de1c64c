package symtab

import (
	"testing"

	"github.com/fmistri/minicc/pkg/types"
)

func TestDefineResolve(t *testing.T) {
	tab := New()

	if ok := tab.Define(&Symbol{Name: "x", Storage: Global, Type: types.Of(types.U32)}); !ok {
		t.Fatal("first definition of x must succeed")
	}
	if ok := tab.Define(&Symbol{Name: "x", Storage: Global, Type: types.Of(types.I32)}); ok {
		t.Fatal("redefinition of x in the same scope must fail")
	}

	sym, ok := tab.Resolve("x")
	if !ok || sym.Type.Native != types.U32 {
		t.Fatalf("resolve x: got %v, %v", sym, ok)
	}
}

func TestShadowing(t *testing.T) {
	tab := New()
	tab.Define(&Symbol{Name: "v", Storage: Global, Type: types.Of(types.U32)})

	tab.Push()
	if ok := tab.Define(&Symbol{Name: "v", Storage: Local, Type: types.Of(types.I8)}); !ok {
		t.Fatal("shadowing in an inner scope must succeed")
	}
	sym, _ := tab.Resolve("v")
	if sym.Storage != Local {
		t.Error("inner scope must win resolution")
	}

	tab.Pop()
	sym, _ = tab.Resolve("v")
	if sym.Storage != Global {
		t.Error("after pop the outer symbol must be visible again")
	}
}

func TestSuggest(t *testing.T) {
	tab := New()
	tab.Define(&Symbol{Name: "counter", Storage: Global, Type: types.Of(types.U32)})
	tab.Define(&Symbol{Name: "limit", Storage: Global, Type: types.Of(types.U32)})

	if got := tab.Suggest("couter"); got != "counter" {
		t.Errorf("Suggest(couter) = %q, want counter", got)
	}
}
