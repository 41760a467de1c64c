package types

import "testing"

func TestSizes(t *testing.T) {
	tests := []struct {
		typ  Type
		size int
	}{
		{Of(U8), 1},
		{Of(I8), 1},
		{Of(U16), 2},
		{Of(I16), 2},
		{Of(U32), 4},
		{Of(I32), 4},
		{PointerTo(Of(U8)), 4},
		{PointerTo(PointerTo(Of(Void))), 4},
	}
	for _, tc := range tests {
		if got := tc.typ.Size(); got != tc.size {
			t.Errorf("%s: size = %d, want %d", tc.typ, got, tc.size)
		}
	}
}

func TestSignedness(t *testing.T) {
	if !Of(I32).Signed() || !Of(I16).Signed() || !Of(I8).Signed() {
		t.Error("signed integer types must report Signed")
	}
	if Of(U32).Signed() || Of(U8).Signed() {
		t.Error("unsigned integer types must not report Signed")
	}
	if PointerTo(Of(I32)).Signed() {
		t.Error("pointers compare unsigned")
	}
}

func TestCompatible(t *testing.T) {
	if Compatible(Of(I32), Of(U32)) {
		t.Error("i32 and u32 must not be compatible")
	}
	if Compatible(Of(U32), PointerTo(Of(U32))) {
		t.Error("u32 and u32* must not be compatible")
	}
	if !Compatible(Of(U32), Of(U32).WithConst()) {
		t.Error("constness must not affect compatibility")
	}
	if !Compatible(PointerTo(Of(I8)), PointerTo(Of(I8))) {
		t.Error("identical pointer types must be compatible")
	}
}

func TestCastable(t *testing.T) {
	tests := []struct {
		dst, src Type
		want     bool
	}{
		{Of(I32), Of(U32), true},
		{Of(U8), Of(U32), true},
		{Of(U32), PointerTo(Of(U8)), true},
		{PointerTo(Of(U8)), Of(U32), true},
		{PointerTo(Of(I32)), PointerTo(Of(U8)), true},
		{PointerTo(Of(Void)), PointerTo(Of(U32)), true},
		{Of(Void), Of(U32), false},
		{Of(U32), Of(Void), false},
	}
	for _, tc := range tests {
		if got := Castable(tc.dst, tc.src); got != tc.want {
			t.Errorf("cast (%s) <- %s: got %v, want %v", tc.dst, tc.src, got, tc.want)
		}
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{Of(U32), "u32"},
		{PointerTo(Of(I8)), "i8*"},
		{PointerTo(PointerTo(Of(U16))), "u16**"},
		{Of(U32).WithConst(), "const u32"},
	}
	for _, tc := range tests {
		if got := tc.typ.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
