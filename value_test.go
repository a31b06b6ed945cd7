package vm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSymbolicValueMerge(t *testing.T) {
	tests := []struct {
		name string
		a    SymbolicValue
		b    SymbolicValue
		want SymbolicValue
	}{
		{
			name: "disjoint sources, equal type",
			a:    NewSymbolicValue(10, Dword),
			b:    NewSymbolicValue(20, Dword),
			want: SymbolicValue{Sources: map[uint64]struct{}{10: {}, 20: {}}, Type: Dword},
		},
		{
			name: "one unknown widens to the other",
			a:    NewSymbolicValue(10, Unknown),
			b:    NewSymbolicValue(20, Ptr),
			want: SymbolicValue{Sources: map[uint64]struct{}{10: {}, 20: {}}, Type: Ptr},
		},
		{
			name: "disagreeing types widen to Unknown",
			a:    NewSymbolicValue(10, Dword),
			b:    NewSymbolicValue(20, Ptr),
			want: SymbolicValue{Sources: map[uint64]struct{}{10: {}, 20: {}}, Type: Unknown},
		},
		{
			name: "overlapping sources still union",
			a:    NewSymbolicValue(10, Dword),
			b:    NewSymbolicValue(10, Dword),
			want: SymbolicValue{Sources: map[uint64]struct{}{10: {}}, Type: Dword},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.a.Merge(tt.b)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
			}

			// Merge is commutative up to type widening.
			rev := tt.b.Merge(tt.a)
			if diff := cmp.Diff(tt.want, rev); diff != "" {
				t.Errorf("Merge() is not commutative (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSymbolicValueIsZero(t *testing.T) {
	var zero SymbolicValue
	if !zero.IsZero() {
		t.Error("zero-value SymbolicValue should report IsZero() == true")
	}

	v := NewSymbolicValue(1, Byte)
	if v.IsZero() {
		t.Error("a constructed SymbolicValue should report IsZero() == false")
	}
}

func TestSymbolicValueWithType(t *testing.T) {
	v := NewSymbolicValue(5, Dword)
	retyped := v.WithType(Ptr)

	if retyped.Type != Ptr {
		t.Errorf("WithType() Type = %v, want %v", retyped.Type, Ptr)
	}
	if diff := cmp.Diff(v.Sources, retyped.Sources); diff != "" {
		t.Errorf("WithType() should not change Sources (-orig +retyped):\n%s", diff)
	}
}

func TestWidenType(t *testing.T) {
	tests := []struct {
		a, b, want VMType
	}{
		{Unknown, Unknown, Unknown},
		{Dword, Unknown, Dword},
		{Unknown, Ptr, Ptr},
		{Dword, Dword, Dword},
		{Dword, Ptr, Unknown},
	}
	for _, tt := range tests {
		if got := WidenType(tt.a, tt.b); got != tt.want {
			t.Errorf("WidenType(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
