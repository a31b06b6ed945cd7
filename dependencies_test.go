package vm

import "testing"

func TestDependenciesAddOrMerge(t *testing.T) {
	var d Dependencies

	d.AddOrMerge(0, NewSymbolicValue(10, Dword))
	if d.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", d.Len())
	}

	// Merging into slot 0 again unions sources instead of overwriting.
	d.AddOrMerge(0, NewSymbolicValue(20, Dword))
	got := d.Get(0)
	if len(got.Sources) != 2 {
		t.Errorf("Get(0).Sources has %d entries, want 2", len(got.Sources))
	}

	// Allocating slot 2 directly grows past the unset slot 1.
	d.AddOrMerge(2, NewSymbolicValue(30, Ptr))
	if d.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", d.Len())
	}
	if !d.Get(1).IsZero() {
		t.Errorf("Get(1) should still be the zero value, got %+v", d.Get(1))
	}
}

func TestDependenciesLast(t *testing.T) {
	var empty Dependencies
	if _, ok := empty.Last(); ok {
		t.Error("Last() on empty Dependencies should report ok == false")
	}

	var d Dependencies
	d.AddOrMerge(0, NewSymbolicValue(1, Dword))
	d.AddOrMerge(1, NewSymbolicValue(2, Ptr))

	last, ok := d.Last()
	if !ok {
		t.Fatal("Last() reported ok == false on a non-empty Dependencies")
	}
	if last.Type != Ptr {
		t.Errorf("Last().Type = %v, want %v", last.Type, Ptr)
	}
}

func TestDependenciesClone(t *testing.T) {
	var d Dependencies
	d.AddOrMerge(0, NewSymbolicValue(1, Dword))

	clone := d.Clone()
	clone.AddOrMerge(1, NewSymbolicValue(2, Ptr))

	if d.Len() != 1 {
		t.Errorf("Clone() aliased the original Dependencies: Len() = %d, want 1", d.Len())
	}
}
