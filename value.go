package vm

// SymbolicValue is the set of producer-instruction offsets that may have
// produced a value on the symbolic stack or in a register, plus the
// inferred VM type, per spec.md §3. Data sources are stored as offsets
// into the owning VMExportDisassembly's instruction arena rather than as
// instruction pointers, per the cyclic-reference strategy in spec.md §9:
// instructions own their Dependencies, Dependencies own SymbolicValues,
// and SymbolicValues only ever hold arena indices, never instruction
// ownership.
type SymbolicValue struct {
	Sources map[uint64]struct{}
	Type    VMType
}

// NewSymbolicValue returns a singleton data source.
func NewSymbolicValue(producerOffset uint64, t VMType) SymbolicValue {
	return SymbolicValue{Sources: map[uint64]struct{}{producerOffset: {}}, Type: t}
}

// Merge unions the data-source sets of v and other and widens the type to
// their least upper bound. Merge is commutative and associative up to
// type-widening, and widening is idempotent (spec.md §8).
func (v SymbolicValue) Merge(other SymbolicValue) SymbolicValue {
	merged := make(map[uint64]struct{}, len(v.Sources)+len(other.Sources))
	for k := range v.Sources {
		merged[k] = struct{}{}
	}
	for k := range other.Sources {
		merged[k] = struct{}{}
	}
	return SymbolicValue{Sources: merged, Type: WidenType(v.Type, other.Type)}
}

// WithType returns a copy of v with its type replaced, used by the
// instruction processor's default pop path to assign a slot's declared
// type onto an already-produced value (4.C: "assign its type from the
// slot's declared type").
func (v SymbolicValue) WithType(t VMType) SymbolicValue {
	return SymbolicValue{Sources: v.Sources, Type: t}
}

// IsZero reports whether v has never been assigned a data source, used by
// Dependencies to distinguish an unset slot from a merged one.
func (v SymbolicValue) IsZero() bool {
	return v.Sources == nil
}
