package vm

// TokenKind classifies a metadata token's category, used to constrain
// ResolveReference's search (spec.md §6.3).
type TokenKind int

const (
	TokenTypeDef TokenKind = iota
	TokenTypeRef
	TokenTypeSpec
	TokenMethodDef
	TokenMethodRef
	TokenFieldDef
	TokenFieldRef
)

// TypeRef names a type referenced from a catch clause or a v-call
// sub-opcode (CAST, BOX/UNBOX, INITOBJ).
type TypeRef struct {
	Token uint32
	Name  string
}

// MethodSignature describes a call target's shape, used by CALL (4.C) to
// compute how many stack values to consume and whether the call yields a
// value.
type MethodSignature struct {
	ReturnType     VMType
	ParameterCount int
	IsInstance     bool
	Name           string
}

// FieldRef names a field referenced from LDFLD/STFLD.
type FieldRef struct {
	Token uint32
	Name  string
	Type  VMType
}

// Member is the tagged result of ResolveMember: exactly one of Type,
// Method, Field is set according to Kind.
type Member struct {
	Kind   TokenKind
	Token  uint32
	Type   *TypeRef
	Method *MethodSignature
	Field  *FieldRef
}

// MetadataImage is the external collaborator of spec.md §6.3: the host
// binary's managed metadata image. The core never parses metadata itself;
// it only resolves tokens and VM-level ids through this interface.
type MetadataImage interface {
	// ResolveMember returns the referenced type, method, or field, or
	// ok=false if token does not name a member.
	ResolveMember(token uint32) (Member, bool)

	// ResolveReference maps a VM-level id (as seen in a v-call operand or
	// a TRY catch-type slot) onto a metadata token within one of the
	// allowed categories. logger is threaded through so the metadata
	// image can emit diagnostics attributed to the resolving component.
	ResolveReference(logger Logger, offset uint64, id uint32, allowed ...TokenKind) (uint32, bool)
}
