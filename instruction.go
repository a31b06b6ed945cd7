package vm

// Operand is an instruction's decoded operand, shaped by its opcode's
// OperandType.
type Operand struct {
	Kind      OperandType
	Register  VMRegister
	Immediate uint64
	Token     uint32
}

// AnnotationKind tags which variant of Annotation is populated, per the
// tagged-variant strategy in spec.md §9 ("shared header accessible
// uniformly").
type AnnotationKind int

const (
	AnnotationNone AnnotationKind = iota
	AnnotationPlain
	AnnotationJump
	AnnotationCall
	AnnotationVCall
)

// VCallOp is the sub-opcode selected by a VCALL's first popped symbolic
// value, per spec.md §4.D.
type VCallOp int

const (
	VCallUnknown VCallOp = iota
	VCallECall
	VCallBox
	VCallUnbox
	VCallCast
	VCallNewObj
	VCallLdFld
	VCallStFld
	VCallLdToken
	VCallToken
	VCallThrow
	VCallSizeOf
	VCallInitObj
)

func (op VCallOp) String() string {
	switch op {
	case VCallECall:
		return "ECALL"
	case VCallBox:
		return "BOX"
	case VCallUnbox:
		return "UNBOX"
	case VCallCast:
		return "CAST"
	case VCallNewObj:
		return "NEWOBJ"
	case VCallLdFld:
		return "LDFLD"
	case VCallStFld:
		return "STFLD"
	case VCallLdToken:
		return "LDTOKEN"
	case VCallToken:
		return "TOKEN"
	case VCallThrow:
		return "THROW"
	case VCallSizeOf:
		return "SIZEOF"
	case VCallInitObj:
		return "INITOBJ"
	default:
		return "VCALL?"
	}
}

// VCallAnnotation is the sub-opcode-specific payload spec.md §4.D
// describes as "not enumerated here — same shape as Annotation, with a
// sub-opcode-specific payload". Token/Type/Field carry whichever the
// sub-opcode resolved; ECallID carries ECALL's resolved helper id.
type VCallAnnotation struct {
	Op      VCallOp
	Token   uint32
	Type    *TypeRef
	Field   *FieldRef
	ECallID uint8
}

// Annotation is the per-instruction inference result, a tagged union of
// the Plain/Jump/Call/VCall shapes in spec.md §3, sharing the
// inferred-pop/inferred-push header across all variants.
type Annotation struct {
	Kind AnnotationKind

	InferredPop  uint32
	InferredPush uint32

	// Jump
	InferredTargets []uint64

	// Call
	CallAddress      uint64
	CallSignature    MethodSignature
	CallExportID     uint32
	CallReturnsValue bool

	// VCall
	VCall *VCallAnnotation
}

// Instruction is one decoded instruction of the obfuscated stream, per
// spec.md §3. Its shape is fixed after decode; Dependencies and
// Annotation are filled incrementally by the instruction processor.
type Instruction struct {
	Offset       uint64
	Size         uint8
	Opcode       ILCode
	Operand      Operand
	Dependencies Dependencies
	Annotation   Annotation
}
