package vm

// OperandType classifies an instruction's decoded operand. The instruction
// processor's default path (4.C) only cares whether the operand names a
// register: when it does, the first popped slot's value is additionally
// written into that register, modeling a register store.
type OperandType int

const (
	OperandNone OperandType = iota
	OperandRegister
	OperandImmediate
	OperandToken
)

// FlowControl classifies how an instruction affects the instruction
// pointer, per spec.md §3.
type FlowControl int

const (
	FlowNext FlowControl = iota
	FlowJump
	FlowConditionalJump
	FlowCall
	FlowReturn
)

// ShapeKind distinguishes the three pop/push shapes spec.md §3 describes:
// a fixed sequence of typed slots, a variable-arity shape handled specially
// by the owning opcode (CALL, VCALL), and the empty shape.
type ShapeKind int

const (
	ShapeNone ShapeKind = iota
	ShapeFixed
	ShapeVar
)

// StackShape is spec.md's StackBehavior: an enumerated pop or push shape
// that, for non-Var shapes, exposes a function from slot index to inferred
// VM type.
type StackShape struct {
	Kind  ShapeKind
	slots []VMType
}

// Len returns the number of fixed slots (0 for None and Var shapes).
func (s StackShape) Len() int {
	if s.Kind != ShapeFixed {
		return 0
	}
	return len(s.slots)
}

// SlotType returns the declared type of slot i. Unknown means "leave the
// popped value's existing type unchanged" (the PopAny case in 4.C).
func (s StackShape) SlotType(i int) VMType {
	if s.Kind != ShapeFixed || i < 0 || i >= len(s.slots) {
		return Unknown
	}
	return s.slots[i]
}

func fixed(types ...VMType) StackShape { return StackShape{Kind: ShapeFixed, slots: types} }

var (
	ShapeNoneVal = StackShape{Kind: ShapeNone}
	ShapeVarVal  = StackShape{Kind: ShapeVar}

	PopNone   = ShapeNoneVal
	PopByte   = fixed(Byte)
	PopDword  = fixed(Dword)
	PopQword  = fixed(Qword)
	PopPtr    = fixed(Ptr)
	PopAny    = fixed(Unknown)
	PopPtrObj = fixed(Ptr, Object) // PopPtr_PopObject: ptr then object
	PopVar    = ShapeVarVal

	PushNone   = ShapeNoneVal
	PushByte   = fixed(Byte)
	PushDword  = fixed(Dword)
	PushQword  = fixed(Qword)
	PushReal32 = fixed(Real32)
	PushReal64 = fixed(Real64)
	PushPtr    = fixed(Ptr)
	PushObject = fixed(Object)
	PushVar    = ShapeVarVal
)

// OpCode is the static descriptor of one ILCode, per spec.md §3.
type OpCode struct {
	Code         ILCode
	AffectsFlags bool
	Pop          StackShape
	Push         StackShape
	OperandType  OperandType
	FlowControl  FlowControl
}

// OpcodeTable is the static table mapping ILCode to its descriptor,
// grounded on the host repo's pattern of a package-level opcode→behavior
// map (schemaexec's codeOp + opcodeToString table) generalized from a flat
// name lookup to the full pop/push/flow/flags/operand descriptor spec.md
// §3 requires. A production deployment's real table is resolved from the
// host binary by the external constants-resolution pass (see constants.go)
// and keyed onto this enum; this table supplies the descriptors for that
// resolved enum space.
var OpcodeTable = map[ILCode]OpCode{
	ILPushrDword: {Code: ILPushrDword, Pop: PopNone, Push: PushDword, OperandType: OperandRegister, FlowControl: FlowNext},
	ILPushrQword: {Code: ILPushrQword, Pop: PopNone, Push: PushQword, OperandType: OperandRegister, FlowControl: FlowNext},
	ILLdcByte:    {Code: ILLdcByte, Pop: PopNone, Push: PushByte, OperandType: OperandImmediate, FlowControl: FlowNext},
	ILLdcDword:   {Code: ILLdcDword, Pop: PopNone, Push: PushDword, OperandType: OperandImmediate, FlowControl: FlowNext},
	ILLdcQword:   {Code: ILLdcQword, Pop: PopNone, Push: PushQword, OperandType: OperandImmediate, FlowControl: FlowNext},

	ILStrDword: {Code: ILStrDword, Pop: PopDword, Push: PushNone, OperandType: OperandRegister, FlowControl: FlowNext},
	ILStrQword: {Code: ILStrQword, Pop: PopQword, Push: PushNone, OperandType: OperandRegister, FlowControl: FlowNext},
	ILStrPtr:   {Code: ILStrPtr, Pop: PopPtr, Push: PushNone, OperandType: OperandRegister, FlowControl: FlowNext},

	ILAddDword: {Code: ILAddDword, AffectsFlags: true, Pop: fixed(Dword, Dword), Push: PushDword, FlowControl: FlowNext},
	ILSubDword: {Code: ILSubDword, AffectsFlags: true, Pop: fixed(Dword, Dword), Push: PushDword, FlowControl: FlowNext},
	ILMulDword: {Code: ILMulDword, AffectsFlags: true, Pop: fixed(Dword, Dword), Push: PushDword, FlowControl: FlowNext},
	ILXorDword: {Code: ILXorDword, AffectsFlags: true, Pop: fixed(Dword, Dword), Push: PushDword, FlowControl: FlowNext},
	ILAndDword: {Code: ILAndDword, AffectsFlags: true, Pop: fixed(Dword, Dword), Push: PushDword, FlowControl: FlowNext},
	ILOrDword:  {Code: ILOrDword, AffectsFlags: true, Pop: fixed(Dword, Dword), Push: PushDword, FlowControl: FlowNext},
	ILShlDword: {Code: ILShlDword, AffectsFlags: true, Pop: fixed(Dword, Dword), Push: PushDword, FlowControl: FlowNext},
	ILShrDword: {Code: ILShrDword, AffectsFlags: true, Pop: fixed(Dword, Dword), Push: PushDword, FlowControl: FlowNext},
	ILNegDword: {Code: ILNegDword, AffectsFlags: true, Pop: PopDword, Push: PushDword, FlowControl: FlowNext},
	ILNotDword: {Code: ILNotDword, AffectsFlags: true, Pop: PopDword, Push: PushDword, FlowControl: FlowNext},

	ILConvI1: {Code: ILConvI1, Pop: PopByte, Push: PushDword, FlowControl: FlowNext},
	ILConvU1: {Code: ILConvU1, Pop: PopByte, Push: PushDword, FlowControl: FlowNext},
	ILConvI2: {Code: ILConvI2, Pop: fixed(Word), Push: PushDword, FlowControl: FlowNext},
	ILConvU2: {Code: ILConvU2, Pop: fixed(Word), Push: PushDword, FlowControl: FlowNext},
	ILConvI8: {Code: ILConvI8, Pop: PopDword, Push: PushQword, FlowControl: FlowNext},
	ILConvU8: {Code: ILConvU8, Pop: PopDword, Push: PushQword, FlowControl: FlowNext},

	ILLdindDword: {Code: ILLdindDword, Pop: PopPtr, Push: PushDword, FlowControl: FlowNext},
	ILStindDword: {Code: ILStindDword, Pop: PopPtrObj, Push: PushNone, FlowControl: FlowNext},

	ILJmp: {Code: ILJmp, Pop: PopDword, Push: PushNone, FlowControl: FlowJump},
	// Condition first, target last: jump-target inference (4.C) always
	// reads the last dependency slot as the symbolic address, so the
	// target dword must occupy the top of the stack (popped first).
	ILJcc: {Code: ILJcc, Pop: fixed(Byte, Dword), Push: PushNone, FlowControl: FlowConditionalJump},

	// CALL, RET, TRY, LEAVE, VCALL are special-cased by the instruction
	// processor (4.C) before the default pop/push/flow path runs; their
	// descriptors exist for completeness of the static table and for the
	// "affects_flags"/flow-control metadata downstream passes may want,
	// but Pop/Push here are not consulted by the processor.
	ILCall:  {Code: ILCall, Pop: PopVar, Push: PushVar, FlowControl: FlowCall},
	ILRet:   {Code: ILRet, Pop: PopDword, Push: PushNone, FlowControl: FlowReturn},
	ILTry:   {Code: ILTry, Pop: PopVar, Push: PushNone, FlowControl: FlowNext},
	ILLeave: {Code: ILLeave, Pop: PopDword, Push: PushNone, FlowControl: FlowNext},
	ILVCall: {Code: ILVCall, Pop: PopVar, Push: PushVar, FlowControl: FlowNext},
}

// Lookup returns the static descriptor for code, or the zero OpCode with
// ok=false if the table has no entry (a decoder/constants-resolver bug).
func Lookup(code ILCode) (OpCode, bool) {
	op, ok := OpcodeTable[code]
	return op, ok
}
