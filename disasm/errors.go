package disasm

import (
	"fmt"

	vm "github.com/ilreverse/vmdisasm"
)

// ErrorKind classifies a disassembly failure, per spec.md §7.
type ErrorKind int

const (
	// KindUnsupported: opcode or sub-opcode not implemented (FAULT
	// clauses, calls to non-exported methods). Surfaced as a per-state
	// failure; the offset is recorded as unresolved and the
	// disassembly continues.
	KindUnsupported ErrorKind = iota
	// KindInferenceFailed: the partial emulator could not resolve a
	// CALL, TRY, or VCALL operand to a concrete value. Warned; the state
	// is dropped and the instruction is neither annotated nor recorded.
	// Jump-target inference failures do not produce this error: the
	// jump is warned about, keeps its Plain annotation, and yields no
	// branch-target states.
	KindInferenceFailed
	// KindStackUnderflow: invariant violation indicating a decoder or
	// processor bug. Logged as an error; the state is dropped.
	KindStackUnderflow
	// KindInternal: invariant violation (e.g. PopVar or a compound push
	// reaching the default path). Logged as an error; the state is
	// dropped.
	KindInternal
	// KindFatal: decoder failure at a seeded export entry, or a
	// corrupted constants table. Propagates out of the core.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnsupported:
		return "Unsupported"
	case KindInferenceFailed:
		return "InferenceFailed"
	case KindStackUnderflow:
		return "StackUnderflow"
	case KindInternal:
		return "InternalError"
	case KindFatal:
		return "Fatal"
	default:
		return "Error"
	}
}

// Error is the single error type used across disasm, tagged by Kind and
// carrying the offset/opcode it occurred at, per spec.md §7.
type Error struct {
	Kind   ErrorKind
	Offset uint64
	Opcode vm.ILCode
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at offset=0x%x op=%s: %v", e.Kind, e.Offset, e.Opcode, e.Err)
	}
	return fmt.Sprintf("%s at offset=0x%x op=%s", e.Kind, e.Offset, e.Opcode)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, offset uint64, op vm.ILCode, err error) *Error {
	return &Error{Kind: kind, Offset: offset, Opcode: op, Err: err}
}

func unsupportedf(offset uint64, op vm.ILCode, format string, args ...any) *Error {
	return newError(KindUnsupported, offset, op, fmt.Errorf(format, args...))
}

func inferenceFailed(offset uint64, op vm.ILCode, err error) *Error {
	return newError(KindInferenceFailed, offset, op, err)
}

func stackUnderflow(offset uint64, op vm.ILCode) *Error {
	return newError(KindStackUnderflow, offset, op, vm.ErrStackUnderflow)
}

func internalf(offset uint64, op vm.ILCode, format string, args ...any) *Error {
	return newError(KindInternal, offset, op, fmt.Errorf(format, args...))
}

func fatalf(format string, args ...any) *Error {
	return newError(KindFatal, 0, vm.ILUnknown, fmt.Errorf(format, args...))
}
