package disasm

import (
	"errors"
	"testing"

	vm "github.com/ilreverse/vmdisasm"
)

func TestProcessDefaultUnconditionalJump(t *testing.T) {
	rec := vm.NewVMExportDisassembly(vm.ExportInfo{EntryOffset: 0})
	rec.AddInstruction(&vm.Instruction{Offset: 0, Size: 1, Opcode: vm.ILLdcDword, Operand: vm.Operand{Immediate: 0x40}})

	d := newDriver(0, rec)
	sess := &Session{opts: DefaultOptions()}

	state := vm.NewProgramState(1, 0)
	state.Stack.Push(vm.NewSymbolicValue(0, vm.Dword))

	jmp := &vm.Instruction{Offset: 1, Size: 1, Opcode: vm.ILJmp}
	succ, err := processInstruction(sess, d, jmp, state, 0)
	if err != nil {
		t.Fatalf("processInstruction() error = %v", err)
	}
	if len(succ) != 1 {
		t.Fatalf("got %d successor states, want 1", len(succ))
	}
	if succ[0].IP != 0x40 {
		t.Errorf("successor IP = %#x, want 0x40", succ[0].IP)
	}
	if jmp.Annotation.Kind != vm.AnnotationJump {
		t.Errorf("Annotation.Kind = %v, want AnnotationJump", jmp.Annotation.Kind)
	}
	if want := []uint64{0x40}; len(jmp.Annotation.InferredTargets) != 1 || jmp.Annotation.InferredTargets[0] != want[0] {
		t.Errorf("Annotation.InferredTargets = %v, want %v", jmp.Annotation.InferredTargets, want)
	}
}

func TestProcessDefaultUnresolvableJumpYieldsNoSuccessors(t *testing.T) {
	rec := vm.NewVMExportDisassembly(vm.ExportInfo{EntryOffset: 0})
	// No producer recorded for offset 0: emulating the jump target will fail.
	d := newDriver(0, rec)
	sess := &Session{opts: DefaultOptions()}

	state := vm.NewProgramState(1, 0)
	state.Stack.Push(vm.NewSymbolicValue(0, vm.Dword))

	jmp := &vm.Instruction{Offset: 1, Size: 1, Opcode: vm.ILJmp}
	succ, err := processInstruction(sess, d, jmp, state, 0)
	if err != nil {
		t.Fatalf("processInstruction() error = %v, want nil (InferenceFailed is only a warning)", err)
	}
	if len(succ) != 0 {
		t.Fatalf("got %d successor states, want 0", len(succ))
	}
	if jmp.Annotation.Kind == vm.AnnotationJump {
		t.Error("Annotation.Kind should stay Plain when jump target inference fails")
	}
}

func TestProcessDefaultConditionalJumpBothBranches(t *testing.T) {
	rec := vm.NewVMExportDisassembly(vm.ExportInfo{EntryOffset: 0})
	rec.AddInstruction(&vm.Instruction{Offset: 0, Size: 1, Opcode: vm.ILLdcDword, Operand: vm.Operand{Immediate: 0x50}})
	rec.AddInstruction(&vm.Instruction{Offset: 2, Size: 1, Opcode: vm.ILLdcDword, Operand: vm.Operand{Immediate: 0x60}})

	d := newDriver(0, rec)
	sess := &Session{opts: DefaultOptions()}

	target := vm.NewSymbolicValue(0, vm.Dword).Merge(vm.NewSymbolicValue(2, vm.Dword))
	condition := vm.NewSymbolicValue(10, vm.Byte)

	state := vm.NewProgramState(3, 0)
	state.Stack.Push(condition)
	state.Stack.Push(target)

	jcc := &vm.Instruction{Offset: 3, Size: 1, Opcode: vm.ILJcc}
	succ, err := processInstruction(sess, d, jcc, state, 0)
	if err != nil {
		t.Fatalf("processInstruction() error = %v", err)
	}
	if len(succ) != 3 {
		t.Fatalf("got %d successor states, want 3 (fallthrough + 2 branch targets)", len(succ))
	}
	if succ[0].IP != 4 {
		t.Errorf("fallthrough IP = %#x, want 4", succ[0].IP)
	}
	if want := []uint64{0x50, 0x60}; jcc.Annotation.InferredTargets[0] != want[0] || jcc.Annotation.InferredTargets[1] != want[1] {
		t.Errorf("Annotation.InferredTargets = %v, want %v", jcc.Annotation.InferredTargets, want)
	}
}

func TestProcessDefaultRegisterLoadForwardsRegisterValue(t *testing.T) {
	rec := vm.NewVMExportDisassembly(vm.ExportInfo{EntryOffset: 0})
	d := newDriver(0, rec)
	sess := &Session{opts: DefaultOptions()}

	state := vm.NewProgramState(0, 0)
	state.Registers[vm.R2] = vm.NewSymbolicValue(99, vm.Dword)

	instr := &vm.Instruction{Offset: 0, Size: 1, Opcode: vm.ILPushrDword, Operand: vm.Operand{Kind: vm.OperandRegister, Register: vm.R2}}
	succ, err := processInstruction(sess, d, instr, state, 0)
	if err != nil {
		t.Fatalf("processInstruction() error = %v", err)
	}
	if len(succ) != 1 {
		t.Fatalf("got %d successor states, want 1", len(succ))
	}
	pushed, err := succ[0].Stack.Pop()
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if _, ok := pushed.Sources[99]; !ok {
		t.Errorf("pushed value's Sources = %v, want it to forward producer offset 99", pushed.Sources)
	}
}

func TestProcessTryFinally(t *testing.T) {
	rec := vm.NewVMExportDisassembly(vm.ExportInfo{EntryOffset: 0})
	rec.AddInstruction(&vm.Instruction{Offset: 0, Size: 1, Opcode: vm.ILLdcDword, Operand: vm.Operand{Immediate: 0x80}})
	rec.AddInstruction(&vm.Instruction{Offset: 1, Size: 1, Opcode: vm.ILLdcByte, Operand: vm.Operand{Immediate: 0}})

	d := newDriver(0, rec)
	sess := &Session{opts: DefaultOptions(), constants: &vm.VMConstants{EHTypes: map[byte]vm.EHType{0: vm.EHFinally}}}

	state := vm.NewProgramState(2, 0)
	state.Stack.Push(vm.NewSymbolicValue(0, vm.Dword)) // handler address
	state.Stack.Push(vm.NewSymbolicValue(1, vm.Byte))  // eh type selector

	try := &vm.Instruction{Offset: 2, Size: 1, Opcode: vm.ILTry}
	succ, err := processInstruction(sess, d, try, state, 0)
	if err != nil {
		t.Fatalf("processInstruction() error = %v", err)
	}
	if len(succ) != 2 {
		t.Fatalf("got %d successor states, want 2 (fall-through + handler entry)", len(succ))
	}
	if succ[1].IP != 0x80 {
		t.Errorf("handler state IP = %#x, want 0x80", succ[1].IP)
	}
	if succ[1].Key != 0 {
		t.Errorf("handler state Key = %#x, want 0 (an independent initial state)", succ[1].Key)
	}
	if len(succ[1].EHStack) != 1 || succ[1].EHStack[0].Type != vm.EHFinally {
		t.Errorf("handler state EHStack = %+v, want one Finally frame", succ[1].EHStack)
	}
}

func TestProcessLeavePopsFrame(t *testing.T) {
	sess := &Session{opts: DefaultOptions()}
	state := vm.NewProgramState(5, 0)
	state.Stack.Push(vm.NewSymbolicValue(0, vm.Dword)) // leave marker
	pushEHFrame(state, vm.EHFrame{Type: vm.EHFinally, TryStart: 0})

	leave := &vm.Instruction{Offset: 5, Size: 1, Opcode: vm.ILLeave}
	succ, err := processLeave(sess, leave, state, 0)
	if err != nil {
		t.Fatalf("processLeave() error = %v", err)
	}
	if len(succ) != 1 {
		t.Fatalf("got %d successor states, want 1", len(succ))
	}
	if len(succ[0].EHStack) != 0 {
		t.Errorf("EHStack after LEAVE = %+v, want empty", succ[0].EHStack)
	}
}

func TestProcessLeaveWithoutFrameIsInternalError(t *testing.T) {
	sess := &Session{opts: DefaultOptions()}
	state := vm.NewProgramState(5, 0)
	state.Stack.Push(vm.NewSymbolicValue(0, vm.Dword))

	leave := &vm.Instruction{Offset: 5, Size: 1, Opcode: vm.ILLeave}
	_, err := processLeave(sess, leave, state, 0)

	var derr *Error
	if !errors.As(err, &derr) || derr.Kind != KindInternal {
		t.Errorf("processLeave() error = %v, want KindInternal", err)
	}
}

func TestProcessDefaultStackUnderflow(t *testing.T) {
	rec := vm.NewVMExportDisassembly(vm.ExportInfo{EntryOffset: 0})
	d := newDriver(0, rec)
	sess := &Session{opts: DefaultOptions()}

	state := vm.NewProgramState(0, 0) // empty stack
	instr := &vm.Instruction{Offset: 0, Size: 1, Opcode: vm.ILAddDword}
	_, err := processInstruction(sess, d, instr, state, 0)

	var derr *Error
	if !errors.As(err, &derr) || derr.Kind != KindStackUnderflow {
		t.Errorf("processInstruction() error = %v, want KindStackUnderflow", err)
	}
}
