package disasm

import (
	"fmt"
	"sort"

	vm "github.com/ilreverse/vmdisasm"
)

// processInstruction is the instruction transfer function of spec.md §4.C:
// given the state reached at instr, it returns the successor states
// produced by executing instr, mutating instr's Dependencies and
// Annotation in place. CALL, RET, TRY, LEAVE, and VCALL are special-cased;
// every other opcode runs the default pop/push/flow-control path driven by its
// static OpcodeTable descriptor.
func processInstruction(sess *Session, d *driver, instr *vm.Instruction, state *vm.ProgramState, nextKey uint32) ([]*vm.ProgramState, error) {
	switch instr.Opcode {
	case vm.ILCall:
		return processCall(sess, d, instr, state, nextKey)
	case vm.ILRet:
		return processRet(sess, d, instr, state, nextKey)
	case vm.ILTry:
		return processTry(sess, d, instr, state, nextKey)
	case vm.ILLeave:
		return processLeave(sess, instr, state, nextKey)
	case vm.ILVCall:
		return processVCall(sess, d, instr, state, nextKey)
	default:
		return processDefault(sess, d, instr, state, nextKey)
	}
}

// processCall implements spec.md §4.C's CALL case: infer the callee's
// concrete address, resolve it against the session's export table, pop the
// arguments its signature demands, and either produce the post-call
// successor state immediately (if the callee's exit key is already known)
// or park the call as pending until it is.
func processCall(sess *Session, d *driver, instr *vm.Instruction, state *vm.ProgramState, nextKey uint32) ([]*vm.ProgramState, error) {
	next := state.Clone()
	next.IP += uint64(instr.Size)
	next.Key = nextKey

	op, _ := vm.Lookup(instr.Opcode)
	if op.AffectsFlags {
		next.Registers[vm.FL] = vm.NewSymbolicValue(instr.Offset, vm.Byte)
	}

	targetSym, err := next.Stack.Pop()
	if err != nil {
		return nil, stackUnderflow(instr.Offset, instr.Opcode)
	}
	instr.Dependencies.AddOrMerge(0, targetSym)

	arena := d.disasm.Instructions
	target, err := targetSym.InferStackValue(arena)
	if err != nil {
		return nil, inferenceFailed(instr.Offset, instr.Opcode, err)
	}

	entry, ok := sess.exports.lookup(target.Value)
	if !ok {
		return nil, unsupportedf(instr.Offset, instr.Opcode, "call to unexported address 0x%x", target.Value)
	}

	sig := entry.info.Signature
	paramCount := sig.ParameterCount
	if sig.IsInstance {
		paramCount++
	}
	args := make([]vm.SymbolicValue, paramCount)
	for i := paramCount - 1; i >= 0; i-- {
		v, err := next.Stack.Pop()
		if err != nil {
			return nil, stackUnderflow(instr.Offset, instr.Opcode)
		}
		args[i] = v
	}
	for i, a := range args {
		instr.Dependencies.AddOrMerge(uint32(i+1), a)
	}

	returnsValue := sig.ReturnType != vm.Void
	instr.Annotation = vm.Annotation{
		Kind:             vm.AnnotationCall,
		InferredPop:      uint32(instr.Dependencies.Len()),
		InferredPush:     0,
		CallAddress:      target.Value,
		CallSignature:    sig,
		CallExportID:     entry.id,
		CallReturnsValue: returnsValue,
	}
	if returnsValue {
		instr.Annotation.InferredPush = 1
	}

	if exitKey, known := sess.exports.exitKey(entry.id); known {
		d.disasm.ResolveCall(instr.Offset)
		next.Key = exitKey
		if returnsValue {
			next.Registers[vm.R0] = vm.NewSymbolicValue(instr.Offset, sig.ReturnType)
		}
		return []*vm.ProgramState{next}, nil
	}

	d.disasm.MarkUnresolved(instr.Offset)
	d.pendingCalls[instr.Offset] = &pendingCall{
		calleeID:     entry.id,
		next:         next,
		returnsValue: returnsValue,
		returnType:   sig.ReturnType,
		sourceOffset: instr.Offset,
	}
	return nil, nil
}

// processRet implements spec.md §4.C's RET case: pop the return address,
// and pin the export's exit key to the post-pop key if this is the first
// RET reached from the entry.
func processRet(sess *Session, d *driver, instr *vm.Instruction, state *vm.ProgramState, nextKey uint32) ([]*vm.ProgramState, error) {
	next := state.Clone()
	next.IP += uint64(instr.Size)
	next.Key = nextKey

	retAddr, err := next.Stack.Pop()
	if err != nil {
		return nil, stackUnderflow(instr.Offset, instr.Opcode)
	}
	instr.Dependencies.AddOrMerge(0, retAddr)
	instr.Annotation = vm.Annotation{Kind: vm.AnnotationPlain, InferredPop: 1, InferredPush: 0}

	if exitKey, known := d.disasm.ExportInfo.KnownExitKey(); !known {
		sess.exports.setExitKey(d.id, next.Key)
		sess.opts.logger().Debugf("pinned exit key export=%d key=0x%x", d.id, next.Key)
	} else if exitKey != next.Key {
		sess.opts.logger().Warnf("RET exit key mismatch export=%d expected=0x%x got=0x%x", d.id, exitKey, next.Key)
	}

	return nil, nil
}

// processTry implements spec.md §4.C's TRY case: resolve the handler type,
// pop that type's extra operand (catch type id, filter address; FAULT is
// unsupported), pop the handler address, push the resulting EHFrame, and
// yield the fall-through state plus a state seeded at each handler entry
// point.
func processTry(sess *Session, d *driver, instr *vm.Instruction, state *vm.ProgramState, nextKey uint32) ([]*vm.ProgramState, error) {
	next := state.Clone()
	next.IP += uint64(instr.Size)
	next.Key = nextKey
	arena := d.disasm.Instructions

	typeVal, err := next.Stack.Pop()
	if err != nil {
		return nil, stackUnderflow(instr.Offset, instr.Opcode)
	}
	instr.Dependencies.AddOrMerge(0, typeVal)
	typeCV, err := typeVal.InferStackValue(arena)
	if err != nil {
		return nil, inferenceFailed(instr.Offset, instr.Opcode, err)
	}

	ehType, ok := sess.constants.EHTypeOf(byte(typeCV.Value))
	if !ok {
		return nil, unsupportedf(instr.Offset, instr.Opcode, "unknown eh type byte 0x%x", typeCV.Value)
	}

	frame := vm.EHFrame{Type: ehType, TryStart: instr.Offset}
	slot := uint32(1)

	switch ehType {
	case vm.EHCatch:
		catchVal, err := next.Stack.Pop()
		if err != nil {
			return nil, stackUnderflow(instr.Offset, instr.Opcode)
		}
		instr.Dependencies.AddOrMerge(slot, catchVal)
		slot++
		catchCV, err := catchVal.InferStackValue(arena)
		if err != nil {
			return nil, inferenceFailed(instr.Offset, instr.Opcode, err)
		}
		if token, ok := sess.metadata.ResolveReference(sess.opts.logger(), instr.Offset, uint32(catchCV.Value), vm.TokenTypeDef, vm.TokenTypeRef, vm.TokenTypeSpec); ok {
			frame.CatchType = &vm.TypeRef{Token: token}
		}
	case vm.EHFilter:
		filterVal, err := next.Stack.Pop()
		if err != nil {
			return nil, stackUnderflow(instr.Offset, instr.Opcode)
		}
		instr.Dependencies.AddOrMerge(slot, filterVal)
		slot++
		filterCV, err := filterVal.InferStackValue(arena)
		if err != nil {
			return nil, inferenceFailed(instr.Offset, instr.Opcode, err)
		}
		frame.FilterAddress = filterCV.Value
	case vm.EHFinally:
		// no extra operand
	case vm.EHFault:
		return nil, unsupportedf(instr.Offset, instr.Opcode, "FAULT clauses are not supported")
	default:
		return nil, unsupportedf(instr.Offset, instr.Opcode, "unhandled eh type %s", ehType)
	}

	handlerVal, err := next.Stack.Pop()
	if err != nil {
		return nil, stackUnderflow(instr.Offset, instr.Opcode)
	}
	instr.Dependencies.AddOrMerge(slot, handlerVal)
	handlerCV, err := handlerVal.InferStackValue(arena)
	if err != nil {
		return nil, inferenceFailed(instr.Offset, instr.Opcode, err)
	}
	frame.HandlerAddress = handlerCV.Value

	instr.Annotation = vm.Annotation{Kind: vm.AnnotationPlain, InferredPop: uint32(instr.Dependencies.Len()), InferredPush: 0}

	pushEHFrame(next, frame)
	d.disasm.MarkBlockHeader(frame.HandlerAddress)

	results := []*vm.ProgramState{next}

	// A handler (and, for EHFilter, a filter) begins a fresh stream-cipher
	// region: per spec.md §4.C TRY, each is "an independent initial state
	// with key = 0", not a continuation of the try-region's current key.
	handlerState := next.Clone()
	handlerState.IP = frame.HandlerAddress
	handlerState.Key = 0
	results = append(results, handlerState)

	if ehType == vm.EHFilter {
		d.disasm.MarkBlockHeader(frame.FilterAddress)
		filterState := next.Clone()
		filterState.IP = frame.FilterAddress
		filterState.Key = 0
		results = append(results, filterState)
	}

	return results, nil
}

// processLeave implements spec.md §4.C's LEAVE case: pop the (unemulated)
// jump-target marker and pop the innermost EH frame.
func processLeave(sess *Session, instr *vm.Instruction, state *vm.ProgramState, nextKey uint32) ([]*vm.ProgramState, error) {
	next := state.Clone()
	next.IP += uint64(instr.Size)
	next.Key = nextKey

	marker, err := next.Stack.Pop()
	if err != nil {
		return nil, stackUnderflow(instr.Offset, instr.Opcode)
	}
	instr.Dependencies.AddOrMerge(0, marker)

	if frame, ok := topEHFrame(next); ok {
		sess.opts.logger().Debugf("leaving %s frame opened at try_start=0x%x", frame.Type, frame.TryStart)
	}
	if _, ok := popEHFrame(next); !ok {
		return nil, internalf(instr.Offset, instr.Opcode, "LEAVE with no active EH frame")
	}

	instr.Annotation = vm.Annotation{Kind: vm.AnnotationPlain, InferredPop: 1, InferredPush: 0}
	return []*vm.ProgramState{next}, nil
}

// processDefault implements spec.md §4.C's default path for every opcode
// not special-cased above: pop the declared shape (re-typing slots per
// their declared type and, for a register operand, storing the first
// popped slot's value into that register), push the declared shape
// (forwarding a register's live value for a pure register-read
// instruction, per the design note in emulator.go), and dispatch on flow
// control.
func processDefault(sess *Session, d *driver, instr *vm.Instruction, state *vm.ProgramState, nextKey uint32) ([]*vm.ProgramState, error) {
	op, ok := vm.Lookup(instr.Opcode)
	if !ok {
		return nil, internalf(instr.Offset, instr.Opcode, "no opcode descriptor registered")
	}

	next := state.Clone()
	next.IP += uint64(instr.Size)
	next.Key = nextKey
	if op.AffectsFlags {
		next.Registers[vm.FL] = vm.NewSymbolicValue(instr.Offset, vm.Byte)
	}

	switch op.Pop.Kind {
	case vm.ShapeVar:
		return nil, internalf(instr.Offset, instr.Opcode, "variable-arity pop reached the default path")
	case vm.ShapeFixed:
		n := op.Pop.Len()
		popped := make([]vm.SymbolicValue, n)
		for i := n - 1; i >= 0; i-- {
			v, err := next.Stack.Pop()
			if err != nil {
				return nil, stackUnderflow(instr.Offset, instr.Opcode)
			}
			if declared := op.Pop.SlotType(i); declared != vm.Unknown {
				v = v.WithType(declared)
			}
			popped[i] = v
		}
		for i := 0; i < n; i++ {
			instr.Dependencies.AddOrMerge(uint32(i), popped[i])
		}
		if n > 0 && op.OperandType == vm.OperandRegister {
			next.Registers[instr.Operand.Register] = vm.NewSymbolicValue(instr.Offset, op.Pop.SlotType(0))
		}
	}

	switch op.Push.Kind {
	case vm.ShapeVar:
		return nil, internalf(instr.Offset, instr.Opcode, "variable-arity push reached the default path")
	case vm.ShapeFixed:
		if op.Push.Len() != 1 {
			return nil, internalf(instr.Offset, instr.Opcode, "multi-slot fixed push reached the default path")
		}
		pushType := op.Push.SlotType(0)
		if op.OperandType == vm.OperandRegister && op.Pop.Len() == 0 {
			if v, ok := next.Registers[instr.Operand.Register]; ok {
				next.Stack.Push(v.WithType(pushType))
			} else {
				next.Stack.Push(vm.NewSymbolicValue(instr.Offset, pushType))
			}
		} else {
			next.Stack.Push(vm.NewSymbolicValue(instr.Offset, pushType))
		}
	}

	instr.Annotation = vm.Annotation{
		Kind:         vm.AnnotationPlain,
		InferredPop:  uint32(instr.Dependencies.Len()),
		InferredPush: uint32(op.Push.Len()),
	}

	switch op.FlowControl {
	case vm.FlowNext:
		return []*vm.ProgramState{next}, nil

	case vm.FlowJump:
		d.disasm.MarkBlockHeader(next.IP)
		targets, err := inferJumpTargets(d, instr)
		if err != nil {
			sess.opts.logger().Warnf("jump target inference failed at offset=0x%x: %v", instr.Offset, err)
			return nil, nil
		}
		next.IP = targets[0]
		d.disasm.MarkBlockHeader(next.IP)
		return []*vm.ProgramState{next}, nil

	case vm.FlowConditionalJump:
		fallthroughState := next.Clone()
		d.disasm.MarkBlockHeader(fallthroughState.IP)
		results := []*vm.ProgramState{fallthroughState}

		targets, err := inferJumpTargets(d, instr)
		if err != nil {
			sess.opts.logger().Warnf("conditional jump target inference failed at offset=0x%x: %v", instr.Offset, err)
			return results, nil
		}
		for _, t := range targets {
			branch := next.Clone()
			branch.IP = t
			d.disasm.MarkBlockHeader(t)
			results = append(results, branch)
		}
		return results, nil

	default:
		return nil, internalf(instr.Offset, instr.Opcode, "unexpected flow control reached the default path")
	}
}

// inferJumpTargets implements spec.md §4.C's jump-target inference: take
// the instruction's last dependency slot as the symbolic address, and
// emulate each of its data sources independently (unlike
// SymbolicValue.InferStackValue, disagreeing sources are kept rather than
// rejected — a conditional jump may genuinely resolve to more than one
// concrete target). On success, it rewrites instr's Annotation to the Jump
// variant, preserving the already-set pop/push header.
func inferJumpTargets(d *driver, instr *vm.Instruction) ([]uint64, error) {
	dep, ok := instr.Dependencies.Last()
	if !ok {
		return nil, fmt.Errorf("no dependency recorded to infer a jump target from")
	}

	arena := d.disasm.Instructions
	targets := make([]uint64, 0, len(dep.Sources))
	for src := range dep.Sources {
		cv, err := vm.NewEmulator(arena).Emulate(src)
		if err != nil {
			return nil, err
		}
		targets = append(targets, cv.Value)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	instr.Annotation.Kind = vm.AnnotationJump
	instr.Annotation.InferredTargets = targets
	return targets, nil
}
