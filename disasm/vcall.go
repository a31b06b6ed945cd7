package disasm

import vm "github.com/ilreverse/vmdisasm"

// processVCall is the v-call sub-dispatcher of spec.md §4.D: VCALL pops a
// selector byte, resolves it to a VCallOp through the constants table, then
// runs that sub-opcode's own pop shape and token-resolution logic before
// rewriting the instruction's Annotation to the VCall variant. Every
// sub-opcode yields exactly one successor state except THROW, which yields
// none.
func processVCall(sess *Session, d *driver, instr *vm.Instruction, state *vm.ProgramState, nextKey uint32) ([]*vm.ProgramState, error) {
	next := state.Clone()
	next.IP += uint64(instr.Size)
	next.Key = nextKey

	selector, err := next.Stack.Pop()
	if err != nil {
		return nil, stackUnderflow(instr.Offset, instr.Opcode)
	}
	instr.Dependencies.AddOrMerge(0, selector)

	arena := d.disasm.Instructions
	selByte, err := selector.InferStackValue(arena)
	if err != nil {
		return nil, inferenceFailed(instr.Offset, instr.Opcode, err)
	}

	op, ok := sess.constants.VCall(byte(selByte.Value))
	if !ok {
		return nil, unsupportedf(instr.Offset, instr.Opcode, "unknown vcall selector 0x%x", selByte.Value)
	}

	slot := uint32(1)
	popOne := func() (vm.SymbolicValue, error) {
		v, err := next.Stack.Pop()
		if err != nil {
			return vm.SymbolicValue{}, stackUnderflow(instr.Offset, instr.Opcode)
		}
		instr.Dependencies.AddOrMerge(slot, v)
		slot++
		return v, nil
	}
	concrete := func(v vm.SymbolicValue) (vm.ConcreteValue, error) {
		cv, err := v.InferStackValue(arena)
		if err != nil {
			return vm.ConcreteValue{}, inferenceFailed(instr.Offset, instr.Opcode, err)
		}
		return cv, nil
	}
	resolveToken := func(id uint64, allowed ...vm.TokenKind) (uint32, bool) {
		return sess.metadata.ResolveReference(sess.opts.logger(), instr.Offset, uint32(id), allowed...)
	}

	ann := vm.VCallAnnotation{Op: op}
	pushesValue := true

	switch op {
	case vm.VCallECall:
		idVal, err := popOne()
		if err != nil {
			return nil, err
		}
		idCV, err := concrete(idVal)
		if err != nil {
			return nil, err
		}
		info, ok := sess.constants.ECallOpcodes[byte(idCV.Value)]
		if !ok {
			return nil, unsupportedf(instr.Offset, instr.Opcode, "unknown ecall id 0x%x", idCV.Value)
		}
		ann.ECallID = byte(idCV.Value)
		for i := 0; i < info.ParameterCount; i++ {
			if _, err := popOne(); err != nil {
				return nil, err
			}
		}
		pushesValue = info.ReturnType != vm.Void

	case vm.VCallBox, vm.VCallUnbox, vm.VCallCast:
		tokVal, err := popOne()
		if err != nil {
			return nil, err
		}
		tokCV, err := concrete(tokVal)
		if err != nil {
			return nil, err
		}
		if token, ok := resolveToken(tokCV.Value, vm.TokenTypeDef, vm.TokenTypeRef, vm.TokenTypeSpec); ok {
			ann.Token = token
			if m, ok := sess.metadata.ResolveMember(token); ok {
				ann.Type = m.Type
			}
		}
		if _, err := popOne(); err != nil { // the value being boxed, unboxed, or cast
			return nil, err
		}

	case vm.VCallInitObj:
		tokVal, err := popOne()
		if err != nil {
			return nil, err
		}
		tokCV, err := concrete(tokVal)
		if err != nil {
			return nil, err
		}
		if token, ok := resolveToken(tokCV.Value, vm.TokenTypeDef, vm.TokenTypeRef, vm.TokenTypeSpec); ok {
			ann.Token = token
			if m, ok := sess.metadata.ResolveMember(token); ok {
				ann.Type = m.Type
			}
		}
		if _, err := popOne(); err != nil { // target pointer
			return nil, err
		}
		pushesValue = false

	case vm.VCallNewObj:
		tokVal, err := popOne()
		if err != nil {
			return nil, err
		}
		tokCV, err := concrete(tokVal)
		if err != nil {
			return nil, err
		}
		ctorParams := 0
		if token, ok := resolveToken(tokCV.Value, vm.TokenMethodDef, vm.TokenMethodRef); ok {
			ann.Token = token
			if m, ok := sess.metadata.ResolveMember(token); ok && m.Method != nil {
				ctorParams = m.Method.ParameterCount
			}
		}
		for i := 0; i < ctorParams; i++ {
			if _, err := popOne(); err != nil {
				return nil, err
			}
		}

	case vm.VCallLdFld, vm.VCallStFld:
		tokVal, err := popOne()
		if err != nil {
			return nil, err
		}
		tokCV, err := concrete(tokVal)
		if err != nil {
			return nil, err
		}
		if token, ok := resolveToken(tokCV.Value, vm.TokenFieldDef, vm.TokenFieldRef); ok {
			ann.Token = token
			if m, ok := sess.metadata.ResolveMember(token); ok {
				ann.Field = m.Field
			}
		}
		if _, err := popOne(); err != nil { // target object
			return nil, err
		}
		if op == vm.VCallStFld {
			if _, err := popOne(); err != nil { // value to store
				return nil, err
			}
			pushesValue = false
		}

	case vm.VCallLdToken, vm.VCallToken:
		tokVal, err := popOne()
		if err != nil {
			return nil, err
		}
		tokCV, err := concrete(tokVal)
		if err != nil {
			return nil, err
		}
		if token, ok := resolveToken(tokCV.Value,
			vm.TokenTypeDef, vm.TokenTypeRef, vm.TokenTypeSpec,
			vm.TokenMethodDef, vm.TokenMethodRef,
			vm.TokenFieldDef, vm.TokenFieldRef); ok {
			ann.Token = token
		}

	case vm.VCallSizeOf:
		tokVal, err := popOne()
		if err != nil {
			return nil, err
		}
		tokCV, err := concrete(tokVal)
		if err != nil {
			return nil, err
		}
		if token, ok := resolveToken(tokCV.Value, vm.TokenTypeDef, vm.TokenTypeRef, vm.TokenTypeSpec); ok {
			ann.Token = token
		}

	case vm.VCallThrow:
		if _, err := popOne(); err != nil { // exception object
			return nil, err
		}
		pushesValue = false

	default:
		return nil, unsupportedf(instr.Offset, instr.Opcode, "unhandled vcall sub-opcode %s", op)
	}

	inferredPush := uint32(0)
	if pushesValue {
		next.Stack.Push(vm.NewSymbolicValue(instr.Offset, vm.Unknown))
		inferredPush = 1
	}

	instr.Annotation = vm.Annotation{
		Kind:         vm.AnnotationVCall,
		InferredPop:  uint32(instr.Dependencies.Len()),
		InferredPush: inferredPush,
		VCall:        &ann,
	}

	if op == vm.VCallThrow {
		return nil, nil
	}
	return []*vm.ProgramState{next}, nil
}
