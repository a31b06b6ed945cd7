package disasm

import vm "github.com/ilreverse/vmdisasm"

// pushEHFrame, popEHFrame, and topEHFrame are the exception-frame tracker
// of spec.md §4.E: a per-state stack manipulated only by TRY (push) and
// LEAVE (pop). The tracker defines no operations beyond push/pop/read-top,
// so it stays three helpers over ProgramState.EHStack rather than its own
// type.

func pushEHFrame(state *vm.ProgramState, frame vm.EHFrame) {
	state.EHStack = append(state.EHStack, frame)
}

func popEHFrame(state *vm.ProgramState) (vm.EHFrame, bool) {
	if len(state.EHStack) == 0 {
		return vm.EHFrame{}, false
	}
	top := state.EHStack[len(state.EHStack)-1]
	state.EHStack = state.EHStack[:len(state.EHStack)-1]
	return top, true
}

func topEHFrame(state *vm.ProgramState) (vm.EHFrame, bool) {
	if len(state.EHStack) == 0 {
		return vm.EHFrame{}, false
	}
	return state.EHStack[len(state.EHStack)-1], true
}
