package vm

// ProgramState is one point of the worklist's exploration: an instruction
// pointer, the cipher key needed to decode the instruction there, and the
// symbolic stack/eh-stack/registers live at that point, per spec.md §3.
type ProgramState struct {
	IP        uint64
	Key       uint32
	Stack     SymbolicStack
	EHStack   []EHFrame
	Registers map[VMRegister]SymbolicValue
}

// NewProgramState returns the seed state for an export entry: empty
// stacks and registers at (ip, key).
func NewProgramState(ip uint64, key uint32) *ProgramState {
	return &ProgramState{
		IP:        ip,
		Key:       key,
		Registers: make(map[VMRegister]SymbolicValue),
	}
}

// Clone returns a deep copy: stacks, eh-stack, and the register map are
// all copied, but the SymbolicValues within are shared by reference since
// they are never mutated after construction (spec.md §5).
func (s *ProgramState) Clone() *ProgramState {
	ehCopy := make([]EHFrame, len(s.EHStack))
	copy(ehCopy, s.EHStack)

	regCopy := make(map[VMRegister]SymbolicValue, len(s.Registers))
	for k, v := range s.Registers {
		regCopy[k] = v
	}

	return &ProgramState{
		IP:        s.IP,
		Key:       s.Key,
		Stack:     s.Stack.Clone(),
		EHStack:   ehCopy,
		Registers: regCopy,
	}
}

// VisitKey returns s's worklist identity: two states at the same (ip,
// key) are the same exploration point (spec.md §3 invariant — their
// stack depths must agree).
func (s *ProgramState) VisitKey() (uint64, uint32) {
	return s.IP, s.Key
}
