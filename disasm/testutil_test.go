package disasm

import (
	vm "github.com/ilreverse/vmdisasm"
)

// fakeMetadata is a minimal vm.MetadataImage for tests: every id maps to a
// token equal to the id itself, and members are looked up from a map the
// test populates directly.
type fakeMetadata struct {
	members map[uint32]vm.Member
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{members: make(map[uint32]vm.Member)}
}

func (m *fakeMetadata) ResolveMember(token uint32) (vm.Member, bool) {
	member, ok := m.members[token]
	return member, ok
}

func (m *fakeMetadata) ResolveReference(logger vm.Logger, offset uint64, id uint32, allowed ...vm.TokenKind) (uint32, bool) {
	return id, true
}

// programDecoder adapts a flat offset->Instruction table to vm.Decoder for
// tests: the stream-cipher key is carried through unchanged, since these
// fixtures never exercise decryption.
func programDecoder(program map[uint64]vm.Instruction) vm.Decoder {
	return vm.DecoderFunc(func(offset uint64, key uint32) (vm.Instruction, uint32, error) {
		instr, ok := program[offset]
		if !ok {
			return vm.Instruction{}, 0, errNoInstruction(offset)
		}
		return instr, key, nil
	})
}

type errNoInstruction uint64

func (e errNoInstruction) Error() string {
	return "no instruction at the requested offset"
}
