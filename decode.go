package vm

// Decoder is the external collaborator of spec.md §6.2: it decrypts one
// instruction at offset under the stream-cipher key, returning the
// decoded instruction (with empty Dependencies/Annotation, to be filled
// in by the instruction processor) and the key the following instruction
// will use. The core treats a decode failure as fatal for the current
// state only (§7 Fatal is reserved for failures at a seeded export
// entry).
type Decoder interface {
	Decode(offset uint64, key uint32) (Instruction, uint32, error)
}

// DecoderFunc adapts a plain function to the Decoder interface, the
// common Go idiom for single-method collaborator interfaces (cf.
// net/http.HandlerFunc).
type DecoderFunc func(offset uint64, key uint32) (Instruction, uint32, error)

// Decode calls f.
func (f DecoderFunc) Decode(offset uint64, key uint32) (Instruction, uint32, error) {
	return f(offset, key)
}
