package vm

import (
	"sort"

	"gopkg.in/yaml.v3"
)

// ExportInfo describes one exported function's entry point, per
// spec.md §3. ExitKey starts unknown; the first RET reached from the
// entry pins it (4.C RET).
type ExportInfo struct {
	EntryOffset uint64
	EntryKey    uint32
	ExitKey     *uint32
	Signature   MethodSignature
}

// KnownExitKey returns the resolved exit key and true, or (0, false) if
// it is still unknown.
func (e *ExportInfo) KnownExitKey() (uint32, bool) {
	if e.ExitKey == nil {
		return 0, false
	}
	return *e.ExitKey, true
}

// SetExitKey pins the exit key. Per spec.md §4.C RET and §5, the first
// RET to reach it wins; later RETs disagreeing only warn (handled by the
// caller, not here).
func (e *ExportInfo) SetExitKey(key uint32) {
	if e.ExitKey == nil {
		k := key
		e.ExitKey = &k
	}
}

// VMExportDisassembly is the per-export disassembly record mutated by a
// single driver instance, per spec.md §3/§5. Instructions is a partial
// function from offset; BlockHeaders and UnresolvedOffsets are sets.
type VMExportDisassembly struct {
	ExportInfo        ExportInfo
	Instructions      map[uint64]*Instruction
	BlockHeaders      map[uint64]struct{}
	UnresolvedOffsets map[uint64]struct{}
}

// NewVMExportDisassembly returns an empty record seeded for info.
func NewVMExportDisassembly(info ExportInfo) *VMExportDisassembly {
	d := &VMExportDisassembly{
		ExportInfo:        info,
		Instructions:      make(map[uint64]*Instruction),
		BlockHeaders:      make(map[uint64]struct{}),
		UnresolvedOffsets: make(map[uint64]struct{}),
	}
	d.MarkBlockHeader(info.EntryOffset)
	return d
}

// AddInstruction records a decoded, now-annotated instruction.
func (d *VMExportDisassembly) AddInstruction(instr *Instruction) {
	d.Instructions[instr.Offset] = instr
}

// MarkBlockHeader records offset as the start of a basic block.
func (d *VMExportDisassembly) MarkBlockHeader(offset uint64) {
	d.BlockHeaders[offset] = struct{}{}
}

// MarkUnresolved records offset as a call site whose callee's exit key is
// not yet known, or as an instruction whose state was dropped with an
// Unsupported error.
func (d *VMExportDisassembly) MarkUnresolved(offset uint64) {
	d.UnresolvedOffsets[offset] = struct{}{}
}

// ResolveCall clears offset from the unresolved set, called once the
// callee's exit key becomes known and the call site has been re-visited.
func (d *VMExportDisassembly) ResolveCall(offset uint64) {
	delete(d.UnresolvedOffsets, offset)
}

// SortedOffsets returns the recorded instruction offsets in ascending
// order, for deterministic iteration of the otherwise-unordered
// Instructions map (spec.md §3 models it as a SortedMap).
func (d *VMExportDisassembly) SortedOffsets() []uint64 {
	out := make([]uint64, 0, len(d.Instructions))
	for off := range d.Instructions {
		out = append(out, off)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SortedBlockHeaders returns the recorded block headers in ascending
// order.
func (d *VMExportDisassembly) SortedBlockHeaders() []uint64 {
	out := make([]uint64, 0, len(d.BlockHeaders))
	for off := range d.BlockHeaders {
		out = append(out, off)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SortedUnresolvedOffsets returns the still-unresolved call offsets in
// ascending order.
func (d *VMExportDisassembly) SortedUnresolvedOffsets() []uint64 {
	out := make([]uint64, 0, len(d.UnresolvedOffsets))
	for off := range d.UnresolvedOffsets {
		out = append(out, off)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// dumpInstruction and dumpExport are the plain-value projections encoded
// by DumpYAML; yaml.v3 cannot marshal the map[uint64]*Instruction shape
// directly (non-string map keys), so the output surface (§6.4) is
// flattened into an ordered slice first, grounded on the host repo's
// use of yaml.Node-based canonicalization in multistate.go to get a
// deterministic textual rendering of otherwise-unordered state.
type dumpInstruction struct {
	Offset       uint64   `yaml:"offset"`
	Opcode       string   `yaml:"opcode"`
	InferredPop  uint32   `yaml:"inferred_pop"`
	InferredPush uint32   `yaml:"inferred_push"`
	Targets      []uint64 `yaml:"targets,omitempty"`
}

type dumpExport struct {
	EntryOffset  uint64            `yaml:"entry_offset"`
	ExitKey      *uint32           `yaml:"exit_key,omitempty"`
	BlockHeaders []uint64          `yaml:"block_headers"`
	Unresolved   []uint64          `yaml:"unresolved_offsets,omitempty"`
	Instructions []dumpInstruction `yaml:"instructions"`
}

// DumpYAML renders the output surface of spec.md §6.4 — the annotated
// instruction map, block headers, resolved/unresolved exit key, and
// unresolved call offsets — as deterministic YAML for downstream
// inspection or golden-file testing.
func (d *VMExportDisassembly) DumpYAML() ([]byte, error) {
	out := dumpExport{
		EntryOffset:  d.ExportInfo.EntryOffset,
		ExitKey:      d.ExportInfo.ExitKey,
		BlockHeaders: d.SortedBlockHeaders(),
		Unresolved:   d.SortedUnresolvedOffsets(),
	}
	for _, off := range d.SortedOffsets() {
		instr := d.Instructions[off]
		out.Instructions = append(out.Instructions, dumpInstruction{
			Offset:       instr.Offset,
			Opcode:       instr.Opcode.String(),
			InferredPop:  instr.Annotation.InferredPop,
			InferredPush: instr.Annotation.InferredPush,
			Targets:      instr.Annotation.InferredTargets,
		})
	}
	return yaml.Marshal(out)
}
