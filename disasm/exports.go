package disasm

import (
	"sync"

	vm "github.com/ilreverse/vmdisasm"
)

// exportEntry is one export registered with a Session: its assigned id, the
// info the driver seeds its agenda from, and the disassembly record the
// driver mutates. Shared by reference across every goroutine in a
// Session.RunAll round (spec.md §5); disasm is mutated only by its own
// driver, and ExportInfo.ExitKey, the one field other drivers read that
// changes after registration, is written only through exportTable's lock.
type exportEntry struct {
	id     uint32
	info   *vm.ExportInfo
	disasm *vm.VMExportDisassembly
}

// exportTable resolves a CALL's concrete target address to the export it
// names, and serializes reads/writes of each export's exit key across the
// concurrently-running drivers of a Session, per spec.md §5: "the exit key
// may be read by other exports' drivers before it is known, and is
// re-checked... once all other exports in the session have been driven to
// a fixed point."
type exportTable struct {
	mu        sync.Mutex
	byAddress map[uint64]*exportEntry
	byID      []*exportEntry
}

func newExportTable() *exportTable {
	return &exportTable{byAddress: make(map[uint64]*exportEntry)}
}

// register assigns address's export the next id and returns its entry.
func (t *exportTable) register(info *vm.ExportInfo, disasm *vm.VMExportDisassembly) *exportEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := &exportEntry{id: uint32(len(t.byID)), info: info, disasm: disasm}
	t.byID = append(t.byID, e)
	t.byAddress[info.EntryOffset] = e
	return e
}

// lookup resolves a CALL's concrete target address to its export entry.
func (t *exportTable) lookup(address uint64) (*exportEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byAddress[address]
	return e, ok
}

// exitKey reads the exit key pinned for the export with the given id, if
// any.
func (t *exportTable) exitKey(id uint32) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id) >= len(t.byID) {
		return 0, false
	}
	return t.byID[id].info.KnownExitKey()
}

// setExitKey pins the exit key for the export with the given id, first
// writer wins (spec.md §4.C RET).
func (t *exportTable) setExitKey(id uint32, key uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id) >= len(t.byID) {
		return
	}
	t.byID[id].info.SetExitKey(key)
}
