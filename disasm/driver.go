package disasm

import (
	"context"
	"errors"

	vm "github.com/ilreverse/vmdisasm"
)

// visitKey is a driver's worklist identity for one program point, mirroring
// vm.ProgramState.VisitKey.
type visitKey struct {
	ip  uint64
	key uint32
}

// pendingCall is a CALL site parked by processCall because its callee's
// exit key was not yet known, per spec.md §4.F: "remember the call site's
// offset and the state it produced, so it can be resumed once the
// callee's exit key becomes known." next already has its IP/flags/
// arguments applied; only Key (and, if the call returns a value, R0) are
// still unset.
type pendingCall struct {
	calleeID     uint32
	next         *vm.ProgramState
	returnsValue bool
	returnType   vm.VMType
	sourceOffset uint64
}

// driver runs the worklist/agenda loop of spec.md §4.F for a single
// export. It owns the export's VMExportDisassembly and visited set; its
// only interaction with the rest of the session is through sess.exports,
// which is safe for concurrent use by every other export's driver.
type driver struct {
	id      uint32
	disasm  *vm.VMExportDisassembly
	agenda  []*vm.ProgramState
	visited map[visitKey]int

	pendingCalls map[uint64]*pendingCall
}

func newDriver(id uint32, disasm *vm.VMExportDisassembly) *driver {
	return &driver{
		id:           id,
		disasm:       disasm,
		visited:      make(map[visitKey]int),
		pendingCalls: make(map[uint64]*pendingCall),
	}
}

// push enqueues s unless (ip, key) has already been visited by this
// driver. Per spec.md §3's invariant, a stack-depth mismatch between the
// new state and the one that first visited this point indicates the
// obfuscated stream encodes a depth-varying join point the disassembler
// cannot represent; it is logged and the new state is dropped regardless.
func (d *driver) push(sess *Session, s *vm.ProgramState) {
	ip, k := s.VisitKey()
	key := visitKey{ip: ip, key: k}
	if depth, ok := d.visited[key]; ok {
		if depth != s.Stack.Depth() {
			sess.opts.logger().Errorf("stack depth mismatch at ip=0x%x key=0x%x: %d vs %d", ip, k, depth, s.Stack.Depth())
		}
		return
	}
	d.visited[key] = s.Stack.Depth()
	d.agenda = append(d.agenda, s)
}

func (d *driver) pop() *vm.ProgramState {
	n := len(d.agenda)
	s := d.agenda[n-1]
	d.agenda = d.agenda[:n-1]
	return s
}

// runRound performs one unit of this driver's work for a Session.RunAll
// round: on the first round it seeds the agenda at the export's entry
// point; on later rounds it re-seeds any pending call whose callee's exit
// key has since become known. It then drains the agenda to its own fixed
// point. progressed reports whether this round did anything at all, which
// Session.RunAll uses to detect the session-wide fixed point of spec.md
// §4.F: "Iterate until a fixed point is reached: the agenda is empty and
// no unresolved offset can be resolved."
func (d *driver) runRound(ctx context.Context, sess *Session, first bool) (progressed bool, err error) {
	if first {
		d.push(sess, vm.NewProgramState(d.disasm.ExportInfo.EntryOffset, d.disasm.ExportInfo.EntryKey))
		progressed = true
	} else {
		for offset, pc := range d.pendingCalls {
			exitKey, known := sess.exports.exitKey(pc.calleeID)
			if !known {
				continue
			}
			pc.next.Key = exitKey
			if pc.returnsValue {
				pc.next.Registers[vm.R0] = vm.NewSymbolicValue(pc.sourceOffset, pc.returnType)
			}
			d.disasm.ResolveCall(offset)
			delete(d.pendingCalls, offset)
			d.push(sess, pc.next)
			progressed = true
		}
	}

	if !progressed {
		return false, nil
	}
	if err := d.drain(ctx, sess); err != nil {
		return progressed, err
	}
	return progressed, nil
}

// drain runs the agenda loop of spec.md §4.F to its own fixed point: pop a
// state, decode the instruction at its program point, run it through the
// instruction processor, record the now-annotated instruction, and enqueue
// whatever successor states the processor produced.
func (d *driver) drain(ctx context.Context, sess *Session) error {
	iterations := 0
	for len(d.agenda) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		iterations++
		if iterations > sess.opts.MaxAgendaIterations {
			return fatalf("export %d exceeded %d agenda iterations", d.id, sess.opts.MaxAgendaIterations)
		}

		state := d.pop()

		instr, nextKey, err := sess.decode.Decode(state.IP, state.Key)
		if err != nil {
			if state.IP == d.disasm.ExportInfo.EntryOffset && state.Key == d.disasm.ExportInfo.EntryKey {
				return fatalf("decode failed at export %d entry offset=0x%x: %v", d.id, state.IP, err)
			}
			sess.opts.logger().Warnf("decode failed at offset=0x%x key=0x%x: %v", state.IP, state.Key, err)
			continue
		}

		successors, perr := processInstruction(sess, d, &instr, state, nextKey)
		if perr != nil {
			var derr *Error
			if errors.As(perr, &derr) && (derr.Kind == KindStackUnderflow || derr.Kind == KindInternal) {
				sess.opts.logger().Errorf("dropping state at offset=0x%x: %v", instr.Offset, perr)
			} else {
				sess.opts.logger().Warnf("dropping state at offset=0x%x: %v", instr.Offset, perr)
			}
			if derr != nil && derr.Kind == KindUnsupported {
				d.disasm.MarkUnresolved(instr.Offset)
			}
			continue
		}

		d.disasm.AddInstruction(&instr)
		for _, succ := range successors {
			d.push(sess, succ)
		}
	}
	return nil
}
