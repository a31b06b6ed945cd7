package disasm

import (
	"context"

	"golang.org/x/sync/errgroup"

	vm "github.com/ilreverse/vmdisasm"
)

// Session orchestrates the disassembly of every export of one VM program
// image, per spec.md §5: exports are analyzed concurrently, sharing the
// read-only VMConstants and MetadataImage, and cooperating only through
// the exit-key fixed point a CALL site's callee pins.
type Session struct {
	constants *vm.VMConstants
	metadata  vm.MetadataImage
	decode    vm.Decoder
	opts      Options

	exports *exportTable
	drivers []*driver
}

// NewSession returns a Session ready to have exports registered with
// AddExport.
func NewSession(constants *vm.VMConstants, metadata vm.MetadataImage, decode vm.Decoder, opts Options) *Session {
	return &Session{
		constants: constants,
		metadata:  metadata,
		decode:    decode,
		opts:      opts,
		exports:   newExportTable(),
	}
}

// AddExport registers one exported function for analysis and returns the
// VMExportDisassembly RunAll will populate. Must be called before RunAll;
// exports cannot be added once a session is running.
func (s *Session) AddExport(info vm.ExportInfo) *vm.VMExportDisassembly {
	record := vm.NewVMExportDisassembly(info)
	entry := s.exports.register(&record.ExportInfo, record)
	s.drivers = append(s.drivers, newDriver(entry.id, record))
	return record
}

// RunAll drives every registered export to a fixed point, per spec.md
// §4.F/§5: each round analyzes every export concurrently (bounded by
// Options.MaxConcurrency), then checks whether any export's pending call
// can now be resolved against another export's newly-pinned exit key.
// Rounds stop once a round makes no progress anywhere.
func (s *Session) RunAll(ctx context.Context) error {
	if _, err := s.runRound(ctx, true); err != nil {
		return err
	}
	for {
		progressed, err := s.runRound(ctx, false)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

func (s *Session) runRound(ctx context.Context, first bool) (bool, error) {
	g, gctx := errgroup.WithContext(ctx)
	if s.opts.MaxConcurrency > 0 {
		g.SetLimit(s.opts.MaxConcurrency)
	}

	progressed := make([]bool, len(s.drivers))
	for i, d := range s.drivers {
		i, d := i, d
		g.Go(func() error {
			p, err := d.runRound(gctx, s, first)
			progressed[i] = p
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return false, err
	}

	for _, p := range progressed {
		if p {
			return true, nil
		}
	}
	return false, nil
}
