// Package binding implements the classic dyld bind-opcode interpreter:
// the bytecode format carried in LC_DYLD_INFO(_ONLY)'s bind and
// lazy-bind blobs. It is the concrete default behind the loader's
// BindingHelper contract, which treats binding as a black box —
// callers may substitute a different Interpreter as long as it
// satisfies the same BindContext contract.
package binding

import (
	"fmt"
)

// BindContext is everything the interpreter needs from the image being
// bound. The root package's Image satisfies this without binding
// importing it, keeping the dependency one-directional.
type BindContext interface {
	// SegmentVAddr returns the virtual address of segment index i.
	SegmentVAddr(i int) (uint64, error)
	// LibraryName resolves a bind library ordinal to a name, purely for
	// diagnostics.
	LibraryName(ordinal int) string
	// RecordBind is called once per BIND_OPCODE_DO_BIND* opcode with the
	// resolved target virtual address and the symbol name being bound.
	RecordBind(symbolName string, libraryOrdinal int, targetVAddr uint64, addend int64)
	// RecordStub is called once per lazy-bind entry, additionally
	// carrying the address of the lazy stub itself.
	RecordStub(symbolName string, libraryOrdinal int, stubVAddr uint64)
}

// Opcode nibble values, mach-o/loader.h's BIND_OPCODE_* family.
const (
	opMask                        = 0xF0
	immMask                       = 0x0F
	opDone                        = 0x00
	opSetDylibOrdinalImm          = 0x10
	opSetDylibOrdinalUleb         = 0x20
	opSetDylibSpecialImm          = 0x30
	opSetSymbolTrailingFlagsImm   = 0x40
	opSetTypeImm                  = 0x50
	opSetAddendSleb               = 0x60
	opSetSegmentAndOffsetUleb     = 0x70
	opAddAddrUleb                 = 0x80
	opDoBind                      = 0x90
	opDoBindAddAddrUleb           = 0xA0
	opDoBindAddAddrImmScaled      = 0xB0
	opDoBindUlebTimesSkippingUleb = 0xC0
	opThreaded                    = 0xD0
)

// Interpreter walks bind/lazy-bind opcode streams, calling back into a
// BindContext for every bind it performs.
type Interpreter struct {
	PointerSize uint64 // 4 or 8, used by opDoBindAddAddrImmScaled
}

// NewInterpreter returns an Interpreter for the given pointer size (4
// for 32-bit images, 8 for 64-bit).
func NewInterpreter(pointerSize uint64) *Interpreter {
	if pointerSize == 0 {
		pointerSize = 8
	}
	return &Interpreter{PointerSize: pointerSize}
}

type bindState struct {
	segIndex     int
	segOffset    uint64
	dylibOrdinal int
	symbolName   string
	addend       int64
	symbolFlags  byte
}

// Bind interprets a normal bind blob against ctx.
func (in *Interpreter) Bind(ctx BindContext, blob []byte) error {
	return in.run(ctx, blob, false)
}

// BindLazy interprets a lazy-bind blob against ctx. Each lazy entry is
// a self-contained mini bind-opcode stream terminated by opDone, which
// resets the bind state; each entry's bind is reported via RecordStub
// instead of RecordBind.
func (in *Interpreter) BindLazy(ctx BindContext, blob []byte) error {
	return in.run(ctx, blob, true)
}

func (in *Interpreter) run(ctx BindContext, blob []byte, lazy bool) error {
	st := bindState{dylibOrdinal: 0}
	i := 0
	for i < len(blob) {
		b := blob[i]
		i++
		op := b & opMask
		imm := int(b & immMask)

		switch op {
		case opDone:
			if lazy {
				// a lazy-bind blob is a concatenation of independent
				// per-stub streams; opDone ends one entry, not the walk.
				st = bindState{dylibOrdinal: 0}
				continue
			}
			return nil

		case opSetDylibOrdinalImm:
			st.dylibOrdinal = imm

		case opSetDylibOrdinalUleb:
			v, n, err := readUleb(blob[i:])
			if err != nil {
				return fmt.Errorf("binding: set dylib ordinal: %w", err)
			}
			i += n
			st.dylibOrdinal = int(v)

		case opSetDylibSpecialImm:
			if imm == 0 {
				st.dylibOrdinal = 0
			} else {
				st.dylibOrdinal = -int(immMask+1-imm) - 1
			}

		case opSetSymbolTrailingFlagsImm:
			st.symbolFlags = byte(imm)
			name, n := readCString(blob[i:])
			i += n
			st.symbolName = name

		case opSetTypeImm:
			// type (pointer/text-absolute32/text-pcrel32) is not modeled;
			// every bind in this loader resolves to an absolute pointer.

		case opSetAddendSleb:
			v, n, err := readSleb(blob[i:])
			if err != nil {
				return fmt.Errorf("binding: set addend: %w", err)
			}
			i += n
			st.addend = v

		case opSetSegmentAndOffsetUleb:
			st.segIndex = imm
			v, n, err := readUleb(blob[i:])
			if err != nil {
				return fmt.Errorf("binding: set segment offset: %w", err)
			}
			i += n
			st.segOffset = v

		case opAddAddrUleb:
			v, n, err := readUleb(blob[i:])
			if err != nil {
				return fmt.Errorf("binding: add addr: %w", err)
			}
			i += n
			st.segOffset += v

		case opDoBind:
			if err := in.emit(ctx, &st, lazy); err != nil {
				return err
			}
			st.segOffset += in.PointerSize

		case opDoBindAddAddrUleb:
			if err := in.emit(ctx, &st, lazy); err != nil {
				return err
			}
			st.segOffset += in.PointerSize
			v, n, err := readUleb(blob[i:])
			if err != nil {
				return fmt.Errorf("binding: do bind add addr: %w", err)
			}
			i += n
			st.segOffset += v

		case opDoBindAddAddrImmScaled:
			if err := in.emit(ctx, &st, lazy); err != nil {
				return err
			}
			st.segOffset += in.PointerSize + uint64(imm)*in.PointerSize

		case opDoBindUlebTimesSkippingUleb:
			count, n, err := readUleb(blob[i:])
			if err != nil {
				return fmt.Errorf("binding: bind times: %w", err)
			}
			i += n
			skip, n, err := readUleb(blob[i:])
			if err != nil {
				return fmt.Errorf("binding: bind skip: %w", err)
			}
			i += n
			for c := uint64(0); c < count; c++ {
				if err := in.emit(ctx, &st, lazy); err != nil {
					return err
				}
				st.segOffset += in.PointerSize + skip
			}

		case opThreaded:
			// threaded-rebase chains are a newer, distinct fixup format
			// (LC_DYLD_CHAINED_FIXUPS territory); skip the suboperand.
			if imm == 0x00 {
				_, n, err := readUleb(blob[i:])
				if err != nil {
					return fmt.Errorf("binding: threaded table size: %w", err)
				}
				i += n
			}

		default:
			return fmt.Errorf("binding: unknown opcode 0x%02x at offset %d", op, i-1)
		}
	}
	return nil
}

func (in *Interpreter) emit(ctx BindContext, st *bindState, lazy bool) error {
	segVAddr, err := ctx.SegmentVAddr(st.segIndex)
	if err != nil {
		return fmt.Errorf("binding: %w", err)
	}
	target := segVAddr + st.segOffset
	if lazy {
		ctx.RecordStub(st.symbolName, st.dylibOrdinal, target)
	} else {
		ctx.RecordBind(st.symbolName, st.dylibOrdinal, target, st.addend)
	}
	return nil
}

func readUleb(b []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i := 0; i < len(b); i++ {
		byt := b[i]
		result |= uint64(byt&0x7f) << shift
		if byt&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("truncated ULEB128")
}

func readSleb(b []byte) (int64, int, error) {
	var result int64
	var shift uint
	var byt byte
	i := 0
	for {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("truncated SLEB128")
		}
		byt = b[i]
		result |= int64(byt&0x7f) << shift
		shift += 7
		i++
		if byt&0x80 == 0 {
			break
		}
	}
	if shift < 64 && (byt&0x40) != 0 {
		result |= -(int64(1) << shift)
	}
	return result, i, nil
}

func readCString(b []byte) (string, int) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), i + 1
		}
	}
	return string(b), len(b)
}
