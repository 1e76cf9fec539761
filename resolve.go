package macho

import (
	"github.com/cle-go/machoimage/binding"
	"github.com/cle-go/machoimage/types"
)

// resolve runs the post-pass: export decoding, section cross-referencing
// of every symbol, synthetic address assignment for imports/undefineds,
// binding, entry-point finalization, function starts, data-in-code, and
// the module init/term pointer arrays. It runs once, after every load
// command has been parsed.
func (f *Image) resolve() error {
	if err := f.parseExportsTrie(); err != nil {
		return err
	}
	f.finalizeEntryPoint()

	f.sectTab = append(f.sectTab, nil) // NO_SECT sentinel at index 0
	for _, seg := range f.Segments {
		for _, sec := range seg.Sections {
			f.sectTab = append(f.sectTab, sec)
		}
	}

	for _, sym := range f.Symbols {
		if _, ok := f.Exports[sym.Name]; ok {
			sym.IsExport = true
		}
		if sym.IsStab() {
			continue
		}
		if sym.IsCommon() {
			sym.Size = sym.Value
		}
		switch sym.SymType() {
		case types.N_SECT:
			if int(sym.Sect) < len(f.sectTab) && f.sectTab[sym.Sect] != nil {
				sec := f.sectTab[sym.Sect]
				sym.SegmentName = sec.SegmentName
				sym.SectionName = sec.Name
			}
			sym.setAddr(sym.Value)
		default:
			if sym.IsImport() {
				sym.LibraryOrdinal = int(sym.Desc.GetLibraryOrdinal())
				if sym.LibraryOrdinal >= 0 && sym.LibraryOrdinal < len(f.ImportedLibraries) {
					sym.LibraryName = f.ImportedLibraries[sym.LibraryOrdinal]
				}
			}
		}
		if _, ok := sym.Addr(); !ok {
			sym.setAddr(f.externCursor)
			size := sym.Size
			if size == 0 {
				size = 1
			}
			f.externCursor += size
		}
	}

	if f.externCursor > f.externBase {
		f.Memory.AddBacker(f.externBase, make([]byte, f.externCursor-f.externBase))
	}

	if err := f.runBinding(); err != nil {
		return err
	}

	f.symByAddr = make(map[uint64]*Symbol, len(f.Symbols))
	for _, sym := range f.Symbols {
		if sym.IsStab() {
			continue
		}
		addr, ok := sym.Addr()
		if !ok {
			f.logger.Warnf("symbol %q has no resolved address", sym.Name)
			continue
		}
		f.symByAddr[addr] = sym
	}

	if err := f.parseFunctionStarts(); err != nil {
		return err
	}
	if err := f.parseDataInCode(); err != nil {
		return err
	}
	f.parseModInitTermPointers()

	return nil
}

func (f *Image) finalizeEntryPoint() {
	if f.mainIsSet {
		textVAddr := uint64(0)
		if seg := f.FindSegmentByName("__TEXT"); seg != nil {
			textVAddr = seg.VAddr
		}
		f.EntryPoint = textVAddr + f.mainOffset
	} else if !f.entrySet {
		f.logger.Warnf("no LC_MAIN or LC_UNIXTHREAD found; entry point defaults to 0")
	}
}

// firstMappedSegment returns the first segment mapped at file offset 0
// with nonzero file size — the base address LC_FUNCTION_STARTS deltas
// accumulate against.
func (f *Image) firstMappedSegment() *Segment {
	for _, seg := range f.Segments {
		if seg.Offset == 0 && seg.FileSize != 0 {
			return seg
		}
	}
	return nil
}

func (f *Image) parseFunctionStarts() error {
	if len(f.functionStartsBlob) == 0 {
		return nil
	}
	base := f.firstMappedSegment()
	if base == nil {
		return newInvalidBinaryError("LC_FUNCTION_STARTS present with no mapped base segment", nil)
	}

	addr := base.VAddr
	blob := f.functionStartsBlob
	i := 0
	for i < len(blob) {
		if blob[i] == 0 {
			break
		}
		delta, n, err := decodeULEB128(blob[i:])
		if err != nil {
			return newInvalidBinaryError("decode function-starts delta", err)
		}
		i += n
		addr += delta
		f.FunctionStarts = append(f.FunctionStarts, addr)
	}
	return nil
}

func (f *Image) parseDataInCode() error {
	blob := f.dataInCodeBlob
	if len(blob) == 0 {
		return nil
	}
	const recordSize = 8
	for i := 0; i+recordSize <= len(blob); i += recordSize {
		f.DataInCode = append(f.DataInCode, DataInCodeRecord{
			Offset: f.ByteOrder.Uint32(blob[i:]),
			Length: f.ByteOrder.Uint16(blob[i+4:]),
			Kind:   f.ByteOrder.Uint16(blob[i+6:]),
		})
	}
	return nil
}

func (f *Image) parseModInitTermPointers() {
	wordSize := 4
	if f.Bits == 64 {
		wordSize = 8
	}
	for _, seg := range f.Segments {
		for _, sec := range seg.Sections {
			switch sec.Type() {
			case sModInitFuncPointers, sModTermFuncPointers:
				data, err := f.Memory.ReadBytes(sec.Addr, int(sec.Size))
				if err != nil {
					f.logger.Warnf("reading %s/%s pointer array: %v", sec.SegmentName, sec.Name, err)
					continue
				}
				var ptrs []uint64
				for off := 0; off+wordSize <= len(data); off += wordSize {
					if wordSize == 8 {
						ptrs = append(ptrs, f.ByteOrder.Uint64(data[off:]))
					} else {
						ptrs = append(ptrs, uint64(f.ByteOrder.Uint32(data[off:])))
					}
				}
				if sec.Type() == sModInitFuncPointers {
					f.ModInitFunc = append(f.ModInitFunc, ptrs...)
				} else {
					f.ModTermFunc = append(f.ModTermFunc, ptrs...)
				}
			}
		}
	}
}

func decodeULEB128(b []byte) (uint64, int, error) {
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
	return 0, 0, newInvalidBinaryError("truncated ULEB128", nil)
}

// --- binding.BindContext implementation ---

func (f *Image) runBinding() error {
	if f.binder == nil {
		f.binder = binding.NewInterpreter(uint64(f.Bits / 8))
	}
	if len(f.BindBlob) > 0 {
		if err := f.binder.Bind(f, f.BindBlob); err != nil {
			return newInvalidBinaryError("interpret bind opcodes", err)
		}
	}
	if len(f.LazyBindBlob) > 0 {
		if err := f.binder.BindLazy(f, f.LazyBindBlob); err != nil {
			return newInvalidBinaryError("interpret lazy-bind opcodes", err)
		}
	}
	if len(f.WeakBindBlob) > 0 {
		f.logger.Debugf("skipping weak-bind blob (%d bytes)", len(f.WeakBindBlob))
	}
	return nil
}

// SegmentVAddr implements binding.BindContext.
func (f *Image) SegmentVAddr(i int) (uint64, error) {
	if i < 0 || i >= len(f.Segments) {
		return 0, newInvalidBinaryError("bind opcode references out-of-range segment index", nil)
	}
	return f.Segments[i].VAddr, nil
}

// LibraryName implements binding.BindContext.
func (f *Image) LibraryName(ordinal int) string {
	if ordinal >= 0 && ordinal < len(f.ImportedLibraries) {
		return f.ImportedLibraries[ordinal]
	}
	return ""
}

// RecordBind implements binding.BindContext.
func (f *Image) RecordBind(symbolName string, libraryOrdinal int, targetVAddr uint64, addend int64) {
	sym := f.findBoundSymbol(symbolName, libraryOrdinal)
	if sym == nil {
		return
	}
	sym.BindXrefs[targetVAddr] = struct{}{}
}

// RecordStub implements binding.BindContext.
func (f *Image) RecordStub(symbolName string, libraryOrdinal int, stubVAddr uint64) {
	sym := f.findBoundSymbol(symbolName, libraryOrdinal)
	if sym == nil {
		return
	}
	sym.SymbolStubs[stubVAddr] = struct{}{}
}

// findBoundSymbol locates the imported symbol a bind opcode targets by
// name. libraryOrdinal is accepted for parity with the bind-opcode
// stream but unused: nlist names are unique among a file's undefined
// imports, so the ordinal adds no disambiguation here.
func (f *Image) findBoundSymbol(name string, libraryOrdinal int) *Symbol {
	for _, sym := range f.Symbols {
		if sym.Name == name && sym.IsImport() {
			return sym
		}
	}
	if name == "" {
		return nil
	}
	f.logger.Debugf("bind opcode references %q, not present in symtab", name)
	return nil
}
