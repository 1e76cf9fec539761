package macho

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cle-go/machoimage/types"
)

// Symbol is one nlist entry, resolved against sections, imported
// libraries, and exports by the post-parse resolution pass.
type Symbol struct {
	Name       string
	SymtabOff  int64
	Type       types.NType
	Sect       uint8
	Desc       types.NDescType
	Value      uint64

	addr    uint64
	hasAddr bool

	LibraryOrdinal int
	LibraryName    string
	SegmentName    string
	SectionName    string
	Size           uint64
	IsExport       bool

	BindXrefs   map[uint64]struct{}
	SymbolStubs map[uint64]struct{}
}

// ResolvedAddress satisfies backend.ResolvedAddresser.
func (s *Symbol) ResolvedAddress() uint64 { return s.addr }

// Addr returns the symbol's resolved virtual address and whether one
// was ever assigned (every non-stab symbol has one after resolution).
func (s *Symbol) Addr() (uint64, bool) { return s.addr, s.hasAddr }

func (s *Symbol) setAddr(a uint64) {
	s.addr = a
	s.hasAddr = true
}

// IsStab reports whether this is a symbolic-debugging entry, irrelevant
// to loading.
func (s *Symbol) IsStab() bool { return s.Type.IsDebugSym() }

// IsImport reports whether the symbol is undefined-external, i.e. must
// be resolved against an imported library.
func (s *Symbol) IsImport() bool {
	return s.Type.IsUndefinedSym() && s.Type.IsExternalSym() && s.Value == 0
}

// IsCommon reports the classic nlist.h common-symbol rule: an
// undefined external symbol whose n_value carries the requested size.
func (s *Symbol) IsCommon() bool {
	return s.Type.IsUndefinedSym() && s.Type.IsExternalSym() && s.Value != 0
}

// SymType returns the N_TYPE-masked symbol kind (UNDF/ABS/SECT/PBUD/INDR).
func (s *Symbol) SymType() types.NType { return s.Type & types.N_TYPE }

func (f *Image) parseSymtab(r io.ReaderAt, body []byte) error {
	bo := f.ByteOrder

	var hdr types.SymtabCmd
	if err := binary.Read(bytes.NewReader(body), bo, &hdr); err != nil {
		return newInvalidBinaryError("failed to read LC_SYMTAB", err)
	}

	strtab, err := readAt(r, int64(hdr.Stroff), int(hdr.Strsize))
	if err != nil {
		return err
	}
	f.StringTable = strtab

	entrySize := 12
	if f.Bits == 64 {
		entrySize = 16
	}
	buf, err := readAt(r, int64(hdr.Symoff), int(hdr.Nsyms)*entrySize)
	if err != nil {
		return err
	}

	f.Symbols = make([]*Symbol, 0, hdr.Nsyms)
	b := bytes.NewReader(buf)
	for i := uint32(0); i < hdr.Nsyms; i++ {
		var strx uint32
		var typ types.NType
		var sect uint8
		var desc types.NDescType
		var value uint64

		if f.Bits == 64 {
			var n types.Nlist64
			if err := binary.Read(b, bo, &n); err != nil {
				return newInvalidBinaryError("failed to read nlist_64", err)
			}
			strx, typ, sect, desc, value = n.Name, n.Type, n.Sect, n.Desc, n.Value
		} else {
			var n types.Nlist32
			if err := binary.Read(b, bo, &n); err != nil {
				return newInvalidBinaryError("failed to read nlist", err)
			}
			strx, typ, sect, desc, value = n.Name, n.Type, n.Sect, n.Desc, uint64(n.Value)
		}

		name := ""
		if strx != 0 && int(strx) < len(strtab) {
			name = cstring(strtab[strx:])
		}

		f.Symbols = append(f.Symbols, &Symbol{
			Name:        name,
			SymtabOff:   int64(hdr.Symoff) + int64(i)*int64(entrySize),
			Type:        typ,
			Sect:        sect,
			Desc:        desc,
			Value:       value,
			BindXrefs:   make(map[uint64]struct{}),
			SymbolStubs: make(map[uint64]struct{}),
		})
	}
	return nil
}
