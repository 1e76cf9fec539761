package macho

import (
	"github.com/cle-go/machoimage/pkg/trie"
	"github.com/cle-go/machoimage/types"
)

// ExportKind distinguishes the three export record shapes the trie
// decoder can produce.
type ExportKind int

const (
	ExportRegular ExportKind = iota
	ExportReexport
	ExportStubAndResolver
)

// Export is one decoded entry from the exports trie.
type Export struct {
	Kind  ExportKind
	Flags types.ExportFlag

	Address uint64 // ExportRegular: absolute virtual address

	ReexportLibraryOrdinal int    // ExportReexport
	ReexportName           string // ExportReexport: target symbol name ("" means same name)

	StubOffset     uint64 // ExportStubAndResolver
	ResolverOffset uint64 // ExportStubAndResolver
}

func (f *Image) parseExportsTrie() error {
	if len(f.ExportBlob) == 0 {
		return nil
	}
	loadAddr := uint64(0)
	if len(f.Segments) > 1 {
		loadAddr = f.Segments[1].VAddr
	} else if len(f.Segments) == 1 {
		loadAddr = f.Segments[0].VAddr
	}

	entries, err := trie.ParseTrie(f.ExportBlob, loadAddr)
	if err != nil {
		return newInvalidBinaryError("parse exports trie", err)
	}

	for _, e := range entries {
		switch {
		case e.Flags.ReExport():
			f.Exports[e.Name] = &Export{
				Kind:                   ExportReexport,
				Flags:                  e.Flags,
				ReexportLibraryOrdinal: int(e.Other),
				ReexportName:           e.ReExport,
			}
		case e.Flags.StubAndResolver():
			f.Exports[e.Name] = &Export{
				Kind:           ExportStubAndResolver,
				Flags:          e.Flags,
				StubOffset:     e.Address,
				ResolverOffset: e.Other,
			}
		default:
			f.Exports[e.Name] = &Export{
				Kind:    ExportRegular,
				Flags:   e.Flags,
				Address: e.Address,
			}
		}
	}
	return nil
}
