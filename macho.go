// Package macho parses Mach-O binaries into an in-memory Image: header,
// segments and sections, the symbol table (fully cross-referenced and
// resolved against sections, imported libraries, and the exports
// trie), function starts, data-in-code ranges, and module
// init/term pointer arrays.
package macho

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cle-go/machoimage/backend"
	"github.com/cle-go/machoimage/binding"
	"github.com/cle-go/machoimage/types"
)

// externBase64/externBase32 are the first addresses handed out to
// symbols that have no natural address (imports, undefined symbols).
const (
	externBase64 = uint64(0xff00_0000_0000_0000)
	externBase32 = uint64(0xff00_0000)
)

// Image is the root aggregate produced by NewFile: a fully parsed and
// resolved Mach-O binary.
type Image struct {
	Header types.FileHeader

	ByteOrder binary.ByteOrder
	ArchID    string // "x86", "x64", "arm", "aarch"
	Bits      int
	Endness   string // "lsb" or "msb"
	PIE       bool

	EntryPoint uint64
	entrySet   bool
	mainOffset uint64
	mainIsSet  bool

	Segments          []*Segment
	Symbols           []*Symbol
	ImportedLibraries []string
	Exports           map[string]*Export

	FunctionStarts []uint64
	DataInCode     []DataInCodeRecord
	ModInitFunc    []uint64
	ModTermFunc    []uint64

	RebaseBlob   []byte
	BindBlob     []byte
	WeakBindBlob []byte
	LazyBindBlob []byte
	ExportBlob   []byte
	StringTable  []byte

	Memory *backend.MemoryStore
	Archs  *backend.ArchRegistry

	logger  Logger
	binder  BindingHelper
	sectTab []*Section // 1-indexed; index 0 is the NO_SECT sentinel (nil)

	symByAddr    map[uint64]*Symbol
	externCursor uint64
	externBase   uint64

	functionStartsBlob []byte
	dataInCodeBlob     []byte
}

// BindingHelper is the contract the loader's resolution pass drives to
// interpret dyld binding blobs. binding.Interpreter is the concrete
// default; it is swappable for any type satisfying this interface.
type BindingHelper interface {
	Bind(ctx binding.BindContext, blob []byte) error
	BindLazy(ctx binding.BindContext, blob []byte) error
}

// Option configures a Image constructed by NewFile.
type Option func(*Image)

// WithLogger injects a structured logger. The default discards all
// log output.
func WithLogger(l Logger) Option {
	return func(f *Image) { f.logger = l }
}

// WithMemoryStore injects a host-provided memory backer store in place
// of the default in-module backend.MemoryStore.
func WithMemoryStore(m *backend.MemoryStore) Option {
	return func(f *Image) { f.Memory = m }
}

// WithArchRegistry injects a host-provided architecture registry.
func WithArchRegistry(a *backend.ArchRegistry) Option {
	return func(f *Image) { f.Archs = a }
}

// WithBindingHelper overrides the default bind-opcode interpreter.
func WithBindingHelper(b BindingHelper) Option {
	return func(f *Image) { f.binder = b }
}

// DataInCodeRecord is one LC_DATA_IN_CODE entry.
type DataInCodeRecord struct {
	Offset uint32
	Length uint16
	Kind   uint16
}

// NewFile parses the Mach-O image readable through r.
func NewFile(r io.ReaderAt, opts ...Option) (img *Image, err error) {
	f := &Image{
		Exports:   make(map[string]*Export),
		symByAddr: make(map[uint64]*Symbol),
		logger:    nopLogger{},
	}
	for _, o := range opts {
		o(f)
	}
	if f.Memory == nil {
		f.Memory = backend.NewMemoryStore()
	}
	if f.Archs == nil {
		f.Archs = backend.NewArchRegistry()
	}

	if err := f.parseHeader(r); err != nil {
		return nil, err
	}
	if f.Bits == 64 {
		f.externBase = externBase64
	} else {
		f.externBase = externBase32
	}
	f.externCursor = f.externBase
	// ordinal 0 is reserved for the image itself.
	f.ImportedLibraries = append(f.ImportedLibraries, "Self")

	if err := f.parseLoadCommands(r); err != nil {
		return nil, err
	}
	if err := f.resolve(); err != nil {
		return nil, err
	}
	return f, nil
}

func readAt(r io.ReaderAt, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, off); err != nil {
		return nil, newOperationError(fmt.Sprintf("read %d bytes at offset %d", n, off), err)
	}
	return buf, nil
}

func cstring(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// FindSegmentByName returns the first segment with the given name, or
// nil if no such segment exists.
func (f *Image) FindSegmentByName(name string) *Segment {
	for _, s := range f.Segments {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Segment is the stand-in for an index operator by segment name; it is
// equivalent to FindSegmentByName.
func (f *Image) Segment(name string) *Segment { return f.FindSegmentByName(name) }
