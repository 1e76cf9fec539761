package macho

import (
	"encoding/binary"
	"testing"

	"github.com/cle-go/machoimage/backend"
)

// two imports with no section/common address get synthetic addresses
// in assignment order, each reserving exactly its own size.
func TestResolveSyntheticAddressMonotonic(t *testing.T) {
	f := &Image{
		Bits:              64,
		ImportedLibraries: []string{"Self", "libfoo.dylib"},
		Memory:            backend.NewMemoryStore(),
		logger:            nopLogger{},
	}
	f.externBase = externBase64
	f.externCursor = f.externBase

	small := &Symbol{Name: "_a", Type: 0x01, Size: 1, BindXrefs: map[uint64]struct{}{}, SymbolStubs: map[uint64]struct{}{}}
	big := &Symbol{Name: "_b", Type: 0x01, Size: 64, BindXrefs: map[uint64]struct{}{}, SymbolStubs: map[uint64]struct{}{}}
	f.Symbols = []*Symbol{small, big}

	if err := f.resolve(); err != nil {
		t.Fatalf("resolve() error = %v", err)
	}

	addrA, _ := small.Addr()
	addrB, _ := big.Addr()

	if addrA < f.externBase {
		t.Errorf("addr(A) = %#x, want >= externBase %#x", addrA, f.externBase)
	}
	if addrB < addrA+small.Size {
		t.Errorf("addr(B) = %#x, want >= addr(A)+size(A) = %#x", addrB, addrA+small.Size)
	}
}

func TestFinalizeEntryPointDefaultsToZeroWithWarning(t *testing.T) {
	rl := &recordingLogger{}
	f := &Image{logger: rl}

	f.finalizeEntryPoint()

	if f.EntryPoint != 0 {
		t.Errorf("EntryPoint = %#x, want 0 when neither LC_MAIN nor LC_UNIXTHREAD was seen", f.EntryPoint)
	}
	if len(rl.warns) != 1 {
		t.Errorf("got %d warnings, want exactly 1 for the missing-entry-point path", len(rl.warns))
	}
}

func TestFinalizeEntryPointFromMain(t *testing.T) {
	f := &Image{
		mainIsSet:  true,
		mainOffset: 0x10,
		Segments:   []*Segment{{Name: "__TEXT", VAddr: 0x4000}},
	}
	f.finalizeEntryPoint()
	if want := uint64(0x4010); f.EntryPoint != want {
		t.Errorf("EntryPoint = %#x, want %#x", f.EntryPoint, want)
	}
}

func TestDecodeULEB128(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    uint64
		wantLen int
	}{
		{"single byte", []byte{0x00}, 0, 1},
		{"three bytes", []byte{0xE5, 0x8E, 0x26}, 624485, 3},
		{"trailing bytes ignored", []byte{0x02, 0xFF}, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := decodeULEB128(tt.in)
			if err != nil {
				t.Fatalf("decodeULEB128(%v) error = %v", tt.in, err)
			}
			if got != tt.want || n != tt.wantLen {
				t.Errorf("decodeULEB128(%v) = (%d, %d), want (%d, %d)", tt.in, got, n, tt.want, tt.wantLen)
			}
		})
	}
}

func TestDecodeULEB128Truncated(t *testing.T) {
	if _, _, err := decodeULEB128([]byte{0x80}); err == nil {
		t.Error("decodeULEB128 of a byte with the continuation bit set and nothing after it did not error")
	}
}

func TestParseFunctionStarts(t *testing.T) {
	f := &Image{
		Segments: []*Segment{{Name: "__TEXT", VAddr: 0x4000, Offset: 0, FileSize: 0x1000}},
	}
	// two deltas, 0x10 then 0x20, terminated by a zero byte.
	f.functionStartsBlob = []byte{0x10, 0x20, 0x00}

	if err := f.parseFunctionStarts(); err != nil {
		t.Fatalf("parseFunctionStarts() error = %v", err)
	}

	want := []uint64{0x4010, 0x4030}
	if len(f.FunctionStarts) != len(want) {
		t.Fatalf("FunctionStarts = %v, want %v", f.FunctionStarts, want)
	}
	for i := range want {
		if f.FunctionStarts[i] != want[i] {
			t.Errorf("FunctionStarts[%d] = %#x, want %#x", i, f.FunctionStarts[i], want[i])
		}
	}
}

func TestParseFunctionStartsNoMappedSegment(t *testing.T) {
	f := &Image{functionStartsBlob: []byte{0x10, 0x00}}
	if err := f.parseFunctionStarts(); err == nil {
		t.Error("parseFunctionStarts() with no base segment did not error")
	}
}

func TestParseDataInCode(t *testing.T) {
	blob := make([]byte, 16)
	binary.LittleEndian.PutUint32(blob[0:], 0x1000)
	binary.LittleEndian.PutUint16(blob[4:], 8)
	binary.LittleEndian.PutUint16(blob[6:], 1) // KindData
	binary.LittleEndian.PutUint32(blob[8:], 0x1008)
	binary.LittleEndian.PutUint16(blob[12:], 4)
	binary.LittleEndian.PutUint16(blob[14:], 2) // KindJumpTable8

	f := &Image{ByteOrder: binary.LittleEndian, dataInCodeBlob: blob}
	if err := f.parseDataInCode(); err != nil {
		t.Fatalf("parseDataInCode() error = %v", err)
	}

	want := []DataInCodeRecord{
		{Offset: 0x1000, Length: 8, Kind: 1},
		{Offset: 0x1008, Length: 4, Kind: 2},
	}
	if len(f.DataInCode) != len(want) {
		t.Fatalf("DataInCode = %+v, want %+v", f.DataInCode, want)
	}
	for i := range want {
		if f.DataInCode[i] != want[i] {
			t.Errorf("DataInCode[%d] = %+v, want %+v", i, f.DataInCode[i], want[i])
		}
	}
}

func TestParseModInitTermPointers(t *testing.T) {
	mem := backend.NewMemoryStore()
	initData := make([]byte, 16)
	binary.LittleEndian.PutUint64(initData[0:], 0x4000)
	binary.LittleEndian.PutUint64(initData[8:], 0x4010)
	mem.AddBacker(0x2000, initData)

	f := &Image{
		Bits:      64,
		ByteOrder: binary.LittleEndian,
		Memory:    mem,
		Segments: []*Segment{{
			Name: "__DATA",
			Sections: []*Section{
				{SegmentName: "__DATA", Name: "__mod_init_func", Addr: 0x2000, Size: 16, Flags: 0x9},
			},
		}},
	}

	f.parseModInitTermPointers()

	want := []uint64{0x4000, 0x4010}
	if len(f.ModInitFunc) != len(want) {
		t.Fatalf("ModInitFunc = %v, want %v", f.ModInitFunc, want)
	}
	for i := range want {
		if f.ModInitFunc[i] != want[i] {
			t.Errorf("ModInitFunc[%d] = %#x, want %#x", i, f.ModInitFunc[i], want[i])
		}
	}
	if len(f.ModTermFunc) != 0 {
		t.Errorf("ModTermFunc = %v, want empty", f.ModTermFunc)
	}
}
