package binding

import (
	"testing"
)

type fakeContext struct {
	segVAddrs []uint64
	libNames  []string
	binds     []boundCall
	stubs     []boundCall
}

type boundCall struct {
	name    string
	ordinal int
	addr    uint64
	addend  int64
}

func (f *fakeContext) SegmentVAddr(i int) (uint64, error) {
	if i < 0 || i >= len(f.segVAddrs) {
		return 0, errOutOfRange
	}
	return f.segVAddrs[i], nil
}

func (f *fakeContext) LibraryName(ordinal int) string {
	if ordinal >= 0 && ordinal < len(f.libNames) {
		return f.libNames[ordinal]
	}
	return ""
}

func (f *fakeContext) RecordBind(name string, ordinal int, addr uint64, addend int64) {
	f.binds = append(f.binds, boundCall{name, ordinal, addr, addend})
}

func (f *fakeContext) RecordStub(name string, ordinal int, addr uint64) {
	f.stubs = append(f.stubs, boundCall{name: name, ordinal: ordinal, addr: addr})
}

var errOutOfRange = fakeErr("segment index out of range")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

func cstr(s string) []byte { return append([]byte(s), 0) }

func TestInterpreterBind(t *testing.T) {
	ctx := &fakeContext{segVAddrs: []uint64{0x1000}, libNames: []string{"Self", "libSystem"}}

	var blob []byte
	blob = append(blob, byte(opSetSegmentAndOffsetUleb|0), 0x10) // segment 0, offset 0x10
	blob = append(blob, byte(opSetDylibOrdinalImm|1))            // ordinal 1
	blob = append(blob, byte(opSetSymbolTrailingFlagsImm|0))
	blob = append(blob, cstr("_foo")...)
	blob = append(blob, byte(opSetAddendSleb), 0x7e) // -2, sleb128
	blob = append(blob, byte(opDoBind))
	blob = append(blob, byte(opDone))

	in := NewInterpreter(8)
	if err := in.Bind(ctx, blob); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	if len(ctx.binds) != 1 {
		t.Fatalf("got %d binds, want 1", len(ctx.binds))
	}
	got := ctx.binds[0]
	want := boundCall{name: "_foo", ordinal: 1, addr: 0x1010, addend: -2}
	if got != want {
		t.Errorf("bind = %+v, want %+v", got, want)
	}
}

func TestInterpreterBindAddAddrScaled(t *testing.T) {
	ctx := &fakeContext{segVAddrs: []uint64{0x2000}}

	var blob []byte
	blob = append(blob, byte(opSetSegmentAndOffsetUleb|0), 0x00)
	blob = append(blob, byte(opSetSymbolTrailingFlagsImm|0))
	blob = append(blob, cstr("_bar")...)
	blob = append(blob, byte(opDoBindAddAddrImmScaled|2)) // skip 2 extra pointers after this bind
	blob = append(blob, byte(opDone))

	in := NewInterpreter(8)
	if err := in.Bind(ctx, blob); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if len(ctx.binds) != 1 || ctx.binds[0].addr != 0x2000 {
		t.Fatalf("binds = %+v", ctx.binds)
	}
}

func TestInterpreterBindLazyResetsBetweenEntries(t *testing.T) {
	ctx := &fakeContext{segVAddrs: []uint64{0x1000, 0x2000}}

	var blob []byte
	// first lazy stub: segment 0, offset 0x8, ordinal 1, symbol "_a"
	blob = append(blob, byte(opSetSegmentAndOffsetUleb|0), 0x08)
	blob = append(blob, byte(opSetDylibOrdinalImm|1))
	blob = append(blob, byte(opSetSymbolTrailingFlagsImm|0))
	blob = append(blob, cstr("_a")...)
	blob = append(blob, byte(opDoBind))
	blob = append(blob, byte(opDone))
	// second lazy stub: segment 1, offset 0x0, symbol "_b", no ordinal
	// opcode — must not inherit the first entry's dylib ordinal.
	blob = append(blob, byte(opSetSegmentAndOffsetUleb|1), 0x00)
	blob = append(blob, byte(opSetSymbolTrailingFlagsImm|0))
	blob = append(blob, cstr("_b")...)
	blob = append(blob, byte(opDoBind))
	blob = append(blob, byte(opDone))

	in := NewInterpreter(8)
	if err := in.BindLazy(ctx, blob); err != nil {
		t.Fatalf("BindLazy() error = %v", err)
	}
	if len(ctx.stubs) != 2 {
		t.Fatalf("got %d stubs, want 2", len(ctx.stubs))
	}
	if ctx.stubs[0] != (boundCall{name: "_a", ordinal: 1, addr: 0x1008}) {
		t.Errorf("stubs[0] = %+v", ctx.stubs[0])
	}
	if ctx.stubs[1] != (boundCall{name: "_b", addr: 0x2000}) {
		t.Errorf("stubs[1] = %+v", ctx.stubs[1])
	}
}

func TestInterpreterUnknownOpcode(t *testing.T) {
	ctx := &fakeContext{segVAddrs: []uint64{0}}
	in := NewInterpreter(8)
	if err := in.Bind(ctx, []byte{0xF0}); err == nil {
		t.Error("Bind() with unrecognized opcode nibble did not error")
	}
}

func TestReadUlebSleb(t *testing.T) {
	v, n, err := readUleb([]byte{0xE5, 0x8E, 0x26})
	if err != nil {
		t.Fatal(err)
	}
	if v != 624485 || n != 3 {
		t.Errorf("readUleb() = %d, %d, want 624485, 3", v, n)
	}

	sv, sn, err := readSleb([]byte{0x9B, 0xF1, 0x59})
	if err != nil {
		t.Fatal(err)
	}
	if sv != -624485 || sn != 3 {
		t.Errorf("readSleb() = %d, %d, want -624485, 3", sv, sn)
	}
}
