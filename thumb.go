package macho

// IsThumbInterworking reports whether addr's low bit is set, the ARM
// convention for "this function pointer targets Thumb code". Only
// meaningful on 32-bit images; 64-bit images never tag pointers this
// way.
func (f *Image) IsThumbInterworking(addr uint64) bool {
	if f.Bits != 32 {
		return false
	}
	return addr&1 != 0
}

// DecodeThumbInterworking clears the Thumb tag bit, returning the
// actual code address. On 64-bit images it is a no-op.
func (f *Image) DecodeThumbInterworking(addr uint64) uint64 {
	if f.Bits != 32 {
		return addr
	}
	return addr &^ 1
}
