package types

import "testing"

func TestNTypePredicates(t *testing.T) {
	tests := []struct {
		name string
		typ  NType
		want func(NType) bool
	}{
		{"undefined external", N_UNDF | N_EXT, NType.IsUndefinedSym},
		{"absolute", N_ABS, NType.IsAbsoluteSym},
		{"section-defined", N_SECT, NType.IsDefinedInSection},
		{"prebound undefined", N_PBUD, NType.IsPreboundUndefinedSym},
		{"indirect", N_INDR, NType.IsIndirectSym},
		{"private external bit", N_PEXT | N_SECT, NType.IsPrivateExternalSym},
	}
	for _, tt := range tests {
		if !tt.want(tt.typ) {
			t.Errorf("%s: predicate false for %#x", tt.name, tt.typ)
		}
	}
}

func TestNTypeIsDebugSym(t *testing.T) {
	if (N_SECT | N_EXT).IsDebugSym() {
		t.Error("ordinary defined-external symbol misclassified as a stab")
	}
	if !NType(N_GSYM).IsDebugSym() {
		t.Error("N_GSYM not classified as a stab")
	}
}

func TestNDescTypeLibraryOrdinal(t *testing.T) {
	d := NDescType(3) << 8
	if got := d.GetLibraryOrdinal(); got != 3 {
		t.Errorf("GetLibraryOrdinal() = %d, want 3", got)
	}
}

func TestNDescTypeCommAlign(t *testing.T) {
	d := NDescType(5) << 8
	if got := d.GetCommAlign(); got != 5 {
		t.Errorf("GetCommAlign() = %d, want 5", got)
	}
}
