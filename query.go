package macho

import "strings"

// GetSymbol returns every symbol matching name. fuzzy performs a
// substring match instead of an exact one; includeStab controls
// whether symbolic-debugging entries are considered.
func (f *Image) GetSymbol(name string, includeStab, fuzzy bool) []*Symbol {
	var out []*Symbol
	for _, sym := range f.Symbols {
		if !includeStab && sym.IsStab() {
			continue
		}
		if fuzzy {
			if strings.Contains(sym.Name, name) {
				out = append(out, sym)
			}
		} else if sym.Name == name {
			out = append(out, sym)
		}
	}
	return out
}

// GetSymbolByAddressFuzzy returns the symbol whose resolved address
// equals addr, or failing that, the symbol that binds or stubs addr.
func (f *Image) GetSymbolByAddressFuzzy(addr uint64) *Symbol {
	if sym, ok := f.symByAddr[addr]; ok {
		return sym
	}
	for _, sym := range f.Symbols {
		if _, ok := sym.BindXrefs[addr]; ok {
			return sym
		}
		if _, ok := sym.SymbolStubs[addr]; ok {
			return sym
		}
	}
	return nil
}
