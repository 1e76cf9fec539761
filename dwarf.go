package macho

import (
	"fmt"
	"strings"

	"github.com/blacktop/go-dwarf"
)

func dwarfSuffix(s *Section) string {
	switch {
	case strings.HasPrefix(s.Name, "__debug_"):
		return s.Name[len("__debug_"):]
	case strings.HasPrefix(s.Name, "__zdebug_"):
		return s.Name[len("__zdebug_"):]
	default:
		return ""
	}
}

// DWARF builds debug information from the __DWARF segment's sections,
// when present. Absence of a __DWARF segment is not a parse error;
// calling DWARF without one returns a descriptive error only here, on
// demand.
func (f *Image) DWARF() (*dwarf.Data, error) {
	seg := f.FindSegmentByName("__DWARF")
	if seg == nil {
		return nil, fmt.Errorf("macho: no __DWARF segment present")
	}

	dat := map[string][]byte{"abbrev": nil, "info": nil, "str": nil, "line": nil, "ranges": nil}
	for _, s := range seg.Sections {
		suffix := dwarfSuffix(s)
		if _, ok := dat[suffix]; !ok {
			continue
		}
		b, err := f.Memory.ReadBytes(s.Addr, int(s.Size))
		if err != nil {
			return nil, newOperationError(fmt.Sprintf("read %s", s.Name), err)
		}
		dat[suffix] = b
	}

	d, err := dwarf.New(dat["abbrev"], nil, nil, dat["info"], dat["line"], nil, dat["ranges"], dat["str"])
	if err != nil {
		return nil, newInvalidBinaryError("construct DWARF data", err)
	}
	return d, nil
}
