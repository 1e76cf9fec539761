package macho

import (
	"bytes"
	"encoding/binary"

	"github.com/cle-go/machoimage/types"
)

func (f *Image) parseDylib(body []byte) error {
	var hdr types.DylibCmd
	if err := binary.Read(bytes.NewReader(body), f.ByteOrder, &hdr); err != nil {
		return newInvalidBinaryError("failed to read dylib command", err)
	}
	if int(hdr.Name) >= len(body) {
		return newInvalidBinaryError("dylib name offset out of range", nil)
	}
	name := cstring(body[hdr.Name:])
	f.ImportedLibraries = append(f.ImportedLibraries, name)
	return nil
}
