package macho

import (
	"encoding/binary"
	"io"

	"github.com/cle-go/machoimage/types"
)

var archByCPU = map[types.CPU]string{
	types.CPU386:   "x86",
	types.CPUAmd64: "x64",
	types.CPUArm:   "arm",
	types.CPUArm64: "aarch",
}

func (f *Image) parseHeader(r io.ReaderAt) error {
	magicBuf, err := readAt(r, 0, 4)
	if err != nil {
		return err
	}
	rawMagic := binary.LittleEndian.Uint32(magicBuf)

	switch types.Magic(rawMagic) {
	case types.Magic32, types.Magic64:
		f.ByteOrder = binary.LittleEndian
	default:
		swapped := binary.BigEndian.Uint32(magicBuf)
		switch types.Magic(swapped) {
		case types.Magic32, types.Magic64:
			f.ByteOrder = binary.BigEndian
		default:
			return newCompatibilityError("detect magic", nil)
		}
	}

	headerLen := types.FileHeaderSize32
	magic := types.Magic(f.ByteOrder.Uint32(magicBuf))
	if magic == types.Magic64 {
		headerLen = types.FileHeaderSize64
	}

	hdrBuf, err := readAt(r, 0, headerLen)
	if err != nil {
		return err
	}

	h := types.FileHeader{
		Magic:        types.Magic(f.ByteOrder.Uint32(hdrBuf[0:])),
		CPU:          types.CPU(f.ByteOrder.Uint32(hdrBuf[4:])),
		SubCPU:       types.CPUSubtype(f.ByteOrder.Uint32(hdrBuf[8:])),
		Type:         types.HeaderFileType(f.ByteOrder.Uint32(hdrBuf[12:])),
		NCommands:    f.ByteOrder.Uint32(hdrBuf[16:]),
		SizeCommands: f.ByteOrder.Uint32(hdrBuf[20:]),
		Flags:        types.HeaderFlag(f.ByteOrder.Uint32(hdrBuf[24:])),
	}
	f.Header = h
	f.PIE = h.Flags.PIE()

	if !h.Flags.TwoLevel() {
		return newCompatibilityError("binary is not MH_TWOLEVEL", nil)
	}

	archID, ok := archByCPU[h.CPU]
	if !ok {
		return newCompatibilityError("unknown cpu type", nil)
	}
	f.ArchID = archID
	if f.ByteOrder == binary.LittleEndian {
		f.Endness = "lsb"
	} else {
		f.Endness = "msb"
	}
	if h.CPU&0x01000000 != 0 {
		f.Bits = 64
	} else {
		f.Bits = 32
	}
	return nil
}

// loadCommandsOffset returns the file offset immediately after the
// fixed-size Mach header (28 bytes for 32-bit, 32 for 64-bit — the
// extra reserved u32 on 64-bit images).
func (f *Image) loadCommandsOffset() int64 {
	if f.Bits == 64 {
		return int64(types.FileHeaderSize64)
	}
	return int64(types.FileHeaderSize32)
}
