package macho

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	"github.com/cle-go/machoimage/types"
)

// Segment is a contiguous file range mapped into a contiguous range of
// virtual memory.
type Segment struct {
	Name     string
	VAddr    uint64
	VSize    uint64
	Offset   uint64
	FileSize uint64
	MaxProt  types.VmProtection
	InitProt types.VmProtection
	Flags    types.SegFlag

	Sections []*Section
}

// Section is a typed subrange of a Segment.
type Section struct {
	SegmentName string
	Name        string
	Addr        uint64
	Size        uint64
	Offset      uint32
	Align       uint32
	RelOff      uint32
	NReloc      uint32
	Flags       uint32
}

// Type returns the low byte of Flags, the section's S_* type.
func (s *Section) Type() uint8 { return uint8(s.Flags & 0xFF) }

const (
	sModInitFuncPointers = 0x9
	sModTermFuncPointers = 0xa
)

func cname(b [16]byte) string {
	return strings.TrimRight(string(b[:]), "\x00")
}

func (f *Image) parseSegment(r io.ReaderAt, body []byte, cmd types.LoadCmd) error {
	bo := f.ByteOrder
	b := bytes.NewReader(body)

	var seg *Segment
	var nsect uint32

	if cmd == types.LC_SEGMENT_64 {
		var sh types.Segment64
		if err := binary.Read(b, bo, &sh); err != nil {
			return newInvalidBinaryError("failed to read LC_SEGMENT_64", err)
		}
		seg = &Segment{
			Name:     cname(sh.Name),
			VAddr:    sh.Addr,
			VSize:    sh.Memsz,
			Offset:   sh.Offset,
			FileSize: sh.Filesz,
			MaxProt:  sh.Maxprot,
			InitProt: sh.Prot,
			Flags:    sh.Flag,
		}
		nsect = sh.Nsect
	} else {
		var sh types.Segment32
		if err := binary.Read(b, bo, &sh); err != nil {
			return newInvalidBinaryError("failed to read LC_SEGMENT", err)
		}
		seg = &Segment{
			Name:     cname(sh.Name),
			VAddr:    uint64(sh.Addr),
			VSize:    uint64(sh.Memsz),
			Offset:   uint64(sh.Offset),
			FileSize: uint64(sh.Filesz),
			MaxProt:  sh.Maxprot,
			InitProt: sh.Prot,
			Flags:    sh.Flag,
		}
		nsect = sh.Nsect
	}

	for i := uint32(0); i < nsect; i++ {
		var sec *Section
		if cmd == types.LC_SEGMENT_64 {
			var sh types.Section64
			if err := binary.Read(b, bo, &sh); err != nil {
				return newInvalidBinaryError("failed to read section_64", err)
			}
			sec = &Section{
				Name:        cname(sh.Name),
				SegmentName: cname(sh.Seg),
				Addr:        sh.Addr,
				Size:        sh.Size,
				Offset:      sh.Offset,
				Align:       sh.Align,
				RelOff:      sh.Reloff,
				NReloc:      sh.Nreloc,
				Flags:       sh.Flags,
			}
		} else {
			var sh types.Section32
			if err := binary.Read(b, bo, &sh); err != nil {
				return newInvalidBinaryError("failed to read section", err)
			}
			sec = &Section{
				Name:        cname(sh.Name),
				SegmentName: cname(sh.Seg),
				Addr:        uint64(sh.Addr),
				Size:        uint64(sh.Size),
				Offset:      sh.Offset,
				Align:       sh.Align,
				RelOff:      sh.Reloff,
				NReloc:      sh.Nreloc,
				Flags:       sh.Flags,
			}
		}
		seg.Sections = append(seg.Sections, sec)
	}

	if seg.Name != "__PAGEZERO" && seg.FileSize > 0 {
		data, err := readAt(r, int64(seg.Offset), int(seg.FileSize))
		if err != nil {
			return err
		}
		if seg.VSize > seg.FileSize {
			padded := make([]byte, seg.VSize)
			copy(padded, data)
			data = padded
		}
		f.Memory.AddBacker(seg.VAddr, data)
	} else if seg.Name != "__PAGEZERO" && seg.VSize > 0 {
		f.Memory.AddBacker(seg.VAddr, make([]byte, seg.VSize))
	}

	f.Segments = append(f.Segments, seg)
	return nil
}
