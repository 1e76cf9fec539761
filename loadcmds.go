package macho

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cle-go/machoimage/types"
)

func (f *Image) parseLoadCommands(r io.ReaderAt) error {
	off := f.loadCommandsOffset()
	var seen uint32
	var span uint32

	for seen < f.Header.NCommands && span < f.Header.SizeCommands {
		hdr, err := readAt(r, off, 8)
		if err != nil {
			return err
		}
		cmd := types.LoadCmd(f.ByteOrder.Uint32(hdr[0:]))
		size := f.ByteOrder.Uint32(hdr[4:])
		if size < 8 {
			return newInvalidBinaryError("load command size too small", nil)
		}

		body, err := readAt(r, off, int(size))
		if err != nil {
			return err
		}

		switch cmd {
		case types.LC_SEGMENT, types.LC_SEGMENT_64:
			if err := f.parseSegment(r, body, cmd); err != nil {
				return err
			}
		case types.LC_SYMTAB:
			if err := f.parseSymtab(r, body); err != nil {
				return err
			}
		case types.LC_UNIXTHREAD:
			if err := f.parseUnixThread(body); err != nil {
				return err
			}
		case types.LC_MAIN:
			if err := f.parseEntryPoint(body); err != nil {
				return err
			}
		case types.LC_LOAD_DYLIB, types.LC_LOAD_WEAK_DYLIB, types.LC_REEXPORT_DYLIB:
			if err := f.parseDylib(body); err != nil {
				return err
			}
		case types.LC_ENCRYPTION_INFO:
			var hdr types.EncryptionInfoCmd
			if err := binary.Read(bytes.NewReader(body), f.ByteOrder, &hdr); err != nil {
				return newInvalidBinaryError("failed to read LC_ENCRYPTION_INFO", err)
			}
			if hdr.CryptID > 0 {
				return newInvalidBinaryError("encrypted segment (LC_ENCRYPTION_INFO)", nil)
			}
		case types.LC_ENCRYPTION_INFO_64:
			var hdr types.EncryptionInfo64Cmd
			if err := binary.Read(bytes.NewReader(body), f.ByteOrder, &hdr); err != nil {
				return newInvalidBinaryError("failed to read LC_ENCRYPTION_INFO_64", err)
			}
			if hdr.CryptID > 0 {
				return newInvalidBinaryError("encrypted segment (LC_ENCRYPTION_INFO_64)", nil)
			}
		case types.LC_DYLD_INFO, types.LC_DYLD_INFO_ONLY:
			if err := f.parseDyldInfo(r, body); err != nil {
				return err
			}
		case types.LC_FUNCTION_STARTS:
			if err := f.loadFunctionStarts(r, body); err != nil {
				return err
			}
		case types.LC_DATA_IN_CODE:
			if err := f.loadDataInCode(r, body); err != nil {
				return err
			}
		default:
			f.logger.Debugf("skipping unhandled load command 0x%x (size %d)", uint32(cmd), size)
		}

		off += int64(size)
		seen++
		span += size
	}

	if seen < f.Header.NCommands || span < f.Header.SizeCommands {
		return newInvalidBinaryError(
			fmt.Sprintf("load command region truncated: parsed %d/%d commands, %d/%d bytes",
				seen, f.Header.NCommands, span, f.Header.SizeCommands), nil)
	}
	return nil
}

func (f *Image) parseUnixThread(body []byte) error {
	if f.entrySet {
		return newInvalidBinaryError("duplicate entry point command (LC_UNIXTHREAD after an earlier entry point)", nil)
	}
	b := bytes.NewReader(body)
	var hdr types.UnixThreadCmd
	if err := binary.Read(b, f.ByteOrder, &hdr); err != nil {
		return newInvalidBinaryError("failed to read LC_UNIXTHREAD", err)
	}

	var pc uint64
	switch {
	case hdr.Flavor == 1 && f.Bits == 32:
		// x86_THREAD_STATE32 / ARM_THREAD_STATE: 16 32-bit registers, pc last.
		regs := make([]uint32, 16)
		if err := binary.Read(b, f.ByteOrder, &regs); err != nil {
			return newInvalidBinaryError("truncated LC_UNIXTHREAD (32-bit)", err)
		}
		pc = uint64(regs[len(regs)-1])
	case hdr.Flavor == 1 || hdr.Flavor == 6:
		// x86_THREAD_STATE64 / ARM_THREAD_STATE64: pc sits one word
		// before the end of the flavor's register block.
		regs := make([]uint64, hdr.Count/2)
		if err := binary.Read(b, f.ByteOrder, &regs); err != nil {
			return newInvalidBinaryError("truncated LC_UNIXTHREAD (64-bit)", err)
		}
		if len(regs) < 2 {
			return newInvalidBinaryError("LC_UNIXTHREAD register block too short", nil)
		}
		pc = regs[len(regs)-2]
	default:
		return newCompatibilityError(fmt.Sprintf("unsupported thread flavor %d", hdr.Flavor), nil)
	}

	f.EntryPoint = pc
	f.entrySet = true
	return nil
}

func (f *Image) parseEntryPoint(body []byte) error {
	if f.entrySet {
		return newInvalidBinaryError("duplicate entry point command (LC_MAIN after an earlier entry point)", nil)
	}
	var hdr types.EntryPointCmd
	if err := binary.Read(bytes.NewReader(body), f.ByteOrder, &hdr); err != nil {
		return newInvalidBinaryError("failed to read LC_MAIN", err)
	}
	f.mainOffset = hdr.Offset
	f.mainIsSet = true
	f.entrySet = true
	return nil
}

func (f *Image) parseDyldInfo(r io.ReaderAt, body []byte) error {
	var hdr types.DyldInfoCmd
	if err := binary.Read(bytes.NewReader(body), f.ByteOrder, &hdr); err != nil {
		return newInvalidBinaryError("failed to read LC_DYLD_INFO", err)
	}

	var err error
	if hdr.RebaseSize > 0 {
		if f.RebaseBlob, err = readAt(r, int64(hdr.RebaseOff), int(hdr.RebaseSize)); err != nil {
			return err
		}
	}
	if hdr.BindSize > 0 {
		if f.BindBlob, err = readAt(r, int64(hdr.BindOff), int(hdr.BindSize)); err != nil {
			return err
		}
	}
	if hdr.WeakBindSize > 0 {
		if f.WeakBindBlob, err = readAt(r, int64(hdr.WeakBindOff), int(hdr.WeakBindSize)); err != nil {
			return err
		}
	}
	if hdr.LazyBindSize > 0 {
		if f.LazyBindBlob, err = readAt(r, int64(hdr.LazyBindOff), int(hdr.LazyBindSize)); err != nil {
			return err
		}
	}
	if hdr.ExportSize > 0 {
		if f.ExportBlob, err = readAt(r, int64(hdr.ExportOff), int(hdr.ExportSize)); err != nil {
			return err
		}
	}
	return nil
}

func (f *Image) loadFunctionStarts(r io.ReaderAt, body []byte) error {
	var hdr types.LinkEditDataCmd
	if err := binary.Read(bytes.NewReader(body), f.ByteOrder, &hdr); err != nil {
		return newInvalidBinaryError("failed to read LC_FUNCTION_STARTS", err)
	}
	if hdr.Size == 0 {
		return nil
	}
	blob, err := readAt(r, int64(hdr.Offset), int(hdr.Size))
	if err != nil {
		return err
	}
	f.functionStartsBlob = blob
	return nil
}

func (f *Image) loadDataInCode(r io.ReaderAt, body []byte) error {
	var hdr types.LinkEditDataCmd
	if err := binary.Read(bytes.NewReader(body), f.ByteOrder, &hdr); err != nil {
		return newInvalidBinaryError("failed to read LC_DATA_IN_CODE", err)
	}
	if hdr.Size == 0 {
		return nil
	}
	blob, err := readAt(r, int64(hdr.Offset), int(hdr.Size))
	if err != nil {
		return err
	}
	f.dataInCodeBlob = blob
	return nil
}
