// Package decoder parses the standard WASM 1.0 binary format into an
// internal/module.Module. It performs no validation beyond what is needed
// to produce a well-formed index-resolved module; type-checking of
// instruction sequences is the stencil compiler's job during its
// pre-pass, not the decoder's.
package decoder

import (
	"errors"
	"fmt"

	"github.com/stencilc/stencilc/internal/bytestream"
	"github.com/stencilc/stencilc/internal/module"
)

var magic = [4]byte{0x00, 0x61, 0x73, 0x6d}
var binaryVersion = [4]byte{0x01, 0x00, 0x00, 0x00}

// ErrInvalidByte is wrapped into errors raised for malformed discriminator
// bytes (import kind, export kind, element type, and the like).
var ErrInvalidByte = errors.New("invalid byte")

// DecodeModule parses a complete WASM binary image.
func DecodeModule(bin []byte) (*module.Module, error) {
	if len(bin) < 8 {
		return nil, fmt.Errorf("invalid binary: too short")
	}
	for i := 0; i < 4; i++ {
		if bin[i] != magic[i] {
			return nil, fmt.Errorf("invalid magic number")
		}
		if bin[4+i] != binaryVersion[i] {
			return nil, fmt.Errorf("invalid version: only binary format 1 is supported")
		}
	}

	r := bytestream.New(bin[8:])
	m := &module.Module{ExportSection: map[string]*module.Export{}}

	var prevSectionID module.SectionID
	sawSection := map[module.SectionID]bool{}

	for r.Len() > 0 {
		id, err := r.Byte()
		if err != nil {
			return nil, fmt.Errorf("read section id: %w", err)
		}

		size, err := r.VarUint32()
		if err != nil {
			return nil, fmt.Errorf("read section %s size: %w", module.SectionIDName(id), err)
		}

		body, err := r.Bytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("read section %s body: %w", module.SectionIDName(id), err)
		}

		if id != module.SectionIDCustom {
			if sawSection[id] {
				return nil, fmt.Errorf("section %s appears more than once", module.SectionIDName(id))
			}
			if id <= prevSectionID {
				return nil, fmt.Errorf("section %s out of order", module.SectionIDName(id))
			}
			prevSectionID = id
			sawSection[id] = true
		}

		sr := bytestream.New(body)
		switch id {
		case module.SectionIDCustom:
			if err := decodeCustomSection(sr, m); err != nil {
				return nil, fmt.Errorf("custom section: %w", err)
			}
		case module.SectionIDType:
			if m.TypeSection, err = decodeTypeSection(sr); err != nil {
				return nil, fmt.Errorf("type section: %w", err)
			}
		case module.SectionIDImport:
			if m.ImportSection, err = decodeImportSection(sr); err != nil {
				return nil, fmt.Errorf("import section: %w", err)
			}
		case module.SectionIDFunction:
			if m.FunctionSection, err = decodeFunctionSection(sr); err != nil {
				return nil, fmt.Errorf("function section: %w", err)
			}
		case module.SectionIDTable:
			if m.TableSection, err = decodeTableSection(sr); err != nil {
				return nil, fmt.Errorf("table section: %w", err)
			}
		case module.SectionIDMemory:
			if m.MemorySection, err = decodeMemorySection(sr); err != nil {
				return nil, fmt.Errorf("memory section: %w", err)
			}
		case module.SectionIDGlobal:
			if m.GlobalSection, err = decodeGlobalSection(sr, m.ImportedGlobalCount()); err != nil {
				return nil, fmt.Errorf("global section: %w", err)
			}
		case module.SectionIDExport:
			if err := decodeExportSection(sr, m); err != nil {
				return nil, fmt.Errorf("export section: %w", err)
			}
		case module.SectionIDStart:
			idx, err := sr.VarUint32()
			if err != nil {
				return nil, fmt.Errorf("start section: %w", err)
			}
			m.StartSection = &idx
		case module.SectionIDElement:
			if m.ElementSection, err = decodeElementSection(sr); err != nil {
				return nil, fmt.Errorf("element section: %w", err)
			}
		case module.SectionIDCode:
			if m.CodeSection, err = decodeCodeSection(sr); err != nil {
				return nil, fmt.Errorf("code section: %w", err)
			}
		case module.SectionIDData:
			if m.DataSection, err = decodeDataSection(sr); err != nil {
				return nil, fmt.Errorf("data section: %w", err)
			}
		default:
			return nil, fmt.Errorf("invalid section id: %#x", id)
		}

		if sr.Len() != 0 {
			return nil, fmt.Errorf("section %s: %d bytes trailing after decode", module.SectionIDName(id), sr.Len())
		}
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, fmt.Errorf("function and code section length mismatch: %d != %d",
			len(m.FunctionSection), len(m.CodeSection))
	}

	return m, nil
}

func decodeValueTypes(r *bytestream.Reader, n uint32) ([]module.ValueType, error) {
	if n == 0 {
		return nil, nil
	}
	out := make([]module.ValueType, n)
	for i := range out {
		b, err := r.Byte()
		if err != nil {
			return nil, fmt.Errorf("value type %d: %w", i, err)
		}
		switch b {
		case module.ValueTypeI32, module.ValueTypeI64, module.ValueTypeF32, module.ValueTypeF64:
			out[i] = b
		default:
			return nil, fmt.Errorf("%w: invalid value type %#x", ErrInvalidByte, b)
		}
	}
	return out, nil
}

func decodeLimits(r *bytestream.Reader) (min uint32, max uint32, maxPresent bool, err error) {
	flag, err := r.Byte()
	if err != nil {
		return 0, 0, false, fmt.Errorf("read limits flag: %w", err)
	}
	if min, err = r.VarUint32(); err != nil {
		return 0, 0, false, fmt.Errorf("read limits min: %w", err)
	}
	if flag == 1 {
		if max, err = r.VarUint32(); err != nil {
			return 0, 0, false, fmt.Errorf("read limits max: %w", err)
		}
		maxPresent = true
	} else if flag != 0 {
		return 0, 0, false, fmt.Errorf("%w: invalid limits flag %#x", ErrInvalidByte, flag)
	}
	return min, max, maxPresent, nil
}
