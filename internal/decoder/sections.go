package decoder

import (
	"fmt"

	"github.com/stencilc/stencilc/internal/bytestream"
	"github.com/stencilc/stencilc/internal/module"
)

func decodeTypeSection(r *bytestream.Reader) ([]*module.FunctionType, error) {
	n, err := r.VarUint32()
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	out := make([]*module.FunctionType, n)
	for i := range out {
		ft, err := decodeFunctionType(r)
		if err != nil {
			return nil, fmt.Errorf("type %d: %w", i, err)
		}
		out[i] = ft
	}
	return out, nil
}

func decodeFunctionType(r *bytestream.Reader) (*module.FunctionType, error) {
	b, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("leading byte: %w", err)
	}
	if b != 0x60 {
		return nil, fmt.Errorf("%w: functype leading byte %#x != 0x60", ErrInvalidByte, b)
	}
	paramCount, err := r.VarUint32()
	if err != nil {
		return nil, fmt.Errorf("param count: %w", err)
	}
	params, err := decodeValueTypes(r, paramCount)
	if err != nil {
		return nil, fmt.Errorf("params: %w", err)
	}
	resultCount, err := r.VarUint32()
	if err != nil {
		return nil, fmt.Errorf("result count: %w", err)
	}
	if resultCount > 1 {
		return nil, fmt.Errorf("multi-value results are not supported: got %d results", resultCount)
	}
	results, err := decodeValueTypes(r, resultCount)
	if err != nil {
		return nil, fmt.Errorf("results: %w", err)
	}
	return &module.FunctionType{Params: params, Results: results}, nil
}

func decodeTableType(r *bytestream.Reader) (*module.TableType, error) {
	elemType, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("elem type: %w", err)
	}
	if elemType != 0x70 {
		return nil, fmt.Errorf("%w: table elem type %#x != funcref(0x70)", ErrInvalidByte, elemType)
	}
	min, max, maxPresent, err := decodeLimits(r)
	if err != nil {
		return nil, fmt.Errorf("limits: %w", err)
	}
	if !maxPresent {
		return nil, fmt.Errorf("table requires a max (fixed-size tables only)")
	}
	return &module.TableType{Min: min, Max: max}, nil
}

func decodeMemoryType(r *bytestream.Reader) (*module.MemoryType, error) {
	min, max, maxPresent, err := decodeLimits(r)
	if err != nil {
		return nil, fmt.Errorf("limits: %w", err)
	}
	return &module.MemoryType{Min: min, Max: max, MaxPresent: maxPresent}, nil
}

func decodeGlobalType(r *bytestream.Reader) (*module.GlobalType, error) {
	vt, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("value type: %w", err)
	}
	switch vt {
	case module.ValueTypeI32, module.ValueTypeI64, module.ValueTypeF32, module.ValueTypeF64:
	default:
		return nil, fmt.Errorf("%w: invalid global value type %#x", ErrInvalidByte, vt)
	}
	mutByte, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("mutability: %w", err)
	}
	var mut bool
	switch mutByte {
	case 0x00:
		mut = false
	case 0x01:
		mut = true
	default:
		return nil, fmt.Errorf("%w: invalid mutability %#x", ErrInvalidByte, mutByte)
	}
	return &module.GlobalType{ValType: vt, Mutable: mut}, nil
}

func decodeConstExpr(r *bytestream.Reader) (module.ConstExpr, error) {
	op, err := r.Byte()
	if err != nil {
		return module.ConstExpr{}, fmt.Errorf("opcode: %w", err)
	}
	var ce module.ConstExpr
	switch op {
	case module.OpcodeI32Const:
		v, err := r.VarInt32()
		if err != nil {
			return module.ConstExpr{}, fmt.Errorf("i32.const: %w", err)
		}
		ce = module.ConstExpr{Kind: module.ConstExprConst, Type: module.ValueTypeI32, Bits: uint64(uint32(v))}
	case module.OpcodeI64Const:
		v, err := r.VarInt64()
		if err != nil {
			return module.ConstExpr{}, fmt.Errorf("i64.const: %w", err)
		}
		ce = module.ConstExpr{Kind: module.ConstExprConst, Type: module.ValueTypeI64, Bits: uint64(v)}
	case module.OpcodeF32Const:
		v, err := r.Uint32LE()
		if err != nil {
			return module.ConstExpr{}, fmt.Errorf("f32.const: %w", err)
		}
		ce = module.ConstExpr{Kind: module.ConstExprConst, Type: module.ValueTypeF32, Bits: uint64(v)}
	case module.OpcodeF64Const:
		v, err := r.Uint64LE()
		if err != nil {
			return module.ConstExpr{}, fmt.Errorf("f64.const: %w", err)
		}
		ce = module.ConstExpr{Kind: module.ConstExprConst, Type: module.ValueTypeF64, Bits: v}
	case module.OpcodeGlobalGet:
		idx, err := r.VarUint32()
		if err != nil {
			return module.ConstExpr{}, fmt.Errorf("global.get index: %w", err)
		}
		ce = module.ConstExpr{Kind: module.ConstExprGlobalGet, GlobalIndex: idx}
	default:
		return module.ConstExpr{}, fmt.Errorf("%w: invalid const expr opcode %#x", ErrInvalidByte, op)
	}

	end, err := r.Byte()
	if err != nil {
		return module.ConstExpr{}, fmt.Errorf("terminating end: %w", err)
	}
	if end != module.OpcodeEnd {
		return module.ConstExpr{}, fmt.Errorf("const expr not terminated by end (got %#x)", end)
	}
	return ce, nil
}

func decodeImportSection(r *bytestream.Reader) ([]*module.Import, error) {
	n, err := r.VarUint32()
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	out := make([]*module.Import, n)
	for i := range out {
		im, err := decodeImport(r)
		if err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
		out[i] = im
	}
	return out, nil
}

func decodeImport(r *bytestream.Reader) (*module.Import, error) {
	im := &module.Import{}
	var err error
	if im.Module, err = r.String(); err != nil {
		return nil, fmt.Errorf("module name: %w", err)
	}
	if im.Name, err = r.String(); err != nil {
		return nil, fmt.Errorf("field name: %w", err)
	}
	kind, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("kind: %w", err)
	}
	im.Kind = kind
	switch kind {
	case module.ImportKindFunc:
		if im.DescFunc, err = r.VarUint32(); err != nil {
			return nil, fmt.Errorf("func desc: %w", err)
		}
	case module.ImportKindTable:
		if im.DescTable, err = decodeTableType(r); err != nil {
			return nil, fmt.Errorf("table desc: %w", err)
		}
	case module.ImportKindMemory:
		if im.DescMemory, err = decodeMemoryType(r); err != nil {
			return nil, fmt.Errorf("memory desc: %w", err)
		}
	case module.ImportKindGlobal:
		if im.DescGlobal, err = decodeGlobalType(r); err != nil {
			return nil, fmt.Errorf("global desc: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: invalid import kind %#x", ErrInvalidByte, kind)
	}
	return im, nil
}

func decodeFunctionSection(r *bytestream.Reader) ([]module.Index, error) {
	n, err := r.VarUint32()
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	out := make([]module.Index, n)
	for i := range out {
		if out[i], err = r.VarUint32(); err != nil {
			return nil, fmt.Errorf("type index %d: %w", i, err)
		}
	}
	return out, nil
}

func decodeTableSection(r *bytestream.Reader) ([]*module.TableType, error) {
	n, err := r.VarUint32()
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	if n > 1 {
		return nil, fmt.Errorf("at most one table is supported, got %d", n)
	}
	out := make([]*module.TableType, n)
	for i := range out {
		tt, err := decodeTableType(r)
		if err != nil {
			return nil, fmt.Errorf("table %d: %w", i, err)
		}
		out[i] = tt
	}
	return out, nil
}

func decodeMemorySection(r *bytestream.Reader) ([]*module.MemoryType, error) {
	n, err := r.VarUint32()
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	if n > 1 {
		return nil, fmt.Errorf("at most one memory is supported, got %d", n)
	}
	out := make([]*module.MemoryType, n)
	for i := range out {
		mt, err := decodeMemoryType(r)
		if err != nil {
			return nil, fmt.Errorf("memory %d: %w", i, err)
		}
		out[i] = mt
	}
	return out, nil
}

func decodeGlobalSection(r *bytestream.Reader, importedGlobalCount int) ([]*module.Global, error) {
	n, err := r.VarUint32()
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	out := make([]*module.Global, n)
	for i := range out {
		gt, err := decodeGlobalType(r)
		if err != nil {
			return nil, fmt.Errorf("global %d type: %w", i, err)
		}
		init, err := decodeConstExpr(r)
		if err != nil {
			return nil, fmt.Errorf("global %d init: %w", i, err)
		}
		// A global.get initializer may only reference an already-initialized
		// global, i.e. an imported one: module-defined globals are still
		// being initialized in declaration order at this point, so a
		// forward or self reference has no value to read yet.
		if init.Kind == module.ConstExprGlobalGet && int(init.GlobalIndex) >= importedGlobalCount {
			return nil, fmt.Errorf("global %d init: global.get %d does not refer to an imported global", i, init.GlobalIndex)
		}
		out[i] = &module.Global{Type: *gt, Init: init}
	}
	return out, nil
}

func decodeExportSection(r *bytestream.Reader, m *module.Module) error {
	n, err := r.VarUint32()
	if err != nil {
		return fmt.Errorf("count: %w", err)
	}
	for i := uint32(0); i < n; i++ {
		name, err := r.String()
		if err != nil {
			return fmt.Errorf("export %d name: %w", i, err)
		}
		kind, err := r.Byte()
		if err != nil {
			return fmt.Errorf("export %d kind: %w", i, err)
		}
		switch kind {
		case module.ExportKindFunc, module.ExportKindTable, module.ExportKindMemory, module.ExportKindGlobal:
		default:
			return fmt.Errorf("%w: invalid export kind %#x", ErrInvalidByte, kind)
		}
		idx, err := r.VarUint32()
		if err != nil {
			return fmt.Errorf("export %d index: %w", i, err)
		}
		if _, dup := m.ExportSection[name]; dup {
			return fmt.Errorf("duplicate export name %q", name)
		}
		m.ExportSection[name] = &module.Export{Name: name, Kind: kind, Index: idx}
	}
	return nil
}

func decodeElementSection(r *bytestream.Reader) ([]*module.ElementSegment, error) {
	n, err := r.VarUint32()
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	out := make([]*module.ElementSegment, n)
	for i := range out {
		tableIdx, err := r.VarUint32()
		if err != nil {
			return nil, fmt.Errorf("element %d table index: %w", i, err)
		}
		offset, err := decodeConstExpr(r)
		if err != nil {
			return nil, fmt.Errorf("element %d offset: %w", i, err)
		}
		count, err := r.VarUint32()
		if err != nil {
			return nil, fmt.Errorf("element %d init count: %w", i, err)
		}
		init := make([]module.Index, count)
		for j := range init {
			if init[j], err = r.VarUint32(); err != nil {
				return nil, fmt.Errorf("element %d init %d: %w", i, j, err)
			}
		}
		out[i] = &module.ElementSegment{TableIndex: tableIdx, Offset: offset, Init: init}
	}
	return out, nil
}

func decodeCodeSection(r *bytestream.Reader) ([]*module.Code, error) {
	n, err := r.VarUint32()
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	out := make([]*module.Code, n)
	for i := range out {
		size, err := r.VarUint32()
		if err != nil {
			return nil, fmt.Errorf("code %d size: %w", i, err)
		}
		body, err := r.Bytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("code %d body: %w", i, err)
		}
		c, err := decodeCode(bytestream.New(body))
		if err != nil {
			return nil, fmt.Errorf("code %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

func decodeCode(r *bytestream.Reader) (*module.Code, error) {
	localGroups, err := r.VarUint32()
	if err != nil {
		return nil, fmt.Errorf("local decl count: %w", err)
	}
	var locals []module.ValueType
	for i := uint32(0); i < localGroups; i++ {
		count, err := r.VarUint32()
		if err != nil {
			return nil, fmt.Errorf("local group %d count: %w", i, err)
		}
		types, err := decodeValueTypes(r, count)
		if err != nil {
			return nil, fmt.Errorf("local group %d types: %w", i, err)
		}
		locals = append(locals, types...)
	}
	body, err := r.Bytes(r.Len())
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	return &module.Code{LocalTypes: locals, Body: body}, nil
}

func decodeDataSection(r *bytestream.Reader) ([]*module.DataSegment, error) {
	n, err := r.VarUint32()
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	out := make([]*module.DataSegment, n)
	for i := range out {
		memIdx, err := r.VarUint32()
		if err != nil {
			return nil, fmt.Errorf("data %d memory index: %w", i, err)
		}
		offset, err := decodeConstExpr(r)
		if err != nil {
			return nil, fmt.Errorf("data %d offset: %w", i, err)
		}
		size, err := r.VarUint32()
		if err != nil {
			return nil, fmt.Errorf("data %d size: %w", i, err)
		}
		init, err := r.Bytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("data %d init: %w", i, err)
		}
		initCopy := make([]byte, len(init))
		copy(initCopy, init)
		out[i] = &module.DataSegment{MemoryIndex: memIdx, Offset: offset, Init: initCopy}
	}
	return out, nil
}

// decodeCustomSection recognizes only the "name" custom section, used for
// diagnostics; all other custom sections are skipped without error.
func decodeCustomSection(r *bytestream.Reader, m *module.Module) error {
	name, err := r.String()
	if err != nil {
		return fmt.Errorf("name: %w", err)
	}
	if name != "name" {
		return nil
	}
	names := map[module.Index]string{}
	for r.Len() > 0 {
		subsectionID, err := r.Byte()
		if err != nil {
			return fmt.Errorf("name subsection id: %w", err)
		}
		size, err := r.VarUint32()
		if err != nil {
			return fmt.Errorf("name subsection size: %w", err)
		}
		body, err := r.Bytes(int(size))
		if err != nil {
			return fmt.Errorf("name subsection body: %w", err)
		}
		if subsectionID != 1 { // function names only; locals/module names are not tracked.
			continue
		}
		sr := bytestream.New(body)
		count, err := sr.VarUint32()
		if err != nil {
			return fmt.Errorf("function name count: %w", err)
		}
		for i := uint32(0); i < count; i++ {
			idx, err := sr.VarUint32()
			if err != nil {
				return fmt.Errorf("function name %d index: %w", i, err)
			}
			nm, err := sr.String()
			if err != nil {
				return fmt.Errorf("function name %d: %w", i, err)
			}
			names[idx] = nm
		}
	}
	m.FunctionNames = names
	return nil
}
