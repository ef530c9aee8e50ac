package module

// ValueType is the binary encoding of a WASM value type.
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

// ValueTypeName renders t using WASM text-format names, for diagnostics.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return "unknown"
	}
}

// IsFloat reports whether t is a floating-point value type.
func IsFloat(t ValueType) bool { return t == ValueTypeF32 || t == ValueTypeF64 }

// Is64 reports whether t occupies 64 bits (as opposed to 32).
func Is64(t ValueType) bool { return t == ValueTypeI64 || t == ValueTypeF64 }

// Index is a reference into one of the module's index spaces (function,
// table, memory, global, type, local, or label).
type Index = uint32

// SectionID identifies one of the eleven standard WASM binary sections.
type SectionID = byte

const (
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
)

// SectionIDName renders the canonical section name, for diagnostics.
func SectionIDName(id SectionID) string {
	names := [...]string{
		"custom", "type", "import", "function", "table", "memory",
		"global", "export", "start", "element", "code", "data",
	}
	if int(id) < len(names) {
		return names[id]
	}
	return "unknown"
}

// FunctionType is a WASM function signature. Per spec §3, at most one
// result is supported; multi-value is rejected at decode time.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// ImportKind selects which of the four import descriptors a Import carries.
type ImportKind = byte

const (
	ImportKindFunc   ImportKind = 0x00
	ImportKindTable  ImportKind = 0x01
	ImportKindMemory ImportKind = 0x02
	ImportKindGlobal ImportKind = 0x03
)

// Import is a single entry of the import section.
type Import struct {
	Module, Name string
	Kind         ImportKind

	// DescFunc is populated when Kind == ImportKindFunc: the index into
	// Module.TypeSection.
	DescFunc Index
	// DescTable is populated when Kind == ImportKindTable.
	DescTable *TableType
	// DescMemory is populated when Kind == ImportKindMemory.
	DescMemory *MemoryType
	// DescGlobal is populated when Kind == ImportKindGlobal.
	DescGlobal *GlobalType
}

// TableType describes the module's single function-reference table.
// Per spec §3, min == max is required (fixed size).
type TableType struct {
	Min, Max uint32
}

// MemoryType describes the module's single linear memory, in 64KiB pages.
type MemoryType struct {
	Min uint32
	Max uint32 // valid only if MaxPresent
	MaxPresent bool
}

// GlobalType is a global's declared type and mutability.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// ConstExprKind distinguishes the two initializer forms the spec allows for
// globals, element offsets, and data offsets.
type ConstExprKind byte

const (
	ConstExprConst ConstExprKind = iota
	ConstExprGlobalGet
)

// ConstExpr is a constant initializer expression: either `T.const x` or
// `global.get i` referring to a prior imported global.
type ConstExpr struct {
	Kind ConstExprKind
	// Type is the value type produced, set when Kind == ConstExprConst.
	Type ValueType
	// Bits is the little-endian bit pattern of the constant (interpreted
	// per Type: i32/f32 use the low 32 bits, i64/f64 use all 64).
	Bits uint64
	// GlobalIndex is the referenced global, set when Kind == ConstExprGlobalGet.
	GlobalIndex Index
}

// Global is one entry of the global section.
type Global struct {
	Type GlobalType
	Init ConstExpr
}

// ExportKind selects which index space Export.Index refers into.
type ExportKind = byte

const (
	ExportKindFunc   ExportKind = 0x00
	ExportKindTable  ExportKind = 0x01
	ExportKindMemory ExportKind = 0x02
	ExportKindGlobal ExportKind = 0x03
)

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  ExportKind
	Index Index
}

// ElementSegment is a static initializer for the function table.
type ElementSegment struct {
	TableIndex Index
	Offset     ConstExpr
	Init       []Index // function indices
}

// DataSegment is a static initializer for linear memory.
type DataSegment struct {
	MemoryIndex Index
	Offset      ConstExpr
	Init        []byte
}

// Code is a decoded function body: its locals (beyond the parameters) and
// the raw, undecoded opcode byte stream. The stencil compiler walks this
// stream directly; there is no intermediate representation.
type Code struct {
	LocalTypes []ValueType
	Body       []byte
}

// Module is the fully decoded, index-space-resolved representation of a
// WASM binary. Section contents are index-correlated the way the format
// defines them: FunctionSection[i]'s body is CodeSection[i]; imported
// functions/globals occupy the low indices of their respective spaces.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*Import
	FunctionSection []Index // type index per module-defined function
	TableSection    []*TableType
	MemorySection   []*MemoryType
	GlobalSection   []*Global
	ExportSection   map[string]*Export
	StartSection    *Index
	ElementSection  []*ElementSegment
	CodeSection     []*Code
	DataSection     []*DataSegment

	// FunctionNames maps a function index to its debug name, decoded from
	// the custom "name" section when present. Never affects codegen.
	FunctionNames map[Index]string
}

// ImportedFuncCount returns how many of the module's functions are imports
// (and therefore occupy the low end of the function index space).
func (m *Module) ImportedFuncCount() int {
	n := 0
	for _, im := range m.ImportSection {
		if im.Kind == ImportKindFunc {
			n++
		}
	}
	return n
}

// ImportedGlobalCount returns how many of the module's globals are imports.
func (m *Module) ImportedGlobalCount() int {
	n := 0
	for _, im := range m.ImportSection {
		if im.Kind == ImportKindGlobal {
			n++
		}
	}
	return n
}

// FunctionTypeIndex returns the TypeSection index for function funcIdx,
// across both the imported and module-defined halves of the function index
// space.
func (m *Module) FunctionTypeIndex(funcIdx Index) (Index, bool) {
	imported := Index(0)
	for _, im := range m.ImportSection {
		if im.Kind != ImportKindFunc {
			continue
		}
		if imported == funcIdx {
			return im.DescFunc, true
		}
		imported++
	}
	definedIdx := funcIdx - imported
	if int(definedIdx) < len(m.FunctionSection) {
		return m.FunctionSection[definedIdx], true
	}
	return 0, false
}

// FunctionType resolves funcIdx all the way to its signature.
func (m *Module) FunctionType(funcIdx Index) (*FunctionType, bool) {
	typeIdx, ok := m.FunctionTypeIndex(funcIdx)
	if !ok || int(typeIdx) >= len(m.TypeSection) {
		return nil, false
	}
	return m.TypeSection[typeIdx], true
}

// NumFunctions returns the total size of the function index space (imports
// plus module-defined functions).
func (m *Module) NumFunctions() int {
	return m.ImportedFuncCount() + len(m.FunctionSection)
}

// Table returns the module's single table, if any (imported or locally
// declared; WASM 1.0 permits at most one of either).
func (m *Module) Table() *TableType {
	for _, im := range m.ImportSection {
		if im.Kind == ImportKindTable {
			return im.DescTable
		}
	}
	if len(m.TableSection) > 0 {
		return m.TableSection[0]
	}
	return nil
}

// Memory returns the module's single linear memory, if any.
func (m *Module) Memory() *MemoryType {
	for _, im := range m.ImportSection {
		if im.Kind == ImportKindMemory {
			return im.DescMemory
		}
	}
	if len(m.MemorySection) > 0 {
		return m.MemorySection[0]
	}
	return nil
}

// NumGlobals returns the total size of the global index space.
func (m *Module) NumGlobals() int {
	return m.ImportedGlobalCount() + len(m.GlobalSection)
}

// GlobalTypeAt resolves a global index to its declared type, across the
// imported/locally-declared halves of the global index space.
func (m *Module) GlobalTypeAt(idx Index) (GlobalType, bool) {
	imported := Index(0)
	for _, im := range m.ImportSection {
		if im.Kind != ImportKindGlobal {
			continue
		}
		if imported == idx {
			return *im.DescGlobal, true
		}
		imported++
	}
	definedIdx := idx - imported
	if int(definedIdx) < len(m.GlobalSection) {
		return m.GlobalSection[definedIdx].Type, true
	}
	return GlobalType{}, false
}
