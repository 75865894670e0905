package wasm

// Module represents a parsed WebAssembly module
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the count from the DataCount section (ID 12).
	// Required when data indices appear in code (bulk memory operations).
	DataCount *uint32

	CustomSections []CustomSection
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64, etc.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// Import represents an imported function, table, memory, or global.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal constants.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table with element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType byte
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // Raw init expression bytes including end opcode
}

// Export describes an exported item.
// Kind uses KindFunc, KindTable, KindMemory, or KindGlobal constants.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element represents an element segment.
// Flags determine the format:
//   - 0: active, tableIdx=0, offset expr, vec(funcidx)
//   - 1: passive, elemkind, vec(funcidx)
//   - 2: active, tableIdx, offset expr, elemkind, vec(funcidx)
//   - 3: declarative, elemkind, vec(funcidx)
//   - 4: active, tableIdx=0, offset expr, vec(expr)
//   - 5: passive, reftype, vec(expr)
//   - 6: active, tableIdx, offset expr, reftype, vec(expr)
//   - 7: declarative, reftype, vec(expr)
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
	Exprs    [][]byte
	Flags    uint32
	TableIdx uint32
	ElemKind byte
	RefType  ValType
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Raw code bytes including end opcode
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment represents a data segment.
// Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// CustomSection holds a named custom section's data.
//
// After records placement: the ID of the non-custom section this
// custom section follows, or 0 when it precedes every other section.
// Encode emits each custom section right after its anchor, so decoded
// placement survives a re-encode. A custom section whose After never
// matches an emitted section goes at the end of the binary.
type CustomSection struct {
	Name  string
	Data  []byte
	After byte
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			count++
		}
	}
	return count
}

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindGlobal {
			count++
		}
	}
	return count
}

// NumImportedTables returns the number of imported tables
func (m *Module) NumImportedTables() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindTable {
			count++
		}
	}
	return count
}

// NumImportedMemories returns the number of imported memories
func (m *Module) NumImportedMemories() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindMemory {
			count++
		}
	}
	return count
}

// NumFuncs returns the total size of the function index space,
// imports included.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// GetFuncType returns the type of a function by its index, or nil if
// the index is out of range.
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	numImported := uint32(m.NumImportedFuncs())
	if funcIdx < numImported {
		for i, imp := range m.Imports {
			if imp.Desc.Kind == KindFunc {
				if funcIdx == 0 {
					return m.getFuncTypeByIdx(m.Imports[i].Desc.TypeIdx)
				}
				funcIdx--
			}
		}
	}
	localIdx := funcIdx - numImported
	if int(localIdx) >= len(m.Funcs) {
		return nil
	}
	return m.getFuncTypeByIdx(m.Funcs[localIdx])
}

func (m *Module) getFuncTypeByIdx(typeIdx uint32) *FuncType {
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// AddType adds a function type and returns its index, reusing existing if equal
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if typesEqual(t, ft) {
			return uint32(i)
		}
	}
	idx := uint32(len(m.Types))
	m.Types = append(m.Types, ft)
	return idx
}

func typesEqual(a, b FuncType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}
