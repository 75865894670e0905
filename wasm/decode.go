package wasm

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/wippyai/wasi-preset-args/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")

	// ErrUnsupported marks constructs outside the supported profile
	// (GC types, exception handling, component model layers).
	ErrUnsupported = errors.New("unsupported construct")
)

// ParseModule parses a WebAssembly binary module
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	// Check magic number
	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	// Check version
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}

	// Track section ordering using canonical order, not section IDs.
	// WASM spec order: Type(1), Import(2), Function(3), Table(4), Memory(5),
	// Global(6), Export(7), Start(8), Element(9), DataCount(12), Code(10), Data(11)
	var lastSectionOrder int
	var lastSectionID byte

	// Parse sections
	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, r.WrapError("section header", err)
		}

		// Validate section ordering (custom sections can appear anywhere)
		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order <= lastSectionOrder {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSectionOrder = order
		}

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}

		sectionData, err := r.ReadBytes(int(sectionSize))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		sr := binary.NewReader(sectionData)

		switch sectionID {
		case SectionCustom:
			if err := parseCustomSection(sr, m); err != nil {
				return nil, fmt.Errorf("custom section: %w", err)
			}
			m.CustomSections[len(m.CustomSections)-1].After = lastSectionID
		case SectionType:
			if err := parseTypeSection(sr, m); err != nil {
				return nil, fmt.Errorf("type section: %w", err)
			}
		case SectionImport:
			if err := parseImportSection(sr, m); err != nil {
				return nil, fmt.Errorf("import section: %w", err)
			}
		case SectionFunction:
			if err := parseFunctionSection(sr, m); err != nil {
				return nil, fmt.Errorf("function section: %w", err)
			}
		case SectionTable:
			if err := parseTableSection(sr, m); err != nil {
				return nil, fmt.Errorf("table section: %w", err)
			}
		case SectionMemory:
			if err := parseMemorySection(sr, m); err != nil {
				return nil, fmt.Errorf("memory section: %w", err)
			}
		case SectionGlobal:
			if err := parseGlobalSection(sr, m); err != nil {
				return nil, fmt.Errorf("global section: %w", err)
			}
		case SectionExport:
			if err := parseExportSection(sr, m); err != nil {
				return nil, fmt.Errorf("export section: %w", err)
			}
		case SectionStart:
			if err := parseStartSection(sr, m); err != nil {
				return nil, fmt.Errorf("start section: %w", err)
			}
		case SectionElement:
			if err := parseElementSection(sr, m); err != nil {
				return nil, fmt.Errorf("element section: %w", err)
			}
		case SectionCode:
			if err := parseCodeSection(sr, m); err != nil {
				return nil, fmt.Errorf("code section: %w", err)
			}
		case SectionData:
			if err := parseDataSection(sr, m); err != nil {
				return nil, fmt.Errorf("data section: %w", err)
			}
		case SectionDataCount:
			if err := parseDataCountSection(sr, m); err != nil {
				return nil, fmt.Errorf("data count section: %w", err)
			}
		default:
			return nil, fmt.Errorf("unknown section ID: 0x%02x", sectionID)
		}

		if sectionID != SectionCustom {
			lastSectionID = sectionID
		}
	}

	return m, nil
}

// sectionOrder returns the canonical ordering for a section ID.
// WASM spec requires sections in specific order, which differs from section IDs.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10 // DataCount must come before Code
	case SectionCode:
		return 11
	case SectionData:
		return 12
	default:
		return 100 // Unknown sections at end
	}
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	rest, err := r.ReadRemaining()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: rest,
	})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("read type form at index %d: %w", i, err)
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type form 0x%02x: %w", form, ErrUnsupported)
		}
		ft, err := readFuncType(r)
		if err != nil {
			return err
		}
		m.Types[i] = ft
	}
	return nil
}

func readFuncType(r *binary.Reader) (FuncType, error) {
	params, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	results, err := readValTypes(r)
	if err != nil {
		return FuncType{}, err
	}
	return FuncType{Params: params, Results: results}, nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	types := make([]ValType, count)
	for i := uint32(0); i < count; i++ {
		b, err := readValType(r)
		if err != nil {
			return nil, err
		}
		types[i] = b
	}
	return types, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExtern:
		return ValType(b), nil
	default:
		return 0, fmt.Errorf("value type 0x%02x: %w", b, ErrUnsupported)
	}
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}

		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		case KindTable:
			table, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &table
		case KindMemory:
			memory, err := readMemoryType(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &memory
		case KindGlobal:
			global, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &global
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}

		m.Imports[i] = imp
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		m.Funcs[i], err = r.ReadU32()
		if err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := uint32(0); i < count; i++ {
		m.Tables[i], err = readTableType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := uint32(0); i < count; i++ {
		m.Memories[i], err = readMemoryType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := uint32(0); i < count; i++ {
		globalType, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return err
		}
		m.Globals[i] = Global{
			Type: globalType,
			Init: init,
		}
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func parseStartSection(r *binary.Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseElementSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Elements = make([]Element, count)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 7 {
			return fmt.Errorf("invalid element segment flags: %d", flags)
		}

		elem := Element{Flags: flags}

		// Bit 1: passive/declarative (no table index or offset)
		// Bit 2: explicit table index
		hasTableIdx := flags&0x02 != 0 && flags&0x01 == 0
		hasOffset := flags&0x01 == 0
		usesExprs := flags&0x04 != 0

		if hasTableIdx {
			elem.TableIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		}

		if hasOffset {
			elem.Offset, err = readInitExpr(r)
			if err != nil {
				return err
			}
		}

		// Flags 1, 2, 3: elemkind follows (must be 0x00 for funcref)
		// Flags 5, 6, 7: reftype follows
		if flags&0x03 != 0 {
			if usesExprs {
				t, err := readValType(r)
				if err != nil {
					return err
				}
				elem.RefType = t
			} else {
				elem.ElemKind, err = r.ReadByte()
				if err != nil {
					return err
				}
			}
		}

		// Read the vector of indices or expressions
		vecCount, err := r.ReadU32()
		if err != nil {
			return err
		}

		if usesExprs {
			elem.Exprs = make([][]byte, vecCount)
			for j := uint32(0); j < vecCount; j++ {
				elem.Exprs[j], err = readInitExpr(r)
				if err != nil {
					return err
				}
			}
		} else {
			elem.FuncIdxs = make([]uint32, vecCount)
			for j := uint32(0); j < vecCount; j++ {
				elem.FuncIdxs[j], err = r.ReadU32()
				if err != nil {
					return err
				}
			}
		}

		m.Elements[i] = elem
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, count)
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.ReadU32()
		if err != nil {
			return err
		}
		bodyData, err := r.ReadBytes(int(bodySize))
		if err != nil {
			return err
		}

		br := binary.NewReader(bodyData)

		localCount, err := br.ReadU32()
		if err != nil {
			return err
		}
		var locals []LocalEntry
		for j := uint32(0); j < localCount; j++ {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			t, err := readValType(br)
			if err != nil {
				return err
			}
			locals = append(locals, LocalEntry{Count: n, ValType: t})
		}

		code, err := br.ReadRemaining()
		if err != nil {
			return err
		}

		m.Code[i] = FuncBody{Locals: locals, Code: code}
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, count)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 2 {
			return fmt.Errorf("invalid data segment flags: %d", flags)
		}

		seg := DataSegment{Flags: flags}

		// flags=0: active, memIdx=0, offset, data
		// flags=1: passive, data only
		// flags=2: active, memIdx, offset, data
		if flags == 2 {
			seg.MemIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		}

		if flags != 1 {
			seg.Offset, err = readInitExpr(r)
			if err != nil {
				return err
			}
		}

		initLen, err := r.ReadU32()
		if err != nil {
			return err
		}
		seg.Init, err = r.ReadBytes(int(initLen))
		if err != nil {
			return err
		}

		m.Data[i] = seg
	}
	return nil
}

func parseDataCountSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.DataCount = &count
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}

	memory64 := flags&LimitsMemory64 != 0
	l := Limits{
		Shared:   flags&LimitsShared != 0,
		Memory64: memory64,
	}

	if memory64 {
		l.Min, err = r.ReadU64()
		if err != nil {
			return Limits{}, err
		}
		if flags&LimitsHasMax != 0 {
			maxVal, err := r.ReadU64()
			if err != nil {
				return Limits{}, err
			}
			l.Max = &maxVal
		}
	} else {
		minVal, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		l.Min = uint64(minVal)
		if flags&LimitsHasMax != 0 {
			maxVal, err := r.ReadU32()
			if err != nil {
				return Limits{}, err
			}
			max64 := uint64(maxVal)
			l.Max = &max64
		}
	}

	// Validate min <= max
	if l.Max != nil && l.Min > *l.Max {
		return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, *l.Max)
	}

	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elemType, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	if elemType != byte(ValFuncRef) && elemType != byte(ValExtern) {
		return TableType{}, fmt.Errorf("table element type 0x%02x: %w", elemType, ErrUnsupported)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: elemType, Limits: limits}, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	valType, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	return GlobalType{ValType: valType, Mutable: mut != 0}, nil
}

func readInitExpr(r *binary.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if b == OpEnd {
			break
		}
		// Copy immediate based on opcode
		if err := copyInitExprImmediate(r, &buf, b); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func copyInitExprImmediate(r *binary.Reader, buf *bytes.Buffer, opcode byte) error {
	switch opcode {
	case OpI32Const, OpI64Const:
		return copyLEB128(r, buf)
	case OpF32Const:
		return copyBytes(r, buf, 4)
	case OpF64Const:
		return copyBytes(r, buf, 8)
	case OpGlobalGet:
		return copyLEB128(r, buf)
	case OpRefNull:
		// ref.null has a heap type immediate (s33)
		return copyLEB128(r, buf)
	case OpRefFunc:
		// ref.func has a function index immediate
		return copyLEB128(r, buf)
	// Extended-const proposal: arithmetic and bitwise in init expressions
	case OpI32Add, OpI32Sub, OpI32Mul, OpI32And, OpI32Or, OpI32Xor,
		OpI64Add, OpI64Sub, OpI64Mul, OpI64And, OpI64Or, OpI64Xor:
		// No immediates
		return nil
	case OpPrefixSIMD:
		subOp, err := r.ReadU32()
		if err != nil {
			return err
		}
		WriteLEB128u(buf, subOp)
		if subOp == SimdV128Const {
			// v128.const has 16 bytes of immediate data
			return copyBytes(r, buf, 16)
		}
		// Other SIMD ops not valid in init expressions
		return nil
	case OpPrefixGC:
		return fmt.Errorf("gc opcode in init expression: %w", ErrUnsupported)
	default:
		// Anything else would desync the immediate copy loop.
		return fmt.Errorf("opcode 0x%02x in init expression: %w", opcode, ErrUnsupported)
	}
}

func copyLEB128(r *binary.Reader, buf *bytes.Buffer) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		buf.WriteByte(b)
		if b&0x80 == 0 {
			break
		}
	}
	return nil
}

func copyBytes(r *binary.Reader, buf *bytes.Buffer, n int) error {
	data, err := r.ReadBytes(n)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
