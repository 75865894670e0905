package wasm

import (
	"fmt"
	"math"

	"github.com/wippyai/wasi-preset-args/wasm/internal/binary"
)

// ErrSectionTooLarge is returned when a section body exceeds the
// maximum encodable u32 size.
var ErrSectionTooLarge = fmt.Errorf("section exceeds maximum encodable size")

// Encode encodes the module to WebAssembly binary format.
func (m *Module) Encode() ([]byte, error) {
	w := binary.NewWriter()

	// Magic number and version
	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	// Custom sections are emitted next to their placement anchors.
	emitted := make([]bool, len(m.CustomSections))
	if err := m.writeCustomsAfter(w, 0, emitted); err != nil {
		return nil, err
	}

	// Type section
	if len(m.Types) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		if err := m.writeSectionThenCustoms(w, SectionType, sec.Bytes(), emitted); err != nil {
			return nil, err
		}
	}

	// Import section
	if len(m.Imports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			sec.WriteName(imp.Module)
			sec.WriteName(imp.Name)
			sec.Byte(imp.Desc.Kind)
			switch imp.Desc.Kind {
			case KindFunc:
				sec.WriteU32(imp.Desc.TypeIdx)
			case KindTable:
				if imp.Desc.Table != nil {
					writeTableType(sec, *imp.Desc.Table)
				}
			case KindMemory:
				if imp.Desc.Memory != nil {
					writeMemoryType(sec, *imp.Desc.Memory)
				}
			case KindGlobal:
				if imp.Desc.Global != nil {
					writeGlobalType(sec, *imp.Desc.Global)
				}
			}
		}
		if err := m.writeSectionThenCustoms(w, SectionImport, sec.Bytes(), emitted); err != nil {
			return nil, err
		}
	}

	// Function section
	if len(m.Funcs) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec.WriteU32(typeIdx)
		}
		if err := m.writeSectionThenCustoms(w, SectionFunction, sec.Bytes(), emitted); err != nil {
			return nil, err
		}
	}

	// Table section
	if len(m.Tables) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Tables)))
		for _, t := range m.Tables {
			writeTableType(sec, t)
		}
		if err := m.writeSectionThenCustoms(w, SectionTable, sec.Bytes(), emitted); err != nil {
			return nil, err
		}
	}

	// Memory section
	if len(m.Memories) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeMemoryType(sec, mem)
		}
		if err := m.writeSectionThenCustoms(w, SectionMemory, sec.Bytes(), emitted); err != nil {
			return nil, err
		}
	}

	// Global section
	if len(m.Globals) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			writeGlobalType(sec, g.Type)
			sec.WriteBytes(g.Init)
		}
		if err := m.writeSectionThenCustoms(w, SectionGlobal, sec.Bytes(), emitted); err != nil {
			return nil, err
		}
	}

	// Export section
	if len(m.Exports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Kind)
			sec.WriteU32(exp.Idx)
		}
		if err := m.writeSectionThenCustoms(w, SectionExport, sec.Bytes(), emitted); err != nil {
			return nil, err
		}
	}

	// Start section
	if m.Start != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.Start)
		if err := m.writeSectionThenCustoms(w, SectionStart, sec.Bytes(), emitted); err != nil {
			return nil, err
		}
	}

	// Element section
	if len(m.Elements) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Elements)))
		for _, elem := range m.Elements {
			sec.WriteU32(elem.Flags)

			hasTableIdx := elem.Flags&0x02 != 0 && elem.Flags&0x01 == 0
			hasOffset := elem.Flags&0x01 == 0
			usesExprs := elem.Flags&0x04 != 0

			if hasTableIdx {
				sec.WriteU32(elem.TableIdx)
			}

			if hasOffset {
				sec.WriteBytes(elem.Offset)
			}

			// Flags 1, 2, 3: elemkind; flags 5, 6, 7: reftype
			if elem.Flags&0x03 != 0 {
				if usesExprs {
					sec.Byte(byte(elem.RefType))
				} else {
					sec.Byte(elem.ElemKind)
				}
			}

			if usesExprs {
				sec.WriteU32(uint32(len(elem.Exprs)))
				for _, expr := range elem.Exprs {
					sec.WriteBytes(expr)
				}
			} else {
				sec.WriteU32(uint32(len(elem.FuncIdxs)))
				for _, idx := range elem.FuncIdxs {
					sec.WriteU32(idx)
				}
			}
		}
		if err := m.writeSectionThenCustoms(w, SectionElement, sec.Bytes(), emitted); err != nil {
			return nil, err
		}
	}

	// DataCount section (must appear before Code section if present)
	if m.DataCount != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.DataCount)
		if err := m.writeSectionThenCustoms(w, SectionDataCount, sec.Bytes(), emitted); err != nil {
			return nil, err
		}
	}

	// Code section
	if len(m.Code) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Code)))
		bodyBuf := binary.NewWriter()
		for _, body := range m.Code {
			bodyBuf.Reset()
			bodyBuf.WriteU32(uint32(len(body.Locals)))
			for _, local := range body.Locals {
				bodyBuf.WriteU32(local.Count)
				bodyBuf.Byte(byte(local.ValType))
			}
			bodyBuf.WriteBytes(body.Code)
			if uint64(bodyBuf.Len()) > math.MaxUint32 {
				return nil, fmt.Errorf("function body: %w", ErrSectionTooLarge)
			}
			sec.WriteU32(uint32(bodyBuf.Len()))
			sec.WriteBytes(bodyBuf.Bytes())
		}
		if err := m.writeSectionThenCustoms(w, SectionCode, sec.Bytes(), emitted); err != nil {
			return nil, err
		}
	}

	// Data section
	if len(m.Data) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Data)))
		for _, d := range m.Data {
			sec.WriteU32(d.Flags)

			if d.Flags == 2 {
				sec.WriteU32(d.MemIdx)
			}

			if d.Flags != 1 {
				sec.WriteBytes(d.Offset)
			}

			sec.WriteU32(uint32(len(d.Init)))
			sec.WriteBytes(d.Init)
		}
		if err := m.writeSectionThenCustoms(w, SectionData, sec.Bytes(), emitted); err != nil {
			return nil, err
		}
	}

	// Custom sections whose anchor was never emitted go at the end.
	for i := range m.CustomSections {
		if emitted[i] {
			continue
		}
		if err := writeCustomSection(w, &m.CustomSections[i]); err != nil {
			return nil, err
		}
	}

	return w.Bytes(), nil
}

func writeCustomSection(w *binary.Writer, cs *CustomSection) error {
	sec := binary.NewWriter()
	sec.WriteName(cs.Name)
	sec.WriteBytes(cs.Data)
	return writeSection(w, SectionCustom, sec.Bytes())
}

// writeCustomsAfter emits every pending custom section anchored to the
// given section ID.
func (m *Module) writeCustomsAfter(w *binary.Writer, id byte, emitted []bool) error {
	for i := range m.CustomSections {
		if emitted[i] || m.CustomSections[i].After != id {
			continue
		}
		if err := writeCustomSection(w, &m.CustomSections[i]); err != nil {
			return err
		}
		emitted[i] = true
	}
	return nil
}

func (m *Module) writeSectionThenCustoms(w *binary.Writer, id byte, data []byte, emitted []bool) error {
	if err := writeSection(w, id, data); err != nil {
		return err
	}
	return m.writeCustomsAfter(w, id, emitted)
}

// lastSectionID returns the ID of the final non-custom section Encode
// will emit, or 0 for a module with none.
func (m *Module) lastSectionID() byte {
	switch {
	case len(m.Data) > 0:
		return SectionData
	case len(m.Code) > 0:
		return SectionCode
	case m.DataCount != nil:
		return SectionDataCount
	case len(m.Elements) > 0:
		return SectionElement
	case m.Start != nil:
		return SectionStart
	case len(m.Exports) > 0:
		return SectionExport
	case len(m.Globals) > 0:
		return SectionGlobal
	case len(m.Memories) > 0:
		return SectionMemory
	case len(m.Tables) > 0:
		return SectionTable
	case len(m.Funcs) > 0:
		return SectionFunction
	case len(m.Imports) > 0:
		return SectionImport
	case len(m.Types) > 0:
		return SectionType
	}
	return 0
}

func writeSection(w *binary.Writer, id byte, data []byte) error {
	if uint64(len(data)) > math.MaxUint32 {
		return fmt.Errorf("section %d: %w", id, ErrSectionTooLarge)
	}
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
	return nil
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	if l.Shared {
		flags |= LimitsShared
	}
	if l.Memory64 {
		flags |= LimitsMemory64
	}
	w.Byte(flags)

	if l.Memory64 {
		w.WriteU64(l.Min)
		if l.Max != nil {
			w.WriteU64(*l.Max)
		}
	} else {
		w.WriteU32(uint32(l.Min))
		if l.Max != nil {
			w.WriteU32(uint32(*l.Max))
		}
	}
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(t.ElemType)
	writeLimits(w, t.Limits)
}

func writeMemoryType(w *binary.Writer, m MemoryType) {
	writeLimits(w, m.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}
