package wasm

import (
	"sort"

	"github.com/wippyai/wasi-preset-args/wasm/internal/binary"
)

// Name section subsection IDs.
const (
	nameSubsectionModule   byte = 0
	nameSubsectionFunction byte = 1
)

// NameSectionName is the custom section name carrying debug names.
const NameSectionName = "name"

// NameSection holds the decoded contents of the "name" custom section.
// Subsections other than module and function names are preserved raw.
type NameSection struct {
	ModuleName    string
	HasModuleName bool
	FuncNames     map[uint32]string
	raw           []rawSubsection
}

type rawSubsection struct {
	Data []byte
	ID   byte
}

// DecodeNameSection decodes the module's "name" custom section.
// It returns an empty NameSection if the module has none.
func DecodeNameSection(m *Module) (*NameSection, error) {
	ns := &NameSection{FuncNames: make(map[uint32]string)}

	var data []byte
	for i := range m.CustomSections {
		if m.CustomSections[i].Name == NameSectionName {
			data = m.CustomSections[i].Data
			break
		}
	}
	if data == nil {
		return ns, nil
	}

	r := binary.NewReader(data)
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("name section", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("name section", err)
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError("name section", err)
		}

		sr := binary.NewReader(payload)
		switch id {
		case nameSubsectionModule:
			name, err := sr.ReadName()
			if err != nil {
				return nil, sr.WrapError("module name", err)
			}
			ns.ModuleName = name
			ns.HasModuleName = true
		case nameSubsectionFunction:
			count, err := sr.ReadU32()
			if err != nil {
				return nil, sr.WrapError("function names", err)
			}
			for i := uint32(0); i < count; i++ {
				idx, err := sr.ReadU32()
				if err != nil {
					return nil, sr.WrapError("function names", err)
				}
				name, err := sr.ReadName()
				if err != nil {
					return nil, sr.WrapError("function names", err)
				}
				ns.FuncNames[idx] = name
			}
		default:
			ns.raw = append(ns.raw, rawSubsection{ID: id, Data: payload})
		}
	}

	return ns, nil
}

// IsEmpty reports whether the section carries no names at all.
func (ns *NameSection) IsEmpty() bool {
	return !ns.HasModuleName && len(ns.FuncNames) == 0 && len(ns.raw) == 0
}

// Encode encodes the name section payload (custom section data after
// the section name). Subsections are emitted in increasing ID order as
// the binary format requires.
func (ns *NameSection) Encode() []byte {
	w := binary.NewWriter()

	if ns.HasModuleName {
		sub := binary.NewWriter()
		sub.WriteName(ns.ModuleName)
		writeNameSubsection(w, nameSubsectionModule, sub.Bytes())
	}

	if len(ns.FuncNames) > 0 {
		idxs := make([]uint32, 0, len(ns.FuncNames))
		for idx := range ns.FuncNames {
			idxs = append(idxs, idx)
		}
		sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })

		sub := binary.NewWriter()
		sub.WriteU32(uint32(len(idxs)))
		for _, idx := range idxs {
			sub.WriteU32(idx)
			sub.WriteName(ns.FuncNames[idx])
		}
		writeNameSubsection(w, nameSubsectionFunction, sub.Bytes())
	}

	for _, raw := range ns.raw {
		writeNameSubsection(w, raw.ID, raw.Data)
	}

	return w.Bytes()
}

func writeNameSubsection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

// SetNameSection replaces the module's "name" custom section with the
// encoding of ns, appending one if the module has none. An empty ns
// removes the section.
func SetNameSection(m *Module, ns *NameSection) {
	if ns.IsEmpty() {
		for i := range m.CustomSections {
			if m.CustomSections[i].Name == NameSectionName {
				m.CustomSections = append(m.CustomSections[:i], m.CustomSections[i+1:]...)
				return
			}
		}
		return
	}

	data := ns.Encode()
	for i := range m.CustomSections {
		if m.CustomSections[i].Name == NameSectionName {
			m.CustomSections[i].Data = data
			return
		}
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name:  NameSectionName,
		Data:  data,
		After: m.lastSectionID(),
	})
}
