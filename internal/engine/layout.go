package engine

import (
	"strings"

	"github.com/wippyai/wasi-preset-args/errors"
	"github.com/wippyai/wasi-preset-args/wasm"
)

// Layout describes where the injected argument data lives inside the
// guest's argument buffer. The preset region occupies the start of the
// buffer, followed by the optional program name region. Whatever the
// original args_get writes is placed after both.
type Layout struct {
	// PresetBytes is the concatenation of all preset arguments, each
	// NUL terminated.
	PresetBytes []byte

	// NameBytes is the NUL terminated program name, or empty when no
	// override was requested.
	NameBytes []byte

	// ArgOffsets holds the offset of each preset argument within
	// PresetBytes.
	ArgOffsets []uint32
}

// PlanLayout computes the buffer layout for the given preset arguments
// and optional program name override. Arguments must not contain NUL
// bytes since the WASI argument buffer is NUL delimited.
func PlanLayout(args []string, programName string) (*Layout, error) {
	l := &Layout{
		ArgOffsets: make([]uint32, 0, len(args)),
	}

	for i, arg := range args {
		if strings.ContainsRune(arg, 0) {
			return nil, errors.New(errors.PhasePlan, errors.KindInvalidInput).
				Detail("argument %d contains a NUL byte", i).
				Build()
		}
		l.ArgOffsets = append(l.ArgOffsets, uint32(len(l.PresetBytes)))
		l.PresetBytes = append(l.PresetBytes, arg...)
		l.PresetBytes = append(l.PresetBytes, 0)
	}

	if programName != "" {
		if strings.ContainsRune(programName, 0) {
			return nil, errors.InvalidInput(errors.PhasePlan, "program name contains a NUL byte")
		}
		l.NameBytes = append(l.NameBytes, programName...)
		l.NameBytes = append(l.NameBytes, 0)
	}

	return l, nil
}

// NumArgs returns the number of preset arguments.
func (l *Layout) NumArgs() int {
	return len(l.ArgOffsets)
}

// PresetLen returns the size of the preset region in bytes.
func (l *Layout) PresetLen() uint32 {
	return uint32(len(l.PresetBytes))
}

// NameLen returns the size of the program name region in bytes,
// terminator included. Zero when no override was requested.
func (l *Layout) NameLen() uint32 {
	return uint32(len(l.NameBytes))
}

// ExtraLen returns the total buffer growth the rewrite adds to
// args_sizes_get's reported buffer size.
func (l *Layout) ExtraLen() uint32 {
	return l.PresetLen() + l.NameLen()
}

// GrowPages returns how many memory pages the module's initial memory
// must grow by to hold the injected data.
func (l *Layout) GrowPages() uint64 {
	return (uint64(l.ExtraLen()) + wasm.PageSize - 1) / wasm.PageSize
}
