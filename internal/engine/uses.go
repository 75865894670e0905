package engine

import (
	"github.com/wippyai/wasi-preset-args/errors"
	"github.com/wippyai/wasi-preset-args/wasm"
)

// redirectFuncIndices rewrites every use of the remapped function
// indices to their replacements: direct and tail calls, ref.func in
// code and init expressions, element segments, function exports, and
// the start function. Import entries themselves are left alone so the
// proxy bodies can still call the originals.
func redirectFuncIndices(m *wasm.Module, remap map[uint32]uint32) error {
	for i := range m.Code {
		rewritten, changed, err := rewriteExpr(m.Code[i].Code, remap)
		if err != nil {
			return errors.Wrap(errors.PhaseLink, errors.KindMalformedModule, err, "rewrite function body")
		}
		if changed {
			m.Code[i].Code = rewritten
		}
	}

	for i := range m.Globals {
		rewritten, changed, err := rewriteExpr(m.Globals[i].Init, remap)
		if err != nil {
			return errors.Wrap(errors.PhaseLink, errors.KindMalformedModule, err, "rewrite global init")
		}
		if changed {
			m.Globals[i].Init = rewritten
		}
	}

	for i := range m.Elements {
		elem := &m.Elements[i]
		for j, funcIdx := range elem.FuncIdxs {
			if newIdx, ok := remap[funcIdx]; ok {
				elem.FuncIdxs[j] = newIdx
			}
		}
		for j := range elem.Exprs {
			rewritten, changed, err := rewriteExpr(elem.Exprs[j], remap)
			if err != nil {
				return errors.Wrap(errors.PhaseLink, errors.KindMalformedModule, err, "rewrite element expression")
			}
			if changed {
				elem.Exprs[j] = rewritten
			}
		}
	}

	for i := range m.Exports {
		if m.Exports[i].Kind != wasm.KindFunc {
			continue
		}
		if newIdx, ok := remap[m.Exports[i].Idx]; ok {
			m.Exports[i].Idx = newIdx
		}
	}

	if m.Start != nil {
		if newIdx, ok := remap[*m.Start]; ok {
			start := newIdx
			m.Start = &start
		}
	}

	return nil
}

// rewriteExpr remaps call and ref.func targets in an instruction
// sequence. The input bytes are returned untouched when nothing
// matched.
func rewriteExpr(code []byte, remap map[uint32]uint32) ([]byte, bool, error) {
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		return nil, false, err
	}

	changed := false
	for i := range instrs {
		switch imm := instrs[i].Imm.(type) {
		case wasm.CallImm:
			if newIdx, ok := remap[imm.FuncIdx]; ok {
				instrs[i].Imm = wasm.CallImm{FuncIdx: newIdx}
				changed = true
			}
		case wasm.RefFuncImm:
			if newIdx, ok := remap[imm.FuncIdx]; ok {
				instrs[i].Imm = wasm.RefFuncImm{FuncIdx: newIdx}
				changed = true
			}
		}
	}
	if !changed {
		return code, false, nil
	}
	return wasm.EncodeInstructions(instrs), true, nil
}
