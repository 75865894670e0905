package engine

import (
	"encoding/binary"

	"github.com/wippyai/wasi-preset-args/internal/codegen"
	"github.com/wippyai/wasi-preset-args/wasm"
)

// Proxy function locals. Both proxies share the (i32, i32) -> i32
// signature, so locals 0 and 1 are the two pointer parameters.
const (
	localPtrA  = 0 // argcPtr for args_sizes_get, argv for args_get
	localPtrB  = 1 // bufSizePtr for args_sizes_get, argvBuf for args_get
	localErrno = 2
	localTemp  = 3 // loaded argc, or the shifted argv cursor
)

// buildArgsSizesGet synthesizes the proxy body wrapping the original
// args_sizes_get import.
//
// The proxy forwards to the original, records the host argc in the
// saved global, then inflates the reported counts: argc grows by the
// preset count (plus one for the synthetic program name when the host
// reports no arguments at all), and the buffer size grows by the
// preset and name regions.
func buildArgsSizesGet(origIdx, savedArgcGlobal uint32, l *Layout) wasm.FuncBody {
	n := int32(l.NumArgs())
	extra := int32(l.ExtraLen())

	zeroArgc := n
	if l.NameLen() > 0 {
		zeroArgc++
	}

	e := codegen.GetEmitter()
	defer codegen.PutEmitter(e)

	e.LocalGet(localPtrA).
		LocalGet(localPtrB).
		Call(origIdx).
		LocalTee(localErrno).
		I32Eqz().
		If(codegen.BlockI32)

	// Success: stash the host argc before rewriting it.
	e.LocalGet(localPtrA).
		I32Load(2, 0).
		LocalTee(localTemp).
		GlobalSet(savedArgcGlobal)

	e.LocalGet(localTemp).
		I32Eqz().
		If(codegen.BlockVoid)

	// Host reported nothing. The whole argument list is ours.
	e.LocalGet(localPtrA).
		I32Const(zeroArgc).
		I32Store(2, 0).
		LocalGet(localPtrB).
		I32Const(extra).
		I32Store(2, 0)

	e.Else()

	// Host has arguments. Presets slot in after argv[0].
	e.LocalGet(localPtrA).
		LocalGet(localTemp).
		I32Const(n).
		I32Add().
		I32Store(2, 0).
		LocalGet(localPtrB).
		LocalGet(localPtrB).
		I32Load(2, 0).
		I32Const(extra).
		I32Add().
		I32Store(2, 0)

	e.End().
		I32Const(0).
		Else().
		LocalGet(localErrno).
		End().
		End()

	return wasm.FuncBody{
		Locals: []wasm.LocalEntry{{Count: 2, ValType: wasm.ValI32}},
		Code:   e.Copy(),
	}
}

// buildArgsGet synthesizes the proxy body wrapping the original
// args_get import.
//
// The preset bytes are written into the caller's buffer first, before
// any branching, so the preset region is populated on every path. The
// saved argc from args_sizes_get then selects between two layouts:
//
//	host argc == 0: [presets][name]           argv = {name?, presets...}
//	host argc  > 0: [presets][name][host buf] argv = {argv0, presets..., rest...}
//
// In the second case the original import writes its own argv entries
// shifted n slots right, the host argv[0] is copied down to slot 0,
// and the preset pointers overwrite slots 1..n.
func buildArgsGet(origIdx, savedArgcGlobal uint32, l *Layout) wasm.FuncBody {
	n := l.NumArgs()
	preset := l.PresetLen()
	extra := int32(l.ExtraLen())

	e := codegen.GetEmitter()
	defer codegen.PutEmitter(e)

	storeBytes(e, l.PresetBytes, 0)

	e.GlobalGet(savedArgcGlobal).
		I32Eqz().
		If(codegen.BlockI32)

	// Host reported no arguments.
	base := 0
	if l.NameLen() > 0 {
		// Materialize the program name and point argv[0] at it.
		storeBytes(e, l.NameBytes, uint64(preset))
		e.LocalGet(localPtrA).
			LocalGet(localPtrB).
			I32Const(int32(preset)).
			I32Add().
			I32Store(2, 0)
		base = 1
	}
	writeArgvSlots(e, l, base)
	e.I32Const(0)

	e.Else()

	// Delegate to the original with everything shifted past our data.
	e.LocalGet(localPtrA).
		I32Const(int32(n*4)).
		I32Add().
		LocalTee(localTemp).
		LocalGet(localPtrB).
		I32Const(extra).
		I32Add().
		Call(origIdx).
		LocalTee(localErrno).
		I32Eqz().
		If(codegen.BlockI32)

	// Keep the host argv[0] in front, then the presets. The last
	// preset slot overwrites the duplicated argv[0] at index n.
	e.LocalGet(localPtrA).
		LocalGet(localTemp).
		I32Load(2, 0).
		I32Store(2, 0)
	writeArgvSlots(e, l, 1)
	e.I32Const(0).
		Else().
		LocalGet(localErrno).
		End()

	e.End().
		End()

	return wasm.FuncBody{
		Locals: []wasm.LocalEntry{{Count: 2, ValType: wasm.ValI32}},
		Code:   e.Copy(),
	}
}

// writeArgvSlots emits argv pointer stores for every preset argument,
// starting at the given slot index.
func writeArgvSlots(e *codegen.Emitter, l *Layout, base int) {
	for i, off := range l.ArgOffsets {
		e.LocalGet(localPtrA).
			LocalGet(localPtrB)
		if off != 0 {
			e.I32Const(int32(off)).
				I32Add()
		}
		e.I32Store(2, uint64(base+i)*4)
	}
}

// storeBytes emits constant stores writing data into the buffer
// pointed to by local 1, starting at the given offset. Chunks are
// greedy: 8, then 4, then 2, then single bytes.
func storeBytes(e *codegen.Emitter, data []byte, offset uint64) {
	for len(data) >= 8 {
		e.LocalGet(localPtrB).
			I64Const(int64(binary.LittleEndian.Uint64(data))).
			I64Store(3, offset)
		data = data[8:]
		offset += 8
	}
	if len(data) >= 4 {
		e.LocalGet(localPtrB).
			I32Const(int32(binary.LittleEndian.Uint32(data))).
			I32Store(2, offset)
		data = data[4:]
		offset += 4
	}
	if len(data) >= 2 {
		e.LocalGet(localPtrB).
			I32Const(int32(int16(binary.LittleEndian.Uint16(data)))).
			I32Store16(1, offset)
		data = data[2:]
		offset += 2
	}
	if len(data) == 1 {
		e.LocalGet(localPtrB).
			I32Const(int32(int8(data[0]))).
			I32Store8(0, offset)
	}
}
