package codegen

import (
	"bytes"
	"sync"

	"github.com/wippyai/wasi-preset-args/wasm"
)

// Block type shorthands for Block, Loop, and If.
const (
	BlockVoid = wasm.BlockTypeVoid
	BlockI32  = wasm.BlockTypeI32
	BlockI64  = wasm.BlockTypeI64
	BlockF32  = wasm.BlockTypeF32
	BlockF64  = wasm.BlockTypeF64
)

// Emitter builds WebAssembly bytecode sequences. All emit methods
// return the receiver so call sites can chain instructions in
// execution order.
type Emitter struct {
	buf bytes.Buffer
}

// NewEmitter creates an empty Emitter.
func NewEmitter() *Emitter {
	return &Emitter{}
}

// NewEmitterWithCapacity creates an Emitter with a preallocated buffer.
func NewEmitterWithCapacity(n int) *Emitter {
	e := &Emitter{}
	e.buf.Grow(n)
	return e
}

var emitterPool = sync.Pool{
	New: func() interface{} { return &Emitter{} },
}

// GetEmitter fetches a reset Emitter from the pool.
func GetEmitter() *Emitter {
	return emitterPool.Get().(*Emitter)
}

// GetEmitterWithCapacity fetches a pooled Emitter and ensures capacity.
func GetEmitterWithCapacity(n int) *Emitter {
	e := GetEmitter()
	e.buf.Grow(n)
	return e
}

// PutEmitter resets e and returns it to the pool. Nil is ignored.
func PutEmitter(e *Emitter) {
	if e == nil {
		return
	}
	e.Reset()
	emitterPool.Put(e)
}

// Bytes returns the emitted bytecode.
func (e *Emitter) Bytes() []byte {
	return e.buf.Bytes()
}

// Copy returns an independent copy of the emitted bytecode.
func (e *Emitter) Copy() []byte {
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	return out
}

// Len returns the number of emitted bytes.
func (e *Emitter) Len() int {
	return e.buf.Len()
}

// Reset discards all emitted bytecode.
func (e *Emitter) Reset() {
	e.buf.Reset()
}

// Raw appends raw bytes without interpretation.
func (e *Emitter) Raw(data []byte) *Emitter {
	e.buf.Write(data)
	return e
}

// EmitInstr appends a decoded instruction.
func (e *Emitter) EmitInstr(instr wasm.Instruction) *Emitter {
	wasm.EncodeInstructionTo(&e.buf, &instr)
	return e
}

// EmitInstrs appends a sequence of decoded instructions.
func (e *Emitter) EmitInstrs(instrs []wasm.Instruction) *Emitter {
	wasm.EncodeInstructionsTo(&e.buf, instrs)
	return e
}

// EmitRawOpcode appends a bare opcode with no immediate.
func (e *Emitter) EmitRawOpcode(op byte) *Emitter {
	e.buf.WriteByte(op)
	return e
}

// Control flow

// Block opens a block with the given block type.
func (e *Emitter) Block(blockType int64) *Emitter {
	e.buf.WriteByte(wasm.OpBlock)
	wasm.WriteLEB128s64(&e.buf, blockType)
	return e
}

// Loop opens a loop with the given block type.
func (e *Emitter) Loop(blockType int64) *Emitter {
	e.buf.WriteByte(wasm.OpLoop)
	wasm.WriteLEB128s64(&e.buf, blockType)
	return e
}

// If opens an if with the given block type.
func (e *Emitter) If(blockType int64) *Emitter {
	e.buf.WriteByte(wasm.OpIf)
	wasm.WriteLEB128s64(&e.buf, blockType)
	return e
}

// Else begins the else arm of the innermost if.
func (e *Emitter) Else() *Emitter {
	e.buf.WriteByte(wasm.OpElse)
	return e
}

// End closes the innermost block, loop, if, or function body.
func (e *Emitter) End() *Emitter {
	e.buf.WriteByte(wasm.OpEnd)
	return e
}

// Br emits an unconditional branch to the given label.
func (e *Emitter) Br(label uint32) *Emitter {
	e.buf.WriteByte(wasm.OpBr)
	wasm.WriteLEB128u(&e.buf, label)
	return e
}

// BrIf emits a conditional branch to the given label.
func (e *Emitter) BrIf(label uint32) *Emitter {
	e.buf.WriteByte(wasm.OpBrIf)
	wasm.WriteLEB128u(&e.buf, label)
	return e
}

// BrTable emits a branch table.
func (e *Emitter) BrTable(labels []uint32, def uint32) *Emitter {
	e.buf.WriteByte(wasm.OpBrTable)
	wasm.WriteLEB128u(&e.buf, uint32(len(labels)))
	for _, l := range labels {
		wasm.WriteLEB128u(&e.buf, l)
	}
	wasm.WriteLEB128u(&e.buf, def)
	return e
}

// Return emits a return.
func (e *Emitter) Return() *Emitter {
	e.buf.WriteByte(wasm.OpReturn)
	return e
}

// Unreachable emits an unreachable trap.
func (e *Emitter) Unreachable() *Emitter {
	e.buf.WriteByte(wasm.OpUnreachable)
	return e
}

// Nop emits a no-op.
func (e *Emitter) Nop() *Emitter {
	e.buf.WriteByte(wasm.OpNop)
	return e
}

// Call emits a direct call to the given function index.
func (e *Emitter) Call(funcIdx uint32) *Emitter {
	e.buf.WriteByte(wasm.OpCall)
	wasm.WriteLEB128u(&e.buf, funcIdx)
	return e
}

// CallIndirect emits an indirect call through the given table.
func (e *Emitter) CallIndirect(typeIdx, tableIdx uint32) *Emitter {
	e.buf.WriteByte(wasm.OpCallIndirect)
	wasm.WriteLEB128u(&e.buf, typeIdx)
	wasm.WriteLEB128u(&e.buf, tableIdx)
	return e
}

// Parametric

// Drop emits a drop.
func (e *Emitter) Drop() *Emitter {
	e.buf.WriteByte(wasm.OpDrop)
	return e
}

// Select emits an untyped select.
func (e *Emitter) Select() *Emitter {
	e.buf.WriteByte(wasm.OpSelect)
	return e
}

// Variables

// LocalGet pushes the value of a local.
func (e *Emitter) LocalGet(idx uint32) *Emitter {
	e.buf.WriteByte(wasm.OpLocalGet)
	wasm.WriteLEB128u(&e.buf, idx)
	return e
}

// LocalSet pops into a local.
func (e *Emitter) LocalSet(idx uint32) *Emitter {
	e.buf.WriteByte(wasm.OpLocalSet)
	wasm.WriteLEB128u(&e.buf, idx)
	return e
}

// LocalTee stores into a local and keeps the value on the stack.
func (e *Emitter) LocalTee(idx uint32) *Emitter {
	e.buf.WriteByte(wasm.OpLocalTee)
	wasm.WriteLEB128u(&e.buf, idx)
	return e
}

// GlobalGet pushes the value of a global.
func (e *Emitter) GlobalGet(idx uint32) *Emitter {
	e.buf.WriteByte(wasm.OpGlobalGet)
	wasm.WriteLEB128u(&e.buf, idx)
	return e
}

// GlobalSet pops into a global.
func (e *Emitter) GlobalSet(idx uint32) *Emitter {
	e.buf.WriteByte(wasm.OpGlobalSet)
	wasm.WriteLEB128u(&e.buf, idx)
	return e
}

// Constants

// I32Const pushes an i32 constant.
func (e *Emitter) I32Const(v int32) *Emitter {
	e.buf.WriteByte(wasm.OpI32Const)
	wasm.WriteLEB128s(&e.buf, v)
	return e
}

// I64Const pushes an i64 constant.
func (e *Emitter) I64Const(v int64) *Emitter {
	e.buf.WriteByte(wasm.OpI64Const)
	wasm.WriteLEB128s64(&e.buf, v)
	return e
}

// Memory access

// I32Load emits an i32 load with the given alignment hint and offset.
func (e *Emitter) I32Load(align uint32, offset uint64) *Emitter {
	return e.memOp(wasm.OpI32Load, align, offset)
}

// I64Load emits an i64 load.
func (e *Emitter) I64Load(align uint32, offset uint64) *Emitter {
	return e.memOp(wasm.OpI64Load, align, offset)
}

// I32Store emits an i32 store.
func (e *Emitter) I32Store(align uint32, offset uint64) *Emitter {
	return e.memOp(wasm.OpI32Store, align, offset)
}

// I64Store emits an i64 store.
func (e *Emitter) I64Store(align uint32, offset uint64) *Emitter {
	return e.memOp(wasm.OpI64Store, align, offset)
}

// I32Store8 emits an 8-bit truncating store.
func (e *Emitter) I32Store8(align uint32, offset uint64) *Emitter {
	return e.memOp(wasm.OpI32Store8, align, offset)
}

// I32Store16 emits a 16-bit truncating store.
func (e *Emitter) I32Store16(align uint32, offset uint64) *Emitter {
	return e.memOp(wasm.OpI32Store16, align, offset)
}

func (e *Emitter) memOp(op byte, align uint32, offset uint64) *Emitter {
	e.buf.WriteByte(op)
	wasm.WriteLEB128u(&e.buf, align)
	wasm.WriteLEB128u64(&e.buf, offset)
	return e
}

// MemorySize pushes the current memory size in pages.
func (e *Emitter) MemorySize() *Emitter {
	e.buf.WriteByte(wasm.OpMemorySize)
	wasm.WriteLEB128u(&e.buf, 0)
	return e
}

// MemoryGrow grows memory by the popped page count.
func (e *Emitter) MemoryGrow() *Emitter {
	e.buf.WriteByte(wasm.OpMemoryGrow)
	wasm.WriteLEB128u(&e.buf, 0)
	return e
}

// Numeric

// I32Eqz tests the top of stack against zero.
func (e *Emitter) I32Eqz() *Emitter {
	e.buf.WriteByte(wasm.OpI32Eqz)
	return e
}

// I32Eq emits an i32 equality comparison.
func (e *Emitter) I32Eq() *Emitter {
	e.buf.WriteByte(wasm.OpI32Eq)
	return e
}

// I32Ne emits an i32 inequality comparison.
func (e *Emitter) I32Ne() *Emitter {
	e.buf.WriteByte(wasm.OpI32Ne)
	return e
}

// I32Add emits an i32 addition.
func (e *Emitter) I32Add() *Emitter {
	e.buf.WriteByte(wasm.OpI32Add)
	return e
}

// I32Sub emits an i32 subtraction.
func (e *Emitter) I32Sub() *Emitter {
	e.buf.WriteByte(wasm.OpI32Sub)
	return e
}

// I32Mul emits an i32 multiplication.
func (e *Emitter) I32Mul() *Emitter {
	e.buf.WriteByte(wasm.OpI32Mul)
	return e
}
