package binary

import "encoding/binary"

// Writer accumulates WASM binary primitives in an append-only buffer.
type Writer struct {
	buf []byte
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Reset truncates the buffer so the Writer can be reused.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

// Byte writes a single byte.
func (w *Writer) Byte(b byte) {
	w.buf = append(w.buf, b)
}

// WriteBytes writes a byte slice.
func (w *Writer) WriteBytes(data []byte) {
	w.buf = append(w.buf, data...)
}

// WriteU32 writes an unsigned LEB128 encoded uint32.
func (w *Writer) WriteU32(v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf = append(w.buf, b)
		if v == 0 {
			return
		}
	}
}

// WriteU64 writes an unsigned LEB128 encoded uint64.
func (w *Writer) WriteU64(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf = append(w.buf, b)
		if v == 0 {
			return
		}
	}
}

// WriteS64 writes a signed LEB128 encoded int64. The same encoding
// serves s32 and s33 values widened to int64.
func (w *Writer) WriteS64(v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.buf = append(w.buf, b)
			return
		}
		w.buf = append(w.buf, b|0x80)
	}
}

// WriteS32 writes a signed LEB128 encoded int32.
func (w *Writer) WriteS32(v int32) {
	w.WriteS64(int64(v))
}

// WriteName writes a UTF-8 encoded name (length-prefixed).
func (w *Writer) WriteName(s string) {
	w.WriteU32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// WriteU32LE writes a little-endian uint32 (fixed 4 bytes).
func (w *Writer) WriteU32LE(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}
