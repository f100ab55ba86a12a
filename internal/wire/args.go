// File: internal/wire/args.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package wire

import (
	"encoding/binary"

	"github.com/momentics/hioload-wl/api"
)

// ArgWriter encodes message arguments.
type ArgWriter struct {
	buf []byte
}

// Uint32 appends an unsigned integer, object id or new_id argument.
func (w *ArgWriter) Uint32(v uint32) *ArgWriter {
	w.buf = binary.NativeEndian.AppendUint32(w.buf, v)
	return w
}

// Int32 appends a signed integer argument.
func (w *ArgWriter) Int32(v int32) *ArgWriter {
	return w.Uint32(uint32(v))
}

// String appends a NUL-terminated string padded to 4 bytes.
func (w *ArgWriter) String(s string) *ArgWriter {
	n := len(s) + 1
	w.Uint32(uint32(n))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
	for pad := padding(n); pad > 0; pad-- {
		w.buf = append(w.buf, 0)
	}
	return w
}

// Bytes returns the encoded arguments.
func (w *ArgWriter) Bytes() []byte { return w.buf }

// ArgReader decodes message arguments in order.
type ArgReader struct {
	buf []byte
	off int
}

// NewArgReader reads from args.
func NewArgReader(args []byte) *ArgReader {
	return &ArgReader{buf: args}
}

// Uint32 reads an unsigned integer argument.
func (r *ArgReader) Uint32() (uint32, error) {
	if len(r.buf)-r.off < 4 {
		return 0, api.DecodeFailure("argument truncated at offset %d", r.off)
	}
	v := binary.NativeEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

// Int32 reads a signed integer argument.
func (r *ArgReader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

// String reads a string argument. A zero length denotes a null string.
func (r *ArgReader) String() (string, error) {
	n, err := r.Uint32()
	if err != nil || n == 0 {
		return "", err
	}
	size := int(n) + padding(int(n))
	if len(r.buf)-r.off < size {
		return "", api.DecodeFailure("string of %d bytes truncated", n)
	}
	raw := r.buf[r.off : r.off+int(n)]
	if raw[n-1] != 0 {
		return "", api.DecodeFailure("string not NUL-terminated")
	}
	r.off += size
	return string(raw[:n-1]), nil
}

// Remaining returns the number of unread argument bytes.
func (r *ArgReader) Remaining() int { return len(r.buf) - r.off }

func padding(n int) int {
	return (4 - n%4) % 4
}
