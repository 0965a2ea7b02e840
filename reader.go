// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package curlyvm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrTruncated is returned when a read runs past the end of the class
// file bytes.
var ErrTruncated = errors.New("class file truncated")

// classReader reads big-endian quantities out of the raw bytes of a
// class file. The position only ever moves forward; the first short
// read latches an error and turns every subsequent read into a no-op
// returning zero values.
type classReader struct {
	data []byte
	pos  int
	err  error
}

func (r *classReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrTruncated, n, r.pos, len(r.data)-r.pos)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *classReader) u1() uint8 {
	b := r.bytes(1)
	if r.err != nil {
		return 0
	}
	return b[0]
}

func (r *classReader) u2() uint16 {
	b := r.bytes(2)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *classReader) u4() uint32 {
	b := r.bytes(4)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *classReader) u8() uint64 {
	b := r.bytes(8)
	if r.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// utf8 reads a u2 length prefix followed by that many bytes of UTF-8.
func (r *classReader) utf8() string {
	size := r.u2()
	b := r.bytes(int(size))
	if r.err != nil {
		return ""
	}
	return string(b)
}
