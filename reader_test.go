// Copyright 2022 CurlyVM. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package curlyvm

import (
	"errors"
	"testing"
)

func TestReaderBigEndian(t *testing.T) {
	r := &classReader{data: []byte{
		0x01,
		0x02, 0x03,
		0x04, 0x05, 0x06, 0x07,
		0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F,
	}}

	if got := r.u1(); got != 0x01 {
		t.Errorf("u1 got 0x%02X, want 0x01", got)
	}
	if got := r.u2(); got != 0x0203 {
		t.Errorf("u2 got 0x%04X, want 0x0203", got)
	}
	if got := r.u4(); got != 0x04050607 {
		t.Errorf("u4 got 0x%08X, want 0x04050607", got)
	}
	if got := r.u8(); got != 0x08090A0B0C0D0E0F {
		t.Errorf("u8 got 0x%X, want 0x08090A0B0C0D0E0F", got)
	}
	if r.err != nil {
		t.Errorf("reader latched error on well-formed input: %v", r.err)
	}
	if r.pos != len(r.data) {
		t.Errorf("position got %d, want %d", r.pos, len(r.data))
	}
}

func TestReaderUtf8(t *testing.T) {
	r := &classReader{data: []byte{0x00, 0x05, 'H', 'e', 'l', 'l', 'o', 0xFF}}

	if got := r.utf8(); got != "Hello" {
		t.Errorf("utf8 got %q, want %q", got, "Hello")
	}
	if r.pos != 7 {
		t.Errorf("position got %d, want 7", r.pos)
	}
}

func TestReaderShortReadIsFatal(t *testing.T) {
	tests := []struct {
		name string
		read func(r *classReader)
	}{
		{"u2", func(r *classReader) { r.u2() }},
		{"u4", func(r *classReader) { r.u4() }},
		{"u8", func(r *classReader) { r.u8() }},
		{"utf8", func(r *classReader) { r.utf8() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &classReader{data: []byte{0x00}}
			tt.read(r)
			if !errors.Is(r.err, ErrTruncated) {
				t.Errorf("got error %v, want ErrTruncated", r.err)
			}
		})
	}
}

func TestReaderErrorLatches(t *testing.T) {
	r := &classReader{data: []byte{0xAB}}
	r.u4()
	if !errors.Is(r.err, ErrTruncated) {
		t.Fatalf("got error %v, want ErrTruncated", r.err)
	}

	// Once latched, subsequent reads return zero values and do not move.
	if got := r.u1(); got != 0 {
		t.Errorf("u1 after error got 0x%02X, want 0", got)
	}
	if r.pos != 0 {
		t.Errorf("position moved to %d after error", r.pos)
	}
}
