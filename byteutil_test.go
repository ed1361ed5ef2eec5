package grids

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder
	off := bb.Grow(3)
	copy(bb.Buf[off:], []byte{1, 2, 3})
	_ = bb.WriteByte(4)
	bb.AppendFixedUint64(0x0102030405060708)
	bb.AppendUvarint(0x42)
	bb.AppendVarBytes([]byte("xy"))

	want := []byte{1, 2, 3, 4}
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], 0x0102030405060708)
	want = append(want, u64[:]...)
	want = append(want, 0x42, 2, 'x', 'y')

	if !bytes.Equal(bb.Buf, want) {
		t.Fatalf("bb.Buf = %x, wanted %x", bb.Buf, want)
	}
}

func TestByteDecoder_RoundTrip(t *testing.T) {
	var bb bytesBuilder
	_ = bb.WriteByte(7)
	bb.AppendUvarint(300)
	bb.AppendVarBytes([]byte("hello"))
	bb.AppendFixedUint64(99)

	d := makeByteDecoder(bb.Buf)
	if b, err := d.Byte(); err != nil || b != 7 {
		t.Fatalf("Byte = %v, %v, wanted 7", b, err)
	}
	if v, err := d.Uvarinti(); err != nil || v != 300 {
		t.Fatalf("Uvarinti = %v, %v, wanted 300", v, err)
	}
	if v, err := d.VarBytes(); err != nil || string(v) != "hello" {
		t.Fatalf("VarBytes = %q, %v, wanted hello", v, err)
	}
	if v, err := d.FixedUint64(); err != nil || v != 99 {
		t.Fatalf("FixedUint64 = %v, %v, wanted 99", v, err)
	}
	if d.Off() != len(bb.Buf) {
		t.Fatalf("Off = %d, wanted %d", d.Off(), len(bb.Buf))
	}
}

func TestByteDecoder_Errors(t *testing.T) {
	d := makeByteDecoder(nil)
	if _, err := d.Byte(); err == nil {
		t.Fatalf("Byte on empty data succeeded")
	}

	d = makeByteDecoder([]byte{0x80})
	if _, err := d.Uvarint(); err == nil {
		t.Fatalf("Uvarint on truncated data succeeded")
	}

	d = makeByteDecoder([]byte{5, 'a'})
	_, err := d.VarBytes()
	var de *DataError
	if !errors.As(err, &de) {
		t.Fatalf("VarBytes err = %v, wanted *DataError", err)
	}
	if de.Off != 1 {
		t.Fatalf("DataError.Off = %d, wanted 1", de.Off)
	}
}
