package grids

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Swap record layout:
//
//	record = version:uvarint kind:byte nrows:uvarint ncols:uvarint payload:varbytes checksum:64
//
// The checksum is xxhash64 over everything before it. The payload format is
// owned by the representation (raw records for dense chunks, msgpack for the
// map-based ones, empty for representations that mirror themselves).
const (
	swapRecordVer1      = 1
	swapRecordVerLatest = swapRecordVer1
)

type swapRecord struct {
	Kind    Kind
	NRows   int32
	NCols   int32
	Payload []byte
}

func encodeSwapRecord(buf []byte, rec swapRecord) []byte {
	bb := bytesBuilder{buf[:0]}
	bb.AppendUvarint(swapRecordVerLatest)
	_ = bb.WriteByte(byte(rec.Kind))
	bb.AppendUvarint(uint64(rec.NRows))
	bb.AppendUvarint(uint64(rec.NCols))
	bb.AppendVarBytes(rec.Payload)
	bb.AppendFixedUint64(xxhash.Sum64(bb.Buf))
	return bb.Buf
}

func decodeSwapRecord(data []byte) (swapRecord, error) {
	var rec swapRecord
	if len(data) < 8 {
		return rec, dataErrf(data, 0, nil, "swap record too short")
	}
	body := data[:len(data)-8]
	d := makeByteDecoder(data)

	ver, err := d.Uvarint()
	if err != nil {
		return rec, err
	}
	if ver != swapRecordVer1 {
		return rec, dataErrf(data, 0, nil, "unsupported swap record version %d", ver)
	}
	k, err := d.Byte()
	if err != nil {
		return rec, err
	}
	rec.Kind = Kind(k)
	nrows, err := d.Uvarint()
	if err != nil {
		return rec, err
	}
	ncols, err := d.Uvarint()
	if err != nil {
		return rec, err
	}
	rec.NRows, rec.NCols = int32(nrows), int32(ncols)
	rec.Payload, err = d.VarBytes()
	if err != nil {
		return rec, err
	}
	if d.Off() != len(body) {
		return rec, dataErrf(data, d.Off(), nil, "trailing data in swap record")
	}
	sum, err := d.FixedUint64()
	if err != nil {
		return rec, err
	}
	if actual := xxhash.Sum64(body); actual != sum {
		return rec, dataErrf(data, len(body), nil, "swap record checksum mismatch: stored %016x, actual %016x", sum, actual)
	}
	return rec, nil
}

func msgpackEncode(v any) ([]byte, error) {
	var bb bytesBuilder
	enc := msgpack.GetEncoder()
	enc.Reset(&bb)
	enc.SetSortMapKeys(true)
	err := enc.Encode(v)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return bb.Buf, nil
}

func msgpackDecode(buf []byte, ptr any) error {
	var r bytes.Reader
	r.Reset(buf)
	dec := msgpack.GetDecoder()
	dec.Reset(&r)
	err := dec.Decode(ptr)
	msgpack.PutDecoder(dec)
	if err != nil {
		return dataErrf(buf, 0, err, "failed to decode msgpack into %T", ptr)
	}
	return nil
}
