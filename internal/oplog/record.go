package oplog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"time"
)

// Record encoding: uvarint headerLen | header | payload | crc32c(header|payload)
// header:  kind(1) | timestamp_ms_be8
// payload: JSON body of the entry's kind-specific fields

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const headerLen = 9

// ErrCorruptRecord is returned when a stored record fails its checksum.
var ErrCorruptRecord = errors.New("corrupt oplog record")

// EncodeEntry serializes e for storage.
func EncodeEntry(e Entry) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s entry: %w", e.Kind, err)
	}
	var header [headerLen]byte
	header[0] = byte(e.Kind)
	binary.BigEndian.PutUint64(header[1:], uint64(e.Timestamp.UnixMilli()))
	return encodeRecord(header[:], payload), nil
}

// DecodeEntry is the inverse of EncodeEntry.
func DecodeEntry(b []byte) (Entry, error) {
	header, payload, ok := decodeRecord(b)
	if !ok || len(header) != headerLen {
		return Entry{}, ErrCorruptRecord
	}
	var e Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	e.Kind = Kind(header[0])
	e.Timestamp = time.UnixMilli(int64(binary.BigEndian.Uint64(header[1:]))).UTC()
	return e, nil
}

// entryTimestampMs reads the timestamp from an encoded record without
// decoding the payload.
func entryTimestampMs(b []byte) (int64, bool) {
	header, _, ok := decodeRecord(b)
	if !ok || len(header) != headerLen {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(header[1:])), true
}

func encodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(payload)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc)
}

func decodeRecord(b []byte) (header, payload []byte, ok bool) {
	if len(b) < 1+4 {
		return nil, nil, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || int(n)+int(hlen)+4 > len(b) {
		return nil, nil, false
	}
	header = b[n : n+int(hlen)]
	payload = b[n+int(hlen) : len(b)-4]
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return nil, nil, false
	}
	return header, payload, true
}
