package strikes

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const recordVersionV1 = 1

var errRecordCorrupt = errors.New("strike record corrupt")

// record is the durable per-identity row: {strikeCount, blockUntil,
// updatedAt}, all unix seconds, blockUntil zero when no block is active.
type record struct {
	Count      int64
	BlockUntil int64
	UpdatedAt  int64
}

func encodeRecord(r record) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 1+3*8))
	buf.WriteByte(recordVersionV1)
	_ = binary.Write(buf, binary.BigEndian, r.Count)
	_ = binary.Write(buf, binary.BigEndian, r.BlockUntil)
	_ = binary.Write(buf, binary.BigEndian, r.UpdatedAt)
	return buf.Bytes()
}

func decodeRecord(data []byte) (record, error) {
	if len(data) != 1+3*8 || data[0] != recordVersionV1 {
		return record{}, errRecordCorrupt
	}

	var r record
	buf := bytes.NewReader(data[1:])
	if err := binary.Read(buf, binary.BigEndian, &r.Count); err != nil {
		return record{}, errRecordCorrupt
	}
	if err := binary.Read(buf, binary.BigEndian, &r.BlockUntil); err != nil {
		return record{}, errRecordCorrupt
	}
	if err := binary.Read(buf, binary.BigEndian, &r.UpdatedAt); err != nil {
		return record{}, errRecordCorrupt
	}
	return r, nil
}
