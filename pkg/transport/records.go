package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/odvcencio/vcscore/pkg/object"
)

// batchSize is the number of objects carried by one data frame.
const batchSize = 256

// record is one object on the wire.
type record struct {
	ID   object.ID
	Type object.Type
	Data []byte
}

// codec compresses record batches into data frame payloads.
// Batch layout before compression, repeated per record:
// [1 byte type][1 byte id length][id][uvarint data length][data]
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

func (c *codec) encode(recs []record) []byte {
	var raw []byte
	for _, r := range recs {
		id := r.ID.Bytes()
		raw = append(raw, byte(r.Type), byte(len(id)))
		raw = append(raw, id...)
		raw = binary.AppendUvarint(raw, uint64(len(r.Data)))
		raw = append(raw, r.Data...)
	}
	return c.enc.EncodeAll(raw, nil)
}

var errCorruptBatch = errors.New("corrupt object batch")

func (c *codec) decode(payload []byte) ([]record, error) {
	raw, err := c.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress batch: %w", err)
	}
	var out []record
	for len(raw) > 0 {
		if len(raw) < 2 {
			return nil, errCorruptBatch
		}
		typ, idLen := object.Type(raw[0]), int(raw[1])
		raw = raw[2:]
		if len(raw) < idLen {
			return nil, errCorruptBatch
		}
		id, err := object.NewID(raw[:idLen])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errCorruptBatch, err)
		}
		raw = raw[idLen:]
		n, sz := binary.Uvarint(raw)
		if sz <= 0 || uint64(len(raw)-sz) < n {
			return nil, errCorruptBatch
		}
		raw = raw[sz:]
		data := raw[:n:n]
		raw = raw[n:]
		out = append(out, record{ID: id, Type: typ, Data: data})
	}
	return out, nil
}

// writeVerified stores r after checking that its content hashes to its ID.
// It returns 1 when the object was not present before.
func writeVerified(store *object.Store, r record) (int, error) {
	if _, err := object.ParseType(r.Type.String()); err != nil {
		return 0, fmt.Errorf("object %s: %w", r.ID, err)
	}
	if computed := store.Hash(r.Type, r.Data); computed != r.ID {
		return 0, fmt.Errorf("object hash mismatch: expected %s, got %s", r.ID, computed)
	}
	if store.Exists(r.ID) {
		return 0, nil
	}
	if _, err := store.Write(r.Type, r.Data); err != nil {
		return 0, err
	}
	return 1, nil
}
