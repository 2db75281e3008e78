package slot

import (
	"encoding/binary"
	"fmt"
)

// Object layout inside a block: key size, value size, Meta, key, value.
const (
	HeaderSize = 8 + MetaSize
	// MetaOffset is where Meta starts relative to the block address.
	MetaOffset = 8
)

// Header precedes the key and value of every stored object.
type Header struct {
	KeySize uint32
	ValSize uint32
	Meta    Meta
}

// ObjectSize is the number of bytes the object occupies in its block.
// It is computed in 64 bits so corrupt sizes cannot wrap.
func (h *Header) ObjectSize() uint64 {
	return HeaderSize + uint64(h.KeySize) + uint64(h.ValSize)
}

// EncodeObject lays out header, key and value into one buffer.
func EncodeObject(meta Meta, key string, value []byte) []byte {
	b := make([]byte, HeaderSize+len(key)+len(value))
	binary.LittleEndian.PutUint32(b[0:], uint32(len(key)))
	binary.LittleEndian.PutUint32(b[4:], uint32(len(value)))
	meta.put(b[MetaOffset:])
	copy(b[HeaderSize:], key)
	copy(b[HeaderSize+len(key):], value)
	return b
}

// DecodeHeader parses the fixed-size object header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("slot: short header: %d bytes", len(b))
	}
	var h Header
	h.KeySize = binary.LittleEndian.Uint32(b[0:])
	h.ValSize = binary.LittleEndian.Uint32(b[4:])
	if err := h.Meta.UnmarshalBinary(b[MetaOffset:HeaderSize]); err != nil {
		return Header{}, err
	}
	return h, nil
}

// DecodeObject splits a full object read into header, key and value.
func DecodeObject(b []byte) (Header, string, []byte, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Header{}, "", nil, err
	}
	size := h.ObjectSize()
	if uint64(len(b)) < size {
		return Header{}, "", nil, fmt.Errorf("slot: truncated object: have %d, want %d", len(b), size)
	}
	keyEnd := HeaderSize + uint64(h.KeySize)
	key := string(b[HeaderSize:keyEnd])
	val := make([]byte, h.ValSize)
	copy(val, b[keyEnd:size])
	return h, key, val, nil
}
