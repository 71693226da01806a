// Copyright 2024 The ndnsync Authors
// This file is part of the ndnsync library.
//
// The ndnsync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ndnsync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ndnsync library. If not, see <http://www.gnu.org/licenses/>.

// Package wire implements the TLV encoding used on the wire: the
// sketch/list state component appended to request and reply names, and
// the data reply envelope carried in response payloads. The framing
// follows the NDN TLV VAR-NUMBER convention (1/3/5/9-byte type and
// length fields) described by the original source's use of
// ndn-cxx/encoding/tlv.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrDecodeFailed is returned for any malformed TLV input: truncated
// VAR-NUMBER, length overrunning the buffer, or an unexpected tag where
// one was required. Per spec §7 it is always recovered locally by the
// caller, never fatal.
var ErrDecodeFailed = errors.New("wire: decode failed")

// Block is one decoded TLV element: a tag and its raw value bytes.
// Nested TLV content (e.g. an IBFEntry inside an IBFTable) is decoded
// by recursively parsing Value.
type Block struct {
	Type  uint64
	Value []byte
}

// appendVarNumber appends n encoded as an NDN VAR-NUMBER.
func appendVarNumber(buf *bytes.Buffer, n uint64) {
	switch {
	case n < 253:
		buf.WriteByte(byte(n))
	case n <= 0xFFFF:
		buf.WriteByte(253)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		buf.Write(b[:])
	case n <= 0xFFFFFFFF:
		buf.WriteByte(254)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		buf.Write(b[:])
	default:
		buf.WriteByte(255)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], n)
		buf.Write(b[:])
	}
}

// readVarNumber reads an NDN VAR-NUMBER from the front of buf, returning
// the value and the number of consumed bytes.
func readVarNumber(buf []byte) (uint64, int, error) {
	if len(buf) == 0 {
		return 0, 0, fmt.Errorf("%w: empty buffer", ErrDecodeFailed)
	}
	first := buf[0]
	switch {
	case first < 253:
		return uint64(first), 1, nil
	case first == 253:
		if len(buf) < 3 {
			return 0, 0, fmt.Errorf("%w: truncated 2-byte var-number", ErrDecodeFailed)
		}
		return uint64(binary.BigEndian.Uint16(buf[1:3])), 3, nil
	case first == 254:
		if len(buf) < 5 {
			return 0, 0, fmt.Errorf("%w: truncated 4-byte var-number", ErrDecodeFailed)
		}
		return uint64(binary.BigEndian.Uint32(buf[1:5])), 5, nil
	default:
		if len(buf) < 9 {
			return 0, 0, fmt.Errorf("%w: truncated 8-byte var-number", ErrDecodeFailed)
		}
		return binary.BigEndian.Uint64(buf[1:9]), 9, nil
	}
}

// EncodeBlock appends a TLV-framed element with the given tag and value
// to buf.
func EncodeBlock(buf *bytes.Buffer, tag uint64, value []byte) {
	appendVarNumber(buf, tag)
	appendVarNumber(buf, uint64(len(value)))
	buf.Write(value)
}

// EncodeNested builds the value of a TLV element out of already-encoded
// child blocks and wraps it with tag.
func EncodeNested(tag uint64, children ...[]byte) []byte {
	var buf bytes.Buffer
	for _, c := range children {
		buf.Write(c)
	}
	var out bytes.Buffer
	EncodeBlock(&out, tag, buf.Bytes())
	return out.Bytes()
}

// EncodeUint encodes n as a non-negative integer TLV value (big-endian,
// minimal width), used for the Timestamp, ListEntry and IBF index,
// keySum and keyCheck fields of §6.3. The IBF count field is a string
// (see EncodeIBFTable), not an EncodeUint value.
func EncodeUint(tag uint64, n uint64) []byte {
	var v []byte
	switch {
	case n == 0:
		v = nil
	case n <= 0xFF:
		v = []byte{byte(n)}
	case n <= 0xFFFF:
		v = make([]byte, 2)
		binary.BigEndian.PutUint16(v, uint16(n))
	case n <= 0xFFFFFFFF:
		v = make([]byte, 4)
		binary.BigEndian.PutUint32(v, uint32(n))
	default:
		v = make([]byte, 8)
		binary.BigEndian.PutUint64(v, n)
	}
	var out bytes.Buffer
	EncodeBlock(&out, tag, v)
	return out.Bytes()
}

// DecodeUint decodes a value produced by EncodeUint.
func DecodeUint(v []byte) uint64 {
	var padded [8]byte
	copy(padded[8-len(v):], v)
	return binary.BigEndian.Uint64(padded[:])
}

// ParseAll decodes every top-level TLV element in buf in order. It fails
// closed: any malformed element aborts the whole parse.
func ParseAll(buf []byte) ([]Block, error) {
	var blocks []Block
	for len(buf) > 0 {
		tag, n, err := readVarNumber(buf)
		if err != nil {
			return nil, err
		}
		buf = buf[n:]
		length, n, err := readVarNumber(buf)
		if err != nil {
			return nil, err
		}
		buf = buf[n:]
		if uint64(len(buf)) < length {
			return nil, fmt.Errorf("%w: tag %d length %d exceeds remaining %d bytes", ErrDecodeFailed, tag, length, len(buf))
		}
		blocks = append(blocks, Block{Type: tag, Value: buf[:length]})
		buf = buf[length:]
	}
	return blocks, nil
}

// ParseOne decodes exactly one TLV element from buf and confirms there
// is no trailing garbage.
func ParseOne(buf []byte) (Block, error) {
	blocks, err := ParseAll(buf)
	if err != nil {
		return Block{}, err
	}
	if len(blocks) != 1 {
		return Block{}, fmt.Errorf("%w: expected exactly one top-level element, got %d", ErrDecodeFailed, len(blocks))
	}
	return blocks[0], nil
}

// Find returns the first block with the given tag, if any.
func Find(blocks []Block, tag uint64) (Block, bool) {
	for _, b := range blocks {
		if b.Type == tag {
			return b, true
		}
	}
	return Block{}, false
}

// FindAll returns every block with the given tag, preserving order.
func FindAll(blocks []Block, tag uint64) []Block {
	var out []Block
	for _, b := range blocks {
		if b.Type == tag {
			out = append(out, b)
		}
	}
	return out
}
