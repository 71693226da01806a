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

package wire

import (
	"bytes"
	"fmt"
	"sort"
)

// DataEnvelope is the reply payload described by §6.3. It models
// NotificationData as a tagged sum type (§9 design note) rather than a
// class with both members simultaneously present: exactly one of
// Events or Data is meaningful, selected by Type.
type DataEnvelope struct {
	Type EnvelopeType
	// Events holds the EventsContainer payload: per-timestamp ordered
	// event name lists, as produced by send_diff (§4.5.4).
	Events map[Timestamp][]Name
	// Data holds the legacy DataContainer payload: per-timestamp opaque
	// blobs. Encode and DecodeEnvelope both handle it, but the engine
	// never sends one.
	Data map[Timestamp][]byte
}

// NewEventsEnvelope builds an EventsContainer envelope.
func NewEventsEnvelope(events map[Timestamp][]Name) DataEnvelope {
	return DataEnvelope{Type: EnvelopeEventsContainer, Events: events}
}

func encodeName(n Name) []byte {
	children := make([][]byte, len(n))
	for i, c := range n {
		children[i] = EncodeBlock2(TagNameComponent, c)
	}
	return EncodeNested(TagName, children...)
}

// EncodeBlock2 is a convenience wrapper returning an encoded block as a
// standalone byte slice (EncodeBlock writes into a caller-owned buffer;
// this variant is for callers assembling a slice of nested children).
func EncodeBlock2(tag uint64, value []byte) []byte {
	var buf bytes.Buffer
	EncodeBlock(&buf, tag, value)
	return buf.Bytes()
}

func decodeName(b Block) (Name, error) {
	if b.Type != TagName {
		return nil, fmt.Errorf("%w: expected Name tag %d, got %d", ErrDecodeFailed, TagName, b.Type)
	}
	blocks, err := ParseAll(b.Value)
	if err != nil {
		return nil, err
	}
	n := make(Name, 0, len(blocks))
	for _, cb := range blocks {
		if cb.Type != TagNameComponent {
			continue
		}
		n = append(n, Component(cb.Value))
	}
	return n, nil
}

// sortedTimestamps returns the envelope's timestamp keys in ascending
// order, for deterministic encoding.
func sortedTimestamps[V any](m map[Timestamp]V) []Timestamp {
	out := make([]Timestamp, 0, len(m))
	for ts := range m {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Encode produces the NotificationDataReply TLV block of §6.3: exactly
// one Type followed by the matching container block.
func (e DataEnvelope) Encode() []byte {
	typeBlock := EncodeUint(TagType, uint64(e.Type))

	var container []byte
	switch e.Type {
	case EnvelopeEventsContainer:
		entries := make([][]byte, 0, len(e.Events))
		for _, ts := range sortedTimestamps(e.Events) {
			children := [][]byte{EncodeUint(TagTimestamp, uint64(ts))}
			for _, name := range e.Events[ts] {
				children = append(children, encodeName(name))
			}
			entries = append(entries, EncodeNested(TagEventEntry, children...))
		}
		container = EncodeNested(TagNotificationList, entries...)
	case EnvelopeDataContainer:
		entries := make([][]byte, 0, len(e.Data))
		for _, ts := range sortedTimestamps(e.Data) {
			children := [][]byte{
				EncodeUint(TagTimestamp, uint64(ts)),
				EncodeBlock2(TagOpaqueContent, e.Data[ts]),
			}
			entries = append(entries, EncodeNested(TagDataEntry, children...))
		}
		container = EncodeNested(TagDataList, entries...)
	}

	return EncodeNested(TagNotificationReply, typeBlock, container)
}

// DecodeEnvelope decodes a NotificationDataReply produced by Encode.
func DecodeEnvelope(buf []byte) (DataEnvelope, error) {
	top, err := ParseOne(buf)
	if err != nil {
		return DataEnvelope{}, err
	}
	if top.Type != TagNotificationReply {
		return DataEnvelope{}, fmt.Errorf("%w: expected NotificationDataReply tag %d, got %d", ErrDecodeFailed, TagNotificationReply, top.Type)
	}
	children, err := ParseAll(top.Value)
	if err != nil {
		return DataEnvelope{}, err
	}
	typeBlock, ok := Find(children, TagType)
	if !ok {
		return DataEnvelope{}, fmt.Errorf("%w: missing Type field", ErrDecodeFailed)
	}
	env := DataEnvelope{Type: EnvelopeType(DecodeUint(typeBlock.Value))}

	switch env.Type {
	case EnvelopeEventsContainer:
		listBlock, ok := Find(children, TagNotificationList)
		if !ok {
			return DataEnvelope{}, fmt.Errorf("%w: missing NotificationList", ErrDecodeFailed)
		}
		entries, err := ParseAll(listBlock.Value)
		if err != nil {
			return DataEnvelope{}, err
		}
		env.Events = make(map[Timestamp][]Name)
		for _, entry := range FindAllMatching(entries, TagEventEntry) {
			fields, err := ParseAll(entry.Value)
			if err != nil {
				return DataEnvelope{}, err
			}
			var ts Timestamp
			var names []Name
			for _, f := range fields {
				switch f.Type {
				case TagTimestamp:
					ts = Timestamp(DecodeUint(f.Value))
				case TagName:
					name, err := decodeName(f)
					if err != nil {
						return DataEnvelope{}, err
					}
					names = append(names, name)
				}
			}
			env.Events[ts] = names
		}
	case EnvelopeDataContainer:
		listBlock, ok := Find(children, TagDataList)
		if !ok {
			return DataEnvelope{}, fmt.Errorf("%w: missing DataList", ErrDecodeFailed)
		}
		entries, err := ParseAll(listBlock.Value)
		if err != nil {
			return DataEnvelope{}, err
		}
		env.Data = make(map[Timestamp][]byte)
		for _, entry := range FindAllMatching(entries, TagDataEntry) {
			fields, err := ParseAll(entry.Value)
			if err != nil {
				return DataEnvelope{}, err
			}
			var ts Timestamp
			var payload []byte
			for _, f := range fields {
				switch f.Type {
				case TagTimestamp:
					ts = Timestamp(DecodeUint(f.Value))
				case TagOpaqueContent:
					payload = f.Value
				}
			}
			env.Data[ts] = payload
		}
	default:
		return DataEnvelope{}, fmt.Errorf("%w: unknown envelope type %d", ErrDecodeFailed, env.Type)
	}
	return env, nil
}

// FindAllMatching is an alias of FindAll kept distinct from the
// single-result Find to read naturally at call sites with repeated
// entries (EventEntry, DataEntry).
func FindAllMatching(blocks []Block, tag uint64) []Block {
	return FindAll(blocks, tag)
}

// Equal reports structural equality on Type and the matching container,
// used by the round-trip law of spec §8 ("decode(encode(envelope)) =
// envelope").
func (e DataEnvelope) Equal(o DataEnvelope) bool {
	if e.Type != o.Type {
		return false
	}
	switch e.Type {
	case EnvelopeEventsContainer:
		if len(e.Events) != len(o.Events) {
			return false
		}
		for ts, names := range e.Events {
			oNames, ok := o.Events[ts]
			if !ok || len(names) != len(oNames) {
				return false
			}
			for i := range names {
				if !names[i].Equal(oNames[i]) {
					return false
				}
			}
		}
		return true
	case EnvelopeDataContainer:
		if len(e.Data) != len(o.Data) {
			return false
		}
		for ts, v := range e.Data {
			if ov, ok := o.Data[ts]; !ok || !bytes.Equal(v, ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
