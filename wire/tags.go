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

// TLV tags, per spec §6.3.
const (
	TagLegacyReply         uint64 = 128 // deprecated; neither produced nor accepted by DecodeEnvelope
	TagNotificationReply   uint64 = 134
	TagType                uint64 = 137
	TagNotificationList    uint64 = 130
	TagEventEntry          uint64 = 132
	TagTimestamp           uint64 = 133
	TagDataList            uint64 = 136
	TagDataEntry           uint64 = 135
	TagIBFEntry            uint64 = 143 // collides with TagIBFTable below; disambiguated by context (§6.3 note)
	TagIBFCount            uint64 = 138
	TagIBFKeySum           uint64 = 139
	TagIBFKeyCheck         uint64 = 140
	TagIBFValueSum         uint64 = 141
	TagIBFIndex            uint64 = 142
	TagIBFTable            uint64 = 143
	TagListEntry           uint64 = 144
	TagListTable           uint64 = 145

	// TagName and TagNameComponent are not enumerated in §6.3 because
	// they are inherited from the standard NDN packet format (the
	// original source embeds ndn::Name blocks directly, see
	// notificationData.hpp); we assign them the same values NDN uses.
	TagName          uint64 = 7
	TagNameComponent uint64 = 8

	// TagOpaqueContent frames the opaque payload inside a DataEntry
	// (tag 135) of a DataContainer envelope. Unused by anything the
	// engine produces; kept so Encode and DecodeEnvelope can round-trip
	// a DataContainer in tests.
	TagOpaqueContent uint64 = 131
)

// EnvelopeType distinguishes the two NotificationDataReply payload
// shapes described by §6.3 and §9 (modeled as a tagged variant rather
// than a class with dual members).
type EnvelopeType uint64

const (
	// EnvelopeDataContainer carries opaque per-timestamp blobs,
	// reserved for the legacy (tag 128) reply shape.
	EnvelopeDataContainer EnvelopeType = 1
	// EnvelopeEventsContainer carries per-timestamp EventName lists,
	// the shape produced by send_diff (§4.5.4).
	EnvelopeEventsContainer EnvelopeType = 2
)
