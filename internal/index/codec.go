package index

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// The serialized form is protobuf wire format written field by field.
// Field numbers are stable; the version field guards layout changes.
const (
	fieldVersion         = 1
	fieldTimescale       = 2
	fieldDuration        = 3
	fieldFrameWidth      = 4
	fieldFrameHeight     = 5
	fieldFormat          = 6
	fieldSampleOffsets   = 7
	fieldSampleSizes     = 8
	fieldKeyframeIndices = 9
	fieldMetadataBytes   = 10
)

// codecVersion is the current serialization layout version.
const codecVersion = 1

// Serialize encodes the index into its stable binary form.
func (v *VideoIndex) Serialize() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, codecVersion)
	b = protowire.AppendTag(b, fieldTimescale, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.timescale))
	b = protowire.AppendTag(b, fieldDuration, protowire.VarintType)
	b = protowire.AppendVarint(b, v.duration)
	b = protowire.AppendTag(b, fieldFrameWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.frameWidth))
	b = protowire.AppendTag(b, fieldFrameHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v.frameHeight))
	b = protowire.AppendTag(b, fieldFormat, protowire.BytesType)
	b = protowire.AppendString(b, v.format)
	b = appendPackedUint64(b, fieldSampleOffsets, v.sampleOffsets)
	b = appendPackedUint64(b, fieldSampleSizes, v.sampleSizes)
	b = appendPackedUint64(b, fieldKeyframeIndices, v.keyframeIndices)
	b = protowire.AppendTag(b, fieldMetadataBytes, protowire.BytesType)
	b = protowire.AppendBytes(b, v.metadataBytes)
	return b
}

// Deserialize decodes an index previously produced by Serialize.
func Deserialize(data []byte) (*VideoIndex, error) {
	v := &VideoIndex{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("index: malformed tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType:
			val, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("index: malformed varint for field %d", num)
			}
			data = data[n:]
			switch num {
			case fieldVersion:
				if val != codecVersion {
					return nil, fmt.Errorf("index: unsupported serialization version %d", val)
				}
			case fieldTimescale:
				v.timescale = uint32(val)
			case fieldDuration:
				v.duration = val
			case fieldFrameWidth:
				v.frameWidth = uint32(val)
			case fieldFrameHeight:
				v.frameHeight = uint32(val)
			case fieldSampleOffsets:
				v.sampleOffsets = append(v.sampleOffsets, val)
			case fieldSampleSizes:
				v.sampleSizes = append(v.sampleSizes, val)
			case fieldKeyframeIndices:
				v.keyframeIndices = append(v.keyframeIndices, val)
			}
		case typ == protowire.BytesType:
			val, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("index: malformed bytes for field %d", num)
			}
			data = data[n:]
			switch num {
			case fieldFormat:
				v.format = string(val)
			case fieldMetadataBytes:
				v.metadataBytes = append([]byte(nil), val...)
			case fieldSampleOffsets:
				v.sampleOffsets = consumePackedUint64(v.sampleOffsets, val)
			case fieldSampleSizes:
				v.sampleSizes = consumePackedUint64(v.sampleSizes, val)
			case fieldKeyframeIndices:
				v.keyframeIndices = consumePackedUint64(v.keyframeIndices, val)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("index: malformed field %d", num)
			}
			data = data[n:]
		}
	}
	if len(v.sampleOffsets) != len(v.sampleSizes) {
		return nil, fmt.Errorf("index: %d sample offsets but %d sizes",
			len(v.sampleOffsets), len(v.sampleSizes))
	}
	return v, nil
}

// appendPackedUint64 writes a repeated varint field in packed form.
func appendPackedUint64(b []byte, num protowire.Number, vals []uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	var packed []byte
	for _, v := range vals {
		packed = protowire.AppendVarint(packed, v)
	}
	return protowire.AppendBytes(b, packed)
}

// consumePackedUint64 appends every varint of a packed field to dst.
func consumePackedUint64(dst []uint64, packed []byte) []uint64 {
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			break
		}
		dst = append(dst, v)
		packed = packed[n:]
	}
	return dst
}
