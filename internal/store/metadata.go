package store

import (
	"encoding/binary"
	"time"
)

// DataType is the closed set of logical value types a metadata record can
// describe. It occupies the low byte of the metadata header.
type DataType byte

const (
	TypeNone DataType = iota
	TypeString
	TypeHash
	TypeSet
	TypeZSet
	TypeList
	TypeBitmap
	// TypeZSetScored marks a sorted set whose members carry scores stored
	// in CFZSetScore, as opposed to a plain set (spec §3 entities list).
	TypeZSetScored
)

// Flag bits stored in a metadata record's flags byte.
type Flag byte

const (
	// FlagNone marks a record with no special handling.
	FlagNone Flag = 0
)

// metadataHeaderLen is the fixed-width header size: type(1) + flags(1) +
// expire(4) + version(8) + size(8) = 22 bytes (spec §4.2).
const metadataHeaderLen = 1 + 1 + 4 + 8 + 8

// Metadata is the decoded form of the value stored in CFMetadata at a
// ns_key. String and bitmap records additionally carry their payload (or
// its first segment) inline in Value.
type Metadata struct {
	Type    DataType
	Flags   Flag
	Expire  uint32 // unix seconds; 0 = no expiry
	Version uint64 // monotonically increasing per (re)creation of the key
	Size    uint64 // cardinality for containers; byte length for strings/bitmaps
	Value   []byte // inline payload for TypeString; nil for containers
}

// Expired reports whether m's TTL has passed as of now. A zero Expire
// means "no expiry" and is never considered expired.
func (m *Metadata) Expired(now time.Time) bool {
	return m.Expire != 0 && int64(m.Expire) <= now.Unix()
}

// EncodeMetadata renders m into its on-disk form: the fixed 22-byte header
// followed by the inline value for string/bitmap types.
func EncodeMetadata(m *Metadata) []byte {
	out := make([]byte, metadataHeaderLen+len(m.Value))
	out[0] = byte(m.Type)
	out[1] = byte(m.Flags)
	binary.BigEndian.PutUint32(out[2:6], m.Expire)
	binary.BigEndian.PutUint64(out[6:14], m.Version)
	binary.BigEndian.PutUint64(out[14:22], m.Size)
	copy(out[22:], m.Value)
	return out
}

// DecodeMetadata parses the on-disk form written by EncodeMetadata. It
// never allocates beyond the returned struct: Value aliases the caller's
// backing buffer, so callers that intend to retain it across a batch reuse
// must copy it themselves. A record shorter than the fixed header signals
// Corruption — anything else is a bug or on-disk damage, not a recoverable
// condition.
func DecodeMetadata(raw []byte) (*Metadata, error) {
	if len(raw) < metadataHeaderLen {
		return nil, newErr(KindCorruption, "metadata record too short: %d bytes", len(raw))
	}
	m := &Metadata{
		Type:    DataType(raw[0]),
		Flags:   Flag(raw[1]),
		Expire:  binary.BigEndian.Uint32(raw[2:6]),
		Version: binary.BigEndian.Uint64(raw[6:14]),
		Size:    binary.BigEndian.Uint64(raw[14:22]),
	}
	if len(raw) > metadataHeaderLen {
		m.Value = raw[metadataHeaderLen:]
	}
	return m, nil
}

// IsContainer reports whether t is a multi-subkey type as opposed to a
// flat string/bitmap payload stored inline in the metadata record.
func (t DataType) IsContainer() bool {
	switch t {
	case TypeHash, TypeSet, TypeZSet, TypeList, TypeZSetScored:
		return true
	default:
		return false
	}
}
