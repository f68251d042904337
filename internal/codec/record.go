// Package codec implements the compact, field-presence-aware binary
// encoding used for every transmission record this agent produces, on
// the wire and in the durable buffer. Field numbering is fixed: the
// decoder relies on optional fields appearing in the same order the
// encoder emits them.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedRecord is returned by Decode when the payload is
// truncated or a required field cannot be recovered.
var ErrMalformedRecord = errors.New("codec: malformed record")

// Bit positions within the single presence-bitmask byte that precedes
// every encoded record. Required fields have no presence bit — they
// are always emitted.
const (
	bitResync = 1 << iota
	bitSpeed
	bitPower
	bitBattery
	bitHeading
)

// minEncodedLen is the bitmask byte plus the two required fixed-width
// fields (timestamp int64, odometer float32).
const minEncodedLen = 1 + 8 + 4

// Record is the transmission record: the wire and buffer unit. Speed,
// Power, Battery, and Heading are independently present-or-absent;
// Timestamp and Odometer are always present. IsResync, when true,
// requires all four optional fields to be present and carrying ground
// truth rather than a prediction.
type Record struct {
	Timestamp int64
	Odometer  float32
	IsResync  bool

	Speed   *float32
	Power   *float32
	Battery *int32
	Heading *int32
}

// Encode serialises r into the compact wire format: a one-byte
// presence bitmask, the two required fixed-width fields, then each
// present optional field in ascending field-number order.
// Encode never fails — every Record value is representable.
func Encode(r Record) []byte {
	size := minEncodedLen
	if r.Speed != nil {
		size += 4
	}
	if r.Power != nil {
		size += 4
	}
	if r.Battery != nil {
		size += 4
	}
	if r.Heading != nil {
		size += 4
	}

	buf := make([]byte, size)

	var mask byte
	if r.IsResync {
		mask |= bitResync
	}
	if r.Speed != nil {
		mask |= bitSpeed
	}
	if r.Power != nil {
		mask |= bitPower
	}
	if r.Battery != nil {
		mask |= bitBattery
	}
	if r.Heading != nil {
		mask |= bitHeading
	}
	buf[0] = mask

	off := 1
	binary.BigEndian.PutUint64(buf[off:], uint64(r.Timestamp))
	off += 8
	binary.BigEndian.PutUint32(buf[off:], math.Float32bits(r.Odometer))
	off += 4

	if r.Speed != nil {
		binary.BigEndian.PutUint32(buf[off:], math.Float32bits(*r.Speed))
		off += 4
	}
	if r.Power != nil {
		binary.BigEndian.PutUint32(buf[off:], math.Float32bits(*r.Power))
		off += 4
	}
	if r.Battery != nil {
		binary.BigEndian.PutUint32(buf[off:], uint32(*r.Battery))
		off += 4
	}
	if r.Heading != nil {
		binary.BigEndian.PutUint32(buf[off:], uint32(*r.Heading))
		off += 4
	}

	return buf
}

// Decode reverses Encode. It returns ErrMalformedRecord (wrapped with
// context) when the payload is shorter than the fields the presence
// bitmask claims to carry. Absent optional fields decode to a nil
// pointer — this is a legitimate signal, never an error.
func Decode(data []byte) (Record, error) {
	if len(data) < minEncodedLen {
		return Record{}, fmt.Errorf("%w: payload too short for required fields (%d bytes)", ErrMalformedRecord, len(data))
	}

	mask := data[0]
	r := Record{IsResync: mask&bitResync != 0}

	off := 1
	r.Timestamp = int64(binary.BigEndian.Uint64(data[off:]))
	off += 8
	r.Odometer = math.Float32frombits(binary.BigEndian.Uint32(data[off:]))
	off += 4

	readFloat := func(present bool) (*float32, error) {
		if !present {
			return nil, nil
		}
		if len(data) < off+4 {
			return nil, fmt.Errorf("%w: truncated optional field at offset %d", ErrMalformedRecord, off)
		}
		v := math.Float32frombits(binary.BigEndian.Uint32(data[off:]))
		off += 4
		return &v, nil
	}
	readInt := func(present bool) (*int32, error) {
		if !present {
			return nil, nil
		}
		if len(data) < off+4 {
			return nil, fmt.Errorf("%w: truncated optional field at offset %d", ErrMalformedRecord, off)
		}
		v := int32(binary.BigEndian.Uint32(data[off:]))
		off += 4
		return &v, nil
	}

	var err error
	if r.Speed, err = readFloat(mask&bitSpeed != 0); err != nil {
		return Record{}, err
	}
	if r.Power, err = readFloat(mask&bitPower != 0); err != nil {
		return Record{}, err
	}
	if r.Battery, err = readInt(mask&bitBattery != 0); err != nil {
		return Record{}, err
	}
	if r.Heading, err = readInt(mask&bitHeading != 0); err != nil {
		return Record{}, err
	}

	if r.IsResync && (r.Speed == nil || r.Power == nil || r.Battery == nil || r.Heading == nil) {
		return Record{}, fmt.Errorf("%w: is_resync set but an optional field is absent", ErrMalformedRecord)
	}

	return r, nil
}
