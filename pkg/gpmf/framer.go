// SPDX-License-Identifier: GPL-2.0-or-later

package gpmf

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/icza/bitio"
)

// ErrFraming buffer cannot be split into records.
var ErrFraming = errors.New("framing error")

const headerSize = 8

// Record single key-length-value record.
type Record struct {
	Tag    string // FourCC.
	Type   byte   // Type code, 0 for nested records.
	Size   uint8  // Element size in bytes.
	Repeat uint16

	// Padded payload, nil if the type code is 0 or the length is 0.
	Payload []byte
}

// Length of the meaningful payload bytes.
func (r Record) Length() int {
	return int(r.Size) * int(r.Repeat)
}

// PaddedLength payload length rounded up to a 4 byte boundary.
func (r Record) PaddedLength() int {
	return paddedLength(r.Length())
}

func paddedLength(n int) int {
	return (n + 3) &^ 3
}

// Data returns the payload without padding.
func (r Record) Data() []byte {
	if r.Payload == nil {
		return nil
	}
	return r.Payload[:r.Length()]
}

func (r Record) String() string {
	typ := "0"
	if r.Type != 0 {
		typ = string(r.Type)
	}
	return fmt.Sprintf("%v type:%v size:%v repeat:%v", r.Tag, typ, r.Size, r.Repeat)
}

func readHeader(buf []byte) (Record, error) {
	br := bitio.NewReader(bytes.NewReader(buf))

	tag, err := br.ReadBits(32)
	if err != nil {
		return Record{}, err
	}
	typ, err := br.ReadBits(8)
	if err != nil {
		return Record{}, err
	}
	size, err := br.ReadBits(8)
	if err != nil {
		return Record{}, err
	}
	repeat, err := br.ReadBits(16)
	if err != nil {
		return Record{}, err
	}

	return Record{
		Tag:    string([]byte{byte(tag >> 24), byte(tag >> 16), byte(tag >> 8), byte(tag)}),
		Type:   byte(typ),
		Size:   uint8(size),
		Repeat: uint16(repeat),
	}, nil
}

// Frame splits the buffer into records. Records with type code 0
// only consume their header, the nested records that follow are
// returned in stream order. The final padding may be missing.
func Frame(buf []byte) ([]Record, error) {
	var records []Record
	err := Walk(buf, func(r Record) bool {
		records = append(records, r)
		return true
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Walk calls fn for each record in stream order until fn returns false.
func Walk(buf []byte, fn func(Record) bool) error {
	offset := 0
	for offset < len(buf) {
		if len(buf)-offset < headerSize {
			return fmt.Errorf("%w: %d trailing bytes at offset %d",
				ErrFraming, len(buf)-offset, offset)
		}

		record, err := readHeader(buf[offset : offset+headerSize])
		if err != nil {
			return fmt.Errorf("%w: read header at offset %d: %v", ErrFraming, offset, err)
		}
		offset += headerSize

		if record.Type != 0 && record.Length() != 0 {
			if len(buf)-offset < record.Length() {
				return fmt.Errorf("%w: %v: payload of %d bytes at offset %d exceeds buffer",
					ErrFraming, record.Tag, record.Length(), offset)
			}

			end := offset + record.PaddedLength()
			if end > len(buf) {
				end = len(buf)
			}
			record.Payload = buf[offset:end]
			offset = end
		}

		if !fn(record) {
			return nil
		}
	}
	return nil
}

// Find returns the first record with the tag.
// Records after it are not framed.
func Find(buf []byte, tag string) (Record, bool, error) {
	var found Record
	var ok bool
	err := Walk(buf, func(r Record) bool {
		if r.Tag == tag {
			found, ok = r, true
			return false
		}
		return true
	})
	return found, ok, err
}

// TagSet set of FourCC tags.
type TagSet map[string]struct{}

// NewTagSet returns a set of the tags.
func NewTagSet(tags ...string) TagSet {
	set := make(TagSet, len(tags))
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
	return set
}

// Contains reports if the tag is in the set.
func (s TagSet) Contains(tag string) bool {
	_, exists := s[tag]
	return exists
}

// Filter removes the records whose tags are in the skip set.
func Filter(records []Record, skip TagSet) (kept []Record, skipped []Record) {
	if len(skip) == 0 {
		return records, nil
	}
	kept = make([]Record, 0, len(records))
	for _, r := range records {
		if skip.Contains(r.Tag) {
			skipped = append(skipped, r)
			continue
		}
		kept = append(kept, r)
	}
	return kept, skipped
}
