// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/icza/bitio"
)

// BoxType is mpeg box type.
type BoxType [4]byte

func (t BoxType) String() string {
	return string(t[:])
}

// Box types.
var (
	TypeFtyp = BoxType{'f', 't', 'y', 'p'}
	TypeMoov = BoxType{'m', 'o', 'o', 'v'}
	TypeUdta = BoxType{'u', 'd', 't', 'a'}
	TypeGPMF = BoxType{'G', 'P', 'M', 'F'}
)

// ErrInvalidBox box header is corrupt.
var ErrInvalidBox = errors.New("invalid box")

const (
	headerSize      = 8
	largeHeaderSize = 16
)

// Box position of a box in the file.
type Box struct {
	Type       BoxType
	Offset     int64 // Start of the header.
	Size       int64 // Including the header.
	HeaderSize int64
}

// DataOffset start of the payload.
func (b Box) DataOffset() int64 {
	return b.Offset + b.HeaderSize
}

// DataSize size of the payload.
func (b Box) DataSize() int64 {
	return b.Size - b.HeaderSize
}

// End offset of the next box.
func (b Box) End() int64 {
	return b.Offset + b.Size
}

// ReadBoxes reads the box headers between start and end,
// the payloads are skipped.
func ReadBoxes(r io.ReadSeeker, start, end int64) ([]Box, error) {
	var boxes []Box
	offset := start
	for offset < end {
		box, err := readBox(r, offset, end)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, box)
		offset = box.End()
	}
	return boxes, nil
}

func readBox(r io.ReadSeeker, offset, end int64) (Box, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return Box{}, err
	}

	buf := make([]byte, largeHeaderSize)
	if _, err := io.ReadFull(r, buf[:headerSize]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Box{}, fmt.Errorf("%w: truncated header at %d", ErrInvalidBox, offset)
		}
		return Box{}, err
	}

	br := bitio.NewReader(bytes.NewReader(buf))
	size, err := br.ReadBits(32)
	if err != nil {
		return Box{}, err
	}
	var typ BoxType
	copy(typ[:], buf[4:8])

	box := Box{
		Type:       typ,
		Offset:     offset,
		Size:       int64(size),
		HeaderSize: headerSize,
	}

	switch size {
	case 0:
		// Extends to the end of the file.
		box.Size = end - offset
	case 1:
		if _, err := io.ReadFull(r, buf[headerSize:]); err != nil {
			return Box{}, fmt.Errorf("%w: truncated large size at %d", ErrInvalidBox, offset)
		}
		br = bitio.NewReader(bytes.NewReader(buf[headerSize:]))
		largeSize, err := br.ReadBits(64)
		if err != nil {
			return Box{}, err
		}
		box.Size = int64(largeSize)
		box.HeaderSize = largeHeaderSize
	}

	if box.Size < box.HeaderSize {
		return Box{}, fmt.Errorf("%w: %v: size %d at %d",
			ErrInvalidBox, box.Type, box.Size, offset)
	}
	return box, nil
}

// Find returns the first box of the type.
func Find(boxes []Box, typ BoxType) (Box, bool) {
	for _, b := range boxes {
		if b.Type == typ {
			return b, true
		}
	}
	return Box{}, false
}

// FindPath descends into the boxes following the path of types.
func FindPath(r io.ReadSeeker, boxes []Box, path ...BoxType) (Box, bool, error) {
	var current Box
	for i, typ := range path {
		box, ok := Find(boxes, typ)
		if !ok {
			return Box{}, false, nil
		}
		current = box
		if i == len(path)-1 {
			break
		}

		var err error
		boxes, err = ReadBoxes(r, box.DataOffset(), box.End())
		if err != nil {
			return Box{}, false, fmt.Errorf("%v: %w", box.Type, err)
		}
	}
	return current, true, nil
}

// ReadData reads the payload of the box.
func ReadData(r io.ReadSeeker, box Box) ([]byte, error) {
	if _, err := r.Seek(box.DataOffset(), io.SeekStart); err != nil {
		return nil, err
	}
	data := make([]byte, box.DataSize())
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read %v: %w", box.Type, err)
	}
	return data, nil
}
