// SPDX-License-Identifier: GPL-2.0-or-later

package mp4

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopro2gpx/pkg/gpmf"
)

// ErrNotMP4 the file does not start with a ftyp box.
var ErrNotMP4 = errors.New("not a mp4 file")

// ErrBoxTooLarge the GPMF box exceeds maxGPMFSize.
var ErrBoxTooLarge = errors.New("box too large")

const maxGPMFSize = 64 * 1024 * 1024

// ReadHighlights returns the highlights stored in the file.
func ReadHighlights(path string) (gpmf.Highlights, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return Highlights(file, info.Size())
}

// Highlights finds the first HLMT record in the moov/udta/GPMF box.
// Nil is returned if there are no highlights.
func Highlights(r io.ReadSeeker, size int64) (gpmf.Highlights, error) {
	top, err := ReadBoxes(r, 0, size)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 || top[0].Type != TypeFtyp || top[0].Offset != 0 {
		return nil, ErrNotMP4
	}

	box, ok, err := FindPath(r, top, TypeMoov, TypeUdta, TypeGPMF)
	if err != nil || !ok {
		return nil, err
	}
	if box.DataSize() > maxGPMFSize {
		return nil, fmt.Errorf("%w: %v %d bytes", ErrBoxTooLarge, box.Type, box.DataSize())
	}

	data, err := ReadData(r, box)
	if err != nil {
		return nil, err
	}

	record, ok, err := gpmf.Find(data, "HLMT")
	if err != nil {
		return nil, fmt.Errorf("%v: %w", box.Type, err)
	}
	if !ok {
		return nil, nil
	}

	value, err := gpmf.DecodeRecord(record)
	if err != nil {
		return nil, err
	}
	highlights, _ := value.(gpmf.Highlights)
	return highlights, nil
}
