// SPDX-License-Identifier: GPL-2.0-or-later

package gpmf

import (
	"errors"
	"fmt"
	"math"

	"github.com/icza/bitio"
)

// ErrUnsupportedTypeCode type code is neither known nor a valid format character.
var ErrUnsupportedTypeCode = errors.New("unsupported type code")

// ErrShortPayload payload ended before all elements were read.
var ErrShortPayload = errors.New("short payload")

type elementKind uint8

const (
	kindChar elementKind = iota
	kindInt
	kindUint
	kindFloat
)

// element is the binary layout of a single payload value.
type element struct {
	size int // Bytes.
	kind elementKind
}

// Type code to format character.
var typeCodes = map[byte]byte{
	'c': 'c',
	'L': 'L',
	's': 'h',
	'S': 'H',
	'f': 'f',
	'U': 'c',
	'l': 'l',
	'B': 'B',
	'J': 'Q',
	'F': 'c', // 32-bit four character key.
}

// Format characters, all big-endian.
var formats = map[byte]element{
	'c': {1, kindChar},
	'?': {1, kindUint},
	'b': {1, kindInt},
	'B': {1, kindUint},
	'h': {2, kindInt},
	'H': {2, kindUint},
	'i': {4, kindInt},
	'I': {4, kindUint},
	'l': {4, kindInt},
	'L': {4, kindUint},
	'q': {8, kindInt},
	'Q': {8, kindUint},
	'f': {4, kindFloat},
	'd': {8, kindFloat},
}

// formatChar maps a type code to its format character. Unknown
// type codes are used as format characters directly.
func formatChar(typeCode byte) byte {
	if f, exists := typeCodes[typeCode]; exists {
		return f
	}
	return typeCode
}

func layoutOf(typeCode byte) (element, error) {
	el, exists := formats[formatChar(typeCode)]
	if !exists {
		return element{}, fmt.Errorf("%w: %q", ErrUnsupportedTypeCode, typeCode)
	}
	return el, nil
}

// layoutOfStruct returns the layout of a hard-coded field sequence
// written in type codes, "JlllSSSSBB" for example.
func layoutOfStruct(typeCodes string) ([]element, int, error) {
	elements := make([]element, len(typeCodes))
	size := 0
	for i := 0; i < len(typeCodes); i++ {
		el, err := layoutOf(typeCodes[i])
		if err != nil {
			return nil, 0, err
		}
		elements[i] = el
		size += el.size
	}
	return elements, size, nil
}

func readElement(br *bitio.Reader, el element) (float64, error) {
	u, err := br.ReadBits(uint8(el.size * 8))
	if err != nil {
		return 0, ErrShortPayload
	}

	switch el.kind {
	case kindInt:
		shift := 64 - uint(el.size*8)
		return float64(int64(u<<shift) >> shift), nil
	case kindFloat:
		if el.size == 4 {
			return float64(math.Float32frombits(uint32(u))), nil
		}
		return math.Float64frombits(u), nil
	default:
		return float64(u), nil
	}
}

// readElements reads n values of the same layout.
func readElements(br *bitio.Reader, el element, n int) ([]float64, error) {
	values := make([]float64, n)
	for i := range values {
		v, err := readElement(br, el)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// readStruct reads one value per element.
func readStruct(br *bitio.Reader, elements []element) ([]float64, error) {
	values := make([]float64, len(elements))
	for i, el := range elements {
		v, err := readElement(br, el)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}
