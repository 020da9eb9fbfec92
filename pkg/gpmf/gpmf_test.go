// SPDX-License-Identifier: GPL-2.0-or-later

package gpmf

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"
	"time"

	"gopro2gpx/pkg/log"

	"github.com/stretchr/testify/require"
)

// klv encodes a record and pads the payload.
func klv(tag string, typ byte, size uint8, repeat uint16, payload []byte) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString(tag)
	buf.WriteByte(typ)
	buf.WriteByte(size)
	binary.Write(buf, binary.BigEndian, repeat) //nolint:errcheck
	buf.Write(payload)
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// be encodes values in big-endian order.
func be(values ...interface{}) []byte {
	buf := &bytes.Buffer{}
	for _, v := range values {
		binary.Write(buf, binary.BigEndian, v) //nolint:errcheck
	}
	return buf.Bytes()
}

func concat(bufs ...[]byte) []byte {
	return bytes.Join(bufs, nil)
}

func TestFrame(t *testing.T) {
	t.Run("nested", func(t *testing.T) {
		child := klv("TSMP", 'L', 4, 1, be(uint32(7)))
		buf := concat(klv("DEVC", 0, 4, 3, nil), child)

		records, err := Frame(buf)
		require.NoError(t, err)
		require.Len(t, records, 2)

		require.Equal(t, "DEVC", records[0].Tag)
		require.Nil(t, records[0].Payload)
		require.Equal(t, 12, records[0].Length())

		require.Equal(t, "TSMP", records[1].Tag)
		require.Equal(t, []byte{0, 0, 0, 7}, records[1].Data())
	})
	t.Run("padding", func(t *testing.T) {
		buf := concat(
			klv("DVNM", 'c', 1, 5, []byte("Hero9")),
			klv("TSMP", 'L', 4, 1, be(uint32(1))),
		)
		require.Len(t, buf, 12+4+12)

		records, err := Frame(buf)
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, 8, records[0].PaddedLength())
		require.Len(t, records[0].Payload, 8)
		require.Equal(t, []byte("Hero9"), records[0].Data())
		require.Equal(t, "TSMP", records[1].Tag)
	})
	t.Run("missingFinalPadding", func(t *testing.T) {
		buf := klv("DVNM", 'c', 1, 5, []byte("Hero9"))
		records, err := Frame(buf[:len(buf)-3])
		require.NoError(t, err)
		require.Equal(t, []byte("Hero9"), records[0].Data())
	})
	t.Run("empty", func(t *testing.T) {
		records, err := Frame(nil)
		require.NoError(t, err)
		require.Empty(t, records)
	})
	t.Run("zeroLength", func(t *testing.T) {
		records, err := Frame(klv("EMPT", 'c', 0, 0, nil))
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Nil(t, records[0].Payload)
	})
	t.Run("trailingBytes", func(t *testing.T) {
		buf := concat(klv("TSMP", 'L', 4, 1, be(uint32(1))), []byte{1, 2, 3})
		_, err := Frame(buf)
		require.ErrorIs(t, err, ErrFraming)
	})
	t.Run("truncatedPayload", func(t *testing.T) {
		buf := klv("GPS5", 'l', 20, 2, make([]byte, 40))
		_, err := Frame(buf[:30])
		require.ErrorIs(t, err, ErrFraming)
	})
}

func TestFrameRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	letters := "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	types := []struct {
		code byte
		size uint8
	}{
		{0, 4}, {'c', 1}, {'B', 1}, {'s', 2}, {'S', 2},
		{'L', 4}, {'l', 4}, {'f', 4}, {'J', 8}, {'l', 20},
	}

	for i := 0; i < 200; i++ {
		n := rng.Intn(20)
		expected := make([]Record, n)
		var bufs [][]byte
		for j := range expected {
			tag := make([]byte, 4)
			for k := range tag {
				tag[k] = letters[rng.Intn(len(letters))]
			}
			typ := types[rng.Intn(len(types))]
			repeat := uint16(rng.Intn(6))

			r := Record{Tag: string(tag), Type: typ.code, Size: typ.size, Repeat: repeat}
			var payload []byte
			if typ.code != 0 && r.Length() != 0 {
				payload = make([]byte, r.Length())
				rng.Read(payload) //nolint:errcheck
				r.Payload = payload
			}
			expected[j] = r
			bufs = append(bufs, klv(r.Tag, r.Type, r.Size, r.Repeat, payload))
		}

		records, err := Frame(concat(bufs...))
		require.NoError(t, err)
		require.Len(t, records, n)

		for j, r := range records {
			e := expected[j]
			require.Equal(t, e.Tag, r.Tag)
			require.Equal(t, e.Type, r.Type)
			require.Equal(t, e.Size, r.Size)
			require.Equal(t, e.Repeat, r.Repeat)
			require.Equal(t, e.Payload, r.Data())

			require.Zero(t, r.PaddedLength()%4)
			require.GreaterOrEqual(t, r.PaddedLength(), r.Length())
			if r.Payload != nil {
				require.Len(t, r.Payload, r.PaddedLength())
			}
		}
	}
}

func TestKindOf(t *testing.T) {
	kind, exists := KindOf("GPS5")
	require.True(t, exists)
	require.Equal(t, KindGPS5, kind)

	kind, exists = KindOf("DEVC")
	require.True(t, exists)
	require.Equal(t, KindEmpty, kind)

	_, exists = KindOf("ZZZZ")
	require.False(t, exists)
}

func TestFind(t *testing.T) {
	buf := concat(
		klv("DEVC", 0, 4, 3, nil),
		klv("TSMP", 'L', 4, 1, be(uint32(1))),
		klv("TSMP", 'L', 4, 1, be(uint32(2))),
	)

	r, ok, err := Find(buf, "TSMP")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte{0, 0, 0, 1}, r.Data())

	_, ok, err = Find(buf, "HLMT")
	require.NoError(t, err)
	require.False(t, ok)

	// Garbage after the match is never framed.
	r, ok, err = Find(concat(buf[:12], []byte{1, 2}), "DEVC")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "DEVC", r.Tag)

	_, _, err = Find([]byte{1, 2}, "DEVC")
	require.ErrorIs(t, err, ErrFraming)
}

func TestFilter(t *testing.T) {
	records := []Record{{Tag: "ACCL"}, {Tag: "GPS5"}, {Tag: "GYRO"}}

	kept, skipped := Filter(records, NewTagSet("ACCL", "GYRO"))
	require.Equal(t, []Record{{Tag: "GPS5"}}, kept)
	require.Len(t, skipped, 2)

	kept, skipped = Filter(records, nil)
	require.Equal(t, records, kept)
	require.Empty(t, skipped)
}

func TestTypeCodes(t *testing.T) {
	cases := map[string]struct {
		typeCode byte
		expected element
	}{
		"char":       {'c', element{1, kindChar}},
		"uint32":     {'L', element{4, kindUint}},
		"int16":      {'s', element{2, kindInt}},
		"uint16":     {'S', element{2, kindUint}},
		"float":      {'f', element{4, kindFloat}},
		"uchar":      {'U', element{1, kindChar}},
		"int32":      {'l', element{4, kindInt}},
		"uint8":      {'B', element{1, kindUint}},
		"uint64":     {'J', element{8, kindUint}},
		"fourcc":     {'F', element{1, kindChar}},
		"fallback":   {'d', element{8, kindFloat}},
		"fallbackI8": {'b', element{1, kindInt}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			el, err := layoutOf(tc.typeCode)
			require.NoError(t, err)
			require.Equal(t, tc.expected, el)
		})
	}

	_, err := layoutOf('Z')
	require.ErrorIs(t, err, ErrUnsupportedTypeCode)
}

func TestReadElement(t *testing.T) {
	cases := map[string]struct {
		typeCode byte
		input    []byte
		expected float64
	}{
		"int16":   {'s', be(int16(-2)), -2},
		"int32":   {'l', be(int32(-100)), -100},
		"uint16":  {'S', be(uint16(65535)), 65535},
		"uint64":  {'J', be(uint64(1 << 40)), 1 << 40},
		"float32": {'f', be(float32(25.5)), 25.5},
		"float64": {'d', be(-0.25), -0.25},
		"char":    {'c', []byte("H"), 'H'},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			el, err := layoutOf(tc.typeCode)
			require.NoError(t, err)
			v, err := readElement(newReader(tc.input), el)
			require.NoError(t, err)
			require.Equal(t, tc.expected, v)
		})
	}

	el, _ := layoutOf('L')
	_, err := readElement(newReader([]byte{1, 2}), el)
	require.ErrorIs(t, err, ErrShortPayload)
}

func decodeOne(t *testing.T, buf []byte) (Value, error) {
	t.Helper()
	records, err := Frame(buf)
	require.NoError(t, err)
	require.Len(t, records, 1)
	return DecodeRecord(records[0])
}

func TestDecodeRecord(t *testing.T) {
	cases := map[string]struct {
		input    []byte
		expected Value
	}{
		"empty": {
			klv("STRM", 0, 4, 10, nil),
			nil,
		},
		"scalar": {
			klv("GPSF", 'L', 4, 1, be(uint32(3))),
			Scalar(3),
		},
		"scalarFloat": {
			klv("TMPC", 'f', 4, 1, be(float32(25.5))),
			Scalar(25.5),
		},
		"scalarFourCC": {
			klv("DVID", 'F', 4, 1, []byte("HLMT")),
			Scalar('H'),
		},
		"scaleSingle": {
			klv("SCAL", 's', 2, 1, be(int16(100))),
			Scalar(100),
		},
		"scaleTuple": {
			klv("SCAL", 'l', 4, 5, be(int32(1e7), int32(1e7), int32(1000), int32(1000), int32(100))),
			Tuple{1e7, 1e7, 1000, 1000, 100},
		},
		"string": {
			klv("DVNM", 'c', 1, 12, []byte("Hero9 Black\x00")),
			String("Hero9 Black"),
		},
		"stringInvalidUTF8": {
			klv("SIUN", 'c', 1, 3, []byte{'m', 0xff, 's'}),
			String("m\uFFFDs"),
		},
		"timestamp": {
			klv("GPSU", 'U', 16, 1, []byte("190217104253.200")),
			Timestamp{time.Date(2019, 2, 17, 10, 42, 53, 200000000, time.UTC)},
		},
		"timestampCentury": {
			klv("GPSU", 'U', 16, 1, []byte("990101000000.000")),
			Timestamp{time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		"vector": {
			klv("ACCL", 's', 6, 2, be(int16(1), int16(-2), int16(3), int16(4), int16(5), int16(6))),
			Vector{Y: 1, X: -2, Z: 3},
		},
		"units": {
			klv("UNIT", 'c', 3, 5, []byte("degdegm\x00\x00m/sm/s")),
			Units{Lat: "deg", Lon: "deg", Alt: "m", Speed: "m/s", Speed3D: "m/s"},
		},
		"gps5": {
			klv("GPS5", 'l', 20, 2, be(
				int32(100000000), int32(-50000000), int32(5000), int32(200), int32(0),
				int32(1), int32(2), int32(3), int32(4), int32(5),
			)),
			GPS5List{
				{Lat: 1e8, Lon: -5e7, Alt: 5000, Speed: 200},
				{Lat: 1, Lon: 2, Alt: 3, Speed: 4, Speed3D: 5},
			},
		},
		"gps5Empty": {
			klv("GPS5", 'l', 20, 0, nil),
			GPS5List{{}},
		},
		"gps9": {
			klv("GPS9", '?', 32, 1, be(
				int32(1), int32(2), int32(3), int32(4), int32(5),
				int32(8000), int32(3600000), uint16(150), uint16(3),
			)),
			GPS9List{{
				Lat: 1, Lon: 2, Alt: 3, Speed: 4, Speed3D: 5,
				Days: 8000, Secs: 3600000, DOP: 150, Fix: 3,
			}},
		},
		"karma": {
			klv("GPRI", '?', 30, 1, be(
				uint64(1500000000000), int32(1), int32(2), int32(3),
				uint16(4), uint16(5), uint16(6), uint16(7), uint8(8), uint8(9),
			)),
			KarmaGPS{
				Time: 1500000000000, Lat: 1, Lon: 2, Alt: 3, Speed: 4,
				Speed3D: 5, Unk1: 6, Unk2: 7, Unk3: 8, Unk4: 9,
			},
		},
		"karmaEmpty": {
			klv("GPRI", '?', 30, 0, nil),
			KarmaGPS{},
		},
		"sysTime": {
			klv("SYST", 'J', 16, 1, be(uint64(1500000000), uint64(1500000000000))),
			SysTime{Seconds: 1500000000, Milliseconds: 1500000000000},
		},
		"sysTimeEmpty": {
			klv("SYST", 'J', 16, 0, nil),
			SysTime{},
		},
		"highlights": {
			klv("HLMT", '?', 36, 1, concat(
				be(uint32(1500), uint32(1000), uint32(2000), int32(10), int32(20), float32(1.5)),
				[]byte("MANL"),
				be(float32(0.5), float32(2)),
			)),
			Highlights{{
				Time: 1500, In: 1000, Out: 2000, Lat: 10, Lon: 20,
				Alt: 1.5, Type: "MANL", Confidence: 0.5, Score: 2,
			}},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			value, err := decodeOne(t, tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, value)
		})
	}
}

func TestDecodeRecordErrors(t *testing.T) {
	cases := map[string]struct {
		input    []byte
		expected error
		fatal    bool
	}{
		"unknownTag": {
			klv("ABCD", 'L', 4, 1, be(uint32(1))),
			ErrUnknownTag,
			false,
		},
		"vectorLength": {
			klv("ACCL", 's', 8, 1, make([]byte, 8)),
			ErrInvalidPayloadLength,
			true,
		},
		"unsupportedTypeCode": {
			klv("GPSP", 'Z', 4, 1, be(uint32(1))),
			ErrUnsupportedTypeCode,
			true,
		},
		"unitGroups": {
			klv("UNIT", 'c', 3, 4, []byte("degdegm\x00\x00m/s")),
			ErrMalformedUnitRecord,
			false,
		},
		"scalarRepeat": {
			klv("GPSP", 'S', 2, 2, be(uint16(1), uint16(2))),
			ErrRepeatCount,
			false,
		},
		"timestamp": {
			klv("GPSU", 'U', 4, 1, []byte("abcd")),
			ErrTimestamp,
			false,
		},
		"shortItem": {
			klv("GPS5", 'J', 20, 1, make([]byte, 20)),
			ErrShortPayload,
			false,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			value, err := decodeOne(t, tc.input)
			require.ErrorIs(t, err, tc.expected)
			require.Nil(t, value)
			require.Equal(t, tc.fatal, IsFatal(err))
		})
	}
}

func TestParser(t *testing.T) {
	stream := concat(
		klv("DEVC", 0, 4, 1, nil),
		klv("DVNM", 'c', 1, 5, []byte("Hero9")),
		klv("ACCL", 's', 6, 1, be(int16(1), int16(2), int16(3))),
		klv("XXXX", 'L', 4, 1, be(uint32(1))),
		klv("GPSF", 'L', 4, 1, be(uint32(3))),
	)

	t.Run("ok", func(t *testing.T) {
		logger := log.NewMockLogger()
		p := NewParser(logger, ParserConfig{RunID: "r1"})

		decoded, err := p.Parse(stream)
		require.NoError(t, err)

		expected := []Decoded{
			{Tag: "DEVC"},
			{Tag: "DVNM", Value: String("Hero9")},
			{Tag: "ACCL", Value: Vector{Y: 1, X: 2, Z: 3}},
			{Tag: "XXXX"},
			{Tag: "GPSF", Value: Scalar(3)},
		}
		require.Equal(t, expected, decoded)

		warnings := logger.Msgs(log.LevelWarning)
		require.Len(t, warnings, 1)
		require.Contains(t, warnings[0], "XXXX")
		require.Equal(t, "r1", logger.Entries()[0].Run)
		require.Empty(t, logger.Msgs(log.LevelDebug))
	})
	t.Run("skip", func(t *testing.T) {
		logger := log.NewMockLogger()
		p := NewParser(logger, ParserConfig{
			SkipTags: []string{"ACCL", "XXXX"},
			Verbose:  true,
		})

		decoded, err := p.Parse(stream)
		require.NoError(t, err)
		require.Len(t, decoded, 3)
		require.Empty(t, logger.Msgs(log.LevelWarning))
		// Two skipped and three decoded.
		require.Len(t, logger.Msgs(log.LevelDebug), 5)
	})
	t.Run("fatal", func(t *testing.T) {
		buf := concat(stream, klv("GYRO", 's', 4, 1, make([]byte, 4)))
		_, err := NewParser(log.NewMockLogger(), ParserConfig{}).Parse(buf)
		require.ErrorIs(t, err, ErrInvalidPayloadLength)
	})
	t.Run("framing", func(t *testing.T) {
		_, err := NewParser(log.NewMockLogger(), ParserConfig{}).Parse(stream[:10])
		require.ErrorIs(t, err, ErrFraming)
	})
}

func TestFormatValue(t *testing.T) {
	require.Equal(t, "<none>", FormatValue(nil))
	require.Equal(t, `"Hero9"`, FormatValue(String("Hero9")))
	require.Equal(t, "[MANL@1500ms]", FormatValue(Highlights{{Type: "MANL", Time: 1500}}))

	ts := Timestamp{time.Date(2019, 2, 17, 10, 42, 53, 0, time.UTC)}
	require.Equal(t, "2019-02-17 10:42:53.000000", FormatValue(ts))
	require.Equal(t, "{Y:1 X:2 Z:3}", FormatValue(Vector{Y: 1, X: 2, Z: 3}))
}
