// SPDX-License-Identifier: GPL-2.0-or-later

package gpmf

import (
	"fmt"
	"strings"
	"time"
)

// Kind of decoder used for a tag.
type Kind uint8

// Decoder kinds.
const (
	KindEmpty Kind = iota
	KindScalar
	KindScale
	KindString
	KindTimestamp
	KindVector
	KindUnits
	KindGPS5
	KindGPS9
	KindKarmaGPS
	KindSysTime
	KindHighlights
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindScalar:
		return "scalar"
	case KindScale:
		return "scale"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	case KindVector:
		return "vector"
	case KindUnits:
		return "units"
	case KindGPS5:
		return "gps5"
	case KindGPS9:
		return "gps9"
	case KindKarmaGPS:
		return "karma"
	case KindSysTime:
		return "systime"
	case KindHighlights:
		return "highlights"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value decoded record payload. A nil Value is an absent value.
type Value interface {
	Kind() Kind
}

// Scalar single number.
type Scalar float64

// Kind implements Value.
func (Scalar) Kind() Kind { return KindScalar }

// Tuple multiple numbers, used for per field scale divisors.
type Tuple []float64

// Kind implements Value.
func (Tuple) Kind() Kind { return KindScale }

// String text value.
type String string

// Kind implements Value.
func (String) Kind() Kind { return KindString }

// Timestamp date-time value.
type Timestamp struct {
	time.Time
}

// Kind implements Value.
func (Timestamp) Kind() Kind { return KindTimestamp }

// Vector three axis sample in the order it is stored.
type Vector struct {
	Y float64
	X float64
	Z float64
}

// Kind implements Value.
func (Vector) Kind() Kind { return KindVector }

// Units labels of the five GPS5 fields.
type Units struct {
	Lat     string
	Lon     string
	Alt     string
	Speed   string
	Speed3D string
}

// Kind implements Value.
func (Units) Kind() Kind { return KindUnits }

// GPS5 raw unscaled sample.
type GPS5 struct {
	Lat     float64
	Lon     float64
	Alt     float64
	Speed   float64
	Speed3D float64
}

// Fields returns the fields in record order.
func (g GPS5) Fields() []float64 {
	return []float64{g.Lat, g.Lon, g.Alt, g.Speed, g.Speed3D}
}

// IsZero reports if the position is zero.
func (g GPS5) IsZero() bool {
	return g.Lat == 0 && g.Lon == 0 && g.Alt == 0
}

// GPS5List samples of one GPS5 record.
type GPS5List []GPS5

// Kind implements Value.
func (GPS5List) Kind() Kind { return KindGPS5 }

// GPS9 raw unscaled sample with embedded time and fix.
type GPS9 struct {
	Lat     float64
	Lon     float64
	Alt     float64
	Speed   float64
	Speed3D float64
	Days    float64 // Days since 2000-01-01.
	Secs    float64 // Seconds since midnight.
	DOP     float64
	Fix     float64
}

// Fields returns the fields in record order.
func (g GPS9) Fields() []float64 {
	return []float64{
		g.Lat, g.Lon, g.Alt, g.Speed, g.Speed3D,
		g.Days, g.Secs, g.DOP, g.Fix,
	}
}

// IsZero reports if the position is zero.
func (g GPS9) IsZero() bool {
	return g.Lat == 0 && g.Lon == 0 && g.Alt == 0
}

// GPS9List samples of one GPS9 record.
type GPS9List []GPS9

// Kind implements Value.
func (GPS9List) Kind() Kind { return KindGPS9 }

// KarmaGPS raw unscaled drone GPS record.
type KarmaGPS struct {
	Time    float64 // Milliseconds.
	Lat     float64
	Lon     float64
	Alt     float64
	Speed   float64
	Speed3D float64
	Unk1    float64
	Unk2    float64
	Unk3    float64
	Unk4    float64
}

// Kind implements Value.
func (KarmaGPS) Kind() Kind { return KindKarmaGPS }

// Fields returns the fields in record order.
func (k KarmaGPS) Fields() []float64 {
	return []float64{
		k.Time, k.Lat, k.Lon, k.Alt, k.Speed, k.Speed3D,
		k.Unk1, k.Unk2, k.Unk3, k.Unk4,
	}
}

// IsZero reports if the position is zero.
func (k KarmaGPS) IsZero() bool {
	return k.Lat == 0 && k.Lon == 0 && k.Alt == 0
}

// SysTime secondary epoch.
type SysTime struct {
	Seconds      float64
	Milliseconds float64
}

// Kind implements Value.
func (SysTime) Kind() Kind { return KindSysTime }

// Highlight user or automatic highlight tag.
type Highlight struct {
	Time       uint32 // Milliseconds from the start of the recording.
	In         uint32
	Out        uint32
	Lat        int32
	Lon        int32
	Alt        float32
	Type       string
	Confidence float32
	Score      float32
}

// Latitude in degrees.
func (h Highlight) Latitude() float64 { return float64(h.Lat) / 1e7 }

// Longitude in degrees.
func (h Highlight) Longitude() float64 { return float64(h.Lon) / 1e7 }

// Offset from the start of the recording.
func (h Highlight) Offset() time.Duration {
	return time.Duration(h.Time) * time.Millisecond
}

// Highlights of one HLMT record.
type Highlights []Highlight

// Kind implements Value.
func (Highlights) Kind() Kind { return KindHighlights }

// Decoded record.
type Decoded struct {
	Tag   string
	Value Value
}

// FormatValue returns a single line representation of the value.
func FormatValue(v Value) string {
	switch v := v.(type) {
	case nil:
		return "<none>"
	case Timestamp:
		return v.Format("2006-01-02 15:04:05.000000")
	case String:
		return fmt.Sprintf("%q", string(v))
	case GPS5List:
		if len(v) > 3 {
			return fmt.Sprintf("%v ... (%v samples)", []GPS5(v[:3]), len(v))
		}
	case GPS9List:
		if len(v) > 3 {
			return fmt.Sprintf("%v ... (%v samples)", []GPS9(v[:3]), len(v))
		}
	case Highlights:
		parts := make([]string, len(v))
		for i, h := range v {
			parts[i] = fmt.Sprintf("%v@%vms", h.Type, h.Time)
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	return fmt.Sprintf("%+v", v)
}
