// SPDX-License-Identifier: GPL-2.0-or-later

package gpmf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopro2gpx/pkg/log"

	"github.com/icza/bitio"
)

// Decode errors.
var (
	ErrInvalidPayloadLength = errors.New("invalid payload length")
	ErrUnknownTag           = errors.New("unknown tag")
	ErrMalformedUnitRecord  = errors.New("malformed unit record")
	ErrRepeatCount          = errors.New("unexpected repeat count")
	ErrTimestamp            = errors.New("invalid timestamp")
)

// Tags with a decoder, all other known tags are decoded as empty.
var tagKinds = map[string]Kind{
	"ACCL": KindVector,
	"GYRO": KindVector,
	"GPS5": KindGPS5,
	"GPS9": KindGPS9,
	"GPRI": KindKarmaGPS,
	"SYST": KindSysTime,
	"HLMT": KindHighlights,
	"SCAL": KindScale,
	"DVNM": KindString,
	"STNM": KindString,
	"SIUN": KindString,
	"GPSU": KindTimestamp,
	"DVID": KindScalar,
	"GPSF": KindScalar,
	"GPSP": KindScalar,
	"TSMP": KindScalar,
	"TMPC": KindScalar,
	"UNIT": KindUnits,
}

var emptyTags = []string{
	"DEVC", "STRM", "EMPT", "GPRO", "TICK", "ISOG", "SHUT", "TYPE",
	"FACE", "FCNM", "ISOE", "WBAL", "WRGB", "MAGN", "STMP", "STPS",
	"SROT", "TIMO", "UNIF", "MTRX", "ORIN", "ORIO", "ALLD", "VFOV",
	"GPSA", "IORI", "CORI", "GRAV", "WNDM", "MWET", "AALP", "YAVG",
	"SCEN", "HUES", "MFGI", "acc1", "FWVS", "KBAT", "ATTD", "GLPI",
	"VFRH", "BPOS", "ATTR", "SIMU", "ESCS", "SCPR", "LNED", "CYTS",
	"CSEN", "MSKP", "LRVO", "LRVS", "LSKP", "VPTS", "FSKP", "DISP",
	"RMRK", "    ", "VERS", "FMWR", "LINF", "CINF", "CASN", "MINF",
	"MUID", "CMOD", "MTYP", "OREN", "DZOM", "DZST", "SMTR", "PRTN",
	"PTWB", "PTSH", "PTCL", "EXPT", "PIMX", "PIMN", "PTEV", "RATE",
	"ZFOV", "VLTE", "VLTA", "EISA", "AUPT", "AUDO", "BROD", "PMOD",
	"PVUL", "PRJT", "SOFF", "EISE", "BRID",
}

func init() {
	for _, tag := range emptyTags {
		tagKinds[tag] = KindEmpty
	}
}

// KindOf returns the decoder kind of a tag.
func KindOf(tag string) (Kind, bool) {
	kind, exists := tagKinds[tag]
	return kind, exists
}

// Fixed record layouts.
const (
	gps5ItemSize   = 20
	gps9Layout     = "lllllllSS"
	karmaLayout    = "JlllSSSSBB"
	sysTimeLayout  = "JJ"
	highlightSize  = 36
	highlightTypes = "LLLllfFFFFff"
)

// timestampLayout is "yymmddhhmmss", the fractional
// seconds that follow are parsed implicitly.
const timestampLayout = "060102150405"

// IsFatal reports if the error must abort decoding of the whole buffer.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidPayloadLength) ||
		errors.Is(err, ErrUnsupportedTypeCode)
}

// DecodeRecord decodes the payload of a single record. Non fatal
// errors are returned together with a nil value.
func DecodeRecord(r Record) (Value, error) {
	kind, exists := tagKinds[r.Tag]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, r.Tag)
	}

	switch kind {
	case KindEmpty:
		return nil, nil
	case KindScalar:
		return decodeScalar(r)
	case KindScale:
		return decodeScale(r)
	case KindString:
		return decodeString(r)
	case KindTimestamp:
		return decodeTimestamp(r)
	case KindVector:
		return decodeVector(r)
	case KindUnits:
		return decodeUnits(r)
	case KindGPS5:
		return decodeGPS5(r)
	case KindGPS9:
		return decodeGPS9(r)
	case KindKarmaGPS:
		return decodeKarmaGPS(r)
	case KindSysTime:
		return decodeSysTime(r)
	case KindHighlights:
		return decodeHighlights(r)
	}
	return nil, nil
}

func newReader(data []byte) *bitio.Reader {
	return bitio.NewReader(bytes.NewReader(data))
}

func decodeScalar(r Record) (Value, error) {
	if r.Payload == nil {
		return nil, nil
	}
	if r.Repeat != 1 {
		return nil, fmt.Errorf("%w: %v: %d", ErrRepeatCount, r.Tag, r.Repeat)
	}
	el, err := layoutOf(r.Type)
	if err != nil {
		return nil, err
	}
	v, err := readElement(newReader(r.Data()), el)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", r.Tag, err)
	}
	return Scalar(v), nil
}

// decodeScale returns a scalar if the repeat count is 1 and a tuple otherwise.
func decodeScale(r Record) (Value, error) {
	if r.Payload == nil {
		return nil, nil
	}
	el, err := layoutOf(r.Type)
	if err != nil {
		return nil, err
	}
	values, err := readElements(newReader(r.Data()), el, int(r.Repeat))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", r.Tag, err)
	}
	if len(values) == 1 {
		return Scalar(values[0]), nil
	}
	return Tuple(values), nil
}

func decodeText(data []byte) string {
	s := strings.ToValidUTF8(string(data), "\uFFFD")
	return strings.TrimRight(s, "\x00")
}

func decodeString(r Record) (Value, error) {
	if r.Payload == nil {
		return nil, nil
	}
	return String(decodeText(r.Data())), nil
}

func decodeTimestamp(r Record) (Value, error) {
	if r.Payload == nil {
		return nil, nil
	}
	s := strings.TrimSpace(decodeText(r.Data()))
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrTimestamp, s, err)
	}
	// Two digit years are always after 2000.
	if t.Year() < 2000 {
		t = t.AddDate(100, 0, 0)
	}
	return Timestamp{t}, nil
}

// decodeVector decodes the first sample, the element size
// must be 6 or 12 bytes.
func decodeVector(r Record) (Value, error) {
	if r.Size != 6 && r.Size != 12 {
		return nil, fmt.Errorf("%w: %v: element size %d",
			ErrInvalidPayloadLength, r.Tag, r.Size)
	}
	if r.Payload == nil {
		return nil, nil
	}
	el, err := layoutOf(r.Type)
	if err != nil {
		return nil, err
	}
	values, err := readElements(newReader(r.Data()), el, 3)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", r.Tag, err)
	}
	return Vector{Y: values[0], X: values[1], Z: values[2]}, nil
}

// decodeUnits expects one fixed-size label per GPS5 field.
func decodeUnits(r Record) (Value, error) {
	if r.Payload == nil || r.Repeat != 5 || r.Size == 0 {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUnitRecord, r)
	}
	data := r.Data()
	labels := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		labels = append(labels, decodeText(data[i*int(r.Size):(i+1)*int(r.Size)]))
	}
	return Units{
		Lat:     labels[0],
		Lon:     labels[1],
		Alt:     labels[2],
		Speed:   labels[3],
		Speed3D: labels[4],
	}, nil
}

// items splits the payload into repeat items of a fixed stride.
func items(r Record, stride int) [][]byte {
	data := r.Payload
	out := make([][]byte, 0, r.Repeat)
	for i := 0; i < int(r.Repeat); i++ {
		start := i * stride
		end := start + stride
		if start > len(data) {
			start = len(data)
		}
		if end > len(data) {
			end = len(data)
		}
		out = append(out, data[start:end])
	}
	return out
}

func decodeGPS5(r Record) (Value, error) {
	if r.Payload == nil {
		return GPS5List{{}}, nil
	}
	el, err := layoutOf(r.Type)
	if err != nil {
		return nil, err
	}
	list := make(GPS5List, 0, r.Repeat)
	for _, item := range items(r, gps5ItemSize) {
		v, err := readElements(newReader(item), el, 5)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", r.Tag, err)
		}
		list = append(list, GPS5{
			Lat:     v[0],
			Lon:     v[1],
			Alt:     v[2],
			Speed:   v[3],
			Speed3D: v[4],
		})
	}
	return list, nil
}

func decodeGPS9(r Record) (Value, error) {
	if r.Payload == nil {
		return GPS9List{{}}, nil
	}
	elements, size, err := layoutOfStruct(gps9Layout)
	if err != nil {
		return nil, err
	}
	list := make(GPS9List, 0, r.Repeat)
	for _, item := range items(r, size) {
		v, err := readStruct(newReader(item), elements)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", r.Tag, err)
		}
		list = append(list, GPS9{
			Lat:     v[0],
			Lon:     v[1],
			Alt:     v[2],
			Speed:   v[3],
			Speed3D: v[4],
			Days:    v[5],
			Secs:    v[6],
			DOP:     v[7],
			Fix:     v[8],
		})
	}
	return list, nil
}

func decodeKarmaGPS(r Record) (Value, error) {
	if r.Payload == nil {
		return KarmaGPS{}, nil
	}
	elements, _, err := layoutOfStruct(karmaLayout)
	if err != nil {
		return nil, err
	}
	v, err := readStruct(newReader(r.Payload), elements)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", r.Tag, err)
	}
	return KarmaGPS{
		Time:    v[0],
		Lat:     v[1],
		Lon:     v[2],
		Alt:     v[3],
		Speed:   v[4],
		Speed3D: v[5],
		Unk1:    v[6],
		Unk2:    v[7],
		Unk3:    v[8],
		Unk4:    v[9],
	}, nil
}

func decodeSysTime(r Record) (Value, error) {
	if r.Payload == nil {
		return SysTime{}, nil
	}
	elements, _, err := layoutOfStruct(sysTimeLayout)
	if err != nil {
		return nil, err
	}
	v, err := readStruct(newReader(r.Payload), elements)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", r.Tag, err)
	}
	return SysTime{Seconds: v[0], Milliseconds: v[1]}, nil
}

func decodeHighlights(r Record) (Value, error) {
	if r.Payload == nil {
		return Highlights(nil), nil
	}
	elements, _, err := layoutOfStruct(highlightTypes)
	if err != nil {
		return nil, err
	}
	list := make(Highlights, 0, r.Repeat)
	for _, item := range items(r, highlightSize) {
		v, err := readStruct(newReader(item), elements)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", r.Tag, err)
		}
		typ := string([]byte{byte(v[6]), byte(v[7]), byte(v[8]), byte(v[9])})
		list = append(list, Highlight{
			Time:       uint32(v[0]),
			In:         uint32(v[1]),
			Out:        uint32(v[2]),
			Lat:        int32(v[3]),
			Lon:        int32(v[4]),
			Alt:        float32(v[5]),
			Type:       strings.TrimRight(typ, "\x00 "),
			Confidence: float32(v[10]),
			Score:      float32(v[11]),
		})
	}
	return list, nil
}

// Parser frames and decodes buffers.
type Parser struct {
	logger  log.ILogger
	skip    TagSet
	runID   string
	verbose bool
}

// ParserConfig parser options.
type ParserConfig struct {
	SkipTags []string
	RunID    string

	// Log every decoded record at debug level.
	Verbose bool
}

// NewParser returns a new parser.
func NewParser(logger log.ILogger, c ParserConfig) *Parser {
	return &Parser{
		logger:  logger,
		skip:    NewTagSet(c.SkipTags...),
		runID:   c.RunID,
		verbose: c.Verbose,
	}
}

// Parse frames and decodes the buffer in stream order. Non fatal
// decode errors are logged and the record value is left absent.
func (p *Parser) Parse(buf []byte) ([]Decoded, error) {
	records, err := Frame(buf)
	if err != nil {
		return nil, err
	}

	records, skipped := Filter(records, p.skip)
	if p.verbose {
		for _, r := range skipped {
			p.debug("skipping record %v", r.Tag)
		}
	}

	decoded := make([]Decoded, 0, len(records))
	for _, r := range records {
		value, err := DecodeRecord(r)
		if err != nil {
			if IsFatal(err) {
				return nil, fmt.Errorf("decode %v: %w", r.Tag, err)
			}
			p.warn("%v", err)
		}
		if p.verbose {
			p.debug("%v %v", r, FormatValue(value))
		}
		decoded = append(decoded, Decoded{Tag: r.Tag, Value: value})
	}
	return decoded, nil
}

func (p *Parser) warn(format string, v ...interface{}) {
	log.Warn(p.logger).Src("gpmf").Run(p.runID).Msgf(format, v...)
}

func (p *Parser) debug(format string, v ...interface{}) {
	log.Debug(p.logger).Src("gpmf").Run(p.runID).Msgf(format, v...)
}
