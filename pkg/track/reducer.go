// SPDX-License-Identifier: GPL-2.0-or-later

package track

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gopro2gpx/pkg/gpmf"
	"gopro2gpx/pkg/log"
)

// ErrScaleMismatch scale vector cannot be applied to a sample.
var ErrScaleMismatch = errors.New("scale mismatch")

// DefaultDopLimit default precision limit, DOP x100.
const DefaultDopLimit = 2000

// Samples per second of GPS5 records.
const gps5Rate = 18.0

// Start of the GPS9 day count.
var gps9Epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Options reducer options.
type Options struct {
	SkipBadFix  bool
	SkipHighDop bool
	DopLimit    int
	TimeShift   time.Duration
}

// State reducer state, carried across buffers.
type State struct {
	Scale        []float64
	DeviceName   string
	Fix          int
	Precision    int
	HasPrecision bool
	LastGPSTime  time.Time
	StartTime    time.Time
	TSMP         float64 // Sample counter delta.
	Epoch        gpmf.SysTime
}

// NewState returns the initial state.
func NewState() State {
	return State{
		Scale:      []float64{1, 1, 1},
		DeviceName: "Unknown",
	}
}

// Reducer converts decoded records into points.
type Reducer struct {
	opts   Options
	logger log.ILogger
	runID  string

	state  State
	points []GeoPoint
	stats  Stats

	warnedNoEpoch   bool
	warnedNoGPSTime bool
}

// NewReducer returns a reducer with a fresh state.
func NewReducer(logger log.ILogger, opts Options, runID string) *Reducer {
	if opts.DopLimit == 0 {
		opts.DopLimit = DefaultDopLimit
	}
	return &Reducer{
		opts:   opts,
		logger: logger,
		runID:  runID,
		state:  NewState(),
	}
}

// Reduce runs a reducer over the records.
func Reduce(logger log.ILogger, records []gpmf.Decoded, opts Options) (*Result, error) {
	r := NewReducer(logger, opts, "")
	if err := r.Feed(records); err != nil {
		return nil, err
	}
	return r.Result(), nil
}

// Feed processes the records in order. It can be called once
// per input buffer, the state carries over between calls.
func (r *Reducer) Feed(records []gpmf.Decoded) error {
	for _, rec := range records {
		if err := r.step(rec); err != nil {
			return fmt.Errorf("%v: %w", rec.Tag, err)
		}
	}
	return nil
}

// State returns a copy of the current state.
func (r *Reducer) State() State {
	s := r.state
	s.Scale = append([]float64(nil), r.state.Scale...)
	return s
}

// Result returns the points and stats collected so far.
func (r *Reducer) Result() *Result {
	return &Result{
		Points:     append([]GeoPoint(nil), r.points...),
		StartTime:  r.state.StartTime,
		DeviceName: r.state.DeviceName,
		Stats:      r.stats,
	}
}

func (r *Reducer) step(rec gpmf.Decoded) error { //nolint:gocyclo
	if rec.Value == nil {
		return nil
	}

	switch v := rec.Value.(type) {
	case gpmf.Tuple:
		if rec.Tag == "SCAL" {
			r.state.Scale = append([]float64(nil), v...)
		}
	case gpmf.String:
		if rec.Tag == "DVNM" {
			r.state.DeviceName = string(v)
		}
	case gpmf.Timestamp:
		if rec.Tag == "GPSU" {
			r.state.LastGPSTime = v.Time
			if r.state.StartTime.IsZero() {
				r.state.StartTime = v.Time
			}
		}
	case gpmf.Scalar:
		r.stepScalar(rec.Tag, float64(v))
	case gpmf.GPS5List:
		return r.stepGPS5(v)
	case gpmf.GPS9List:
		return r.stepGPS9(v)
	case gpmf.SysTime:
		return r.stepSysTime(v)
	case gpmf.KarmaGPS:
		return r.stepKarma(v)
	}
	return nil
}

func (r *Reducer) stepScalar(tag string, v float64) {
	switch tag {
	case "SCAL":
		r.state.Scale = []float64{v}
	case "GPSF":
		fix := int(v)
		if fix != r.state.Fix {
			r.info("GPSFIX change to %v [%v]", fix, FixLabel(fix))
		}
		r.state.Fix = fix
	case "GPSP":
		dop := int(v)
		if !r.state.HasPrecision || dop != r.state.Precision {
			r.info("GPSP change to %v [%v]", dop, DopRating(dop))
		}
		r.state.Precision = dop
		r.state.HasPrecision = true
	case "TSMP":
		if r.state.TSMP == 0 {
			r.state.TSMP = v
		} else {
			r.state.TSMP = v - r.state.TSMP
		}
	}
}

func (r *Reducer) stepGPS5(list gpmf.GPS5List) error {
	sampleIndex := 0
	for _, item := range list {
		if !r.accept(item.IsZero(), r.state.Fix, r.state.Precision, r.state.HasPrecision) {
			continue
		}
		if r.state.LastGPSTime.IsZero() && !r.warnedNoGPSTime {
			r.warn("GPS5 samples before the first GPS time")
			r.warnedNoGPSTime = true
		}

		v, err := r.scale(item.Fields())
		if err != nil {
			return err
		}
		offset := time.Duration(float64(sampleIndex) / gps5Rate * float64(time.Second))
		r.emit(GeoPoint{
			Lat:       v[0],
			Lon:       v[1],
			Elevation: v[2],
			Time:      r.state.LastGPSTime.Add(offset + r.opts.TimeShift),
			Speed:     v[3],
			Source:    SourcePrimary5,
		})
		sampleIndex++
	}
	return nil
}

func (r *Reducer) stepGPS9(list gpmf.GPS9List) error {
	for _, item := range list {
		if !r.accept(item.IsZero(), int(item.Fix), int(item.DOP), true) {
			continue
		}

		v, err := r.scale(item.Fields())
		if err != nil {
			return err
		}
		days, secs := v[5], v[6]
		t := gps9Epoch.
			Add(time.Duration(days * 24 * float64(time.Hour))).
			Add(time.Duration(secs * float64(time.Second))).
			Add(-time.Hour).
			Add(-r.opts.TimeShift)

		if r.state.StartTime.IsZero() {
			r.state.StartTime = t
		}
		r.emit(GeoPoint{
			Lat:       v[0],
			Lon:       v[1],
			Elevation: v[2],
			Time:      t,
			Speed:     v[3],
			Source:    SourcePrimary9,
		})
	}
	return nil
}

func (r *Reducer) stepSysTime(st gpmf.SysTime) error {
	v, err := r.scale([]float64{st.Seconds, st.Milliseconds})
	if err != nil {
		return err
	}
	if v[0] != 0 && v[1] != 0 {
		r.state.Epoch = gpmf.SysTime{Seconds: v[0], Milliseconds: v[1]}
	}
	return nil
}

func (r *Reducer) stepKarma(k gpmf.KarmaGPS) error {
	if !r.accept(k.IsZero(), r.state.Fix, 0, false) {
		return nil
	}

	v, err := r.scale(k.Fields())
	if err != nil {
		return err
	}

	epoch := r.state.Epoch
	if epoch.Seconds == 0 || epoch.Milliseconds == 0 {
		if !r.warnedNoEpoch {
			r.warn("dropping vendor-b points, no SYST time")
			r.warnedNoEpoch = true
		}
		return nil
	}

	sec, frac := math.Modf(epoch.Milliseconds)
	t := time.Unix(int64(sec), int64(frac*1e9)).UTC().Add(-r.opts.TimeShift)
	r.emit(GeoPoint{
		Lat:       v[1],
		Lon:       v[2],
		Elevation: v[3],
		Time:      t,
		Speed:     v[4],
		Source:    SourceVendorB,
	})
	return nil
}

// accept runs the filter pipeline and updates the rejection
// counters, emit counts accepted points.
func (r *Reducer) accept(zero bool, fix, dop int, hasDop bool) bool {
	if zero {
		r.debug("skipping empty point")
		r.stats.Empty++
		return false
	}

	if fix == 0 {
		r.stats.BadFix++
		if r.opts.SkipBadFix {
			r.debug("skipping point due GPSFIX==0")
			r.stats.BadFixSkipped++
			return false
		}
	}

	if hasDop && dop > r.opts.DopLimit {
		r.stats.BadDop++
		if r.opts.SkipHighDop {
			r.debug("skipping point due to GPSP>limit. GPSP: %v, limit: %v", dop, r.opts.DopLimit)
			r.stats.BadDopSkipped++
			return false
		}
	}
	return true
}

func (r *Reducer) emit(p GeoPoint) {
	r.points = append(r.points, p)
	r.stats.Ok++
}

// scale divides each field by the scale value at the same position.
func (r *Reducer) scale(fields []float64) ([]float64, error) {
	scale := r.state.Scale
	if len(scale) < len(fields) {
		return nil, fmt.Errorf("%w: %d values, %d divisors",
			ErrScaleMismatch, len(fields), len(scale))
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		if scale[i] == 0 {
			return nil, fmt.Errorf("%w: zero divisor at %d", ErrScaleMismatch, i)
		}
		out[i] = f / scale[i]
	}
	return out, nil
}

func (r *Reducer) info(format string, v ...interface{}) {
	log.Info(r.logger).Src("track").Run(r.runID).Msgf(format, v...)
}

func (r *Reducer) warn(format string, v ...interface{}) {
	log.Warn(r.logger).Src("track").Run(r.runID).Msgf(format, v...)
}

func (r *Reducer) debug(format string, v ...interface{}) {
	log.Debug(r.logger).Src("track").Run(r.runID).Msgf(format, v...)
}
