// SPDX-License-Identifier: GPL-2.0-or-later

package gpx

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/template"
	"time"

	"gopro2gpx"
	"gopro2gpx/pkg/gpmf"
	"gopro2gpx/pkg/track"
)

func init() {
	gopro2gpx.RegisterRenderer("gpx", Render)
}

// ErrNoPoints the track is empty.
var ErrNoPoints = errors.New("no points")

const timeLayout = "2006-01-02T15:04:05.000000Z"

const gpxTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<gpx xmlns="http://www.topografix.com/GPX/1/1"` +
	` xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"` +
	` xmlns:gpxtpx="http://www.garmin.com/xmlschemas/TrackPointExtension/v2"` +
	` xmlns:gpxx="http://www.garmin.com/xmlschemas/GpxExtensions/v3"` +
	` creator="gopro2gpx" version="1.1"` +
	` xsi:schemaLocation="http://www.topografix.com/GPX/1/1 http://www.topografix.com/GPX/1/1/gpx.xsd` +
	` http://www.garmin.com/xmlschemas/TrackPointExtension/v2 http://www.garmin.com/xmlschemas/TrackPointExtensionv2.xsd` +
	` http://www.garmin.com/xmlschemas/GpxExtensions/v3 http://www8.garmin.com/xmlschemas/GpxExtensionsv3.xsd">
<metadata>
  <time>{{ time .Start }}</time>
</metadata>
{{- range $i, $h := .Highlights }}
<wpt lat="{{ float $h.Latitude }}" lon="{{ float $h.Longitude }}">
  <name>Hilight #{{ $i }} ({{ offset $h }})</name>
</wpt>
{{- end }}
<trk>
  <name>{{ escape .Name }}</name>
<trkseg>
{{- range .Points }}
	<trkpt lat="{{ float .Lat }}" lon="{{ float .Lon }}">
		<ele>{{ float .Elevation }}</ele>
		<time>{{ time .Time }}</time>
		<extensions>
		<gpxtpx:TrackPointExtension>
			<gpxtpx:hr>{{ float .HeartRate }}</gpxtpx:hr>
			<gpxtpx:cad>{{ float .Cadence }}</gpxtpx:cad>
			<gpxtpx:speed>{{ float .Speed }}</gpxtpx:speed>
			<gpxtpx:distance>{{ float .Distance }}</gpxtpx:distance>
		</gpxtpx:TrackPointExtension>
		<gpxx:TrackPointExtension/>
		</extensions>
	</trkpt>
{{- end }}
</trkseg>
</trk>
</gpx>
`

var tpl = template.Must(template.New("gpx").Funcs(template.FuncMap{
	"float":  formatFloat,
	"time":   formatTime,
	"offset": formatOffset,
	"escape": escape,
}).Parse(gpxTemplate))

// Render writes a GPX 1.1 document with one track
// and a waypoint for each highlight.
func Render(w io.Writer, data gopro2gpx.RenderData) error {
	r := data.Result
	if len(r.Points) == 0 {
		return ErrNoPoints
	}

	start := r.StartTime
	if start.IsZero() {
		start = r.Points[0].Time
	}

	return tpl.Execute(w, struct {
		Start      time.Time
		Name       string
		Highlights gpmf.Highlights
		Points     []track.GeoPoint
	}{
		Start:      start,
		Name:       r.DeviceName,
		Highlights: data.Highlights,
		Points:     r.Points,
	})
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// h:mm:ss.mmm, wraps at 24 hours.
func formatOffset(h gpmf.Highlight) string {
	ms := h.Time % 1000
	secs := (h.Time / 1000) % (24 * 3600)
	return fmt.Sprintf("%d:%02d:%02d.%03d", secs/3600, secs%3600/60, secs%60, ms)
}

func escape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s)) //nolint:errcheck
	return buf.String()
}
