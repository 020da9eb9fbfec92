// SPDX-License-Identifier: GPL-2.0-or-later

package kml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"text/template"

	"gopro2gpx"
	"gopro2gpx/pkg/gpmf"
	"gopro2gpx/pkg/track"
)

func init() {
	gopro2gpx.RegisterRenderer("kml", Render)
}

// ErrNoPoints the track is empty.
var ErrNoPoints = errors.New("no points")

const kmlTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
<Document>
	<name>{{ escape .Name }}</name>
	<Style id="track">
		<LineStyle>
			<color>ff0000ff</color>
			<width>4</width>
		</LineStyle>
	</Style>
{{- range $i, $h := .Highlights }}
	<Placemark>
		<name>Hilight #{{ $i }}</name>
		<Point>
			<coordinates>{{ float $h.Longitude }},{{ float $h.Latitude }}</coordinates>
		</Point>
	</Placemark>
{{- end }}
	<Placemark>
		<name>{{ escape .Name }}</name>
		<styleUrl>#track</styleUrl>
		<LineString>
			<tessellate>1</tessellate>
			<altitudeMode>absolute</altitudeMode>
			<coordinates>
{{- range .Points }}
				{{ float .Lon }},{{ float .Lat }},{{ float .Elevation }}
{{- end }}
			</coordinates>
		</LineString>
	</Placemark>
</Document>
</kml>
`

var tpl = template.Must(template.New("kml").Funcs(template.FuncMap{
	"float":  formatFloat,
	"escape": escape,
}).Parse(kmlTemplate))

// Render writes a KML document with the track as a line string
// and a placemark for each highlight.
func Render(w io.Writer, data gopro2gpx.RenderData) error {
	r := data.Result
	if len(r.Points) == 0 {
		return ErrNoPoints
	}

	name := r.DeviceName
	if name == "" {
		name = "gopro2gpx"
	}

	return tpl.Execute(w, struct {
		Name       string
		Highlights gpmf.Highlights
		Points     []track.GeoPoint
	}{
		Name:       name,
		Highlights: data.Highlights,
		Points:     r.Points,
	})
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func escape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s)) //nolint:errcheck
	return buf.String()
}
