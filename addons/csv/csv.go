// SPDX-License-Identifier: GPL-2.0-or-later

package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gopro2gpx"
	"gopro2gpx/pkg/track"
)

func init() {
	gopro2gpx.RegisterRenderer("csv", Render)
}

// ErrNoPoints the track is empty.
var ErrNoPoints = errors.New("no points")

const (
	title      = "DashWare GPX CSV File"
	timeLayout = "2006/01/02 15:04:05.000"
)

var header = []string{
	"Time", "Latitude", "Longitude", "Elevation", "AirTemp",
	"HeartRate", "Cadence", "Power", "Roll", "Pitch",
}

// Render writes the track in the DashWare CSV format.
// Sensor columns are left empty.
func Render(w io.Writer, data gopro2gpx.RenderData) error {
	r := data.Result
	if len(r.Points) == 0 {
		return ErrNoPoints
	}

	if _, err := io.WriteString(w, title+"\n"); err != nil {
		return fmt.Errorf("write title: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, p := range r.Points {
		if err := cw.Write(row(p)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func row(p track.GeoPoint) []string {
	record := make([]string, len(header))
	record[0] = p.Time.UTC().Format(timeLayout)
	record[1] = formatFloat(p.Lat)
	record[2] = formatFloat(p.Lon)
	record[3] = formatFloat(p.Elevation)
	return record
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
