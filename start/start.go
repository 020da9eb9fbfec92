// SPDX-License-Identifier: GPL-2.0-or-later

// Package main builds the gopro2gpx command with the bundled renderers.
package main

import (
	"fmt"
	"os"

	"gopro2gpx"

	_ "gopro2gpx/addons/csv"
	_ "gopro2gpx/addons/gpx"
	_ "gopro2gpx/addons/kml"
)

func main() {
	if err := gopro2gpx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
