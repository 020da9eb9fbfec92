// SPDX-License-Identifier: GPL-2.0-or-later

// Package gpmfdump is a script for inspecting raw telemetry dumps.
//
//	gpmfdump [-tags GPS5,GPSU] file.bin
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"gopro2gpx/pkg/gpmf"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatal(err)
	}
}

var errUsage = errors.New("usage: gpmfdump [-tags TAG,TAG] file.bin")

func run(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("gpmfdump", flag.ContinueOnError)
	fs.SetOutput(w)
	tags := fs.String("tags", "", "only print these comma separated tags")
	raw := fs.Bool("raw", false, "print the record headers without decoding")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage
	}

	buf, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read dump: %w", err)
	}

	filter := map[string]bool{}
	for _, tag := range strings.Split(*tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			filter[tag] = true
		}
	}

	return dump(buf, w, filter, *raw)
}

func dump(buf []byte, w io.Writer, filter map[string]bool, raw bool) error {
	var printErr error
	err := gpmf.Walk(buf, func(r gpmf.Record) bool {
		if len(filter) != 0 && !filter[r.Tag] {
			return true
		}
		kind := "unknown"
		if k, exists := gpmf.KindOf(r.Tag); exists {
			kind = k.String()
		}
		line := fmt.Sprintf("%v kind=%v type=%q size=%d repeat=%d",
			r.Tag, kind, r.Type, r.Size, r.Repeat)
		if !raw && r.Type != 0 {
			v, err := gpmf.DecodeRecord(r)
			if err != nil {
				line += " err=" + err.Error()
			} else {
				line += " " + gpmf.FormatValue(v)
			}
		}
		if _, printErr = fmt.Fprintln(w, line); printErr != nil {
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	return printErr
}
