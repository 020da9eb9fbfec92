// SPDX-License-Identifier: GPL-2.0-or-later

// Package logquery prints the logs saved by previous conversions.
//
//	logquery [-db logs.db] [-levels error,warning] [-src gpmf] [-run ID] [-limit 100]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopro2gpx/pkg/log"
	"gopro2gpx/pkg/storage"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		stdlog.Fatal(err)
	}
}

func run(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("logquery", flag.ContinueOnError)
	fs.SetOutput(w)
	dbPath := fs.String("db", "", "log database (default from env.yaml)")
	levels := fs.String("levels", "", "comma separated levels")
	sources := fs.String("src", "", "comma separated sources")
	runs := fs.String("run", "", "comma separated run ids")
	limit := fs.Int("limit", 100, "maximum number of logs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q, err := parseQuery(*levels, *sources, *runs, *limit)
	if err != nil {
		return err
	}

	path := *dbPath
	if path == "" {
		envPath, err := storage.EnvPath(runtime.GOOS, os.Getenv)
		if err != nil {
			return err
		}
		env, err := storage.LoadConfigEnv(envPath, runtime.GOOS)
		if err != nil {
			return err
		}
		path = env.LogDB
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("log database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	db := log.NewDB(path, &wg)
	if err := db.Init(ctx); err != nil {
		return err
	}

	logs, err := db.Query(*q)
	if err != nil {
		return err
	}
	printLogs(w, logs)
	return nil
}

func parseQuery(levels, sources, runs string, limit int) (*log.Query, error) {
	q := &log.Query{
		Sources: splitList(sources),
		Runs:    splitList(runs),
		Limit:   limit,
	}
	for _, s := range splitList(levels) {
		level, ok := log.ParseLevel(s)
		if !ok {
			return nil, fmt.Errorf("invalid level: %q", s)
		}
		q.Levels = append(q.Levels, level)
	}
	return q, nil
}

func splitList(s string) []string {
	var list []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

// Oldest first.
func printLogs(w io.Writer, logs []log.Log) {
	for i := len(logs) - 1; i >= 0; i-- {
		l := logs[i]
		t := time.Unix(0, int64(l.Time)*1000).UTC()
		fmt.Fprintf(w, "%v %-7v %v %v: %v\n",
			t.Format("2006-01-02 15:04:05.000000"), l.Level, l.Run, l.Src, l.Msg)
	}
}
