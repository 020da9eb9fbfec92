// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoInput no input files were found.
var ErrNoInput = errors.New("no input files")

// VideoExts extensions of the files that a directory input expands to.
var VideoExts = []string{".mp4", ".mov", ".avi"}

// Crawler expands the input arguments into a list of files.
//
// A file argument is kept as is, a directory argument is replaced
// by the video files directly inside it, sorted by name.
type Crawler struct {
	fs   fs.FS
	exts map[string]struct{}
}

// NewCrawler creates new crawler. Paths are resolved in fsys.
func NewCrawler(fsys fs.FS, exts ...string) *Crawler {
	extMap := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		extMap[strings.ToLower(ext)] = struct{}{}
	}
	return &Crawler{
		fs:   fsys,
		exts: extMap,
	}
}

// NewOSCrawler returns a crawler that uses the os file system.
func NewOSCrawler(exts ...string) *Crawler {
	return NewCrawler(osFS{}, exts...)
}

// Inputs expands the input arguments in order.
func (c *Crawler) Inputs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := fs.Stat(c.fs, c.fsPath(arg))
		if err != nil {
			return nil, fmt.Errorf("stat input: %w", err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		children, err := c.videos(arg)
		if err != nil {
			return nil, err
		}
		files = append(files, children...)
	}

	if len(files) == 0 {
		return nil, ErrNoInput
	}
	return files, nil
}

func (c *Crawler) videos(dir string) ([]string, error) {
	entries, err := fs.ReadDir(c.fs, c.fsPath(dir))
	if err != nil {
		return nil, fmt.Errorf("read directory %v: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !c.isVideo(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

func (c *Crawler) isVideo(name string) bool {
	_, exist := c.exts[strings.ToLower(filepath.Ext(name))]
	return exist
}

// fs.FS paths are slash separated and unrooted.
func (c *Crawler) fsPath(path string) string {
	if _, ok := c.fs.(osFS); ok {
		return path
	}
	p := filepath.ToSlash(filepath.Clean(path))
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "."
	}
	return p
}

// osFS passes paths straight to the os package.
type osFS struct{}

func (osFS) Open(name string) (fs.File, error) {
	return os.Open(name)
}

func (osFS) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

func (osFS) ReadDir(name string) ([]fs.DirEntry, error) {
	return os.ReadDir(name)
}
