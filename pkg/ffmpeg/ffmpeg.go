// SPDX-License-Identifier: GPL-2.0-or-later

package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogFunc receives process output line by line.
type LogFunc func(string)

// Process interface only used for testing.
type Process interface {
	Timeout(time.Duration) Process
	StdoutLogger(LogFunc) Process
	StderrLogger(LogFunc) Process
	Start(ctx context.Context) error
}

// process manages subprocesses.
type process struct {
	timeout time.Duration
	cmd     *exec.Cmd

	stdoutLogger LogFunc
	stderrLogger LogFunc
}

// NewProcessFunc is used for mocking.
type NewProcessFunc func(*exec.Cmd) Process

// NewProcess return process.
func NewProcess(cmd *exec.Cmd) Process {
	return process{
		timeout: 1000 * time.Millisecond,
		cmd:     cmd,
	}
}

// Timeout sets the time to wait after interrupt before killing the process.
func (p process) Timeout(timeout time.Duration) Process {
	p.timeout = timeout
	return p
}

// StdoutLogger sets a function that receives stdout lines.
func (p process) StdoutLogger(l LogFunc) Process {
	p.stdoutLogger = l
	return p
}

// StderrLogger sets a function that receives stderr lines.
func (p process) StderrLogger(l LogFunc) Process {
	p.stderrLogger = l
	return p
}

func attachLogger(
	wg *sync.WaitGroup,
	l LogFunc,
	label string,
	stdPipe func() (io.ReadCloser, error),
) error {
	pipe, err := stdPipe()
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(pipe)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for scanner.Scan() {
			l(fmt.Sprintf("%v: %v", label, scanner.Text()))
		}
	}()
	return nil
}

// Start starts the process and waits for it to exit.
// The process is interrupted when the context is canceled.
func (p process) Start(ctx context.Context) error {
	var logWG sync.WaitGroup
	if p.stdoutLogger != nil {
		if err := attachLogger(&logWG, p.stdoutLogger, "stdout", p.cmd.StdoutPipe); err != nil {
			return err
		}
	}
	if p.stderrLogger != nil {
		if err := attachLogger(&logWG, p.stderrLogger, "stderr", p.cmd.StderrPipe); err != nil {
			return err
		}
	}

	if err := p.cmd.Start(); err != nil {
		return err
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-done:
		case <-ctx.Done():
			p.stop(done)
		}
	}()

	// Pipes must be drained before Wait.
	logWG.Wait()
	err := p.cmd.Wait()
	close(done)
	<-stopped

	// Output of an interrupted process is incomplete.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// FFmpeg seems to return 255 on normal exit.
	if err != nil && err.Error() == "exit status 255" {
		return nil
	}
	return err
}

// Not using CommandContext, it would kill the
// process before it has a chance to exit on its own.
func (p process) stop(done chan struct{}) {
	p.cmd.Process.Signal(os.Interrupt) //nolint:errcheck

	select {
	case <-done:
	case <-time.After(p.timeout):
		p.cmd.Process.Kill() //nolint:errcheck
		<-done
	}
}

// ErrNoMetadataTrack the file has no telemetry stream.
var ErrNoMetadataTrack = errors.New("no metadata track")

// ErrVersion ffmpeg version could not be determined.
var ErrVersion = errors.New("could not parse ffmpeg version")

// Versions at or above this use the ffprobe JSON output.
const jsonMajorVersion = 4

// Version ffmpeg version.
type Version struct {
	Major  int
	Medium int
	Minor  int
}

var (
	versionRegex = regexp.MustCompile(`(?i)ffmpeg version ([a-zA-Z0-9\.-]+)`)
	valuesRegex  = regexp.MustCompile(`(?i)(N-)?([a-zA-Z0-9]+)[\.-]([a-zA-Z0-9]+)[\.-]([a-zA-Z0-9]+)`)
)

// ParseVersion parses the output of "ffmpeg -version".
//
//	ffmpeg version 4.3.1 Copyright (c) 2000-2020 the FFmpeg developers
//	ffmpeg version N-109745-g7d49fef8b4 Copyright (c) 2000-2023 the FFmpeg developers
//	ffmpeg version 2023-01-25-git-2c3107c3e9-essentials_build-www.gyan.dev Copyright ...
//
// Git builds without a numeric major version are treated as version 4.
func ParseVersion(output string) (Version, error) {
	m := versionRegex.FindStringSubmatch(output)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrVersion, firstLine(output))
	}

	values := valuesRegex.FindStringSubmatch(m[1])
	if values == nil {
		return Version{}, nil
	}

	atoi := func(s string) int {
		v, _ := strconv.Atoi(s)
		return v
	}
	v := Version{
		Major:  atoi(values[2]),
		Medium: atoi(values[3]),
		Minor:  atoi(values[4]),
	}
	if v.Major == 0 {
		v.Major = jsonMajorVersion
	}
	return v, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i != -1 {
		return s[:i]
	}
	return s
}

// Track telemetry stream of a video file.
type Track struct {
	Index int
	Info  string
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	Index          int    `json:"index"`
	CodecName      string `json:"codec_name"`
	CodecTagString string `json:"codec_tag_string"`
}

const metadataCodecTag = "gpmd"

// ParseProbeJSON finds the telemetry stream in "ffprobe -print_format json -show_streams".
func ParseProbeJSON(output []byte) (Track, error) {
	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return Track{}, fmt.Errorf("could not unmarshal ffprobe output: %w", err)
	}
	for _, s := range probe.Streams {
		if s.CodecTagString == metadataCodecTag {
			info := fmt.Sprintf("Stream %v[%v], %v (%v)",
				s.Index, s.Index, s.CodecName, s.CodecTagString)
			return Track{Index: s.Index, Info: info}, nil
		}
	}
	return Track{}, ErrNoMetadataTrack
}

// Stream #0:3(eng): Data: bin_data (gpmd / 0x646D7067), 29 kb/s (default)
// Stream #0:3[0x4](eng): Data: bin_data (gpmd
var probeTextRegex = regexp.MustCompile(`(?im)Stream #\d:(\d)(?:\[0x\d+\])?\(.+\): Data: \w+ \(gpmd`)

// ParseProbeText finds the telemetry stream in the stderr output of old ffprobe versions.
func ParseProbeText(output []byte) (Track, error) {
	m := probeTextRegex.FindSubmatch(output)
	if m == nil {
		return Track{}, ErrNoMetadataTrack
	}
	index, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return Track{}, err
	}
	return Track{Index: index, Info: string(m[0])}, nil
}

// CommandFunc is used for mocking.
type CommandFunc func(name string, args ...string) *exec.Cmd

// FFMPEG extracts telemetry tracks from video files.
type FFMPEG struct {
	ffmpegBin  string
	ffprobeBin string

	command    CommandFunc
	newProcess NewProcessFunc
	logFunc    LogFunc

	version     Version
	versionErr  error
	versionOnce sync.Once
}

// New returns FFMPEG. Stderr lines of the subprocesses are sent to logFunc.
func New(ffmpegBin string, ffprobeBin string, logFunc LogFunc) *FFMPEG {
	if logFunc == nil {
		logFunc = func(string) {}
	}
	return &FFMPEG{
		ffmpegBin:  ffmpegBin,
		ffprobeBin: ffprobeBin,
		command:    exec.Command,
		newProcess: NewProcess,
		logFunc:    logFunc,
	}
}

// run runs the command and returns its stdout. Stderr is written
// to captureStderr if set, otherwise it's sent to the log function.
func (f *FFMPEG) run(
	ctx context.Context,
	captureStderr *bytes.Buffer,
	bin string,
	args ...string,
) ([]byte, error) {
	cmd := f.command(bin, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	p := f.newProcess(cmd)
	if captureStderr != nil {
		cmd.Stderr = captureStderr
	} else {
		p = p.StderrLogger(f.logFunc)
	}

	if err := p.Start(ctx); err != nil {
		return nil, fmt.Errorf("%v %v: %w", bin, args, err)
	}
	return stdout.Bytes(), nil
}

// Version returns the ffmpeg version, the result is cached.
func (f *FFMPEG) Version(ctx context.Context) (Version, error) {
	f.versionOnce.Do(func() {
		var output []byte
		output, f.versionErr = f.run(ctx, nil, f.ffmpegBin, "-version")
		if f.versionErr != nil {
			return
		}
		f.version, f.versionErr = ParseVersion(string(output))
	})
	return f.version, f.versionErr
}

// MetadataTrack finds the telemetry stream of a video file.
func (f *FFMPEG) MetadataTrack(ctx context.Context, path string) (Track, error) {
	version, err := f.Version(ctx)
	if err != nil {
		return Track{}, err
	}

	if version.Major >= jsonMajorVersion {
		output, err := f.run(ctx, nil, f.ffprobeBin,
			"-print_format", "json", "-show_streams", path)
		if err != nil {
			return Track{}, err
		}
		return ParseProbeJSON(output)
	}

	// Old versions print the stream list on stderr.
	var stderr bytes.Buffer
	if _, err := f.run(ctx, &stderr, f.ffprobeBin, path); err != nil {
		return Track{}, err
	}
	return ParseProbeText(stderr.Bytes())
}

// ExtractTrack copies the raw stream to memory.
func (f *FFMPEG) ExtractTrack(ctx context.Context, path string, index int) ([]byte, error) {
	return f.run(ctx, nil, f.ffmpegBin,
		"-y",
		"-i", path,
		"-codec", "copy",
		"-map", "0:"+strconv.Itoa(index),
		"-f", "rawvideo",
		"-",
	)
}

// ReadTelemetry finds and extracts the telemetry stream of a video file.
func (f *FFMPEG) ReadTelemetry(ctx context.Context, path string) ([]byte, Track, error) {
	track, err := f.MetadataTrack(ctx, path)
	if err != nil {
		return nil, Track{}, fmt.Errorf("%v: %w", path, err)
	}
	data, err := f.ExtractTrack(ctx, path, track.Index)
	if err != nil {
		return nil, Track{}, fmt.Errorf("%v: %w", path, err)
	}
	return data, track, nil
}
