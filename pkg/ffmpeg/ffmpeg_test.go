// SPDX-License-Identifier: GPL-2.0-or-later

package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	version4 = "ffmpeg version 4.3.1 Copyright (c) 2000-2020 the FFmpeg developers\n" +
		"built with gcc 10 (GCC)\n"
	version2 = "ffmpeg version 2.1.3 Copyright (c) 2000-2020 the FFmpeg developers\n"

	probeJSON = `{
	"streams": [
		{"index": 0, "codec_name": "h264", "codec_tag_string": "avc1"},
		{"index": 2, "codec_type": "data", "codec_tag_string": "tmcd"},
		{"index": 3, "codec_name": "bin_data", "codec_type": "data", "codec_tag_string": "gpmd"}
	]
}`

	probeText = `Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'GH010039.MP4':
    Stream #0:1(eng): Audio: aac (LC) (mp4a / 0x6134706D), 48000 Hz, stereo, fltp, 189 kb/s (default)
    Stream #0:2(eng): Data: none (tmcd / 0x64636D74), 0 kb/s (default)
    Stream #0:3(eng): Data: none (gpmd / 0x646D7067), 29 kb/s (default)
`
)

func TestFakeProcess(t *testing.T) {
	if os.Getenv("GO_TEST_PROCESS") != "1" {
		return
	}
	if os.Getenv("SLEEP") == "1" {
		time.Sleep(1 * time.Hour)
	}
	if os.Getenv("EXIT255") == "1" {
		fmt.Fprint(os.Stdout, "partial")
		if os.Getenv("TRAP") == "1" {
			// Exit like ffmpeg does when interrupted.
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt)
			<-stop
		}
		os.Exit(255)
	}

	args := strings.Fields(os.Getenv("FAKE_ARGS"))
	switch {
	case len(args) == 0:
		fmt.Fprintf(os.Stdout, "%v", "out")
		fmt.Fprintf(os.Stderr, "%v", "err")
	case args[0] == "-version":
		fmt.Fprint(os.Stdout, os.Getenv("FAKE_VERSION"))
	case args[0] == "-print_format":
		fmt.Fprint(os.Stdout, os.Getenv("FAKE_PROBE"))
	case args[0] == "-y":
		fmt.Fprint(os.Stderr, "extracting\n")
		fmt.Fprint(os.Stdout, "raw:"+args[len(args)-4])
	default:
		fmt.Fprint(os.Stderr, os.Getenv("FAKE_PROBE"))
	}
	os.Exit(0)
}

func fakeExecCommand(env ...string) *exec.Cmd {
	cs := []string{"-test.run=TestFakeProcess"}
	cmd := exec.Command(os.Args[0], cs...)
	cmd.Env = []string{"GO_TEST_PROCESS=1"}
	cmd.Env = append(cmd.Env, env...)
	return cmd
}

func TestProcess(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		p := NewProcess(fakeExecCommand())
		err := p.Start(ctx)
		require.NoError(t, err)
	})
	t.Run("startWithLogger", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var mu sync.Mutex
		var logs []string
		logFunc := func(msg string) {
			mu.Lock()
			logs = append(logs, "test "+msg)
			mu.Unlock()
		}

		p := NewProcess(fakeExecCommand()).
			Timeout(0).
			StdoutLogger(logFunc).
			StderrLogger(logFunc)

		err := p.Start(ctx)
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"test stdout: out", "test stderr: err"}, logs)
	})
	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		p := NewProcess(fakeExecCommand("SLEEP=1")).Timeout(10 * time.Millisecond)
		err := p.Start(ctx)
		require.Error(t, err)
	})

	t.Run("exit255", func(t *testing.T) {
		var stdout strings.Builder
		cmd := fakeExecCommand("EXIT255=1")
		cmd.Stdout = &stdout

		err := NewProcess(cmd).Start(context.Background())
		require.NoError(t, err)
		require.Equal(t, "partial", stdout.String())
	})
	t.Run("interruptedExit255", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()

		var stdout strings.Builder
		cmd := fakeExecCommand("EXIT255=1", "TRAP=1")
		cmd.Stdout = &stdout

		err := NewProcess(cmd).Timeout(5 * time.Second).Start(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	_, pw, err := os.Pipe()
	require.NoError(t, err)

	t.Run("stdoutErr", func(t *testing.T) {
		cmd := fakeExecCommand()
		cmd.Stdout = pw

		p := process{cmd: cmd}.
			StdoutLogger(func(string) {})

		err := p.Start(context.Background())
		require.Error(t, err)
	})
	t.Run("stderrErr", func(t *testing.T) {
		cmd := fakeExecCommand()
		cmd.Stderr = pw

		p := process{cmd: cmd}.
			StderrLogger(func(string) {})

		err := p.Start(context.Background())
		require.Error(t, err)
	})
}

func TestParseVersion(t *testing.T) {
	cases := map[string]struct {
		input    string
		expected Version
	}{
		"release": {
			version4,
			Version{4, 3, 1},
		},
		"old": {
			version2,
			Version{2, 1, 3},
		},
		"git": {
			"ffmpeg version N-109745-g7d49fef8b4 Copyright (c) 2000-2023 the FFmpeg developers",
			Version{4, 109745, 0},
		},
		"gitDated": {
			"ffmpeg version N-109674-gc0bc804e55-20230127 Copyright (c) 2000-2023",
			Version{109674, 0, 20230127},
		},
		"gyan": {
			"ffmpeg version 2023-01-25-git-2c3107c3e9-essentials_build-www.gyan.dev Copyright",
			Version{2023, 1, 25},
		},
		"noValues": {
			"ffmpeg version 5 Copyright",
			Version{},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			v, err := ParseVersion(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, v)
		})
	}

	_, err := ParseVersion("command not found\nx")
	require.ErrorIs(t, err, ErrVersion)
}

func TestParseProbe(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		track, err := ParseProbeJSON([]byte(probeJSON))
		require.NoError(t, err)
		require.Equal(t, Track{Index: 3, Info: "Stream 3[3], bin_data (gpmd)"}, track)
	})
	t.Run("jsonNoTrack", func(t *testing.T) {
		_, err := ParseProbeJSON([]byte(`{"streams": [{"index": 0}]}`))
		require.ErrorIs(t, err, ErrNoMetadataTrack)
	})
	t.Run("jsonInvalid", func(t *testing.T) {
		_, err := ParseProbeJSON([]byte(`{`))
		require.Error(t, err)
	})
	t.Run("text", func(t *testing.T) {
		track, err := ParseProbeText([]byte(probeText))
		require.NoError(t, err)
		require.Equal(t, 3, track.Index)
		require.Equal(t, "Stream #0:3(eng): Data: none (gpmd", track.Info)
	})
	t.Run("textHexID", func(t *testing.T) {
		input := "Stream #0:3[0x4](eng): Data: bin_data (gpmd / 0x646D7067)"
		track, err := ParseProbeText([]byte(input))
		require.NoError(t, err)
		require.Equal(t, 3, track.Index)
	})
	t.Run("textNoTrack", func(t *testing.T) {
		_, err := ParseProbeText([]byte("Stream #0:0(eng): Video: h264"))
		require.ErrorIs(t, err, ErrNoMetadataTrack)
	})
}

func newTestFFMPEG(version string, probe string) (*FFMPEG, *[]string) {
	var mu sync.Mutex
	var logs []string
	f := New("ffmpeg", "ffprobe", func(msg string) {
		mu.Lock()
		logs = append(logs, msg)
		mu.Unlock()
	})
	f.command = func(name string, args ...string) *exec.Cmd {
		return fakeExecCommand(
			"FAKE_ARGS="+strings.Join(args, " "),
			"FAKE_VERSION="+version,
			"FAKE_PROBE="+probe,
		)
	}
	return f, &logs
}

func TestReadTelemetry(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		f, logs := newTestFFMPEG(version4, probeJSON)

		data, track, err := f.ReadTelemetry(context.Background(), "video.mp4")
		require.NoError(t, err)
		require.Equal(t, 3, track.Index)
		require.Equal(t, "raw:0:3", string(data))
		require.Contains(t, *logs, "stderr: extracting")
	})
	t.Run("text", func(t *testing.T) {
		f, _ := newTestFFMPEG(version2, probeText)

		data, track, err := f.ReadTelemetry(context.Background(), "video.mp4")
		require.NoError(t, err)
		require.Equal(t, 3, track.Index)
		require.Equal(t, "raw:0:3", string(data))
	})
	t.Run("noTrack", func(t *testing.T) {
		f, _ := newTestFFMPEG(version4, `{"streams": []}`)

		_, _, err := f.ReadTelemetry(context.Background(), "video.mp4")
		require.ErrorIs(t, err, ErrNoMetadataTrack)
	})
	t.Run("badVersion", func(t *testing.T) {
		f, _ := newTestFFMPEG("x", probeJSON)

		_, err := f.MetadataTrack(context.Background(), "video.mp4")
		require.ErrorIs(t, err, ErrVersion)
	})
}
