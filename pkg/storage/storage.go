// SPDX-License-Identifier: GPL-2.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigEnv stores the environment configuration.
type ConfigEnv struct {
	FFmpegBin  string `yaml:"ffmpegBin"`
	FFprobeBin string `yaml:"ffprobeBin"`
	LogDB      string `yaml:"logDB"`

	DopLimit    int      `yaml:"dopLimit"`
	SkipBadFix  bool     `yaml:"skipBadFix"`
	SkipHighDop bool     `yaml:"skipHighDop"`
	TimeShift   Duration `yaml:"timeShift"` // Seconds or a duration string.

	Formats  []string `yaml:"formats"`
	SkipTags []string `yaml:"skipTags"`

	ConfigDir string `yaml:"-"`
}

// ErrPathNotAbsolute path is not absolute.
var ErrPathNotAbsolute = errors.New("path is not absolute")

const (
	appName     = "gopro2gpx"
	envFileName = "env.yaml"

	defaultDopLimit = 2000
)

// DefaultFormats output formats used when none are configured.
var DefaultFormats = []string{"gpx", "kml"}

// NewConfigEnv return new environment configuration.
// goos selects the default binary names.
func NewConfigEnv(envPath string, envYAML []byte, goos string) (*ConfigEnv, error) {
	var env ConfigEnv

	if err := yaml.Unmarshal(envYAML, &env); err != nil {
		return nil, fmt.Errorf("unmarshal env.yaml: %w", err)
	}

	env.ConfigDir = filepath.Dir(envPath)

	exe := ""
	if goos == "windows" {
		exe = ".exe"
	}
	if env.FFmpegBin == "" {
		env.FFmpegBin = "ffmpeg" + exe
	}
	if env.FFprobeBin == "" {
		env.FFprobeBin = "ffprobe" + exe
	}
	if env.LogDB == "" {
		env.LogDB = filepath.Join(env.ConfigDir, "logs.db")
	}
	if env.DopLimit == 0 {
		env.DopLimit = defaultDopLimit
	}
	if len(env.Formats) == 0 {
		env.Formats = append([]string(nil), DefaultFormats...)
	}

	// Bare names are looked up in PATH.
	if isPath(env.FFmpegBin) && !filepath.IsAbs(env.FFmpegBin) {
		return nil, fmt.Errorf("ffmpegBin '%v': %w", env.FFmpegBin, ErrPathNotAbsolute)
	}
	if isPath(env.FFprobeBin) && !filepath.IsAbs(env.FFprobeBin) {
		return nil, fmt.Errorf("ffprobeBin '%v': %w", env.FFprobeBin, ErrPathNotAbsolute)
	}
	if !filepath.IsAbs(env.LogDB) {
		return nil, fmt.Errorf("logDB '%v': %w", env.LogDB, ErrPathNotAbsolute)
	}

	return &env, nil
}

func isPath(bin string) bool {
	return strings.ContainsAny(bin, `/\`)
}

// EnvPath returns the default location of env.yaml.
//
//	Windows: %APPDATA%\gopro2gpx\env.yaml
//	Other:   $XDG_CONFIG_HOME/gopro2gpx/env.yaml
//	         $HOME/.config/gopro2gpx/env.yaml
func EnvPath(goos string, getenv func(string) string) (string, error) {
	if goos == "windows" {
		appData := getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA: %w", os.ErrNotExist)
		}
		return filepath.Join(appData, appName, envFileName), nil
	}
	if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName, envFileName), nil
	}
	home := getenv("HOME")
	if home == "" {
		return "", fmt.Errorf("HOME: %w", os.ErrNotExist)
	}
	return filepath.Join(home, ".config", appName, envFileName), nil
}

// LoadConfigEnv reads env.yaml, a missing file means defaults.
func LoadConfigEnv(envPath string, goos string) (*ConfigEnv, error) {
	if !filepath.IsAbs(envPath) {
		abs, err := filepath.Abs(envPath)
		if err != nil {
			return nil, err
		}
		envPath = abs
	}

	envYAML, err := os.ReadFile(envPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read env.yaml: %w", err)
	}
	return NewConfigEnv(envPath, envYAML, goos)
}

// PrepareEnvironment creates the directory of the log database.
func (env ConfigEnv) PrepareEnvironment() error {
	dir := filepath.Dir(env.LogDB)
	err := os.MkdirAll(dir, 0o700)
	if err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create log directory: %v: %w", dir, err)
	}
	return nil
}
