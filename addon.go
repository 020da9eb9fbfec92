// SPDX-License-Identifier: GPL-2.0-or-later

package gopro2gpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"gopro2gpx/pkg/gpmf"
	"gopro2gpx/pkg/log"
	"gopro2gpx/pkg/storage"
	"gopro2gpx/pkg/track"
)

// RenderData everything a renderer gets to write.
type RenderData struct {
	Result     *track.Result
	Highlights gpmf.Highlights
}

// RenderFunc writes the track in an output format.
type RenderFunc func(w io.Writer, data RenderData) error

type (
	envHook    func(*storage.ConfigEnv)
	logHook    func(*log.Logger)
	appRunHook func(context.Context) error
)

type hookList struct {
	onEnv     []envHook
	onLog     []logHook
	onAppRun  []appRunHook
	renderers map[string]RenderFunc
	logSource []string
}

var hooks = &hookList{
	renderers: map[string]RenderFunc{},
}

// RegisterEnvHook registers hook that's called when environment config is loaded.
func RegisterEnvHook(h envHook) {
	hooks.onEnv = append(hooks.onEnv, h)
}

// RegisterLogHook is used to grab the logger.
func RegisterLogHook(h logHook) {
	hooks.onLog = append(hooks.onLog, h)
}

// RegisterAppRunHook registers hook that's called when app runs.
func RegisterAppRunHook(h appRunHook) {
	hooks.onAppRun = append(hooks.onAppRun, h)
}

// RegisterRenderer registers an output format. The
// format name is also the extension of the output file.
func RegisterRenderer(format string, fn RenderFunc) {
	hooks.renderers[format] = fn
}

// RegisterLogSource adds log source.
func RegisterLogSource(s []string) {
	hooks.logSource = append(hooks.logSource, s...)
}

func (h *hookList) env(env *storage.ConfigEnv) {
	for _, hook := range h.onEnv {
		hook(env)
	}
}

func (h *hookList) log(logger *log.Logger) {
	for _, hook := range h.onLog {
		hook(logger)
	}
}

func (h *hookList) appRun(ctx context.Context) error {
	for _, hook := range h.onAppRun {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ErrUnknownFormat no renderer is registered for the format.
var ErrUnknownFormat = errors.New("unknown output format")

func (h *hookList) renderer(format string) (RenderFunc, error) {
	fn, exist := h.renderers[format]
	if !exist {
		return nil, fmt.Errorf("%w: %q, available: %v", ErrUnknownFormat, format, h.formats())
	}
	return fn, nil
}

func (h *hookList) formats() []string {
	formats := make([]string, 0, len(h.renderers))
	for format := range h.renderers {
		formats = append(formats, format)
	}
	sort.Strings(formats)
	return formats
}
