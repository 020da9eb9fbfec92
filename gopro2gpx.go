// SPDX-License-Identifier: GPL-2.0-or-later

package gopro2gpx

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"gopro2gpx/pkg/ffmpeg"
	"gopro2gpx/pkg/gpmf"
	"gopro2gpx/pkg/log"
	"gopro2gpx/pkg/mp4"
	"gopro2gpx/pkg/storage"
	"gopro2gpx/pkg/system"
	"gopro2gpx/pkg/track"

	"github.com/google/uuid"
)

// ErrUsage invalid command line.
var ErrUsage = errors.New("usage")

// Run converts the files named on the command line.
func Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := run(ctx, os.Args[1:], os.Stdout, hooks)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if errors.Is(err, ErrUsage) {
		os.Exit(2)
	}
	return err
}

// Flags command line arguments.
type Flags struct {
	EnvPath   string
	Verbose   int
	Binary    bool
	Dump      bool
	Files     []string
	Output    string
	Formats   []string
	DopLimit  int
	TimeShift storage.Duration

	SkipBadFix  bool
	SkipHighDop bool

	// Flags given on the command line.
	set map[string]bool
}

// ParseFlags parses the arguments without the program name.
func ParseFlags(args []string, output io.Writer) (*Flags, error) {
	f := &Flags{set: map[string]bool{}}

	fs := flag.NewFlagSet("gopro2gpx", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintln(output, "usage: gopro2gpx [flags] files... outputfile")
		fs.PrintDefaults()
	}

	var formats string
	fs.StringVar(&f.EnvPath, "env", "", "path to env.yaml")
	fs.IntVar(&f.Verbose, "v", 0, "verbosity 0-3")
	fs.BoolVar(&f.Binary, "b", false, "read data from bin file")
	fs.BoolVar(&f.SkipBadFix, "s", false, "skip bad points (GPSFIX=0)")
	fs.BoolVar(&f.SkipHighDop, "skip-dop", false, "skip high dilution of precision points (GPSP>limit)")
	fs.IntVar(&f.DopLimit, "dop-limit", 0, "dilution of precision limit (default 2000)")
	fs.Var(&f.TimeShift, "time-shift", "shift the point times, seconds or a duration like -1h30m")
	fs.StringVar(&formats, "format", "", "comma separated output formats (default gpx,kml)")
	fs.BoolVar(&f.Dump, "dump", false, "write the raw telemetry to <outputfile>.NN.bin")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) {
		f.set[fl.Name] = true
	})

	positional := fs.Args()
	if len(positional) < 2 {
		fs.Usage()
		return nil, fmt.Errorf("%w: missing files or outputfile", ErrUsage)
	}
	f.Files = positional[:len(positional)-1]
	f.Output = positional[len(positional)-1]

	if f.Verbose < 0 || f.Verbose > 3 {
		return nil, fmt.Errorf("%w: -v %v not in 0-3", ErrUsage, f.Verbose)
	}
	if formats != "" {
		for _, format := range strings.Split(formats, ",") {
			if format = strings.TrimSpace(format); format != "" {
				f.Formats = append(f.Formats, format)
			}
		}
	}
	return f, nil
}

// Apply overrides the environment values with the flags that were set.
func (f *Flags) Apply(env *storage.ConfigEnv) {
	if f.set["s"] {
		env.SkipBadFix = f.SkipBadFix
	}
	if f.set["skip-dop"] {
		env.SkipHighDop = f.SkipHighDop
	}
	if f.set["dop-limit"] && f.DopLimit > 0 {
		env.DopLimit = f.DopLimit
	}
	if f.set["time-shift"] {
		env.TimeShift = f.TimeShift
	}
	if len(f.Formats) != 0 {
		env.Formats = f.Formats
	}
}

// LogLevel highest level printed to stdout.
func (f *Flags) LogLevel() log.Level {
	if f.Verbose >= 1 {
		return log.LevelDebug
	}
	return log.LevelInfo
}

func run(ctx context.Context, args []string, stdout io.Writer, hooks *hookList) error {
	flags, err := ParseFlags(args, stdout)
	if err != nil {
		return err
	}

	envPath := flags.EnvPath
	if envPath == "" {
		envPath, err = storage.EnvPath(runtime.GOOS, os.Getenv)
		if err != nil {
			return fmt.Errorf("could not find env.yaml: %w", err)
		}
	}
	env, err := storage.LoadConfigEnv(envPath, runtime.GOOS)
	if err != nil {
		return fmt.Errorf("could not get environment config: %w", err)
	}
	flags.Apply(env)
	hooks.env(env)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := &sync.WaitGroup{}
	app := newApp(*env, flags, wg, hooks)

	err = app.run(ctx, stdout)

	app.Logger.Flush()
	cancel()
	wg.Wait()
	return err
}

// App converts one set of input files.
type App struct {
	Env    storage.ConfigEnv
	Flags  *Flags
	Logger *log.Logger
	RunID  string

	logDB  *log.DB
	ffmpeg *ffmpeg.FFMPEG
	system *system.System
	hooks  *hookList
}

func newApp(env storage.ConfigEnv, flags *Flags, wg *sync.WaitGroup, hooks *hookList) *App {
	sources := append([]string{"app", "ffmpeg", "gpmf", "mp4", "track"}, hooks.logSource...)
	logger := log.NewLogger(wg, sources)
	runID := uuid.NewString()

	ffmpegLog := func(msg string) {
		logger.Debug().Src("ffmpeg").Run(runID).Msg(msg)
	}

	return &App{
		Env:    env,
		Flags:  flags,
		Logger: logger,
		RunID:  runID,

		logDB:  log.NewDB(env.LogDB, wg),
		ffmpeg: ffmpeg.New(env.FFmpegBin, env.FFprobeBin, ffmpegLog),
		system: system.New(),
		hooks:  hooks,
	}
}

func (app *App) run(ctx context.Context, stdout io.Writer) error {
	if err := app.Logger.Start(ctx); err != nil {
		return fmt.Errorf("could not start logger: %w", err)
	}
	app.Logger.LogToWriter(ctx, stdout, app.Flags.LogLevel())

	if err := app.Env.PrepareEnvironment(); err != nil {
		return fmt.Errorf("could not prepare environment: %w", err)
	}
	if err := app.logDB.Init(ctx); err != nil {
		// Continue even if log database is corrupt.
		app.logError("could not initialize log database: %v", err)
	} else {
		app.logDB.SaveLogs(ctx, app.Logger)
	}

	app.hooks.log(app.Logger)
	if err := app.hooks.appRun(ctx); err != nil {
		return err
	}

	// Validate formats before doing any work.
	renderers := make([]RenderFunc, len(app.Env.Formats))
	for i, format := range app.Env.Formats {
		fn, err := app.hooks.renderer(format)
		if err != nil {
			return err
		}
		renderers[i] = fn
	}

	files, err := app.inputs()
	if err != nil {
		return err
	}
	app.debug("run %v, files: %v", app.RunID, files)
	if info, err := app.system.Info(); err == nil {
		app.debug("%v", info)
	}

	buffers, err := app.extract(ctx, files)
	if err != nil {
		return err
	}

	result, highlights, err := app.process(files, buffers)
	if err != nil {
		return err
	}

	for _, line := range result.Summary(app.Env.DopLimit) {
		app.info("%v", line)
	}

	if len(result.Points) == 0 {
		app.info("can't create file. no GPS info in %v. exiting", files)
		return nil
	}

	data := RenderData{Result: result, Highlights: highlights}
	for i, fn := range renderers {
		path := app.Flags.Output + "." + app.Env.Formats[i]
		if err := writeOutput(path, fn, data); err != nil {
			return err
		}
		app.info("saved %v", path)
	}
	return nil
}

func (app *App) inputs() ([]string, error) {
	exts := storage.VideoExts
	if app.Flags.Binary {
		exts = []string{".bin"}
	}
	return storage.NewOSCrawler(exts...).Inputs(app.Flags.Files)
}

// extract reads the telemetry of every file in parallel,
// the buffers are returned in input order.
func (app *App) extract(ctx context.Context, files []string) ([][]byte, error) {
	buffers := make([][]byte, len(files))
	errs := make([]error, len(files))

	sem := make(chan struct{}, app.system.Workers(len(files)))
	var wg sync.WaitGroup
	for i, file := range files {
		wg.Add(1)
		go func(i int, file string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			defer func() { <-sem }()

			buffers[i], errs[i] = app.readTelemetry(ctx, file)
		}(i, file)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return buffers, nil
}

func (app *App) readTelemetry(ctx context.Context, file string) ([]byte, error) {
	if app.Flags.Binary {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read binary: %w", err)
		}
		return data, nil
	}

	data, stream, err := app.ffmpeg.ReadTelemetry(ctx, file)
	if err != nil {
		return nil, err
	}
	app.info("%v: metadata track %v", filepath.Base(file), stream.Info)
	return data, nil
}

// process decodes the buffers in input order and feeds a single reducer.
func (app *App) process(files []string, buffers [][]byte) (*track.Result, gpmf.Highlights, error) {
	parser := gpmf.NewParser(app.Logger, gpmf.ParserConfig{
		SkipTags: app.Env.SkipTags,
		RunID:    app.RunID,
		Verbose:  app.Flags.Verbose >= 3,
	})
	reducer := track.NewReducer(app.Logger, track.Options{
		SkipBadFix:  app.Env.SkipBadFix,
		SkipHighDop: app.Env.SkipHighDop,
		DopLimit:    app.Env.DopLimit,
		TimeShift:   time.Duration(app.Env.TimeShift),
	}, app.RunID)

	var highlights gpmf.Highlights
	for num, file := range files {
		buf := buffers[num]

		if app.Flags.Dump || app.Flags.Verbose == 2 {
			path, err := storage.WriteDump(app.Flags.Output, num, buf)
			if err != nil {
				return nil, nil, err
			}
			app.info("creating output file for binary data: %v", path)
		}

		if !app.Flags.Binary {
			highlights = append(highlights, app.highlights(file)...)
		}

		decoded, err := parser.Parse(buf)
		if err != nil {
			return nil, nil, fmt.Errorf("%v: %w", file, err)
		}
		if err := reducer.Feed(decoded); err != nil {
			return nil, nil, fmt.Errorf("%v: %w", file, err)
		}
	}
	return reducer.Result(), highlights, nil
}

func (app *App) highlights(file string) gpmf.Highlights {
	highlights, err := mp4.ReadHighlights(file)
	if err != nil {
		log.Warn(app.Logger).Src("mp4").Run(app.RunID).
			Msgf("%v: could not read highlights: %v", filepath.Base(file), err)
		return nil
	}
	if len(highlights) != 0 {
		log.Info(app.Logger).Src("mp4").Run(app.RunID).
			Msgf("%v: found %v highlight(s)", filepath.Base(file), len(highlights))
	}
	return highlights
}

func writeOutput(path string, fn RenderFunc, data RenderData) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := fn(file, data); err != nil {
		file.Close()
		return fmt.Errorf("render %v: %w", path, err)
	}
	return file.Close()
}

func (app *App) info(format string, v ...interface{}) {
	app.Logger.Info().Src("app").Run(app.RunID).Msgf(format, v...)
}

func (app *App) debug(format string, v ...interface{}) {
	app.Logger.Debug().Src("app").Run(app.RunID).Msgf(format, v...)
}

func (app *App) logError(format string, v ...interface{}) {
	app.Logger.Error().Src("app").Run(app.RunID).Msgf(format, v...)
}
