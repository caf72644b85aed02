// Copyright ©2024 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The accel command locates and initializes the native accelerator
// backend libraries, reporting the outcome for each backend family.
// With -serve, the outcome is served over JSON RPC 2 until the command
// is interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/accel/backend"
	public "github.com/kortschak/accel/config"
	"github.com/kortschak/accel/internal/config"
	"github.com/kortschak/accel/internal/slogext"
	"github.com/kortschak/accel/internal/version"
	"github.com/kortschak/accel/internal/xdg"
	"github.com/kortschak/accel/rpc"
)

// Exit status codes.
const (
	success       = 0
	internalError = 1 << (iota - 1)
	invocationError
)

func main() { os.Exit(Main()) }

func Main() int {
	cfgPath := flag.String("config", "", "configuration file path (default $XDG_CONFIG_HOME/accel/config.toml)")
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	v := flag.Bool("version", false, "print version and exit")
	serve := flag.String("serve", "", "serve backend status on the network (unix or tcp) until interrupted")
	addr := flag.String("addr", "", "status service address (default temporary socket or ephemeral localhost port)")
	families := flag.String("families", "", "comma separated list of backend families to initialize (default all configured)")
	flag.Parse()
	if *v {
		err := version.Print()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		return success
	}

	switch *serve {
	case "", "unix", "tcp":
	default:
		flag.Usage()
		return invocationError
	}
	if *addr != "" && *serve == "" {
		fmt.Fprintln(os.Stderr, "-addr requires -serve")
		flag.Usage()
		return invocationError
	}

	var level slog.LevelVar
	err := level.UnmarshalText([]byte(*logging))
	if err != nil {
		flag.Usage()
		return invocationError
	}
	addSource := slogext.NewAtomicBool(*lines)
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// log is the root logger.
	log := slog.New(slogext.GoID{Handler: slogext.NewJSONHandler(os.Stderr, &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	})})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "accel.main"))

	ctx := context.Background()

	path, cfg, err := loadConfig(*cfgPath)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelError, "failed to load configuration", slog.Any("error", err))
		return invocationError
	}
	if cfg != nil {
		if cfg.LogLevel != nil && !set["log"] {
			level.Set(*cfg.LogLevel)
		}
		if cfg.AddSource != nil && !set["lines"] {
			addSource.Store(*cfg.AddSource)
		}
		mlog.LogAttrs(ctx, slog.LevelDebug, "configuration", slog.String("path", path), slog.Any("sum", slogext.Stringer{Stringer: cfg.Sum}))
	} else {
		mlog.LogAttrs(ctx, slog.LevelDebug, "no configuration file, using defaults")
	}

	plans, err := config.Plans(cfg, public.Defaults(), os.LookupEnv)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelError, "invalid backend configuration", slog.Any("error", err))
		return invocationError
	}
	if *families != "" {
		plans, err = filterPlans(plans, strings.Split(*families, ","))
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelError, "invalid families", slog.Any("error", err))
			return invocationError
		}
	}

	selectors := make([]*backend.Selector, len(plans))
	for i, p := range plans {
		selectors[i] = backend.NewSelector(backend.DL{}, p.Family.Descriptor, p.Override, p.Family.Candidates, log)
	}
	defer func() {
		for _, s := range slices.Backward(selectors) {
			err := s.Close()
			if err != nil {
				mlog.LogAttrs(ctx, slog.LevelWarn, "failed to close backend", slog.String("backend", s.Name()), slog.Any("error", err))
			}
		}
	}()

	r := report{Config: path, Backends: make([]backend.Status, len(selectors))}
	if cfg != nil {
		r.Sum = cfg.Sum
	}
	for i, s := range selectors {
		r.Backends[i] = s.Status()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "\t")
	err = enc.Encode(r)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelError, "failed to write report", slog.Any("error", err))
		return internalError
	}

	var missing []string
	for i, p := range plans {
		if p.Required && !selectors[i].IsInitialized() {
			missing = append(missing, p.Family.Name())
		}
	}
	if len(missing) != 0 {
		mlog.LogAttrs(ctx, slog.LevelError, "required backend unavailable", slog.Any("backends", missing))
		return internalError
	}

	if *serve == "" {
		return success
	}
	return serveStatus(ctx, *serve, *addr, selectors, log, mlog)
}

// report is the command's output.
type report struct {
	Config   string           `json:"config,omitempty"`
	Sum      *public.Sum      `json:"sum,omitempty"`
	Backends []backend.Status `json:"backends"`
}

// loadConfig loads the configuration at path. If path is empty, the
// configuration file is searched for in the XDG configuration directories
// and a nil configuration is returned if none is found.
func loadConfig(path string) (string, *config.System, error) {
	if path == "" {
		var err error
		path, err = xdg.Config(filepath.Join("accel", "config.toml"), false)
		if err != nil {
			if errors.Is(err, syscall.ENOENT) {
				return "", nil, nil
			}
			return "", nil, err
		}
	}
	cfg, err := config.Load(path)
	return path, cfg, err
}

// filterPlans returns the plans for the named families in plan order.
func filterPlans(plans []config.Plan, names []string) ([]config.Plan, error) {
	want := make(map[string]bool)
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			want[n] = true
		}
	}
	var filtered []config.Plan
	for _, p := range plans {
		if want[p.Family.Name()] {
			filtered = append(filtered, p)
			delete(want, p.Family.Name())
		}
	}
	if len(want) != 0 {
		unknown := make([]string, 0, len(want))
		for n := range want {
			unknown = append(unknown, n)
		}
		slices.Sort(unknown)
		return nil, fmt.Errorf("unknown or unconfigured families: %s", strings.Join(unknown, ", "))
	}
	return filtered, nil
}

// serveStatus serves the selectors' status until the process receives an
// interrupt or termination signal. A pid lock in the XDG runtime directory
// prevents more than one status server running.
func serveStatus(ctx context.Context, network, addr string, selectors []*backend.Selector, log, mlog *slog.Logger) int {
	runtimeDir, err := xdg.Runtime(rpc.RuntimeDir)
	if err != nil {
		if err != syscall.ENOENT {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
		var ok bool
		runtimeDir, ok = xdg.RuntimeDir()
		if !ok {
			fmt.Fprintln(os.Stderr, "no xdg runtime directory")
			return internalError
		}
		runtimeDir = filepath.Join(runtimeDir, rpc.RuntimeDir)
		err = os.MkdirAll(runtimeDir, 0o700)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internalError
		}
	}
	pidFile := filepath.Join(runtimeDir, "pid")
	fl := flock.New(pidFile)
	ok, err := fl.TryLock()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internalError
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "accel status server is already running")
		return internalError
	}
	defer func() {
		fl.Unlock()
		os.Remove(pidFile)
	}()
	pid := fmt.Sprintln(os.Getpid())
	err = os.WriteFile(pidFile, []byte(pid), 0o600)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internalError
	}

	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ver, err := version.String()
	if err != nil {
		ver = err.Error()
	}
	statusers := make([]rpc.Statuser, len(selectors))
	for i, s := range selectors {
		statusers[i] = s
	}
	srv, err := rpc.NewServer(ctx, network, addr, ver, statusers, jsonrpc2.NetListenOptions{}, log)
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelError, "failed to start status server", slog.Any("error", err))
		return internalError
	}
	mlog.LogAttrs(ctx, slog.LevelInfo, "serving status", slog.String("network", network), slog.String("addr", srv.Addr().String()))

	<-sigCtx.Done()
	mlog.LogAttrs(ctx, slog.LevelInfo, "terminating")
	err = srv.Close()
	if err != nil {
		mlog.LogAttrs(ctx, slog.LevelWarn, "failed to close status server", slog.Any("error", err))
	}
	return success
}
