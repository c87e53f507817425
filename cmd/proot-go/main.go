//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Command proot-go re-roots a command and its descendants into a guest
// filesystem image via ptrace-based path translation (spec.md §1).
//
// Grounded on the teacher's cmd/sysbox-fs/main.go: same CLI library
// (urfave/cli v1), same -log/-log-level/-log-format plumbing and hidden
// -cpu-profiling/-memory-profiling flags wired to github.com/pkg/profile,
// same app.Before/app.Action split -- generalized from a long-running
// FUSE daemon's startup to a one-shot sandbox launcher that exits with
// the traced command's own exit status.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/nestybox/proot-go/config"
	"github.com/nestybox/proot-go/loader"
	"github.com/nestybox/proot-go/ptrace/handlers"
	"github.com/nestybox/proot-go/ptrace/mem"
	"github.com/nestybox/proot-go/ptrace/syscalls"
	"github.com/nestybox/proot-go/ptrace/tracer"
	"github.com/nestybox/proot-go/vfs"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const usage = `proot-go [options] -- command [args...]

proot-go runs command and its descendants re-rooted into a guest
filesystem image, using ptrace to translate guest paths to host paths at
every syscall that names one. No privileges, namespaces, or kernel
modules are required.
`

// version is set at build time via -ldflags, matching the teacher's
// build-time-populated globals in cmd/sysbox-fs/main.go.
var version string

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version, V",
		Usage: "print the version",
	}

	app := cli.NewApp()
	app.Name = "proot-go"
	app.Usage = usage
	app.Version = version
	app.ArgsUsage = "command [args...]"

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rootfs, r",
			Value: "/",
			Usage: "host directory to use as the guest's /",
		},
		cli.StringFlag{
			Name:  "cwd, w",
			Value: "/",
			Usage: "initial guest-rooted working directory",
		},
		cli.StringSliceFlag{
			Name:  "bind, b",
			Usage: "bind HOST at GUEST (\"HOST:GUEST\" or \"HOST\" for GUEST==HOST); repeatable",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "log file path, or empty string for stderr output",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format; must be json or text",
		},
		cli.BoolFlag{
			Name:   "cpu-profiling",
			Usage:  "enable cpu-profiling data collection",
			Hidden: true,
		},
		cli.BoolFlag{
			Name:   "memory-profiling",
			Usage:  "enable memory-profiling data collection",
			Hidden: true,
		},
	}

	app.Before = func(ctx *cli.Context) error {
		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666)
			if err != nil {
				return fmt.Errorf("opening log file %v: %w", path, err)
			}
			logrus.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
		}

		if ctx.GlobalString("log-format") == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})
		}

		switch ctx.GlobalString("log-level") {
		case "debug":
			logrus.SetLevel(logrus.DebugLevel)
		case "info":
			logrus.SetLevel(logrus.InfoLevel)
		case "warning":
			logrus.SetLevel(logrus.WarnLevel)
		case "error":
			logrus.SetLevel(logrus.ErrorLevel)
		case "fatal":
			logrus.SetLevel(logrus.FatalLevel)
		default:
			return fmt.Errorf("log-level %q not recognized", ctx.GlobalString("log-level"))
		}

		return nil
	}

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if ctx.NArg() == 0 {
		return cli.ShowAppHelp(ctx)
	}

	if prof, err := runProfiler(ctx); err != nil {
		return err
	} else if prof != nil {
		defer prof.Stop()
	}

	policy, err := config.Build(config.Options{
		Rootfs: ctx.String("rootfs"),
		Cwd:    ctx.String("cwd"),
		Binds:  ctx.StringSlice("bind"),
		Argv:   ctx.Args(),
	})
	if err != nil {
		return err
	}

	vfsTranslator, err := vfs.New(policy, nil)
	if err != nil {
		return fmt.Errorf("building vfs: %w", err)
	}

	table := syscalls.New()
	memAccessor := mem.New()

	bootstrapPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving proot-go's own path: %w", err)
	}
	loaderPath := bootstrapLoaderPath(bootstrapPath)
	ld := loader.New(loaderPath)

	dispatcher := handlers.New(vfsTranslator, table, ld, logrus.StandardLogger())
	tr := tracer.New(vfsTranslator, table, dispatcher, memAccessor, logrus.StandardLogger())

	exitCode, err := tr.Launch(policy)
	if err != nil {
		return err
	}

	os.Exit(exitCode)
	return nil
}

// bootstrapLoaderPath locates cmd/proot-loader's built binary next to
// proot-go's own, per spec.md §4.4: the loader is a separate executable
// (it must run as a freshly exec'd image with nothing but its own
// already-mapped memory to work with), installed alongside proot-go.
func bootstrapLoaderPath(selfPath string) string {
	dir := selfPath[:len(selfPath)-len("proot-go")]
	return dir + "proot-loader"
}

func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	cpuOn := ctx.Bool("cpu-profiling")
	memOn := ctx.Bool("memory-profiling")
	if cpuOn && memOn {
		return nil, fmt.Errorf("cpu and memory profiling are mutually exclusive")
	}
	if !cpuOn && !memOn {
		return nil, nil
	}
	if cpuOn {
		return profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
	}
	return profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
}
