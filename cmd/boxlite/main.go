// Command boxlite is the operator-facing CLI: run/exec/create/list/rm/
// start/stop/restart/pull/images/cp/inspect/completion against a Runtime
// façade (§4.1, §6.1), structured the way the teacher's cli/main.go wires
// urfave/cli global flags, a package-level logger, and one cli.Command per
// subcommand.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	_ "github.com/qidi1/boxlite/engine/qemuengine"

	"github.com/qidi1/boxlite/block"
	"github.com/qidi1/boxlite/image"
	"github.com/qidi1/boxlite/layout"
	"github.com/qidi1/boxlite/rootfs"
	"github.com/qidi1/boxlite/runtime"
	"github.com/qidi1/boxlite/runtimeconfig"
)

const name = "boxlite"

// boxliteLog is the CLI-wide logger, installed once global flags are
// parsed (mirrors the teacher's package-level kataLog pattern).
var boxliteLog = logrus.NewEntry(logrus.New())

var debug = false

func main() {
	app := cli.NewApp()
	app.Name = name
	app.Usage = "run OCI container images as microVMs"
	app.Version = "0.1.0"

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug",
			Usage: "enable debug-level logging",
		},
		cli.StringFlag{
			Name:  "home",
			Usage: "home directory (default: $BOXLITE_HOME or ~/.boxlite)",
		},
		cli.StringSliceFlag{
			Name:  "registry",
			Usage: "registry to try, in order (repeatable)",
		},
	}

	app.Before = func(c *cli.Context) error {
		debug = c.GlobalBool("debug")
		if debug {
			boxliteLog.Logger.SetLevel(logrus.DebugLevel)
		}
		return nil
	}

	app.Commands = []cli.Command{
		createCommand,
		runCommand,
		execCommand,
		listCommand,
		rmCommand,
		startCommand,
		stopCommand,
		restartCommand,
		pullCommand,
		imagesCommand,
		cpCommand,
		inspectCommand,
		completionCommand,
	}

	if err := app.Run(os.Args); err != nil {
		if _, isExitCode := err.(*exitCodeError); !isExitCode {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		}
		os.Exit(exitCodeFor(err))
	}
}

// imageCache opens the local image cache under this process's home
// directory, for commands (pull, images) that only need image lookups.
func imageCache(c *cli.Context) (*image.LocalCache, error) {
	home, err := layout.NewHome(c.GlobalString("home"))
	if err != nil {
		return nil, err
	}
	return image.NewLocalCache(home.ImagesDir())
}

// newRuntime opens the home directory, store, and image cache this process
// will use for the invoked command, and constructs the single Runtime
// façade every subcommand shares (§4.1).
func newRuntime(c *cli.Context) (*runtime.Runtime, error) {
	cache, err := imageCache(c)
	if err != nil {
		return nil, err
	}

	home, err := layout.NewHome(c.GlobalString("home"))
	if err != nil {
		return nil, err
	}
	fileCfg := runtimeconfig.Load(home.ConfigPath(), boxliteLog)

	registries := c.GlobalStringSlice("registry")
	if len(registries) == 0 {
		registries = fileCfg.Registries
	}
	shim := shimPath()
	if fileCfg.ShimPath != "" {
		shim = fileCfg.ShimPath
	}

	return runtime.New(runtime.Options{
		HomeDir:     c.GlobalString("home"),
		ShimPath:    shim,
		Puller:      cache,
		DiskBuilder: &block.QemuImgBuilder{Path: "qemu-img"},
		Caps:        rootfs.Capabilities{SupportsVirtioFS: true, SupportsOverlayMount: true},
		Registries:  registries,
		Logger:      boxliteLog,
	})
}

// shimPath resolves the boxlite-shim binary: alongside this executable if
// present, else relying on $PATH.
func shimPath() string {
	if exe, err := os.Executable(); err == nil {
		candidate := exe + "-shim"
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate
		}
	}
	return "boxlite-shim"
}
