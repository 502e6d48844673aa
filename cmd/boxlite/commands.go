package main

import (
	"context"
	"fmt"
	"os"
	goruntime "runtime"
	"sync"

	"github.com/containerd/console"
	"github.com/urfave/cli"

	"github.com/qidi1/boxlite/boxerrors"
	"github.com/qidi1/boxlite/guestrpc"
	"github.com/qidi1/boxlite/runtime"
	"github.com/qidi1/boxlite/types"
)

var createCommand = cli.Command{
	Name:      "create",
	Usage:     "create a box without starting it",
	ArgsUsage: "<image>",
	Flags:     processResourceManagementFlags,
	Action: func(c *cli.Context) error {
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.Close()

		opts, name, err := buildBoxOptions(c, goruntime.GOOS)
		if err != nil {
			return err
		}
		box, err := rt.Create(context.Background(), opts, name)
		if err != nil {
			return err
		}
		fmt.Println(box.ID())
		return nil
	},
}

var runCommand = cli.Command{
	Name:      "run",
	Usage:     "create and start a box, running its entrypoint",
	ArgsUsage: "<image>",
	Flags:     processResourceManagementFlags,
	Action: func(c *cli.Context) error {
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.Close()

		opts, name, err := buildBoxOptions(c, goruntime.GOOS)
		if err != nil {
			return err
		}

		ctx := context.Background()
		box, err := rt.Create(ctx, opts, name)
		if err != nil {
			return err
		}
		if err := box.Start(ctx); err != nil {
			return err
		}

		if opts.Detach {
			fmt.Println(box.ID())
			return nil
		}

		exitCode, execErr := runForeground(ctx, box, opts)
		if opts.AutoRemove {
			if err := rt.Remove(ctx, string(box.ID()), true); err != nil {
				boxliteLog.WithError(err).Warn("failed to auto-remove box after run")
			}
		}
		if execErr != nil {
			return execErr
		}
		if exitCode != 0 {
			return &exitCodeError{code: exitCode}
		}
		return nil
	},
}

var execCommand = cli.Command{
	Name:      "exec",
	Usage:     "run a command inside a running box",
	ArgsUsage: "<box> <command> [args...]",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "interactive, i", Usage: "keep stdin open"},
		cli.BoolFlag{Name: "tty, t", Usage: "allocate a pseudo-TTY"},
		cli.StringFlag{Name: "workdir, w", Usage: "working directory inside the guest"},
	},
	Action: func(c *cli.Context) error {
		args := c.Args()
		if len(args) < 2 {
			return fmt.Errorf("expected <box> <command> [args...]")
		}

		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := context.Background()
		box, err := rt.Get(ctx, args.First())
		if err != nil {
			return err
		}

		rows, cols, err := ttyWindowSize(c.Bool("tty"))
		if err != nil {
			return err
		}

		req := guestrpc.ExecRequest{
			Executable: args.Get(1),
			Args:       args[2:],
			Workdir:    c.String("workdir"),
			TTY:        c.Bool("tty"),
			Rows:       rows,
			Cols:       cols,
		}
		exec, err := box.Exec(ctx, req)
		if err != nil {
			return err
		}

		exitCode := runExecIO(exec, c.Bool("interactive") || c.Bool("tty"))
		if exitCode != 0 {
			return &exitCodeError{code: exitCode}
		}
		return nil
	},
}

// runForeground execs the image's resolved entrypoint+cmd as a guest RPC
// call and attaches to it, distinct from the guest control agent Start
// already brought up (§4.2's GuestEntrypoint launches boxlite-guest
// itself, not the image's workload).
func runForeground(ctx context.Context, box *runtime.Box, opts types.BoxOptions) (int, error) {
	workload := box.Workload()
	if len(workload) == 0 {
		return 1, fmt.Errorf("image has no entrypoint or cmd to run")
	}

	env := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	rows, cols, err := ttyWindowSize(opts.TTY)
	if err != nil {
		return 1, err
	}

	exec, err := box.Exec(ctx, guestrpc.ExecRequest{
		Executable: workload[0],
		Args:       workload[1:],
		Env:        env,
		Workdir:    opts.Workdir,
		TTY:        opts.TTY,
		Rows:       rows,
		Cols:       cols,
	})
	if err != nil {
		return 1, err
	}
	return runExecIO(exec, opts.Interactive || opts.TTY), nil
}

// ttyWindowSize resolves the host terminal's current window size for a TTY
// request. It returns an error when tty is requested but stdin isn't
// actually attached to a terminal (§4.4: the -t flag against piped/redirected
// stdin is a user error, not a silent zero-size PTY), mirroring the
// "the input device is not a TTY" diagnostic Docker-style CLIs give.
func ttyWindowSize(tty bool) (rows, cols uint16, err error) {
	if !tty {
		return 0, 0, nil
	}
	con, err := console.ConsoleFromFile(os.Stdin)
	if err != nil {
		return 0, 0, fmt.Errorf("the input device is not a TTY")
	}
	defer con.Reset()
	size, err := con.Size()
	if err != nil {
		return 0, 0, fmt.Errorf("the input device is not a TTY")
	}
	return size.Height, size.Width, nil
}

// runExecIO pumps stdin/stdout for one Execution until it exits, using the
// same buffer-pooled io pump shape as the teacher's cli/kata-exec.go. It
// returns the guest's exit code.
func runExecIO(exec *guestrpc.Execution, interactive bool) int {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for chunk := range exec.Output() {
			switch chunk.Stream {
			case guestrpc.StreamStdout:
				_, _ = os.Stdout.Write(chunk.Data)
			case guestrpc.StreamStderr:
				_, _ = os.Stderr.Write(chunk.Data)
			}
		}
	}()

	if interactive {
		stdinCh := exec.Stdin()
		go pumpStdin(stdinCh)
	}

	result := exec.Wait(context.Background())
	wg.Wait()
	return int(result.ExitCode)
}

func pumpStdin(ch chan<- []byte) {
	defer close(ch)
	con := console.Current()
	defer con.Reset()
	_ = con.SetRaw()

	buf := make([]byte, 32<<10)
	for {
		n, err := con.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			ch <- data
		}
		if err != nil {
			return
		}
	}
}

var listCommand = cli.Command{
	Name:    "list",
	Aliases: []string{"ls", "ps"},
	Usage:   "list boxes",
	Action: func(c *cli.Context) error {
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.Close()

		infos, err := rt.ListInfo(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("%-14s %-20s %-10s %-10s\n", "ID", "NAME", "STATUS", "IMAGE")
		for _, info := range infos {
			id := string(info.Config.ID)
			if len(id) > 12 {
				id = id[:12]
			}
			fmt.Printf("%-14s %-20s %-10s %-10s\n", id, info.Config.Name, info.State.Status, info.Config.Options.Image)
		}
		return nil
	},
}

var rmCommand = cli.Command{
	Name:      "rm",
	Usage:     "remove a box",
	ArgsUsage: "<box>",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "force, f", Usage: "stop a running box before removing it"},
	},
	Action: func(c *cli.Context) error {
		if c.Args().First() == "" {
			return fmt.Errorf("a box id or name is required")
		}
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.Close()
		return rt.Remove(context.Background(), c.Args().First(), c.Bool("force"))
	},
}

var startCommand = cli.Command{
	Name:      "start",
	Usage:     "start a configured or stopped box",
	ArgsUsage: "<box>",
	Action: func(c *cli.Context) error {
		if c.Args().First() == "" {
			return fmt.Errorf("a box id or name is required")
		}
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := context.Background()
		box, err := rt.Get(ctx, c.Args().First())
		if err != nil {
			return err
		}
		return box.Start(ctx)
	},
}

var stopCommand = cli.Command{
	Name:      "stop",
	Usage:     "stop a running box",
	ArgsUsage: "<box>",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "timeout, t", Usage: "seconds to wait before force-killing (-1 to wait forever, default 10)"},
	},
	Action: func(c *cli.Context) error {
		if c.Args().First() == "" {
			return fmt.Errorf("a box id or name is required")
		}
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := context.Background()
		box, err := rt.Get(ctx, c.Args().First())
		if err != nil {
			return err
		}
		var timeout *int
		if c.IsSet("timeout") {
			v := c.Int("timeout")
			timeout = &v
		}
		return box.Stop(ctx, timeout)
	},
}

var restartCommand = cli.Command{
	Name:      "restart",
	Usage:     "stop then start a box",
	ArgsUsage: "<box>",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "timeout, t", Usage: "seconds to wait before force-killing"},
	},
	Action: func(c *cli.Context) error {
		if c.Args().First() == "" {
			return fmt.Errorf("a box id or name is required")
		}
		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := context.Background()
		box, err := rt.Get(ctx, c.Args().First())
		if err != nil {
			return err
		}
		var timeout *int
		if c.IsSet("timeout") {
			v := c.Int("timeout")
			timeout = &v
		}
		if err := box.Stop(ctx, timeout); err != nil {
			return err
		}
		return box.Start(ctx)
	},
}

var pullCommand = cli.Command{
	Name:      "pull",
	Usage:     "resolve an image reference against the local image cache",
	ArgsUsage: "<image>",
	Action: func(c *cli.Context) error {
		ref := c.Args().First()
		if ref == "" {
			return fmt.Errorf("an image reference is required")
		}
		cache, err := imageCache(c)
		if err != nil {
			return err
		}
		img, err := cache.Pull(context.Background(), ref, c.GlobalStringSlice("registry"))
		if err != nil {
			return err
		}
		fmt.Println(img.Reference())
		return nil
	},
}

var imagesCommand = cli.Command{
	Name:  "images",
	Usage: "list cached images",
	Action: func(c *cli.Context) error {
		cache, err := imageCache(c)
		if err != nil {
			return err
		}
		refs, err := cache.List()
		if err != nil {
			return err
		}
		for _, ref := range refs {
			fmt.Println(ref)
		}
		return nil
	},
}

var cpCommand = cli.Command{
	Name:      "cp",
	Usage:     "copy files into or out of a running box (unsupported)",
	ArgsUsage: "<src> <dst>",
	Action: func(c *cli.Context) error {
		return boxerrors.New(boxerrors.Unsupported, "cp: file transfer into a running box is guest-agent functionality outside this runtime's scope")
	},
}

var completionCommand = cli.Command{
	Name:      "completion",
	Usage:     "print a shell completion script",
	ArgsUsage: "<bash|zsh>",
	Action: func(c *cli.Context) error {
		switch c.Args().First() {
		case "bash":
			fmt.Print(bashCompletionScript)
		case "zsh":
			fmt.Print(zshCompletionScript)
		default:
			return fmt.Errorf("unsupported shell %q: expected bash or zsh", c.Args().First())
		}
		return nil
	},
}

const bashCompletionScript = `_boxlite_complete() {
  COMPREPLY=( $(compgen -W "run exec create list ls ps rm start stop restart pull images cp inspect completion" -- "${COMP_WORDS[COMP_CWORD]}") )
}
complete -F _boxlite_complete boxlite
`

const zshCompletionScript = `#compdef boxlite
_arguments '1: :(run exec create list ls ps rm start stop restart pull images cp inspect completion)'
`
