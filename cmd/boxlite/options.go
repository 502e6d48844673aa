package main

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
	"github.com/urfave/cli"

	"github.com/qidi1/boxlite/types"
)

// processResourceManagementFlags is shared by create and run: the process,
// resource, and management flag groups from §6.1.
var processResourceManagementFlags = []cli.Flag{
	cli.BoolFlag{Name: "interactive, i", Usage: "keep stdin open"},
	cli.BoolFlag{Name: "tty, t", Usage: "allocate a pseudo-TTY"},
	cli.StringSliceFlag{Name: "env, e", Usage: "set environment variable KEY[=VALUE] (repeatable)"},
	cli.StringFlag{Name: "workdir, w", Usage: "working directory inside the guest"},
	cli.UintFlag{Name: "cpus", Value: uint(types.DefaultCpus), Usage: "number of vCPUs (capped at 255)"},
	cli.StringFlag{Name: "memory", Value: "512m", Usage: "memory size, e.g. \"512m\", \"2g\""},
	cli.StringFlag{Name: "name", Usage: "assign a name to the box"},
	cli.BoolFlag{Name: "detach, d", Usage: "run in the background and print the box id"},
	cli.BoolFlag{Name: "rm", Usage: "automatically remove the box when it exits"},
	cli.StringSliceFlag{Name: "publish, p", Usage: "publish a guest port GUEST[:HOST][/udp] (repeatable)"},
	cli.StringSliceFlag{Name: "volume, v", Usage: "bind mount HOST:TAG[:ro] (repeatable)"},
	cli.StringFlag{Name: "security", Value: string(types.SecurityStandard), Usage: "security preset: development, standard, or maximum"},
}

// buildBoxOptions assembles a types.BoxOptions from create/run's shared
// flag set. The image reference is the command's first positional arg.
func buildBoxOptions(c *cli.Context, goos string) (types.BoxOptions, string, error) {
	imageRef := c.Args().First()
	if imageRef == "" {
		return types.BoxOptions{}, "", fmt.Errorf("an image reference is required")
	}

	memBytes, err := units.RAMInBytes(c.String("memory"))
	if err != nil {
		return types.BoxOptions{}, "", fmt.Errorf("invalid --memory %q: %w", c.String("memory"), err)
	}

	env, err := parseEnv(c.StringSlice("env"))
	if err != nil {
		return types.BoxOptions{}, "", err
	}

	ports, err := parsePorts(c.StringSlice("publish"))
	if err != nil {
		return types.BoxOptions{}, "", err
	}

	volumes, err := parseVolumes(c.StringSlice("volume"))
	if err != nil {
		return types.BoxOptions{}, "", err
	}

	preset := types.SecurityPreset(c.String("security"))
	opts := types.BoxOptions{
		Image:       imageRef,
		Cpus:        uint32(c.Uint("cpus")),
		MemoryMiB:   uint64(memBytes) / (1024 * 1024),
		Env:         env,
		Ports:       ports,
		Volumes:     volumes,
		Security:    types.ApplySecurityPreset(preset, goos),
		AutoRemove:  c.Bool("rm"),
		Detach:      c.Bool("detach"),
		Name:        c.String("name"),
		Registries:  c.GlobalStringSlice("registry"),
		Workdir:     c.String("workdir"),
		Interactive: c.Bool("interactive"),
		TTY:         c.Bool("tty"),
	}
	if err := opts.Sanitize(goos); err != nil {
		return types.BoxOptions{}, "", err
	}
	return opts, c.String("name"), nil
}

func parseEnv(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		} else {
			env[parts[0]] = ""
		}
	}
	return env, nil
}

func parsePorts(specs []string) ([]types.PortSpec, error) {
	var ports []types.PortSpec
	for _, spec := range specs {
		protocol := "tcp"
		if idx := strings.LastIndex(spec, "/"); idx != -1 {
			protocol = spec[idx+1:]
			spec = spec[:idx]
		}
		parts := strings.SplitN(spec, ":", 2)
		guest, err := parsePort(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid --publish %q: %w", spec, err)
		}
		p := types.PortSpec{GuestPort: guest, Protocol: protocol}
		if len(parts) == 2 {
			host, err := parsePort(parts[1])
			if err != nil {
				return nil, fmt.Errorf("invalid --publish %q: %w", spec, err)
			}
			p.HostPort = &host
		}
		ports = append(ports, p)
	}
	return ports, nil
}

func parsePort(s string) (uint16, error) {
	var v uint16
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

func parseVolumes(specs []string) ([]types.VolumeSpec, error) {
	var volumes []types.VolumeSpec
	for _, spec := range specs {
		readOnly := false
		parts := strings.Split(spec, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid --volume %q: expected HOST:TAG[:ro]", spec)
		}
		if len(parts) == 3 && parts[2] == "ro" {
			readOnly = true
		}
		volumes = append(volumes, types.VolumeSpec{HostPath: parts[0], Tag: parts[1], ReadOnly: readOnly})
	}
	return volumes, nil
}
