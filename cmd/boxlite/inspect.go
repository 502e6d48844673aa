package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"

	"github.com/qidi1/boxlite/runtime"
	"github.com/qidi1/boxlite/types"
)

var inspectCommand = cli.Command{
	Name:      "inspect",
	Usage:     "show detailed information about one or more boxes",
	ArgsUsage: "[box...]",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "format, f", Value: "json", Usage: "json, yaml, or a {{ .Field }} template"},
		cli.BoolFlag{Name: "latest, l", Usage: "inspect the most recently created box (cannot be used with box arguments)"},
	},
	Action: func(c *cli.Context) error {
		boxes := []string(c.Args())
		latest := c.Bool("latest")

		if latest && len(boxes) > 0 {
			return fmt.Errorf("--latest and arguments cannot be used together")
		}
		if !latest && len(boxes) == 0 {
			return fmt.Errorf("no names or ids specified")
		}

		rt, err := newRuntime(c)
		if err != nil {
			return err
		}
		defer rt.Close()

		infos, errs := resolveInspectInfos(context.Background(), rt, latest, boxes)

		if len(infos) == 0 {
			fmt.Println("[]")
			if len(errs) > 0 {
				return errs[0]
			}
			return nil
		}

		out, err := renderInspect(infos, c.String("format"))
		if err != nil {
			return err
		}
		fmt.Println(out)

		if len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintln(os.Stderr, "Error:", e)
			}
			return errs[0]
		}
		return nil
	},
}

// resolveInspectInfos resolves --latest or a list of box refs into the
// infos to render plus one error per ref that didn't resolve, mirroring
// the original CLI's resolve_inspect_infos: a partial match still renders
// what was found, with unmatched refs reported as trailing errors.
func resolveInspectInfos(ctx context.Context, rt *runtime.Runtime, latest bool, boxes []string) ([]types.BoxInfo, []error) {
	if latest {
		list, err := rt.ListInfo(ctx)
		if err != nil {
			return nil, []error{err}
		}
		if len(list) == 0 {
			return nil, []error{fmt.Errorf("no boxes to inspect")}
		}
		// ListInfo is newest-first (store.ListInfo's created_at DESC, id
		// ASC ordering), so the latest box is simply the first row.
		return list[:1], nil
	}

	var infos []types.BoxInfo
	var errs []error
	for _, ref := range boxes {
		box, err := rt.Get(ctx, ref)
		if err != nil {
			errs = append(errs, fmt.Errorf("no such box: %s", ref))
			continue
		}
		infos = append(infos, box.Info())
	}
	return infos, errs
}

// inspectView is the JSON shape `inspect` renders, named the way Docker's
// own inspect output is (Id/Image rather than Go's ID/Image) so the
// template aliases below have something concrete to redirect to.
type inspectView struct {
	Id        string                `json:"Id" yaml:"Id"`
	Name      string                `json:"Name" yaml:"Name"`
	Image     string                `json:"Image" yaml:"Image"`
	Status    types.Status          `json:"Status" yaml:"Status"`
	State     inspectStateView      `json:"State" yaml:"State"`
	CreatedAt int64                 `json:"CreatedAt" yaml:"CreatedAt"`
	StartedAt int64                 `json:"StartedAt,omitempty" yaml:"StartedAt,omitempty"`
	StoppedAt int64                 `json:"StoppedAt,omitempty" yaml:"StoppedAt,omitempty"`
	Cpus      uint32                `json:"Cpus" yaml:"Cpus"`
	MemoryMiB uint64                `json:"MemoryMiB" yaml:"MemoryMiB"`
	Env       map[string]string     `json:"Env,omitempty" yaml:"Env,omitempty"`
	Ports     []types.PortSpec      `json:"Ports,omitempty" yaml:"Ports,omitempty"`
	Volumes   []types.VolumeSpec    `json:"Volumes,omitempty" yaml:"Volumes,omitempty"`
	Security  types.SecurityOptions `json:"Security" yaml:"Security"`
}

// inspectStateView is the nested state object the original presenter
// carries alongside the top-level Status string, distinct in that Pid is
// always present (0 when not running) rather than omitted.
type inspectStateView struct {
	Status  types.Status `json:"Status" yaml:"Status"`
	Running bool         `json:"Running" yaml:"Running"`
	Pid     uint32       `json:"Pid" yaml:"Pid"`
}

func toInspectView(info types.BoxInfo) inspectView {
	var pid uint32
	if info.State.PID != nil {
		pid = uint32(*info.State.PID)
	}
	return inspectView{
		Id:     string(info.Config.ID),
		Name:   string(info.Config.Name),
		Image:  info.Config.Options.Image,
		Status: info.State.Status,
		State: inspectStateView{
			Status:  info.State.Status,
			Running: info.State.Status.IsRunning(),
			Pid:     pid,
		},
		CreatedAt: info.Config.CreatedAt,
		StartedAt: info.State.StartedAt,
		StoppedAt: info.State.StoppedAt,
		Cpus:      info.Config.Options.Cpus,
		MemoryMiB: info.Config.Options.MemoryMiB,
		Env:       info.Config.Options.Env,
		Ports:     info.Config.Options.Ports,
		Volumes:   info.Config.Options.Volumes,
		Security:  info.Config.Options.Security,
	}
}

// renderInspect dispatches on format: "json" (default), "yaml", or a
// template of the form "{{ .Field[.Field…] }}" (§6.1, §8.4). ID and
// ImageID are recognized aliases for Id and Image. Output is always
// array-wrapped, even for a single box, matching the original presenter
// list shape; a template format renders one line per box.
func renderInspect(infos []types.BoxInfo, format string) (string, error) {
	views := make([]inspectView, len(infos))
	for i, info := range infos {
		views[i] = toInspectView(info)
	}

	switch format {
	case "", "json":
		data, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	case "yaml":
		data, err := yaml.Marshal(views)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(data), "\n"), nil
	default:
		lines := make([]string, len(views))
		for i, view := range views {
			line, err := renderTemplate(view, format)
			if err != nil {
				return "", err
			}
			lines[i] = line
		}
		return strings.Join(lines, "\n"), nil
	}
}

var inspectFieldAliases = map[string]string{
	"ID":      "Id",
	"ImageID": "Image",
}

// renderTemplate implements the narrow `{{ .Field[.Field…] }}` template
// language from §8.4: a single dotted field path through the inspect view,
// optionally prefixed with "json " to render the resolved value as JSON
// instead of Go-struct-style text. Path resolution walks the view's actual
// Go struct fields via reflection, so object-valued paths print with Go's
// own %v struct formatting ("{Key1:value1 Key2:value2}") rather than a
// JSON-derived key set.
func renderTemplate(view inspectView, format string) (string, error) {
	expr := strings.TrimSpace(format)
	expr = strings.TrimPrefix(expr, "{{")
	expr = strings.TrimSuffix(expr, "}}")
	expr = strings.TrimSpace(expr)

	asJSON := false
	if rest := strings.TrimPrefix(expr, "json "); rest != expr {
		asJSON = true
		expr = strings.TrimSpace(rest)
	}

	if !strings.HasPrefix(expr, ".") {
		return "", fmt.Errorf("invalid inspect template %q: expected a field path starting with \".\"", format)
	}
	path := strings.Split(strings.TrimPrefix(expr, "."), ".")
	if len(path) > 0 {
		if alias, ok := inspectFieldAliases[path[0]]; ok {
			path[0] = alias
		}
	}

	value, err := walkPath(reflect.ValueOf(view), path)
	if err != nil {
		return "", err
	}

	if asJSON {
		data, err := json.Marshal(value.Interface())
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	// %+v (not %v) so struct-valued fields print as "{Key1:value1
	// Key2:value2}" rather than Go's positional "{value1 value2}" form.
	return fmt.Sprintf("%+v", value.Interface()), nil
}

func walkPath(v reflect.Value, path []string) (reflect.Value, error) {
	current := v
	for _, field := range path {
		for current.Kind() == reflect.Ptr {
			if current.IsNil() {
				return reflect.Value{}, fmt.Errorf("field %q is nil", field)
			}
			current = current.Elem()
		}
		if current.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field %q is not an object", field)
		}
		next := current.FieldByName(field)
		if !next.IsValid() {
			return reflect.Value{}, fmt.Errorf("no such field %q", field)
		}
		current = next
	}
	return current, nil
}
