// Command boxlite-shim is the per-box subprocess the runtime spawns in the
// init pipeline's spawn stage (§4.2). It reads the InstanceSpec the spawn
// stage wrote to --config, constructs the VMM engine named by --engine,
// signals the ready-notify file, and hands the process image to the VMM
// via Instance.Enter — which, per §4.3, may never return. The process
// model (parse flags, set up its own log sink, build one subsystem, run to
// completion) follows the teacher's cli/main.go entrypoint shape scaled
// down to a single-purpose binary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/qidi1/boxlite/engine/qemuengine"

	"github.com/qidi1/boxlite/engine"
	"github.com/qidi1/boxlite/logsink"
	"github.com/qidi1/boxlite/netbackend"
	"github.com/qidi1/boxlite/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "boxlite-shim:", err)
		os.Exit(1)
	}
}

func run() error {
	engineKind := flag.String("engine", "", "VMM engine kind to construct (e.g. \"qemu\")")
	configPath := flag.String("config", "", "path to the serialized InstanceSpec")
	flag.Parse()

	if *configPath == "" {
		return fmt.Errorf("--config is required")
	}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		return fmt.Errorf("read instance spec: %w", err)
	}
	var spec types.InstanceSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("decode instance spec: %w", err)
	}

	kind := *engineKind
	if kind == "" {
		kind = spec.EngineKind
	}

	logger, err := logsink.New(filepath.Join(spec.HomeDir, "logs"))
	if err != nil {
		return fmt.Errorf("init log sink: %w", err)
	}
	logger = logger.WithField("box_id", spec.BoxID)
	logger.WithField("engine", kind).Info("shim starting")

	ctx := context.Background()

	// §4.3 step 3: if the spec calls for port mappings, construct the
	// network backend, obtain its socket endpoint, and stamp it into the
	// spec before handing the spec to the engine. The backend is
	// intentionally leaked for the VM's lifetime; there is no Close call.
	if len(spec.Ports) > 0 {
		backend, err := netbackend.DefaultFactory(ctx, spec.NetworkSocket, netbackend.GuestMAC)
		if err != nil {
			return fmt.Errorf("construct network backend: %w", err)
		}
		netEndpoint, err := netbackend.ToNetworkEndpoint(backend.Endpoint())
		if err != nil {
			return fmt.Errorf("resolve network endpoint: %w", err)
		}
		spec.Network = &netEndpoint

		for idx, mapping := range spec.Ports {
			resolved, err := backend.AllocatePort(ctx, mapping)
			if err != nil {
				return fmt.Errorf("allocate host port for guest port %d: %w", mapping.GuestPort, err)
			}
			spec.Ports[idx] = resolved
		}
		logger.WithField("socket", spec.Network.SocketPath).Info("network backend constructed")
	}

	eng, err := engine.Get(kind)
	if err != nil {
		return err
	}

	instance, err := eng.Create(ctx, spec)
	if err != nil {
		return fmt.Errorf("create %s instance: %w", kind, err)
	}

	if err := touchReadyFile(spec.ReadyTransport); err != nil {
		return fmt.Errorf("signal ready-notify: %w", err)
	}
	logger.Info("ready-notify signaled, handing off to engine")

	// Enter may replace this process image entirely (e.g. the qemu engine
	// execs the VMM binary) and never return; any code after this line
	// only runs for engines that give control back (e.g. a crash before
	// exec, or an in-process VMM).
	if err := instance.Enter(ctx); err != nil {
		return fmt.Errorf("enter %s instance: %w", kind, err)
	}
	return nil
}

// touchReadyFile creates an empty marker file at path, signaling to the
// runtime's spawn-stage watcher that the VMM is about to take over this
// process (§4.2's "waits for ready-notify on the ready socket").
func touchReadyFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	return f.Close()
}
