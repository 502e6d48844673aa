// Package netbackend models the optional user-space network backend
// ("gvproxy-style" per the system overview): a userspace network device
// exposing a unix socket endpoint to the VMM and a host<->guest port map.
// Construction happens lazily inside the shim process, never the host
// runtime, so this package only specifies the endpoint contract and the
// port-map bookkeeping the config stage needs; the actual packet-forwarding
// implementation is an external collaborator, the same boundary the
// core draws around qcow2 construction in package block.
package netbackend

import (
	"context"
	"net"
	"os"
	"path/filepath"

	"github.com/qidi1/boxlite/boxerrors"
	"github.com/qidi1/boxlite/types"
)

// GuestMAC is the fixed guest NIC address every backend hands out, the Go
// analogue of the original's `net::constants::GUEST_MAC`: it must match the
// static DHCP lease baked into whatever userspace forwarder attaches to the
// socket, so it is a constant rather than per-box generated.
const GuestMAC = "5a:94:ef:e4:0c:ee"

// ConnectionType names the socket framing the VMM's virtio-net device
// expects on the other end of Endpoint.SocketPath.
type ConnectionType string

const (
	ConnDgram  ConnectionType = "dgram"
	ConnStream ConnectionType = "stream"
)

// Endpoint is the stamped-into-InstanceSpec result of constructing a
// backend: the socket the VMM dials and the MAC the guest NIC should use.
type Endpoint struct {
	SocketPath string
	Conn       ConnectionType
	MAC        string
}

// Backend is a running user-space network instance. It is created lazily
// by the shim, once per box, and intentionally leaked for the VM's
// lifetime per §4.3: there's no explicit Close in this interface, only
// process-exit teardown.
type Backend interface {
	// Endpoint returns the socket endpoint the VMM should connect its
	// virtio-net device to.
	Endpoint() Endpoint
	// AllocatePort resolves a PortMapping's host side, assigning an
	// ephemeral host port when HostPort is zero.
	AllocatePort(ctx context.Context, mapping types.PortMapping) (types.PortMapping, error)
}

// Factory constructs a Backend bound to socketPath, with MAC as the
// guest-facing NIC address. The shim calls DefaultFactory; there is no
// registry of network factories.
type Factory func(ctx context.Context, socketPath string, mac string) (Backend, error)

// ResolvePortMap merges the image's exposed ports with the user's explicit
// PortSpecs, per §4.2's override-not-merge rule: a user mapping whose
// GuestPort collides with an image-exposed port replaces it rather than
// adding a second entry. HostPort 0 means "assign dynamically" (§4.2).
func ResolvePortMap(imageExposed []uint16, userPorts []types.PortSpec) ([]types.PortMapping, error) {
	byGuestPort := make(map[uint16]types.PortMapping, len(imageExposed)+len(userPorts))

	for _, p := range imageExposed {
		byGuestPort[p] = types.PortMapping{GuestPort: p, HostPort: 0, Protocol: "tcp"}
	}
	for _, spec := range userPorts {
		proto := spec.Protocol
		if proto == "" {
			proto = "tcp"
		}
		var hostPort uint16
		if spec.HostPort != nil {
			hostPort = *spec.HostPort
		}
		byGuestPort[spec.GuestPort] = types.PortMapping{
			GuestPort: spec.GuestPort,
			HostPort:  hostPort,
			Protocol:  proto,
		}
	}

	mappings := make([]types.PortMapping, 0, len(byGuestPort))
	for _, m := range byGuestPort {
		mappings = append(mappings, m)
	}
	return mappings, nil
}

func (e Endpoint) validate() error {
	if e.SocketPath == "" {
		return boxerrors.New(boxerrors.Network, "network endpoint missing socket path")
	}
	switch e.Conn {
	case ConnDgram, ConnStream:
	default:
		return boxerrors.New(boxerrors.Network, "unknown connection type %q", e.Conn)
	}
	return nil
}

// ToNetworkEndpoint converts a resolved Endpoint into the InstanceSpec
// field shape, failing closed on an invalid endpoint.
func ToNetworkEndpoint(e Endpoint) (types.NetworkEndpoint, error) {
	if err := e.validate(); err != nil {
		return types.NetworkEndpoint{}, err
	}
	return types.NetworkEndpoint{
		SocketPath:     e.SocketPath,
		ConnectionType: string(e.Conn),
		MACAddress:     e.MAC,
	}, nil
}

// localBackend is the Backend the shim constructs by default: it reserves
// the rendezvous socket path and hands out dynamic host ports, but does not
// itself forward any packets. Per §1, the actual userspace packet-switching
// (the gvproxy-style process that dials this socket) is an external
// collaborator, the same boundary package block draws around qcow2
// construction (shelling out rather than reimplementing).
type localBackend struct {
	socketPath string
	mac        string
}

// NewLocalBackend reserves socketPath's parent directory and returns a
// Backend bound to it. It does not listen on the socket itself; the VMM
// and its forwarder establish the connection once both are running.
func NewLocalBackend(ctx context.Context, socketPath, mac string) (Backend, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o750); err != nil {
		return nil, boxerrors.Wrap(err, boxerrors.Network, "create network socket directory")
	}
	return &localBackend{socketPath: socketPath, mac: mac}, nil
}

func (b *localBackend) Endpoint() Endpoint {
	return Endpoint{SocketPath: b.socketPath, Conn: ConnStream, MAC: b.mac}
}

// AllocatePort resolves HostPort 0 to an OS-assigned ephemeral TCP port,
// the same trick net/http test servers use to grab a free port: bind,
// read back the assigned port, then release it for the forwarder to rebind.
func (b *localBackend) AllocatePort(ctx context.Context, mapping types.PortMapping) (types.PortMapping, error) {
	if mapping.HostPort != 0 {
		return mapping, nil
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return types.PortMapping{}, boxerrors.Wrap(err, boxerrors.Network, "allocate dynamic host port")
	}
	defer l.Close()
	mapping.HostPort = uint16(l.Addr().(*net.TCPAddr).Port)
	return mapping, nil
}

// DefaultFactory is the Factory the shim uses in production. Tests and
// alternative engines may substitute their own.
var DefaultFactory Factory = NewLocalBackend
