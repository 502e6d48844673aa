package types

// RootfsStrategyKind is one of the four guest-rootfs preparation strategies
// from the GLOSSARY.
type RootfsStrategyKind string

const (
	RootfsDirect        RootfsStrategyKind = "direct"
	RootfsExtracted      RootfsStrategyKind = "extracted"
	RootfsOverlayMount   RootfsStrategyKind = "overlay_mount"
	RootfsDisk           RootfsStrategyKind = "disk"
)

// RootfsStrategy carries the resolved preparation result for a box's main
// rootfs (one of Merged/Layers/DiskImage in §2) or the guest-init rootfs
// (one of the four Strategy kinds in the GLOSSARY). Only the payload fields
// of the strategy selected by Kind are populated.
type RootfsStrategy struct {
	Kind RootfsStrategyKind `json:"kind"`

	// Merged / Direct: a single directory containing the full rootfs.
	MergedDir string `json:"merged_dir,omitempty"`

	// Layers / OverlayMount / Extracted: LayersDir is the overlay root (or
	// the extracted rootfs directory); OverlayDir is the overlay's merged
	// directory and is set for OverlayMount only.
	LayersDir   string `json:"layers_dir,omitempty"`
	OverlayDir  string `json:"overlay_dir,omitempty"`

	// DiskImage / Disk: a base disk path plus the COW child size.
	BaseDiskPath string `json:"base_disk_path,omitempty"`
	SizeMiB      uint64 `json:"size_mib,omitempty"`
}

// CleanupObligation names what must be undone when a RootfsStrategy is torn
// down, per the GLOSSARY's per-Strategy cleanup rules.
type CleanupObligation string

const (
	CleanupNone            CleanupObligation = "none"
	CleanupDeleteDir        CleanupObligation = "delete_dir"
	CleanupUnmountAndDelete CleanupObligation = "unmount_and_delete"
)

// Obligation maps a strategy kind to its cleanup obligation.
func (k RootfsStrategyKind) Obligation() CleanupObligation {
	switch k {
	case RootfsDirect:
		return CleanupNone
	case RootfsExtracted:
		return CleanupDeleteDir
	case RootfsOverlayMount:
		return CleanupUnmountAndDelete
	case RootfsDisk:
		return CleanupNone // cache-owned
	default:
		return CleanupNone
	}
}

// Mount is a single guest mount point in an InstanceSpec.
type Mount struct {
	Tag      string `json:"tag"`
	HostPath string `json:"host_path"`
	ReadOnly bool   `json:"read_only"`
}

// DiskFormat is the on-disk format of a Disk entry.
type DiskFormat string

const (
	DiskFormatQCOW2 DiskFormat = "qcow2"
	DiskFormatRaw   DiskFormat = "raw"
)

// Disk is a virtio-blk device the shim attaches to the VMM.
type Disk struct {
	DevicePath string     `json:"device_path"`
	HostPath   string     `json:"host_path"`
	Format     DiskFormat `json:"format"`
	ReadOnly   bool       `json:"read_only"`
}

// GuestEntrypoint is the guest control agent launch (boxlite-guest, as the
// config stage fills it in): executable, arguments and environment.
type GuestEntrypoint struct {
	Executable string   `json:"executable"`
	Args       []string `json:"args,omitempty"`
	Env        []string `json:"env,omitempty"` // sorted "KEY=VALUE" pairs
}

// NetworkEndpoint describes the gvproxy-style backend socket per §6.4.
type NetworkEndpoint struct {
	SocketPath     string `json:"socket_path"`
	ConnectionType string `json:"connection_type"` // "dgram" | "stream"
	MACAddress     string `json:"mac_address"`
}

// PortMapping is a single resolved guest<->host port mapping, after the
// override-not-merge rule in §4.2 has been applied.
type PortMapping struct {
	GuestPort uint16 `json:"guest_port"`
	HostPort  uint16 `json:"host_port"` // 0 until dynamically assigned
	Protocol  string `json:"protocol"`
}

// InstanceSpec is the fully-resolved, transient blob the init pipeline's
// config stage produces and the shim receives verbatim as JSON (§3, §6.4).
type InstanceSpec struct {
	BoxID BoxID `json:"box_id"`

	Cpus      uint32 `json:"cpus"`
	MemoryMiB uint64 `json:"memory_mib"`

	Mounts []Mount `json:"mounts"`
	Disks  []Disk  `json:"disks"`

	Entrypoint GuestEntrypoint `json:"entrypoint"`

	// Workload is the image's resolved Entrypoint+Cmd argv: the user
	// process `run`/`exec` attaches to as a guest RPC Exec, distinct from
	// Entrypoint above (which launches the guest control agent itself).
	Workload []string `json:"workload,omitempty"`

	// Transport is the Unix socket the shim listens on for guest RPC once
	// the guest agent connects out (the "portal" socket in §6.3).
	Transport string `json:"transport"`
	// ReadyTransport is the ready-notify socket the spawn stage blocks on.
	ReadyTransport string `json:"ready_transport"`

	InitRootfs RootfsStrategy `json:"init_rootfs"`
	Rootfs     RootfsStrategy `json:"rootfs"`

	// NetworkSocket is the rendezvous path the shim reserves for the
	// network backend's socket when Ports is non-empty; Network itself is
	// filled in by the shim at construction time (§4.3 step 3), not here.
	NetworkSocket string           `json:"network_socket,omitempty"`
	Network       *NetworkEndpoint `json:"network,omitempty"`
	Ports         []PortMapping    `json:"ports,omitempty"`

	HomeDir string `json:"home_dir"`

	EngineKind string          `json:"engine_kind"`
	Security   SecurityOptions `json:"security"`
}
