// Package types holds the BoxLite data model: the identifiers, status
// machine, and configuration/state structures shared by the store, the
// init pipeline, and the runtime façade. Grounded on the teacher's
// virtcontainers/types.SandboxState (status enum + JSON-tagged state
// struct) and on original_source/boxlite/src/runtime/options.rs for the
// option fields.
package types

import (
	"fmt"
)

// BoxID is an opaque, globally unique identifier for a box. It is
// addressable by any unique prefix of at least MinIDPrefixLen characters.
type BoxID string

// MinIDPrefixLen is the shortest prefix of a BoxID that Runtime.Get will
// attempt to resolve against the store.
const MinIDPrefixLen = 12

// BoxName is an optional, globally-unique human name for a box.
type BoxName string

// Status is one of the legal box lifecycle states.
type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusConfigured Status = "configured"
	StatusRunning    Status = "running"
	StatusStopping   Status = "stopping"
	StatusStopped    Status = "stopped"
)

// IsRunning reports whether the status is Running, per spec §3.
func (s Status) IsRunning() bool { return s == StatusRunning }

// validTransitions enumerates the legal status transitions from §3. Unknown
// is reachable from any state only on corrupt persisted state, which is
// handled out-of-band by the store rather than through CanTransition.
var validTransitions = map[Status]map[Status]bool{
	StatusConfigured: {StatusRunning: true},
	StatusRunning:    {StatusStopping: true},
	StatusStopping:   {StatusStopped: true},
	StatusStopped:    {StatusRunning: true},
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s Status) CanTransition(next Status) bool {
	return validTransitions[s][next]
}

// SecurityPreset selects one row of the security preset table in §4.6.
type SecurityPreset string

const (
	SecurityDevelopment SecurityPreset = "development"
	SecurityStandard    SecurityPreset = "standard"
	SecurityMaximum     SecurityPreset = "maximum"
)

// ResourceLimits are advisory limits the shim applies before VMM creation.
type ResourceLimits struct {
	MaxOpenFiles uint64 `json:"max_open_files,omitempty"`
	MaxFileSize  uint64 `json:"max_file_size,omitempty"`
	MaxProcs     uint64 `json:"max_procs,omitempty"`
	MaxMemoryMiB uint64 `json:"max_memory_mib,omitempty"`
	MaxCPUs      uint32 `json:"max_cpus,omitempty"`
}

// SecurityOptions carries the resolved knobs of §4.6's preset table plus any
// resource limits. Presets are expanded at sanitize time into this struct so
// downstream stages never need to re-derive the table.
type SecurityOptions struct {
	Preset         SecurityPreset `json:"preset"`
	Jailer         bool           `json:"jailer"`
	Seccomp        bool           `json:"seccomp"`
	Chroot         bool           `json:"chroot"`
	DropFDs        bool           `json:"drop_fds"`
	SanitizeEnv    bool           `json:"sanitize_env"`
	EnvAllowlist   []string       `json:"env_allowlist,omitempty"`
	IsolateMounts  bool           `json:"isolate_mounts"`
	ResourceLimits ResourceLimits `json:"resource_limits"`
}

// PortSpec maps a guest port to an optional host port.
type PortSpec struct {
	GuestPort uint16  `json:"guest_port"`
	HostPort  *uint16 `json:"host_port,omitempty"`
	Protocol  string  `json:"protocol,omitempty"` // "tcp" (default) or "udp"
}

// VolumeSpec describes a host path bind-mounted into the guest under Tag.
type VolumeSpec struct {
	Tag      string `json:"tag"`
	HostPath string `json:"host_path"`
	ReadOnly bool   `json:"read_only"`
}

// BoxOptions is the user-supplied, sanitized creation configuration. It is
// the payload persisted verbatim (as JSON) into box_config and never
// mutated after create().
type BoxOptions struct {
	Image       string            `json:"image"`
	Cpus        uint32            `json:"cpus"`
	MemoryMiB   uint64            `json:"memory_mib"`
	Env         map[string]string `json:"env,omitempty"`
	Ports       []PortSpec        `json:"ports,omitempty"`
	Volumes     []VolumeSpec      `json:"volumes,omitempty"`
	Security    SecurityOptions   `json:"security"`
	AutoRemove  bool              `json:"auto_remove"`
	Detach      bool              `json:"detach"`
	Name        string            `json:"name,omitempty"`
	Registries  []string          `json:"registries,omitempty"`
	Workdir     string            `json:"workdir,omitempty"`
	Interactive bool              `json:"interactive,omitempty"`
	TTY         bool              `json:"tty,omitempty"`
}

// DefaultCpus/DefaultMemoryMiB are applied by Sanitize when the caller
// leaves the corresponding field at its zero value.
const (
	DefaultCpus      = uint32(1)
	DefaultMemoryMiB = uint64(512)
	MaxCpus          = uint32(255)
)

// Sanitize applies defaults and enforces the invariants from §4.2/§4.6:
// auto_remove ∧ detach is rejected, isolate_mounts is Linux-only, and cpus
// and memory get defaults (cpus are also capped). AutoRemove and Detach are
// kept as given; Sanitize applies no default to either.
func (o *BoxOptions) Sanitize(goos string) error {
	if o.Image == "" {
		return fmt.Errorf("image reference must not be empty")
	}
	if o.Cpus == 0 {
		o.Cpus = DefaultCpus
	}
	if o.Cpus > MaxCpus {
		o.Cpus = MaxCpus
	}
	if o.MemoryMiB == 0 {
		o.MemoryMiB = DefaultMemoryMiB
	}
	if o.AutoRemove && o.Detach {
		return fmt.Errorf("auto_remove and detach cannot both be set")
	}
	if o.Security.IsolateMounts && goos != "linux" {
		return fmt.Errorf("isolate_mounts is only supported on linux")
	}
	if err := validatePortUniqueness(o.Ports); err != nil {
		return err
	}
	if err := validateVolumeUniqueness(o.Volumes); err != nil {
		return err
	}
	return nil
}

func validatePortUniqueness(ports []PortSpec) error {
	seen := make(map[uint16]bool, len(ports))
	for _, p := range ports {
		if seen[p.GuestPort] {
			return fmt.Errorf("duplicate guest_port %d in port spec", p.GuestPort)
		}
		seen[p.GuestPort] = true
	}
	return nil
}

func validateVolumeUniqueness(volumes []VolumeSpec) error {
	seen := make(map[string]bool, len(volumes))
	for _, v := range volumes {
		if seen[v.Tag] {
			return fmt.Errorf("duplicate volume tag %q", v.Tag)
		}
		seen[v.Tag] = true
	}
	return nil
}

// ApplySecurityPreset expands a named preset into concrete SecurityOptions
// per the table in §4.6. goos selects the platform-conditional columns.
func ApplySecurityPreset(preset SecurityPreset, goos string) SecurityOptions {
	linux := goos == "linux"
	darwin := goos == "darwin"

	switch preset {
	case SecurityMaximum:
		return SecurityOptions{
			Preset:       SecurityMaximum,
			Jailer:       true,
			Seccomp:      linux,
			Chroot:       linux,
			DropFDs:      true,
			SanitizeEnv:  true,
			EnvAllowlist: []string{"PATH"},
		}
	case SecurityStandard:
		return SecurityOptions{
			Preset:      SecurityStandard,
			Jailer:      linux || darwin,
			Seccomp:     linux,
			Chroot:      linux,
			DropFDs:     true,
			SanitizeEnv: true,
		}
	default:
		return SecurityOptions{Preset: SecurityDevelopment}
	}
}

// BoxConfig is the immutable, durable record written once at create() time.
// It is the JSON blob stored in box_config alongside the queryable id/name/
// created_at columns (§3).
type BoxConfig struct {
	ID        BoxID       `json:"id"`
	Name      BoxName     `json:"name,omitempty"`
	CreatedAt int64       `json:"created_at"` // unix nanos
	Options   BoxOptions  `json:"options"`
}

// BoxState is the mutable record updated only by the owning runtime.
type BoxState struct {
	ID       BoxID  `json:"id"`
	Status   Status `json:"status"`
	PID      *int   `json:"pid,omitempty"`
	StartedAt int64 `json:"started_at,omitempty"`
	StoppedAt int64 `json:"stopped_at,omitempty"`
}

// BoxInfo is the joined, read-only view returned by list_info().
type BoxInfo struct {
	Config BoxConfig
	State  BoxState
}
