package message

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// VolumeRef points at the stored file backing a volume, either as an exact
// pin (the hash of a processed store message) or, with UseLatest, as a file
// tag resolved to its most recent content.
type VolumeRef struct {
	Ref       string `json:"ref"`
	UseLatest bool   `json:"use_latest"`
}

// Executable is implemented by program and instance contents; the VM handler
// resolves every required volume before accepting the message.
type Executable interface {
	Content
	RequiredVolumes() []VolumeRef
	MachineVolumes() []MachineVolume
}

// MachineVolume is one entry of an executable's volumes list. The concrete
// type is inferred from the JSON shape.
type MachineVolume interface {
	VolumeKind() string
}

// ImmutableVolume mounts a read-only snapshot of a stored file.
type ImmutableVolume struct {
	Comment   string `json:"comment,omitempty"`
	Mount     string `json:"mount,omitempty"`
	Ref       string `json:"ref"`
	UseLatest bool   `json:"use_latest"`
}

func (ImmutableVolume) VolumeKind() string { return "immutable" }

// EphemeralVolume is scratch space living only as long as the VM.
type EphemeralVolume struct {
	Comment   string `json:"comment,omitempty"`
	Mount     string `json:"mount,omitempty"`
	Ephemeral bool   `json:"ephemeral"`
	SizeMib   int64  `json:"size_mib"`
}

func (EphemeralVolume) VolumeKind() string { return "ephemeral" }

// PersistentVolume survives VM restarts, on the host or on the network.
type PersistentVolume struct {
	Comment     string     `json:"comment,omitempty"`
	Mount       string     `json:"mount,omitempty"`
	Parent      *VolumeRef `json:"parent,omitempty"`
	Persistence string     `json:"persistence"`
	Name        string     `json:"name"`
	SizeMib     int64      `json:"size_mib"`
}

func (PersistentVolume) VolumeKind() string { return "persistent" }

// Volumes decodes the heterogeneous volumes array of an executable message.
type Volumes []MachineVolume

func (v *Volumes) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Volumes, 0, len(raws))
	for _, raw := range raws {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			return err
		}
		var vol MachineVolume
		switch {
		case probe["ephemeral"] != nil:
			var e EphemeralVolume
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			vol = e
		case probe["persistence"] != nil:
			var p PersistentVolume
			if err := json.Unmarshal(raw, &p); err != nil {
				return err
			}
			vol = p
		case probe["ref"] != nil:
			var i ImmutableVolume
			if err := json.Unmarshal(raw, &i); err != nil {
				return err
			}
			vol = i
		default:
			return errors.New("volume matches no known shape")
		}
		out = append(out, vol)
	}
	*v = out
	return nil
}

// Environment toggles the sandbox features available to an executable.
type Environment struct {
	Reproducible bool `json:"reproducible"`
	Internet     bool `json:"internet"`
	AlephAPI     bool `json:"aleph_api"`
	SharedCache  bool `json:"shared_cache"`
}

// Resources sizes the machine an executable runs on.
type Resources struct {
	Vcpus   int64 `json:"vcpus"`
	Memory  int64 `json:"memory"`
	Seconds int64 `json:"seconds"`
}

// CodeVolume locates a program's code archive.
type CodeVolume struct {
	Encoding   string `json:"encoding"`
	Entrypoint string `json:"entrypoint"`
	Ref        string `json:"ref"`
	UseLatest  bool   `json:"use_latest"`
}

// RuntimeVolume locates the rootfs a program executes on.
type RuntimeVolume struct {
	Ref       string `json:"ref"`
	UseLatest bool   `json:"use_latest"`
	Comment   string `json:"comment,omitempty"`
}

// DataVolume locates optional data unpacked next to a program.
type DataVolume struct {
	Encoding  string `json:"encoding"`
	Mount     string `json:"mount"`
	Ref       string `json:"ref"`
	UseLatest bool   `json:"use_latest"`
}

// Triggers declares what wakes a program up.
type Triggers struct {
	HTTP       bool            `json:"http"`
	Cron       string          `json:"cron,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Persistent bool            `json:"persistent,omitempty"`
}

// RootfsVolume is the writable root filesystem of an instance, built from a
// parent snapshot.
type RootfsVolume struct {
	Parent      *VolumeRef `json:"parent"`
	Persistence string     `json:"persistence"`
	Name        string     `json:"name,omitempty"`
	SizeMib     int64      `json:"size_mib"`
}

// ProgramContent declares an executable program and its volumes.
type ProgramContent struct {
	BaseContent
	AllowAmend  bool                   `json:"allow_amend"`
	Code        CodeVolume             `json:"code"`
	Runtime     RuntimeVolume          `json:"runtime"`
	Data        *DataVolume            `json:"data,omitempty"`
	On          Triggers               `json:"on"`
	Environment Environment            `json:"environment"`
	Resources   Resources              `json:"resources"`
	Volumes     Volumes                `json:"volumes"`
	Replaces    *string                `json:"replaces,omitempty"`
	Variables   map[string]string      `json:"variables,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

func (*ProgramContent) ContentType() MessageType { return ProgramType }

func (c *ProgramContent) validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if c.Code.Ref == "" {
		return errors.New("program code ref is required")
	}
	if c.Runtime.Ref == "" {
		return errors.New("program runtime ref is required")
	}
	return nil
}

// RequiredVolumes lists every ref a program needs resolved before it can be
// accepted: code, runtime, optional data, plus refs in the volumes list.
func (c *ProgramContent) RequiredVolumes() []VolumeRef {
	refs := []VolumeRef{
		{Ref: c.Code.Ref, UseLatest: c.Code.UseLatest},
		{Ref: c.Runtime.Ref, UseLatest: c.Runtime.UseLatest},
	}
	if c.Data != nil {
		refs = append(refs, VolumeRef{Ref: c.Data.Ref, UseLatest: c.Data.UseLatest})
	}
	return append(refs, volumeListRefs(c.Volumes)...)
}

func (c *ProgramContent) MachineVolumes() []MachineVolume { return c.Volumes }

// InstanceContent declares a long-lived virtual machine.
type InstanceContent struct {
	BaseContent
	AllowAmend     bool                   `json:"allow_amend"`
	Rootfs         RootfsVolume           `json:"rootfs"`
	AuthorizedKeys []string               `json:"authorized_keys,omitempty"`
	Environment    Environment            `json:"environment"`
	Resources      Resources              `json:"resources"`
	Requirements   json.RawMessage        `json:"requirements,omitempty"`
	Volumes        Volumes                `json:"volumes"`
	Replaces       *string                `json:"replaces,omitempty"`
	Variables      map[string]string      `json:"variables,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

func (*InstanceContent) ContentType() MessageType { return InstanceType }

func (c *InstanceContent) validate() error {
	if err := c.validateBase(); err != nil {
		return err
	}
	if c.Rootfs.SizeMib <= 0 {
		return errors.New("instance rootfs size is required")
	}
	return nil
}

// RequiredVolumes lists the rootfs parent plus refs in the volumes list.
func (c *InstanceContent) RequiredVolumes() []VolumeRef {
	var refs []VolumeRef
	if c.Rootfs.Parent != nil {
		refs = append(refs, *c.Rootfs.Parent)
	}
	return append(refs, volumeListRefs(c.Volumes)...)
}

func (c *InstanceContent) MachineVolumes() []MachineVolume { return c.Volumes }

func volumeListRefs(vols Volumes) []VolumeRef {
	var refs []VolumeRef
	for _, vol := range vols {
		switch v := vol.(type) {
		case ImmutableVolume:
			refs = append(refs, VolumeRef{Ref: v.Ref, UseLatest: v.UseLatest})
		case PersistentVolume:
			if v.Parent != nil {
				refs = append(refs, *v.Parent)
			}
		}
	}
	return refs
}
