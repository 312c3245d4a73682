package handlers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/types/message"
)

// VMHandler processes program and instance messages. Every volume the
// executable declares must resolve to stored content before the message is
// accepted, and replacement chains are kept one level deep: a version either
// is the original or replaces it directly.
type VMHandler struct {
	noFetch
}

func (h *VMHandler) Validate(ctx context.Context, store db.Store, item *Item) error {
	content := item.Content.(message.Executable)
	missing, err := h.missingVolumes(ctx, store, content.RequiredVolumes())
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return message.RejectWithDetails(message.ErrCodeVMVolumeNotFound,
			"some volumes could not be resolved",
			map[string]interface{}{"errors": missing})
	}

	replaces := executableReplaces(content)
	if replaces == nil {
		return nil
	}
	prev, err := store.GetVM(ctx, *replaces)
	if errors.Is(err, db.ErrNotFound) {
		return message.Reject(message.ErrCodeContentValidationFailed,
			"replaced executable %s does not exist", *replaces)
	}
	if err != nil {
		return errors.Wrap(err, "could not load replaced executable")
	}
	if prev.Owner != content.Owner() {
		return message.Reject(message.ErrCodePermissionDenied,
			"%s may not replace executable %s owned by %s", content.Owner(), prev.ItemHash, prev.Owner)
	}
	if !prev.AllowAmend {
		return message.Reject(message.ErrCodeContentValidationFailed,
			"executable %s does not allow amendments", prev.ItemHash)
	}
	if prev.Replaces != nil {
		return message.Reject(message.ErrCodeContentValidationFailed,
			"%s is itself an amendment, amend %s instead", prev.ItemHash, *prev.Replaces)
	}
	return nil
}

// missingVolumes resolves each required ref through a message file pin, or
// through a file tag when the volume asks for the latest content.
func (h *VMHandler) missingVolumes(ctx context.Context, store db.Store, refs []message.VolumeRef) ([]string, error) {
	var missing []string
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if seen[ref.Ref] {
			continue
		}
		seen[ref.Ref] = true
		var err error
		if ref.UseLatest {
			_, err = store.GetFileTag(ctx, ref.Ref)
		} else {
			_, err = store.GetMessageFilePin(ctx, ref.Ref)
		}
		if errors.Is(err, db.ErrNotFound) {
			missing = append(missing, ref.Ref)
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "could not resolve volume %s", ref.Ref)
		}
	}
	return missing, nil
}

func (h *VMHandler) Commit(ctx context.Context, store db.Store, item *Item) error {
	content := item.Content.(message.Executable)
	vm := &db.VM{
		ItemHash: item.Message.ItemHash,
		Owner:    content.Owner(),
		Type:     item.Message.Type,
	}

	switch c := content.(type) {
	case *message.ProgramContent:
		vm.Created = message.EpochTime(c.Time)
		vm.AllowAmend = c.AllowAmend
		vm.Replaces = c.Replaces
		vm.Environment = c.Environment
		vm.Resources = c.Resources
		vm.Variables = c.Variables
		vm.Program = &db.VMProgram{
			CodeRef:        c.Code.Ref,
			CodeEncoding:   c.Code.Encoding,
			CodeEntrypoint: c.Code.Entrypoint,
			RuntimeRef:     c.Runtime.Ref,
			HTTPTrigger:    c.On.HTTP,
			Persistent:     c.On.Persistent,
		}
		if c.Data != nil {
			vm.Program.DataRef = &c.Data.Ref
		}
		vm.Volumes = flattenVolumes(c.Volumes)
	case *message.InstanceContent:
		vm.Created = message.EpochTime(c.Time)
		vm.AllowAmend = c.AllowAmend
		vm.Replaces = c.Replaces
		vm.Environment = c.Environment
		vm.Resources = c.Resources
		vm.Variables = c.Variables
		vm.AuthorizedKeys = c.AuthorizedKeys
		vm.Rootfs = &db.VMRootfs{
			Persistence: c.Rootfs.Persistence,
			SizeMib:     c.Rootfs.SizeMib,
		}
		if c.Rootfs.Parent != nil {
			vm.Rootfs.ParentRef = c.Rootfs.Parent.Ref
			vm.Rootfs.ParentUseLatest = c.Rootfs.Parent.UseLatest
		}
		vm.Volumes = flattenVolumes(c.Volumes)
	default:
		return errors.Errorf("unsupported executable content %T", content)
	}

	if err := store.InsertVM(ctx, vm); err != nil {
		return errors.Wrap(err, "could not insert vm")
	}
	return h.updateVersion(ctx, store, vm)
}

// updateVersion points the program ref at this version unless a newer one is
// already current. The ref of the original version is its own item hash.
func (h *VMHandler) updateVersion(ctx context.Context, store db.Store, vm *db.VM) error {
	ref := vm.ItemHash
	if vm.Replaces != nil {
		ref = *vm.Replaces
	}
	existing, err := store.GetVMVersion(ctx, ref)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return errors.Wrap(err, "could not load vm version")
	case !vm.Created.After(existing.LastUpdated):
		return nil
	}
	return store.UpsertVMVersion(ctx, &db.VMVersion{
		VMHash:         ref,
		Owner:          vm.Owner,
		CurrentVersion: vm.ItemHash,
		LastUpdated:    vm.Created,
	})
}

func (h *VMHandler) Forget(ctx context.Context, store db.Store, msg *message.Message, content message.Content) error {
	if err := store.DeleteVM(ctx, msg.ItemHash); err != nil && !errors.Is(err, db.ErrNotFound) {
		return errors.Wrap(err, "could not delete vm")
	}
	ref := msg.ItemHash
	if replaces := executableReplaces(content.(message.Executable)); replaces != nil {
		ref = *replaces
	}
	return store.RefreshVMVersion(ctx, ref)
}

func executableReplaces(content message.Executable) *string {
	switch c := content.(type) {
	case *message.ProgramContent:
		return c.Replaces
	case *message.InstanceContent:
		return c.Replaces
	}
	return nil
}

func flattenVolumes(vols message.Volumes) []db.VMVolume {
	out := make([]db.VMVolume, 0, len(vols))
	for _, vol := range vols {
		switch v := vol.(type) {
		case message.ImmutableVolume:
			out = append(out, db.VMVolume{
				Kind:      v.VolumeKind(),
				Comment:   v.Comment,
				Mount:     v.Mount,
				Ref:       v.Ref,
				UseLatest: v.UseLatest,
			})
		case message.EphemeralVolume:
			out = append(out, db.VMVolume{
				Kind:    v.VolumeKind(),
				Comment: v.Comment,
				Mount:   v.Mount,
				SizeMib: v.SizeMib,
			})
		case message.PersistentVolume:
			flat := db.VMVolume{
				Kind:        v.VolumeKind(),
				Comment:     v.Comment,
				Mount:       v.Mount,
				Persistence: v.Persistence,
				Name:        v.Name,
				SizeMib:     v.SizeMib,
			}
			if v.Parent != nil {
				flat.ParentRef = &v.Parent.Ref
			}
			out = append(out, flat)
		}
	}
	return out
}
