package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/types/files"
	"github.com/aleph-im/go-ccn/types/message"
)

const (
	rootfsParentRef = "549ec451d9b099cad112d4aaa2c00ac40fb6729a92ff252ff22eef0b5c3cb613"
	venvVolumeRef   = "5f31b0706f59404fad3d0bff97ef89ddf24da4761608ea0646329362c662ba51"
	instanceEpoch   = 1619017773.8950517
)

func reverseHex(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}

// seedVolume registers stored content for a volume ref: a message pin under
// the ref, plus a file tag when volumes resolve it with use_latest.
func seedVolume(t *testing.T, store db.Store, ref string, useLatest bool) {
	t.Helper()
	ctx := context.Background()
	fileHash := reverseHex(ref)
	require.NoError(t, store.UpsertStoredFile(ctx, &files.StoredFile{
		Hash: fileHash, Type: files.FileTypeFile, Size: 1 << 20,
	}))
	require.NoError(t, store.InsertFilePin(ctx, &files.FilePin{
		FileHash: fileHash,
		Type:     files.PinTypeMessage,
		Owner:    testOwner,
		ItemHash: ref,
		Created:  message.EpochTime(baseEpoch),
	}))
	if useLatest {
		require.NoError(t, store.UpsertFileTag(ctx, &files.FileTag{
			Tag: ref, Owner: testOwner, FileHash: fileHash, Updated: message.EpochTime(baseEpoch),
		}))
	}
}

func instanceContent(owner string, epoch float64) *message.InstanceContent {
	return &message.InstanceContent{
		BaseContent: message.BaseContent{Address: owner, Time: epoch},
		Rootfs: message.RootfsVolume{
			Parent:      &message.VolumeRef{Ref: rootfsParentRef, UseLatest: true},
			Persistence: "host",
			Name:        "test-rootfs",
			SizeMib:     20000,
		},
		AuthorizedKeys: []string{"ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABgQDTest"},
		Environment:    message.Environment{Internet: true, AlephAPI: true},
		Resources:      message.Resources{Vcpus: 1, Memory: 128, Seconds: 30},
		Requirements:   json.RawMessage(`{"cpu":{"architecture":"x86_64"}}`),
		Volumes: message.Volumes{
			message.ImmutableVolume{
				Comment: "Python libraries. Read-only since a ref is specified.",
				Mount:   "/opt/venv",
				Ref:     venvVolumeRef,
			},
			message.EphemeralVolume{
				Comment:   "Scratch space, dropped when the VM stops",
				Mount:     "/var/cache",
				Ephemeral: true,
				SizeMib:   5,
			},
			message.PersistentVolume{
				Comment:     "Working data persisted on the VM supervisor",
				Mount:       "/var/lib/sqlite",
				Persistence: "host",
				Name:        "sqlite-data",
				SizeMib:     10,
			},
			message.PersistentVolume{
				Comment:     "Working data persisted on the network",
				Mount:       "/var/lib/statistics",
				Persistence: "store",
				Name:        "statistics",
				SizeMib:     10,
			},
			message.PersistentVolume{
				Comment:     "Raw drive, not mounted",
				Persistence: "host",
				Name:        "raw-data",
				SizeMib:     10,
			},
		},
		Variables: map[string]string{
			"VM_CUSTOM_VARIABLE":   "SOMETHING",
			"VM_CUSTOM_VARIABLE_2": "32",
		},
	}
}

func programContent(owner string, epoch float64, codeRef, runtimeRef string) *message.ProgramContent {
	return &message.ProgramContent{
		BaseContent: message.BaseContent{Address: owner, Time: epoch},
		AllowAmend:  true,
		Code: message.CodeVolume{
			Encoding:   "zip",
			Entrypoint: "main:app",
			Ref:        codeRef,
		},
		Runtime: message.RuntimeVolume{
			Ref:     runtimeRef,
			Comment: "Aleph Alpine Linux with Python 3.8",
		},
		On:          message.Triggers{HTTP: true},
		Environment: message.Environment{Internet: true, AlephAPI: true},
		Resources:   message.Resources{Vcpus: 1, Memory: 128, Seconds: 30},
	}
}

func TestInstanceCommitCreatesVMAndVersion(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	seedVolume(t, store, rootfsParentRef, true)
	seedVolume(t, store, venvVolumeRef, false)

	content := instanceContent(testOwner, instanceEpoch)
	msg, raw := newMessage(t, message.InstanceType, testOwner, content)
	commitMessage(t, reg, store, msg, raw)

	vm, err := store.GetVM(ctx, msg.ItemHash)
	require.NoError(t, err)
	assert.Equal(t, message.InstanceType, vm.Type)
	assert.Equal(t, testOwner, vm.Owner)
	assert.False(t, vm.AllowAmend)
	require.NotNil(t, vm.Rootfs)
	assert.Equal(t, rootfsParentRef, vm.Rootfs.ParentRef)
	assert.True(t, vm.Rootfs.ParentUseLatest)
	assert.Equal(t, "host", vm.Rootfs.Persistence)
	assert.Equal(t, int64(20000), vm.Rootfs.SizeMib)
	assert.Nil(t, vm.Program)

	require.Len(t, vm.Volumes, 5)
	kinds := make([]string, 0, len(vm.Volumes))
	for _, vol := range vm.Volumes {
		kinds = append(kinds, vol.Kind)
	}
	assert.Equal(t, []string{"immutable", "ephemeral", "persistent", "persistent", "persistent"}, kinds)
	assert.Equal(t, venvVolumeRef, vm.Volumes[0].Ref)
	assert.Equal(t, "/opt/venv", vm.Volumes[0].Mount)
	assert.Equal(t, int64(5), vm.Volumes[1].SizeMib)
	assert.Equal(t, "sqlite-data", vm.Volumes[2].Name)

	version, err := store.GetVMVersion(ctx, msg.ItemHash)
	require.NoError(t, err)
	assert.Equal(t, msg.ItemHash, version.CurrentVersion)
	assert.Equal(t, testOwner, version.Owner)
}

func TestInstanceMissingVolumesRejected(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	handler, err := reg.For(message.InstanceType)
	require.NoError(t, err)

	content := instanceContent(testOwner, instanceEpoch)
	msg, _ := newMessage(t, message.InstanceType, testOwner, content)

	err = handler.Validate(ctx, store, &Item{Message: msg, Content: content})
	var rej *message.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, message.ErrCodeVMVolumeNotFound, rej.Code)
	assert.ElementsMatch(t, []string{rootfsParentRef, venvVolumeRef}, rej.Details["errors"])
}

func TestInstancePartialVolumeMissRejected(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	handler, err := reg.For(message.InstanceType)
	require.NoError(t, err)

	seedVolume(t, store, rootfsParentRef, true)

	content := instanceContent(testOwner, instanceEpoch)
	msg, _ := newMessage(t, message.InstanceType, testOwner, content)

	err = handler.Validate(ctx, store, &Item{Message: msg, Content: content})
	var rej *message.Rejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, []string{venvVolumeRef}, rej.Details["errors"])
}

func TestProgramCommitCreatesVM(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	codeRef := message.Sha256Hex([]byte("code archive"))
	runtimeRef := message.Sha256Hex([]byte("runtime rootfs"))
	seedVolume(t, store, codeRef, false)
	seedVolume(t, store, runtimeRef, false)

	content := programContent(testOwner, baseEpoch, codeRef, runtimeRef)
	msg, raw := newMessage(t, message.ProgramType, testOwner, content)
	commitMessage(t, reg, store, msg, raw)

	vm, err := store.GetVM(ctx, msg.ItemHash)
	require.NoError(t, err)
	assert.Equal(t, message.ProgramType, vm.Type)
	require.NotNil(t, vm.Program)
	assert.Equal(t, codeRef, vm.Program.CodeRef)
	assert.Equal(t, "zip", vm.Program.CodeEncoding)
	assert.Equal(t, "main:app", vm.Program.CodeEntrypoint)
	assert.Equal(t, runtimeRef, vm.Program.RuntimeRef)
	assert.True(t, vm.Program.HTTPTrigger)
	assert.False(t, vm.Program.Persistent)
	assert.Nil(t, vm.Rootfs)
}

func TestProgramReplaceRepointsVersion(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	codeRef := message.Sha256Hex([]byte("code v1"))
	runtimeRef := message.Sha256Hex([]byte("runtime"))
	seedVolume(t, store, codeRef, false)
	seedVolume(t, store, runtimeRef, false)

	original := programContent(testOwner, baseEpoch, codeRef, runtimeRef)
	originalMsg, raw := newMessage(t, message.ProgramType, testOwner, original)
	commitMessage(t, reg, store, originalMsg, raw)

	codeRef2 := message.Sha256Hex([]byte("code v2"))
	seedVolume(t, store, codeRef2, false)
	replacement := programContent(testOwner, baseEpoch+100, codeRef2, runtimeRef)
	replacement.Replaces = strPtr(originalMsg.ItemHash)
	replacementMsg, raw := newMessage(t, message.ProgramType, testOwner, replacement)
	commitMessage(t, reg, store, replacementMsg, raw)

	// The version pointer lives under the original's hash.
	version, err := store.GetVMVersion(ctx, originalMsg.ItemHash)
	require.NoError(t, err)
	assert.Equal(t, replacementMsg.ItemHash, version.CurrentVersion)

	_, err = store.GetVMVersion(ctx, replacementMsg.ItemHash)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestProgramReplaceOlderVersionKeepsPointer(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	codeRef := message.Sha256Hex([]byte("code current"))
	runtimeRef := message.Sha256Hex([]byte("runtime"))
	seedVolume(t, store, codeRef, false)
	seedVolume(t, store, runtimeRef, false)

	original := programContent(testOwner, baseEpoch, codeRef, runtimeRef)
	originalMsg, raw := newMessage(t, message.ProgramType, testOwner, original)
	commitMessage(t, reg, store, originalMsg, raw)

	late := programContent(testOwner, baseEpoch-100, codeRef, runtimeRef)
	late.Replaces = strPtr(originalMsg.ItemHash)
	late.Variables = map[string]string{"replayed": "yes"}
	lateMsg, raw := newMessage(t, message.ProgramType, testOwner, late)
	commitMessage(t, reg, store, lateMsg, raw)

	version, err := store.GetVMVersion(ctx, originalMsg.ItemHash)
	require.NoError(t, err)
	assert.Equal(t, originalMsg.ItemHash, version.CurrentVersion)
}

func TestProgramReplaceValidation(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	handler, err := reg.For(message.ProgramType)
	require.NoError(t, err)

	codeRef := message.Sha256Hex([]byte("code"))
	runtimeRef := message.Sha256Hex([]byte("runtime"))
	seedVolume(t, store, codeRef, false)
	seedVolume(t, store, runtimeRef, false)

	validate := func(content *message.ProgramContent, sender string) error {
		msg, _ := newMessage(t, message.ProgramType, sender, content)
		return handler.Validate(ctx, store, &Item{Message: msg, Content: content})
	}

	t.Run("missing target", func(t *testing.T) {
		content := programContent(testOwner, baseEpoch, codeRef, runtimeRef)
		content.Replaces = strPtr("0000000000000000000000000000000000000000000000000000000000000000")
		var rej *message.Rejection
		require.ErrorAs(t, validate(content, testOwner), &rej)
		assert.Equal(t, message.ErrCodeContentValidationFailed, rej.Code)
	})

	original := programContent(testOwner, baseEpoch, codeRef, runtimeRef)
	originalMsg, raw := newMessage(t, message.ProgramType, testOwner, original)
	commitMessage(t, reg, store, originalMsg, raw)

	t.Run("foreign owner", func(t *testing.T) {
		content := programContent(otherOwner, baseEpoch+1, codeRef, runtimeRef)
		content.Replaces = strPtr(originalMsg.ItemHash)
		var rej *message.Rejection
		require.ErrorAs(t, validate(content, otherOwner), &rej)
		assert.Equal(t, message.ErrCodePermissionDenied, rej.Code)
	})

	t.Run("amend locked", func(t *testing.T) {
		locked := programContent(testOwner, baseEpoch+2, codeRef, runtimeRef)
		locked.AllowAmend = false
		lockedMsg, raw := newMessage(t, message.ProgramType, testOwner, locked)
		commitMessage(t, reg, store, lockedMsg, raw)

		content := programContent(testOwner, baseEpoch+3, codeRef, runtimeRef)
		content.Replaces = strPtr(lockedMsg.ItemHash)
		var rej *message.Rejection
		require.ErrorAs(t, validate(content, testOwner), &rej)
		assert.Equal(t, message.ErrCodeContentValidationFailed, rej.Code)
		assert.Contains(t, rej.Reason, "does not allow amendments")
	})

	t.Run("replace of replacement", func(t *testing.T) {
		second := programContent(testOwner, baseEpoch+4, codeRef, runtimeRef)
		second.Replaces = strPtr(originalMsg.ItemHash)
		secondMsg, raw := newMessage(t, message.ProgramType, testOwner, second)
		commitMessage(t, reg, store, secondMsg, raw)

		content := programContent(testOwner, baseEpoch+5, codeRef, runtimeRef)
		content.Replaces = strPtr(secondMsg.ItemHash)
		var rej *message.Rejection
		require.ErrorAs(t, validate(content, testOwner), &rej)
		assert.Equal(t, message.ErrCodeContentValidationFailed, rej.Code)
		assert.Contains(t, rej.Reason, originalMsg.ItemHash)
	})
}

func TestVMForgetRemovesRowAndVersion(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	seedVolume(t, store, rootfsParentRef, true)
	seedVolume(t, store, venvVolumeRef, false)

	content := instanceContent(testOwner, instanceEpoch)
	msg, raw := newMessage(t, message.InstanceType, testOwner, content)
	item := commitMessage(t, reg, store, msg, raw)

	handler, err := reg.For(message.InstanceType)
	require.NoError(t, err)
	require.NoError(t, handler.Forget(ctx, store, msg, item.Content))

	_, err = store.GetVM(ctx, msg.ItemHash)
	assert.ErrorIs(t, err, db.ErrNotFound)
	_, err = store.GetVMVersion(ctx, msg.ItemHash)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestVMForgetReplacementRestoresOriginal(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	codeRef := message.Sha256Hex([]byte("code v1"))
	runtimeRef := message.Sha256Hex([]byte("runtime"))
	seedVolume(t, store, codeRef, false)
	seedVolume(t, store, runtimeRef, false)

	original := programContent(testOwner, baseEpoch, codeRef, runtimeRef)
	originalMsg, raw := newMessage(t, message.ProgramType, testOwner, original)
	commitMessage(t, reg, store, originalMsg, raw)

	replacement := programContent(testOwner, baseEpoch+100, codeRef, runtimeRef)
	replacement.Replaces = strPtr(originalMsg.ItemHash)
	replacementMsg, raw := newMessage(t, message.ProgramType, testOwner, replacement)
	item := commitMessage(t, reg, store, replacementMsg, raw)

	handler, err := reg.For(message.ProgramType)
	require.NoError(t, err)
	require.NoError(t, handler.Forget(ctx, store, replacementMsg, item.Content))

	version, err := store.GetVMVersion(ctx, originalMsg.ItemHash)
	require.NoError(t, err)
	assert.Equal(t, originalMsg.ItemHash, version.CurrentVersion)
}
