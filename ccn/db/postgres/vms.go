package postgres

import (
	"context"

	"github.com/pkg/errors"

	"github.com/aleph-im/go-ccn/ccn/db"
)

func (s *Store) InsertVM(ctx context.Context, vm *db.VM) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO vms (item_hash, owner, type, allow_amend, replaces, environment, resources,
			variables, authorized_keys, rootfs, program, volumes, created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		vm.ItemHash, vm.Owner, vm.Type, vm.AllowAmend, vm.Replaces, vm.Environment, vm.Resources,
		vm.Variables, vm.AuthorizedKeys, vm.Rootfs, vm.Program, vm.Volumes, vm.Created,
	)
	return mapError(err)
}

func (s *Store) GetVM(ctx context.Context, itemHash string) (*db.VM, error) {
	vm := &db.VM{}
	err := s.q.QueryRow(ctx, `
		SELECT item_hash, owner, type, allow_amend, replaces, environment, resources,
			variables, authorized_keys, rootfs, program, volumes, created
		FROM vms WHERE item_hash = $1`, itemHash,
	).Scan(&vm.ItemHash, &vm.Owner, &vm.Type, &vm.AllowAmend, &vm.Replaces, &vm.Environment,
		&vm.Resources, &vm.Variables, &vm.AuthorizedKeys, &vm.Rootfs, &vm.Program, &vm.Volumes, &vm.Created)
	if err != nil {
		return nil, mapError(err)
	}
	return vm, nil
}

func (s *Store) DeleteVM(ctx context.Context, itemHash string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM vms WHERE item_hash = $1`, itemHash)
	return mapError(err)
}

func (s *Store) UpsertVMVersion(ctx context.Context, version *db.VMVersion) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO vm_versions (vm_hash, owner, current_version, last_updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vm_hash) DO UPDATE
		SET owner = EXCLUDED.owner, current_version = EXCLUDED.current_version,
		    last_updated = EXCLUDED.last_updated`,
		version.VMHash, version.Owner, version.CurrentVersion, version.LastUpdated,
	)
	return mapError(err)
}

func (s *Store) GetVMVersion(ctx context.Context, vmHash string) (*db.VMVersion, error) {
	v := &db.VMVersion{}
	err := s.q.QueryRow(ctx, `
		SELECT vm_hash, owner, current_version, last_updated
		FROM vm_versions WHERE vm_hash = $1`, vmHash,
	).Scan(&v.VMHash, &v.Owner, &v.CurrentVersion, &v.LastUpdated)
	if err != nil {
		return nil, mapError(err)
	}
	return v, nil
}

func (s *Store) RefreshVMVersion(ctx context.Context, programRef string) error {
	latest := &db.VMVersion{VMHash: programRef}
	var itemHash string
	err := s.q.QueryRow(ctx, `
		SELECT item_hash, owner, created
		FROM vms
		WHERE item_hash = $1 OR replaces = $1
		ORDER BY created DESC, item_hash DESC
		LIMIT 1`, programRef,
	).Scan(&itemHash, &latest.Owner, &latest.LastUpdated)
	if errors.Is(mapError(err), db.ErrNotFound) {
		_, err := s.q.Exec(ctx, `DELETE FROM vm_versions WHERE vm_hash = $1`, programRef)
		return mapError(err)
	}
	if err != nil {
		return mapError(err)
	}
	latest.CurrentVersion = itemHash
	return s.UpsertVMVersion(ctx, latest)
}
