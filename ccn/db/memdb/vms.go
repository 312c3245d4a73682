package memdb

import "github.com/aleph-im/go-ccn/ccn/db"

func cloneVM(vm *db.VM) *db.VM {
	cp := *vm
	if vm.Replaces != nil {
		replaces := *vm.Replaces
		cp.Replaces = &replaces
	}
	if vm.Variables != nil {
		cp.Variables = make(map[string]string, len(vm.Variables))
		for k, v := range vm.Variables {
			cp.Variables[k] = v
		}
	}
	cp.AuthorizedKeys = append([]string(nil), vm.AuthorizedKeys...)
	if vm.Rootfs != nil {
		rootfs := *vm.Rootfs
		cp.Rootfs = &rootfs
	}
	if vm.Program != nil {
		program := *vm.Program
		if vm.Program.DataRef != nil {
			dataRef := *vm.Program.DataRef
			program.DataRef = &dataRef
		}
		cp.Program = &program
	}
	cp.Volumes = make([]db.VMVolume, len(vm.Volumes))
	for i, v := range vm.Volumes {
		cv := v
		if v.ParentRef != nil {
			parent := *v.ParentRef
			cv.ParentRef = &parent
		}
		cp.Volumes[i] = cv
	}
	return &cp
}

func (s *state) insertVM(vm *db.VM) error {
	if _, ok := s.vms[vm.ItemHash]; ok {
		return db.ErrAlreadyExists
	}
	s.vms[vm.ItemHash] = cloneVM(vm)
	return nil
}

func (s *state) getVM(itemHash string) (*db.VM, error) {
	vm, ok := s.vms[itemHash]
	if !ok {
		return nil, db.ErrNotFound
	}
	return cloneVM(vm), nil
}

func (s *state) deleteVM(itemHash string) {
	delete(s.vms, itemHash)
}

func (s *state) upsertVMVersion(version *db.VMVersion) {
	cp := *version
	s.vmVersions[version.VMHash] = &cp
}

func (s *state) getVMVersion(vmHash string) (*db.VMVersion, error) {
	v, ok := s.vmVersions[vmHash]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

// refreshVMVersion repoints a program ref at its newest surviving version,
// dropping the row when every version has been forgotten. The first version
// of a program matches the ref by item hash, later ones through replaces.
func (s *state) refreshVMVersion(programRef string) {
	var latest *db.VM
	for _, vm := range s.vms {
		matches := vm.ItemHash == programRef ||
			(vm.Replaces != nil && *vm.Replaces == programRef)
		if !matches {
			continue
		}
		if latest == nil || vm.Created.After(latest.Created) ||
			(vm.Created.Equal(latest.Created) && vm.ItemHash > latest.ItemHash) {
			latest = vm
		}
	}
	if latest == nil {
		delete(s.vmVersions, programRef)
		return
	}
	s.vmVersions[programRef] = &db.VMVersion{
		VMHash:         programRef,
		Owner:          latest.Owner,
		CurrentVersion: latest.ItemHash,
		LastUpdated:    latest.Created,
	}
}
