package memdb

import (
	"sort"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/types/files"
)

func clonePin(p *files.FilePin) *files.FilePin {
	cp := *p
	if p.Ref != nil {
		ref := *p.Ref
		cp.Ref = &ref
	}
	return &cp
}

func (s *state) upsertStoredFile(file *files.StoredFile) {
	cp := *file
	s.files[file.Hash] = &cp
}

func (s *state) getStoredFile(hash string) (*files.StoredFile, error) {
	f, ok := s.files[hash]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (s *state) deleteStoredFile(hash string) {
	delete(s.files, hash)
}

// samePinIdentity reports whether two pins describe the same hold: tx pins
// are keyed by (file_hash, tx_hash), message and content pins by
// (item_hash, type).
func samePinIdentity(a, b *files.FilePin) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type == files.PinTypeTx {
		return a.FileHash == b.FileHash && a.TxHash == b.TxHash
	}
	return a.ItemHash == b.ItemHash
}

func (s *state) insertFilePin(pin *files.FilePin) {
	for _, existing := range s.pins {
		if samePinIdentity(existing, pin) {
			return
		}
	}
	s.nextPinID++
	cp := clonePin(pin)
	cp.ID = s.nextPinID
	s.pins = append(append([]*files.FilePin(nil), s.pins...), cp)
}

func (s *state) getMessageFilePin(itemHash string) (*files.FilePin, error) {
	for _, p := range s.pins {
		if p.Type == files.PinTypeMessage && p.ItemHash == itemHash {
			return clonePin(p), nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *state) deleteFilePinsByItem(itemHash string) []string {
	var kept []*files.FilePin
	seen := make(map[string]bool)
	var lost []string
	for _, p := range s.pins {
		if p.ItemHash != "" && p.ItemHash == itemHash {
			if !seen[p.FileHash] {
				seen[p.FileHash] = true
				lost = append(lost, p.FileHash)
			}
			continue
		}
		kept = append(kept, p)
	}
	s.pins = kept
	sort.Strings(lost)
	return lost
}

func (s *state) countFilePins(fileHash string) int {
	n := 0
	for _, p := range s.pins {
		if p.FileHash == fileHash {
			n++
		}
	}
	return n
}

func (s *state) totalPinnedSize(owner string) int64 {
	var total int64
	for _, p := range s.pins {
		if p.Type != files.PinTypeMessage || p.Owner != owner {
			continue
		}
		if f, ok := s.files[p.FileHash]; ok {
			total += f.Size
		}
	}
	return total
}

func (s *state) upsertFileTag(tag *files.FileTag) {
	cp := *tag
	s.tags[tag.Tag] = &cp
}

func (s *state) getFileTag(tag string) (*files.FileTag, error) {
	t, ok := s.tags[tag]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// refreshFileTag repoints a tag at the newest surviving message pin that
// updates it, or drops the tag when the last such pin is gone. A store
// message updates the tag named by its ref, or the tag equal to its own
// item hash when it has none.
func (s *state) refreshFileTag(tag string) {
	var latest *files.FilePin
	for _, p := range s.pins {
		if p.Type != files.PinTypeMessage {
			continue
		}
		updates := (p.Ref != nil && *p.Ref == tag) || (p.Ref == nil && p.ItemHash == tag)
		if !updates {
			continue
		}
		if latest == nil || p.Created.After(latest.Created) ||
			(p.Created.Equal(latest.Created) && p.ID > latest.ID) {
			latest = p
		}
	}
	if latest == nil {
		delete(s.tags, tag)
		return
	}
	s.tags[tag] = &files.FileTag{
		Tag:      tag,
		Owner:    latest.Owner,
		FileHash: latest.FileHash,
		Updated:  latest.Created,
	}
}
