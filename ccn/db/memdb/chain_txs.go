package memdb

import (
	"sort"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/types/chainsync"
)

func (s *state) upsertChainTx(tx *chainsync.ChainTx) {
	cp := *tx
	s.chainTxs[tx.Hash] = &cp
}

func (s *state) getChainTx(hash string) (*chainsync.ChainTx, error) {
	tx, ok := s.chainTxs[hash]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *state) addPendingTx(txHash string) error {
	if _, ok := s.chainTxs[txHash]; !ok {
		return db.ErrNotFound
	}
	s.pendingTxs[txHash] = true
	return nil
}

func (s *state) getPendingTx(txHash string) (*chainsync.ChainTx, error) {
	if !s.pendingTxs[txHash] {
		return nil, db.ErrNotFound
	}
	return s.getChainTx(txHash)
}

func (s *state) deletePendingTx(txHash string) {
	delete(s.pendingTxs, txHash)
}

func (s *state) listPendingTxs(limit int) []string {
	hashes := make([]string, 0, len(s.pendingTxs))
	for hash := range s.pendingTxs {
		hashes = append(hashes, hash)
	}
	sort.Strings(hashes)
	if limit > 0 && len(hashes) > limit {
		hashes = hashes[:limit]
	}
	return hashes
}

func (s *state) countPendingTxs() int {
	return len(s.pendingTxs)
}
