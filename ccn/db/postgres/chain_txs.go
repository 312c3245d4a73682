package postgres

import (
	"context"

	"github.com/aleph-im/go-ccn/types/chainsync"
)

func (s *Store) UpsertChainTx(ctx context.Context, tx *chainsync.ChainTx) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO chain_txs (hash, chain, height, datetime, publisher, protocol, protocol_version, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (hash) DO NOTHING`,
		tx.Hash, tx.Chain, tx.Height, tx.Datetime, tx.Publisher, tx.Protocol, tx.ProtocolVersion, tx.Content,
	)
	return mapError(err)
}

func (s *Store) GetChainTx(ctx context.Context, hash string) (*chainsync.ChainTx, error) {
	tx := &chainsync.ChainTx{}
	err := s.q.QueryRow(ctx, `
		SELECT hash, chain, height, datetime, publisher, protocol, protocol_version, content
		FROM chain_txs WHERE hash = $1`, hash,
	).Scan(&tx.Hash, &tx.Chain, &tx.Height, &tx.Datetime, &tx.Publisher, &tx.Protocol, &tx.ProtocolVersion, &tx.Content)
	if err != nil {
		return nil, mapError(err)
	}
	return tx, nil
}

func (s *Store) AddPendingTx(ctx context.Context, txHash string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO pending_txs (tx_hash) VALUES ($1)
		ON CONFLICT (tx_hash) DO NOTHING`, txHash,
	)
	return mapError(err)
}

func (s *Store) GetPendingTx(ctx context.Context, txHash string) (*chainsync.ChainTx, error) {
	tx := &chainsync.ChainTx{}
	err := s.q.QueryRow(ctx, `
		SELECT t.hash, t.chain, t.height, t.datetime, t.publisher, t.protocol, t.protocol_version, t.content
		FROM pending_txs p
		JOIN chain_txs t ON t.hash = p.tx_hash
		WHERE p.tx_hash = $1`, txHash,
	).Scan(&tx.Hash, &tx.Chain, &tx.Height, &tx.Datetime, &tx.Publisher, &tx.Protocol, &tx.ProtocolVersion, &tx.Content)
	if err != nil {
		return nil, mapError(err)
	}
	return tx, nil
}

func (s *Store) DeletePendingTx(ctx context.Context, txHash string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM pending_txs WHERE tx_hash = $1`, txHash)
	return mapError(err)
}

func (s *Store) ListPendingTxs(ctx context.Context, limit int) ([]string, error) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	rows, err := s.q.Query(ctx, `SELECT tx_hash FROM pending_txs ORDER BY tx_hash LIMIT $1`, lim)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, mapError(err)
		}
		hashes = append(hashes, hash)
	}
	return hashes, mapError(rows.Err())
}

func (s *Store) CountPendingTxs(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM pending_txs`).Scan(&n)
	return n, mapError(err)
}
