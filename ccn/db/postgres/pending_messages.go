package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aleph-im/go-ccn/types/message"
)

const pendingMessageColumns = `id, item_hash, item_type, item_content, type, chain, sender, signature,
	time, channel, reception_time, retries, next_attempt, fetched, check_message, origin,
	tx_hash, source_chain, source_height`

func scanPendingMessage(row pgx.Row) (*message.PendingMessage, error) {
	p := &message.PendingMessage{}
	err := row.Scan(
		&p.ID, &p.ItemHash, &p.ItemType, &p.ItemContent, &p.Type, &p.Chain, &p.Sender, &p.Signature,
		&p.Time, &p.Channel, &p.ReceptionTime, &p.Retries, &p.NextAttempt, &p.Fetched, &p.CheckMessage, &p.Origin,
		&p.TxHash, &p.SourceChain, &p.SourceHeight,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

func (s *Store) InsertPendingMessage(ctx context.Context, pending *message.PendingMessage) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO pending_messages (item_hash, item_type, item_content, type, chain, sender, signature,
			time, channel, reception_time, retries, next_attempt, fetched, check_message, origin,
			tx_hash, source_chain, source_height)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id`,
		pending.ItemHash, pending.ItemType, pending.ItemContent, pending.Type, pending.Chain,
		pending.Sender, pending.Signature, pending.Time, pending.Channel, pending.ReceptionTime,
		pending.Retries, pending.NextAttempt, pending.Fetched, pending.CheckMessage, pending.Origin,
		pending.TxHash, pending.SourceChain, pending.SourceHeight,
	).Scan(&id)
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

func (s *Store) GetPendingMessageByKey(ctx context.Context, key message.LogicalKey) (*message.PendingMessage, error) {
	return scanPendingMessage(s.q.QueryRow(ctx, `
		SELECT `+pendingMessageColumns+`
		FROM pending_messages
		WHERE item_hash = $1 AND sender = $2 AND source_chain = $3 AND source_height = $4`,
		key.ItemHash, key.Sender, key.SourceChain, key.SourceHeight,
	))
}

func (s *Store) GetPendingMessageByPair(ctx context.Context, itemHash, sender string) (*message.PendingMessage, error) {
	return scanPendingMessage(s.q.QueryRow(ctx, `
		SELECT `+pendingMessageColumns+`
		FROM pending_messages
		WHERE item_hash = $1 AND sender = $2
		ORDER BY id ASC
		LIMIT 1`,
		itemHash, sender,
	))
}

func (s *Store) DeletePendingMessage(ctx context.Context, id int64) error {
	_, err := s.q.Exec(ctx, `DELETE FROM pending_messages WHERE id = $1`, id)
	return mapError(err)
}

func (s *Store) MarkPendingMessageFetched(ctx context.Context, id int64, itemContent string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE pending_messages SET item_content = $2, fetched = TRUE WHERE id = $1`,
		id, itemContent,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

func (s *Store) ReschedulePendingMessage(ctx context.Context, id int64, retries int, nextAttempt time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE pending_messages SET retries = $2, next_attempt = $3 WHERE id = $1`,
		id, retries, nextAttempt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

func (s *Store) ListDuePendingMessages(ctx context.Context, now time.Time, limit int) ([]*message.PendingMessage, error) {
	var lim interface{}
	if limit > 0 {
		lim = limit
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+pendingMessageColumns+`
		FROM pending_messages
		WHERE next_attempt <= $1
		ORDER BY retries ASC, time ASC, id ASC
		LIMIT $2`, now, lim,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var due []*message.PendingMessage
	for rows.Next() {
		p, err := scanPendingMessage(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, p)
	}
	return due, mapError(rows.Err())
}

func (s *Store) CountPendingMessages(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM pending_messages`).Scan(&n)
	return n, mapError(err)
}

func (s *Store) SweepDuplicatePendingMessages(ctx context.Context) (int, error) {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM pending_messages p
		USING (
			SELECT item_hash, sender, MAX(source_height) AS max_height
			FROM pending_messages
			GROUP BY item_hash, sender
		) d
		WHERE p.item_hash = d.item_hash
		  AND p.sender = d.sender
		  AND p.source_height < d.max_height`,
	)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}
