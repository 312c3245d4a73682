package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aleph-im/go-ccn/types/message"
)

func (s *Store) InsertMessage(ctx context.Context, msg *message.Message) error {
	// Messages are content addressed; a conflicting row carries the same
	// data, so the insert is a no-op.
	_, err := s.q.Exec(ctx, `
		INSERT INTO messages (item_hash, item_type, type, chain, sender, signature, time, channel, content, size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (item_hash) DO NOTHING`,
		msg.ItemHash, msg.ItemType, msg.Type, msg.Chain, msg.Sender, msg.Signature,
		msg.Time, msg.Channel, msg.Content, msg.Size,
	)
	return mapError(err)
}

func (s *Store) GetMessage(ctx context.Context, itemHash string) (*message.Message, error) {
	msg := &message.Message{}
	err := s.q.QueryRow(ctx, `
		SELECT item_hash, item_type, type, chain, sender, signature, time, channel, content, size
		FROM messages WHERE item_hash = $1`, itemHash,
	).Scan(&msg.ItemHash, &msg.ItemType, &msg.Type, &msg.Chain, &msg.Sender, &msg.Signature,
		&msg.Time, &msg.Channel, &msg.Content, &msg.Size)
	if err != nil {
		return nil, mapError(err)
	}
	return msg, nil
}

func (s *Store) DeleteMessage(ctx context.Context, itemHash string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM messages WHERE item_hash = $1`, itemHash)
	return mapError(err)
}

func (s *Store) EnsureMessageStatus(ctx context.Context, itemHash string, status message.Status, receptionTime time.Time) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO message_status (item_hash, status, reception_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_hash) DO NOTHING`,
		itemHash, status, receptionTime,
	)
	return mapError(err)
}

func (s *Store) SetMessageStatus(ctx context.Context, itemHash string, status message.Status) error {
	tag, err := s.q.Exec(ctx, `UPDATE message_status SET status = $2 WHERE item_hash = $1`, itemHash, status)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

func (s *Store) GetMessageStatus(ctx context.Context, itemHash string) (*message.StatusRow, error) {
	row := &message.StatusRow{}
	err := s.q.QueryRow(ctx, `
		SELECT item_hash, status, reception_time FROM message_status WHERE item_hash = $1`, itemHash,
	).Scan(&row.ItemHash, &row.Status, &row.ReceptionTime)
	if err != nil {
		return nil, mapError(err)
	}
	return row, nil
}

func (s *Store) UpsertMessageConfirmation(ctx context.Context, itemHash, txHash string) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO message_confirmations (item_hash, tx_hash)
		VALUES ($1, $2)
		ON CONFLICT (item_hash, tx_hash) DO NOTHING`,
		itemHash, txHash,
	)
	return mapError(err)
}

func (s *Store) GetConfirmations(ctx context.Context, itemHash string) ([]message.Confirmation, error) {
	rows, err := s.q.Query(ctx, `
		SELECT t.chain, t.hash, t.height
		FROM message_confirmations c
		JOIN chain_txs t ON t.hash = c.tx_hash
		WHERE c.item_hash = $1
		ORDER BY t.height ASC, t.hash ASC`, itemHash,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var confs []message.Confirmation
	for rows.Next() {
		var c message.Confirmation
		if err := rows.Scan(&c.Chain, &c.Hash, &c.Height); err != nil {
			return nil, mapError(err)
		}
		confs = append(confs, c)
	}
	return confs, mapError(rows.Err())
}

func (s *Store) UpsertRejectedMessage(ctx context.Context, rejected *message.RejectedMessage) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO rejected_messages (item_hash, message, error_code, details, traceback)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (item_hash) DO UPDATE
		SET message = EXCLUDED.message, error_code = EXCLUDED.error_code,
		    details = EXCLUDED.details, traceback = EXCLUDED.traceback`,
		rejected.ItemHash, rejected.Message, rejected.ErrorCode, rejected.Details, rejected.Traceback,
	)
	return mapError(err)
}

func (s *Store) GetRejectedMessage(ctx context.Context, itemHash string) (*message.RejectedMessage, error) {
	rejected := &message.RejectedMessage{}
	err := s.q.QueryRow(ctx, `
		SELECT item_hash, message, error_code, details, traceback
		FROM rejected_messages WHERE item_hash = $1`, itemHash,
	).Scan(&rejected.ItemHash, &rejected.Message, &rejected.ErrorCode, &rejected.Details, &rejected.Traceback)
	if err != nil {
		return nil, mapError(err)
	}
	return rejected, nil
}

func (s *Store) InsertForgottenMessage(ctx context.Context, forgotten *message.ForgottenMessage) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO forgotten_messages (item_hash, type, chain, sender, signature, item_type, time, channel, forgotten_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (item_hash) DO NOTHING`,
		forgotten.ItemHash, forgotten.Type, forgotten.Chain, forgotten.Sender, forgotten.Signature,
		forgotten.ItemType, forgotten.Time, forgotten.Channel, forgotten.ForgottenBy,
	)
	return mapError(err)
}

func (s *Store) GetForgottenMessage(ctx context.Context, itemHash string) (*message.ForgottenMessage, error) {
	forgotten := &message.ForgottenMessage{}
	err := s.q.QueryRow(ctx, `
		SELECT item_hash, type, chain, sender, signature, item_type, time, channel, forgotten_by
		FROM forgotten_messages WHERE item_hash = $1`, itemHash,
	).Scan(&forgotten.ItemHash, &forgotten.Type, &forgotten.Chain, &forgotten.Sender, &forgotten.Signature,
		&forgotten.ItemType, &forgotten.Time, &forgotten.Channel, &forgotten.ForgottenBy)
	if err != nil {
		return nil, mapError(err)
	}
	return forgotten, nil
}

func (s *Store) AppendForgottenBy(ctx context.Context, targetHash, forgetHash string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE forgotten_messages
		SET forgotten_by = CASE
			WHEN $2 = ANY (forgotten_by) THEN forgotten_by
			ELSE array_append(forgotten_by, $2)
		END
		WHERE item_hash = $1`,
		targetHash, forgetHash,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}
