package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/types/files"
)

func (s *Store) UpsertStoredFile(ctx context.Context, file *files.StoredFile) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO stored_files (hash, type, size)
		VALUES ($1, $2, $3)
		ON CONFLICT (hash) DO UPDATE SET type = EXCLUDED.type, size = EXCLUDED.size`,
		file.Hash, file.Type, file.Size,
	)
	return mapError(err)
}

func (s *Store) GetStoredFile(ctx context.Context, hash string) (*files.StoredFile, error) {
	file := &files.StoredFile{}
	err := s.q.QueryRow(ctx, `
		SELECT hash, type, size FROM stored_files WHERE hash = $1`, hash,
	).Scan(&file.Hash, &file.Type, &file.Size)
	if err != nil {
		return nil, mapError(err)
	}
	return file, nil
}

func (s *Store) DeleteStoredFile(ctx context.Context, hash string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM stored_files WHERE hash = $1`, hash)
	return mapError(err)
}

func (s *Store) InsertFilePin(ctx context.Context, pin *files.FilePin) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO file_pins (file_hash, type, created, tx_hash, owner, item_hash, ref)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM file_pins
			WHERE ($2 = 'tx' AND type = 'tx' AND file_hash = $1 AND tx_hash = $4)
			   OR ($2 <> 'tx' AND type = $2 AND item_hash = $6)
		)`,
		pin.FileHash, pin.Type, pin.Created, pin.TxHash, pin.Owner, pin.ItemHash, pin.Ref,
	)
	// A concurrent insert of the same pin trips the partial unique index;
	// the pin exists either way.
	if err := mapError(err); err != nil && !errors.Is(err, db.ErrAlreadyExists) {
		return err
	}
	return nil
}

func scanFilePin(row pgx.Row) (*files.FilePin, error) {
	pin := &files.FilePin{}
	err := row.Scan(&pin.ID, &pin.FileHash, &pin.Type, &pin.Created, &pin.TxHash, &pin.Owner, &pin.ItemHash, &pin.Ref)
	if err != nil {
		return nil, mapError(err)
	}
	return pin, nil
}

func (s *Store) GetMessageFilePin(ctx context.Context, itemHash string) (*files.FilePin, error) {
	return scanFilePin(s.q.QueryRow(ctx, `
		SELECT id, file_hash, type, created, tx_hash, owner, item_hash, ref
		FROM file_pins
		WHERE type = 'message' AND item_hash = $1`, itemHash,
	))
}

func (s *Store) DeleteFilePinsByItem(ctx context.Context, itemHash string) ([]string, error) {
	rows, err := s.q.Query(ctx, `
		DELETE FROM file_pins WHERE item_hash = $1
		RETURNING file_hash`, itemHash,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	seen := make(map[string]bool)
	var lost []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, mapError(err)
		}
		if !seen[hash] {
			seen[hash] = true
			lost = append(lost, hash)
		}
	}
	return lost, mapError(rows.Err())
}

func (s *Store) CountFilePins(ctx context.Context, fileHash string) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM file_pins WHERE file_hash = $1`, fileHash).Scan(&n)
	return n, mapError(err)
}

func (s *Store) TotalPinnedSize(ctx context.Context, owner string) (int64, error) {
	var total int64
	err := s.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(f.size), 0)
		FROM file_pins p
		JOIN stored_files f ON f.hash = p.file_hash
		WHERE p.type = 'message' AND p.owner = $1`, owner,
	).Scan(&total)
	return total, mapError(err)
}

func (s *Store) UpsertFileTag(ctx context.Context, tag *files.FileTag) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO file_tags (tag, owner, file_hash, updated)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tag) DO UPDATE
		SET owner = EXCLUDED.owner, file_hash = EXCLUDED.file_hash, updated = EXCLUDED.updated`,
		tag.Tag, tag.Owner, tag.FileHash, tag.Updated,
	)
	return mapError(err)
}

func (s *Store) GetFileTag(ctx context.Context, tag string) (*files.FileTag, error) {
	t := &files.FileTag{}
	err := s.q.QueryRow(ctx, `
		SELECT tag, owner, file_hash, updated FROM file_tags WHERE tag = $1`, tag,
	).Scan(&t.Tag, &t.Owner, &t.FileHash, &t.Updated)
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

func (s *Store) RefreshFileTag(ctx context.Context, tag string) error {
	newest := &files.FileTag{Tag: tag}
	err := s.q.QueryRow(ctx, `
		SELECT owner, file_hash, created
		FROM file_pins
		WHERE type = 'message' AND (ref = $1 OR (ref IS NULL AND item_hash = $1))
		ORDER BY created DESC, id DESC
		LIMIT 1`, tag,
	).Scan(&newest.Owner, &newest.FileHash, &newest.Updated)
	if errors.Is(mapError(err), db.ErrNotFound) {
		_, err := s.q.Exec(ctx, `DELETE FROM file_tags WHERE tag = $1`, tag)
		return mapError(err)
	}
	if err != nil {
		return mapError(err)
	}
	return s.UpsertFileTag(ctx, newest)
}
