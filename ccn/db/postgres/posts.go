package postgres

import (
	"context"

	"github.com/aleph-im/go-ccn/ccn/db"
)

func (s *Store) InsertPost(ctx context.Context, post *db.Post) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO posts (item_hash, owner, post_type, ref, amends, channel, content, creation_datetime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		post.ItemHash, post.Owner, post.PostType, post.Ref, post.Amends, post.Channel,
		post.Content, post.CreationDatetime,
	)
	return mapError(err)
}

func (s *Store) GetPost(ctx context.Context, itemHash string) (*db.Post, error) {
	post := &db.Post{}
	err := s.q.QueryRow(ctx, `
		SELECT item_hash, owner, post_type, ref, amends, channel, content, creation_datetime
		FROM posts WHERE item_hash = $1`, itemHash,
	).Scan(&post.ItemHash, &post.Owner, &post.PostType, &post.Ref, &post.Amends, &post.Channel,
		&post.Content, &post.CreationDatetime)
	if err != nil {
		return nil, mapError(err)
	}
	return post, nil
}

func (s *Store) DeletePost(ctx context.Context, itemHash string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM posts WHERE item_hash = $1`, itemHash)
	return mapError(err)
}
