package postgres

import (
	"context"

	"github.com/aleph-im/go-ccn/ccn/db"
)

func (s *Store) InsertAggregateElement(ctx context.Context, element *db.AggregateElement) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO aggregate_elements (item_hash, key, owner, content, creation_datetime)
		VALUES ($1, $2, $3, $4, $5)`,
		element.ItemHash, element.Key, element.Owner, element.Content, element.CreationDatetime,
	)
	return mapError(err)
}

func (s *Store) GetAggregateElements(ctx context.Context, key, owner string) ([]*db.AggregateElement, error) {
	rows, err := s.q.Query(ctx, `
		SELECT item_hash, key, owner, content, creation_datetime
		FROM aggregate_elements
		WHERE key = $1 AND owner = $2
		ORDER BY creation_datetime ASC, item_hash ASC`, key, owner,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var elements []*db.AggregateElement
	for rows.Next() {
		e := &db.AggregateElement{}
		if err := rows.Scan(&e.ItemHash, &e.Key, &e.Owner, &e.Content, &e.CreationDatetime); err != nil {
			return nil, mapError(err)
		}
		elements = append(elements, e)
	}
	return elements, mapError(rows.Err())
}

func (s *Store) GetAggregate(ctx context.Context, key, owner string) (*db.Aggregate, error) {
	a := &db.Aggregate{}
	err := s.q.QueryRow(ctx, `
		SELECT key, owner, content, creation_datetime, last_revision_hash, dirty
		FROM aggregates WHERE key = $1 AND owner = $2`, key, owner,
	).Scan(&a.Key, &a.Owner, &a.Content, &a.CreationDatetime, &a.LastRevisionHash, &a.Dirty)
	if err != nil {
		return nil, mapError(err)
	}
	return a, nil
}

func (s *Store) UpsertAggregate(ctx context.Context, aggregate *db.Aggregate) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO aggregates (key, owner, content, creation_datetime, last_revision_hash, dirty)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key, owner) DO UPDATE
		SET content = EXCLUDED.content, creation_datetime = EXCLUDED.creation_datetime,
		    last_revision_hash = EXCLUDED.last_revision_hash, dirty = EXCLUDED.dirty`,
		aggregate.Key, aggregate.Owner, aggregate.Content, aggregate.CreationDatetime,
		aggregate.LastRevisionHash, aggregate.Dirty,
	)
	return mapError(err)
}

func (s *Store) DeleteAggregateElement(ctx context.Context, itemHash string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM aggregate_elements WHERE item_hash = $1`, itemHash)
	return mapError(err)
}

func (s *Store) DeleteAggregate(ctx context.Context, key, owner string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM aggregates WHERE key = $1 AND owner = $2`, key, owner)
	return mapError(err)
}
