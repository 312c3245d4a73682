package memdb

import "github.com/aleph-im/go-ccn/ccn/db"

func clonePost(p *db.Post) *db.Post {
	cp := *p
	if p.Ref != nil {
		ref := *p.Ref
		cp.Ref = &ref
	}
	if p.Amends != nil {
		amends := *p.Amends
		cp.Amends = &amends
	}
	return &cp
}

func (s *state) insertPost(post *db.Post) error {
	if _, ok := s.posts[post.ItemHash]; ok {
		return db.ErrAlreadyExists
	}
	s.posts[post.ItemHash] = clonePost(post)
	return nil
}

func (s *state) getPost(itemHash string) (*db.Post, error) {
	p, ok := s.posts[itemHash]
	if !ok {
		return nil, db.ErrNotFound
	}
	return clonePost(p), nil
}

func (s *state) deletePost(itemHash string) {
	delete(s.posts, itemHash)
}
