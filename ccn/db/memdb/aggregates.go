package memdb

import (
	"sort"

	"github.com/aleph-im/go-ccn/ccn/db"
)

// aggregateID keys the merged-view map. NUL cannot appear in either part.
func aggregateID(key, owner string) string {
	return key + "\x00" + owner
}

func (s *state) insertAggregateElement(element *db.AggregateElement) error {
	if _, ok := s.aggregateElements[element.ItemHash]; ok {
		return db.ErrAlreadyExists
	}
	cp := *element
	s.aggregateElements[element.ItemHash] = &cp
	return nil
}

func (s *state) getAggregateElements(key, owner string) []*db.AggregateElement {
	var elements []*db.AggregateElement
	for _, e := range s.aggregateElements {
		if e.Key == key && e.Owner == owner {
			cp := *e
			elements = append(elements, &cp)
		}
	}
	sort.Slice(elements, func(i, j int) bool {
		if !elements[i].CreationDatetime.Equal(elements[j].CreationDatetime) {
			return elements[i].CreationDatetime.Before(elements[j].CreationDatetime)
		}
		return elements[i].ItemHash < elements[j].ItemHash
	})
	return elements
}

func (s *state) getAggregate(key, owner string) (*db.Aggregate, error) {
	a, ok := s.aggregates[aggregateID(key, owner)]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *state) upsertAggregate(aggregate *db.Aggregate) {
	cp := *aggregate
	s.aggregates[aggregateID(aggregate.Key, aggregate.Owner)] = &cp
}

func (s *state) deleteAggregateElement(itemHash string) {
	delete(s.aggregateElements, itemHash)
}

func (s *state) deleteAggregate(key, owner string) {
	delete(s.aggregates, aggregateID(key, owner))
}
