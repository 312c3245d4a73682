package memdb

import (
	"sort"
	"time"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/types/message"
)

func clonePending(p *message.PendingMessage) *message.PendingMessage {
	cp := *p
	cp.Confirmations = append([]message.Confirmation(nil), p.Confirmations...)
	return &cp
}

func (s *state) insertPendingMessage(pending *message.PendingMessage) (int64, error) {
	key := pending.Key().String()
	if _, ok := s.pendingByKey[key]; ok {
		return 0, db.ErrAlreadyExists
	}
	s.nextPendingID++
	cp := clonePending(pending)
	cp.ID = s.nextPendingID
	s.pendingMessages[cp.ID] = cp
	s.pendingByKey[key] = cp.ID
	return cp.ID, nil
}

func (s *state) getPendingMessageByKey(key message.LogicalKey) (*message.PendingMessage, error) {
	id, ok := s.pendingByKey[key.String()]
	if !ok {
		return nil, db.ErrNotFound
	}
	return clonePending(s.pendingMessages[id]), nil
}

func (s *state) getPendingMessageByPair(itemHash, sender string) (*message.PendingMessage, error) {
	var found *message.PendingMessage
	for _, p := range s.pendingMessages {
		if p.ItemHash != itemHash || p.Sender != sender {
			continue
		}
		if found == nil || p.ID < found.ID {
			found = p
		}
	}
	if found == nil {
		return nil, db.ErrNotFound
	}
	return clonePending(found), nil
}

func (s *state) deletePendingMessage(id int64) {
	p, ok := s.pendingMessages[id]
	if !ok {
		return
	}
	delete(s.pendingMessages, id)
	delete(s.pendingByKey, p.Key().String())
}

func (s *state) markPendingMessageFetched(id int64, itemContent string) error {
	p, ok := s.pendingMessages[id]
	if !ok {
		return db.ErrNotFound
	}
	cp := clonePending(p)
	cp.ItemContent = itemContent
	cp.Fetched = true
	s.pendingMessages[id] = cp
	return nil
}

func (s *state) reschedulePendingMessage(id int64, retries int, nextAttempt time.Time) error {
	p, ok := s.pendingMessages[id]
	if !ok {
		return db.ErrNotFound
	}
	cp := clonePending(p)
	cp.Retries = retries
	cp.NextAttempt = nextAttempt
	s.pendingMessages[id] = cp
	return nil
}

func (s *state) listDuePendingMessages(now time.Time, limit int) []*message.PendingMessage {
	due := make([]*message.PendingMessage, 0)
	for _, p := range s.pendingMessages {
		if !p.NextAttempt.After(now) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Retries != due[j].Retries {
			return due[i].Retries < due[j].Retries
		}
		if due[i].Time != due[j].Time {
			return due[i].Time < due[j].Time
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]*message.PendingMessage, len(due))
	for i, p := range due {
		out[i] = clonePending(p)
	}
	return out
}

func (s *state) countPendingMessages() int {
	return len(s.pendingMessages)
}

func (s *state) sweepDuplicatePendingMessages() int {
	type pair struct {
		itemHash string
		sender   string
	}
	maxHeight := make(map[pair]int64)
	for _, p := range s.pendingMessages {
		k := pair{p.ItemHash, p.Sender}
		if h, ok := maxHeight[k]; !ok || p.SourceHeight > h {
			maxHeight[k] = p.SourceHeight
		}
	}
	var victims []int64
	for id, p := range s.pendingMessages {
		if p.SourceHeight < maxHeight[pair{p.ItemHash, p.Sender}] {
			victims = append(victims, id)
		}
	}
	for _, id := range victims {
		s.deletePendingMessage(id)
	}
	return len(victims)
}
