package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/types/message"
)

func TestAggregateFirstElementCreatesView(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	content := aggregateContent("profile", map[string]interface{}{
		"name": "alice", "bio": "hello",
	}, baseEpoch)
	msg, raw := newMessage(t, message.AggregateType, testOwner, content)
	commitMessage(t, reg, store, msg, raw)

	agg, err := store.GetAggregate(ctx, "profile", testOwner)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"alice","bio":"hello"}`, string(agg.Content))
	assert.Equal(t, msg.ItemHash, agg.LastRevisionHash)
	assert.Equal(t, message.EpochTime(baseEpoch), agg.CreationDatetime)
	assert.False(t, agg.Dirty)
}

func TestAggregateInOrderElementsOverlay(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	first := aggregateContent("profile", map[string]interface{}{
		"name": "alice", "bio": "hello",
	}, baseEpoch)
	firstMsg, raw := newMessage(t, message.AggregateType, testOwner, first)
	commitMessage(t, reg, store, firstMsg, raw)

	second := aggregateContent("profile", map[string]interface{}{
		"bio": "updated", "avatar": "QmAvatar",
	}, baseEpoch+100)
	secondMsg, raw := newMessage(t, message.AggregateType, testOwner, second)
	commitMessage(t, reg, store, secondMsg, raw)

	agg, err := store.GetAggregate(ctx, "profile", testOwner)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"alice","bio":"updated","avatar":"QmAvatar"}`, string(agg.Content))
	assert.Equal(t, secondMsg.ItemHash, agg.LastRevisionHash)
	// The view keeps the creation time of the oldest element.
	assert.Equal(t, message.EpochTime(baseEpoch), agg.CreationDatetime)
}

func TestAggregateOutOfOrderElementTriggersRemerge(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	newest := aggregateContent("settings", map[string]interface{}{
		"theme": "dark",
	}, baseEpoch+1000)
	newestMsg, raw := newMessage(t, message.AggregateType, testOwner, newest)
	commitMessage(t, reg, store, newestMsg, raw)

	// An element older than the current view arrives late. Its value for a
	// shared key must not clobber the newer one.
	late := aggregateContent("settings", map[string]interface{}{
		"theme": "light", "lang": "fr",
	}, baseEpoch)
	lateMsg, raw := newMessage(t, message.AggregateType, testOwner, late)
	commitMessage(t, reg, store, lateMsg, raw)

	agg, err := store.GetAggregate(ctx, "settings", testOwner)
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"dark","lang":"fr"}`, string(agg.Content))
	assert.Equal(t, newestMsg.ItemHash, agg.LastRevisionHash)
	assert.Equal(t, message.EpochTime(baseEpoch), agg.CreationDatetime)
	assert.False(t, agg.Dirty, "refresh must clear the dirty flag")
}

func TestAggregateKeysAreScopedByOwner(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	mine := aggregateContent("profile", map[string]interface{}{"name": "alice"}, baseEpoch)
	msg, raw := newMessage(t, message.AggregateType, testOwner, mine)
	commitMessage(t, reg, store, msg, raw)

	theirs := &message.AggregateContent{
		BaseContent: message.BaseContent{Address: otherOwner, Time: baseEpoch + 1},
		Key:         "profile",
		Content:     json.RawMessage(`{"name":"bob"}`),
	}
	otherMsg, raw := newMessage(t, message.AggregateType, otherOwner, theirs)
	commitMessage(t, reg, store, otherMsg, raw)

	agg, err := store.GetAggregate(ctx, "profile", testOwner)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"alice"}`, string(agg.Content))
}

func TestAggregateValidateRejectsNonObjectContent(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	handler, err := reg.For(message.AggregateType)
	require.NoError(t, err)

	for _, bad := range []string{`[1,2]`, `"text"`, `42`, `null`} {
		content := &message.AggregateContent{
			BaseContent: message.BaseContent{Address: testOwner, Time: baseEpoch},
			Key:         "k",
			Content:     json.RawMessage(bad),
		}
		msg, _ := newMessage(t, message.AggregateType, testOwner, content)
		err := handler.Validate(ctx, store, &Item{Message: msg, Content: content})

		var rej *message.Rejection
		require.ErrorAs(t, err, &rej, "content %s", bad)
		assert.Equal(t, message.ErrCodeContentValidationFailed, rej.Code)
	}
}

func TestAggregateForgetElementRebuildsView(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	first := aggregateContent("profile", map[string]interface{}{"name": "alice"}, baseEpoch)
	firstMsg, raw := newMessage(t, message.AggregateType, testOwner, first)
	commitMessage(t, reg, store, firstMsg, raw)

	second := aggregateContent("profile", map[string]interface{}{"name": "eve", "x": true}, baseEpoch+10)
	secondMsg, raw := newMessage(t, message.AggregateType, testOwner, second)
	item := commitMessage(t, reg, store, secondMsg, raw)

	handler, err := reg.For(message.AggregateType)
	require.NoError(t, err)
	require.NoError(t, handler.Forget(ctx, store, secondMsg, item.Content))

	agg, err := store.GetAggregate(ctx, "profile", testOwner)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"alice"}`, string(agg.Content))
	assert.Equal(t, firstMsg.ItemHash, agg.LastRevisionHash)
}

func TestAggregateForgetLastElementDropsView(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	content := aggregateContent("profile", map[string]interface{}{"name": "alice"}, baseEpoch)
	msg, raw := newMessage(t, message.AggregateType, testOwner, content)
	item := commitMessage(t, reg, store, msg, raw)

	handler, err := reg.For(message.AggregateType)
	require.NoError(t, err)
	require.NoError(t, handler.Forget(ctx, store, msg, item.Content))

	_, err = store.GetAggregate(ctx, "profile", testOwner)
	assert.ErrorIs(t, err, db.ErrNotFound)
}
