package memdb

import (
	"context"
	"time"

	"github.com/aleph-im/go-ccn/ccn/db"
	"github.com/aleph-im/go-ccn/types/chainsync"
	"github.com/aleph-im/go-ccn/types/files"
	"github.com/aleph-im/go-ccn/types/message"
)

var (
	_ db.Store = (*MemDB)(nil)
	_ db.Store = (*txView)(nil)
)

func (m *MemDB) UpsertChainTx(_ context.Context, tx *chainsync.ChainTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.upsertChainTx(tx)
	return nil
}

func (m *MemDB) GetChainTx(_ context.Context, hash string) (*chainsync.ChainTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getChainTx(hash)
}

func (m *MemDB) AddPendingTx(_ context.Context, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.addPendingTx(txHash)
}

func (m *MemDB) GetPendingTx(_ context.Context, txHash string) (*chainsync.ChainTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getPendingTx(txHash)
}

func (m *MemDB) DeletePendingTx(_ context.Context, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.deletePendingTx(txHash)
	return nil
}

func (m *MemDB) ListPendingTxs(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listPendingTxs(limit), nil
}

func (m *MemDB) CountPendingTxs(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.countPendingTxs(), nil
}

func (m *MemDB) InsertPendingMessage(_ context.Context, pending *message.PendingMessage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertPendingMessage(pending)
}

func (m *MemDB) GetPendingMessageByKey(_ context.Context, key message.LogicalKey) (*message.PendingMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getPendingMessageByKey(key)
}

func (m *MemDB) GetPendingMessageByPair(_ context.Context, itemHash, sender string) (*message.PendingMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getPendingMessageByPair(itemHash, sender)
}

func (m *MemDB) DeletePendingMessage(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.deletePendingMessage(id)
	return nil
}

func (m *MemDB) MarkPendingMessageFetched(_ context.Context, id int64, itemContent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.markPendingMessageFetched(id, itemContent)
}

func (m *MemDB) ReschedulePendingMessage(_ context.Context, id int64, retries int, nextAttempt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.reschedulePendingMessage(id, retries, nextAttempt)
}

func (m *MemDB) ListDuePendingMessages(_ context.Context, now time.Time, limit int) ([]*message.PendingMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.listDuePendingMessages(now, limit), nil
}

func (m *MemDB) CountPendingMessages(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.countPendingMessages(), nil
}

func (m *MemDB) SweepDuplicatePendingMessages(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.sweepDuplicatePendingMessages(), nil
}

func (m *MemDB) InsertMessage(_ context.Context, msg *message.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.insertMessage(msg)
	return nil
}

func (m *MemDB) GetMessage(_ context.Context, itemHash string) (*message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getMessage(itemHash)
}

func (m *MemDB) DeleteMessage(_ context.Context, itemHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.deleteMessage(itemHash)
	return nil
}

func (m *MemDB) EnsureMessageStatus(_ context.Context, itemHash string, status message.Status, receptionTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.ensureMessageStatus(itemHash, status, receptionTime)
	return nil
}

func (m *MemDB) SetMessageStatus(_ context.Context, itemHash string, status message.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.setMessageStatus(itemHash, status)
}

func (m *MemDB) GetMessageStatus(_ context.Context, itemHash string) (*message.StatusRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getMessageStatus(itemHash)
}

func (m *MemDB) UpsertMessageConfirmation(_ context.Context, itemHash, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.upsertMessageConfirmation(itemHash, txHash)
	return nil
}

func (m *MemDB) GetConfirmations(_ context.Context, itemHash string) ([]message.Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getConfirmations(itemHash), nil
}

func (m *MemDB) UpsertRejectedMessage(_ context.Context, rejected *message.RejectedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.upsertRejectedMessage(rejected)
	return nil
}

func (m *MemDB) GetRejectedMessage(_ context.Context, itemHash string) (*message.RejectedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getRejectedMessage(itemHash)
}

func (m *MemDB) InsertForgottenMessage(_ context.Context, forgotten *message.ForgottenMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.insertForgottenMessage(forgotten)
	return nil
}

func (m *MemDB) GetForgottenMessage(_ context.Context, itemHash string) (*message.ForgottenMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getForgottenMessage(itemHash)
}

func (m *MemDB) AppendForgottenBy(_ context.Context, targetHash, forgetHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.appendForgottenBy(targetHash, forgetHash)
}

func (m *MemDB) UpsertStoredFile(_ context.Context, file *files.StoredFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.upsertStoredFile(file)
	return nil
}

func (m *MemDB) GetStoredFile(_ context.Context, hash string) (*files.StoredFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getStoredFile(hash)
}

func (m *MemDB) DeleteStoredFile(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.deleteStoredFile(hash)
	return nil
}

func (m *MemDB) InsertFilePin(_ context.Context, pin *files.FilePin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.insertFilePin(pin)
	return nil
}

func (m *MemDB) GetMessageFilePin(_ context.Context, itemHash string) (*files.FilePin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getMessageFilePin(itemHash)
}

func (m *MemDB) DeleteFilePinsByItem(_ context.Context, itemHash string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.deleteFilePinsByItem(itemHash), nil
}

func (m *MemDB) CountFilePins(_ context.Context, fileHash string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.countFilePins(fileHash), nil
}

func (m *MemDB) TotalPinnedSize(_ context.Context, owner string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.totalPinnedSize(owner), nil
}

func (m *MemDB) UpsertFileTag(_ context.Context, tag *files.FileTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.upsertFileTag(tag)
	return nil
}

func (m *MemDB) GetFileTag(_ context.Context, tag string) (*files.FileTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getFileTag(tag)
}

func (m *MemDB) RefreshFileTag(_ context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.refreshFileTag(tag)
	return nil
}

func (m *MemDB) InsertAggregateElement(_ context.Context, element *db.AggregateElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertAggregateElement(element)
}

func (m *MemDB) GetAggregateElements(_ context.Context, key, owner string) ([]*db.AggregateElement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getAggregateElements(key, owner), nil
}

func (m *MemDB) GetAggregate(_ context.Context, key, owner string) (*db.Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getAggregate(key, owner)
}

func (m *MemDB) UpsertAggregate(_ context.Context, aggregate *db.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.upsertAggregate(aggregate)
	return nil
}

func (m *MemDB) DeleteAggregateElement(_ context.Context, itemHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.deleteAggregateElement(itemHash)
	return nil
}

func (m *MemDB) DeleteAggregate(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.deleteAggregate(key, owner)
	return nil
}

func (m *MemDB) InsertPost(_ context.Context, post *db.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertPost(post)
}

func (m *MemDB) GetPost(_ context.Context, itemHash string) (*db.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getPost(itemHash)
}

func (m *MemDB) DeletePost(_ context.Context, itemHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.deletePost(itemHash)
	return nil
}

func (m *MemDB) InsertVM(_ context.Context, vm *db.VM) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertVM(vm)
}

func (m *MemDB) GetVM(_ context.Context, itemHash string) (*db.VM, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getVM(itemHash)
}

func (m *MemDB) DeleteVM(_ context.Context, itemHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.deleteVM(itemHash)
	return nil
}

func (m *MemDB) UpsertVMVersion(_ context.Context, version *db.VMVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.upsertVMVersion(version)
	return nil
}

func (m *MemDB) GetVMVersion(_ context.Context, vmHash string) (*db.VMVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.getVMVersion(vmHash)
}

func (m *MemDB) RefreshVMVersion(_ context.Context, programRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.refreshVMVersion(programRef)
	return nil
}

func (t *txView) UpsertChainTx(_ context.Context, tx *chainsync.ChainTx) error {
	t.st.upsertChainTx(tx)
	return nil
}

func (t *txView) GetChainTx(_ context.Context, hash string) (*chainsync.ChainTx, error) {
	return t.st.getChainTx(hash)
}

func (t *txView) AddPendingTx(_ context.Context, txHash string) error {
	return t.st.addPendingTx(txHash)
}

func (t *txView) GetPendingTx(_ context.Context, txHash string) (*chainsync.ChainTx, error) {
	return t.st.getPendingTx(txHash)
}

func (t *txView) DeletePendingTx(_ context.Context, txHash string) error {
	t.st.deletePendingTx(txHash)
	return nil
}

func (t *txView) ListPendingTxs(_ context.Context, limit int) ([]string, error) {
	return t.st.listPendingTxs(limit), nil
}

func (t *txView) CountPendingTxs(_ context.Context) (int, error) {
	return t.st.countPendingTxs(), nil
}

func (t *txView) InsertPendingMessage(_ context.Context, pending *message.PendingMessage) (int64, error) {
	return t.st.insertPendingMessage(pending)
}

func (t *txView) GetPendingMessageByKey(_ context.Context, key message.LogicalKey) (*message.PendingMessage, error) {
	return t.st.getPendingMessageByKey(key)
}

func (t *txView) GetPendingMessageByPair(_ context.Context, itemHash, sender string) (*message.PendingMessage, error) {
	return t.st.getPendingMessageByPair(itemHash, sender)
}

func (t *txView) DeletePendingMessage(_ context.Context, id int64) error {
	t.st.deletePendingMessage(id)
	return nil
}

func (t *txView) MarkPendingMessageFetched(_ context.Context, id int64, itemContent string) error {
	return t.st.markPendingMessageFetched(id, itemContent)
}

func (t *txView) ReschedulePendingMessage(_ context.Context, id int64, retries int, nextAttempt time.Time) error {
	return t.st.reschedulePendingMessage(id, retries, nextAttempt)
}

func (t *txView) ListDuePendingMessages(_ context.Context, now time.Time, limit int) ([]*message.PendingMessage, error) {
	return t.st.listDuePendingMessages(now, limit), nil
}

func (t *txView) CountPendingMessages(_ context.Context) (int, error) {
	return t.st.countPendingMessages(), nil
}

func (t *txView) SweepDuplicatePendingMessages(_ context.Context) (int, error) {
	return t.st.sweepDuplicatePendingMessages(), nil
}

func (t *txView) InsertMessage(_ context.Context, msg *message.Message) error {
	t.st.insertMessage(msg)
	return nil
}

func (t *txView) GetMessage(_ context.Context, itemHash string) (*message.Message, error) {
	return t.st.getMessage(itemHash)
}

func (t *txView) DeleteMessage(_ context.Context, itemHash string) error {
	t.st.deleteMessage(itemHash)
	return nil
}

func (t *txView) EnsureMessageStatus(_ context.Context, itemHash string, status message.Status, receptionTime time.Time) error {
	t.st.ensureMessageStatus(itemHash, status, receptionTime)
	return nil
}

func (t *txView) SetMessageStatus(_ context.Context, itemHash string, status message.Status) error {
	return t.st.setMessageStatus(itemHash, status)
}

func (t *txView) GetMessageStatus(_ context.Context, itemHash string) (*message.StatusRow, error) {
	return t.st.getMessageStatus(itemHash)
}

func (t *txView) UpsertMessageConfirmation(_ context.Context, itemHash, txHash string) error {
	t.st.upsertMessageConfirmation(itemHash, txHash)
	return nil
}

func (t *txView) GetConfirmations(_ context.Context, itemHash string) ([]message.Confirmation, error) {
	return t.st.getConfirmations(itemHash), nil
}

func (t *txView) UpsertRejectedMessage(_ context.Context, rejected *message.RejectedMessage) error {
	t.st.upsertRejectedMessage(rejected)
	return nil
}

func (t *txView) GetRejectedMessage(_ context.Context, itemHash string) (*message.RejectedMessage, error) {
	return t.st.getRejectedMessage(itemHash)
}

func (t *txView) InsertForgottenMessage(_ context.Context, forgotten *message.ForgottenMessage) error {
	t.st.insertForgottenMessage(forgotten)
	return nil
}

func (t *txView) GetForgottenMessage(_ context.Context, itemHash string) (*message.ForgottenMessage, error) {
	return t.st.getForgottenMessage(itemHash)
}

func (t *txView) AppendForgottenBy(_ context.Context, targetHash, forgetHash string) error {
	return t.st.appendForgottenBy(targetHash, forgetHash)
}

func (t *txView) UpsertStoredFile(_ context.Context, file *files.StoredFile) error {
	t.st.upsertStoredFile(file)
	return nil
}

func (t *txView) GetStoredFile(_ context.Context, hash string) (*files.StoredFile, error) {
	return t.st.getStoredFile(hash)
}

func (t *txView) DeleteStoredFile(_ context.Context, hash string) error {
	t.st.deleteStoredFile(hash)
	return nil
}

func (t *txView) InsertFilePin(_ context.Context, pin *files.FilePin) error {
	t.st.insertFilePin(pin)
	return nil
}

func (t *txView) GetMessageFilePin(_ context.Context, itemHash string) (*files.FilePin, error) {
	return t.st.getMessageFilePin(itemHash)
}

func (t *txView) DeleteFilePinsByItem(_ context.Context, itemHash string) ([]string, error) {
	return t.st.deleteFilePinsByItem(itemHash), nil
}

func (t *txView) CountFilePins(_ context.Context, fileHash string) (int, error) {
	return t.st.countFilePins(fileHash), nil
}

func (t *txView) TotalPinnedSize(_ context.Context, owner string) (int64, error) {
	return t.st.totalPinnedSize(owner), nil
}

func (t *txView) UpsertFileTag(_ context.Context, tag *files.FileTag) error {
	t.st.upsertFileTag(tag)
	return nil
}

func (t *txView) GetFileTag(_ context.Context, tag string) (*files.FileTag, error) {
	return t.st.getFileTag(tag)
}

func (t *txView) RefreshFileTag(_ context.Context, tag string) error {
	t.st.refreshFileTag(tag)
	return nil
}

func (t *txView) InsertAggregateElement(_ context.Context, element *db.AggregateElement) error {
	return t.st.insertAggregateElement(element)
}

func (t *txView) GetAggregateElements(_ context.Context, key, owner string) ([]*db.AggregateElement, error) {
	return t.st.getAggregateElements(key, owner), nil
}

func (t *txView) GetAggregate(_ context.Context, key, owner string) (*db.Aggregate, error) {
	return t.st.getAggregate(key, owner)
}

func (t *txView) UpsertAggregate(_ context.Context, aggregate *db.Aggregate) error {
	t.st.upsertAggregate(aggregate)
	return nil
}

func (t *txView) DeleteAggregateElement(_ context.Context, itemHash string) error {
	t.st.deleteAggregateElement(itemHash)
	return nil
}

func (t *txView) DeleteAggregate(_ context.Context, key, owner string) error {
	t.st.deleteAggregate(key, owner)
	return nil
}

func (t *txView) InsertPost(_ context.Context, post *db.Post) error {
	return t.st.insertPost(post)
}

func (t *txView) GetPost(_ context.Context, itemHash string) (*db.Post, error) {
	return t.st.getPost(itemHash)
}

func (t *txView) DeletePost(_ context.Context, itemHash string) error {
	t.st.deletePost(itemHash)
	return nil
}

func (t *txView) InsertVM(_ context.Context, vm *db.VM) error {
	return t.st.insertVM(vm)
}

func (t *txView) GetVM(_ context.Context, itemHash string) (*db.VM, error) {
	return t.st.getVM(itemHash)
}

func (t *txView) DeleteVM(_ context.Context, itemHash string) error {
	t.st.deleteVM(itemHash)
	return nil
}

func (t *txView) UpsertVMVersion(_ context.Context, version *db.VMVersion) error {
	t.st.upsertVMVersion(version)
	return nil
}

func (t *txView) GetVMVersion(_ context.Context, vmHash string) (*db.VMVersion, error) {
	return t.st.getVMVersion(vmHash)
}

func (t *txView) RefreshVMVersion(_ context.Context, programRef string) error {
	t.st.refreshVMVersion(programRef)
	return nil
}
