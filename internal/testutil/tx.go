package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
)

// FakeTx records how a transaction ended. Methods other than Commit and
// Rollback panic; stores under test are fakes that ignore the tx.
type FakeTx struct {
	pgx.Tx

	mu         sync.Mutex
	committed  bool
	rolledBack bool
}

// Commit marks the transaction committed.
func (t *FakeTx) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed || t.rolledBack {
		return pgx.ErrTxClosed
	}
	t.committed = true
	return nil
}

// Rollback marks the transaction rolled back unless it already ended.
func (t *FakeTx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed || t.rolledBack {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

// Committed reports whether Commit was called first.
func (t *FakeTx) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

// RolledBack reports whether Rollback ended the transaction.
func (t *FakeTx) RolledBack() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rolledBack
}

// ErrBeginFailed is returned by FakeDB.Begin when FailBegin is set.
var ErrBeginFailed = errors.New("begin failed")

// FakeDB hands out FakeTx values and keeps them for inspection.
type FakeDB struct {
	FailBegin bool

	mu  sync.Mutex
	txs []*FakeTx
}

// Begin starts a FakeTx.
func (d *FakeDB) Begin(context.Context) (pgx.Tx, error) {
	if d.FailBegin {
		return nil, ErrBeginFailed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	tx := &FakeTx{}
	d.txs = append(d.txs, tx)
	return tx, nil
}

// Txs returns every transaction begun so far.
func (d *FakeDB) Txs() []*FakeTx {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*FakeTx, len(d.txs))
	copy(out, d.txs)
	return out
}

// Last returns the most recent transaction, or nil.
func (d *FakeDB) Last() *FakeTx {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.txs) == 0 {
		return nil
	}
	return d.txs[len(d.txs)-1]
}
