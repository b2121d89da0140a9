package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/axleworks/settler/common/errors"
)

var (
	tokenA = NamedAddress("test/tokenA")
	alice  = NamedAddress("test/alice")
	bob    = NamedAddress("test/bob")
	carol  = NamedAddress("test/carol")
)

func TestLedgerTransfer(t *testing.T) {
	l := NewTokenLedger()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(100)))

	require.NoError(t, l.Transfer(tokenA, alice, bob, big.NewInt(40)))
	assert.Equal(t, int64(60), l.BalanceOf(tokenA, alice).Int64())
	assert.Equal(t, int64(40), l.BalanceOf(tokenA, bob).Int64())

	err := l.Transfer(tokenA, alice, bob, big.NewInt(61))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	// Failed transfer moved nothing.
	assert.Equal(t, int64(60), l.BalanceOf(tokenA, alice).Int64())
}

func TestLedgerTransferFrom(t *testing.T) {
	l := NewTokenLedger()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(100)))
	require.NoError(t, l.Approve(tokenA, alice, carol, big.NewInt(50)))

	require.NoError(t, l.TransferFrom(tokenA, carol, alice, bob, big.NewInt(30)))
	assert.Equal(t, int64(70), l.BalanceOf(tokenA, alice).Int64())
	assert.Equal(t, int64(30), l.BalanceOf(tokenA, bob).Int64())
	assert.Equal(t, int64(20), l.Allowance(tokenA, alice, carol).Int64())

	err := l.TransferFrom(tokenA, carol, alice, bob, big.NewInt(21))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientAllowance)
}

func TestLedgerSnapshotRevert(t *testing.T) {
	l := NewTokenLedger()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(100)))

	snap := l.Snapshot()
	require.NoError(t, l.Transfer(tokenA, alice, bob, big.NewInt(75)))
	require.NoError(t, l.Approve(tokenA, alice, carol, big.NewInt(10)))
	assert.Equal(t, int64(25), l.BalanceOf(tokenA, alice).Int64())

	l.RevertToSnapshot(snap)
	assert.Equal(t, int64(100), l.BalanceOf(tokenA, alice).Int64())
	assert.Equal(t, int64(0), l.BalanceOf(tokenA, bob).Int64())
	assert.Equal(t, int64(0), l.Allowance(tokenA, alice, carol).Int64())
}

func TestLedgerNestedSnapshots(t *testing.T) {
	l := NewTokenLedger()
	require.NoError(t, l.Mint(tokenA, alice, big.NewInt(100)))

	outer := l.Snapshot()
	require.NoError(t, l.Transfer(tokenA, alice, bob, big.NewInt(10)))
	inner := l.Snapshot()
	require.NoError(t, l.Transfer(tokenA, alice, bob, big.NewInt(10)))

	l.RevertToSnapshot(inner)
	assert.Equal(t, int64(90), l.BalanceOf(tokenA, alice).Int64())

	l.RevertToSnapshot(outer)
	assert.Equal(t, int64(100), l.BalanceOf(tokenA, alice).Int64())
}

func TestExecutorRejectsReentry(t *testing.T) {
	exec := &Executor{}
	txCtx, done, err := exec.Begin(context.Background())
	require.NoError(t, err)

	// Only a Begin carrying the in-flight transaction's context is re-entry.
	_, _, err = exec.Begin(txCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrReentrantCall)

	done()
	_, done2, err := exec.Begin(context.Background())
	require.NoError(t, err)
	done2()
}

func TestExecutorQueuesIndependentCallers(t *testing.T) {
	exec := &Executor{}
	_, done, err := exec.Begin(context.Background())
	require.NoError(t, err)

	// An unrelated caller blocks until the in-flight transaction completes
	// instead of being rejected.
	got := make(chan error, 1)
	go func() {
		_, d, err := exec.Begin(context.Background())
		if err == nil {
			d()
		}
		got <- err
	}()

	done()
	require.NoError(t, <-got)
}

func TestExecutorTokensAreExecutorScoped(t *testing.T) {
	a := &Executor{}
	b := &Executor{}

	txCtx, done, err := a.Begin(context.Background())
	require.NoError(t, err)
	defer done()

	// A transaction on one executor may open one on another.
	_, doneB, err := b.Begin(txCtx)
	require.NoError(t, err)
	doneB()
}
