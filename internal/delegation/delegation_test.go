package delegation

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	serrors "github.com/axleworks/settler/common/errors"
	"github.com/axleworks/settler/internal/chain"
)

var (
	owner       = chain.NamedAddress("test/owner")
	stranger    = chain.NamedAddress("test/stranger")
	custodyAddr = chain.NamedAddress("test/custody")
	proxyAddr   = chain.NamedAddress("test/proxy")
	settler     = chain.NamedAddress("test/settler")
	token       = chain.NamedAddress("test/token")
	depositor   = chain.NamedAddress("test/depositor")
	receiver    = chain.NamedAddress("test/receiver")
)

const (
	rotationDelay = 72 * time.Hour
	initialDelay  = 24 * time.Hour
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type captureSink struct{ events []Event }

func (s *captureSink) RecordDelegationEvent(e Event) { s.events = append(s.events, e) }

func newTestCustody(t *testing.T) (*Custody, *chain.TokenLedger, *fakeClock, *captureSink) {
	t.Helper()
	ledger := chain.NewTokenLedger()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	sink := &captureSink{}
	c := NewCustody(custodyAddr, owner, ledger, rotationDelay, initialDelay, zap.NewNop(), sink)
	c.now = clk.now
	return c, ledger, clk, sink
}

func TestCustodyRotationTimelock(t *testing.T) {
	c, _, clk, _ := newTestCustody(t)

	require.NoError(t, c.Unlock(owner, proxyAddr))

	// Before the unlock time, confirm always fails.
	err := c.Confirm(owner)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrTimelockNotElapsed)

	// First-ever assignment runs on the shorter emergency delay.
	clk.advance(initialDelay)
	require.NoError(t, c.Confirm(owner))
	assert.Equal(t, proxyAddr, c.CurrentProxy())

	// Confirm succeeds exactly once; pending state is cleared.
	err = c.Confirm(owner)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrNoPendingDelegate)
}

func TestCustodyRoutineRotationUsesLongDelay(t *testing.T) {
	c, _, clk, _ := newTestCustody(t)
	require.NoError(t, c.Unlock(owner, proxyAddr))
	clk.advance(initialDelay)
	require.NoError(t, c.Confirm(owner))

	next := chain.NamedAddress("test/proxy2")
	require.NoError(t, c.Unlock(owner, next))

	// The emergency delay is not enough for a routine rotation.
	clk.advance(initialDelay)
	err := c.Confirm(owner)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrTimelockNotElapsed)

	clk.advance(rotationDelay - initialDelay)
	require.NoError(t, c.Confirm(owner))
	assert.Equal(t, next, c.CurrentProxy())
}

func TestCustodyLockClearsPending(t *testing.T) {
	c, _, clk, _ := newTestCustody(t)
	require.NoError(t, c.Unlock(owner, proxyAddr))

	// Lock works at any time before confirmation, elapsed or not.
	clk.advance(10 * 24 * time.Hour)
	require.NoError(t, c.Lock(owner))

	err := c.Confirm(owner)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrNoPendingDelegate)
	assert.Equal(t, common.Address{}, c.CurrentProxy())
	pending, _ := c.PendingProxy()
	assert.Equal(t, common.Address{}, pending)
}

func TestCustodyOwnerGating(t *testing.T) {
	c, _, _, _ := newTestCustody(t)
	assert.ErrorIs(t, c.Unlock(stranger, proxyAddr), serrors.ErrNotOwner)
	assert.ErrorIs(t, c.Lock(stranger), serrors.ErrNotOwner)
	assert.ErrorIs(t, c.Confirm(stranger), serrors.ErrNotOwner)
}

func confirmCustody(t *testing.T, c *Custody, clk *fakeClock) {
	t.Helper()
	require.NoError(t, c.Unlock(owner, proxyAddr))
	clk.advance(initialDelay)
	require.NoError(t, c.Confirm(owner))
}

func TestCustodyClaimTokens(t *testing.T) {
	c, ledger, clk, sink := newTestCustody(t)
	confirmCustody(t, c, clk)

	require.NoError(t, ledger.Mint(token, depositor, big.NewInt(100)))
	require.NoError(t, ledger.Approve(token, depositor, custodyAddr, big.NewInt(100)))

	t.Run("only current proxy", func(t *testing.T) {
		err := c.ClaimTokens(stranger, token, depositor, receiver, big.NewInt(10))
		require.Error(t, err)
		assert.ErrorIs(t, err, serrors.ErrNotAuthorizedCaller)
	})

	t.Run("moves via standing allowance", func(t *testing.T) {
		require.NoError(t, c.ClaimTokens(proxyAddr, token, depositor, receiver, big.NewInt(10)))
		assert.Equal(t, int64(90), ledger.BalanceOf(token, depositor).Int64())
		assert.Equal(t, int64(10), ledger.BalanceOf(token, receiver).Int64())
		assert.Equal(t, int64(90), ledger.Allowance(token, depositor, custodyAddr).Int64())
	})

	t.Run("zero amount is an observable no-op", func(t *testing.T) {
		before := len(sink.events)
		require.NoError(t, c.ClaimTokens(proxyAddr, token, depositor, receiver, big.NewInt(0)))
		assert.Equal(t, int64(90), ledger.BalanceOf(token, depositor).Int64())
		require.Len(t, sink.events, before+1)
		assert.Equal(t, "claim", sink.events[before].Kind)
	})

	t.Run("zero address rejected", func(t *testing.T) {
		err := c.ClaimTokens(proxyAddr, token, depositor, [20]byte{}, big.NewInt(1))
		require.Error(t, err)
		assert.ErrorIs(t, err, serrors.ErrZeroAddress)
	})
}

func newTestProxy(t *testing.T) (*Proxy, *Custody, *chain.TokenLedger, *fakeClock) {
	t.Helper()
	c, ledger, clk, _ := newTestCustody(t)
	p := NewProxy(proxyAddr, owner, c, rotationDelay, initialDelay, zap.NewNop(), nil)
	p.now = clk.now
	return p, c, ledger, clk
}

func TestProxyAllowSetTimelock(t *testing.T) {
	p, _, _, clk := newTestProxy(t)

	require.NoError(t, p.Unlock(owner, settler))
	assert.False(t, p.IsAllowed(settler))

	err := p.Confirm(owner)
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrTimelockNotElapsed)

	clk.advance(initialDelay)
	require.NoError(t, p.Confirm(owner))
	assert.True(t, p.IsAllowed(settler))
}

func TestProxyRemovalIsImmediate(t *testing.T) {
	p, _, _, clk := newTestProxy(t)
	require.NoError(t, p.Unlock(owner, settler))
	clk.advance(initialDelay)
	require.NoError(t, p.Confirm(owner))
	require.True(t, p.IsAllowed(settler))

	// No unlock, no delay: revocation must never wait.
	require.NoError(t, p.Remove(owner, settler))
	assert.False(t, p.IsAllowed(settler))
}

func TestProxyClaimForwarding(t *testing.T) {
	p, c, ledger, clk := newTestProxy(t)
	confirmCustody(t, c, clk)
	require.NoError(t, p.Unlock(owner, settler))
	clk.advance(rotationDelay)
	require.NoError(t, p.Confirm(owner))

	require.NoError(t, ledger.Mint(token, depositor, big.NewInt(50)))
	require.NoError(t, ledger.Approve(token, depositor, custodyAddr, big.NewInt(50)))

	err := p.ClaimTokens(stranger, token, depositor, receiver, big.NewInt(5))
	require.Error(t, err)
	assert.ErrorIs(t, err, serrors.ErrNotAuthorizedCaller)

	require.NoError(t, p.ClaimTokens(settler, token, depositor, receiver, big.NewInt(5)))
	assert.Equal(t, int64(5), ledger.BalanceOf(token, receiver).Int64())
}
