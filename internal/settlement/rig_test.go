package settlement

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/axleworks/settler/internal/chain"
	"github.com/axleworks/settler/internal/delegation"
	"github.com/axleworks/settler/internal/hashing"
	"github.com/axleworks/settler/internal/signing"
)

// rig wires a full settlement stack against an in-memory ledger: custody and
// proxy bootstrapped with zero rotation delays, both engines allow-listed,
// one funded maker key and one funded taker account.
type rig struct {
	t *testing.T

	ledger   *chain.TokenLedger
	registry *chain.AccountRegistry
	exec     *chain.Executor
	hasher   *hashing.Hasher
	verifier *signing.Verifier
	custody  *delegation.Custody
	proxy    *delegation.Proxy

	limitWhitelist *Whitelist
	dcaWhitelist   *Whitelist
	fees           *FeeConfig

	limit *LimitEngine
	dca   *DCAEngine

	clock *testClock

	owner        common.Address
	feeRecipient common.Address
	makerKey     *ecdsa.PrivateKey
	maker        common.Address
	taker        common.Address

	makerToken common.Address
	takerToken common.Address

	events []FillEvent
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func (r *rig) RecordFillEvent(e FillEvent) { r.events = append(r.events, e) }

func newRig(t *testing.T, limitFeeBps, dcaFeeBps uint64) *rig {
	t.Helper()

	r := &rig{
		t:            t,
		ledger:       chain.NewTokenLedger(),
		registry:     chain.NewAccountRegistry(),
		exec:         &chain.Executor{},
		clock:        &testClock{t: time.Unix(1_700_000_000, 0)},
		owner:        chain.NamedAddress("rig/owner"),
		feeRecipient: chain.NamedAddress("rig/fees"),
		taker:        chain.NamedAddress("rig/taker"),
		makerToken:   chain.NamedAddress("rig/token/maker"),
		takerToken:   chain.NamedAddress("rig/token/taker"),
	}

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	r.makerKey = key
	r.maker = crypto.PubkeyToAddress(key.PublicKey)

	r.hasher = hashing.NewHasher(big.NewInt(1), chain.NamedAddress("rig/settler"))
	r.verifier = signing.NewVerifier(r.registry, r.owner, zap.NewNop())

	custodyAddr := chain.NamedAddress("rig/custody")
	proxyAddr := chain.NamedAddress("rig/proxy")
	r.custody = delegation.NewCustody(custodyAddr, r.owner, r.ledger, 0, 0, zap.NewNop(), nil)
	r.proxy = delegation.NewProxy(proxyAddr, r.owner, r.custody, 0, 0, zap.NewNop(), nil)

	require.NoError(t, r.custody.Unlock(r.owner, proxyAddr))
	require.NoError(t, r.custody.Confirm(r.owner))

	r.fees, err = NewFeeConfig(r.owner, limitFeeBps, dcaFeeBps, r.feeRecipient)
	require.NoError(t, err)
	r.limitWhitelist = NewWhitelist(r.owner)
	r.dcaWhitelist = NewWhitelist(r.owner)

	limitAddr := chain.NamedAddress("rig/engine/limit")
	dcaAddr := chain.NamedAddress("rig/engine/dca")
	r.limit = NewLimitEngine(limitAddr, r.exec, r.hasher, r.verifier, r.proxy, r.ledger, r.registry, r.limitWhitelist, r.fees, zap.NewNop(), r)
	r.limit.now = r.clock.now
	r.dca = NewDCAEngine(dcaAddr, r.exec, r.hasher, r.verifier, r.proxy, r.ledger, r.registry, r.dcaWhitelist, r.fees, zap.NewNop(), r)
	r.dca.now = r.clock.now

	for _, addr := range []common.Address{limitAddr, dcaAddr} {
		require.NoError(t, r.proxy.Unlock(r.owner, addr))
		require.NoError(t, r.proxy.Confirm(r.owner))
	}
	return r
}

func (r *rig) fundMaker(token common.Address, amount int64) {
	r.t.Helper()
	require.NoError(r.t, r.ledger.Mint(token, r.maker, big.NewInt(amount)))
	require.NoError(r.t, r.ledger.Approve(token, r.maker, r.custody.Address(), big.NewInt(amount)))
}

func (r *rig) fundTaker(token common.Address, amount int64) {
	r.t.Helper()
	require.NoError(r.t, r.ledger.Mint(token, r.taker, big.NewInt(amount)))
}

func (r *rig) limitOrder(makerAmount, takerAmount int64) *chain.LimitOrder {
	return &chain.LimitOrder{
		MakerToken:  r.makerToken,
		TakerToken:  r.takerToken,
		MakerAmount: big.NewInt(makerAmount),
		TakerAmount: big.NewInt(takerAmount),
		Maker:       r.maker,
		Expiration:  r.clock.now().Add(24 * time.Hour).Unix(),
		Salt:        big.NewInt(7),
	}
}

func (r *rig) dcaOrder(cycleInterval int64, trades uint64, in, minOut, maxOut int64) *chain.DCAOrder {
	return &chain.DCAOrder{
		CycleInterval:    cycleInterval,
		NumberOfTrades:   trades,
		InputToken:       r.makerToken,
		OutputToken:      r.takerToken,
		Maker:            r.maker,
		InAmountPerCycle: big.NewInt(in),
		MinOutPerCycle:   big.NewInt(minOut),
		MaxOutPerCycle:   big.NewInt(maxOut),
		Expiration:       r.clock.now().Add(30 * 24 * time.Hour).Unix(),
		Salt:             big.NewInt(11),
	}
}

func (r *rig) signLimit(order *chain.LimitOrder) []byte {
	r.t.Helper()
	hash, err := r.hasher.HashLimitOrder(order)
	require.NoError(r.t, err)
	sig, err := crypto.Sign(hash.Bytes(), r.makerKey)
	require.NoError(r.t, err)
	return sig
}

func (r *rig) signDCA(order *chain.DCAOrder) []byte {
	r.t.Helper()
	hash, err := r.hasher.HashDCAOrder(order)
	require.NoError(r.t, err)
	sig, err := crypto.Sign(hash.Bytes(), r.makerKey)
	require.NoError(r.t, err)
	return sig
}

func (r *rig) signLimitCancel(order *chain.LimitOrder) []byte {
	r.t.Helper()
	hash, err := r.hasher.HashLimitOrder(order)
	require.NoError(r.t, err)
	sig, err := crypto.Sign(r.hasher.CancelDigest(hash).Bytes(), r.makerKey)
	require.NoError(r.t, err)
	return sig
}

func (r *rig) signDCACancel(order *chain.DCAOrder) []byte {
	r.t.Helper()
	hash, err := r.hasher.HashDCAOrder(order)
	require.NoError(r.t, err)
	sig, err := crypto.Sign(r.hasher.CancelDigest(hash).Bytes(), r.makerKey)
	require.NoError(r.t, err)
	return sig
}

func (r *rig) filled(hash common.Hash) int64 {
	r.t.Helper()
	f, err := r.limit.FilledAmount(context.Background(), hash)
	require.NoError(r.t, err)
	return f.Int64()
}

func (r *rig) dcaState(hash common.Hash) (uint64, int64) {
	r.t.Helper()
	trades, lastFillAt, err := r.dca.State(context.Background(), hash)
	require.NoError(r.t, err)
	return trades, lastFillAt
}

func (r *rig) balance(token, account common.Address) int64 {
	return r.ledger.BalanceOf(token, account).Int64()
}

// takerBot is a programmable callback target registered at the rig's taker
// address.
type takerBot struct {
	rig *rig

	declaredOutput *big.Int
	err            error
	panicking      bool
	reenter        func(ctx context.Context) error
	gotData        []byte

	// settleOutput mints the declared output to the taker before returning,
	// simulating a swap that actually sources the funds.
	settleOutput common.Address
}

func (b *takerBot) SettlementCallback(ctx context.Context, data []byte) ([]byte, error) {
	b.gotData = append([]byte(nil), data...)
	if b.panicking {
		panic("bot crashed")
	}
	if b.reenter != nil {
		if err := b.reenter(ctx); err != nil {
			return nil, err
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	if b.settleOutput != (common.Address{}) && b.declaredOutput != nil {
		if err := b.rig.ledger.Mint(b.settleOutput, b.rig.taker, b.declaredOutput); err != nil {
			return nil, err
		}
	}
	ret := make([]byte, 32)
	if b.declaredOutput != nil {
		b.declaredOutput.FillBytes(ret)
	}
	return ret, nil
}

func (r *rig) installBot(bot *takerBot) *takerBot {
	bot.rig = r
	r.registry.Register(r.taker, bot)
	return bot
}

// limitPayload builds a minimally sized limit callback payload with a
// recognizable selector; the engine overwrites the two amount words.
func limitPayload() []byte {
	data := make([]byte, selectorSize+2*wordSize)
	copy(data, []byte{0xde, 0xad, 0xbe, 0xef})
	return data
}

func dcaPayload() []byte {
	data := make([]byte, selectorSize+3*wordSize)
	copy(data, []byte{0xca, 0xfe, 0xba, 0xbe})
	return data
}
