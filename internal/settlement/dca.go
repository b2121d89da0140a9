package settlement

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	serrors "github.com/axleworks/settler/common/errors"
	"github.com/axleworks/settler/internal/chain"
	"github.com/axleworks/settler/internal/delegation"
	"github.com/axleworks/settler/internal/hashing"
	"github.com/axleworks/settler/internal/signing"
	"github.com/axleworks/settler/pkg/metrics"
)

// dcaState is the per-order fill state of a DCA order: absent until the
// first fill or cancellation.
type dcaState struct {
	lastFillAt      int64
	tradesCompleted uint64
}

// DCAEngine settles recurring orders: at most NumberOfTrades fills with at
// least CycleInterval seconds between consecutive fills. Structurally the
// settlement and fee logic mirror the limit engine; only the gating differs.
type DCAEngine struct {
	self     common.Address
	exec     *chain.Executor
	hasher   *hashing.Hasher
	verifier *signing.Verifier
	proxy    *delegation.Proxy
	ledger   *chain.TokenLedger
	registry *chain.AccountRegistry

	whitelist *Whitelist
	fees      *FeeConfig

	states map[common.Hash]*dcaState

	now    func() time.Time
	logger *zap.Logger
	sink   EventSink
}

// DCAFillResult reports one committed cycle.
type DCAFillResult struct {
	OrderHash       common.Hash
	InAmount        *big.Int
	Output          *big.Int // after MaxOutPerCycle clamping
	Fee             *big.Int
	TradesCompleted uint64
}

func NewDCAEngine(
	self common.Address,
	exec *chain.Executor,
	hasher *hashing.Hasher,
	verifier *signing.Verifier,
	proxy *delegation.Proxy,
	ledger *chain.TokenLedger,
	registry *chain.AccountRegistry,
	whitelist *Whitelist,
	fees *FeeConfig,
	logger *zap.Logger,
	sink EventSink,
) *DCAEngine {
	return &DCAEngine{
		self:      self,
		exec:      exec,
		hasher:    hasher,
		verifier:  verifier,
		proxy:     proxy,
		ledger:    ledger,
		registry:  registry,
		whitelist: whitelist,
		fees:      fees,
		states:    make(map[common.Hash]*dcaState),
		now:       time.Now,
		logger:    logger,
		sink:      sink,
	}
}

func (e *DCAEngine) Address() common.Address { return e.self }

// State returns (tradesCompleted, lastFillAt) for a commitment; absent state
// reads as zeros. A read issued from inside an in-flight callback is
// rejected rather than answered with stale state.
func (e *DCAEngine) State(ctx context.Context, hash common.Hash) (uint64, int64, error) {
	_, done, err := e.exec.Begin(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer done()
	if st, ok := e.states[hash]; ok {
		return st.tradesCompleted, st.lastFillAt, nil
	}
	return 0, 0, nil
}

// Fill settles one DCA cycle. Unlike limit orders, an empty callback payload
// is invalid: sourcing the output token always requires an external swap.
func (e *DCAEngine) Fill(
	ctx context.Context,
	caller common.Address,
	order *chain.DCAOrder,
	signature []byte,
	callbackData []byte,
) (*DCAFillResult, error) {
	start := time.Now()
	txCtx, done, err := e.exec.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	res, err := e.fill(txCtx, caller, order, signature, callbackData)
	if err != nil {
		metrics.FillFailures.WithLabelValues("dca", serrors.KindOf(err).String()).Inc()
		return nil, err
	}
	metrics.FillsProcessed.WithLabelValues("dca").Inc()
	metrics.FillLatency.WithLabelValues("dca").Observe(time.Since(start).Seconds())
	return res, nil
}

func (e *DCAEngine) fill(
	ctx context.Context,
	caller common.Address,
	order *chain.DCAOrder,
	signature []byte,
	callbackData []byte,
) (*DCAFillResult, error) {
	if caller == (common.Address{}) {
		return nil, serrors.ErrZeroAddress
	}
	hash, err := e.hasher.HashDCAOrder(order)
	if err != nil {
		return nil, err
	}

	var trades uint64
	var lastFillAt int64
	if st, ok := e.states[hash]; ok {
		trades, lastFillAt = st.tradesCompleted, st.lastFillAt
	}
	if trades >= order.NumberOfTrades {
		return nil, serrors.ErrTradesExhausted
	}
	now := e.now().Unix()
	if lastFillAt != 0 && now-lastFillAt < order.CycleInterval {
		return nil, serrors.ErrCycleNotElapsed
	}
	if now >= order.Expiration {
		return nil, serrors.ErrOrderExpired
	}

	if err := e.verifier.Verify(ctx, order.Maker, hash, signature); err != nil {
		return nil, err
	}
	// Advisory pre-check; the delegated pull below enforces it authoritatively
	// but with a less specific failure reason.
	if e.ledger.BalanceOf(order.InputToken, order.Maker).Cmp(order.InAmountPerCycle) < 0 {
		return nil, serrors.ErrInsufficientMakerBalance
	}

	snap := e.ledger.Snapshot()
	prevState, hadState := e.states[hash]
	e.states[hash] = &dcaState{lastFillAt: now, tradesCompleted: trades + 1}
	revert := func() {
		e.ledger.RevertToSnapshot(snap)
		if hadState {
			e.states[hash] = prevState
		} else {
			delete(e.states, hash)
		}
	}

	if !e.whitelist.Allowed(caller) {
		revert()
		return nil, serrors.ErrCallerNotWhitelisted
	}
	patched, err := spliceDCAPayload(callbackData, order.InAmountPerCycle, order.MinOutPerCycle, order.MaxOutPerCycle)
	if err != nil {
		revert()
		return nil, err
	}

	if err := e.proxy.ClaimTokens(e.self, order.InputToken, order.Maker, caller, order.InAmountPerCycle); err != nil {
		revert()
		return nil, err
	}

	ret, err := invokeTaker(ctx, e.registry, caller, patched)
	if err != nil {
		revert()
		return nil, err
	}
	output, err := decodeDeclaredOutput(ret)
	if err != nil {
		revert()
		return nil, serrors.Wrap(serrors.KindExternalCall, "taker callback", err)
	}

	if output.Sign() <= 0 || output.Cmp(order.MinOutPerCycle) < 0 {
		revert()
		return nil, serrors.ErrFillBelowMinimum
	}
	// Over-delivery is clamped; the excess stays with the caller, the
	// protocol never claws back overflow.
	if output.Cmp(order.MaxOutPerCycle) > 0 {
		output = new(big.Int).Set(order.MaxOutPerCycle)
	}

	fee := new(big.Int).Div(new(big.Int).Mul(output, new(big.Int).SetUint64(e.fees.DCAFeeBps())), big.NewInt(BpsDenominator))
	if fee.Sign() <= 0 {
		revert()
		return nil, serrors.ErrZeroFillRejected
	}

	makerReceives := new(big.Int).Sub(output, fee)
	if err := e.ledger.Transfer(order.OutputToken, caller, order.Maker, makerReceives); err != nil {
		revert()
		return nil, serrors.Wrap(serrors.KindExternalCall, "settlement", err)
	}
	if err := e.ledger.Transfer(order.OutputToken, caller, e.fees.Recipient(), fee); err != nil {
		revert()
		return nil, serrors.Wrap(serrors.KindExternalCall, "settlement", err)
	}

	e.ledger.DiscardSnapshots()
	e.logger.Info("dca cycle filled",
		zap.String("order", hash.Hex()),
		zap.String("maker", order.Maker.Hex()),
		zap.String("taker", caller.Hex()),
		zap.Uint64("trade", trades+1),
		zap.String("in", order.InAmountPerCycle.String()),
		zap.String("out", output.String()),
		zap.String("fee", fee.String()),
	)
	emitFill(e.sink, FillEvent{
		OrderType:       "dca",
		Kind:            "fill",
		OrderHash:       hash,
		Maker:           order.Maker,
		Taker:           caller,
		FillAmount:      new(big.Int).Set(order.InAmountPerCycle),
		MakerPortion:    new(big.Int).Set(output),
		Fee:             new(big.Int).Set(fee),
		TradesCompleted: trades + 1,
		LastFillAt:      now,
	}, e.now())

	return &DCAFillResult{
		OrderHash:       hash,
		InAmount:        new(big.Int).Set(order.InAmountPerCycle),
		Output:          output,
		Fee:             fee,
		TradesCompleted: trades + 1,
	}, nil
}

// Cancel exhausts the order immediately, independent of the cooldown. The
// signature must cover the cancel digest for this order; the fill signature
// takers hold does not qualify.
func (e *DCAEngine) Cancel(ctx context.Context, caller common.Address, order *chain.DCAOrder, signature []byte) error {
	txCtx, done, err := e.exec.Begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if caller != order.Maker {
		return serrors.ErrNotMaker
	}
	hash, err := e.hasher.HashDCAOrder(order)
	if err != nil {
		return err
	}
	if err := e.verifier.Verify(txCtx, order.Maker, e.hasher.CancelDigest(hash), signature); err != nil {
		return err
	}
	if e.now().Unix() >= order.Expiration {
		return serrors.ErrOrderExpired
	}

	var lastFillAt int64
	if st, ok := e.states[hash]; ok {
		lastFillAt = st.lastFillAt
	}
	e.states[hash] = &dcaState{lastFillAt: lastFillAt, tradesCompleted: order.NumberOfTrades}
	metrics.OrdersCancelled.WithLabelValues("dca").Inc()
	e.logger.Info("dca order cancelled", zap.String("order", hash.Hex()), zap.String("maker", caller.Hex()))
	emitFill(e.sink, FillEvent{
		OrderType:       "dca",
		Kind:            "cancel",
		OrderHash:       hash,
		Maker:           order.Maker,
		TradesCompleted: order.NumberOfTrades,
		LastFillAt:      lastFillAt,
	}, e.now())
	return nil
}
