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

// LimitEngine settles single- and partial-fill limit orders. Per order it
// enforces at-most-TakerAmount cumulative fill; exhaustion is absorbing and
// indistinguishable from cancellation.
type LimitEngine struct {
	self     common.Address
	exec     *chain.Executor
	hasher   *hashing.Hasher
	verifier *signing.Verifier
	proxy    *delegation.Proxy
	ledger   *chain.TokenLedger
	registry *chain.AccountRegistry

	whitelist *Whitelist
	fees      *FeeConfig

	// filled taker amount per order commitment; absent means never filled.
	fills map[common.Hash]*big.Int

	now    func() time.Time
	logger *zap.Logger
	sink   EventSink
}

// LimitFillResult reports what a committed fill actually moved.
type LimitFillResult struct {
	OrderHash    common.Hash
	ActualFill   *big.Int
	MakerPortion *big.Int
	Fee          *big.Int
	FilledTotal  *big.Int
}

func NewLimitEngine(
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
) *LimitEngine {
	return &LimitEngine{
		self:      self,
		exec:      exec,
		hasher:    hasher,
		verifier:  verifier,
		proxy:     proxy,
		ledger:    ledger,
		registry:  registry,
		whitelist: whitelist,
		fees:      fees,
		fills:     make(map[common.Hash]*big.Int),
		now:       time.Now,
		logger:    logger,
		sink:      sink,
	}
}

// Address returns the engine's own address; it must be in the proxy
// allow-set before any pull can succeed.
func (e *LimitEngine) Address() common.Address { return e.self }

// FilledAmount returns the cumulative filled taker amount for a commitment.
// Absent state reads as zero, which is a valid starting state, not an error.
// A read issued from inside an in-flight callback is rejected rather than
// answered with stale state.
func (e *LimitEngine) FilledAmount(ctx context.Context, hash common.Hash) (*big.Int, error) {
	_, done, err := e.exec.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	if f, ok := e.fills[hash]; ok {
		return new(big.Int).Set(f), nil
	}
	return new(big.Int), nil
}

// Fill settles up to requestedFill taker units against the order.
//
// The requested amount is clamped to remaining capacity; the maker portion is
// requested*MakerAmount/TakerAmount with truncating division, a deliberate
// rounding policy that favors the protocol over the maker by at most one
// indivisible unit per fill.
func (e *LimitEngine) Fill(
	ctx context.Context,
	caller common.Address,
	order *chain.LimitOrder,
	signature []byte,
	requestedFill, minAcceptableFill *big.Int,
	callbackData []byte,
) (*LimitFillResult, error) {
	start := time.Now()
	txCtx, done, err := e.exec.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	res, err := e.fill(txCtx, caller, order, signature, requestedFill, minAcceptableFill, callbackData)
	if err != nil {
		metrics.FillFailures.WithLabelValues("limit", serrors.KindOf(err).String()).Inc()
		return nil, err
	}
	metrics.FillsProcessed.WithLabelValues("limit").Inc()
	metrics.FillLatency.WithLabelValues("limit").Observe(time.Since(start).Seconds())
	return res, nil
}

func (e *LimitEngine) fill(
	ctx context.Context,
	caller common.Address,
	order *chain.LimitOrder,
	signature []byte,
	requestedFill, minAcceptableFill *big.Int,
	callbackData []byte,
) (*LimitFillResult, error) {
	if caller == (common.Address{}) {
		return nil, serrors.ErrZeroAddress
	}
	if (requestedFill != nil && requestedFill.BitLen() > 256) ||
		(minAcceptableFill != nil && minAcceptableFill.BitLen() > 256) {
		return nil, serrors.New(serrors.KindValidation, "fill amounts must fit 256 bits")
	}
	hash, err := e.hasher.HashLimitOrder(order)
	if err != nil {
		return nil, err
	}

	filled := new(big.Int)
	if f, ok := e.fills[hash]; ok {
		filled.Set(f)
	}
	if filled.Cmp(order.TakerAmount) >= 0 {
		return nil, serrors.ErrAlreadyFilled
	}

	if err := e.verifier.Verify(ctx, order.Maker, hash, signature); err != nil {
		return nil, err
	}
	if e.now().Unix() >= order.Expiration {
		return nil, serrors.ErrOrderExpired
	}

	remaining := new(big.Int).Sub(order.TakerAmount, filled)
	actualFill := new(big.Int)
	if requestedFill == nil || requestedFill.Cmp(remaining) > 0 {
		actualFill.Set(remaining)
	} else {
		actualFill.Set(requestedFill)
	}
	makerPortion := new(big.Int).Div(new(big.Int).Mul(actualFill, order.MakerAmount), order.TakerAmount)
	fee := new(big.Int).Div(new(big.Int).Mul(actualFill, new(big.Int).SetUint64(e.fees.LimitFeeBps())), big.NewInt(BpsDenominator))

	// A fill too small to produce a nonzero fee is rejected outright, never
	// silently waived.
	if actualFill.Sign() <= 0 || makerPortion.Sign() <= 0 || fee.Sign() <= 0 {
		return nil, serrors.ErrZeroFillRejected
	}
	if minAcceptableFill != nil && actualFill.Cmp(minAcceptableFill) < 0 {
		return nil, serrors.ErrSlippageExceeded
	}

	// Effects before interactions: fill state is persisted ahead of every
	// external call, then unwound together with the ledger on any rejection.
	snap := e.ledger.Snapshot()
	prevFilled, hadState := e.fills[hash]
	filledTotal := new(big.Int).Add(filled, actualFill)
	e.fills[hash] = filledTotal
	revert := func() {
		e.ledger.RevertToSnapshot(snap)
		if hadState {
			e.fills[hash] = prevFilled
		} else {
			delete(e.fills, hash)
		}
	}

	// Pull the maker's side through the delegation layer.
	if err := e.proxy.ClaimTokens(e.self, order.MakerToken, order.Maker, caller, makerPortion); err != nil {
		revert()
		return nil, err
	}

	if len(callbackData) > 0 {
		if !e.whitelist.Allowed(caller) {
			revert()
			return nil, serrors.ErrCallerNotWhitelisted
		}
		patched, err := spliceLimitPayload(callbackData, actualFill, makerPortion)
		if err != nil {
			revert()
			return nil, err
		}
		if _, err := invokeTaker(ctx, e.registry, caller, patched); err != nil {
			revert()
			return nil, err
		}
	}

	// The callback result is untrusted; only the resulting balance counts.
	if e.ledger.BalanceOf(order.TakerToken, caller).Cmp(actualFill) < 0 {
		revert()
		return nil, serrors.ErrInsufficientTakerBalance
	}

	makerReceives := new(big.Int).Sub(actualFill, fee)
	if err := e.ledger.Transfer(order.TakerToken, caller, order.Maker, makerReceives); err != nil {
		revert()
		return nil, serrors.Wrap(serrors.KindExternalCall, "settlement", err)
	}
	if err := e.ledger.Transfer(order.TakerToken, caller, e.fees.Recipient(), fee); err != nil {
		revert()
		return nil, serrors.Wrap(serrors.KindExternalCall, "settlement", err)
	}

	e.ledger.DiscardSnapshots()
	e.logger.Info("limit order filled",
		zap.String("order", hash.Hex()),
		zap.String("maker", order.Maker.Hex()),
		zap.String("taker", caller.Hex()),
		zap.String("fill", actualFill.String()),
		zap.String("maker_portion", makerPortion.String()),
		zap.String("fee", fee.String()),
	)
	emitFill(e.sink, FillEvent{
		OrderType:    "limit",
		Kind:         "fill",
		OrderHash:    hash,
		Maker:        order.Maker,
		Taker:        caller,
		FillAmount:   new(big.Int).Set(actualFill),
		MakerPortion: new(big.Int).Set(makerPortion),
		Fee:          new(big.Int).Set(fee),
		FilledTotal:  new(big.Int).Set(filledTotal),
	}, e.now())

	return &LimitFillResult{
		OrderHash:    hash,
		ActualFill:   actualFill,
		MakerPortion: makerPortion,
		Fee:          fee,
		FilledTotal:  filledTotal,
	}, nil
}

// Cancel exhausts the order immediately. Only the maker may cancel: the
// signature must cover the cancel digest for this order, which only the
// maker can produce. The fill signature every taker already holds does not
// qualify.
func (e *LimitEngine) Cancel(ctx context.Context, caller common.Address, order *chain.LimitOrder, signature []byte) error {
	txCtx, done, err := e.exec.Begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if caller != order.Maker {
		return serrors.ErrNotMaker
	}
	hash, err := e.hasher.HashLimitOrder(order)
	if err != nil {
		return err
	}
	if err := e.verifier.Verify(txCtx, order.Maker, e.hasher.CancelDigest(hash), signature); err != nil {
		return err
	}
	if e.now().Unix() >= order.Expiration {
		return serrors.ErrOrderExpired
	}

	// Exhaustion is cancellation: no separate flag exists or is observable.
	e.fills[hash] = new(big.Int).Set(order.TakerAmount)
	metrics.OrdersCancelled.WithLabelValues("limit").Inc()
	e.logger.Info("limit order cancelled", zap.String("order", hash.Hex()), zap.String("maker", caller.Hex()))
	emitFill(e.sink, FillEvent{
		OrderType:   "limit",
		Kind:        "cancel",
		OrderHash:   hash,
		Maker:       order.Maker,
		FilledTotal: new(big.Int).Set(order.TakerAmount),
	}, e.now())
	return nil
}
