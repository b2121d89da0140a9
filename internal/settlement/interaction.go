package settlement

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	serrors "github.com/axleworks/settler/common/errors"
	"github.com/axleworks/settler/internal/chain"
)

// Taker callback payload layout: a 4-byte selector followed by 32-byte words.
// The engine splices the actual fill amounts over the words at these fixed
// offsets before invoking the taker, so a taker always executes against the
// amounts the settlement actually computed, not the amounts it was quoted.
const (
	selectorSize = 4
	wordSize     = 32

	limitFillAmountOffset   = selectorSize
	limitMakerPortionOffset = selectorSize + wordSize
	minLimitPayloadSize     = selectorSize + 2*wordSize

	dcaInAmountOffset = selectorSize
	dcaMinOutOffset   = selectorSize + wordSize
	dcaMaxOutOffset   = selectorSize + 2*wordSize
	minDCAPayloadSize = selectorSize + 3*wordSize
)

func spliceWord(data []byte, offset int, amount *big.Int) {
	var word [wordSize]byte
	amount.FillBytes(word[:])
	copy(data[offset:offset+wordSize], word[:])
}

// spliceLimitPayload returns a copy of data with the fill amount and maker
// portion patched in at the limit-order offsets.
func spliceLimitPayload(data []byte, fillAmount, makerPortion *big.Int) ([]byte, error) {
	if len(data) < minLimitPayloadSize {
		return nil, serrors.Wrap(serrors.KindValidation, "settlement",
			fmt.Errorf("%w: need %d bytes, got %d", serrors.ErrCallbackDataTooShort, minLimitPayloadSize, len(data)))
	}
	patched := make([]byte, len(data))
	copy(patched, data)
	spliceWord(patched, limitFillAmountOffset, fillAmount)
	spliceWord(patched, limitMakerPortionOffset, makerPortion)
	return patched, nil
}

// spliceDCAPayload returns a copy of data with the per-cycle input amount and
// output bounds patched in at the DCA offsets.
func spliceDCAPayload(data []byte, inAmount, minOut, maxOut *big.Int) ([]byte, error) {
	if len(data) < minDCAPayloadSize {
		return nil, serrors.Wrap(serrors.KindValidation, "settlement",
			fmt.Errorf("%w: need %d bytes, got %d", serrors.ErrCallbackDataTooShort, minDCAPayloadSize, len(data)))
	}
	patched := make([]byte, len(data))
	copy(patched, data)
	spliceWord(patched, dcaInAmountOffset, inAmount)
	spliceWord(patched, dcaMinOutOffset, minOut)
	spliceWord(patched, dcaMaxOutOffset, maxOut)
	return patched, nil
}

// decodeDeclaredOutput reads the taker's declared output amount from the
// first return word.
func decodeDeclaredOutput(ret []byte) (*big.Int, error) {
	if len(ret) < wordSize {
		return nil, fmt.Errorf("callback returned %d bytes, need %d", len(ret), wordSize)
	}
	return new(big.Int).SetBytes(ret[:wordSize]), nil
}

// invokeTaker runs the caller's callback entry point. The taker is untrusted:
// a panic is converted into a call failure and any error bubbles to the fill
// verbatim.
func invokeTaker(ctx context.Context, registry *chain.AccountRegistry, caller common.Address, data []byte) (ret []byte, err error) {
	taker, ok := registry.Taker(caller)
	if !ok {
		return nil, serrors.Wrap(serrors.KindExternalCall, "settlement",
			fmt.Errorf("taker %s hosts no settlement callback", caller.Hex()))
	}
	defer func() {
		if r := recover(); r != nil {
			ret = nil
			err = serrors.Wrap(serrors.KindExternalCall, "taker callback", fmt.Errorf("panic: %v", r))
		}
	}()
	ret, err = taker.SettlementCallback(ctx, data)
	if err != nil {
		return nil, serrors.Wrap(serrors.KindExternalCall, "taker callback", err)
	}
	return ret, nil
}
