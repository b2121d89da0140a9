// Package settlement implements the limit-order and DCA settlement state
// machines: signature-authorized fills with partial-fill/periodic-fill
// accounting, fee extraction, and atomic multi-party token movement gated on
// the taker's callback.
package settlement

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	serrors "github.com/axleworks/settler/common/errors"
)

// Fee-rate bounds in basis points. Rates are owner-mutable but always bounded
// and strictly positive.
const (
	BpsDenominator = 10_000
	MaxLimitFeeBps = 1_000 // 10%
	MaxDCAFeeBps   = 3_000 // 30%
)

// FeeConfig is the owner-gated mutable configuration shared by both engines:
// fee rates per order type and the fee receiver. It is passed into the
// engines explicitly, never read from ambient globals.
type FeeConfig struct {
	mu sync.RWMutex

	owner       common.Address
	limitFeeBps uint64
	dcaFeeBps   uint64
	recipient   common.Address
}

func NewFeeConfig(owner common.Address, limitFeeBps, dcaFeeBps uint64, recipient common.Address) (*FeeConfig, error) {
	if owner == (common.Address{}) || recipient == (common.Address{}) {
		return nil, serrors.ErrZeroAddress
	}
	if limitFeeBps == 0 || limitFeeBps > MaxLimitFeeBps {
		return nil, serrors.ErrFeeRateOutOfBounds
	}
	if dcaFeeBps == 0 || dcaFeeBps > MaxDCAFeeBps {
		return nil, serrors.ErrFeeRateOutOfBounds
	}
	return &FeeConfig{
		owner:       owner,
		limitFeeBps: limitFeeBps,
		dcaFeeBps:   dcaFeeBps,
		recipient:   recipient,
	}, nil
}

// SetLimitFeeRate updates the limit-order fee. Bounds: (0, 10%].
func (c *FeeConfig) SetLimitFeeRate(caller common.Address, bps uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return serrors.ErrNotOwner
	}
	if bps == 0 || bps > MaxLimitFeeBps {
		return serrors.ErrFeeRateOutOfBounds
	}
	c.limitFeeBps = bps
	return nil
}

// SetDCAFeeRate updates the DCA fee. Bounds: (0, 30%].
func (c *FeeConfig) SetDCAFeeRate(caller common.Address, bps uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return serrors.ErrNotOwner
	}
	if bps == 0 || bps > MaxDCAFeeBps {
		return serrors.ErrFeeRateOutOfBounds
	}
	c.dcaFeeBps = bps
	return nil
}

// SetFeeRecipient changes where extracted fees are sent.
func (c *FeeConfig) SetFeeRecipient(caller, recipient common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if caller != c.owner {
		return serrors.ErrNotOwner
	}
	if recipient == (common.Address{}) {
		return serrors.ErrZeroAddress
	}
	c.recipient = recipient
	return nil
}

func (c *FeeConfig) LimitFeeBps() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limitFeeBps
}

func (c *FeeConfig) DCAFeeBps() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dcaFeeBps
}

func (c *FeeConfig) Recipient() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recipient
}
