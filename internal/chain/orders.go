// Package chain holds the execution-environment primitives the settlement
// engines run against: order types, the journaled token ledger, and the
// registry of programmable accounts (contract wallets and taker bots).
package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	serrors "github.com/axleworks/settler/common/errors"
)

// LimitOrder is a maker's signed commitment to swap up to MakerAmount of
// MakerToken for up to TakerAmount of TakerToken. It is immutable once
// signed; fill state is tracked separately under the order's commitment hash.
type LimitOrder struct {
	MakerToken  common.Address
	TakerToken  common.Address
	MakerAmount *big.Int
	TakerAmount *big.Int
	Maker       common.Address
	Expiration  int64
	Salt        *big.Int
}

// Validate rejects structurally malformed orders before any hashing or
// signature work happens.
func (o *LimitOrder) Validate() error {
	if o.Maker == (common.Address{}) || o.MakerToken == (common.Address{}) || o.TakerToken == (common.Address{}) {
		return serrors.ErrZeroAddress
	}
	if !validAmount(o.MakerAmount) || !validAmount(o.TakerAmount) {
		return serrors.New(serrors.KindValidation, "limit order amounts must be positive 256-bit values")
	}
	if !validUint256(o.Salt) {
		return serrors.New(serrors.KindValidation, "limit order salt must be a non-negative 256-bit value")
	}
	return nil
}

// DCAOrder is a maker's signed commitment to a recurring swap: NumberOfTrades
// fills of InAmountPerCycle InputToken, at least CycleInterval seconds apart,
// each returning between MinOutPerCycle and MaxOutPerCycle OutputToken.
type DCAOrder struct {
	CycleInterval    int64
	NumberOfTrades   uint64
	InputToken       common.Address
	OutputToken      common.Address
	Maker            common.Address
	InAmountPerCycle *big.Int
	MinOutPerCycle   *big.Int
	MaxOutPerCycle   *big.Int
	Expiration       int64
	Salt             *big.Int
}

func (o *DCAOrder) Validate() error {
	if o.Maker == (common.Address{}) || o.InputToken == (common.Address{}) || o.OutputToken == (common.Address{}) {
		return serrors.ErrZeroAddress
	}
	if o.NumberOfTrades == 0 {
		return serrors.New(serrors.KindValidation, "dca order must allow at least one trade")
	}
	if o.CycleInterval < 0 {
		return serrors.New(serrors.KindValidation, "dca cycle interval must be non-negative")
	}
	if !validAmount(o.InAmountPerCycle) || !validAmount(o.MinOutPerCycle) {
		return serrors.New(serrors.KindValidation, "dca order amounts must be positive 256-bit values")
	}
	if o.MaxOutPerCycle == nil || o.MaxOutPerCycle.BitLen() > maxAmountBits || o.MaxOutPerCycle.Cmp(o.MinOutPerCycle) < 0 {
		return serrors.New(serrors.KindValidation, "dca max output must be a 256-bit value of at least min output")
	}
	if !validUint256(o.Salt) {
		return serrors.New(serrors.KindValidation, "dca order salt must be a non-negative 256-bit value")
	}
	return nil
}

// maxAmountBits is the uint256 width every amount and salt must fit. Wider
// values would wrap silently during abi encoding and overflow the 32-byte
// words spliced into callback payloads.
const maxAmountBits = 256

func validAmount(v *big.Int) bool  { return v != nil && v.Sign() > 0 && v.BitLen() <= maxAmountBits }
func validUint256(v *big.Int) bool { return v != nil && v.Sign() >= 0 && v.BitLen() <= maxAmountBits }

// NamedAddress derives a stable pseudo-address from a label. Used for the
// in-process system accounts (settlement engines, custody, fee receiver in
// tests) the way deployed contract addresses identify them on chain.
func NamedAddress(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label))[12:])
}
