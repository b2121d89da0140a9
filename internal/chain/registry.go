package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SignatureValidator is the validation entry point a contract wallet exposes.
// A conforming implementation returns ERC1271Magic for signatures it accepts.
type SignatureValidator interface {
	IsValidSignature(ctx context.Context, digest common.Hash, signature []byte) ([4]byte, error)
}

// ERC1271Magic is the fixed acceptance value a contract wallet must return
// from IsValidSignature.
var ERC1271Magic = [4]byte{0x16, 0x26, 0xba, 0x7e}

// TakerInteraction is the callback entry point a taker bot exposes. The
// settlement engine invokes it with the order's fill amounts spliced into
// data at fixed offsets; the return bytes carry the bot's declared output
// amount where the order type requires one.
type TakerInteraction interface {
	SettlementCallback(ctx context.Context, data []byte) ([]byte, error)
}

// BalanceDeltaSwap is the router-facing swap surface bot programs consume.
// It lives outside the settlement core; the engines never call it directly.
type BalanceDeltaSwap interface {
	Swap(ctx context.Context, amountIn, minAmountOut *big.Int, tokenIn, tokenOut, receiver common.Address, swapTarget common.Address, swapCalldata []byte) (*big.Int, error)
}

// AccountRegistry maps addresses to the programs deployed at them. An address
// with a registration "hosts executable logic"; a plain key-holder account has
// none. This is the single property the signature verifier dispatches on.
type AccountRegistry struct {
	programs map[common.Address]any
}

func NewAccountRegistry() *AccountRegistry {
	return &AccountRegistry{programs: make(map[common.Address]any)}
}

// Register installs a program at an address, overwriting any previous one.
func (r *AccountRegistry) Register(addr common.Address, program any) {
	r.programs[addr] = program
}

// HasCode reports whether the address hosts a program.
func (r *AccountRegistry) HasCode(addr common.Address) bool {
	_, ok := r.programs[addr]
	return ok
}

// Validator returns the address's signature-validation surface, if any.
func (r *AccountRegistry) Validator(addr common.Address) (SignatureValidator, bool) {
	v, ok := r.programs[addr].(SignatureValidator)
	return v, ok
}

// Taker returns the address's settlement-callback surface, if any.
func (r *AccountRegistry) Taker(addr common.Address) (TakerInteraction, bool) {
	t, ok := r.programs[addr].(TakerInteraction)
	return t, ok
}
